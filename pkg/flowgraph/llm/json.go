package llm

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	fgerrors "github.com/randalmurphal/paperflow/pkg/flowgraph/errors"
)

var (
	fencePattern = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	validate     = validator.New(validator.WithRequiredStructEnabled())
)

// ParseFenced decodes the first ```json fenced block of content into T and
// validates it against T's validate tags. Content without a fence is
// rejected with ErrNoJSON. Every failure is categorized as malformed.
func ParseFenced[T any](content string) (T, error) {
	var zero T
	m := fencePattern.FindStringSubmatch(content)
	if m == nil {
		return zero, fgerrors.Malformed(ErrNoJSON, "")
	}
	return decodeAndValidate[T](m[1])
}

// ParseJSON decodes a JSON-mode response into T and validates it. Some
// providers wrap JSON-mode output in a fence or prose anyway, so a fenced
// block is preferred and otherwise the outermost {...} span is used.
func ParseJSON[T any](content string) (T, error) {
	var zero T
	if m := fencePattern.FindStringSubmatch(content); m != nil {
		return decodeAndValidate[T](m[1])
	}
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end < start {
		return zero, fgerrors.Malformed(ErrNoJSON, "")
	}
	return decodeAndValidate[T](content[start : end+1])
}

func decodeAndValidate[T any](raw string) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		var zero T
		return zero, fgerrors.Malformed(err, "decode response")
	}
	if err := Validate(v); err != nil {
		var zero T
		return zero, fgerrors.Malformed(err, "")
	}
	return v, nil
}

// Validate checks v against its validate tags. Non-struct values pass.
func Validate(v any) error {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}
	return nil
}
