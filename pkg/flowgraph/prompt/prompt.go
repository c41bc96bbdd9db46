package prompt

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// placeholder matches ${name}; name is an identifier.
var placeholder = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// ErrEmptyTemplate is returned by New for a template without text.
var ErrEmptyTemplate = errors.New("empty prompt template")

// segment is either literal text or a variable reference.
type segment struct {
	text string
	name string
}

// Template is a parsed prompt template.
type Template struct {
	name     string
	segments []segment
	vars     []string
	missing  MissingAction
}

// New parses text into a Template. The name appears in render errors.
func New(name, text string, opts ...Option) (*Template, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("prompt %q: %w", name, ErrEmptyTemplate)
	}

	t := &Template{name: name}
	for _, opt := range opts {
		opt(t)
	}

	seen := make(map[string]bool)
	last := 0
	for _, m := range placeholder.FindAllStringSubmatchIndex(text, -1) {
		if m[0] > last {
			t.segments = append(t.segments, segment{text: text[last:m[0]]})
		}
		v := text[m[2]:m[3]]
		t.segments = append(t.segments, segment{name: v})
		if !seen[v] {
			seen[v] = true
			t.vars = append(t.vars, v)
		}
		last = m[1]
	}
	if last < len(text) {
		t.segments = append(t.segments, segment{text: text[last:]})
	}
	return t, nil
}

// Must panics if err is non-nil. It is meant for package-level templates.
func Must(t *Template, err error) *Template {
	if err != nil {
		panic(fmt.Sprintf("prompt: %v", err))
	}
	return t
}

// Name returns the template name.
func (t *Template) Name() string { return t.name }

// Vars returns the distinct placeholder names in order of first use.
func (t *Template) Vars() []string {
	out := make([]string, len(t.vars))
	copy(out, t.vars)
	return out
}

// Render substitutes vars into the template. Values are formatted with %v.
func (t *Template) Render(vars map[string]any) (string, error) {
	var (
		b       strings.Builder
		missing []string
	)
	for _, seg := range t.segments {
		if seg.name == "" {
			b.WriteString(seg.text)
			continue
		}
		if val, ok := vars[seg.name]; ok {
			fmt.Fprintf(&b, "%v", val)
			continue
		}
		switch t.missing {
		case MissingKeep:
			b.WriteString("${" + seg.name + "}")
		case MissingEmpty:
		default:
			missing = append(missing, seg.name)
		}
	}
	if len(missing) > 0 {
		return "", &UndefinedVariableError{Template: t.name, Names: missing}
	}
	return b.String(), nil
}

// MustRender is Render for callers that always pass every variable.
func (t *Template) MustRender(vars map[string]any) string {
	s, err := t.Render(vars)
	if err != nil {
		panic(err.Error())
	}
	return s
}

// UndefinedVariableError is returned by Render when placeholders have no value.
type UndefinedVariableError struct {
	Template string
	Names    []string
}

// Error implements the error interface.
func (e *UndefinedVariableError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("prompt %s: undefined variable: %s", e.Template, e.Names[0])
	}
	return fmt.Sprintf("prompt %s: undefined variables: %s", e.Template, strings.Join(e.Names, ", "))
}
