// Package errors classifies failures from external calls and retries the
// transient ones with exponential backoff.
//
// Pipelines wrap store, embedding and LLM calls in WithRetryContext and
// record the Category of whatever still fails:
//
//	res := errors.WithRetryContext(ctx, cfg, func(ctx context.Context) ([]*docstore.Paper, error) {
//	    return store.ListPapers(ctx, q)
//	})
//	if res.Err != nil {
//	    log.Warn("gave up", "category", errors.Categorize(res.Err), "attempts", res.Attempts)
//	}
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Category says whether repeating a failed operation can help.
type Category int

const (
	// CategoryPermanent: the same call will fail again (bad input,
	// missing document, auth failure, cancellation). Unknown errors land
	// here.
	CategoryPermanent Category = iota

	// CategoryTransient: rate limits, timeouts, provider 5xx.
	CategoryTransient

	// CategoryMalformed: the call worked but its output could not be
	// parsed or validated. Asking again may give a usable answer.
	CategoryMalformed
)

func (c Category) String() string {
	switch c {
	case CategoryPermanent:
		return "permanent"
	case CategoryTransient:
		return "transient"
	case CategoryMalformed:
		return "malformed"
	}
	return "unknown"
}

// CategorizedError pins a category on err. Attempts is how many times the
// operation ran before giving up, 0 when it was never retried.
type CategorizedError struct {
	Err      error
	Category Category
	Context  string
	Attempts int
}

func (e *CategorizedError) Error() string {
	msg := e.Err.Error()
	if e.Context != "" {
		msg = e.Context + ": " + msg
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" (%s, %d attempts)", e.Category, e.Attempts)
	}
	return msg
}

func (e *CategorizedError) Unwrap() error { return e.Err }

// Transient marks err as worth retrying. A nil err stays nil.
func Transient(err error, op string) error {
	return categorized(err, CategoryTransient, op)
}

// Permanent marks err as not worth retrying. A nil err stays nil.
func Permanent(err error, op string) error {
	return categorized(err, CategoryPermanent, op)
}

// Malformed marks err as an unusable response. A nil err stays nil.
func Malformed(err error, op string) error {
	return categorized(err, CategoryMalformed, op)
}

func categorized(err error, c Category, op string) error {
	if err == nil {
		return nil
	}
	return &CategorizedError{Err: err, Category: c, Context: op}
}

// transient is implemented by errors that know whether they are worth
// retrying, such as llm.Error.
type transient interface {
	Transient() bool
}

// timeout is implemented by net.Error.
type timeout interface {
	Timeout() bool
}

// Categorize decides how err should be handled. The outermost explicit
// category wins; otherwise the error chain is inspected.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent
	}

	var cat *CategorizedError
	if errors.As(err, &cat) {
		return cat.Category
	}

	if errors.Is(err, context.Canceled) {
		return CategoryPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}

	var t transient
	if errors.As(err, &t) {
		if t.Transient() {
			return CategoryTransient
		}
		return CategoryPermanent
	}
	var to timeout
	if errors.As(err, &to) && to.Timeout() {
		return CategoryTransient
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return CategoryMalformed
	}

	return CategoryPermanent
}

// IsRetryable reports whether err is transient.
func IsRetryable(err error) bool {
	return err != nil && Categorize(err) == CategoryTransient
}
