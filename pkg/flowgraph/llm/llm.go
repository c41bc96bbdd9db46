// Package llm is the boundary between pipelines and language-model providers.
//
// Pipelines depend on the Client and Embedder interfaces only. OpenAIClient and
// OpenAIEmbedder talk to any OpenAI-compatible endpoint (OpenAI, OpenRouter);
// RateLimited and Instrumented wrap either side; MockClient and MockEmbedder
// serve tests.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Client completes chat prompts.
// Implementations must be safe for concurrent use.
type Client interface {
	// Complete sends a request and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Stream sends a request and returns a channel of partial responses.
	// The channel is closed after the final chunk (Done or Error set).
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)
}

// Embedder turns texts into vectors. The result has one vector per input,
// in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Sentinel errors.
var (
	// ErrEmptyResponse indicates the provider returned no choices or vectors.
	ErrEmptyResponse = errors.New("empty response from provider")

	// ErrNoJSON indicates a response did not contain a JSON payload.
	ErrNoJSON = errors.New("no JSON found in response")
)

// Error wraps a provider failure with the operation that caused it.
type Error struct {
	// Op is "complete", "stream" or "embed".
	Op string
	// Err is the underlying error.
	Err error
	// Retryable reports whether repeating the call may succeed.
	Retryable bool
}

// NewError builds an Error.
func NewError(op string, err error, retryable bool) *Error {
	return &Error{Op: op, Err: err, Retryable: retryable}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("llm %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Transient reports whether the call is worth retrying; the flowgraph
// errors package reads it through Categorize.
func (e *Error) Transient() bool {
	return e.Retryable
}

// IsRetryable reports whether err is an Error marked retryable.
func IsRetryable(err error) bool {
	var llmErr *Error
	return errors.As(err, &llmErr) && llmErr.Retryable
}
