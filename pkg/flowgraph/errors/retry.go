package errors

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig bounds how often and how patiently an operation is retried.
type RetryConfig struct {
	// MaxAttempts counts the first call. Values below 1 mean 1.
	MaxAttempts int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64

	// Jitter spreads each wait by up to ±Jitter of its length (0 to 1).
	Jitter float64

	// Retryable overrides IsRetryable.
	Retryable func(error) bool
}

// DefaultRetry suits store and embedding calls inside a pipeline node.
var DefaultRetry = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     10 * time.Second,
	BackoffFactor:  2,
	Jitter:         0.1,
}

// NoRetry runs the operation once.
var NoRetry = RetryConfig{MaxAttempts: 1}

// RetryOption adjusts a RetryConfig.
type RetryOption func(*RetryConfig)

func WithMaxAttempts(n int) RetryOption {
	return func(c *RetryConfig) { c.MaxAttempts = n }
}

func WithInitialBackoff(d time.Duration) RetryOption {
	return func(c *RetryConfig) { c.InitialBackoff = d }
}

func WithMaxBackoff(d time.Duration) RetryOption {
	return func(c *RetryConfig) { c.MaxBackoff = d }
}

func WithBackoffFactor(f float64) RetryOption {
	return func(c *RetryConfig) { c.BackoffFactor = f }
}

func WithJitter(j float64) RetryOption {
	return func(c *RetryConfig) { c.Jitter = j }
}

// WithRetryable replaces the retryability check.
func WithRetryable(fn func(error) bool) RetryOption {
	return func(c *RetryConfig) { c.Retryable = fn }
}

// NewRetryConfig starts from DefaultRetry and applies opts.
func NewRetryConfig(opts ...RetryOption) RetryConfig {
	cfg := DefaultRetry
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// RetryResult is the outcome of WithRetryContext. Err, when set, is a
// *CategorizedError carrying the attempt count.
type RetryResult[T any] struct {
	Value    T
	Err      error
	Attempts int
	Duration time.Duration
}

// WithRetryContext calls fn until it succeeds, returns an error that is not
// retryable, or uses up cfg.MaxAttempts. Waits between attempts grow by
// BackoffFactor up to MaxBackoff. A done ctx stops the loop before the next
// attempt or during a wait.
func WithRetryContext[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) RetryResult[T] {
	start := time.Now()
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	attempts := max(cfg.MaxAttempts, 1)
	backoff := cfg.InitialBackoff

	done := func(n int, err error, c Category) RetryResult[T] {
		return RetryResult[T]{
			Err:      &CategorizedError{Err: err, Category: c, Attempts: n},
			Attempts: n,
			Duration: time.Since(start),
		}
	}

	var lastErr error
	for n := range attempts {
		if err := ctx.Err(); err != nil {
			return done(n, err, CategoryPermanent)
		}

		v, err := fn(ctx)
		if err == nil {
			return RetryResult[T]{Value: v, Attempts: n + 1, Duration: time.Since(start)}
		}
		lastErr = err
		if !retryable(err) {
			return done(n+1, err, Categorize(err))
		}
		if n == attempts-1 {
			break
		}

		timer := time.NewTimer(jittered(backoff, cfg.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return done(n+1, ctx.Err(), CategoryPermanent)
		case <-timer.C:
		}
		backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
		if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}
	return done(attempts, lastErr, Categorize(lastErr))
}

func jittered(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 || d <= 0 {
		return d
	}
	return time.Duration(float64(d) * (1 + jitter*(rand.Float64()*2-1)))
}
