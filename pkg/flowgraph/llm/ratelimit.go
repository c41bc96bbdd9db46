package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited shares one token bucket between a Client and an Embedder so
// every provider request of the process waits for the same budget.
type RateLimited struct {
	limiter  *rate.Limiter
	client   Client
	embedder Embedder
}

// NewRateLimited wraps client and embedder (either may be nil) with a
// limiter allowing rps requests per second and bursts of burst.
func NewRateLimited(client Client, embedder Embedder, rps float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		client:   client,
		embedder: embedder,
	}
}

// Complete implements Client.
func (r *RateLimited) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.client.Complete(ctx, req)
}

// Stream implements Client.
func (r *RateLimited) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.client.Stream(ctx, req)
}

// Embed implements Embedder.
func (r *RateLimited) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.embedder.Embed(ctx, texts)
}
