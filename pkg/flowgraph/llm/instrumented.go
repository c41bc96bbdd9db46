package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/randalmurphal/paperflow/pkg/flowgraph/observability"
)

// Instrumented records a log line, a metric sample and a span for every
// request passed to the wrapped Client and Embedder.
type Instrumented struct {
	client   Client
	embedder Embedder
	model    string
	embModel string
	logger   *slog.Logger
	metrics  observability.MetricsRecorder
}

// InstrumentOption configures Instrumented.
type InstrumentOption func(*Instrumented)

// WithInstrumentLogger sets the logger. Defaults to slog.Default().
func WithInstrumentLogger(logger *slog.Logger) InstrumentOption {
	return func(i *Instrumented) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithInstrumentMetrics sets the recorder. Defaults to NoopMetrics.
func WithInstrumentMetrics(m observability.MetricsRecorder) InstrumentOption {
	return func(i *Instrumented) {
		if m != nil {
			i.metrics = m
		}
	}
}

// WithModelNames sets the model labels used when a request names none.
func WithModelNames(chat, embedding string) InstrumentOption {
	return func(i *Instrumented) {
		i.model = chat
		i.embModel = embedding
	}
}

// NewInstrumented wraps client and embedder. Either may be nil when only
// one side is used.
func NewInstrumented(client Client, embedder Embedder, opts ...InstrumentOption) *Instrumented {
	i := &Instrumented{
		client:   client,
		embedder: embedder,
		logger:   slog.Default(),
		metrics:  observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Instrumented) observe(ctx context.Context, op, model string, start time.Time, tokens int, err error) {
	d := time.Since(start)
	i.metrics.RecordLLMCall(ctx, op, model, d, tokens, err)
	observability.LogLLMCall(i.logger, op, model, d, tokens, err)
}

// Complete implements Client.
func (i *Instrumented) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = i.model
	}
	ctx, span := observability.StartLLMSpan(ctx, "complete", model)
	start := time.Now()

	resp, err := i.client.Complete(ctx, req)
	tokens := 0
	if resp != nil {
		tokens = resp.Usage.TotalTokens
	}
	i.observe(ctx, "complete", model, start, tokens, err)
	observability.EndSpanWithError(span, err)
	return resp, err
}

// Stream implements Client. The sample is recorded when the stream ends.
func (i *Instrumented) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	model := req.Model
	if model == "" {
		model = i.model
	}
	ctx, span := observability.StartLLMSpan(ctx, "stream", model)
	start := time.Now()

	in, err := i.client.Stream(ctx, req)
	if err != nil {
		i.observe(ctx, "stream", model, start, 0, err)
		observability.EndSpanWithError(span, err)
		return nil, err
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		var (
			tokens int
			serr   error
		)
		for chunk := range in {
			if chunk.Usage != nil {
				tokens = chunk.Usage.TotalTokens
			}
			if chunk.Error != nil {
				serr = chunk.Error
			}
			out <- chunk
		}
		i.observe(ctx, "stream", model, start, tokens, serr)
		observability.EndSpanWithError(span, serr)
	}()
	return out, nil
}

// Embed implements Embedder.
func (i *Instrumented) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	ctx, span := observability.StartLLMSpan(ctx, "embed", i.embModel)
	start := time.Now()

	vecs, err := i.embedder.Embed(ctx, texts)
	tokens := 0
	for _, t := range texts {
		tokens += approxTokens(t)
	}
	i.observe(ctx, "embed", i.embModel, start, tokens, err)
	observability.EndSpanWithError(span, err)
	return vecs, err
}
