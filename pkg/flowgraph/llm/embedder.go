package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"golang.org/x/sync/errgroup"
)

// Embedding batch limits. Token counts are estimated as len/4.
const (
	MaxBatchInputs = 100
	MaxBatchTokens = 8192
)

// OpenAIEmbedder is an Embedder for OpenAI-compatible embedding APIs.
type OpenAIEmbedder struct {
	client      openai.Client
	cfg         openAIConfig
	concurrency int
}

// NewOpenAIEmbedder builds an embedder. The default model is
// "openai/text-embedding-3-small" with 1536 dimensions.
func NewOpenAIEmbedder(opts ...OpenAIOption) *OpenAIEmbedder {
	cfg := newOpenAIConfig("openai/text-embedding-3-small", opts)
	if cfg.dimensions == 0 {
		cfg.dimensions = 1536
	}
	return &OpenAIEmbedder{
		client:      openai.NewClient(cfg.requestOptions()...),
		cfg:         cfg,
		concurrency: 4,
	}
}

// Model returns the embedding model.
func (e *OpenAIEmbedder) Model() string {
	return e.cfg.model
}

// Embed implements Embedder. Texts are split into batches by Batches and
// the batches are requested concurrently.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, b := range Batches(texts, MaxBatchInputs, MaxBatchTokens) {
		g.Go(func() error {
			vecs, err := e.embedBatch(gctx, texts[b.Start:b.End])
			if err != nil {
				return err
			}
			copy(out[b.Start:b.End], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(e.cfg.model),
	}
	if e.cfg.dimensions > 0 {
		params.Dimensions = openai.Int(int64(e.cfg.dimensions))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, wrapProviderError("embed", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, NewError("embed",
			fmt.Errorf("%w: got %d vectors for %d inputs", ErrEmptyResponse, len(resp.Data), len(texts)), true)
	}

	vecs := make([][]float64, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(texts) {
			return nil, NewError("embed", fmt.Errorf("vector index %d out of range", d.Index), false)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

// Batch is a half-open range [Start, End) of the input slice.
type Batch struct {
	Start, End int
}

// Batches splits texts into consecutive ranges holding at most maxInputs
// texts and about maxTokens estimated tokens. A single text larger than
// maxTokens gets a batch of its own.
func Batches(texts []string, maxInputs, maxTokens int) []Batch {
	var (
		out    []Batch
		start  int
		tokens int
	)
	for i, text := range texts {
		t := approxTokens(text)
		full := i-start >= maxInputs || (i > start && tokens+t > maxTokens)
		if full {
			out = append(out, Batch{Start: start, End: i})
			start, tokens = i, 0
		}
		tokens += t
	}
	if start < len(texts) {
		out = append(out, Batch{Start: start, End: len(texts)})
	}
	return out
}
