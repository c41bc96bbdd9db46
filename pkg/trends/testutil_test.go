package trends

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/paperflow/pkg/docstore"
	"github.com/randalmurphal/paperflow/pkg/docstore/memory"
	"github.com/randalmurphal/paperflow/pkg/flowgraph"
	"github.com/randalmurphal/paperflow/pkg/flowgraph/llm"
)

// testNow is the fixed clock of pipeline tests: the weekly window is
// [June 8 12:00, June 15 12:00) and the previous one the week before.
var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

const diffusionAbstract = "We present a diffusion model for image synthesis that improves sample quality with fewer denoising steps."

func testCtx() flowgraph.Context {
	return flowgraph.NewContext(context.Background())
}

func cites(n int) *int { return &n }

func paper(id, title, abstract string, published time.Time, citations int, authors ...string) docstore.Paper {
	p := docstore.Paper{
		ID:              id,
		Title:           title,
		Abstract:        abstract,
		Categories:      []string{"cs.LG"},
		PrimaryCategory: "cs.LG",
		PublishedDate:   published,
		CitationCount:   cites(citations),
	}
	for _, a := range authors {
		p.Authors = append(p.Authors, docstore.Author{Name: a})
	}
	return p
}

// diffusionCorpus is five current-period diffusion papers and four
// previous-period papers of which one mentions diffusion. Run-level growth
// is 0.25 (momentum 0.5); the diffusion topic grows from 1 to 5.
func diffusionCorpus() (current, previous []docstore.Paper) {
	for i := range 5 {
		current = append(current, paper(
			fmt.Sprintf("cur-%d", i),
			fmt.Sprintf("Diffusion paper %d", i),
			diffusionAbstract,
			time.Date(2025, 6, 10+i, 9, 0, 0, 0, time.UTC),
			i*3,
			fmt.Sprintf("author-%d", i), "shared-author",
		))
	}
	previous = []docstore.Paper{
		paper("prev-0", "Old diffusion", "An early diffusion baseline.", time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC), 1, "old-a"),
		paper("prev-1", "Graph nets", "Message passing over molecular graphs.", time.Date(2025, 6, 4, 9, 0, 0, 0, time.UTC), 2, "old-b"),
		paper("prev-2", "Bandits", "Regret bounds for contextual bandits.", time.Date(2025, 6, 5, 9, 0, 0, 0, time.UTC), 0, "old-c"),
		paper("prev-3", "Tokenizers", "Subword tokenization revisited for multilingual corpora.", time.Date(2025, 6, 6, 9, 0, 0, 0, time.UTC), 4, "old-d"),
	}
	return current, previous
}

func seedStore(t *testing.T, papers ...[]docstore.Paper) *docstore.DB {
	t.Helper()
	store := memory.NewStore()
	for _, set := range papers {
		for _, p := range set {
			_, err := store.PutPaper(context.Background(), &p)
			require.NoError(t, err)
		}
	}
	return store
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// scriptedLLM answers each prompt kind of the pipeline.
func scriptedLLM(label string, keywords []string, forecast string) *llm.MockClient {
	return llm.NewMockClient("").WithCompleteFunc(func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		text := req.Messages[0].Content
		switch {
		case strings.Contains(text, "same topic cluster"):
			return &llm.CompletionResponse{Content: mustJSON(map[string]any{"label": label, "keywords": keywords})}, nil
		case strings.Contains(text, "Extract ML/AI entities"):
			return &llm.CompletionResponse{Content: `{"methods":["Diffusion"],"datasets":["ImageNet"],"metrics":["FID"],"models":["U-Net"]}`}, nil
		case strings.Contains(text, "predict its future direction"):
			return &llm.CompletionResponse{Content: forecast}, nil
		}
		return nil, fmt.Errorf("unexpected prompt: %.40s", text)
	})
}
