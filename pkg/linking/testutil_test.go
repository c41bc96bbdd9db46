package linking

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/paperflow/pkg/docstore"
	"github.com/randalmurphal/paperflow/pkg/docstore/memory"
	"github.com/randalmurphal/paperflow/pkg/flowgraph"
	"github.com/randalmurphal/paperflow/pkg/flowgraph/llm"
)

const (
	problemID   = "prob-1"
	problemText = "Slow checkout\n\nCheckout latency spikes under peak load."
)

func testCtx() flowgraph.Context {
	return flowgraph.NewContext(context.Background())
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

func fenced(body string) string {
	return "Here is my assessment.\n```json\n" + body + "\n```"
}

func scoreBody(scores map[string]any) string {
	return fenced(mustJSON(map[string]any{
		"scores":                 scores,
		"matchRationale":         "The paper targets the same bottleneck.",
		"keyInsights":            []string{"hit rate drives tail latency"},
		"applicationSuggestions": []string{"cache rendered carts"},
	}))
}

func scores(fit, rest float64) map[string]any {
	return map[string]any{
		"technicalFit": fit, "trlGap": rest, "timeToValue": rest, "novelty": rest, "evidenceStrength": rest,
	}
}

// reportBody cites paper1 and an out-of-range paper7.
func reportBody(priority string) string {
	return fenced(mustJSON(map[string]any{
		"title":            "Cutting checkout latency",
		"executiveSummary": "Cache aggressively and shape queues.",
		"sections": []map[string]any{
			{"title": "Research Findings", "content": "Caching helps.", "paperIds": []string{"paper1", "paper7"}},
		},
		"recommendations": []map[string]any{
			{"title": "Add a cache", "description": "Cache cart pages.", "priority": priority, "effort": "medium", "paperIds": []string{"paper1"}},
		},
	}))
}

// fixture seeds one problem and four insights. The caching and queueing
// papers score as direct and methodology matches, the poetry paper gets an
// invalid score and one insight points at a paper that no longer exists.
type fixture struct {
	store    *docstore.DB
	embedder *llm.MockEmbedder
}

func newFixture(t *testing.T, withInsights bool) fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	_, err := store.PutProblem(ctx, &docstore.Problem{
		ID:          problemID,
		Title:       "Slow checkout",
		Description: "Checkout latency spikes under peak load.",
		Category:    "performance",
		Severity:    "high",
	})
	require.NoError(t, err)

	for _, p := range []docstore.Paper{
		{ID: "paper-a", Title: "Adaptive caching for web backends"},
		{ID: "paper-b", Title: "Queueing models of request latency"},
		{ID: "paper-c", Title: "Sonnets of the sea"},
	} {
		_, err := store.PutPaper(ctx, &p)
		require.NoError(t, err)
	}

	if withInsights {
		for _, in := range []docstore.Insight{
			{ID: "ins-a", PaperID: "paper-a", Summary: "Caching cuts tail latency.", KeyFindings: []string{"hit rate matters", "warm caches"}, Methodology: "simulation", Embedding: []float64{1, 0, 0, 0}},
			{ID: "ins-b", PaperID: "paper-b", Summary: "Queues explain spikes.", KeyFindings: []string{"utilization above 0.8 hurts"}, Methodology: "analysis", Embedding: []float64{0.8, 0.6, 0, 0}},
			{ID: "ins-c", PaperID: "paper-c", Summary: "Verse about tides.", Embedding: []float64{0, 1, 0, 0}},
			{ID: "ins-gone", PaperID: "paper-gone", Summary: "Orphaned.", Embedding: []float64{0.9, 0, 0.1, 0}},
		} {
			_, err := store.PutInsight(ctx, &in)
			require.NoError(t, err)
		}
	}

	return fixture{
		store:    store,
		embedder: llm.NewMockEmbedder(4).WithVector(problemText, []float64{1, 0, 0, 0}),
	}
}

func (f fixture) pipeline(client llm.Client, opts ...Option) *Pipeline {
	opts = append([]Option{WithModel("test-model")}, opts...)
	return NewPipeline(f.store, client, f.embedder, opts...)
}

// scriptedLLM scores by paper title and answers report prompts with
// reportBody(priority).
func scriptedLLM(priority string) *llm.MockClient {
	return llm.NewMockClient("").WithCompleteFunc(func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		text := req.Messages[0].Content
		switch {
		case strings.Contains(text, "evaluating how well a research paper"):
			switch {
			case strings.Contains(text, "Adaptive caching"):
				return &llm.CompletionResponse{Content: scoreBody(scores(0.9, 0.8))}, nil
			case strings.Contains(text, "Queueing models"):
				return &llm.CompletionResponse{Content: scoreBody(scores(0.6, 0.5))}, nil
			default:
				return &llm.CompletionResponse{Content: scoreBody(scores(1.5, 0.5))}, nil
			}
		case strings.Contains(text, "comprehensive solution report"):
			return &llm.CompletionResponse{Content: reportBody(priority)}, nil
		}
		return nil, fmt.Errorf("unexpected prompt: %.40s", text)
	})
}

func linkFor(t *testing.T, store *docstore.DB, paperID string) *docstore.ResearchLink {
	t.Helper()
	links, err := store.ListLinks(context.Background(), docstore.LinkQuery{ProblemID: problemID})
	require.NoError(t, err)
	for _, l := range links {
		if l.PaperID == paperID {
			return l
		}
	}
	t.Fatalf("no link for %s", paperID)
	return nil
}
