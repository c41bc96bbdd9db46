package benchmarks

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/randalmurphal/paperflow/pkg/docstore"
	"github.com/randalmurphal/paperflow/pkg/docstore/memory"
	"github.com/randalmurphal/paperflow/pkg/flowgraph"
	"github.com/randalmurphal/paperflow/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/paperflow/pkg/flowgraph/llm"
	"github.com/randalmurphal/paperflow/pkg/linking"
	"github.com/randalmurphal/paperflow/pkg/trends"
)

const scoreAnswer = "```json\n" + `{"scores":{"technicalFit":0.9,"trlGap":0.8,"timeToValue":0.8,"novelty":0.7,"evidenceStrength":0.8},` +
	`"matchRationale":"Same bottleneck.","keyInsights":["hit rate"],"applicationSuggestions":["cache carts"]}` + "\n```"

func linkingGraph(b *testing.B, insights int) *flowgraph.CompiledGraph[linking.State] {
	b.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	if _, err := store.PutProblem(ctx, &docstore.Problem{ID: "prob-1", Title: "Slow checkout", Description: "Latency spikes."}); err != nil {
		b.Fatal(err)
	}
	for i, v := range randomVectors(insights) {
		id := fmt.Sprintf("paper-%d", i)
		if _, err := store.PutPaper(ctx, &docstore.Paper{ID: id, Title: "Paper " + id}); err != nil {
			b.Fatal(err)
		}
		if _, err := store.PutInsight(ctx, &docstore.Insight{ID: "ins-" + id, PaperID: id, Summary: "Summary.", Embedding: v}); err != nil {
			b.Fatal(err)
		}
	}

	g, err := linking.NewGraph(linking.NewPipeline(store, llm.NewMockClient(scoreAnswer), llm.NewMockEmbedder(dims)))
	if err != nil {
		b.Fatal(err)
	}
	return g
}

func BenchmarkLinkingGraph(b *testing.B) {
	g := linkingGraph(b, 200)
	ctx := flowgraph.NewContext(context.Background())

	for b.Loop() {
		final, err := g.Run(ctx, linking.NewState("prob-1", "bench"))
		if err != nil || final.Error != "" {
			b.Fatalf("run: %v %s", err, final.Error)
		}
	}
}

func BenchmarkLinkingGraph_Checkpointed(b *testing.B) {
	g := linkingGraph(b, 200)
	store := checkpoint.NewMemoryStore()
	ctx := flowgraph.NewContext(context.Background())

	i := 0
	for b.Loop() {
		i++
		thread := fmt.Sprintf("run-%d", i)
		if _, err := g.Run(ctx, linking.NewState("prob-1", thread),
			flowgraph.WithThreadID(thread),
			flowgraph.WithCheckpointing(store),
		); err != nil {
			b.Fatal(err)
		}
	}
}

func corpus(n int, start time.Time) []docstore.Paper {
	abstracts := []string{
		"We present a diffusion model for image synthesis with fewer denoising steps.",
		"Message passing neural networks over molecular graphs predict binding affinity.",
		"Regret bounds for contextual bandits under delayed feedback.",
		"Retrieval augmented language models reduce hallucination on open domain questions.",
	}
	out := make([]docstore.Paper, n)
	for i := range out {
		out[i] = docstore.Paper{
			ID:            fmt.Sprintf("p-%d", i),
			Title:         fmt.Sprintf("Paper %d", i),
			Abstract:      abstracts[i%len(abstracts)],
			PublishedDate: start.Add(time.Duration(i) * time.Hour),
			Authors:       []docstore.Author{{Name: fmt.Sprintf("author-%d", i%37)}},
		}
	}
	return out
}

func BenchmarkExtractKeywords(b *testing.B) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	current := corpus(500, now.AddDate(0, 0, -7))
	previous := corpus(400, now.AddDate(0, 0, -14))

	b.ReportAllocs()
	for b.Loop() {
		trends.ExtractKeywords(current, previous)
	}
}

func BenchmarkComputeMetrics(b *testing.B) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	current := corpus(500, now.AddDate(0, 0, -7))
	previous := corpus(400, now.AddDate(0, 0, -14))

	for b.Loop() {
		trends.ComputeMetrics(current, previous)
	}
}
