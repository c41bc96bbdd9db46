package trends

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/paperflow/pkg/docstore"
	"github.com/randalmurphal/paperflow/pkg/flowgraph/llm"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"lower-cases and splits on punctuation", "Diffusion-Models, SCALE!", []string{"diffusion", "models", "scale"}},
		{"drops short tokens", "a big cat sat quietly", []string{"quietly"}},
		{"drops stop words", "these results show using transformers", []string{"transformers"}},
		{"keeps digits and underscores", "gpt_4o llama3", []string{"gpt_4o", "llama3"}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.text))
		})
	}
}

func TestTFIDF(t *testing.T) {
	docs := []string{
		"graph graph neural",
		"graph transformer",
		"transformer attention",
	}
	scores := TFIDF(docs)

	// "graph": 3 occurrences, in 2 of 3 docs.
	assert.InDelta(t, 3*math.Log(3.0/2.0), scores["graph"], 1e-9)
	assert.InDelta(t, 1*math.Log(3.0), scores["neural"], 1e-9)
	assert.InDelta(t, 2*math.Log(3.0/2.0), scores["transformer"], 1e-9)
	assert.NotContains(t, scores, "the")

	assert.Empty(t, TFIDF(nil))
	assert.Zero(t, TFIDF([]string{"same word", "same word"})["same"], "a term in every document scores 0")
}

func TestExtractKeywords(t *testing.T) {
	day := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	current := []docstore.Paper{
		paper("1", "", "quantum annealing quantum circuits", day, 0),
		paper("2", "", "protein folding", day, 0),
		paper("3", "", "robotic grasping", day, 0),
	}
	previous := []docstore.Paper{
		paper("p1", "", "quantum quantum quantum quantum quantum chemistry", day, 0),
		paper("p2", "", "protein design", day, 0),
		paper("p3", "", "robotic grasping", day, 0),
	}

	kws := ExtractKeywords(current, previous)
	require.NotEmpty(t, kws)

	byWord := make(map[string]KeywordSignal)
	for _, k := range kws {
		byWord[k.Keyword] = k
	}

	assert.Equal(t, "quantum", kws[0].Keyword, "highest tf-idf first")
	assert.Equal(t, KeywordFalling, byWord["quantum"].Trend)
	assert.Equal(t, 1, byWord["quantum"].Frequency)
	assert.Equal(t, KeywordRising, byWord["folding"].Trend, "absent last period")
	assert.Equal(t, KeywordStable, byWord["grasping"].Trend)

	for i := 1; i < len(kws); i++ {
		prev, cur := kws[i-1], kws[i]
		ordered := prev.Score > cur.Score || (prev.Score == cur.Score && prev.Keyword < cur.Keyword)
		assert.True(t, ordered, "%v before %v", prev, cur)
	}

	assert.Nil(t, ExtractKeywords(nil, previous))
}

func TestExtractKeywords_CapsAtMax(t *testing.T) {
	var papers []docstore.Paper
	for i := range 80 {
		papers = append(papers, paper("", "", "uniqueword"+string(rune('a'+i%26))+string(rune('a'+i/26))+" filler", time.Now(), 0))
	}
	assert.Len(t, ExtractKeywords(papers, nil), MaxKeywords)
}

func TestTemporalBins(t *testing.T) {
	at := func(d, h int) time.Time { return time.Date(2025, 6, d, h, 0, 0, 0, time.UTC) }
	papers := []docstore.Paper{
		paper("a", "", "diffusion sampling", at(12, 9), 4),
		paper("b", "", "diffusion guidance", at(10, 9), 2),
		paper("c", "", "retrieval augmentation", at(12, 18), 0),
		paper("d", "", "diffusion priors", at(3, 1), 6),
	}
	keywords := []KeywordSignal{{Keyword: "diffusion"}, {Keyword: "retrieval"}}

	t.Run("weekly bins by day", func(t *testing.T) {
		bins := TemporalBins(papers, Weekly, keywords)
		require.Len(t, bins, 3)

		assert.Equal(t, at(3, 1), bins[0].StartDate)
		assert.Equal(t, at(10, 9), bins[1].StartDate)
		assert.Equal(t, at(12, 9), bins[2].StartDate)
		assert.Equal(t, at(12, 18), bins[2].EndDate)
		assert.Equal(t, 2, bins[2].PaperCount)
		assert.InDelta(t, 2.0, bins[2].AvgCitations, 1e-9)
		assert.Equal(t, []string{"diffusion", "retrieval"}, bins[2].TopKeywords)
	})

	t.Run("monthly bins by week of month", func(t *testing.T) {
		bins := TemporalBins(papers, Monthly, keywords)
		require.Len(t, bins, 2, "day 3 alone, days 10 and 12 share a chunk")
		assert.Equal(t, 1, bins[0].PaperCount)
		assert.Equal(t, 3, bins[1].PaperCount)
		assert.InDelta(t, 2.0, bins[1].AvgCitations, 1e-9)
	})

	assert.Nil(t, TemporalBins(nil, Daily, nil))
}

func TestExtractor_Topics(t *testing.T) {
	current, _ := diffusionCorpus()
	client := scriptedLLM("Diffusion Models", []string{"diffusion", "denoising", "sampling", "synthesis", "images", "extra"}, "")
	ex := NewExtractor(client, llm.NewMockEmbedder(16), "", 2)

	topics, err := ex.Topics(context.Background(), current)
	require.NoError(t, err)
	require.Len(t, topics, 1)

	topic := topics[0]
	assert.Equal(t, "topic-0", topic.TopicID)
	assert.Equal(t, "Diffusion Models", topic.Label)
	assert.Len(t, topic.Keywords, 5, "keywords truncated to five")
	assert.Equal(t, 5, topic.PaperCount)
	assert.InDelta(t, 0.8, topic.CoherenceScore, 1e-9)

	req := client.LastCall()
	require.NotNil(t, req)
	assert.True(t, req.JSONMode)
	assert.Contains(t, req.Messages[0].Content, "- Diffusion paper 0")
	assert.Equal(t, 5, strings.Count(req.Messages[0].Content, "- Diffusion paper"))
}

func TestExtractor_Topics_SmallClustersDropped(t *testing.T) {
	day := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	papers := []docstore.Paper{
		paper("1", "", "alpha beta gamma", day, 0),
		paper("2", "", "alpha beta gamma", day, 0),
		paper("3", "", "delta epsilon zeta", day, 0),
	}
	emb := llm.NewMockEmbedder(2).
		WithVector("alpha beta gamma", []float64{1, 0}).
		WithVector("delta epsilon zeta", []float64{0, 1})
	client := llm.NewMockClient(`{"label":"x","keywords":[]}`)
	topics, err := NewExtractor(client, emb, "", 1).Topics(context.Background(), papers)
	require.NoError(t, err)
	assert.Empty(t, topics)
	assert.Zero(t, client.CallCount())
}

func TestExtractor_Topics_LabelFallback(t *testing.T) {
	current, _ := diffusionCorpus()

	t.Run("call failure", func(t *testing.T) {
		client := llm.NewMockClient("").WithError(errors.New("provider down"))
		topics, err := NewExtractor(client, llm.NewMockEmbedder(16), "", 1).Topics(context.Background(), current)
		require.Error(t, err)
		require.Len(t, topics, 1)
		assert.Equal(t, "Topic 0", topics[0].Label)
		assert.Equal(t, []string{}, topics[0].Keywords)
		assert.InDelta(t, 0.5, topics[0].CoherenceScore, 1e-9)
	})

	t.Run("unparsable response", func(t *testing.T) {
		client := llm.NewMockClient("no json here")
		topics, err := NewExtractor(client, llm.NewMockEmbedder(16), "", 1).Topics(context.Background(), current)
		require.ErrorIs(t, err, llm.ErrNoJSON)
		assert.Equal(t, "Topic 0", topics[0].Label)
	})

	t.Run("empty label", func(t *testing.T) {
		client := llm.NewMockClient(`{"label":"","keywords":["diffusion"]}`)
		topics, err := NewExtractor(client, llm.NewMockEmbedder(16), "", 1).Topics(context.Background(), current)
		require.NoError(t, err)
		assert.Equal(t, "Topic 0", topics[0].Label)
		assert.Equal(t, []string{"diffusion"}, topics[0].Keywords)
		assert.InDelta(t, 0.8, topics[0].CoherenceScore, 1e-9)
	})
}

func TestExtractor_Topics_EmbedFailure(t *testing.T) {
	current, _ := diffusionCorpus()
	emb := llm.NewMockEmbedder(16).WithError(errors.New("quota"))
	topics, err := NewExtractor(llm.NewMockClient(""), emb, "", 1).Topics(context.Background(), current)
	require.Error(t, err)
	assert.Nil(t, topics)
}

func TestExtractor_Entities(t *testing.T) {
	day := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	var papers []docstore.Paper
	for i := range 23 {
		abs := fmt.Sprintf("Paper %d: we fine-tune BERT on SQuAD.", i)
		if i%2 == 0 {
			abs = fmt.Sprintf("Paper %d: we train a LoRA adapter and report F1.", i)
		}
		papers = append(papers, paper(fmt.Sprintf("p%d", i), "", abs, day, 0))
	}

	client := llm.NewMockClient("").WithCompleteFunc(func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		text := req.Messages[0].Content
		switch {
		case strings.Contains(text, "Paper 20:"):
			return &llm.CompletionResponse{Content: `{"methods":["LoRA"],"datasets":[]}`}, nil
		case strings.Contains(text, "Paper 10:"):
			return &llm.CompletionResponse{Content: `{"methods":["lora"],"datasets":["squad"],"metrics":[],"models":["bert","GPT-2"]}`}, nil
		default:
			return &llm.CompletionResponse{Content: `{"methods":["LoRA","fine-tuning"],"datasets":["SQuAD"],"metrics":["F1"],"models":["BERT"]}`}, nil
		}
	})

	entities, err := NewExtractor(client, llm.NewMockEmbedder(8), "", 3).Entities(context.Background(), papers)
	require.Error(t, err, "third batch is missing required arrays")
	assert.Contains(t, err.Error(), "entity batch 2")
	assert.Equal(t, 3, client.CallCount())

	byName := make(map[string]EntitySignal)
	for _, e := range entities {
		byName[e.Entity] = e
	}
	assert.Equal(t, 2, byName["LoRA"].Frequency, "first spelling kept, case-insensitive count")
	assert.NotContains(t, byName, "lora")
	assert.Equal(t, EntityMethod, byName["LoRA"].Type)
	assert.Equal(t, 2, byName["SQuAD"].Frequency)
	assert.Equal(t, 2, byName["BERT"].Frequency)
	assert.Equal(t, 1, byName["GPT-2"].Frequency)
	assert.Equal(t, 1, byName["F1"].Frequency)
	assert.Len(t, byName["LoRA"].Papers, 12, "papers are the abstracts mentioning the entity")
	assert.Empty(t, byName["GPT-2"].Papers)
	assert.Equal(t, "LoRA", entities[0].Entity, "sorted by frequency, ties in first-seen order")
}

func TestExtractor_Entities_BatchLimit(t *testing.T) {
	day := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	var papers []docstore.Paper
	for i := range 75 {
		papers = append(papers, paper(fmt.Sprintf("p%d", i), "", "abstract", day, 0))
	}
	client := llm.NewMockClient(`{"methods":[],"datasets":[],"metrics":[],"models":[]}`)

	entities, err := NewExtractor(client, llm.NewMockEmbedder(8), "", 2).Entities(context.Background(), papers)
	require.NoError(t, err)
	assert.Empty(t, entities)
	assert.Equal(t, EntityPaperLimit/EntityBatchSize, client.CallCount())
}
