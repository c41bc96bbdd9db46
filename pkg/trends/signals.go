package trends

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/paperflow/pkg/docstore"
	"github.com/randalmurphal/paperflow/pkg/flowgraph/llm"
	"github.com/randalmurphal/paperflow/pkg/flowgraph/prompt"
	"github.com/randalmurphal/paperflow/pkg/vector"
)

// Extraction limits.
const (
	MaxKeywords       = 50
	TopicPaperLimit   = 100
	TopicSimilarity   = 0.75
	MinTopicSize      = 3
	MaxTopics         = 10
	EntityPaperLimit  = 50
	EntityBatchSize   = 10
	MaxEntities       = 50
	binKeywordsPerBin = 5
)

var nonWord = regexp.MustCompile(`\W+`)

// stopWords only lists words longer than three characters; shorter words
// never pass the length filter.
var stopWords = map[string]struct{}{
	"were": {}, "been": {}, "have": {}, "does": {}, "will": {}, "would": {},
	"could": {}, "should": {}, "might": {}, "must": {}, "shall": {}, "need": {},
	"this": {}, "that": {}, "these": {}, "those": {}, "they": {}, "their": {},
	"them": {}, "which": {}, "what": {}, "whom": {}, "when": {}, "where": {},
	"each": {}, "both": {}, "such": {}, "more": {}, "most": {}, "other": {},
	"some": {}, "only": {}, "also": {}, "than": {}, "very": {}, "just": {},
	"about": {}, "into": {}, "over": {}, "after": {}, "before": {}, "between": {},
	"through": {}, "during": {}, "without": {}, "under": {}, "within": {},
	"along": {}, "across": {}, "behind": {}, "beyond": {}, "plus": {},
	"except": {}, "since": {}, "using": {}, "used": {}, "from": {}, "with": {},
	"paper": {}, "papers": {}, "study": {}, "work": {}, "propose": {},
	"proposed": {}, "show": {}, "shown": {}, "results": {}, "method": {},
	"methods": {}, "approach": {},
}

// Tokenize lower-cases text, splits it on non-word characters and drops
// tokens of three characters or fewer and stop words.
func Tokenize(text string) []string {
	var out []string
	for _, w := range nonWord.Split(strings.ToLower(text), -1) {
		if len(w) <= 3 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		out = append(out, w)
	}
	return out
}

// TFIDF scores every term of documents as its total count across all
// documents times ln(N/df).
func TFIDF(documents []string) map[string]float64 {
	termFreq := make(map[string]int)
	docFreq := make(map[string]int)
	for _, doc := range documents {
		seen := make(map[string]bool)
		for _, w := range Tokenize(doc) {
			termFreq[w]++
			if !seen[w] {
				seen[w] = true
				docFreq[w]++
			}
		}
	}

	n := float64(len(documents))
	scores := make(map[string]float64, len(termFreq))
	for term, tf := range termFreq {
		scores[term] = float64(tf) * math.Log(n/float64(docFreq[term]))
	}
	return scores
}

// topTerms returns the k highest scoring terms, ties broken by term.
func topTerms(scores map[string]float64, k int) []string {
	terms := make([]string, 0, len(scores))
	for t := range scores {
		terms = append(terms, t)
	}
	slices.SortFunc(terms, func(a, b string) int {
		if c := cmp.Compare(scores[b], scores[a]); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	if len(terms) > k {
		terms = terms[:k]
	}
	return terms
}

func abstracts(papers []docstore.Paper) []string {
	out := make([]string, len(papers))
	for i, p := range papers {
		out[i] = p.Abstract
	}
	return out
}

// ExtractKeywords ranks the TF-IDF keywords of papers and labels each
// against its score over previous.
func ExtractKeywords(papers, previous []docstore.Paper) []KeywordSignal {
	if len(papers) == 0 {
		return nil
	}
	current := TFIDF(abstracts(papers))
	prev := TFIDF(abstracts(previous))

	lowered := make([]string, len(papers))
	for i, p := range papers {
		lowered[i] = strings.ToLower(p.Abstract)
	}

	top := topTerms(current, MaxKeywords)
	out := make([]KeywordSignal, 0, len(top))
	for _, kw := range top {
		score := current[kw]
		freq := 0
		for _, abs := range lowered {
			if strings.Contains(abs, kw) {
				freq++
			}
		}
		out = append(out, KeywordSignal{
			Keyword:   kw,
			Score:     score,
			Frequency: freq,
			Trend:     keywordTrend(score, prev[kw]),
		})
	}
	return out
}

func keywordTrend(score, prev float64) KeywordTrend {
	switch {
	case score > prev*1.2:
		return KeywordRising
	case score < prev*0.8:
		return KeywordFalling
	default:
		return KeywordStable
	}
}

var topicLabelPrompt = prompt.Must(prompt.New("topic-label", `These research papers belong to the same topic cluster. Provide a short topic label (3-5 words) and 5 key keywords.

Paper titles:
${titles}

Respond with JSON: { "label": "...", "keywords": ["...", "..."] }`))

var entityPrompt = prompt.Must(prompt.New("entities", `Extract ML/AI entities from these paper abstracts.

${abstracts}

Return JSON with arrays: { "methods": [...], "datasets": [...], "metrics": [...], "models": [...] }`))

type topicLabel struct {
	Label    string   `json:"label"`
	Keywords []string `json:"keywords"`
}

type entityResponse struct {
	Methods  []string `json:"methods" validate:"required"`
	Datasets []string `json:"datasets" validate:"required"`
	Metrics  []string `json:"metrics" validate:"required"`
	Models   []string `json:"models" validate:"required"`
}

// Extractor runs the LLM-backed signal stages.
type Extractor struct {
	client      llm.Client
	embedder    llm.Embedder
	model       string
	concurrency int
}

// NewExtractor builds an Extractor. An empty model uses the client's
// default; concurrency below 1 means 5.
func NewExtractor(client llm.Client, embedder llm.Embedder, model string, concurrency int) *Extractor {
	if concurrency < 1 {
		concurrency = 5
	}
	return &Extractor{client: client, embedder: embedder, model: model, concurrency: concurrency}
}

// Topics clusters the abstracts of the first TopicPaperLimit papers and
// labels up to MaxTopics clusters of at least MinTopicSize papers.
//
// An embedding failure returns no topics and the error. Label failures
// keep the topic with a fallback label and are joined into the returned
// error alongside the topics.
func (e *Extractor) Topics(ctx context.Context, papers []docstore.Paper) ([]TopicSignal, error) {
	if len(papers) == 0 {
		return nil, nil
	}
	papers = papers[:min(len(papers), TopicPaperLimit)]

	vecs, err := e.embedder.Embed(ctx, abstracts(papers))
	if err != nil {
		return nil, fmt.Errorf("embed abstracts: %w", err)
	}

	var clusters [][]int
	for _, c := range vector.GreedyCluster(vecs, TopicSimilarity) {
		if len(c) < MinTopicSize {
			continue
		}
		clusters = append(clusters, c)
		if len(clusters) == MaxTopics {
			break
		}
	}

	topics := make([]TopicSignal, len(clusters))
	errs := make([]error, len(clusters))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, members := range clusters {
		g.Go(func() error {
			topics[i], errs[i] = e.labelTopic(gctx, i, members, papers)
			return nil
		})
	}
	_ = g.Wait()
	return topics, errors.Join(errs...)
}

func (e *Extractor) labelTopic(ctx context.Context, idx int, members []int, papers []docstore.Paper) (TopicSignal, error) {
	topic := TopicSignal{
		TopicID:        fmt.Sprintf("topic-%d", idx),
		Label:          fmt.Sprintf("Topic %d", idx),
		Keywords:       []string{},
		PaperCount:     len(members),
		CoherenceScore: 0.5,
	}

	var titles strings.Builder
	for i, m := range members[:min(len(members), 5)] {
		if i > 0 {
			titles.WriteByte('\n')
		}
		titles.WriteString("- " + papers[m].Title)
	}
	text, err := topicLabelPrompt.Render(map[string]any{"titles": titles.String()})
	if err != nil {
		return topic, err
	}

	resp, err := e.client.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{llm.User(text)},
		Model:       e.model,
		Temperature: llm.Temperature(0.2),
		JSONMode:    true,
	})
	if err != nil {
		return topic, fmt.Errorf("label %s: %w", topic.TopicID, err)
	}
	parsed, err := llm.ParseJSON[topicLabel](resp.Content)
	if err != nil {
		return topic, fmt.Errorf("label %s: %w", topic.TopicID, err)
	}

	if parsed.Label != "" {
		topic.Label = parsed.Label
	}
	if parsed.Keywords != nil {
		topic.Keywords = parsed.Keywords[:min(len(parsed.Keywords), 5)]
	}
	topic.CoherenceScore = 0.8
	return topic, nil
}

// Entities extracts methods, datasets, metrics and models from the first
// EntityPaperLimit papers in batches of EntityBatchSize. A failed batch
// is skipped and its error joined into the returned error.
func (e *Extractor) Entities(ctx context.Context, papers []docstore.Paper) ([]EntitySignal, error) {
	if len(papers) == 0 {
		return nil, nil
	}
	papers = papers[:min(len(papers), EntityPaperLimit)]

	var batches [][]docstore.Paper
	for start := 0; start < len(papers); start += EntityBatchSize {
		batches = append(batches, papers[start:min(start+EntityBatchSize, len(papers))])
	}

	results := make([]*entityResponse, len(batches))
	errs := make([]error, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, batch := range batches {
		g.Go(func() error {
			results[i], errs[i] = e.extractBatch(gctx, batch)
			if errs[i] != nil {
				errs[i] = fmt.Errorf("entity batch %d: %w", i, errs[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	agg := newEntityAggregator()
	for _, r := range results {
		if r == nil {
			continue
		}
		agg.add(EntityMethod, r.Methods)
		agg.add(EntityDataset, r.Datasets)
		agg.add(EntityMetric, r.Metrics)
		agg.add(EntityModel, r.Models)
	}
	return agg.top(papers, MaxEntities), errors.Join(errs...)
}

func (e *Extractor) extractBatch(ctx context.Context, batch []docstore.Paper) (*entityResponse, error) {
	text, err := entityPrompt.Render(map[string]any{
		"abstracts": strings.Join(abstracts(batch), "\n\n---\n\n"),
	})
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{llm.User(text)},
		Model:       e.model,
		Temperature: llm.Temperature(0.1),
		JSONMode:    true,
	})
	if err != nil {
		return nil, err
	}
	parsed, err := llm.ParseJSON[entityResponse](resp.Content)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

type entityKey struct {
	typ  EntityType
	name string
}

// entityAggregator counts entities per type case-insensitively, keeping the
// first spelling seen.
type entityAggregator struct {
	order  []entityKey
	counts map[entityKey]*EntitySignal
}

func newEntityAggregator() *entityAggregator {
	return &entityAggregator{counts: make(map[entityKey]*EntitySignal)}
}

func (a *entityAggregator) add(typ EntityType, names []string) {
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		k := entityKey{typ: typ, name: strings.ToLower(name)}
		if sig, ok := a.counts[k]; ok {
			sig.Frequency++
			continue
		}
		a.order = append(a.order, k)
		a.counts[k] = &EntitySignal{Entity: name, Type: typ, Frequency: 1}
	}
}

// top returns the k most frequent entities, ties in first-seen order, with
// the IDs of papers whose abstract mentions each one.
func (a *entityAggregator) top(papers []docstore.Paper, k int) []EntitySignal {
	out := make([]EntitySignal, 0, len(a.order))
	for _, key := range a.order {
		out = append(out, *a.counts[key])
	}
	slices.SortStableFunc(out, func(x, y EntitySignal) int {
		return cmp.Compare(y.Frequency, x.Frequency)
	})
	if len(out) > k {
		out = out[:k]
	}

	lowered := make([]string, len(papers))
	for i, p := range papers {
		lowered[i] = strings.ToLower(p.Abstract)
	}
	for i := range out {
		needle := strings.ToLower(out[i].Entity)
		out[i].Papers = []string{}
		for j, abs := range lowered {
			if strings.Contains(abs, needle) {
				out[i].Papers = append(out[i].Papers, papers[j].ID)
			}
		}
	}
	return out
}

// binKey buckets a publication date. Daily and weekly runs bin by calendar
// day; monthly runs bin by 7-day chunk of the month.
func binKey(t time.Time, period Period) string {
	t = t.UTC()
	if period == Monthly {
		return fmt.Sprintf("%04d-%02d-w%d", t.Year(), t.Month(), t.Day()/7)
	}
	return t.Format(time.DateOnly)
}

// TemporalBins groups papers by publication bucket, sorted by bucket start.
// A bin's TopKeywords are the highest ranked keywords that occur in one of
// its abstracts.
func TemporalBins(papers []docstore.Paper, period Period, keywords []KeywordSignal) []TemporalBin {
	if len(papers) == 0 {
		return nil
	}

	groups := make(map[string][]docstore.Paper)
	var keys []string
	for _, p := range papers {
		k := binKey(p.PublishedDate, period)
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], p)
	}

	bins := make([]TemporalBin, 0, len(keys))
	for _, k := range keys {
		members := groups[k]
		bin := TemporalBin{
			StartDate:  members[0].PublishedDate,
			EndDate:    members[0].PublishedDate,
			PaperCount: len(members),
		}
		cites := make([]float64, len(members))
		for i, p := range members {
			cites[i] = float64(p.Citations())
			if p.PublishedDate.Before(bin.StartDate) {
				bin.StartDate = p.PublishedDate
			}
			if p.PublishedDate.After(bin.EndDate) {
				bin.EndDate = p.PublishedDate
			}
		}
		bin.AvgCitations, _ = stats.Mean(cites)
		bin.TopKeywords = binKeywords(members, keywords)
		bins = append(bins, bin)
	}

	slices.SortStableFunc(bins, func(a, b TemporalBin) int {
		return a.StartDate.Compare(b.StartDate)
	})
	return bins
}

func binKeywords(members []docstore.Paper, keywords []KeywordSignal) []string {
	text := strings.ToLower(strings.Join(abstracts(members), "\n"))
	out := []string{}
	for _, kw := range keywords {
		if len(out) == binKeywordsPerBin {
			break
		}
		if strings.Contains(text, kw.Keyword) {
			out = append(out, kw.Keyword)
		}
	}
	return out
}
