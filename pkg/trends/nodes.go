package trends

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/randalmurphal/paperflow/pkg/docstore"
	"github.com/randalmurphal/paperflow/pkg/flowgraph"
	fgerrors "github.com/randalmurphal/paperflow/pkg/flowgraph/errors"
	"github.com/randalmurphal/paperflow/pkg/flowgraph/llm"
	"github.com/randalmurphal/paperflow/pkg/flowgraph/observability"
)

// Node IDs of the trend-analysis graph.
const (
	NodeLoadPapers       = "load_papers"
	NodeExtractSignals   = "extract_signals"
	NodeComputeMetrics   = "compute_metrics"
	NodeClassifyTrends   = "classify_trends"
	NodeGenerateForecast = "generate_forecast"
	NodeSaveTrends       = "save_trends"
)

// PaperLoadLimit caps the papers loaded per period.
const PaperLoadLimit = 1000

// ErrInvalidPeriod is recorded when a run is started with an unknown period.
var ErrInvalidPeriod = errors.New("invalid period")

// Store is what the pipeline reads papers from and writes trends to.
type Store interface {
	docstore.PaperStore
	docstore.TrendStore
}

// Pipeline holds the dependencies of the trend-analysis nodes.
type Pipeline struct {
	store       Store
	client      llm.Client
	embedder    llm.Embedder
	model       string
	concurrency int
	now         func() time.Time
	metrics     observability.MetricsRecorder
	retry       fgerrors.RetryConfig
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithModel sets the chat model of every LLM call. Empty uses the client's default.
func WithModel(model string) Option {
	return func(p *Pipeline) { p.model = model }
}

// WithConcurrency bounds concurrent LLM calls inside a node.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) { p.concurrency = n }
}

// WithClock replaces time.Now for period windows and trend dates.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithMetrics records absorbed failures on recorder.
func WithMetrics(recorder observability.MetricsRecorder) Option {
	return func(p *Pipeline) { p.metrics = recorder }
}

// WithRetry sets the retry policy of store reads. Defaults to
// fgerrors.DefaultRetry.
func WithRetry(cfg fgerrors.RetryConfig) Option {
	return func(p *Pipeline) { p.retry = cfg }
}

// NewPipeline builds the node set.
func NewPipeline(store Store, client llm.Client, embedder llm.Embedder, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:       store,
		client:      client,
		embedder:    embedder,
		concurrency: 5,
		now:         time.Now,
		metrics:     observability.NoopMetrics{},
		retry:       fgerrors.DefaultRetry,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// recoverable records a failure the node absorbed.
func (p *Pipeline) recoverable(ctx flowgraph.Context, stage string, err error) flowgraph.Write[State] {
	observability.LogRecoverable(ctx.Logger(), ctx.NodeID(), stage, err)
	p.metrics.RecordRecoverable(ctx, ctx.NodeID())
	return FieldErrors.Add(flowgraph.NewErrorInfo(ctx.NodeID(), fmt.Errorf("%s: %w", stage, err), true))
}

// fail ends the run: the router sends any state with Error set to END.
func fail(ctx flowgraph.Context, err error) flowgraph.Update[State] {
	ctx.Logger().Error("trend analysis failed", "node_id", ctx.NodeID(), "error", err.Error())
	return flowgraph.Update[State]{
		FieldError.Set(err.Error()),
		FieldStatus.Set(StageFailed),
		FieldErrors.Add(flowgraph.NewErrorInfo(ctx.NodeID(), err, false)),
	}
}

// retry runs fn under cfg and logs calls that needed more than one attempt.
func retry[T any](ctx flowgraph.Context, cfg fgerrors.RetryConfig, op string, fn func(context.Context) (T, error)) (T, error) {
	res := fgerrors.WithRetryContext(ctx, cfg, fn)
	if res.Attempts > 1 {
		ctx.Logger().Warn("call retried", "operation", op, "attempts", res.Attempts, "succeeded", res.Err == nil)
	}
	return res.Value, res.Err
}

func progress(s State, node string) Progress {
	pr := s.Progress
	pr.CurrentNode = node
	return pr
}

func (p *Pipeline) loadPapers(ctx flowgraph.Context, s State) (flowgraph.Update[State], error) {
	if !s.Period.Valid() {
		return fail(ctx, fmt.Errorf("%w: %q", ErrInvalidPeriod, s.Period)), nil
	}

	now := p.now().UTC()
	window := time.Duration(s.Period.Days()) * 24 * time.Hour

	list := func(from, to time.Time) func(context.Context) ([]*docstore.Paper, error) {
		return func(ctx context.Context) ([]*docstore.Paper, error) {
			return p.store.ListPapers(ctx, docstore.PaperQuery{Category: s.Category, From: from, To: to, Limit: PaperLoadLimit})
		}
	}

	current, err := retry(ctx, p.retry, "list papers", list(now.Add(-window), now))
	if err != nil {
		return fail(ctx, fmt.Errorf("load papers: %w", err)), nil
	}
	previous, err := retry(ctx, p.retry, "list previous papers", list(now.Add(-2*window), now.Add(-window)))
	if err != nil {
		return fail(ctx, fmt.Errorf("load previous papers: %w", err)), nil
	}

	ctx.Logger().Info("papers loaded",
		"category", s.Category, "period", string(s.Period),
		"current", len(current), "previous", len(previous))

	pr := progress(s, NodeLoadPapers)
	pr.PapersLoaded = len(current)
	return flowgraph.Update[State]{
		FieldPapers.Set(values(current)),
		FieldPrevious.Set(values(previous)),
		FieldStatus.Set(StageExtractingSignals),
		FieldProgress.Set(pr),
	}, nil
}

// values copies papers out of the store without embeddings; abstracts are
// re-embedded for clustering and checkpoints stay small.
func values(papers []*docstore.Paper) []docstore.Paper {
	out := make([]docstore.Paper, 0, len(papers))
	for _, p := range papers {
		v := *p
		v.Embedding = nil
		out = append(out, v)
	}
	return out
}

func (p *Pipeline) extractSignals(ctx flowgraph.Context, s State) (flowgraph.Update[State], error) {
	extractor := NewExtractor(p.client, p.embedder, p.model, p.concurrency)
	var update flowgraph.Update[State]

	signals := &Signals{
		Keywords:     ExtractKeywords(s.Papers, s.PreviousPeriodPapers),
		Topics:       []TopicSignal{},
		Entities:     []EntitySignal{},
		TemporalBins: []TemporalBin{},
	}

	topics, err := extractor.Topics(ctx, s.Papers)
	if err != nil {
		update = append(update, p.recoverable(ctx, "topics", err))
	}
	if topics != nil {
		signals.Topics = topics
	}

	entities, err := extractor.Entities(ctx, s.Papers)
	if err != nil {
		update = append(update, p.recoverable(ctx, "entities", err))
	}
	if entities != nil {
		signals.Entities = entities
	}

	if bins := TemporalBins(s.Papers, s.Period, signals.Keywords); bins != nil {
		signals.TemporalBins = bins
	}
	if signals.Keywords == nil {
		signals.Keywords = []KeywordSignal{}
	}

	ctx.Logger().Info("signals extracted",
		"keywords", len(signals.Keywords), "topics", len(signals.Topics),
		"entities", len(signals.Entities), "bins", len(signals.TemporalBins))

	pr := progress(s, NodeExtractSignals)
	pr.SignalsExtracted = len(signals.Keywords) + len(signals.Topics) + len(signals.Entities)
	return append(update,
		FieldSignals.Set(signals),
		FieldStatus.Set(StageComputingMetrics),
		FieldProgress.Set(pr),
	), nil
}

func (p *Pipeline) computeMetrics(ctx flowgraph.Context, s State) (flowgraph.Update[State], error) {
	m := ComputeMetrics(s.Papers, s.PreviousPeriodPapers)
	ctx.Logger().Info("metrics computed",
		"papers", m.PaperCount, "growth_rate", m.GrowthRate, "trend_score", m.TrendScore)

	return flowgraph.Update[State]{
		FieldMetrics.Set(&m),
		FieldStatus.Set(StageClassifying),
		FieldProgress.Set(progress(s, NodeComputeMetrics)),
	}, nil
}

func (p *Pipeline) classifyTrends(ctx flowgraph.Context, s State) (flowgraph.Update[State], error) {
	trends := []ClassifiedTrend{}
	if s.Signals != nil && s.Metrics != nil {
		if c := Classify(s.Category, s.Period, s.Papers, s.PreviousPeriodPapers, *s.Signals, *s.Metrics); c != nil {
			trends = c
		}
	}
	ctx.Logger().Info("trends classified", "trends", len(trends))

	pr := progress(s, NodeClassifyTrends)
	pr.TrendsClassified = len(trends)
	return flowgraph.Update[State]{
		FieldTrends.Set(trends),
		FieldStatus.Set(StageForecasting),
		FieldProgress.Set(pr),
	}, nil
}

func (p *Pipeline) generateForecast(ctx flowgraph.Context, s State) (flowgraph.Update[State], error) {
	forecasts, errs := NewForecaster(p.client, p.model, p.concurrency).Forecast(ctx, s.Trends, s.Period)

	var update flowgraph.Update[State]
	for _, err := range errs {
		if err != nil {
			update = append(update, p.recoverable(ctx, "forecast", err))
		}
	}

	ctx.Logger().Info("forecasts generated", "forecasts", len(forecasts))
	pr := progress(s, NodeGenerateForecast)
	pr.ForecastsGenerated = len(forecasts)
	return append(update,
		FieldForecasts.Add(forecasts...),
		FieldStatus.Set(StageSaving),
		FieldProgress.Set(pr),
	), nil
}

func (p *Pipeline) saveTrends(ctx flowgraph.Context, s State) (flowgraph.Update[State], error) {
	now := p.now().UTC()
	var (
		update flowgraph.Update[State]
		saved  []string
	)
	for _, t := range s.Trends {
		rec := trendRecord(t, s, now)
		if _, err := p.store.UpsertTrend(ctx, rec); err != nil {
			update = append(update, p.recoverable(ctx, "save "+t.ID, err))
			continue
		}
		saved = append(saved, t.ID)
	}

	ctx.Logger().Info("trends saved", "saved", len(saved), "total", len(s.Trends))
	return append(update,
		FieldSavedTrendIDs.Add(saved...),
		FieldStatus.Set(StageComplete),
		FieldProgress.Set(progress(s, NodeSaveTrends)),
	), nil
}

func trendRecord(t ClassifiedTrend, s State, now time.Time) *docstore.TrendRecord {
	category := s.Category
	if len(t.Categories) > 0 {
		category = t.Categories[0]
	}
	series := make([]docstore.TimePoint, len(t.TimeSeries))
	for i, pt := range t.TimeSeries {
		series[i] = docstore.TimePoint{Date: pt.Date, Value: pt.PaperCount}
	}

	rec := &docstore.TrendRecord{
		TrendID:     t.ID,
		Name:        t.Name,
		Description: t.Description,
		Status:      string(t.Status),
		Category:    category,
		Topic:       t.Name,
		Period:      string(s.Period),
		StartDate:   now.AddDate(0, 0, -s.Period.Days()).Format(time.DateOnly),
		EndDate:     now.Format(time.DateOnly),
		Keywords:    t.Keywords,
		Metrics: docstore.TrendMetrics{
			PaperCount:           t.Metrics.PaperCount,
			PaperCountPrevPeriod: t.Metrics.PaperCountPrevPeriod,
			GrowthRate:           t.Metrics.GrowthRate,
			Momentum:             t.Metrics.Momentum,
			AuthorCount:          t.Metrics.AuthorCount,
			AvgCitations:         t.Metrics.AvgCitations,
			CrossCategoryScore:   t.Metrics.CrossCategoryScore,
			TrendScore:           t.Metrics.TrendScore,
		},
		TimeSeries:    series,
		TopPapers:     t.TopPapers,
		RelatedTopics: t.Keywords[:min(len(t.Keywords), 5)],
		RelatedTrends: t.RelatedTrends,
	}

	// Forecasts append across resumed runs; the latest one for a trend wins.
	for i := len(s.Forecasts) - 1; i >= 0; i-- {
		if f := s.Forecasts[i]; f.TrendID == t.ID {
			rec.Forecast = &docstore.TrendForecast{Direction: string(f.Direction), Confidence: f.Confidence}
			break
		}
	}
	return rec
}
