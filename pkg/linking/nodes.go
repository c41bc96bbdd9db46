package linking

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/paperflow/pkg/docstore"
	"github.com/randalmurphal/paperflow/pkg/flowgraph"
	fgerrors "github.com/randalmurphal/paperflow/pkg/flowgraph/errors"
	"github.com/randalmurphal/paperflow/pkg/flowgraph/llm"
	"github.com/randalmurphal/paperflow/pkg/flowgraph/observability"
)

// Node IDs of the research-linking graphs.
const (
	NodeLoadProblem    = "load_problem"
	NodeFindCandidates = "find_candidates"
	NodeScoreMatches   = "score_matches"
	NodeSaveLinks      = "save_links"
	NodeGenerateReport = "generate_report"
)

// Store is the part of the document store the pipeline touches.
type Store interface {
	docstore.PaperStore
	docstore.InsightStore
	docstore.ProblemStore
	docstore.LinkStore
	docstore.ReportStore
}

// Pipeline holds the dependencies of the research-linking nodes.
type Pipeline struct {
	store     Store
	client    llm.Client
	embedder  llm.Embedder
	model     string
	batchSize int
	metrics   observability.MetricsRecorder
	retry     fgerrors.RetryConfig
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithModel sets the chat model of every LLM call. Empty uses the client's default.
func WithModel(model string) Option {
	return func(p *Pipeline) { p.model = model }
}

// WithBatchSize bounds concurrent scoring calls and link lookups.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithMetrics records absorbed failures on recorder.
func WithMetrics(recorder observability.MetricsRecorder) Option {
	return func(p *Pipeline) { p.metrics = recorder }
}

// WithRetry sets the retry policy of problem loading, the problem embedding
// and the vector search. Defaults to fgerrors.DefaultRetry.
func WithRetry(cfg fgerrors.RetryConfig) Option {
	return func(p *Pipeline) { p.retry = cfg }
}

// NewPipeline builds the node set.
func NewPipeline(store Store, client llm.Client, embedder llm.Embedder, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:     store,
		client:    client,
		embedder:  embedder,
		batchSize: ScoringBatchSize,
		metrics:   observability.NoopMetrics{},
		retry:     fgerrors.DefaultRetry,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// retry runs fn under cfg and logs calls that needed more than one attempt.
func retry[T any](ctx flowgraph.Context, cfg fgerrors.RetryConfig, op string, fn func(context.Context) (T, error)) (T, error) {
	res := fgerrors.WithRetryContext(ctx, cfg, fn)
	if res.Attempts > 1 {
		ctx.Logger().Warn("call retried", "operation", op, "attempts", res.Attempts, "succeeded", res.Err == nil)
	}
	return res.Value, res.Err
}

func (p *Pipeline) recoverable(ctx flowgraph.Context, stage string, err error) flowgraph.Write[State] {
	observability.LogRecoverable(ctx.Logger(), ctx.NodeID(), stage, err)
	p.metrics.RecordRecoverable(ctx, ctx.NodeID())
	return FieldErrors.Add(flowgraph.NewErrorInfo(ctx.NodeID(), fmt.Errorf("%s: %w", stage, err), true))
}

// fail records a fatal error; the routers send the run to END.
func fail(ctx flowgraph.Context, err error) flowgraph.Update[State] {
	ctx.Logger().Error("research linking failed", "node_id", ctx.NodeID(), "error", err.Error())
	return flowgraph.Update[State]{
		FieldError.Set(err.Error()),
		FieldErrors.Add(flowgraph.NewErrorInfo(ctx.NodeID(), err, false)),
	}
}

func (p *Pipeline) loadProblem(ctx flowgraph.Context, s State) (flowgraph.Update[State], error) {
	problem, err := retry(ctx, p.retry, "get problem", func(ctx context.Context) (*docstore.Problem, error) {
		return p.store.GetProblem(ctx, s.ProblemID)
	})
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return fail(ctx, fmt.Errorf("problem not found: %s", s.ProblemID)), nil
	case err != nil:
		return fail(ctx, fmt.Errorf("load problem: %w", err)), nil
	}
	ctx.Logger().Info("problem loaded", "problem_id", problem.ID, "category", problem.Category)
	return flowgraph.Update[State]{FieldProblem.Set(problem)}, nil
}

func (p *Pipeline) findCandidates(ctx flowgraph.Context, s State) (flowgraph.Update[State], error) {
	vecs, err := retry(ctx, p.retry, "embed problem", func(ctx context.Context) ([][]float64, error) {
		return p.embedder.Embed(ctx, []string{s.Problem.Title + "\n\n" + s.Problem.Description})
	})
	if err != nil {
		return fail(ctx, fmt.Errorf("embed problem: %w", err)), nil
	}
	if len(vecs) != 1 {
		return fail(ctx, fmt.Errorf("embed problem: got %d vectors", len(vecs))), nil
	}

	hits, err := retry(ctx, p.retry, "search insights", func(ctx context.Context) ([]docstore.ScoredInsight, error) {
		return p.store.SearchInsights(ctx, vecs[0], VectorSearchLimit)
	})
	if err != nil {
		return fail(ctx, fmt.Errorf("search insights: %w", err)), nil
	}

	found := make([]*CandidateMatch, len(hits))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.batchSize)
	for i, hit := range hits {
		g.Go(func() error {
			paper, err := p.store.GetPaper(gctx, hit.PaperID)
			if errors.Is(err, docstore.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("paper %s: %w", hit.PaperID, err)
			}
			found[i] = &CandidateMatch{
				InsightID:              hit.ID,
				PaperID:                paper.ID,
				PaperTitle:             paper.Title,
				InsightSummary:         hit.Summary,
				VectorSimilarity:       hit.Score,
				MatchType:              MatchInspiration,
				KeyInsights:            []string{},
				ApplicationSuggestions: []string{},
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fail(ctx, fmt.Errorf("load candidate papers: %w", err)), nil
	}

	candidates := []CandidateMatch{}
	for _, c := range found {
		if c != nil {
			candidates = append(candidates, *c)
		}
	}
	ctx.Logger().Info("candidates found", "hits", len(hits), "candidates", len(candidates))
	return flowgraph.Update[State]{FieldCandidates.Set(candidates)}, nil
}

func (p *Pipeline) scoreMatches(ctx flowgraph.Context, s State) (flowgraph.Update[State], error) {
	if len(s.Candidates) == 0 {
		return nil, nil
	}

	scored := make([]*CandidateMatch, len(s.Candidates))
	errs := make([]error, len(s.Candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.batchSize)
	for i, c := range s.Candidates {
		g.Go(func() error {
			scored[i], errs[i] = p.scoreOne(gctx, ctx.Logger(), s.Problem, c)
			return nil
		})
	}
	_ = g.Wait()

	var update flowgraph.Update[State]
	kept := []CandidateMatch{}
	for i, c := range scored {
		if errs[i] != nil {
			update = append(update, p.recoverable(ctx, "score "+s.Candidates[i].InsightID, errs[i]))
		}
		if c != nil {
			kept = append(kept, *c)
		}
	}
	slices.SortStableFunc(kept, func(a, b CandidateMatch) int {
		return cmp.Compare(b.OverallScore, a.OverallScore)
	})
	kept = kept[:min(len(kept), TopCandidates)]

	ctx.Logger().Info("matches scored", "candidates", len(s.Candidates), "kept", len(kept))
	return append(update, FieldCandidates.Set(kept)), nil
}

// scoreOne returns the scored candidate, or nil when it is dropped. Only
// failed calls are reported; a response that fails validation drops the
// candidate silently.
func (p *Pipeline) scoreOne(ctx context.Context, logger *slog.Logger, problem *docstore.Problem, c CandidateMatch) (*CandidateMatch, error) {
	insight, err := p.store.GetInsight(ctx, c.InsightID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	text, err := scoringPrompt.Render(map[string]any{
		"problemTitle":          Sanitize(problem.Title),
		"problemDescription":    Sanitize(problem.Description),
		"problemCategory":       Sanitize(problem.Category),
		"problemSeverity":       Sanitize(problem.Severity),
		"paperTitle":            Sanitize(c.PaperTitle),
		"paperAbstract":         Sanitize(c.InsightSummary),
		"insightSummary":        Sanitize(insight.Summary),
		"keyFindings":           Sanitize(strings.Join(insight.KeyFindings, "\n- ")),
		"methodology":           Sanitize(insight.Methodology),
		"practicalApplications": Sanitize(strings.Join(insight.PracticalApplications, "\n- ")),
	})
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{llm.User(text)},
		Model:       p.model,
		MaxTokens:   ScoringMaxTokens,
		Temperature: llm.Temperature(0.2),
	})
	if err != nil {
		return nil, err
	}

	parsed, err := llm.ParseFenced[scoreResponse](resp.Content)
	if err != nil {
		logger.Debug("score response dropped", "insight_id", c.InsightID, "error", err.Error())
		return nil, nil
	}

	scores := parsed.Scores.score()
	c.Scores = scores
	c.OverallScore = ComputeOverallScore(scores)
	c.MatchType = DetermineMatchType(scores.TechnicalFit)
	c.MatchRationale = parsed.MatchRationale
	c.KeyInsights = parsed.KeyInsights
	c.ApplicationSuggestions = parsed.ApplicationSuggestions
	return &c, nil
}

func (p *Pipeline) saveLinks(ctx flowgraph.Context, s State) (flowgraph.Update[State], error) {
	if len(s.Candidates) == 0 {
		ctx.Logger().Info("no candidates to review")
		return flowgraph.Update[State]{FieldNeedsApproval.Set(false)}, nil
	}

	created := make([]string, 0, len(s.Candidates))
	for _, c := range s.Candidates {
		id, err := p.store.CreateLink(ctx, &docstore.ResearchLink{
			ProblemID:              s.ProblemID,
			PaperID:                c.PaperID,
			InsightID:              c.InsightID,
			RelevanceScore:         c.OverallScore,
			MatchType:              string(c.MatchType),
			MatchRationale:         c.MatchRationale,
			KeyInsights:            c.KeyInsights,
			ApplicationSuggestions: c.ApplicationSuggestions,
			Confidence:             c.VectorSimilarity,
		})
		if err != nil {
			return fail(ctx, fmt.Errorf("create link: %w", err)), nil
		}
		if err := p.store.SetLinkReview(ctx, id, docstore.ReviewNeedsReview); err != nil {
			return fail(ctx, fmt.Errorf("mark link %s for review: %w", id, err)), nil
		}
		created = append(created, id)
	}

	if err := p.store.SetProblemStatus(ctx, s.ProblemID, docstore.ProblemResearching); err != nil {
		return fail(ctx, fmt.Errorf("update problem status: %w", err)), nil
	}

	ctx.Logger().Info("links saved for review", "links", len(created))
	return flowgraph.Update[State]{
		FieldCreatedLinkIDs.Set(created),
		FieldNeedsApproval.Set(true),
	}, nil
}

type approvedLink struct {
	link    *docstore.ResearchLink
	paper   *docstore.Paper
	insight *docstore.Insight
}

func (p *Pipeline) generateReport(ctx flowgraph.Context, s State) (flowgraph.Update[State], error) {
	if len(s.ApprovedLinkIDs) == 0 {
		return nil, nil
	}

	links, err := p.loadApproved(ctx, s.ApprovedLinkIDs)
	if err != nil {
		return fail(ctx, err), nil
	}
	if len(links) == 0 {
		return fail(ctx, errors.New("no valid approved links found")), nil
	}

	text, err := reportPrompt.Render(map[string]any{
		"problemTitle":       Sanitize(s.Problem.Title),
		"problemDescription": Sanitize(s.Problem.Description),
		"problemCategory":    Sanitize(s.Problem.Category),
		"problemSeverity":    Sanitize(s.Problem.Severity),
		"researchLinks":      summarizeLinks(links),
	})
	if err != nil {
		return fail(ctx, err), nil
	}

	resp, err := p.client.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{llm.User(text)},
		Model:       p.model,
		MaxTokens:   ReportMaxTokens,
		Temperature: llm.Temperature(0.4),
	})
	if err != nil {
		return fail(ctx, fmt.Errorf("generate report: %w", err)), nil
	}
	parsed, err := llm.ParseFenced[reportResponse](resp.Content)
	if err != nil {
		return fail(ctx, fmt.Errorf("failed to parse or validate report: %w", err)), nil
	}

	report := buildReport(s, links, parsed)
	id, err := p.store.CreateReport(ctx, report)
	if err != nil {
		return fail(ctx, fmt.Errorf("save report: %w", err)), nil
	}
	if err := p.store.SetProblemStatus(ctx, s.ProblemID, docstore.ProblemSolutionFound); err != nil {
		return fail(ctx, fmt.Errorf("update problem status: %w", err)), nil
	}

	ctx.Logger().Info("solution report generated", "report_id", id, "links", len(links))
	return flowgraph.Update[State]{FieldReportID.Set(id)}, nil
}

// loadApproved fetches each approved link with its paper and insight,
// keeping the order of ids. Links or papers that no longer exist are skipped.
func (p *Pipeline) loadApproved(ctx context.Context, ids []string) ([]approvedLink, error) {
	found := make([]*approvedLink, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.batchSize)
	for i, id := range ids {
		g.Go(func() error {
			link, err := p.store.GetLink(gctx, id)
			if errors.Is(err, docstore.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("link %s: %w", id, err)
			}
			paper, err := p.store.GetPaper(gctx, link.PaperID)
			if errors.Is(err, docstore.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("paper %s: %w", link.PaperID, err)
			}
			al := &approvedLink{link: link, paper: paper}
			if link.InsightID != "" {
				insight, err := p.store.InsightByPaper(gctx, link.PaperID)
				if err != nil && !errors.Is(err, docstore.ErrNotFound) {
					return fmt.Errorf("insight of %s: %w", link.PaperID, err)
				}
				al.insight = insight
			}
			found[i] = al
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load approved links: %w", err)
	}

	var out []approvedLink
	for _, al := range found {
		if al != nil {
			out = append(out, *al)
		}
	}
	return out, nil
}

// summarizeLinks numbers links from 1; the report cites them as paper1..N.
func summarizeLinks(links []approvedLink) string {
	parts := make([]string, len(links))
	for i, al := range links {
		var b strings.Builder
		fmt.Fprintf(&b, "### Link %d (paper%d): %s\n", i+1, i+1, Sanitize(al.paper.Title))
		fmt.Fprintf(&b, "Match Type: %s\n", al.link.MatchType)
		fmt.Fprintf(&b, "Relevance Score: %.1f%%\n", al.link.RelevanceScore*100)
		fmt.Fprintf(&b, "Rationale: %s\n", Sanitize(al.link.MatchRationale))
		fmt.Fprintf(&b, "Key Insights: %s\n", Sanitize(strings.Join(al.link.KeyInsights, ", ")))
		fmt.Fprintf(&b, "Application Suggestions: %s", Sanitize(strings.Join(al.link.ApplicationSuggestions, ", ")))
		if al.insight != nil {
			fmt.Fprintf(&b, "\nSummary: %s", Sanitize(al.insight.Summary))
		}
		parts[i] = b.String()
	}
	return strings.Join(parts, "\n\n")
}

func buildReport(s State, links []approvedLink, r reportResponse) *docstore.SolutionReport {
	papers := make(map[string]string, len(links))
	for i, al := range links {
		papers[fmt.Sprintf("paper%d", i+1)] = al.paper.ID
	}
	resolve := func(refs []string) []string {
		out := []string{}
		for _, ref := range refs {
			if id, ok := papers[ref]; ok {
				out = append(out, id)
			}
		}
		return out
	}

	report := &docstore.SolutionReport{
		ProblemID:        s.ProblemID,
		Title:            r.Title,
		ExecutiveSummary: r.ExecutiveSummary,
		Sections:         make([]docstore.ReportSection, len(r.Sections)),
		Recommendations:  make([]docstore.Recommendation, len(r.Recommendations)),
		LinkedResearch:   s.ApprovedLinkIDs,
	}
	for i, sec := range r.Sections {
		report.Sections[i] = docstore.ReportSection{Title: sec.Title, Content: sec.Content, Citations: resolve(sec.PaperIDs)}
	}
	for i, rec := range r.Recommendations {
		report.Recommendations[i] = docstore.Recommendation{
			Title:         rec.Title,
			Description:   rec.Description,
			Priority:      rec.Priority,
			Effort:        rec.Effort,
			RelatedPapers: resolve(rec.PaperIDs),
		}
	}
	return report
}
