package docstore

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/randalmurphal/paperflow/pkg/vector"
)

// PaperStore reads and writes papers.
type PaperStore interface {
	PutPaper(ctx context.Context, p *Paper) (string, error)
	GetPaper(ctx context.Context, id string) (*Paper, error)
	ListPapers(ctx context.Context, q PaperQuery) ([]*Paper, error)
}

// InsightStore reads, writes and searches insights.
type InsightStore interface {
	PutInsight(ctx context.Context, in *Insight) (string, error)
	GetInsight(ctx context.Context, id string) (*Insight, error)
	InsightByPaper(ctx context.Context, paperID string) (*Insight, error)
	SearchInsights(ctx context.Context, embedding []float64, limit int) ([]ScoredInsight, error)
}

// ProblemStore reads and writes problems.
type ProblemStore interface {
	PutProblem(ctx context.Context, p *Problem) (string, error)
	GetProblem(ctx context.Context, id string) (*Problem, error)
	SetProblemStatus(ctx context.Context, id string, status ProblemStatus) error
}

// LinkStore reads and writes research links.
type LinkStore interface {
	CreateLink(ctx context.Context, l *ResearchLink) (string, error)
	GetLink(ctx context.Context, id string) (*ResearchLink, error)
	SetLinkReview(ctx context.Context, id string, status ReviewStatus) error
	ListLinks(ctx context.Context, q LinkQuery) ([]*ResearchLink, error)
}

// ReportStore reads and writes solution reports.
type ReportStore interface {
	CreateReport(ctx context.Context, r *SolutionReport) (string, error)
	GetReport(ctx context.Context, id string) (*SolutionReport, error)
}

// TrendStore upserts trends by their natural key.
type TrendStore interface {
	UpsertTrend(ctx context.Context, t *TrendRecord) (string, error)
	GetTrend(ctx context.Context, trendID string) (*TrendRecord, error)
	ListTrends(ctx context.Context, category string) ([]*TrendRecord, error)
}

// RunStore manages AgentRun records and their lifecycle.
type RunStore interface {
	CreateRun(ctx context.Context, agentType AgentType, triggeredBy string, input map[string]string) (*AgentRun, error)
	StartRun(ctx context.Context, id string) error
	UpdateRunOutput(ctx context.Context, id string, out RunOutput) error
	CompleteRun(ctx context.Context, id string, out RunOutput) error
	FailRun(ctx context.Context, id string, runErr RunError) error
	CancelRun(ctx context.Context, id string) error
	GetRun(ctx context.Context, id string) (*AgentRun, error)
	ListRuns(ctx context.Context, q RunQuery) ([]*AgentRun, error)
}

// Store is the full document and vector store consumed by the pipelines.
type Store interface {
	PaperStore
	InsightStore
	ProblemStore
	LinkStore
	ReportStore
	TrendStore
	RunStore
	Close() error
}

// PaperQuery filters ListPapers. Zero fields do not filter.
type PaperQuery struct {
	// Category matches the primary category or any listed category.
	Category string
	// From and To bound PublishedDate as [From, To).
	From, To time.Time
	Limit    int
}

// LinkQuery filters ListLinks. Zero fields do not filter.
type LinkQuery struct {
	ProblemID    string
	ReviewStatus ReviewStatus
}

// RunQuery filters ListRuns. Limit defaults to 50.
type RunQuery struct {
	AgentType AgentType
	Status    RunStatus
	Limit     int
}

// DefaultRunListLimit caps ListRuns when RunQuery.Limit is unset.
const DefaultRunListLimit = 50

// DB implements Store on top of a Backend.
type DB struct {
	b   Backend
	now func() time.Time
}

// New builds a DB on b.
func New(b Backend) *DB {
	return &DB{b: b, now: time.Now}
}

// Close closes the backend.
func (db *DB) Close() error {
	return db.b.Close()
}

func get[T any](ctx context.Context, b Backend, coll, id string) (*T, error) {
	raw, err := b.Get(ctx, coll, id)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", coll, id, err)
	}
	return &v, nil
}

func put[T any](ctx context.Context, b Backend, coll, id string, v *T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", coll, id, err)
	}
	return b.Put(ctx, coll, id, raw)
}

// update applies fn to an existing document. Missing documents give ErrNotFound.
func update[T any](ctx context.Context, b Backend, coll, id string, fn func(*T) error) error {
	return b.Update(ctx, coll, id, func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, ErrNotFound
		}
		var v T
		if err := json.Unmarshal(current, &v); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", coll, id, err)
		}
		if err := fn(&v); err != nil {
			return nil, err
		}
		return json.Marshal(&v)
	})
}

func list[T any](ctx context.Context, b Backend, coll string, keep func(*T) bool) ([]*T, error) {
	recs, err := b.List(ctx, coll)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(recs))
	for _, r := range recs {
		var v T
		if err := json.Unmarshal(r.Body, &v); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", coll, r.ID, err)
		}
		if keep == nil || keep(&v) {
			out = append(out, &v)
		}
	}
	return out, nil
}

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

// PutPaper implements PaperStore.
func (db *DB) PutPaper(ctx context.Context, p *Paper) (string, error) {
	if p.Title == "" {
		return "", fmt.Errorf("%w: paper title is required", ErrInvalidDocument)
	}
	ensureID(&p.ID)
	return p.ID, put(ctx, db.b, CollPapers, p.ID, p)
}

// GetPaper implements PaperStore.
func (db *DB) GetPaper(ctx context.Context, id string) (*Paper, error) {
	return get[Paper](ctx, db.b, CollPapers, id)
}

// ListPapers implements PaperStore. Papers are returned newest first.
func (db *DB) ListPapers(ctx context.Context, q PaperQuery) ([]*Paper, error) {
	papers, err := list(ctx, db.b, CollPapers, func(p *Paper) bool {
		if q.Category != "" && p.PrimaryCategory != q.Category && !slices.Contains(p.Categories, q.Category) {
			return false
		}
		if !q.From.IsZero() && p.PublishedDate.Before(q.From) {
			return false
		}
		if !q.To.IsZero() && !p.PublishedDate.Before(q.To) {
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(papers, func(a, b *Paper) int {
		return b.PublishedDate.Compare(a.PublishedDate)
	})
	if q.Limit > 0 && len(papers) > q.Limit {
		papers = papers[:q.Limit]
	}
	return papers, nil
}

// PutInsight implements InsightStore.
func (db *DB) PutInsight(ctx context.Context, in *Insight) (string, error) {
	if in.PaperID == "" {
		return "", fmt.Errorf("%w: insight paper id is required", ErrInvalidDocument)
	}
	ensureID(&in.ID)
	return in.ID, put(ctx, db.b, CollInsights, in.ID, in)
}

// GetInsight implements InsightStore.
func (db *DB) GetInsight(ctx context.Context, id string) (*Insight, error) {
	return get[Insight](ctx, db.b, CollInsights, id)
}

// InsightByPaper implements InsightStore. The first insight stored for the
// paper wins.
func (db *DB) InsightByPaper(ctx context.Context, paperID string) (*Insight, error) {
	ins, err := list(ctx, db.b, CollInsights, func(in *Insight) bool { return in.PaperID == paperID })
	if err != nil {
		return nil, err
	}
	if len(ins) == 0 {
		return nil, ErrNotFound
	}
	return ins[0], nil
}

// SearchInsights implements InsightStore by scanning every embedded
// insight and ranking by cosine similarity.
func (db *DB) SearchInsights(ctx context.Context, embedding []float64, limit int) ([]ScoredInsight, error) {
	ins, err := list(ctx, db.b, CollInsights, func(in *Insight) bool { return len(in.Embedding) > 0 })
	if err != nil {
		return nil, err
	}
	vecs := make([][]float64, len(ins))
	for i, in := range ins {
		vecs[i] = in.Embedding
	}

	matches := vector.TopK(embedding, vecs, limit, -1)
	out := make([]ScoredInsight, len(matches))
	for i, m := range matches {
		out[i] = ScoredInsight{Insight: *ins[m.Index], Score: m.Score}
	}
	return out, nil
}

// PutProblem implements ProblemStore.
func (db *DB) PutProblem(ctx context.Context, p *Problem) (string, error) {
	if p.Title == "" {
		return "", fmt.Errorf("%w: problem title is required", ErrInvalidDocument)
	}
	ensureID(&p.ID)
	if p.Status == "" {
		p.Status = ProblemNew
	}
	return p.ID, put(ctx, db.b, CollProblems, p.ID, p)
}

// GetProblem implements ProblemStore.
func (db *DB) GetProblem(ctx context.Context, id string) (*Problem, error) {
	return get[Problem](ctx, db.b, CollProblems, id)
}

// SetProblemStatus implements ProblemStore.
func (db *DB) SetProblemStatus(ctx context.Context, id string, status ProblemStatus) error {
	return update(ctx, db.b, CollProblems, id, func(p *Problem) error {
		p.Status = status
		return nil
	})
}

// CreateLink implements LinkStore. New links start as pending.
func (db *DB) CreateLink(ctx context.Context, l *ResearchLink) (string, error) {
	if l.ProblemID == "" || l.PaperID == "" {
		return "", fmt.Errorf("%w: link needs problem and paper ids", ErrInvalidDocument)
	}
	ensureID(&l.ID)
	l.ReviewStatus = ReviewPending
	l.CreatedAt = db.now()
	return l.ID, put(ctx, db.b, CollLinks, l.ID, l)
}

// GetLink implements LinkStore.
func (db *DB) GetLink(ctx context.Context, id string) (*ResearchLink, error) {
	return get[ResearchLink](ctx, db.b, CollLinks, id)
}

// SetLinkReview implements LinkStore.
func (db *DB) SetLinkReview(ctx context.Context, id string, status ReviewStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: review status %q", ErrInvalidDocument, status)
	}
	now := db.now()
	return update(ctx, db.b, CollLinks, id, func(l *ResearchLink) error {
		l.ReviewStatus = status
		l.ReviewedAt = &now
		return nil
	})
}

// ListLinks implements LinkStore. Links are returned in creation order.
func (db *DB) ListLinks(ctx context.Context, q LinkQuery) ([]*ResearchLink, error) {
	return list(ctx, db.b, CollLinks, func(l *ResearchLink) bool {
		return (q.ProblemID == "" || l.ProblemID == q.ProblemID) &&
			(q.ReviewStatus == "" || l.ReviewStatus == q.ReviewStatus)
	})
}

// CreateReport implements ReportStore.
func (db *DB) CreateReport(ctx context.Context, r *SolutionReport) (string, error) {
	if r.ProblemID == "" {
		return "", fmt.Errorf("%w: report problem id is required", ErrInvalidDocument)
	}
	ensureID(&r.ID)
	r.CreatedAt = db.now()
	return r.ID, put(ctx, db.b, CollReports, r.ID, r)
}

// GetReport implements ReportStore.
func (db *DB) GetReport(ctx context.Context, id string) (*SolutionReport, error) {
	return get[SolutionReport](ctx, db.b, CollReports, id)
}

// UpsertTrend implements TrendStore. Records are keyed by TrendID; an
// existing record keeps its ID and is otherwise replaced.
func (db *DB) UpsertTrend(ctx context.Context, t *TrendRecord) (string, error) {
	if t.TrendID == "" {
		return "", fmt.Errorf("%w: trend id is required", ErrInvalidDocument)
	}
	err := db.b.Update(ctx, CollTrends, t.TrendID, func(current []byte) ([]byte, error) {
		if current != nil {
			var prev TrendRecord
			if err := json.Unmarshal(current, &prev); err != nil {
				return nil, fmt.Errorf("decode %s/%s: %w", CollTrends, t.TrendID, err)
			}
			t.ID = prev.ID
		}
		ensureID(&t.ID)
		t.UpdatedAt = db.now()
		return json.Marshal(t)
	})
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

// GetTrend implements TrendStore.
func (db *DB) GetTrend(ctx context.Context, trendID string) (*TrendRecord, error) {
	return get[TrendRecord](ctx, db.b, CollTrends, trendID)
}

// ListTrends implements TrendStore, ordered by descending trend score.
func (db *DB) ListTrends(ctx context.Context, category string) ([]*TrendRecord, error) {
	trends, err := list(ctx, db.b, CollTrends, func(t *TrendRecord) bool {
		return category == "" || t.Category == category
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(trends, func(a, b *TrendRecord) int {
		return cmp.Compare(b.Metrics.TrendScore, a.Metrics.TrendScore)
	})
	return trends, nil
}

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
