// Package docstoretest holds the contract tests every docstore.Backend
// must pass.
package docstoretest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/randalmurphal/paperflow/pkg/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// BackendFactory returns a fresh, empty backend.
type BackendFactory func(t *testing.T) docstore.Backend

// RunBackendTests checks the raw Backend contract.
func RunBackendTests(t *testing.T, factory BackendFactory) {
	ctx := context.Background()

	t.Run("Put_Get", func(t *testing.T) {
		b := factory(t)
		require.NoError(t, b.Put(ctx, "c", "a", []byte(`{"v":1}`)))

		got, err := b.Get(ctx, "c", "a")
		require.NoError(t, err)
		assert.JSONEq(t, `{"v":1}`, string(got))

		_, err = b.Get(ctx, "c", "missing")
		assert.ErrorIs(t, err, docstore.ErrNotFound)
		_, err = b.Get(ctx, "other", "a")
		assert.ErrorIs(t, err, docstore.ErrNotFound)
	})

	t.Run("List_InsertionOrder", func(t *testing.T) {
		b := factory(t)
		for _, id := range []string{"x", "a", "m"} {
			require.NoError(t, b.Put(ctx, "c", id, []byte(`{}`)))
		}
		require.NoError(t, b.Put(ctx, "c", "a", []byte(`{"replaced":true}`)))
		require.NoError(t, b.Put(ctx, "d", "z", []byte(`{}`)))

		recs, err := b.List(ctx, "c")
		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, []string{"x", "a", "m"}, ids(recs), "replacing keeps position")
		assert.JSONEq(t, `{"replaced":true}`, string(recs[1].Body))

		empty, err := b.List(ctx, "none")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("Update", func(t *testing.T) {
		b := factory(t)

		require.NoError(t, b.Update(ctx, "c", "new", func(cur []byte) ([]byte, error) {
			assert.Nil(t, cur)
			return []byte(`{"n":1}`), nil
		}))
		require.NoError(t, b.Update(ctx, "c", "new", func(cur []byte) ([]byte, error) {
			assert.JSONEq(t, `{"n":1}`, string(cur))
			return []byte(`{"n":2}`), nil
		}))
		got, err := b.Get(ctx, "c", "new")
		require.NoError(t, err)
		assert.JSONEq(t, `{"n":2}`, string(got))

		abort := errors.New("abort")
		err = b.Update(ctx, "c", "new", func([]byte) ([]byte, error) { return nil, abort })
		assert.ErrorIs(t, err, abort)
		got, err = b.Get(ctx, "c", "new")
		require.NoError(t, err)
		assert.JSONEq(t, `{"n":2}`, string(got), "aborted update leaves the document")
	})

	t.Run("Update_Concurrent", func(t *testing.T) {
		b := factory(t)
		require.NoError(t, b.Put(ctx, "c", "counter", []byte("0")))

		var wg sync.WaitGroup
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, b.Update(ctx, "c", "counter", func(cur []byte) ([]byte, error) {
					var n int
					_, _ = fmt.Sscanf(string(cur), "%d", &n)
					return []byte(fmt.Sprint(n + 1)), nil
				}))
			}()
		}
		wg.Wait()

		got, err := b.Get(ctx, "c", "counter")
		require.NoError(t, err)
		assert.Equal(t, "20", string(got))
	})

	t.Run("Delete", func(t *testing.T) {
		b := factory(t)
		require.NoError(t, b.Put(ctx, "c", "a", []byte(`{}`)))
		require.NoError(t, b.Put(ctx, "c", "b", []byte(`{}`)))

		require.NoError(t, b.Delete(ctx, "c", "a"))
		require.NoError(t, b.Delete(ctx, "c", "never"))

		_, err := b.Get(ctx, "c", "a")
		assert.ErrorIs(t, err, docstore.ErrNotFound)
		recs, err := b.List(ctx, "c")
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, ids(recs))
	})

	t.Run("Closed", func(t *testing.T) {
		b := factory(t)
		require.NoError(t, b.Close())
		require.NoError(t, b.Close())

		_, err := b.Get(ctx, "c", "a")
		assert.ErrorIs(t, err, docstore.ErrClosed)
		assert.ErrorIs(t, b.Put(ctx, "c", "a", []byte(`{}`)), docstore.ErrClosed)
	})
}

// RunStoreTests checks docstore.DB semantics over backends from factory.
func RunStoreTests(t *testing.T, factory BackendFactory) {
	ctx := context.Background()
	newDB := func(t *testing.T) *docstore.DB { return docstore.New(factory(t)) }

	t.Run("Papers", func(t *testing.T) {
		db := newDB(t)
		day := func(d int) time.Time { return time.Date(2026, 3, d, 12, 0, 0, 0, time.UTC) }

		for _, p := range []docstore.Paper{
			{ID: "p1", Title: "old", PrimaryCategory: "cs.AI", PublishedDate: day(1)},
			{ID: "p2", Title: "newest", PrimaryCategory: "cs.LG", Categories: []string{"cs.LG", "cs.AI"}, PublishedDate: day(9)},
			{ID: "p3", Title: "mid", PrimaryCategory: "cs.AI", PublishedDate: day(5)},
			{ID: "p4", Title: "other", PrimaryCategory: "cs.CV", PublishedDate: day(6)},
		} {
			_, err := db.PutPaper(ctx, &p)
			require.NoError(t, err)
		}

		got, err := db.ListPapers(ctx, docstore.PaperQuery{Category: "cs.AI"})
		require.NoError(t, err)
		assert.Equal(t, []string{"p2", "p3", "p1"}, paperIDs(got))

		got, err = db.ListPapers(ctx, docstore.PaperQuery{Category: "cs.AI", From: day(2), To: day(9)})
		require.NoError(t, err)
		assert.Equal(t, []string{"p3"}, paperIDs(got), "To is exclusive")

		got, err = db.ListPapers(ctx, docstore.PaperQuery{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"p2", "p4"}, paperIDs(got))

		_, err = db.PutPaper(ctx, &docstore.Paper{})
		assert.ErrorIs(t, err, docstore.ErrInvalidDocument)

		_, err = db.GetPaper(ctx, "nope")
		assert.ErrorIs(t, err, docstore.ErrNotFound)
	})

	t.Run("Insights_Search", func(t *testing.T) {
		db := newDB(t)
		for _, in := range []docstore.Insight{
			{ID: "i1", PaperID: "p1", Summary: "x axis", Embedding: []float64{1, 0}},
			{ID: "i2", PaperID: "p2", Summary: "diagonal", Embedding: []float64{1, 1}},
			{ID: "i3", PaperID: "p3", Summary: "y axis", Embedding: []float64{0, 1}},
			{ID: "i4", PaperID: "p4", Summary: "no vector"},
		} {
			_, err := db.PutInsight(ctx, &in)
			require.NoError(t, err)
		}

		hits, err := db.SearchInsights(ctx, []float64{1, 0.1}, 2)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, "i1", hits[0].ID)
		assert.Equal(t, "i2", hits[1].ID)
		assert.Greater(t, hits[0].Score, hits[1].Score)

		in, err := db.InsightByPaper(ctx, "p3")
		require.NoError(t, err)
		assert.Equal(t, "i3", in.ID)
		_, err = db.InsightByPaper(ctx, "p9")
		assert.ErrorIs(t, err, docstore.ErrNotFound)
	})

	t.Run("Problems", func(t *testing.T) {
		db := newDB(t)
		id, err := db.PutProblem(ctx, &docstore.Problem{Title: "churn", Description: "users leave"})
		require.NoError(t, err)
		assert.NotEmpty(t, id)

		p, err := db.GetProblem(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, docstore.ProblemNew, p.Status)

		require.NoError(t, db.SetProblemStatus(ctx, id, docstore.ProblemResearching))
		p, err = db.GetProblem(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, docstore.ProblemResearching, p.Status)

		assert.ErrorIs(t, db.SetProblemStatus(ctx, "missing", docstore.ProblemResearching), docstore.ErrNotFound)
	})

	t.Run("Links", func(t *testing.T) {
		db := newDB(t)
		a, err := db.CreateLink(ctx, &docstore.ResearchLink{ProblemID: "pr1", PaperID: "p1", RelevanceScore: 0.7})
		require.NoError(t, err)
		b, err := db.CreateLink(ctx, &docstore.ResearchLink{ProblemID: "pr1", PaperID: "p2"})
		require.NoError(t, err)
		_, err = db.CreateLink(ctx, &docstore.ResearchLink{ProblemID: "pr2", PaperID: "p3"})
		require.NoError(t, err)

		l, err := db.GetLink(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, docstore.ReviewPending, l.ReviewStatus)
		assert.False(t, l.CreatedAt.IsZero())

		require.NoError(t, db.SetLinkReview(ctx, b, docstore.ReviewAccepted))
		assert.ErrorIs(t, db.SetLinkReview(ctx, b, "maybe"), docstore.ErrInvalidDocument)
		assert.ErrorIs(t, db.SetLinkReview(ctx, "missing", docstore.ReviewAccepted), docstore.ErrNotFound)

		all, err := db.ListLinks(ctx, docstore.LinkQuery{ProblemID: "pr1"})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, a, all[0].ID)

		accepted, err := db.ListLinks(ctx, docstore.LinkQuery{ProblemID: "pr1", ReviewStatus: docstore.ReviewAccepted})
		require.NoError(t, err)
		require.Len(t, accepted, 1)
		assert.Equal(t, b, accepted[0].ID)
		assert.NotNil(t, accepted[0].ReviewedAt)

		_, err = db.CreateLink(ctx, &docstore.ResearchLink{PaperID: "p1"})
		assert.ErrorIs(t, err, docstore.ErrInvalidDocument)
	})

	t.Run("Reports", func(t *testing.T) {
		db := newDB(t)
		id, err := db.CreateReport(ctx, &docstore.SolutionReport{ProblemID: "pr1", Title: "Plan",
			Sections: []docstore.ReportSection{{Title: "S", Content: "body", Citations: []string{"p1"}}}})
		require.NoError(t, err)

		r, err := db.GetReport(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Plan", r.Title)
		assert.Equal(t, []string{"p1"}, r.Sections[0].Citations)
	})

	t.Run("Trends_Upsert", func(t *testing.T) {
		db := newDB(t)
		first := &docstore.TrendRecord{TrendID: "t-1", Name: "Diffusion", Category: "cs.AI", Metrics: docstore.TrendMetrics{TrendScore: 40}}
		id1, err := db.UpsertTrend(ctx, first)
		require.NoError(t, err)

		second := &docstore.TrendRecord{TrendID: "t-1", Name: "Diffusion models", Category: "cs.AI", Metrics: docstore.TrendMetrics{TrendScore: 55}}
		id2, err := db.UpsertTrend(ctx, second)
		require.NoError(t, err)
		assert.Equal(t, id1, id2, "natural key keeps the document id")

		_, err = db.UpsertTrend(ctx, &docstore.TrendRecord{TrendID: "t-2", Name: "Agents", Category: "cs.AI", Metrics: docstore.TrendMetrics{TrendScore: 70}})
		require.NoError(t, err)
		_, err = db.UpsertTrend(ctx, &docstore.TrendRecord{TrendID: "t-3", Name: "Vision", Category: "cs.CV"})
		require.NoError(t, err)

		got, err := db.GetTrend(ctx, "t-1")
		require.NoError(t, err)
		assert.Equal(t, "Diffusion models", got.Name)

		list, err := db.ListTrends(ctx, "cs.AI")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "t-2", list[0].TrendID)
		assert.Equal(t, "t-1", list[1].TrendID)

		_, err = db.UpsertTrend(ctx, &docstore.TrendRecord{})
		assert.ErrorIs(t, err, docstore.ErrInvalidDocument)
	})

	t.Run("Runs_Lifecycle", func(t *testing.T) {
		db := newDB(t)
		run, err := db.CreateRun(ctx, docstore.AgentResearchLinking, "", map[string]string{"problemId": "pr1"})
		require.NoError(t, err)
		assert.Equal(t, docstore.RunPending, run.Status)
		assert.Equal(t, "manual", run.TriggeredBy)

		require.NoError(t, db.StartRun(ctx, run.ID))
		require.NoError(t, db.UpdateRunOutput(ctx, run.ID, docstore.RunOutput{Status: docstore.OutputAwaitingApproval, LinksCreated: 2}))
		require.NoError(t, db.CompleteRun(ctx, run.ID, docstore.RunOutput{Status: docstore.OutputCompleted, ReportID: "r1"}))

		got, err := db.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, docstore.RunCompleted, got.Status)
		assert.NotNil(t, got.StartedAt)
		assert.NotNil(t, got.CompletedAt)
		assert.Equal(t, "r1", got.Output.ReportID)

		assert.ErrorIs(t, db.StartRun(ctx, run.ID), docstore.ErrInvalidTransition)
		assert.ErrorIs(t, db.FailRun(ctx, run.ID, docstore.RunError{Message: "late"}), docstore.ErrInvalidTransition)
		assert.ErrorIs(t, db.UpdateRunOutput(ctx, run.ID, docstore.RunOutput{}), docstore.ErrInvalidTransition)
		assert.ErrorIs(t, db.StartRun(ctx, "missing"), docstore.ErrNotFound)
	})

	t.Run("Runs_Transitions", func(t *testing.T) {
		tests := []struct {
			name  string
			setup []func(*docstore.DB, string) error
			apply func(*docstore.DB, string) error
			ok    bool
		}{
			{"start pending", nil, start, true},
			{"complete pending", nil, complete, true},
			{"fail pending", nil, fail, true},
			{"cancel pending", nil, cancel, true},
			{"start running", []func(*docstore.DB, string) error{start}, start, false},
			{"cancel running", []func(*docstore.DB, string) error{start}, cancel, true},
			{"fail running", []func(*docstore.DB, string) error{start}, fail, true},
			{"start cancelled", []func(*docstore.DB, string) error{cancel}, start, false},
			{"complete failed", []func(*docstore.DB, string) error{fail}, complete, false},
			{"cancel completed", []func(*docstore.DB, string) error{complete}, cancel, false},
		}

		db := newDB(t)
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				run, err := db.CreateRun(ctx, docstore.AgentTrendAnalysis, "manual", nil)
				require.NoError(t, err)
				for _, s := range tt.setup {
					require.NoError(t, s(db, run.ID))
				}
				err = tt.apply(db, run.ID)
				if tt.ok {
					assert.NoError(t, err)
				} else {
					assert.ErrorIs(t, err, docstore.ErrInvalidTransition)
				}
			})
		}
	})

	t.Run("Runs_List", func(t *testing.T) {
		db := newDB(t)
		var ids []string
		for i := range 4 {
			typ := docstore.AgentResearchLinking
			if i%2 == 1 {
				typ = docstore.AgentTrendAnalysis
			}
			run, err := db.CreateRun(ctx, typ, "manual", nil)
			require.NoError(t, err)
			ids = append(ids, run.ID)
		}
		require.NoError(t, db.StartRun(ctx, ids[2]))

		all, err := db.ListRuns(ctx, docstore.RunQuery{})
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, ids[3], all[0].ID, "newest first")

		linking, err := db.ListRuns(ctx, docstore.RunQuery{AgentType: docstore.AgentResearchLinking})
		require.NoError(t, err)
		assert.Len(t, linking, 2)

		running, err := db.ListRuns(ctx, docstore.RunQuery{Status: docstore.RunRunning})
		require.NoError(t, err)
		require.Len(t, running, 1)
		assert.Equal(t, ids[2], running[0].ID)

		limited, err := db.ListRuns(ctx, docstore.RunQuery{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})
}

func start(db *docstore.DB, id string) error { return db.StartRun(context.Background(), id) }
func cancel(db *docstore.DB, id string) error { return db.CancelRun(context.Background(), id) }
func complete(db *docstore.DB, id string) error {
	return db.CompleteRun(context.Background(), id, docstore.RunOutput{Status: docstore.OutputCompleted})
}
func fail(db *docstore.DB, id string) error {
	return db.FailRun(context.Background(), id, docstore.RunError{Message: "boom"})
}

func ids(recs []docstore.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func paperIDs(ps []*docstore.Paper) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}
