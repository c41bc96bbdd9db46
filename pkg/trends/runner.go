package trends

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/paperflow/pkg/docstore"
	"github.com/randalmurphal/paperflow/pkg/flowgraph"
	"github.com/randalmurphal/paperflow/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/paperflow/pkg/flowgraph/inflight"
)

// Request defaults.
const (
	DefaultCategory = "cs.AI"
	DefaultPeriod   = Weekly
)

// Request describes one trend-analysis run.
type Request struct {
	Category string `json:"category"`
	Period   Period `json:"period"`
}

// withDefaults fills empty fields and checks the period.
func (r Request) withDefaults() (Request, error) {
	if r.Category == "" {
		r.Category = DefaultCategory
	}
	if r.Period == "" {
		r.Period = DefaultPeriod
	}
	if !r.Period.Valid() {
		return r, fmt.Errorf("%w: %q", ErrInvalidPeriod, r.Period)
	}
	return r, nil
}

// Runner executes trend-analysis runs and keeps their AgentRun records in
// step with the graph.
type Runner struct {
	graph       *flowgraph.CompiledGraph[State]
	runs        docstore.RunStore
	checkpoints checkpoint.Store
	tracker     *inflight.Tracker
	logger      *slog.Logger
	runOpts     []flowgraph.RunOption
	retain      int
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the logger handed to every run.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithCheckpoints checkpoints every run on a thread named after its run ID.
func WithCheckpoints(store checkpoint.Store) RunnerOption {
	return func(r *Runner) { r.checkpoints = store }
}

// WithRetain prunes each finished thread to its newest n checkpoints.
// 0 keeps all.
func WithRetain(n int) RunnerOption {
	return func(r *Runner) { r.retain = n }
}

// WithTracker shares a Tracker with other runners so one shutdown drains all.
func WithTracker(t *inflight.Tracker) RunnerOption {
	return func(r *Runner) { r.tracker = t }
}

// WithRunOptions appends executor options (metrics, tracing, limits) to every run.
func WithRunOptions(opts ...flowgraph.RunOption) RunnerOption {
	return func(r *Runner) { r.runOpts = append(r.runOpts, opts...) }
}

// NewRunner builds a Runner around a compiled trend-analysis graph.
func NewRunner(graph *flowgraph.CompiledGraph[State], runs docstore.RunStore, opts ...RunnerOption) *Runner {
	r := &Runner{graph: graph, runs: runs, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	if r.tracker == nil {
		r.tracker = inflight.New()
	}
	return r
}

// Trigger creates a pending run and executes it in the background. The run
// outlives ctx; use Cancel to stop it.
func (r *Runner) Trigger(ctx context.Context, req Request, triggeredBy string) (*docstore.AgentRun, error) {
	run, err := r.create(ctx, &req, triggeredBy)
	if err != nil {
		return nil, err
	}

	runCtx, finish, err := r.tracker.Start(context.WithoutCancel(ctx), run.ID)
	if err != nil {
		return nil, r.abandon(ctx, run.ID, err)
	}
	go func() {
		defer finish()
		if _, err := r.execute(runCtx, run.ID, req); err != nil {
			r.logger.Error("trend analysis run failed", "run_id", run.ID, "error", err.Error())
		}
	}()
	return run, nil
}

// Run creates a run and executes it synchronously, returning the final
// pipeline state. The AgentRun record reflects the outcome either way.
func (r *Runner) Run(ctx context.Context, req Request, triggeredBy string) (*docstore.AgentRun, State, error) {
	run, err := r.create(ctx, &req, triggeredBy)
	if err != nil {
		return nil, State{}, err
	}

	runCtx, finish, err := r.tracker.Start(ctx, run.ID)
	if err != nil {
		return nil, State{}, r.abandon(ctx, run.ID, err)
	}
	defer finish()

	final, err := r.execute(runCtx, run.ID, req)
	if got, getErr := r.runs.GetRun(ctx, run.ID); getErr == nil {
		run = got
	}
	return run, final, err
}

// Cancel stops a run. A run still executing is interrupted before its next
// node; the record moves to cancelled.
func (r *Runner) Cancel(ctx context.Context, runID string) error {
	running := r.tracker.Cancel(runID, nil)
	err := r.runs.CancelRun(ctx, runID)
	if running {
		// The interrupted run may have recorded its own cancellation first.
		return ignoreTransition(err)
	}
	return err
}

// Wait blocks until every background run has finished or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	return r.tracker.Wait(ctx)
}

func (r *Runner) create(ctx context.Context, req *Request, triggeredBy string) (*docstore.AgentRun, error) {
	full, err := req.withDefaults()
	if err != nil {
		return nil, err
	}
	*req = full
	return r.runs.CreateRun(ctx, docstore.AgentTrendAnalysis, triggeredBy, map[string]string{
		"category": full.Category,
		"period":   string(full.Period),
	})
}

func (r *Runner) execute(ctx context.Context, runID string, req Request) (State, error) {
	logger := r.logger.With("run_id", runID, "agent", string(docstore.AgentTrendAnalysis))
	if err := r.runs.StartRun(ctx, runID); err != nil {
		return State{}, r.abandon(ctx, runID, fmt.Errorf("start run: %w", err))
	}

	opts := append([]flowgraph.RunOption{flowgraph.WithThreadID(runID)}, r.runOpts...)
	if r.checkpoints != nil {
		opts = append(opts, flowgraph.WithCheckpointing(r.checkpoints))
	}

	fctx := flowgraph.NewContext(ctx, flowgraph.WithLogger(logger), flowgraph.WithContextRunID(runID))
	final, runErr := r.graph.Run(fctx, NewState(req.Category, req.Period), opts...)

	// The record must be updated even when the run's own context was cancelled.
	bg := context.WithoutCancel(ctx)
	var recErr error
	switch {
	case runErr != nil && errors.Is(runErr, context.Canceled):
		recErr = ignoreTransition(r.runs.CancelRun(bg, runID))
	case runErr != nil:
		recErr = r.runs.FailRun(bg, runID, docstore.RunError{Message: runErr.Error(), Code: "execution_error", Node: flowgraph.FailedNode(runErr)})
	case final.Error != "":
		recErr = r.runs.FailRun(bg, runID, docstore.RunError{Message: final.Error, Code: "pipeline_error"})
	default:
		recErr = ignoreTransition(r.runs.CompleteRun(bg, runID, docstore.RunOutput{
			Status:      docstore.OutputCompleted,
			TrendIDs:    final.SavedTrendIDs,
			TrendsFound: len(final.Trends),
			Forecasts:   len(final.Forecasts),
		}))
	}

	if r.checkpoints != nil && r.retain > 0 {
		if removed, err := r.checkpoints.Prune(bg, runID, r.retain); err != nil {
			logger.Warn("checkpoint prune failed", "error", err.Error())
		} else if removed > 0 {
			logger.Debug("checkpoints pruned", "removed", removed)
		}
	}

	if runErr != nil {
		return final, runErr
	}
	if final.Error != "" {
		return final, errors.New(final.Error)
	}
	return final, recErr
}

// abandon closes a run that never reached running so it is not left
// pending: cancelled when ctx was, failed otherwise. A run already closed
// keeps its status.
func (r *Runner) abandon(ctx context.Context, runID string, cause error) error {
	bg := context.WithoutCancel(ctx)
	var err error
	if ctx.Err() != nil || errors.Is(cause, context.Canceled) {
		err = r.runs.CancelRun(bg, runID)
	} else {
		err = r.runs.FailRun(bg, runID, docstore.RunError{Message: cause.Error(), Code: "start_error"})
	}
	return errors.Join(cause, ignoreTransition(err))
}

// ignoreTransition drops ErrInvalidTransition: a run cancelled while its
// last node ran is already terminal.
func ignoreTransition(err error) error {
	if errors.Is(err, docstore.ErrInvalidTransition) {
		return nil
	}
	return err
}
