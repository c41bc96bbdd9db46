package linking

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

var (
	// ErrProblemRequired is returned by Trigger for an empty problem ID.
	ErrProblemRequired = errors.New("problem id is required")

	// ErrNotAwaitingApproval is returned by Resume for a run that is not
	// paused for review.
	ErrNotAwaitingApproval = errors.New("run is not awaiting approval")

	// ErrNoAcceptedLinks is returned by Resume when no link of the run was
	// accepted.
	ErrNoAcceptedLinks = errors.New("no accepted links")

	// ErrRunFailed wraps the recorded error of a run that failed.
	ErrRunFailed = errors.New("research linking run failed")

	// ErrInvalidReview is returned by ReviewLink for a status other than
	// accepted or rejected.
	ErrInvalidReview = errors.New("review status must be accepted or rejected")
)

// Result summarizes a trigger or resume call.
type Result struct {
	RunID        string `json:"runId"`
	Status       string `json:"status"`
	LinksCreated int    `json:"linksCreated"`
	ReportID     string `json:"reportId,omitempty"`
	Error        string `json:"error,omitempty"`
}

// RunView is a run record together with the links it created.
type RunView struct {
	*docstore.AgentRun
	Links []*docstore.ResearchLink `json:"links"`
}

// Service runs research linking with a review pause between the linking
// graph and the report graph. Both graphs share the run's checkpoint thread.
type Service struct {
	graph       *flowgraph.CompiledGraph[State]
	reportGraph *flowgraph.CompiledGraph[State]
	store       Store
	runs        docstore.RunStore
	checkpoints checkpoint.Store
	tracker     *inflight.Tracker
	logger      *slog.Logger
	runOpts     []flowgraph.RunOption
	retain      int
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger handed to every run.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithCheckpoints checkpoints every run on a thread named after its run ID.
// Resume seeds the report graph from the latest checkpoint of that thread.
func WithCheckpoints(store checkpoint.Store) ServiceOption {
	return func(s *Service) { s.checkpoints = store }
}

// WithRetain prunes each finished thread to its newest n checkpoints.
// A thread paused for review is pruned once the report is written.
func WithRetain(n int) ServiceOption {
	return func(s *Service) { s.retain = n }
}

// WithTracker shares a Tracker with other runners so one shutdown drains all.
func WithTracker(t *inflight.Tracker) ServiceOption {
	return func(s *Service) { s.tracker = t }
}

// WithRunOptions appends executor options to every graph run.
func WithRunOptions(opts ...flowgraph.RunOption) ServiceOption {
	return func(s *Service) { s.runOpts = append(s.runOpts, opts...) }
}

// NewService compiles both graphs of p.
func NewService(p *Pipeline, runs docstore.RunStore, opts ...ServiceOption) (*Service, error) {
	graph, err := NewGraph(p)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", GraphName, err)
	}
	reportGraph, err := NewReportGraph(p)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", ReportGraphName, err)
	}

	s := &Service{
		graph:       graph,
		reportGraph: reportGraph,
		store:       p.store,
		runs:        runs,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracker == nil {
		s.tracker = inflight.New()
	}
	return s, nil
}

// Trigger runs the linking graph for a problem and waits for it. The run
// stays open with output status awaiting-approval while created links wait
// for review; with nothing to review it completes.
func (s *Service) Trigger(ctx context.Context, problemID, triggeredBy string) (Result, error) {
	if problemID == "" {
		return Result{}, ErrProblemRequired
	}
	if _, err := s.store.GetProblem(ctx, problemID); err != nil {
		return Result{}, fmt.Errorf("problem %s: %w", problemID, err)
	}

	run, err := s.runs.CreateRun(ctx, docstore.AgentResearchLinking, triggeredBy, map[string]string{
		"problemId": problemID,
	})
	if err != nil {
		return Result{}, err
	}
	res := Result{RunID: run.ID, Status: docstore.OutputFailed}

	runCtx, finish, err := s.tracker.Start(ctx, run.ID)
	if err != nil {
		err = s.abandon(ctx, run.ID, err)
		res.Error = err.Error()
		return res, err
	}
	defer finish()

	logger := s.logger.With("run_id", run.ID, "agent", string(docstore.AgentResearchLinking))
	if err := s.runs.StartRun(runCtx, run.ID); err != nil {
		err = s.abandon(runCtx, run.ID, fmt.Errorf("start run: %w", err))
		res.Error = err.Error()
		return res, err
	}

	final, runErr := s.execute(runCtx, logger, s.graph, run.ID, NewState(problemID, run.ID))
	bg := context.WithoutCancel(runCtx)
	if err := s.recordFailure(bg, run.ID, final, runErr); err != nil {
		res.Error = err.Error()
		return res, err
	}

	res.LinksCreated = len(final.CreatedLinkIDs)
	if final.NeedsApproval {
		res.Status = docstore.OutputAwaitingApproval
		err = s.runs.UpdateRunOutput(bg, run.ID, docstore.RunOutput{
			Status:       docstore.OutputAwaitingApproval,
			LinksCreated: res.LinksCreated,
			LinkIDs:      final.CreatedLinkIDs,
		})
		logger.Info("links awaiting review", "links", res.LinksCreated)
		return res, ignoreTransition(err)
	}

	res.Status = docstore.OutputCompleted
	res.ReportID = final.ReportID
	err = s.runs.CompleteRun(bg, run.ID, docstore.RunOutput{
		Status:       docstore.OutputCompleted,
		LinksCreated: res.LinksCreated,
		LinkIDs:      final.CreatedLinkIDs,
		ReportID:     final.ReportID,
	})
	s.prune(bg, logger, run.ID)
	return res, ignoreTransition(err)
}

// Resume writes the solution report of a run paused for review, using the
// run's accepted links. The run is checked while it is held in the
// tracker, so of two resumes of one run only the first writes a report.
func (s *Service) Resume(ctx context.Context, runID string) (Result, error) {
	runCtx, finish, err := s.tracker.Start(ctx, runID)
	if err != nil {
		return Result{}, err
	}
	defer finish()

	run, err := s.runs.GetRun(runCtx, runID)
	if err != nil {
		return Result{}, fmt.Errorf("run %s: %w", runID, err)
	}
	if run.AgentType != docstore.AgentResearchLinking || run.Status.Terminal() ||
		run.Output == nil || run.Output.Status != docstore.OutputAwaitingApproval {
		return Result{}, fmt.Errorf("%w: %s", ErrNotAwaitingApproval, runID)
	}

	accepted, err := s.acceptedLinks(runCtx, run.Output.LinkIDs)
	if err != nil {
		return Result{}, err
	}
	if len(accepted) == 0 {
		return Result{}, fmt.Errorf("%w: %s", ErrNoAcceptedLinks, runID)
	}

	res := Result{RunID: runID, Status: docstore.OutputFailed, LinksCreated: run.Output.LinksCreated}
	logger := s.logger.With("run_id", runID, "agent", string(docstore.AgentResearchLinking))
	seed, err := s.seed(runCtx, logger, run)
	if err != nil {
		return res, err
	}
	seed.ApprovedLinkIDs = accepted
	seed.NeedsApproval = false
	seed.Error = ""

	final, runErr := s.execute(runCtx, logger, s.reportGraph, runID, seed)
	bg := context.WithoutCancel(runCtx)
	if err := s.recordFailure(bg, runID, final, runErr); err != nil {
		res.Error = err.Error()
		return res, err
	}

	res.Status = docstore.OutputCompleted
	res.ReportID = final.ReportID
	err = s.runs.CompleteRun(bg, runID, docstore.RunOutput{
		Status:        docstore.OutputCompleted,
		LinksCreated:  run.Output.LinksCreated,
		LinkIDs:       run.Output.LinkIDs,
		ApprovedLinks: len(accepted),
		ReportID:      final.ReportID,
	})
	s.prune(bg, logger, runID)
	return res, ignoreTransition(err)
}

// Status returns a run with the links it created.
func (s *Service) Status(ctx context.Context, runID string) (*RunView, error) {
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	view := &RunView{AgentRun: run, Links: []*docstore.ResearchLink{}}
	if run.Output == nil {
		return view, nil
	}
	for _, id := range run.Output.LinkIDs {
		link, err := s.store.GetLink(ctx, id)
		if errors.Is(err, docstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("link %s: %w", id, err)
		}
		view.Links = append(view.Links, link)
	}
	return view, nil
}

// ReviewLink records a reviewer's decision on a link.
func (s *Service) ReviewLink(ctx context.Context, linkID string, status docstore.ReviewStatus) error {
	if status != docstore.ReviewAccepted && status != docstore.ReviewRejected {
		return fmt.Errorf("%w: %q", ErrInvalidReview, status)
	}
	if err := s.store.SetLinkReview(ctx, linkID, status); err != nil {
		return fmt.Errorf("link %s: %w", linkID, err)
	}
	return nil
}

// Cancel stops a run. A run paused for review is closed as cancelled.
func (s *Service) Cancel(ctx context.Context, runID string) error {
	running := s.tracker.Cancel(runID, nil)
	err := s.runs.CancelRun(ctx, runID)
	if running {
		return ignoreTransition(err)
	}
	return err
}

// Wait blocks until every in-flight run has finished or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	return s.tracker.Wait(ctx)
}

func (s *Service) execute(ctx context.Context, logger *slog.Logger, graph *flowgraph.CompiledGraph[State], runID string, state State) (State, error) {
	opts := append([]flowgraph.RunOption{flowgraph.WithThreadID(runID)}, s.runOpts...)
	if s.checkpoints != nil {
		opts = append(opts, flowgraph.WithCheckpointing(s.checkpoints))
	}
	fctx := flowgraph.NewContext(ctx, flowgraph.WithLogger(logger), flowgraph.WithContextRunID(runID))
	return graph.Run(fctx, state, opts...)
}

// recordFailure closes the run when the graph failed and returns the
// error to report. It returns nil for a run that can go on.
func (s *Service) recordFailure(ctx context.Context, runID string, final State, runErr error) error {
	switch {
	case runErr != nil && errors.Is(runErr, context.Canceled):
		if err := ignoreTransition(s.runs.CancelRun(ctx, runID)); err != nil {
			return errors.Join(runErr, err)
		}
		return runErr
	case runErr != nil:
		err := s.runs.FailRun(ctx, runID, docstore.RunError{Message: runErr.Error(), Code: "execution_error", Node: flowgraph.FailedNode(runErr)})
		return errors.Join(fmt.Errorf("%w: %w", ErrRunFailed, runErr), ignoreTransition(err))
	case final.Error != "":
		err := s.runs.FailRun(ctx, runID, docstore.RunError{Message: final.Error, Code: "pipeline_error"})
		return errors.Join(fmt.Errorf("%w: %s", ErrRunFailed, final.Error), ignoreTransition(err))
	}
	return nil
}

// abandon closes a run that never reached running so it is not left
// pending: cancelled when ctx was, failed otherwise. A run already closed
// keeps its status.
func (s *Service) abandon(ctx context.Context, runID string, cause error) error {
	bg := context.WithoutCancel(ctx)
	var err error
	if ctx.Err() != nil || errors.Is(cause, context.Canceled) {
		err = s.runs.CancelRun(bg, runID)
	} else {
		err = s.runs.FailRun(bg, runID, docstore.RunError{Message: cause.Error(), Code: "start_error"})
	}
	return errors.Join(cause, ignoreTransition(err))
}

// seed restores the state the linking graph ended with. Without a usable
// checkpoint it is rebuilt from the run record.
func (s *Service) seed(ctx context.Context, logger *slog.Logger, run *docstore.AgentRun) (State, error) {
	var state State
	loaded := false
	if s.checkpoints != nil {
		st, cp, err := flowgraph.LoadState[State](ctx, s.checkpoints, run.ID, "")
		if err != nil {
			logger.Warn("resume state not restored from checkpoint", "error", err.Error())
		} else {
			logger.Debug("resume state restored", "checkpoint_id", cp.CheckpointID)
			state, loaded = st, true
		}
	}
	if !loaded {
		state = NewState(run.Input["problemId"], run.ID)
		state.CreatedLinkIDs = run.Output.LinkIDs
	}

	if state.Problem == nil {
		problem, err := s.store.GetProblem(ctx, state.ProblemID)
		if err != nil {
			return State{}, fmt.Errorf("problem %s: %w", state.ProblemID, err)
		}
		state.Problem = problem
	}
	return state, nil
}

// acceptedLinks returns the ids among ids whose link was accepted, in order.
func (s *Service) acceptedLinks(ctx context.Context, ids []string) ([]string, error) {
	var out []string
	for _, id := range ids {
		link, err := s.store.GetLink(ctx, id)
		if errors.Is(err, docstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("link %s: %w", id, err)
		}
		if link.ReviewStatus == docstore.ReviewAccepted {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *Service) prune(ctx context.Context, logger *slog.Logger, runID string) {
	if s.checkpoints == nil || s.retain <= 0 {
		return
	}
	if removed, err := s.checkpoints.Prune(ctx, runID, s.retain); err != nil {
		logger.Warn("checkpoint prune failed", "error", err.Error())
	} else if removed > 0 {
		logger.Debug("checkpoints pruned", "removed", removed)
	}
}

// ignoreTransition drops ErrInvalidTransition: a run cancelled while its
// last node ran is already terminal.
func ignoreTransition(err error) error {
	if errors.Is(err, docstore.ErrInvalidTransition) {
		return nil
	}
	return err
}
