package docstore

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// allowedFrom lists the statuses each target status may be entered from.
var allowedFrom = map[RunStatus][]RunStatus{
	RunRunning:   {RunPending},
	RunCompleted: {RunPending, RunRunning},
	RunFailed:    {RunPending, RunRunning},
	RunCancelled: {RunPending, RunRunning},
}

// CanTransition reports whether a run may move from one status to another.
func CanTransition(from, to RunStatus) bool {
	return slices.Contains(allowedFrom[to], from)
}

// CreateRun implements RunStore. The run starts pending.
func (db *DB) CreateRun(ctx context.Context, agentType AgentType, triggeredBy string, input map[string]string) (*AgentRun, error) {
	if agentType == "" {
		return nil, fmt.Errorf("%w: agent type is required", ErrInvalidDocument)
	}
	if triggeredBy == "" {
		triggeredBy = "manual"
	}
	run := &AgentRun{
		ID:          uuid.NewString(),
		AgentType:   agentType,
		Status:      RunPending,
		TriggeredBy: triggeredBy,
		Input:       input,
		CreatedAt:   db.now(),
	}
	if err := put(ctx, db.b, CollRuns, run.ID, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (db *DB) transition(ctx context.Context, id string, to RunStatus, fn func(*AgentRun, time.Time)) error {
	now := db.now()
	return update(ctx, db.b, CollRuns, id, func(run *AgentRun) error {
		if !CanTransition(run.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, run.Status, to)
		}
		run.Status = to
		fn(run, now)
		return nil
	})
}

// StartRun implements RunStore.
func (db *DB) StartRun(ctx context.Context, id string) error {
	return db.transition(ctx, id, RunRunning, func(run *AgentRun, now time.Time) {
		run.StartedAt = &now
	})
}

// UpdateRunOutput implements RunStore. Output may change only while the run
// is pending or running.
func (db *DB) UpdateRunOutput(ctx context.Context, id string, out RunOutput) error {
	return update(ctx, db.b, CollRuns, id, func(run *AgentRun) error {
		if run.Status.Terminal() {
			return fmt.Errorf("%w: output update on %s run", ErrInvalidTransition, run.Status)
		}
		run.Output = &out
		return nil
	})
}

// CompleteRun implements RunStore.
func (db *DB) CompleteRun(ctx context.Context, id string, out RunOutput) error {
	return db.transition(ctx, id, RunCompleted, func(run *AgentRun, now time.Time) {
		run.Output = &out
		run.CompletedAt = &now
	})
}

// FailRun implements RunStore.
func (db *DB) FailRun(ctx context.Context, id string, runErr RunError) error {
	return db.transition(ctx, id, RunFailed, func(run *AgentRun, now time.Time) {
		run.Error = &runErr
		run.CompletedAt = &now
	})
}

// CancelRun implements RunStore.
func (db *DB) CancelRun(ctx context.Context, id string) error {
	return db.transition(ctx, id, RunCancelled, func(run *AgentRun, now time.Time) {
		run.CompletedAt = &now
	})
}

// GetRun implements RunStore.
func (db *DB) GetRun(ctx context.Context, id string) (*AgentRun, error) {
	return get[AgentRun](ctx, db.b, CollRuns, id)
}

// ListRuns implements RunStore. Runs are returned newest first.
func (db *DB) ListRuns(ctx context.Context, q RunQuery) ([]*AgentRun, error) {
	runs, err := list(ctx, db.b, CollRuns, func(r *AgentRun) bool {
		return (q.AgentType == "" || r.AgentType == q.AgentType) &&
			(q.Status == "" || r.Status == q.Status)
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(runs)
	slices.SortStableFunc(runs, func(a, b *AgentRun) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultRunListLimit
	}
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
