package flowgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/randalmurphal/paperflow/pkg/flowgraph/checkpoint"
)

// Resume continues a thread from its latest checkpoint. Execution starts at
// the node recorded as next in that checkpoint; if the thread already reached
// END the stored state is returned without running anything.
//
// New checkpoints extend the thread's chain.
//
// Example:
//
//	// Previous run crashed after node B
//	// Resume continues from node C with state from B's checkpoint
//	result, err := compiled.Resume(ctx, store, "thread-123")
func (cg *CompiledGraph[S]) Resume(ctx Context, store checkpoint.Store, threadID string, opts ...ResumeOption) (S, error) {
	return cg.resume(ctx, store, threadID, "", opts)
}

// ResumeFrom continues a thread from a specific checkpoint rather than the
// latest one. The new checkpoints are chained to that checkpoint.
//
// Example:
//
//	// Retry from a specific point in the thread's history
//	result, err := compiled.ResumeFrom(ctx, store, "thread-123", checkpointID)
func (cg *CompiledGraph[S]) ResumeFrom(ctx Context, store checkpoint.Store, threadID, checkpointID string, opts ...ResumeOption) (S, error) {
	if checkpointID == "" {
		var zero S
		return zero, fmt.Errorf("%w: empty checkpoint ID", ErrNoCheckpoints)
	}
	return cg.resume(ctx, store, threadID, checkpointID, opts)
}

func (cg *CompiledGraph[S]) resume(ctx Context, store checkpoint.Store, threadID, checkpointID string, opts []ResumeOption) (S, error) {
	var zero S

	if ctx == nil {
		return zero, ErrNilContext
	}
	if threadID == "" {
		return zero, ErrThreadIDRequired
	}

	cfg := resumeConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	cp, state, err := loadCheckpoint[S](ctx, store, threadID, checkpointID)
	if err != nil {
		return zero, err
	}

	if cfg.stateOverride != nil {
		if typed, ok := cfg.stateOverride(state).(S); ok {
			state = typed
		}
	}

	if cfg.validateState != nil {
		if err := cfg.validateState(state); err != nil {
			return state, fmt.Errorf("state validation failed: %w", err)
		}
	}

	startNode := cp.Metadata.Next
	if cfg.replayNode {
		startNode = cp.Metadata.Node
	}
	if startNode == END {
		return state, nil
	}
	if !cg.HasNode(startNode) {
		return zero, fmt.Errorf("%w: %s", ErrInvalidResumeNode, startNode)
	}

	runCfg := defaultRunConfig()
	for _, opt := range cfg.runOpts {
		opt(&runCfg)
	}
	runCfg.checkpointStore = store
	runCfg.threadID = threadID

	return cg.execute(ctx, state, startNode, cp.CheckpointID, cp.Metadata.Step, &runCfg)
}

// LoadState decodes the state stored in a checkpoint. An empty checkpointID
// selects the thread's latest checkpoint. Use it to seed a different graph
// that shares the state shape, such as a follow-up graph run after approval.
func LoadState[S any](ctx context.Context, store checkpoint.Store, threadID, checkpointID string) (S, *checkpoint.Checkpoint, error) {
	cp, state, err := loadCheckpoint[S](ctx, store, threadID, checkpointID)
	return state, cp, err
}

func loadCheckpoint[S any](ctx context.Context, store checkpoint.Store, threadID, checkpointID string) (*checkpoint.Checkpoint, S, error) {
	var zero S

	cp, err := store.Get(ctx, threadID, checkpointID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		if checkpointID == "" {
			return nil, zero, fmt.Errorf("%w: %s", ErrNoCheckpoints, threadID)
		}
		return nil, zero, fmt.Errorf("%w: %s at checkpoint %s", ErrNoCheckpoints, threadID, checkpointID)
	}
	if err != nil {
		return nil, zero, fmt.Errorf("load checkpoint: %w", err)
	}

	if cp.Version != checkpoint.Version {
		return nil, zero, fmt.Errorf("%w: got %d, expected %d",
			ErrCheckpointVersionMismatch, cp.Version, checkpoint.Version)
	}

	var state S
	if err := json.Unmarshal(cp.State, &state); err != nil {
		return nil, zero, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}
	return cp, state, nil
}
