package flowgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"time"

	"github.com/randalmurphal/paperflow/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/paperflow/pkg/flowgraph/observability"
	"go.opentelemetry.io/otel/trace"
)

// Run executes the graph with the given initial state.
// Returns the final state and any error encountered.
//
// On success, returns the state after the last node executed before END.
// On error, returns the state at the point of failure (useful for debugging).
//
// Execution flow:
//  1. Start at the entry point node
//  2. Check for cancellation
//  3. Execute the current node and merge its update through the schema
//  4. Determine the next node (conditional edge first, then the simple edge)
//  5. Checkpoint the merged state if a store is attached
//  6. Repeat until END is reached or an error occurs
//
// With WithCheckpointing the first checkpoint of the run is chained to the
// thread's latest existing checkpoint, so repeated runs on one thread form
// a single ancestry chain.
//
// Example:
//
//	ctx := flowgraph.NewContext(context.Background())
//	result, err := compiled.Run(ctx, initialState,
//	    flowgraph.WithCheckpointing(store),
//	    flowgraph.WithThreadID("thread-1"))
func (cg *CompiledGraph[S]) Run(ctx Context, state S, opts ...RunOption) (S, error) {
	if ctx == nil {
		return state, ErrNilContext
	}

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.checkpointStore != nil && cfg.threadID == "" {
		return state, ErrThreadIDRequired
	}

	parentID, step := "", 0
	if cfg.checkpointStore != nil {
		latest, err := cfg.checkpointStore.Get(ctx, cfg.threadID, "")
		switch {
		case err == nil:
			parentID, step = latest.CheckpointID, latest.Metadata.Step
		case !errors.Is(err, checkpoint.ErrNotFound):
			return state, &CheckpointError{NodeID: cg.entryPoint, Op: "load", Err: err}
		}
	}

	return cg.execute(ctx, state, cg.entryPoint, parentID, step, &cfg)
}

// execute runs the graph from startNode with run-level observability.
// parentID and step continue the thread's checkpoint chain.
func (cg *CompiledGraph[S]) execute(ctx Context, state S, startNode, parentID string, step int, cfg *runConfig) (result S, runErr error) {
	ec := toExecutionContext(ctx).withThread(cfg.threadID)
	if cfg.logger == nil {
		cfg.logger = ec.Logger()
	}

	startTime := time.Now()
	observability.LogRunStart(cfg.logger, cg.name, ec.RunID(), cfg.threadID)

	if cfg.tracingEnabled {
		spanCtx, runSpan := cfg.spans.StartRunSpan(ec, observability.RunInfo{
			Graph:    cg.name,
			RunID:    ec.RunID(),
			ThreadID: cfg.threadID,
			FromStep: step,
		})
		ec = ec.withTracing(spanCtx)
		defer func() {
			cfg.spans.EndSpanWithError(runSpan, runErr)
		}()
	}

	result, nodeCount, lastNode, runErr := cg.loop(ec, state, startNode, parentID, step, cfg)

	duration := time.Since(startTime)
	cfg.metrics.RecordGraphRun(ec, cg.name, runErr == nil, duration)

	if runErr != nil {
		observability.LogRunError(cfg.logger, ec.RunID(), runErr, duration, lastNode)
	} else {
		observability.LogRunComplete(cfg.logger, ec.RunID(), duration, nodeCount)
	}

	return result, runErr
}

// loop is the step loop. Returns the final state, nodes executed, the last
// node attempted and any error.
func (cg *CompiledGraph[S]) loop(ec *executionContext, state S, startNode, parentID string, step int, cfg *runConfig) (S, int, string, error) {
	current := startNode
	iterations := 0
	nodeCount := 0

	for current != END {
		iterations++
		if iterations > cfg.maxIterations {
			return state, nodeCount, current, &MaxIterationsError{
				Max:        cfg.maxIterations,
				LastNodeID: current,
				State:      state,
			}
		}

		select {
		case <-ec.Done():
			return state, nodeCount, current, &CancellationError{
				NodeID: current,
				State:  state,
				Cause:  ec.Err(),
			}
		default:
		}

		step++
		nodeCtx := ec.withNode(current, step)
		observability.LogNodeStart(cfg.logger, current)

		var nodeSpan trace.Span
		if cfg.tracingEnabled {
			var spanCtx context.Context
			spanCtx, nodeSpan = cfg.spans.StartNodeSpan(nodeCtx, current, step)
			nodeCtx = nodeCtx.withTracing(spanCtx)
		}

		nodeStart := time.Now()
		update, nodeErr := cg.executeNode(nodeCtx, current, state)
		if nodeErr == nil {
			var merged S
			merged, nodeErr = cg.schema.Apply(state, update)
			if nodeErr != nil {
				nodeErr = &NodeError{NodeID: current, Op: "merge", Err: nodeErr}
			} else {
				state = merged
			}
		}
		nodeDuration := time.Since(nodeStart)

		cfg.metrics.RecordNodeExecution(nodeCtx, current, nodeDuration, nodeErr)
		if cfg.tracingEnabled {
			cfg.spans.EndSpanWithError(nodeSpan, nodeErr)
		}

		if nodeErr != nil {
			observability.LogNodeError(cfg.logger, current, nodeErr)
			return state, nodeCount, current, nodeErr
		}
		observability.LogNodeComplete(cfg.logger, current, nodeDuration)
		nodeCount++

		next, err := cg.nextNode(nodeCtx, state, current)
		if err != nil {
			return state, nodeCount, current, err
		}

		if cfg.checkpointStore != nil {
			meta := checkpoint.Metadata{
				Source: checkpoint.SourceLoop,
				Step:   step,
				Node:   current,
				Next:   next,
				RunID:  ec.RunID(),
			}
			id, err := cg.saveCheckpoint(ec, cfg, state, meta, parentID)
			if err != nil {
				return state, nodeCount, current, err
			}
			if id != "" {
				parentID = id
			}
		}

		current = next
	}

	return state, nodeCount, current, nil
}

// saveCheckpoint persists the merged state after a node. Returns the new
// checkpoint ID, or "" when a non-fatal failure was logged instead.
func (cg *CompiledGraph[S]) saveCheckpoint(ctx context.Context, cfg *runConfig, state S, meta checkpoint.Metadata, parentID string) (string, error) {
	fail := func(op string, err error) (string, error) {
		if cfg.checkpointFailureFatal {
			return "", &CheckpointError{NodeID: meta.Node, Op: op, Err: err}
		}
		observability.LogCheckpointError(cfg.logger, meta.Node, op, err)
		return "", nil
	}

	stateBytes, err := json.Marshal(state)
	if err != nil {
		return fail("serialize", fmt.Errorf("%w: %v", ErrSerializeState, err))
	}

	id, err := cfg.checkpointStore.Put(ctx, cfg.threadID, stateBytes, meta, parentID)
	if err != nil {
		return fail("put", err)
	}

	observability.LogCheckpoint(cfg.logger, meta.Node, id, len(stateBytes))
	cfg.spans.CheckpointSaved(ctx, id, meta.Step, len(stateBytes))
	cfg.metrics.RecordCheckpoint(ctx, meta.Node, int64(len(stateBytes)))
	return id, nil
}

// executeNode executes a single node with panic recovery.
// Returns the node's update and any error (including wrapped panics).
func (cg *CompiledGraph[S]) executeNode(ctx *executionContext, nodeID string, state S) (update Update[S], err error) {
	fn, exists := cg.getNode(nodeID)
	if !exists {
		return nil, &NodeError{
			NodeID: nodeID,
			Op:     "lookup",
			Err:    fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID),
		}
	}

	defer func() {
		if r := recover(); r != nil {
			update = nil
			err = &PanicError{
				NodeID: nodeID,
				Value:  r,
				Stack:  string(debug.Stack()),
			}
		}
	}()

	update, err = fn(ctx, state)
	if err != nil {
		return nil, &NodeError{
			NodeID: nodeID,
			Op:     "execute",
			Err:    err,
		}
	}

	return update, nil
}

// nextNode determines the next node to execute.
// Checks conditional edges first, then the simple edge.
func (cg *CompiledGraph[S]) nextNode(ctx Context, state S, current string) (string, error) {
	if router, exists := cg.getRouter(current); exists {
		next := router(ctx, state)

		if next == "" {
			return "", &RouterError{
				FromNode: current,
				Returned: next,
				Err:      ErrInvalidRouterResult,
			}
		}

		if targets, declared := cg.routeTargets[current]; declared && !slices.Contains(targets, next) {
			return "", &RouterError{FromNode: current, Returned: next, Err: ErrUndeclaredRoute}
		}
		if next != END {
			if _, exists := cg.getNode(next); !exists {
				return "", &RouterError{
					FromNode: current,
					Returned: next,
					Err:      ErrRouterTargetNotFound,
				}
			}
		}

		return next, nil
	}

	next := cg.Successor(current)
	if next == "" {
		return "", &NodeError{
			NodeID: current,
			Op:     "routing",
			Err:    fmt.Errorf("no outgoing edge from node %s", current),
		}
	}
	return next, nil
}
