package flowgraph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRun_LinearFlow tests basic linear execution.
func TestRun_LinearFlow(t *testing.T) {
	result, err := linearCounterGraph().Run(testCtx(), Counter{Value: 0})

	require.NoError(t, err)
	assert.Equal(t, 3, result.Value)
}

// TestRun_SingleNode tests single node execution.
func TestRun_SingleNode(t *testing.T) {
	graph := NewGraph[Counter]().
		WithSchema(counterSchema).
		AddNode("only", increment).
		AddEdge("only", END).
		SetEntry("only")

	compiled, err := graph.Compile()
	require.NoError(t, err)

	result, err := compiled.Run(testCtx(), Counter{Value: 10})

	require.NoError(t, err)
	assert.Equal(t, 11, result.Value)
}

// TestRun_ReplaceThenAppend tests that two steps merge through the schema.
func TestRun_ReplaceThenAppend(t *testing.T) {
	var seenByB State

	nodeA := func(ctx Context, s State) (Update[State], error) {
		return Update[State]{stateOutput.Set("draft"), stateProgress.Add("a")}, nil
	}
	nodeB := func(ctx Context, s State) (Update[State], error) {
		seenByB = s
		return Update[State]{stateOutput.Set("final"), stateProgress.Add("b1", "b2")}, nil
	}

	compiled, err := NewGraph[State]().
		WithSchema(stateSchema).
		AddNode("a", nodeA).
		AddNode("b", nodeB).
		AddEdge("a", "b").
		AddEdge("b", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	result, err := compiled.Run(testCtx(), State{Progress: []string{"seed"}, Count: 7})

	require.NoError(t, err)
	assert.Equal(t, "draft", seenByB.Output)
	assert.Equal(t, []string{"seed", "a"}, seenByB.Progress)
	assert.Equal(t, "final", result.Output)
	assert.Equal(t, []string{"seed", "a", "b1", "b2"}, result.Progress)
	assert.Equal(t, 7, result.Count, "unwritten fields keep their value")
}

// TestRun_UnknownFieldWrite tests that a write outside the schema fails the node.
func TestRun_UnknownFieldWrite(t *testing.T) {
	stray := Replace("stray", func(s *State) *int { return &s.Count })

	node := func(ctx Context, s State) (Update[State], error) {
		return Update[State]{stray.Set(99)}, nil
	}

	compiled, err := NewGraph[State]().
		WithSchema(stateSchema).
		AddNode("writer", node).
		AddEdge("writer", END).
		SetEntry("writer").
		Compile()
	require.NoError(t, err)

	result, err := compiled.Run(testCtx(), State{Count: 1})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownField)

	var nodeErr *NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "writer", nodeErr.NodeID)
	assert.Equal(t, "merge", nodeErr.Op)
	assert.Equal(t, 1, result.Count, "rejected update is not applied")
}

// TestRun_NoSchemaAppliesWrites tests graphs built without a schema.
func TestRun_NoSchemaAppliesWrites(t *testing.T) {
	compiled, err := NewGraph[Counter]().
		AddNode("inc", increment).
		AddEdge("inc", END).
		SetEntry("inc").
		Compile()
	require.NoError(t, err)

	result, err := compiled.Run(testCtx(), Counter{Value: 1})

	require.NoError(t, err)
	assert.Equal(t, 2, result.Value)
}

// TestRun_ConditionalEdge tests router-selected branches.
func TestRun_ConditionalEdge(t *testing.T) {
	router := func(ctx Context, s State) string {
		if s.GoLeft {
			return "left"
		}
		return "right"
	}

	tests := []struct {
		name   string
		goLeft bool
		want   []string
	}{
		{"left", true, []string{"start", "left"}},
		{"right", false, []string{"start", "right"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var executed []string

			compiled, err := NewGraph[State]().
				WithSchema(stateSchema).
				AddNode("start", makeTrackingNode("start", &executed)).
				AddNode("left", makeTrackingNode("left", &executed)).
				AddNode("right", makeTrackingNode("right", &executed)).
				AddConditionalEdge("start", router).
				AddEdge("left", END).
				AddEdge("right", END).
				SetEntry("start").
				Compile()
			require.NoError(t, err)

			result, err := compiled.Run(testCtx(), State{GoLeft: tt.goLeft})

			require.NoError(t, err)
			assert.Equal(t, tt.want, executed)
			assert.Equal(t, tt.want, result.Progress)
		})
	}
}

// TestRun_ConditionalEdge_ToEND tests a router ending the run.
func TestRun_ConditionalEdge_ToEND(t *testing.T) {
	var executed []string

	compiled, err := NewGraph[State]().
		WithSchema(stateSchema).
		AddNode("check", makeTrackingNode("check", &executed)).
		AddNode("process", makeTrackingNode("process", &executed)).
		AddConditionalEdge("check", func(ctx Context, s State) string { return END }).
		AddEdge("process", END).
		SetEntry("check").
		Compile()
	require.NoError(t, err)

	_, err = compiled.Run(testCtx(), State{})

	require.NoError(t, err)
	assert.Equal(t, []string{"check"}, executed)
}

// TestRun_Loop tests looping behavior with conditional exit.
func TestRun_Loop(t *testing.T) {
	var iterations int

	loopNode := func(ctx Context, s State) (Update[State], error) {
		iterations++
		return Update[State]{stateCount.Set(s.Count + 1)}, nil
	}

	router := func(ctx Context, s State) string {
		if s.Count >= 3 {
			return END
		}
		return "loop"
	}

	compiled, err := NewGraph[State]().
		WithSchema(stateSchema).
		AddNode("loop", loopNode).
		AddConditionalEdge("loop", router).
		SetEntry("loop").
		Compile()
	require.NoError(t, err)

	result, err := compiled.Run(testCtx(), State{})

	require.NoError(t, err)
	assert.Equal(t, 3, iterations)
	assert.Equal(t, 3, result.Count)
}

// TestRun_NodeError_WrapsWithNodeID tests error wrapping.
func TestRun_NodeError_WrapsWithNodeID(t *testing.T) {
	underlying := errors.New("connection refused")

	compiled, err := NewGraph[State]().
		WithSchema(stateSchema).
		AddNode("fetch", makeFailingNode(underlying)).
		AddEdge("fetch", END).
		SetEntry("fetch").
		Compile()
	require.NoError(t, err)

	_, err = compiled.Run(testCtx(), State{})

	require.Error(t, err)
	assert.ErrorIs(t, err, underlying)

	var nodeErr *NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "fetch", nodeErr.NodeID)
	assert.Equal(t, "execute", nodeErr.Op)
}

// TestRun_NodeError_StatePreserved tests that earlier merges survive a failure.
func TestRun_NodeError_StatePreserved(t *testing.T) {
	var executed []string

	compiled, err := NewGraph[State]().
		WithSchema(stateSchema).
		AddNode("ok", makeTrackingNode("ok", &executed)).
		AddNode("fail", makeFailingNode(errors.New("boom"))).
		AddEdge("ok", "fail").
		AddEdge("fail", END).
		SetEntry("ok").
		Compile()
	require.NoError(t, err)

	result, err := compiled.Run(testCtx(), State{})

	require.Error(t, err)
	assert.Equal(t, []string{"ok"}, result.Progress)
	assert.Equal(t, 1, result.Step)
}

// TestRun_PanicRecovery tests that panics become PanicError.
func TestRun_PanicRecovery(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"string", "something went wrong", "node crash panicked: something went wrong"},
		{"error", errors.New("bad"), "node crash panicked: bad"},
		{"int", 42, "node crash panicked: 42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled, err := NewGraph[State]().
				AddNode("crash", makePanicNode(tt.value)).
				AddEdge("crash", END).
				SetEntry("crash").
				Compile()
			require.NoError(t, err)

			_, err = compiled.Run(testCtx(), State{})

			var panicErr *PanicError
			require.ErrorAs(t, err, &panicErr)
			assert.Equal(t, "crash", panicErr.NodeID)
			assert.Equal(t, tt.value, panicErr.Value)
			assert.Contains(t, panicErr.Stack, "goroutine")
			assert.Equal(t, tt.want, err.Error())
		})
	}
}

// TestRun_CancellationBetweenNodes tests cancellation is checked between nodes.
func TestRun_CancellationBetweenNodes(t *testing.T) {
	var executed []string

	ctx, cancel := context.WithCancel(context.Background())

	cancelAfterFirst := func(fgCtx Context, s State) (Update[State], error) {
		executed = append(executed, "first")
		cancel()
		return Update[State]{stateProgress.Add("first")}, nil
	}

	compiled, err := NewGraph[State]().
		WithSchema(stateSchema).
		AddNode("first", cancelAfterFirst).
		AddNode("second", makeTrackingNode("second", &executed)).
		AddEdge("first", "second").
		AddEdge("second", END).
		SetEntry("first").
		Compile()
	require.NoError(t, err)

	_, err = compiled.Run(NewContext(ctx), State{})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	var cancelErr *CancellationError
	require.ErrorAs(t, err, &cancelErr)
	assert.Equal(t, "second", cancelErr.NodeID)
	assert.Equal(t, []string{"first"}, cancelErr.State.(State).Progress)
	assert.Equal(t, []string{"first"}, executed)
}

// TestRun_DeadlineObservedByNode tests that nodes see the run deadline.
func TestRun_DeadlineObservedByNode(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	slowNode := func(fgCtx Context, s State) (Update[State], error) {
		select {
		case <-fgCtx.Done():
			return nil, fgCtx.Err()
		case <-time.After(time.Second):
			return nil, nil
		}
	}

	compiled, err := NewGraph[State]().
		AddNode("slow", slowNode).
		AddEdge("slow", END).
		SetEntry("slow").
		Compile()
	require.NoError(t, err)

	_, err = compiled.Run(NewContext(ctx), State{})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestRun_MaxIterations_PreventsInfiniteLoop tests max iterations limit.
func TestRun_MaxIterations_PreventsInfiniteLoop(t *testing.T) {
	loopNode := func(ctx Context, s State) (Update[State], error) {
		return Update[State]{stateCount.Set(s.Count + 1)}, nil
	}

	compiled, err := NewGraph[State]().
		WithSchema(stateSchema).
		AddNode("loop", loopNode).
		AddConditionalEdge("loop", func(ctx Context, s State) string { return "loop" }).
		SetEntry("loop").
		Compile()
	require.NoError(t, err)

	result, err := compiled.Run(testCtx(), State{}, WithMaxIterations(10))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxIterations)

	var maxErr *MaxIterationsError
	require.ErrorAs(t, err, &maxErr)
	assert.Equal(t, 10, maxErr.Max)
	assert.Equal(t, "loop", maxErr.LastNodeID)
	assert.Equal(t, 10, result.Count)
}

// TestRun_NilContext_Error tests nil context handling.
func TestRun_NilContext_Error(t *testing.T) {
	//nolint:staticcheck // nil context on purpose
	_, err := linearCounterGraph().Run(nil, Counter{})

	assert.ErrorIs(t, err, ErrNilContext)
}

// TestRun_RouterErrors tests invalid router results.
func TestRun_RouterErrors(t *testing.T) {
	tests := []struct {
		name     string
		returned string
		targets  []string
		want     error
	}{
		{"empty", "", nil, ErrInvalidRouterResult},
		{"empty with declared targets", "", []string{END}, ErrInvalidRouterResult},
		{"unknown", "nowhere", nil, ErrRouterTargetNotFound},
		{"existing but undeclared", "done", []string{END}, ErrUndeclaredRoute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled, err := NewGraph[State]().
				AddNode("route", passthrough[State]).
				AddNode("done", passthrough[State]).
				AddConditionalEdge("route", func(ctx Context, s State) string { return tt.returned }, tt.targets...).
				AddEdge("done", END).
				SetEntry("route").
				Compile()
			require.NoError(t, err)

			_, err = compiled.Run(testCtx(), State{})

			assert.ErrorIs(t, err, tt.want)
			var routerErr *RouterError
			require.ErrorAs(t, err, &routerErr)
			assert.Equal(t, "route", routerErr.FromNode)
			assert.Equal(t, tt.returned, routerErr.Returned)
		})
	}
}

// TestRun_ContextPropagated tests the per-node context contents.
func TestRun_ContextPropagated(t *testing.T) {
	var captured []Context

	captureNode := func(ctx Context, s State) (Update[State], error) {
		captured = append(captured, ctx)
		return nil, nil
	}

	compiled, err := NewGraph[State]().
		AddNode("first", captureNode).
		AddNode("second", captureNode).
		AddEdge("first", "second").
		AddEdge("second", END).
		SetEntry("first").
		Compile()
	require.NoError(t, err)

	ctx := NewContext(context.Background(), WithContextRunID("test-123"))
	_, err = compiled.Run(ctx, State{})

	require.NoError(t, err)
	require.Len(t, captured, 2)
	assert.Equal(t, "test-123", captured[0].RunID())
	assert.Equal(t, "first", captured[0].NodeID())
	assert.Equal(t, 1, captured[0].Step())
	assert.Equal(t, "second", captured[1].NodeID())
	assert.Equal(t, 2, captured[1].Step())
	assert.Empty(t, captured[1].ThreadID())
}

// TestRun_InitialStateNotMutated tests original state not modified.
func TestRun_InitialStateNotMutated(t *testing.T) {
	var executed []string

	compiled, err := NewGraph[State]().
		WithSchema(stateSchema).
		AddNode("a", makeTrackingNode("a", &executed)).
		AddEdge("a", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	initial := State{Progress: make([]string, 1, 8)}
	initial.Progress[0] = "seed"
	result, err := compiled.Run(testCtx(), initial)

	require.NoError(t, err)
	assert.Equal(t, []string{"seed"}, initial.Progress)
	assert.Equal(t, []string{"seed", "a"}, result.Progress)
}

// TestRun_ReusableCompiledGraph tests that one compiled graph serves many runs.
func TestRun_ReusableCompiledGraph(t *testing.T) {
	compiled := linearCounterGraph()

	for i := range 5 {
		result, err := compiled.Run(testCtx(), Counter{Value: i})
		require.NoError(t, err)
		assert.Equal(t, i+3, result.Value)
	}
}

// TestContext_DefaultValues tests default context configuration.
func TestContext_DefaultValues(t *testing.T) {
	ctx := NewContext(context.Background())

	assert.NotNil(t, ctx.Logger())
	assert.NotEmpty(t, ctx.RunID())
	assert.Empty(t, ctx.ThreadID())
	assert.Empty(t, ctx.NodeID())
	assert.Zero(t, ctx.Step())
}

// TestContext_WithOptions tests context configuration options.
func TestContext_WithOptions(t *testing.T) {
	ctx := NewContext(context.Background(),
		WithContextRunID("custom-run-id"),
		WithLogger(nil))

	assert.Equal(t, "custom-run-id", ctx.RunID())
	assert.NotNil(t, ctx.Logger(), "nil logger keeps the default")
}

// TestContext_CancellationPropagates tests cancellation flows through.
func TestContext_CancellationPropagates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fgCtx := NewContext(ctx)

	cancel()

	assert.ErrorIs(t, fgCtx.Err(), context.Canceled)
}

// TestContext_ValuesFromParent tests parent context values are accessible.
func TestContext_ValuesFromParent(t *testing.T) {
	type keyType string
	key := keyType("custom")

	parentCtx := context.WithValue(context.Background(), key, "value")
	fgCtx := NewContext(parentCtx)

	assert.Equal(t, "value", fgCtx.Value(key))
}
