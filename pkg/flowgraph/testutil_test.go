package flowgraph

import (
	"context"
)

// Test state types used across tests

// Counter is a simple state for testing incrementing.
type Counter struct {
	Value int `json:"value"`
}

var counterValue = Replace("value", func(c *Counter) *int { return &c.Value })

var counterSchema = NewSchema[Counter](counterValue)

// State is a more complex state for testing various scenarios.
type State struct {
	Step     int      `json:"step"`
	Progress []string `json:"progress"`
	Output   string   `json:"output"`
	GoLeft   bool     `json:"go_left"`
	Count    int      `json:"count"`
}

var (
	stateStep     = Replace("step", func(s *State) *int { return &s.Step })
	stateProgress = Append("progress", func(s *State) *[]string { return &s.Progress })
	stateOutput   = Replace("output", func(s *State) *string { return &s.Output })
	stateGoLeft   = Replace("go_left", func(s *State) *bool { return &s.GoLeft })
	stateCount    = Replace("count", func(s *State) *int { return &s.Count })
)

var stateSchema = NewSchema[State](stateStep, stateProgress, stateOutput, stateGoLeft, stateCount)

// Helper node functions

// increment is a node that increments the counter.
func increment(ctx Context, s Counter) (Update[Counter], error) {
	return Update[Counter]{counterValue.Set(s.Value + 1)}, nil
}

// passthrough writes nothing.
func passthrough[S any](ctx Context, s S) (Update[S], error) {
	return nil, nil
}

// makeTrackingNode creates a node that records its execution.
func makeTrackingNode(name string, tracker *[]string) NodeFunc[State] {
	return func(ctx Context, s State) (Update[State], error) {
		*tracker = append(*tracker, name)
		return Update[State]{stateProgress.Add(name), stateStep.Set(s.Step + 1)}, nil
	}
}

// makeFailingNode creates a node that returns the given error.
func makeFailingNode(err error) NodeFunc[State] {
	return func(ctx Context, s State) (Update[State], error) {
		return nil, err
	}
}

// makePanicNode creates a node that panics with the given value.
func makePanicNode(value any) NodeFunc[State] {
	return func(ctx Context, s State) (Update[State], error) {
		panic(value)
	}
}

// testCtx creates a simple test context.
func testCtx() Context {
	return NewContext(context.Background())
}

// linearCounterGraph compiles a -> b -> c -> END where every node increments.
func linearCounterGraph() *CompiledGraph[Counter] {
	compiled, err := NewGraph[Counter]().
		WithSchema(counterSchema).
		AddNode("a", increment).
		AddNode("b", increment).
		AddNode("c", increment).
		AddEdge("a", "b").
		AddEdge("b", "c").
		AddEdge("c", END).
		SetEntry("a").
		Compile()
	if err != nil {
		panic(err)
	}
	return compiled
}
