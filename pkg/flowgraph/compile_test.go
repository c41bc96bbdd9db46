package flowgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func endRouter(Context, State) string { return END }

func TestCompile_Valid(t *testing.T) {
	leftOrRight := func(_ Context, s State) string {
		if s.GoLeft {
			return "left"
		}
		return "right"
	}
	untilThree := func(_ Context, s State) string {
		if s.Count >= 3 {
			return END
		}
		return "process"
	}

	tests := []struct {
		name  string
		build func() *Graph[State]
	}{
		{"single node", func() *Graph[State] {
			return NewGraph[State]().
				AddNode("only", passthrough[State]).
				AddEdge("only", END).
				SetEntry("only")
		}},
		{"open branch", func() *Graph[State] {
			return NewGraph[State]().
				AddNode("start", passthrough[State]).
				AddNode("left", passthrough[State]).
				AddNode("right", passthrough[State]).
				AddConditionalEdge("start", leftOrRight).
				AddEdge("left", END).
				AddEdge("right", END).
				SetEntry("start")
		}},
		{"declared branch", func() *Graph[State] {
			return NewGraph[State]().
				AddNode("start", passthrough[State]).
				AddNode("left", passthrough[State]).
				AddNode("right", passthrough[State]).
				AddConditionalEdge("start", leftOrRight, "left", "right").
				AddEdge("left", END).
				AddEdge("right", END).
				SetEntry("start")
		}},
		{"cycle with exit", func() *Graph[State] {
			return NewGraph[State]().
				AddNode("check", passthrough[State]).
				AddNode("process", passthrough[State]).
				AddConditionalEdge("check", untilThree, "process", END).
				AddEdge("process", "check").
				SetEntry("check")
		}},
		{"self loop", func() *Graph[State] {
			return NewGraph[State]().
				AddNode("loop", passthrough[State]).
				AddConditionalEdge("loop", untilThree).
				SetEntry("loop")
		}},
		{"router overrides simple edges", func() *Graph[State] {
			return NewGraph[State]().
				AddNode("a", passthrough[State]).
				AddNode("b", passthrough[State]).
				AddEdge("a", "b").
				AddEdge("a", END).
				AddConditionalEdge("a", endRouter).
				AddEdge("b", END).
				SetEntry("a")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled, err := tt.build().Compile()
			require.NoError(t, err)
			assert.NotEmpty(t, compiled.NodeIDs())
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name     string
		build    func() *Graph[State]
		wantErrs []error
		mentions []string
	}{
		{
			name:     "empty graph",
			build:    NewGraph[State],
			wantErrs: []error{ErrNoEntryPoint},
		},
		{
			name: "entry missing",
			build: func() *Graph[State] {
				return NewGraph[State]().AddNode("a", passthrough[State]).AddEdge("a", END).SetEntry("ghost")
			},
			wantErrs: []error{ErrEntryNotFound},
			mentions: []string{"ghost"},
		},
		{
			name: "edge target missing",
			build: func() *Graph[State] {
				return NewGraph[State]().AddNode("a", passthrough[State]).AddEdge("a", "ghost").SetEntry("a")
			},
			wantErrs: []error{ErrNodeNotFound},
			mentions: []string{"edge target 'ghost'"},
		},
		{
			name: "edge source missing",
			build: func() *Graph[State] {
				return NewGraph[State]().AddNode("a", passthrough[State]).AddEdge("ghost", "a").AddEdge("a", END).SetEntry("a")
			},
			wantErrs: []error{ErrNodeNotFound},
			mentions: []string{"edge source 'ghost'"},
		},
		{
			name: "router source missing",
			build: func() *Graph[State] {
				return NewGraph[State]().AddNode("a", passthrough[State]).AddEdge("a", END).
					AddConditionalEdge("ghost", endRouter).SetEntry("a")
			},
			wantErrs: []error{ErrNodeNotFound},
			mentions: []string{"conditional edge source 'ghost'"},
		},
		{
			name: "route target missing",
			build: func() *Graph[State] {
				return NewGraph[State]().AddNode("a", passthrough[State]).
					AddConditionalEdge("a", endRouter, "ghost", END).SetEntry("a")
			},
			wantErrs: []error{ErrNodeNotFound},
			mentions: []string{"route target 'ghost' from 'a'"},
		},
		{
			name: "fan out",
			build: func() *Graph[State] {
				return NewGraph[State]().
					AddNode("a", passthrough[State]).AddNode("b", passthrough[State]).AddNode("c", passthrough[State]).
					AddEdge("a", "b").AddEdge("a", "c").AddEdge("b", END).AddEdge("c", END).
					SetEntry("a")
			},
			wantErrs: []error{ErrMultipleEdges},
			mentions: []string{"'a' has 2"},
		},
		{
			name: "dead end",
			build: func() *Graph[State] {
				return NewGraph[State]().AddNode("a", passthrough[State]).AddNode("b", passthrough[State]).
					AddEdge("a", "b").SetEntry("a")
			},
			wantErrs: []error{ErrNoPathToEnd},
		},
		{
			name: "declared routes never reach END",
			build: func() *Graph[State] {
				return NewGraph[State]().
					AddNode("ping", passthrough[State]).AddNode("pong", passthrough[State]).
					AddConditionalEdge("ping", endRouter, "pong").
					AddEdge("pong", "ping").
					SetEntry("ping")
			},
			wantErrs: []error{ErrNoPathToEnd},
		},
		{
			name: "every problem reported",
			build: func() *Graph[State] {
				return NewGraph[State]().AddNode("a", passthrough[State]).
					AddEdge("a", "missing1").AddEdge("missing2", END)
			},
			wantErrs: []error{ErrNoEntryPoint, ErrNodeNotFound},
			mentions: []string{"missing1", "missing2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled, err := tt.build().Compile()
			require.Error(t, err)
			assert.Nil(t, compiled)
			for _, want := range tt.wantErrs {
				assert.ErrorIs(t, err, want)
			}
			for _, m := range tt.mentions {
				assert.Contains(t, err.Error(), m)
			}
		})
	}
}

func TestCompile_ReachabilityFollowsDeclaredRoutes(t *testing.T) {
	g := NewGraph[State]().
		AddNode("load", passthrough[State]).
		AddNode("report", passthrough[State]).
		AddNode("orphan", passthrough[State]).
		AddConditionalEdge("load", endRouter, "report", END).
		AddEdge("report", END).
		AddEdge("orphan", END).
		SetEntry("load")

	reachable := g.reachable()
	assert.True(t, reachable["report"])
	assert.False(t, reachable["orphan"])

	g.AddConditionalEdge("load", endRouter)
	assert.True(t, g.reachable()["orphan"], "an open router may reach any node")
}

func TestCompiledGraph_Introspection(t *testing.T) {
	compiled, err := NewGraph[Counter]().
		AddNode("start", increment).
		AddNode("middle", increment).
		AddNode("finish", increment).
		AddEdge("start", "middle").
		AddEdge("middle", "finish").
		AddConditionalEdge("finish", func(Context, Counter) string { return END }, END).
		SetEntry("start").
		Compile(WithName("research-linking"))
	require.NoError(t, err)

	assert.Equal(t, "research-linking", compiled.Name())
	assert.Equal(t, "start", compiled.EntryPoint())
	assert.Equal(t, []string{"start", "middle", "finish"}, compiled.NodeIDs())
	assert.True(t, compiled.HasNode("middle"))
	assert.False(t, compiled.HasNode("ghost"))

	assert.Equal(t, "middle", compiled.Successor("start"))
	assert.Empty(t, compiled.Successor("finish"), "routed nodes have no simple successor")
	assert.Empty(t, compiled.Successor(END))
	assert.Empty(t, compiled.Successor("ghost"))

	assert.Equal(t, []string{"start"}, compiled.Predecessors("middle"))
	assert.Nil(t, compiled.Predecessors("start"))

	assert.False(t, compiled.IsConditional("start"))
	assert.True(t, compiled.IsConditional("finish"))
	assert.Equal(t, []string{END}, compiled.Routes("finish"))
	assert.Nil(t, compiled.Routes("start"))

	routes := compiled.Routes("finish")
	routes[0] = "tampered"
	assert.Equal(t, []string{END}, compiled.Routes("finish"), "callers get a copy")
}

func TestCompile_Name(t *testing.T) {
	g := NewGraph[Counter]().AddNode("a", increment).AddEdge("a", END).SetEntry("a")

	unnamed, err := g.Compile()
	require.NoError(t, err)
	assert.Equal(t, "flowgraph", unnamed.Name())

	blank, err := g.Compile(WithName(""))
	require.NoError(t, err)
	assert.Equal(t, "flowgraph", blank.Name())

	assert.Same(t, counterSchema, linearCounterGraph().Schema())
}
