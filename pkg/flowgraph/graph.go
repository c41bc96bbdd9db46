package flowgraph

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Graph builds a workflow of named nodes. Build it from one goroutine,
// then Compile it into an immutable CompiledGraph that runs can share.
//
//	compiled, err := flowgraph.NewGraph[State]().
//	    WithSchema(schema).
//	    AddNode("load", load).
//	    AddNode("score", score).
//	    AddConditionalEdge("load", router, "score", flowgraph.END).
//	    AddEdge("score", flowgraph.END).
//	    SetEntry("load").
//	    Compile(flowgraph.WithName("linking"))
type Graph[S any] struct {
	mu               sync.RWMutex
	schema           *Schema[S]
	nodes            map[string]NodeFunc[S]
	nodeOrder        []string
	edges            map[string][]string
	conditionalEdges map[string]RouterFunc[S]
	routeTargets     map[string][]string
	entryPoint       string
}

// NewGraph returns an empty builder for state type S.
func NewGraph[S any]() *Graph[S] {
	return &Graph[S]{
		nodes:            make(map[string]NodeFunc[S]),
		edges:            make(map[string][]string),
		conditionalEdges: make(map[string]RouterFunc[S]),
		routeTargets:     make(map[string][]string),
	}
}

// WithSchema sets the schema that merges node updates into the state.
// Without one, every write applies as-is.
func (g *Graph[S]) WithSchema(schema *Schema[S]) *Graph[S] {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.schema = schema
	return g
}

// AddNode registers fn under id. It panics on an empty id, an id that
// contains whitespace, a spelling of END, a nil fn, or a duplicate id:
// all of these are programming errors in graph construction.
func (g *Graph[S]) AddNode(id string, fn NodeFunc[S]) *Graph[S] {
	if msg := checkNodeID(id); msg != "" {
		panic("flowgraph: " + msg)
	}
	if fn == nil {
		panic("flowgraph: node function cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[id]; exists {
		panic(fmt.Sprintf("flowgraph: duplicate node ID: %s", id))
	}
	g.nodes[id] = fn
	g.nodeOrder = append(g.nodeOrder, id)
	return g
}

func checkNodeID(id string) string {
	switch {
	case id == "":
		return "node ID cannot be empty"
	case strings.EqualFold(id, "end") || strings.EqualFold(id, END):
		return "node ID cannot be reserved word 'END'"
	case strings.ContainsAny(id, " \t\n\r"):
		return "node ID cannot contain whitespace"
	}
	return ""
}

// AddEdge connects from to to, which may be END. References are checked
// by Compile, so edges can be added before their nodes.
func (g *Graph[S]) AddEdge(from, to string) *Graph[S] {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges[from] = append(g.edges[from], to)
	return g
}

// AddConditionalEdge lets router pick the node after from at run time. A
// conditional edge takes precedence over a simple edge on the same node.
//
// targets, when given, declares every node router may return (END
// included). Compile then checks them and limits reachability analysis to
// them, and a run fails if router strays outside the set. Without targets
// the router may return any node.
func (g *Graph[S]) AddConditionalEdge(from string, router RouterFunc[S], targets ...string) *Graph[S] {
	if router == nil {
		panic("flowgraph: router function cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.conditionalEdges[from] = router
	if len(targets) > 0 {
		g.routeTargets[from] = slices.Compact(slices.Sorted(slices.Values(targets)))
	} else {
		delete(g.routeTargets, from)
	}
	return g
}

// SetEntry names the first node of every run. Compile checks that it exists.
func (g *Graph[S]) SetEntry(id string) *Graph[S] {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entryPoint = id
	return g
}
