package flowgraph

import "slices"

// CompiledGraph is an immutable, executable graph.
// It is created by calling Compile() on a Graph builder.
//
// CompiledGraph is thread-safe and can be used concurrently for multiple
// Run() calls on different threads. The graph structure cannot be modified
// after compilation.
type CompiledGraph[S any] struct {
	name             string
	schema           *Schema[S]
	nodes            map[string]NodeFunc[S]
	nodeOrder        []string
	edges            map[string][]string
	conditionalEdges map[string]RouterFunc[S]
	routeTargets     map[string][]string
	entryPoint       string

	predecessors map[string][]string
}

// Name returns the graph name given with WithName.
func (cg *CompiledGraph[S]) Name() string {
	return cg.name
}

// Schema returns the state schema, or nil if none was set.
func (cg *CompiledGraph[S]) Schema() *Schema[S] {
	return cg.schema
}

// EntryPoint returns the entry node ID.
func (cg *CompiledGraph[S]) EntryPoint() string {
	return cg.entryPoint
}

// NodeIDs returns all node identifiers in the order they were added.
func (cg *CompiledGraph[S]) NodeIDs() []string {
	return slices.Clone(cg.nodeOrder)
}

// HasNode checks if a node exists in the graph.
func (cg *CompiledGraph[S]) HasNode(id string) bool {
	_, exists := cg.nodes[id]
	return exists
}

// Successor returns the target of the node's simple edge.
// Returns "" for END, unknown nodes, and nodes routed only by a condition.
func (cg *CompiledGraph[S]) Successor(id string) string {
	if id == END || len(cg.edges[id]) == 0 {
		return ""
	}
	return cg.edges[id][0]
}

// Predecessors returns the node IDs that have simple edges to the given node.
func (cg *CompiledGraph[S]) Predecessors(id string) []string {
	return cg.predecessors[id]
}

// IsConditional reports whether a router picks the node after id.
func (cg *CompiledGraph[S]) IsConditional(id string) bool {
	_, ok := cg.conditionalEdges[id]
	return ok
}

// Routes returns the sorted targets declared for the router on id, or nil
// when the router is undeclared or absent.
func (cg *CompiledGraph[S]) Routes(id string) []string {
	return slices.Clone(cg.routeTargets[id])
}

func (cg *CompiledGraph[S]) getNode(id string) (NodeFunc[S], bool) {
	fn, exists := cg.nodes[id]
	return fn, exists
}

func (cg *CompiledGraph[S]) getRouter(id string) (RouterFunc[S], bool) {
	router, exists := cg.conditionalEdges[id]
	return router, exists
}
