package flowgraph

// END is the pseudo-node a run stops at. It is a valid edge and route
// target but never a node ID.
const END = "__end__"

// NodeFunc runs one step. It sees the merged state so far and returns only
// the fields it changes; the executor merges them through the graph's
// Schema before routing.
//
// Failures a pipeline can describe belong in the state (an error field read
// by a conditional edge). A returned Go error aborts the run.
//
//	var value = flowgraph.Replace("value", func(c *Counter) *int { return &c.Value })
//
//	func increment(ctx flowgraph.Context, s Counter) (flowgraph.Update[Counter], error) {
//	    return flowgraph.Update[Counter]{value.Set(s.Value + 1)}, nil
//	}
type NodeFunc[S any] func(ctx Context, state S) (Update[S], error)

// RouterFunc picks the node after a conditional edge's source. It runs once
// per step on the state that already holds the source's update, and must
// be free of side effects.
//
// The result must be a node ID or END, and one of the edge's declared
// targets when it has any; anything else fails the run with a RouterError.
//
//	func router(ctx flowgraph.Context, s State) string {
//	    if s.Error != "" {
//	        return flowgraph.END
//	    }
//	    return "process"
//	}
type RouterFunc[S any] func(ctx Context, state S) string
