/*
Package flowgraph provides graph-based orchestration for LLM pipelines.

# Overview

A graph is a set of named nodes joined by edges. Each node reads the current
state and returns a partial Update; the executor merges that update through
the graph's Schema, picks the next node and, when a checkpoint store is
attached, persists the merged state. Execution is strictly sequential: one
node at a time, in the order the edges dictate.

# State and Updates

State is a plain struct. Its fields are declared once with a merge strategy:

	type State struct {
	    Topic  string   `json:"topic"`
	    Papers []string `json:"papers"`
	}

	var (
	    topic  = flowgraph.Replace("topic", func(s *State) *string { return &s.Topic })
	    papers = flowgraph.Append("papers", func(s *State) *[]string { return &s.Papers })
	    schema = flowgraph.NewSchema[State](topic, papers)
	)

Replace fields are overwritten by a write; Append fields accumulate. Fields a
node does not write keep their value. A write to a field the schema does not
declare fails the node with ErrUnknownField.

	func fetch(ctx flowgraph.Context, s State) (flowgraph.Update[State], error) {
	    return flowgraph.Update[State]{papers.Add("2401.00001", "2401.00002")}, nil
	}

# Building and Running

	compiled, err := flowgraph.NewGraph[State]().
	    WithSchema(schema).
	    AddNode("fetch", fetch).
	    AddNode("summarize", summarize).
	    AddEdge("fetch", "summarize").
	    AddEdge("summarize", flowgraph.END).
	    SetEntry("fetch").
	    Compile(flowgraph.WithName("trends"))
	if err != nil {
	    log.Fatal(err)
	}

	ctx := flowgraph.NewContext(context.Background())
	result, err := compiled.Run(ctx, State{Topic: "diffusion"})

Compile rejects graphs without an entry point, with edges to unknown nodes,
with more than one simple edge out of a node, or with no path to END.

# Conditional Branching

A conditional edge replaces the simple edge of a node with a router:

	graph.AddConditionalEdge("review", func(ctx flowgraph.Context, s State) string {
	    if len(s.Approved) == 0 {
	        return flowgraph.END
	    }
	    return "report"
	})

Routers returning "" or an unknown node fail the run with a RouterError.
Loops are bounded by WithMaxIterations (default 1000).

# Checkpointing

	store, err := checkpoint.NewSQLiteStore("./checkpoints.db")
	defer store.Close()

	result, err := compiled.Run(ctx, state,
	    flowgraph.WithCheckpointing(store),
	    flowgraph.WithThreadID("thread-123"))

	// After a crash, continue with the node after the last checkpoint.
	result, err = compiled.Resume(ctx, store, "thread-123")

Every checkpoint records the node that produced it, the node that runs next
and its parent, so the checkpoints of a thread form one ancestry chain.
LoadState reads a checkpoint's state to seed a different graph.

# Observability

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	ctx := flowgraph.NewContext(context.Background(), flowgraph.WithLogger(logger))

	result, err := compiled.Run(ctx, state,
	    flowgraph.WithMetrics(observability.NewMetricsRecorder()),
	    flowgraph.WithTracing(true))

Node loggers carry run_id, thread_id, node_id and step.

# Errors

Node failures are wrapped in NodeError, panics in PanicError with the stack,
cancellation in CancellationError holding the last merged state.

# Thread Safety

Graph is not safe for concurrent use while it is being built. CompiledGraph
is immutable and may run many times concurrently. Checkpoint stores are safe
for concurrent use.
*/
package flowgraph
