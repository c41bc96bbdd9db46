package flowgraph

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/randalmurphal/paperflow/pkg/flowgraph/observability"
)

// Context provides execution context to nodes.
// It extends context.Context with a logger and run metadata.
//
// Context is immutable after creation. The executor derives a context for
// every node with the node ID, thread ID and step filled in and the logger
// enriched with the same fields. Clients a node needs (LLM, stores) are
// injected into the node when the graph is built, not carried here.
type Context interface {
	context.Context

	// Logger returns the configured logger, enriched with run and node context.
	// Never returns nil - defaults to slog.Default() if not configured.
	Logger() *slog.Logger

	// RunID returns the unique identifier for this execution run.
	// Auto-generated if not configured.
	RunID() string

	// ThreadID returns the checkpoint thread of the run, or "" when the run
	// is not checkpointed.
	ThreadID() string

	// NodeID returns the current node being executed.
	// Empty string before execution starts.
	NodeID() string

	// Step returns the 1-based position of the current node in the thread.
	Step() int
}

// executionContext is the internal implementation of Context.
type executionContext struct {
	context.Context

	logger   *slog.Logger
	runID    string
	threadID string
	nodeID   string
	step     int
}

func (c *executionContext) Logger() *slog.Logger { return c.logger }
func (c *executionContext) RunID() string        { return c.runID }
func (c *executionContext) ThreadID() string     { return c.threadID }
func (c *executionContext) NodeID() string       { return c.nodeID }
func (c *executionContext) Step() int            { return c.step }

// ContextOption configures a Context.
type ContextOption func(*executionContext)

// WithLogger sets the logger for the context.
// The logger will be enriched with run_id, thread_id, node_id and step during execution.
func WithLogger(logger *slog.Logger) ContextOption {
	return func(c *executionContext) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithContextRunID sets the run identifier for the context.
// If not set, a UUID will be auto-generated.
func WithContextRunID(id string) ContextOption {
	return func(c *executionContext) {
		if id != "" {
			c.runID = id
		}
	}
}

// NewContext creates an execution context from a standard context.
// The returned Context wraps the provided context.Context and adds
// flowgraph-specific services and metadata.
//
// Example:
//
//	ctx := flowgraph.NewContext(context.Background(),
//	    flowgraph.WithLogger(myLogger),
//	    flowgraph.WithContextRunID("run-123"))
func NewContext(ctx context.Context, opts ...ContextOption) Context {
	ec := &executionContext{
		Context: ctx,
		logger:  slog.Default(),
		runID:   uuid.NewString(),
	}

	for _, opt := range opts {
		opt(ec)
	}

	return ec
}

// toExecutionContext adapts any Context to the internal implementation so
// the executor can derive per-node contexts from it.
func toExecutionContext(ctx Context) *executionContext {
	if ec, ok := ctx.(*executionContext); ok {
		return ec
	}
	return &executionContext{
		Context:  ctx,
		logger:   ctx.Logger(),
		runID:    ctx.RunID(),
		threadID: ctx.ThreadID(),
		nodeID:   ctx.NodeID(),
		step:     ctx.Step(),
	}
}

// withThread returns a copy bound to a checkpoint thread.
func (c *executionContext) withThread(threadID string) *executionContext {
	cp := *c
	cp.threadID = threadID
	return &cp
}

// withTracing returns a copy whose parent context carries the run span.
func (c *executionContext) withTracing(ctx context.Context) *executionContext {
	cp := *c
	cp.Context = ctx
	return &cp
}

// withNode returns a new context for one node execution.
func (c *executionContext) withNode(nodeID string, step int) *executionContext {
	return &executionContext{
		Context:  c.Context,
		logger:   observability.EnrichLogger(c.logger, c.runID, c.threadID, nodeID, step),
		runID:    c.runID,
		threadID: c.threadID,
		nodeID:   nodeID,
		step:     step,
	}
}
