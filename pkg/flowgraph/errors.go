package flowgraph

import (
	"errors"
	"fmt"
	"time"

	fgerrors "github.com/randalmurphal/paperflow/pkg/flowgraph/errors"
)

// Compile errors.
var (
	ErrNoEntryPoint  = errors.New("entry point not set")
	ErrEntryNotFound = errors.New("entry point node not found")
	ErrNodeNotFound  = errors.New("node not found")
	ErrMultipleEdges = errors.New("multiple unconditional edges from node")
	ErrNoPathToEnd   = errors.New("no path to END from entry")
)

// Run errors. Routing failures arrive wrapped in a *RouterError.
var (
	ErrMaxIterations        = errors.New("exceeded maximum iterations")
	ErrNilContext           = errors.New("context cannot be nil")
	ErrInvalidRouterResult  = errors.New("router returned empty string")
	ErrRouterTargetNotFound = errors.New("router returned unknown node")
	ErrUndeclaredRoute      = errors.New("router returned an undeclared target")
)

// Checkpoint and resume errors.
var (
	ErrThreadIDRequired          = errors.New("thread ID required for checkpointing")
	ErrSerializeState            = errors.New("failed to serialize state")
	ErrDeserializeState          = errors.New("failed to deserialize state")
	ErrNoCheckpoints             = errors.New("no checkpoints found for thread")
	ErrInvalidResumeNode         = errors.New("invalid resume node")
	ErrCheckpointVersionMismatch = errors.New("checkpoint version mismatch")
)

// ErrorInfo is one failure recorded in pipeline state. Recoverable
// failures let the run continue; a fatal one ends it. Category and
// Retryable come from fgerrors.Categorize: a fatal failure that is
// retryable is worth triggering the run again.
type ErrorInfo struct {
	Node        string    `json:"node"`
	Error       string    `json:"error"`
	Timestamp   time.Time `json:"timestamp"`
	Recoverable bool      `json:"recoverable"`
	Category    string    `json:"category,omitempty"`
	Retryable   bool      `json:"retryable,omitempty"`
}

// NewErrorInfo records err against node at the current time.
func NewErrorInfo(node string, err error, recoverable bool) ErrorInfo {
	info := ErrorInfo{Node: node, Timestamp: time.Now().UTC(), Recoverable: recoverable}
	if err != nil {
		info.Error = err.Error()
		info.Category = fgerrors.Categorize(err).String()
		info.Retryable = fgerrors.IsRetryable(err)
	}
	return info
}

// CheckpointError reports a failed checkpoint operation: "load", "put"
// or "serialize".
type CheckpointError struct {
	NodeID string
	Op     string
	Err    error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s at node %s: %v", e.Op, e.NodeID, e.Err)
}

func (e *CheckpointError) Unwrap() error { return e.Err }

// NodeError reports a node failure. Op is "execute", "merge", "lookup" or
// "routing".
type NodeError struct {
	NodeID string
	Op     string
	Err    error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %s: %v", e.NodeID, e.Op, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// PanicError is a recovered node panic with the stack at the panic site.
type PanicError struct {
	NodeID string
	Value  any
	Stack  string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.NodeID, e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// CancellationError carries the state reached before the context ended.
type CancellationError struct {
	NodeID string // node that was about to run
	State  any
	Cause  error
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("cancelled before node %s: %v", e.NodeID, e.Cause)
}

func (e *CancellationError) Unwrap() error { return e.Cause }

// RouterError reports a router result the graph cannot follow.
type RouterError struct {
	FromNode string
	Returned string
	Err      error
}

func (e *RouterError) Error() string {
	return fmt.Sprintf("router from %s returned %q: %v", e.FromNode, e.Returned, e.Err)
}

func (e *RouterError) Unwrap() error { return e.Err }

// MaxIterationsError carries the state reached when the iteration limit
// stopped the run. LastNodeID is the node that would have run next.
type MaxIterationsError struct {
	Max        int
	LastNodeID string
	State      any
}

func (e *MaxIterationsError) Error() string {
	return fmt.Sprintf("exceeded maximum iterations (%d) at node %s", e.Max, e.LastNodeID)
}

func (e *MaxIterationsError) Unwrap() error { return ErrMaxIterations }

// FailedNode returns the node named by the first engine error in err's
// chain, or "" when there is none.
func FailedNode(err error) string {
	var (
		nodeErr   *NodeError
		panicErr  *PanicError
		cpErr     *CheckpointError
		routeErr  *RouterError
		cancelErr *CancellationError
		maxErr    *MaxIterationsError
	)
	switch {
	case errors.As(err, &nodeErr):
		return nodeErr.NodeID
	case errors.As(err, &panicErr):
		return panicErr.NodeID
	case errors.As(err, &cpErr):
		return cpErr.NodeID
	case errors.As(err, &routeErr):
		return routeErr.FromNode
	case errors.As(err, &cancelErr):
		return cancelErr.NodeID
	case errors.As(err, &maxErr):
		return maxErr.LastNodeID
	}
	return ""
}
