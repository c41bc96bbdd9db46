package docstore

import (
	"context"
)

// Collection names used by DB.
const (
	CollPapers   = "papers"
	CollInsights = "insights"
	CollProblems = "problems"
	CollLinks    = "research_links"
	CollReports  = "solution_reports"
	CollTrends   = "trends"
	CollRuns     = "agent_runs"
)

// Record is one raw document.
type Record struct {
	ID   string
	Body []byte
}

// Backend stores opaque JSON documents grouped in collections.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns the document body or ErrNotFound.
	Get(ctx context.Context, collection, id string) ([]byte, error)

	// Put inserts or replaces a document. A replaced document keeps its
	// position in List order.
	Put(ctx context.Context, collection, id string, body []byte) error

	// Update atomically replaces a document with fn's result. fn receives
	// nil when the document does not exist; returning an error aborts the
	// update and is passed through.
	Update(ctx context.Context, collection, id string, fn func(current []byte) ([]byte, error)) error

	// List returns every document of a collection in insertion order.
	List(ctx context.Context, collection string) ([]Record, error)

	// Delete removes a document. Missing documents are not an error.
	Delete(ctx context.Context, collection, id string) error

	// Close releases resources.
	Close() error
}
