// Package checkpoint provides persistent, thread-keyed checkpoint storage.
//
// Every checkpoint of a thread points at its parent, so the checkpoints of
// one thread form a singly-linked ancestry chain that can be walked back
// from the latest entry.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
)

// Store persists checkpoints grouped by thread.
// Implementations must be safe for concurrent use.
type Store interface {
	// Put appends a checkpoint to a thread and returns its new ID.
	// parentID may be empty for the first checkpoint of a chain; otherwise it
	// must name an existing checkpoint of the same thread (ErrParentNotFound).
	Put(ctx context.Context, threadID string, state json.RawMessage, meta Metadata, parentID string) (string, error)

	// Get returns a checkpoint. An empty checkpointID selects the latest
	// checkpoint of the thread. Returns ErrNotFound when nothing matches.
	Get(ctx context.Context, threadID, checkpointID string) (*Checkpoint, error)

	// List returns the checkpoints of a thread, newest first.
	// Returns an empty slice (not an error) for unknown threads.
	List(ctx context.Context, threadID string, opts ListOptions) ([]*Checkpoint, error)

	// DeleteThread removes every checkpoint of a thread.
	// Returns nil if the thread has no checkpoints.
	DeleteThread(ctx context.Context, threadID string) error

	// Prune keeps the newest keep checkpoints of a thread and removes the
	// rest, returning how many were removed. keep <= 0 removes nothing.
	Prune(ctx context.Context, threadID string, keep int) (int, error)

	// Close releases any resources (connections, files).
	Close() error
}

// ListOptions pages through a thread's checkpoints.
type ListOptions struct {
	// Limit caps the number of results. Zero means no limit.
	Limit int
	// Offset skips that many of the newest checkpoints.
	Offset int
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates a checkpoint doesn't exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrParentNotFound indicates Put named a parent that is not part of the thread.
	ErrParentNotFound = errors.New("parent checkpoint not found")

	// ErrThreadIDRequired indicates an operation was called with an empty thread ID.
	ErrThreadIDRequired = errors.New("thread ID required")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")
)

// page applies ListOptions to a newest-first slice.
func page[T any](items []T, opts ListOptions) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return items[:0]
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}
