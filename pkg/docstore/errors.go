package docstore

import "errors"

// Sentinel errors for document store operations.
var (
	// ErrNotFound indicates the requested document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrInvalidTransition indicates an AgentRun status change that the
	// run lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid run status transition")

	// ErrInvalidDocument indicates a document failed basic checks on write.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrClosed indicates the backend was closed.
	ErrClosed = errors.New("document store closed")
)
