package checkpoint

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryStore is an in-memory checkpoint store for tests and development.
// Data is lost when the process exits.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]*Checkpoint // threadID -> checkpoints, oldest first
	seq     map[string]int64
	closed  bool
}

// NewMemoryStore creates a new in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[string][]*Checkpoint),
		seq:     make(map[string]int64),
	}
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, threadID string, state json.RawMessage, meta Metadata, parentID string) (string, error) {
	if threadID == "" {
		return "", ErrThreadIDRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", ErrStoreClosed
	}

	if parentID != "" && m.find(threadID, parentID) == nil {
		return "", ErrParentNotFound
	}

	m.seq[threadID]++
	cp := newCheckpoint(threadID, m.seq[threadID], state, meta, parentID)
	m.threads[threadID] = append(m.threads[threadID], cp)
	return cp.CheckpointID, nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, threadID, checkpointID string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	chain := m.threads[threadID]
	if len(chain) == 0 {
		return nil, ErrNotFound
	}
	if checkpointID == "" {
		return chain[len(chain)-1].clone(), nil
	}
	if cp := m.find(threadID, checkpointID); cp != nil {
		return cp.clone(), nil
	}
	return nil, ErrNotFound
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, threadID string, opts ListOptions) ([]*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	chain := m.threads[threadID]
	out := make([]*Checkpoint, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		out = append(out, chain[i].clone())
	}
	return page(out, opts), nil
}

// DeleteThread implements Store.
func (m *MemoryStore) DeleteThread(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	delete(m.threads, threadID)
	delete(m.seq, threadID)
	return nil
}

// Prune implements Store.
func (m *MemoryStore) Prune(_ context.Context, threadID string, keep int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrStoreClosed
	}

	chain := m.threads[threadID]
	if keep <= 0 || len(chain) <= keep {
		return 0, nil
	}
	removed := len(chain) - keep
	m.threads[threadID] = append([]*Checkpoint(nil), chain[removed:]...)
	return removed, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.threads = nil
	return nil
}

// Len returns the total number of checkpoints across all threads.
// Useful for testing.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, chain := range m.threads {
		count += len(chain)
	}
	return count
}

// find must be called with the lock held.
func (m *MemoryStore) find(threadID, checkpointID string) *Checkpoint {
	for _, cp := range m.threads[threadID] {
		if cp.CheckpointID == checkpointID {
			return cp
		}
	}
	return nil
}
