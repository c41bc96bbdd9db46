// Package memory is an in-process docstore.Backend for tests and
// single-process deployments. Data is lost when the process exits.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/randalmurphal/paperflow/pkg/docstore"
)

type collection struct {
	docs  map[string][]byte
	order []string
}

// Backend keeps documents in maps guarded by one RWMutex.
type Backend struct {
	mu     sync.RWMutex
	colls  map[string]*collection
	closed bool
}

// New creates an empty backend.
func New() *Backend {
	return &Backend{colls: make(map[string]*collection)}
}

// NewStore is shorthand for docstore.New(New()).
func NewStore() *docstore.DB {
	return docstore.New(New())
}

func (b *Backend) coll(name string) *collection {
	c, ok := b.colls[name]
	if !ok {
		c = &collection{docs: make(map[string][]byte)}
		b.colls[name] = c
	}
	return c
}

// Get implements docstore.Backend.
func (b *Backend) Get(_ context.Context, collection, id string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, docstore.ErrClosed
	}
	c, ok := b.colls[collection]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	body, ok := c.docs[id]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	return slices.Clone(body), nil
}

// Put implements docstore.Backend.
func (b *Backend) Put(_ context.Context, collection, id string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return docstore.ErrClosed
	}
	b.set(collection, id, body)
	return nil
}

func (b *Backend) set(collection, id string, body []byte) {
	c := b.coll(collection)
	if _, exists := c.docs[id]; !exists {
		c.order = append(c.order, id)
	}
	c.docs[id] = slices.Clone(body)
}

// Update implements docstore.Backend.
func (b *Backend) Update(_ context.Context, collection, id string, fn func([]byte) ([]byte, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return docstore.ErrClosed
	}
	var current []byte
	if c, ok := b.colls[collection]; ok {
		current = slices.Clone(c.docs[id])
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	b.set(collection, id, next)
	return nil
}

// List implements docstore.Backend.
func (b *Backend) List(_ context.Context, collection string) ([]docstore.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, docstore.ErrClosed
	}
	c, ok := b.colls[collection]
	if !ok {
		return []docstore.Record{}, nil
	}
	out := make([]docstore.Record, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, docstore.Record{ID: id, Body: slices.Clone(c.docs[id])})
	}
	return out, nil
}

// Delete implements docstore.Backend.
func (b *Backend) Delete(_ context.Context, collection, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return docstore.ErrClosed
	}
	c, ok := b.colls[collection]
	if !ok {
		return nil
	}
	if _, exists := c.docs[id]; !exists {
		return nil
	}
	delete(c.docs, id)
	c.order = slices.DeleteFunc(c.order, func(s string) bool { return s == id })
	return nil
}

// Close implements docstore.Backend.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
