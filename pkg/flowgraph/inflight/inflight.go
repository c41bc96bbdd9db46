// Package inflight tracks graph runs executing in the background so they can
// be cancelled by thread ID and drained on shutdown.
//
// A thread has at most one run in flight: Start refuses a second run on a
// busy thread, which keeps the nodes of one thread strictly sequential even
// when a resume request races the run it resumes.
//
//	t := inflight.New()
//	runCtx, finish, err := t.Start(ctx, runID)
//	if err != nil {
//	    return err
//	}
//	go func() {
//	    defer finish()
//	    graph.Run(flowgraph.NewContext(runCtx), state, ...)
//	}()
//
//	t.Cancel(runID, nil) // from another goroutine
package inflight

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

var (
	// ErrAlreadyRunning is returned by Start for a thread with a run in flight.
	ErrAlreadyRunning = errors.New("thread already has a run in flight")

	// ErrCancelled is the cancellation cause when Cancel is given none.
	ErrCancelled = errors.New("run cancelled")
)

type entry struct {
	cancel  context.CancelCauseFunc
	started time.Time
}

// Tracker is a thread-safe set of in-flight runs keyed by thread ID.
type Tracker struct {
	mu   sync.RWMutex
	runs map[string]*entry
	wg   sync.WaitGroup
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{runs: make(map[string]*entry)}
}

// Start registers a run on threadID and returns the context the run must
// use. finish releases the thread and must be called exactly once when the
// run ends; extra calls are no-ops.
func (t *Tracker) Start(ctx context.Context, threadID string) (context.Context, func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, busy := t.runs[threadID]; busy {
		return nil, nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, threadID)
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	e := &entry{cancel: cancel, started: time.Now()}
	t.runs[threadID] = e
	t.wg.Add(1)

	var once sync.Once
	finish := func() {
		once.Do(func() {
			t.mu.Lock()
			if t.runs[threadID] == e {
				delete(t.runs, threadID)
			}
			t.mu.Unlock()
			cancel(nil)
			t.wg.Done()
		})
	}
	return runCtx, finish, nil
}

// Cancel cancels the run on threadID with cause (ErrCancelled when nil).
// It reports whether a run was in flight.
func (t *Tracker) Cancel(threadID string, cause error) bool {
	t.mu.RLock()
	e, ok := t.runs[threadID]
	t.mu.RUnlock()
	if !ok {
		return false
	}
	if cause == nil {
		cause = ErrCancelled
	}
	e.cancel(cause)
	return true
}

// CancelAll cancels every run in flight and returns how many there were.
func (t *Tracker) CancelAll(cause error) int {
	threads := t.Threads()
	n := 0
	for _, id := range threads {
		if t.Cancel(id, cause) {
			n++
		}
	}
	return n
}

// Running reports whether threadID has a run in flight.
func (t *Tracker) Running(threadID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.runs[threadID]
	return ok
}

// Since returns how long the run on threadID has been in flight.
func (t *Tracker) Since(threadID string) (time.Duration, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.runs[threadID]
	if !ok {
		return 0, false
	}
	return time.Since(e.started), true
}

// Threads returns the thread IDs in flight, sorted.
func (t *Tracker) Threads() []string {
	t.mu.RLock()
	ids := make([]string, 0, len(t.runs))
	for id := range t.runs {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Len returns the number of runs in flight.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.runs)
}

// Wait blocks until every run has finished or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
