// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package cell provides a single state slot with a one-deep transition
// history, which any number of goroutines can wait on for the next
// transition.
package cell

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
)

const (
	// ErrRetired is returned to waiters when the cell has been retired
	// by its owner while they were blocked.
	ErrRetired = errors.ConstError("cell retired")

	// ErrAborted is returned to waiters when the abort channel supplied
	// to Await fires before a transition is observed.
	ErrAborted = errors.ConstError("wait aborted")
)

// Cell holds the previous and current value of one piece of state.
//
// The value fields are guarded by mu. Wakeups are delivered by closing
// changed, which is guarded separately by notifyMu so that broadcasting
// never requires holding the data lock.
type Cell[T comparable] struct {
	mu          sync.RWMutex
	previous    T
	hasPrevious bool
	current     T

	notifyMu sync.Mutex
	changed  chan struct{}

	retireOnce sync.Once
	dying      chan struct{}
}

// New returns a cell holding initial with no previous value.
func New[T comparable](initial T) *Cell[T] {
	return &Cell[T]{
		current: initial,
		changed: make(chan struct{}),
		dying:   make(chan struct{}),
	}
}

// Set records a transition to v and wakes every waiter. The old current
// value always moves into the previous slot, even when it equals v.
func (c *Cell[T]) Set(v T) {
	c.mu.Lock()
	c.previous = c.current
	c.hasPrevious = true
	c.current = v
	c.mu.Unlock()

	c.broadcast()
}

func (c *Cell[T]) broadcast() {
	c.notifyMu.Lock()
	close(c.changed)
	c.changed = make(chan struct{})
	c.notifyMu.Unlock()
}

// Snapshot returns a copy of the previous and current values. hasPrevious
// is false until the first call to Set.
func (c *Cell[T]) Snapshot() (previous T, hasPrevious bool, current T) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.previous, c.hasPrevious, c.current
}

// Current returns a copy of the current value.
func (c *Cell[T]) Current() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Changes returns a channel that is closed by the next call to Set.
//
// A caller that obtains the channel before taking a Snapshot is
// guaranteed that any Set not reflected in that snapshot will close it.
func (c *Cell[T]) Changes() <-chan struct{} {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	return c.changed
}

// Dying returns a channel that is closed when the cell is retired.
func (c *Cell[T]) Dying() <-chan struct{} {
	return c.dying
}

// Retire wakes every waiter with ErrRetired. It is safe to call more than
// once. Values can still be read and written through a retired cell.
func (c *Cell[T]) Retire() {
	c.retireOnce.Do(func() {
		close(c.dying)
	})
}

// WaitForChange blocks until a Set made after the call leaves the cell
// with a previous value different from its current value, and returns
// that pair.
func (c *Cell[T]) WaitForChange(ctx context.Context) (T, T, error) {
	return c.Await(ctx, c.Changes(), nil)
}

// Await is WaitForChange starting from a change channel the caller has
// already obtained from Changes. A nil abort channel never fires.
//
// Wakeups for writes that leave the value unchanged are absorbed and
// the wait continues.
func (c *Cell[T]) Await(ctx context.Context, changed <-chan struct{}, abort <-chan time.Time) (T, T, error) {
	var zero T
	for {
		select {
		case <-ctx.Done():
			return zero, zero, errors.Trace(ctx.Err())
		case <-abort:
			return zero, zero, ErrAborted
		case <-c.dying:
			return zero, zero, ErrRetired
		case <-changed:
		}

		changed = c.Changes()
		prev, ok, curr := c.Snapshot()
		if ok && prev != curr {
			return prev, curr, nil
		}
	}
}
