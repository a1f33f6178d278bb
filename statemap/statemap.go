// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package statemap

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/juju/awaitstate/internal/cell"
	"github.com/juju/awaitstate/internal/shards"
)

// Predicate decides whether a wait should resolve, given the previous and
// current value of a key. It may be called many times with the same
// arguments, and concurrently from different waiters, so it must not
// have side effects.
type Predicate[T any] func(prev, curr T) bool

// Transition is a previous/current pair read from a key.
//
// HasPrevious is false when the key has not been written since it was
// put; Previous then holds the same value as Current.
type Transition[T any] struct {
	Previous    T
	Current     T
	HasPrevious bool
}

// Map is a concurrent map of string keys to state values, which callers
// can block on until a key's value satisfies a Predicate.
type Map[T comparable] struct {
	clock   clock.Clock
	logger  Logger
	metrics *Collector
	cells   *shards.Map[*cell.Cell[T]]
}

// New returns an empty Map using DefaultConfig.
func New[T comparable]() *Map[T] {
	return newMap[T](DefaultConfig())
}

// WithCapacity returns an empty Map using DefaultConfig, sized for n keys.
func WithCapacity[T comparable](n int) *Map[T] {
	config := DefaultConfig()
	config.Capacity = max(n, 0)
	return newMap[T](config)
}

// NewMap returns an empty Map configured as supplied.
func NewMap[T comparable](config Config) (*Map[T], error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return newMap[T](config), nil
}

func newMap[T comparable](config Config) *Map[T] {
	metrics := config.Metrics
	if metrics == nil {
		metrics = NewMetricsCollector()
	}
	return &Map[T]{
		clock:   config.Clock,
		logger:  config.Logger,
		metrics: metrics,
		cells:   shards.New[*cell.Cell[T]](config.ShardCount, config.Capacity),
	}
}

// Collector returns the collector holding the map's metrics, for
// registration with a prometheus.Registerer.
func (m *Map[T]) Collector() *Collector {
	return m.metrics
}

// Put installs a fresh state for key, with no previous value. An existing
// state for key is replaced rather than updated: callers already waiting
// on it keep waiting on the replaced state.
func (m *Map[T]) Put(key string, value T) {
	if _, existed := m.cells.Swap(key, cell.New(value)); existed {
		m.logger.Debugf("replaced state %q", key)
		return
	}
	m.metrics.keys.Inc()
}

// Remove deletes key. Callers waiting on it are woken and fail with
// ErrKeyNotFound, unless the key has been put again by the time they
// look it up.
func (m *Map[T]) Remove(key string) {
	old, existed := m.cells.Delete(key)
	if !existed {
		return
	}
	old.Retire()
	m.metrics.keys.Dec()
	m.logger.Debugf("removed state %q", key)
}

// SetState records a transition of key to value and wakes its waiters.
func (m *Map[T]) SetState(key string, value T) error {
	c, err := m.lookup(key)
	if err != nil {
		return errors.Trace(err)
	}
	c.Set(value)
	m.metrics.transitions.Inc()
	return nil
}

// GetState returns the current value of key.
func (m *Map[T]) GetState(key string) (T, error) {
	c, err := m.lookup(key)
	if err != nil {
		var zero T
		return zero, errors.Trace(err)
	}
	return c.Current(), nil
}

// Snapshot returns the previous and current value of key.
func (m *Map[T]) Snapshot(key string) (Transition[T], error) {
	c, err := m.lookup(key)
	if err != nil {
		return Transition[T]{}, errors.Trace(err)
	}
	prev, ok, curr := c.Snapshot()
	if !ok {
		prev = curr
	}
	return Transition[T]{Previous: prev, Current: curr, HasPrevious: ok}, nil
}

// Keys returns the keys currently in the map, sorted.
func (m *Map[T]) Keys() []string {
	return set.NewStrings(m.cells.Keys()...).SortedValues()
}

// Len returns the number of keys in the map.
func (m *Map[T]) Len() int {
	return m.cells.Len()
}

// WaitUntil blocks until predicate holds for key and returns the value
// that satisfied it. A key with no previous value is tested as a
// transition from its current value to itself, so a predicate matching
// the initial state returns immediately.
//
// Intermediate values written faster than the caller re-checks may not
// be observed; only the latest transition of the key is tested.
func (m *Map[T]) WaitUntil(ctx context.Context, key string, predicate Predicate[T]) (T, error) {
	t, err := m.wait(ctx, key, predicate, nil)
	return t.Current, errors.Trace(err)
}

// WaitUntilTimeout is WaitUntil bounded by d. It returns ErrTimeoutExpired
// if d elapses before predicate holds.
func (m *Map[T]) WaitUntilTimeout(ctx context.Context, key string, predicate Predicate[T], d time.Duration) (T, error) {
	timer := m.clock.NewTimer(d)
	defer timer.Stop()

	t, err := m.wait(ctx, key, predicate, timer.Chan())
	return t.Current, errors.Trace(err)
}

// WaitTransition is WaitUntil returning the transition that satisfied
// predicate.
func (m *Map[T]) WaitTransition(ctx context.Context, key string, predicate Predicate[T]) (Transition[T], error) {
	t, err := m.wait(ctx, key, predicate, nil)
	return t, errors.Trace(err)
}

func (m *Map[T]) wait(ctx context.Context, key string, predicate Predicate[T], abort <-chan time.Time) (Transition[T], error) {
	m.metrics.waiters.Inc()
	defer m.metrics.waiters.Dec()

	start := m.clock.Now()
	t, err := m.waitLoop(ctx, key, predicate, abort)
	m.metrics.observeWait(m.clock.Now().Sub(start), err)
	return t, err
}

// waitLoop re-resolves key on every pass, so a removed key fails and a
// replaced key is picked up once the current cell has been retired.
func (m *Map[T]) waitLoop(ctx context.Context, key string, predicate Predicate[T], abort <-chan time.Time) (Transition[T], error) {
	for {
		c, err := m.lookup(key)
		if err != nil {
			return Transition[T]{}, errors.Trace(err)
		}

		// The change channel must be taken before the snapshot, or a
		// write landing between them would go unnoticed.
		changed := c.Changes()
		prev, ok, curr := c.Snapshot()
		if !ok {
			prev = curr
		}
		if predicate(prev, curr) {
			return Transition[T]{Previous: prev, Current: curr, HasPrevious: ok}, nil
		}

		m.logger.Tracef("waiting for change of state %q", key)
		prev, curr, err = c.Await(ctx, changed, abort)
		switch {
		case errors.Is(err, cell.ErrRetired):
			m.logger.Tracef("state %q removed while waiting", key)
			continue
		case errors.Is(err, cell.ErrAborted):
			return Transition[T]{}, errors.Annotatef(ErrTimeoutExpired, "waiting for state %q", key)
		case err != nil:
			return Transition[T]{}, errors.Annotatef(err, "waiting for state %q", key)
		}
		if predicate(prev, curr) {
			return Transition[T]{Previous: prev, Current: curr, HasPrevious: true}, nil
		}
	}
}

func (m *Map[T]) lookup(key string) (*cell.Cell[T], error) {
	c, ok := m.cells.Get(key)
	if !ok {
		return nil, errors.Annotatef(ErrKeyNotFound, "state %q", key)
	}
	return c, nil
}
