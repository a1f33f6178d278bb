// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package watcher turns the state of a single statemap key into a stream
// of transitions that can be consumed as a worker.
package watcher

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/worker/v4"
	"gopkg.in/tomb.v2"

	"github.com/juju/awaitstate/statemap"
)

var logger = loggo.GetLogger("awaitstate.watcher")

// Source is the part of a statemap.Map read by a TransitionWatcher.
type Source[T comparable] interface {
	Snapshot(key string) (statemap.Transition[T], error)
	WaitTransition(ctx context.Context, key string, predicate statemap.Predicate[T]) (statemap.Transition[T], error)
}

// TransitionWatcher sends the state of a key when it starts, and again
// each time the key's current value moves away from the last value sent.
// Values that come and go while the consumer is not reading are
// coalesced.
type TransitionWatcher[T comparable] struct {
	tomb    tomb.Tomb
	source  Source[T]
	key     string
	changes chan statemap.Transition[T]
}

var _ worker.Worker = (*TransitionWatcher[int])(nil)

// NewTransitionWatcher returns a watcher for key, which must exist in
// source. The caller takes responsibility for killing, and handling errors
// from, the returned watcher.
func NewTransitionWatcher[T comparable](source Source[T], key string) (*TransitionWatcher[T], error) {
	if source == nil {
		return nil, errors.NotValidf("nil Source")
	}
	initial, err := source.Snapshot(key)
	if err != nil {
		return nil, errors.Annotatef(err, "watching %q", key)
	}
	w := &TransitionWatcher[T]{
		source:  source,
		key:     key,
		changes: make(chan statemap.Transition[T]),
	}
	w.tomb.Go(func() error {
		return w.loop(initial)
	})
	return w, nil
}

// Changes returns the channel on which transitions are delivered. It is
// closed when the watcher stops.
func (w *TransitionWatcher[T]) Changes() <-chan statemap.Transition[T] {
	return w.changes
}

func (w *TransitionWatcher[T]) loop(pending statemap.Transition[T]) error {
	defer close(w.changes)

	ctx := w.tomb.Context(context.Background())
	for {
		select {
		case <-w.tomb.Dying():
			return tomb.ErrDying
		case w.changes <- pending:
		}

		last := pending.Current
		next, err := w.source.WaitTransition(ctx, w.key, func(_, curr T) bool {
			return curr != last
		})
		switch {
		case errors.Is(err, context.Canceled):
			return tomb.ErrDying
		case errors.Is(err, statemap.ErrKeyNotFound):
			logger.Debugf("state %q removed; stopping watcher", w.key)
			return errors.Trace(err)
		case err != nil:
			return errors.Annotatef(err, "watching %q", w.key)
		}
		pending = next
	}
}

// Kill (worker.Worker) kills the watcher via its tomb.
func (w *TransitionWatcher[T]) Kill() {
	w.tomb.Kill(nil)
}

// Wait (worker.Worker) waits for the watcher's tomb to die,
// and returns the error with which it was killed.
func (w *TransitionWatcher[T]) Wait() error {
	return w.tomb.Wait()
}

// Stop kills the watcher and waits for it to finish.
func (w *TransitionWatcher[T]) Stop() error {
	w.Kill()
	return w.Wait()
}
