// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package testing

import (
	"context"
	"time"

	gc "gopkg.in/check.v1"
)

// Result is the outcome of a blocking call run by a Block.
type Result[T any] struct {
	Value T
	Err   error
}

// Block wraps a goroutine running a blocking call, and fails if it's
// waited on for longer than LongWait.
type Block[T any] struct {
	done   chan Result[T]
	abort  <-chan time.Time
	cancel context.CancelFunc
}

// NewBlock starts a goroutine running fn with a context derived from
// ctx. The context is cancelled by Cancel, and after the result has been
// collected by AssertUnblocked.
func NewBlock[T any](ctx context.Context, fn func(context.Context) (T, error)) *Block[T] {
	ctx, cancel := context.WithCancel(ctx)
	b := &Block[T]{
		done:   make(chan Result[T], 1),
		abort:  time.After(LongWait),
		cancel: cancel,
	}
	go func() {
		v, err := fn(ctx)
		b.done <- Result[T]{Value: v, Err: err}
	}()
	return b
}

// Cancel cancels the context passed to the blocking call.
func (b *Block[T]) Cancel() {
	b.cancel()
}

// AssertBlocked fails if the call returns within ShortWait.
func (b *Block[T]) AssertBlocked(c *gc.C) {
	select {
	case r := <-b.done:
		b.cancel()
		c.Fatalf("unblocked unexpectedly with %v, %v", r.Value, r.Err)
	case <-time.After(ShortWait):
	}
}

// AssertUnblocked waits for the call to return and hands back its result.
func (b *Block[T]) AssertUnblocked(c *gc.C) (T, error) {
	defer b.cancel()
	select {
	case r := <-b.done:
		return r.Value, r.Err
	case <-b.abort:
		c.Fatalf("timed out before unblocking")
	}
	panic("unreachable")
}
