// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package shards provides a string-keyed concurrent map partitioned
// across a fixed number of xsync maps, so traffic on one key does not
// contend with traffic on keys held by other shards.
package shards

import (
	"hash/maphash"

	"github.com/puzpuzpuz/xsync/v3"
)

// DefaultShardCount is used when a map is created with an invalid shard
// count.
const DefaultShardCount = 16

// Map is a concurrent-safe sharded map keyed by string.
type Map[V any] struct {
	shards    []*xsync.MapOf[string, V]
	shardMask uint64
	seed      maphash.Seed
}

// ValidShardCount reports whether n can be used as a shard count.
func ValidShardCount(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// New returns a map with shardCount shards, which must be a power of two
// (DefaultShardCount is used otherwise). capacity is spread across the
// shards as an initial size hint.
func New[V any](shardCount, capacity int) *Map[V] {
	if !ValidShardCount(shardCount) {
		shardCount = DefaultShardCount
	}
	var options []func(*xsync.MapConfig)
	if capacity > 0 {
		options = append(options, xsync.WithPresize((capacity+shardCount-1)/shardCount))
	}

	m := &Map[V]{
		shards:    make([]*xsync.MapOf[string, V], shardCount),
		shardMask: uint64(shardCount - 1),
		seed:      maphash.MakeSeed(),
	}
	for i := range m.shards {
		m.shards[i] = xsync.NewMapOf[string, V](options...)
	}
	return m
}

func (m *Map[V]) shardFor(key string) *xsync.MapOf[string, V] {
	return m.shards[maphash.String(m.seed, key)&m.shardMask]
}

// Get returns the value stored under key.
func (m *Map[V]) Get(key string) (V, bool) {
	return m.shardFor(key).Load(key)
}

// Swap stores v under key, returning the value it replaced, if any.
func (m *Map[V]) Swap(key string, v V) (V, bool) {
	old, loaded := m.shardFor(key).LoadAndStore(key, v)
	if !loaded {
		var zero V
		return zero, false
	}
	return old, true
}

// Delete removes key, returning the value it held, if any.
func (m *Map[V]) Delete(key string) (V, bool) {
	return m.shardFor(key).LoadAndDelete(key)
}

// Len returns the number of keys. Shards are counted one at a time, so
// the result is not a consistent view under concurrent writes.
func (m *Map[V]) Len() int {
	n := 0
	for _, s := range m.shards {
		n += s.Size()
	}
	return n
}

// Keys returns every key, in no particular order.
func (m *Map[V]) Keys() []string {
	keys := make([]string, 0, m.Len())
	for _, s := range m.shards {
		s.Range(func(key string, _ V) bool {
			keys = append(keys, key)
			return true
		})
	}
	return keys
}

// ShardCount returns the number of shards.
func (m *Map[V]) ShardCount() int {
	return len(m.shards)
}
