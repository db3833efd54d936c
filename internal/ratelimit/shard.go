package ratelimit

import (
	"hash/fnv"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

const numShards = 64

// shard is a single partition of the key space: an LRU keyed map plus the
// mutex serializing compound read-modify-write operations on its keys.
type shard[V any] struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, V]
}

// shardedLRU bounds the total number of tracked keys while keeping
// concurrent access on distinct keys from serializing on one lock.
// Least-recently-used keys are evicted when a shard reaches capacity.
type shardedLRU[V any] struct {
	shards [numShards]shard[V]
}

// newShardedLRU creates a sharded LRU holding at most maxKeys keys overall.
func newShardedLRU[V any](maxKeys int) *shardedLRU[V] {
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	perShard := maxKeys / numShards
	if perShard < 1 {
		perShard = 1
	}
	m := &shardedLRU[V]{}
	for i := range m.shards {
		l, _ := simplelru.NewLRU[string, V](perShard, nil)
		m.shards[i].lru = l
	}
	return m
}

func (m *shardedLRU[V]) getShard(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &m.shards[h.Sum32()%numShards]
}

// update runs fn against the entry for key under the shard lock, creating
// the entry with init when absent. Inserting over capacity evicts the
// shard's least-recently-used key.
func (m *shardedLRU[V]) update(key string, init func() V, fn func(V) V) V {
	s := m.getShard(key)
	s.mu.Lock()
	v, ok := s.lru.Get(key)
	if !ok {
		v = init()
	}
	v = fn(v)
	s.lru.Add(key, v)
	s.mu.Unlock()
	return v
}

// peek reads the entry for key without touching recency.
func (m *shardedLRU[V]) peek(key string) (V, bool) {
	s := m.getShard(key)
	s.mu.Lock()
	v, ok := s.lru.Peek(key)
	s.mu.Unlock()
	return v, ok
}

// remove drops the entry for key.
func (m *shardedLRU[V]) remove(key string) {
	s := m.getShard(key)
	s.mu.Lock()
	s.lru.Remove(key)
	s.mu.Unlock()
}

// len returns the total tracked key count.
func (m *shardedLRU[V]) len() int {
	total := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		total += s.lru.Len()
		s.mu.Unlock()
	}
	return total
}
