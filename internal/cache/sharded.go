package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// ShardCount is the number of independently locked shards of a Sharded
// cache. It is a power of two so shard selection is a mask.
const ShardCount = 16

const shardMask = ShardCount - 1

// Hasher computes the hash used to pick a key's shard.
type Hasher[K any] func(K) uint64

// Sharded is a concurrent LRU cache with a weight budget per shard.
//
// Every value has a weight, usually its size in bytes. Inserting into a
// full shard evicts its least recently used entries until the new value
// fits. A value heavier than a whole shard is not cached.
type Sharded[K comparable, V any] struct {
	shards [ShardCount]*shard[K, V]
	hasher Hasher[K]
	weight func(V) int64
	budget int64 // per shard

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type shard[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*list.Element
	lru     *list.List // front is most recent
	weight  int64
}

type shardEntry[K comparable, V any] struct {
	key    K
	value  V
	weight int64
}

// ShardedStats is a snapshot of Sharded counters.
type ShardedStats struct {
	Len       int
	Weight    int64
	Budget    int64
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// HitRate returns hits / (hits + misses), or 0 before the first lookup.
func (s ShardedStats) HitRate() float64 {
	if total := s.Hits + s.Misses; total > 0 {
		return float64(s.Hits) / float64(total)
	}
	return 0
}

// NewSharded creates a cache holding up to budget total weight, split
// evenly between shards.
func NewSharded[K comparable, V any](budget int64, hasher Hasher[K], weight func(V) int64) *Sharded[K, V] {
	c := &Sharded[K, V]{
		hasher: hasher,
		weight: weight,
		budget: max(budget/ShardCount, 1),
	}
	for i := range c.shards {
		c.shards[i] = &shard[K, V]{
			entries: make(map[K]*list.Element),
			lru:     list.New(),
		}
	}
	return c
}

func (c *Sharded[K, V]) shardOf(key K) *shard[K, V] {
	return c.shards[c.hasher(key)&shardMask]
}

// Get returns the cached value and marks it most recently used.
func (c *Sharded[K, V]) Get(key K) (V, bool) {
	s := c.shardOf(key)
	s.mu.Lock()
	el, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	s.lru.MoveToFront(el)
	value := el.Value.(*shardEntry[K, V]).value
	s.mu.Unlock()

	c.hits.Add(1)
	return value, true
}

// Set stores value, replacing any previous value of key. The value is not
// copied; callers must not modify it afterwards.
func (c *Sharded[K, V]) Set(key K, value V) {
	w := c.weight(value)
	s := c.shardOf(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		s.remove(el)
	}
	if w > c.budget {
		return
	}
	for s.weight+w > c.budget {
		oldest := s.lru.Back()
		if oldest == nil {
			break
		}
		s.remove(oldest)
		c.evictions.Add(1)
	}
	s.entries[key] = s.lru.PushFront(&shardEntry[K, V]{key: key, value: value, weight: w})
	s.weight += w
}

// Delete removes key and reports whether it was present.
func (c *Sharded[K, V]) Delete(key K) bool {
	s := c.shardOf(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.entries[key]
	if ok {
		s.remove(el)
	}
	return ok
}

// Caller must hold s.mu.
func (s *shard[K, V]) remove(el *list.Element) {
	e := s.lru.Remove(el).(*shardEntry[K, V])
	delete(s.entries, e.key)
	s.weight -= e.weight
}

// Clear removes every entry. Counters are kept.
func (c *Sharded[K, V]) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		clear(s.entries)
		s.lru.Init()
		s.weight = 0
		s.mu.Unlock()
	}
}

// Stats returns the current counters.
func (c *Sharded[K, V]) Stats() ShardedStats {
	st := ShardedStats{
		Budget:    c.budget * ShardCount,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
	for _, s := range c.shards {
		s.mu.Lock()
		st.Len += len(s.entries)
		st.Weight += s.weight
		s.mu.Unlock()
	}
	return st
}
