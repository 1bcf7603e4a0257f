package cache

import (
	"container/list"
	"context"
	"hash/fnv"
	"sync"
	"time"
)

// Cache is the response cache contract. Get returns the cached value only if
// it is present and not expired; Put inserts or replaces with last-write-wins
// semantics. Neither call ever blocks on anything but its shard lock; a
// failing cache must degrade to miss behavior in the caller, never stall the
// response path.
//
// Hit/miss accounting is deliberately not a side effect of Get: the caller
// records a miss only when it actually performs the paired upstream fetch,
// so retries are not double-counted.
type Cache[V any] interface {
	Get(ctx context.Context, key string) (V, bool, error)
	Put(ctx context.Context, key string, value V, ttl time.Duration) error
}

const shardCount = 32

// Memory is a sharded in-memory TTL cache. Expiry is lazy: entries past
// their TTL are treated as absent and removed on the next access. With
// maxEntries > 0 each shard holds at most maxEntries/shardCount entries and
// evicts least-recently-used on overflow, preferring expired entries.
type Memory[V any] struct {
	shards      [shardCount]*shard[V]
	maxPerShard int

	now func() time.Time // test hook
}

type shard[V any] struct {
	mu   sync.Mutex
	data map[string]*entry[V]
	lru  *list.List // front = most recently used; values are *entry[V]
}

type entry[V any] struct {
	key        string
	value      V
	insertedAt time.Time
	ttl        time.Duration
	elem       *list.Element
}

// NewMemory creates a sharded in-memory cache. maxEntries bounds the total
// entry count across shards; 0 means unbounded (lazy expiry only).
func NewMemory[V any](maxEntries int) *Memory[V] {
	c := &Memory[V]{now: time.Now}
	if maxEntries > 0 {
		c.maxPerShard = (maxEntries + shardCount - 1) / shardCount
	}
	for i := range c.shards {
		c.shards[i] = &shard[V]{
			data: make(map[string]*entry[V]),
			lru:  list.New(),
		}
	}
	return c
}

func (c *Memory[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%shardCount]
}

// Get returns the value for key if present and not expired. Expired entries
// are removed on access.
func (c *Memory[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	if ctx.Err() != nil {
		return zero, false, ctx.Err()
	}
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if !ok {
		return zero, false, nil
	}
	if c.expired(e) {
		s.remove(e)
		return zero, false, nil
	}
	s.lru.MoveToFront(e.elem)
	return e.value, true, nil
}

// Put inserts or replaces the value for key. Concurrent puts for the same
// key are last-write-wins.
func (c *Memory[V]) Put(ctx context.Context, key string, value V, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.data[key]; ok {
		e.value = value
		e.insertedAt = c.now()
		e.ttl = ttl
		s.lru.MoveToFront(e.elem)
		return nil
	}

	e := &entry[V]{key: key, value: value, insertedAt: c.now(), ttl: ttl}
	e.elem = s.lru.PushFront(e)
	s.data[key] = e

	if c.maxPerShard > 0 && len(s.data) > c.maxPerShard {
		c.evict(s)
	}
	return nil
}

// Len reports the current entry count, including not-yet-collected expired
// entries.
func (c *Memory[V]) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += len(s.data)
		s.mu.Unlock()
	}
	return n
}

// Sweep removes all expired entries. Correctness never depends on it; the
// scheduler calls it periodically to bound memory between evictions.
func (c *Memory[V]) Sweep() int {
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for _, e := range s.data {
			if c.expired(e) {
				s.remove(e)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

func (c *Memory[V]) expired(e *entry[V]) bool {
	return c.now().Sub(e.insertedAt) >= e.ttl
}

// evict drops one entry from an over-full shard: the least-recently-used
// expired entry if any, otherwise the least-recently-used entry outright.
func (c *Memory[V]) evict(s *shard[V]) {
	for el := s.lru.Back(); el != nil; el = el.Prev() {
		if e := el.Value.(*entry[V]); c.expired(e) {
			s.remove(e)
			return
		}
	}
	if el := s.lru.Back(); el != nil {
		s.remove(el.Value.(*entry[V]))
	}
}

func (s *shard[V]) remove(e *entry[V]) {
	s.lru.Remove(e.elem)
	delete(s.data, e.key)
}
