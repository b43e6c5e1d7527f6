package securecache

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultCapacity = 100
	DefaultTTL      = 5 * time.Minute
)

// Metrics are read-only counters for cache monitoring. Evictions counts
// capacity evictions only; TTL expiries, Remove and Purge do not add to it.
type Metrics struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// HitRate returns the fraction of lookups served from cache, in range [0, 1].
func (m Metrics) HitRate() float64 {
	total := m.Hits + m.Misses
	if total == 0 {
		return 0
	}
	return float64(m.Hits) / float64(total)
}

type entry[V any] struct {
	value      V
	insertedAt time.Time
	lastAccess time.Time
}

// Cache is a thread-safe LRU cache with lazy TTL expiry. Eviction is strict
// least-recently-used once capacity is exceeded; independently, an entry
// older than the TTL is treated as absent on the next access and removed.
// Get and Put are O(1) amortized.
type Cache[K comparable, V any] struct {
	lru       *lru.Cache[K, *entry[V]]
	ttl       time.Duration
	lock      sync.Mutex
	hits      int64
	misses    int64
	evictions int64
	now       func() time.Time // overridable for tests
}

// New creates a Cache with the given capacity and time-to-live.
// Non-positive arguments fall back to the defaults.
func New[K comparable, V any](capacity int, ttl time.Duration) (*Cache[K, V], error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	inner, err := lru.New[K, *entry[V]](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache[K, V]{
		lru: inner,
		ttl: ttl,
		now: time.Now,
	}, nil
}

// Get returns the cached value for key. A hit refreshes the entry's position
// to most-recently-used. An entry past its TTL is removed and reported as a
// miss, so a stale value is never returned even if still physically present.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	var zero V
	e, ok := c.lru.Get(key)
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return zero, false
	}
	if c.now().Sub(e.insertedAt) > c.ttl {
		c.lru.Remove(key)
		atomic.AddInt64(&c.misses, 1)
		return zero, false
	}
	e.lastAccess = c.now()
	atomic.AddInt64(&c.hits, 1)
	return e.value, true
}

// Put inserts or replaces the value for key, making it most-recently-used.
func (c *Cache[K, V]) Put(key K, value V) {
	c.lock.Lock()
	defer c.lock.Unlock()

	now := c.now()
	if c.lru.Add(key, &entry[V]{value: value, insertedAt: now, lastAccess: now}) {
		atomic.AddInt64(&c.evictions, 1)
	}
}

// Remove drops the entry for key if present.
func (c *Cache[K, V]) Remove(key K) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.lru.Remove(key)
}

// Purge drops every entry.
func (c *Cache[K, V]) Purge() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.lru.Purge()
}

// Len returns the number of physically present entries, expired or not.
func (c *Cache[K, V]) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.lru.Len()
}

// Metrics returns a snapshot of the hit/miss/eviction counters.
func (c *Cache[K, V]) Metrics() Metrics {
	return Metrics{
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		Evictions: atomic.LoadInt64(&c.evictions),
	}
}
