package securecache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPutBasic(t *testing.T) {
	a := assert.New(t)
	c, err := New[string, int](10, time.Minute)
	require.NoError(t, err)

	_, ok := c.Get("a")
	a.False(ok)

	c.Put("a", 1)
	v, ok := c.Get("a")
	a.True(ok)
	a.Equal(1, v)

	m := c.Metrics()
	a.EqualValues(1, m.Hits)
	a.EqualValues(1, m.Misses)
	a.InDelta(0.5, m.HitRate(), 1e-9)
}

func TestLruEvictionAtCapacity(t *testing.T) {
	a := assert.New(t)
	c, err := New[string, int](100, time.Hour)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		c.Put(fmt.Sprintf("key-%d", i), i)
	}
	// Touch everything except key-0 so key-0 stays least recently used.
	for i := 1; i < 100; i++ {
		_, ok := c.Get(fmt.Sprintf("key-%d", i))
		a.True(ok)
	}

	c.Put("key-100", 100)

	_, ok := c.Get("key-0")
	a.False(ok, "least recently used entry should be evicted")
	for i := 1; i <= 100; i++ {
		_, ok := c.Get(fmt.Sprintf("key-%d", i))
		a.True(ok, "key-%d should survive", i)
	}
	a.EqualValues(1, c.Metrics().Evictions)
}

func TestEvictedKeyIsAlwaysLru(t *testing.T) {
	a := assert.New(t)
	c, err := New[int, int](3, time.Hour)
	require.NoError(t, err)

	c.Put(1, 1)
	c.Put(2, 2)
	c.Put(3, 3)
	// Access order now 1 < 2 < 3. Refresh 1, making 2 the LRU.
	_, _ = c.Get(1)

	c.Put(4, 4)

	_, ok := c.Get(2)
	a.False(ok)
	for _, k := range []int{1, 3, 4} {
		_, ok := c.Get(k)
		a.True(ok)
	}
}

func TestEvictionsCountCapacityEvictionsOnly(t *testing.T) {
	a := assert.New(t)
	c, err := New[string, int](10, 5*time.Minute)
	require.NoError(t, err)

	current := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return current }

	c.Put("a", 1)
	c.Put("b", 2)
	c.Remove("a")
	c.Purge()
	a.EqualValues(0, c.Metrics().Evictions)

	// A TTL expiry removed on access is a miss, not an eviction.
	c.Put("c", 3)
	current = current.Add(5*time.Minute + time.Second)
	_, ok := c.Get("c")
	a.False(ok)
	a.EqualValues(0, c.Metrics().Evictions)

	// Overflowing capacity is what the counter measures.
	for i := 0; i < 11; i++ {
		c.Put(fmt.Sprintf("k%d", i), i)
	}
	a.EqualValues(1, c.Metrics().Evictions)
}

func TestTtlExpiryIsLazy(t *testing.T) {
	a := assert.New(t)
	c, err := New[string, string](10, 5*time.Minute)
	require.NoError(t, err)

	current := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return current }

	c.Put("addr", "balance")
	v, ok := c.Get("addr")
	a.True(ok)
	a.Equal("balance", v)

	// Entry still physically present after the TTL elapses...
	current = current.Add(5*time.Minute + time.Second)
	a.Equal(1, c.Len())

	// ...but the next access treats it as absent and removes it.
	_, ok = c.Get("addr")
	a.False(ok)
	a.Equal(0, c.Len())
}

func TestHitDoesNotExtendTtl(t *testing.T) {
	a := assert.New(t)
	c, err := New[string, int](10, time.Minute)
	require.NoError(t, err)

	current := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return current }

	c.Put("k", 7)
	current = current.Add(59 * time.Second)
	_, ok := c.Get("k")
	a.True(ok)

	// TTL is measured from insertion, not last access.
	current = current.Add(2 * time.Second)
	_, ok = c.Get("k")
	a.False(ok)
}

func TestPutReplacesAndResetsAge(t *testing.T) {
	a := assert.New(t)
	c, err := New[string, int](10, time.Minute)
	require.NoError(t, err)

	current := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return current }

	c.Put("k", 1)
	current = current.Add(50 * time.Second)
	c.Put("k", 2)
	current = current.Add(30 * time.Second)

	v, ok := c.Get("k")
	a.True(ok)
	a.Equal(2, v)
}

func TestDefaultsApplied(t *testing.T) {
	a := assert.New(t)
	c, err := New[string, int](0, 0)
	require.NoError(t, err)
	a.Equal(DefaultTTL, c.ttl)
	for i := 0; i < DefaultCapacity+10; i++ {
		c.Put(fmt.Sprintf("k%d", i), i)
	}
	a.Equal(DefaultCapacity, c.Len())
}
