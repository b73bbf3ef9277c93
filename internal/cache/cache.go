package cache

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

// Cache is a bounded in-process TTL cache.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V, ttl time.Duration)
	Delete(key K)
	// Wait blocks until pending writes are visible to Get.
	Wait()
}

type ristrettoCache[K comparable, V any] struct {
	inner *ristretto.Cache
}

const (
	defaultNumCounters = 10_000
	defaultMaxCost     = 1_000
	defaultBufferItems = 64
)

// NewTTLCache returns a ristretto-backed cache where every entry costs one.
func NewTTLCache[K comparable, V any]() Cache[K, V] {
	inner, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: defaultNumCounters,
		MaxCost:     defaultMaxCost,
		BufferItems: defaultBufferItems,
	})
	if err != nil {
		// Only returned for invalid static config above.
		panic(err)
	}
	return &ristrettoCache[K, V]{inner: inner}
}

func (c *ristrettoCache[K, V]) Get(key K) (V, bool) {
	var zero V
	raw, ok := c.inner.Get(key)
	if !ok {
		return zero, false
	}
	value, ok := raw.(V)
	if !ok {
		return zero, false
	}
	return value, true
}

func (c *ristrettoCache[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		c.inner.Set(key, value, 1)
		return
	}
	c.inner.SetWithTTL(key, value, 1, ttl)
}

func (c *ristrettoCache[K, V]) Delete(key K) {
	c.inner.Del(key)
}

func (c *ristrettoCache[K, V]) Wait() {
	c.inner.Wait()
}
