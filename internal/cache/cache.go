package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

// DataCallback computes the value for a key on a cache miss.
type DataCallback[K comparable, V any] func(key K) (V, error)

// Config holds the configuration for a Cache
type Config struct {
	// TTL is the time-to-live for cache entries.
	// If 0, entries live until the cache is closed.
	TTL time.Duration
	// Capacity bounds the number of entries, 0 means unbounded.
	Capacity uint64
}

// stopRetryInterval paces Close while the cleanup goroutine has not started.
const stopRetryInterval = time.Millisecond

// Cache memoizes lookups against an immutable source. Concurrent misses for
// the same key run the callback once.
type Cache[K comparable, V any] struct {
	cache  *ttlcache.Cache[K, V]
	group  singleflight.Group
	config Config

	// done is closed when the cleanup goroutine returns.
	done      chan struct{}
	closeOnce sync.Once
}

// NewCache creates a new Cache with the given configuration
func NewCache[K comparable, V any](config Config) *Cache[K, V] {
	opts := []ttlcache.Option[K, V]{
		ttlcache.WithTTL[K, V](config.TTL),
		ttlcache.WithDisableTouchOnHit[K, V](),
	}

	if config.Capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[K, V](config.Capacity))
	}

	c := &Cache[K, V]{
		cache:  ttlcache.New(opts...),
		config: config,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(c.done)

		c.cache.Start()
	}()

	return c
}

// Get retrieves a value from the cache by key
func (c *Cache[K, V]) Get(key K) (V, bool) {
	item := c.cache.Get(key)
	if item == nil {
		var zero V

		return zero, false
	}

	return item.Value(), true
}

// Set stores a value in the cache with the default TTL
func (c *Cache[K, V]) Set(key K, value V) {
	c.cache.Set(key, value, ttlcache.DefaultTTL)
}

// GetOrSet retrieves a value from the cache, or computes it using the callback.
// Errors are returned to every waiting caller and are not cached.
func (c *Cache[K, V]) GetOrSet(key K, dataCallback DataCallback[K, V]) (V, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}

	v, err, _ := c.group.Do(fmt.Sprint(key), func() (any, error) {
		value, err := dataCallback(key)
		if err != nil {
			return value, err
		}

		c.Set(key, value)

		return value, nil
	})
	if err != nil {
		var zero V

		return zero, err
	}

	return v.(V), nil
}

func (c *Cache[K, V]) Len() int {
	return c.cache.Len()
}

// Close stops the cleanup goroutine and waits for it to return. ttlcache
// ignores Stop until Start has run, so Stop is repeated until it takes.
func (c *Cache[K, V]) Close() {
	c.closeOnce.Do(func() {
		for {
			c.cache.Stop()

			select {
			case <-c.done:
				return
			case <-time.After(stopRetryInterval):
			}
		}
	})
}
