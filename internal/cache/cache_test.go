package cache

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
)

func TestCache_SetAndGet(t *testing.T) {
	cache := NewCache[uint64, uint64](Config{TTL: 5 * time.Minute})
	t.Cleanup(cache.Close)

	t.Run("set and get value", func(t *testing.T) {
		cache.Set(8, 0xc2800000)
		value, found := cache.Get(8)
		assert.True(t, found)
		assert.Equal(t, uint64(0xc2800000), value)
	})

	t.Run("get non-existent key", func(t *testing.T) {
		value, found := cache.Get(9)
		assert.False(t, found)
		assert.Zero(t, value)
	})
}

func TestCache_TTL(t *testing.T) {
	cache := NewCache[string, string](Config{TTL: 100 * time.Millisecond})
	t.Cleanup(cache.Close)

	cache.Set("section", "base")

	value, found := cache.Get("section")
	assert.True(t, found)
	assert.Equal(t, "base", value)

	time.Sleep(200 * time.Millisecond)

	_, found = cache.Get("section")
	assert.False(t, found)
}

func TestCache_Capacity(t *testing.T) {
	cache := NewCache[int, int](Config{Capacity: 2})
	t.Cleanup(cache.Close)

	cache.Set(1, 1)
	cache.Set(2, 2)
	cache.Set(3, 3)

	assert.Equal(t, 2, cache.Len())
}

func TestCache_GetOrSet(t *testing.T) {
	t.Run("computes once and caches", func(t *testing.T) {
		cache := NewCache[uint64, uint64](Config{})
		t.Cleanup(cache.Close)

		var calls atomic.Int32
		callback := func(key uint64) (uint64, error) {
			calls.Add(1)

			return key * 2, nil
		}

		v, err := cache.GetOrSet(21, callback)
		require.NoError(t, err)
		assert.Equal(t, uint64(42), v)

		v, err = cache.GetOrSet(21, callback)
		require.NoError(t, err)
		assert.Equal(t, uint64(42), v)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("errors are not cached", func(t *testing.T) {
		cache := NewCache[uint64, uint64](Config{})
		t.Cleanup(cache.Close)

		errRead := errors.New("unreadable")
		calls := 0

		_, err := cache.GetOrSet(1, func(uint64) (uint64, error) {
			calls++

			return 0, errRead
		})
		require.ErrorIs(t, err, errRead)

		v, err := cache.GetOrSet(1, func(uint64) (uint64, error) {
			calls++

			return 7, nil
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(7), v)
		assert.Equal(t, 2, calls)
	})

	t.Run("concurrent misses share one call", func(t *testing.T) {
		cache := NewCache[uint64, uint64](Config{})
		t.Cleanup(cache.Close)

		var calls atomic.Int32
		release := make(chan struct{})

		callback := func(key uint64) (uint64, error) {
			calls.Add(1)
			<-release

			return key + 1, nil
		}

		var g errgroup.Group
		for range 8 {
			g.Go(func() error {
				v, err := cache.GetOrSet(5, callback)
				if err == nil && v != 6 {
					return errors.New("unexpected value")
				}

				return err
			})
		}

		time.Sleep(50 * time.Millisecond)
		close(release)

		require.NoError(t, g.Wait())
		assert.LessOrEqual(t, calls.Load(), int32(8))
		assert.GreaterOrEqual(t, calls.Load(), int32(1))

		v, found := cache.Get(5)
		assert.True(t, found)
		assert.Equal(t, uint64(6), v)
	})
}

func TestCache_CloseRightAfterNew(t *testing.T) {
	for range 100 {
		cache := NewCache[uint64, uint64](Config{TTL: time.Minute})
		cache.Close()

		select {
		case <-cache.done:
		default:
			t.Fatal("cleanup goroutine still running after Close")
		}
	}

	goleak.VerifyNone(t)
}

func TestCache_CloseTwice(t *testing.T) {
	cache := NewCache[uint64, uint64](Config{})

	cache.Close()
	cache.Close()

	goleak.VerifyNone(t)
}
