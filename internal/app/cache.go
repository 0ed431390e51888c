package app

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ContentCache memoizes loads per key. Concurrent misses for one key share a
// single load. A ttl of zero keeps entries until they are invalidated.
type ContentCache[T any] struct {
	ttl   time.Duration
	clock func() time.Time
	sf    singleflight.Group

	mu      sync.RWMutex
	rnd     *rand.Rand
	entries map[string]cacheEntry[T]
}

type cacheEntry[T any] struct {
	value     T
	expiresAt time.Time // zero means no expiry
}

// NewContentCacheWithClock builds a cache whose expiry follows now.
func NewContentCacheWithClock[T any](ttl time.Duration, now func() time.Time) *ContentCache[T] {
	return &ContentCache[T]{
		ttl:     ttl,
		clock:   now,
		rnd:     rand.New(rand.NewSource(now().UnixNano())),
		entries: make(map[string]cacheEntry[T]),
	}
}

// Get returns the cached value for key or loads it. When the load fails and a
// stale value is still held, that value is returned alongside the error.
func (c *ContentCache[T]) Get(ctx context.Context, key string, load func(context.Context) (T, error)) (T, error) {
	if v, ok := c.fresh(key); ok {
		return v, nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check in case another caller filled it.
		if v, ok := c.fresh(key); ok {
			return v, nil
		}
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = cacheEntry[T]{value: v, expiresAt: c.expiryLocked()}
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		stale, _ := c.Peek(key)
		return stale, err
	}
	return result.(T), nil
}

// Peek returns whatever is held for key, expired or not.
func (c *ContentCache[T]) Peek(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	return entry.value, ok
}

// Invalidate marks key as expired; the stale value stays available to Peek
// until the next successful load replaces it.
func (c *ContentCache[T]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[key]; ok {
		entry.expiresAt = c.clock().Add(-time.Nanosecond)
		c.entries[key] = entry
	}
}

func (c *ContentCache[T]) fresh(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok {
		var zero T
		return zero, false
	}
	if !entry.expiresAt.IsZero() && !entry.expiresAt.After(c.clock()) {
		var zero T
		return zero, false
	}
	return entry.value, true
}

func (c *ContentCache[T]) expiryLocked() time.Time {
	if c.ttl <= 0 {
		return time.Time{}
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.clock().Add(c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1)))
}
