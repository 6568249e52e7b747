package profile

import (
	"context"
	"sync"
	"time"
)

// Loader fetches a fresh value for a key.
type Loader[T any] func(ctx context.Context, key string) (T, error)

// TTLCache is a keyed value cache with double-checked refresh: readers take
// the read lock; a stale or missing entry is refreshed under the write lock
// after re-checking, so concurrent readers trigger a single load.
type TTLCache[T any] struct {
	mu      sync.RWMutex
	entries map[string]ttlEntry[T]
	ttl     time.Duration
	load    Loader[T]
	clock   func() time.Time
}

type ttlEntry[T any] struct {
	value     T
	expiresAt time.Time
}

func NewTTLCache[T any](ttl time.Duration, load Loader[T]) *TTLCache[T] {
	return &TTLCache[T]{entries: map[string]ttlEntry[T]{}, ttl: ttl, load: load, clock: time.Now}
}

func (c *TTLCache[T]) fresh(key string, now time.Time) (T, bool) {
	e, ok := c.entries[key]
	if ok && now.Before(e.expiresAt) {
		return e.value, true
	}
	var zero T
	return zero, false
}

func (c *TTLCache[T]) Get(ctx context.Context, key string) (T, error) {
	c.mu.RLock()
	v, ok := c.fresh(key, c.clock())
	c.mu.RUnlock()
	if ok {
		return v, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.fresh(key, c.clock()); ok {
		return v, nil
	}
	v, err := c.load(ctx, key)
	if err != nil {
		var zero T
		return zero, err
	}
	c.entries[key] = ttlEntry[T]{value: v, expiresAt: c.clock().Add(c.ttl)}
	return v, nil
}

// Invalidate drops one key so the next Get reloads it.
func (c *TTLCache[T]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}
