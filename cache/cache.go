// Package cache provides an in-process TTL cache used to memoize
// verification results. Each cache owns its background sweep; no
// process-wide timer state.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL           = 60 * time.Second
	DefaultSweepInterval = 60 * time.Second
)

type entry[V any] struct {
	value     V
	createdAt time.Time
	expiresAt time.Time
}

// Producer computes a value on a cache miss, typically a network call.
type Producer[V any] func(ctx context.Context) (V, error)

// Cache is a mutex-guarded key/value store with per-entry expiry. Expired
// entries are evicted lazily on access and proactively by the sweep
// goroutine so memory stays bounded between reads.
type Cache[V any] struct {
	mu         sync.Mutex
	entries    map[string]entry[V]
	defaultTTL time.Duration
	flight     singleflight.Group
	sweepStop  chan struct{}
	destroyed  bool

	// Now is injectable for tests. Always returns UTC.
	Now func() time.Time
}

type Option[V any] func(*Cache[V])

// WithDefaultTTL overrides the TTL applied by Set and GetOrSet when none is
// given explicitly.
func WithDefaultTTL[V any](ttl time.Duration) Option[V] {
	return func(c *Cache[V]) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// New builds a cache and starts its sweep goroutine. A sweepInterval <= 0
// uses the default. Callers own the lifecycle and must call Destroy to stop
// the sweep.
func New[V any](sweepInterval time.Duration, options ...Option[V]) *Cache[V] {
	c := &Cache[V]{
		entries:    map[string]entry[V]{},
		defaultTTL: DefaultTTL,
		sweepStop:  make(chan struct{}),
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, option := range options {
		if option != nil {
			option(c)
		}
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	go c.sweepLoop(sweepInterval)
	return c
}

// Get returns the cached value when present and fresh. An expired entry is
// evicted as a side effect of the read.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}
	key = normalizeKey(key)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	stored, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if !now.Before(stored.expiresAt) {
		delete(c.entries, key)
		return zero, false
	}
	return stored.value, true
}

// Set stores a value under the default TTL, overwriting unconditionally.
func (c *Cache[V]) Set(key string, value V) {
	c.SetTTL(key, value, 0)
}

// SetTTL stores a value with expiresAt = now + ttl. A ttl <= 0 falls back
// to the default.
func (c *Cache[V]) SetTTL(key string, value V, ttl time.Duration) {
	if c == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	key = normalizeKey(key)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	c.entries[key] = entry[V]{
		value:     value,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
}

// Has reports whether a fresh entry exists, evicting it when expired.
func (c *Cache[V]) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Delete force-removes an entry, reporting whether one was present. This is
// the webhook fast path for revocation: eviction here beats TTL freshness.
func (c *Cache[V]) Delete(key string) bool {
	if c == nil {
		return false
	}
	key = normalizeKey(key)

	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	return ok
}

// Clear removes every entry.
func (c *Cache[V]) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]entry[V]{}
}

// Len reports the current entry count, counting entries that expired but
// have not been swept yet.
func (c *Cache[V]) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// GetOrSet returns the cached value when fresh, otherwise runs producer and
// caches its result. Concurrent calls for the same key share a single
// in-flight producer call. Producer failures are never cached, so the next
// call retries against the source.
func (c *Cache[V]) GetOrSet(ctx context.Context, key string, producer Producer[V], ttl ...time.Duration) (V, error) {
	var zero V
	if c == nil || producer == nil {
		return zero, fmt.Errorf("cache: producer is required")
	}
	key = normalizeKey(key)
	if value, ok := c.Get(key); ok {
		return value, nil
	}

	entryTTL := time.Duration(0)
	if len(ttl) > 0 {
		entryTTL = ttl[0]
	}
	result, err, _ := c.flight.Do(key, func() (any, error) {
		// Re-check under the flight: a concurrent winner may have already
		// populated the entry between the miss above and this call.
		if value, ok := c.Get(key); ok {
			return value, nil
		}
		value, produceErr := producer(ctx)
		if produceErr != nil {
			return zero, produceErr
		}
		c.SetTTL(key, value, entryTTL)
		return value, nil
	})
	if err != nil {
		return zero, err
	}
	value, ok := result.(V)
	if !ok {
		return zero, nil
	}
	return value, nil
}

// Destroy stops the sweep goroutine and clears all entries. Idempotent.
func (c *Cache[V]) Destroy() {
	if c == nil {
		return
	}
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	c.entries = map[string]entry[V]{}
	c.mu.Unlock()
	close(c.sweepStop)
}

func (c *Cache[V]) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.sweepStop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache[V]) sweep() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, stored := range c.entries {
		if !now.Before(stored.expiresAt) {
			delete(c.entries, key)
		}
	}
}

func (c *Cache[V]) now() time.Time {
	if c != nil && c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

func normalizeKey(key string) string {
	return strings.TrimSpace(key)
}
