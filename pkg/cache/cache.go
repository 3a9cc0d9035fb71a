package cache

import (
	"sync"
	"time"
)

// Item is a cached value with its expiry.
type Item[V any] struct {
	Value     V
	ExpiresAt time.Time
	CreatedAt time.Time
}

func (item *Item[V]) expired(now time.Time) bool {
	return !now.Before(item.ExpiresAt)
}

// Cache is a thread-safe in-memory map with per-entry TTL.
type Cache[K comparable, V any] struct {
	items      map[K]*Item[V]
	mu         sync.RWMutex
	defaultTTL time.Duration
	now        func() time.Time

	stopOnce    sync.Once
	stopCleanup chan struct{}
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	now             func() time.Time
	cleanupInterval time.Duration
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithCleanupInterval starts a background sweep of expired entries.
// Zero disables the sweep; expired entries are then dropped lazily.
func WithCleanupInterval(d time.Duration) Option {
	return func(o *options) { o.cleanupInterval = d }
}

// New creates a cache with the given default TTL.
func New[K comparable, V any](defaultTTL time.Duration, opts ...Option) *Cache[K, V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Cache[K, V]{
		items:       make(map[K]*Item[V]),
		defaultTTL:  defaultTTL,
		now:         o.now,
		stopCleanup: make(chan struct{}),
	}

	if o.cleanupInterval > 0 {
		go c.cleanup(o.cleanupInterval)
	}

	return c
}

// Get retrieves a live value.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero V
	item, exists := c.items[key]
	if !exists || item.expired(c.now()) {
		return zero, false
	}
	return item.Value, true
}

// Contains reports whether key holds a live value.
func (c *Cache[K, V]) Contains(key K) bool {
	_, ok := c.Get(key)
	return ok
}

// Set stores a value with the default TTL.
func (c *Cache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores a value with a custom TTL.
func (c *Cache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.items[key] = &Item[V]{
		Value:     value,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
}

// Delete removes a key.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Clear removes all items.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*Item[V])
}

// Purge removes expired items and returns how many were dropped.
func (c *Cache[K, V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, item := range c.items {
		if item.expired(now) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

func (c *Cache[K, V]) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Purge()
		case <-c.stopCleanup:
			return
		}
	}
}

// Stop stops the cleanup goroutine. Safe to call more than once.
func (c *Cache[K, V]) Stop() {
	c.stopOnce.Do(func() { close(c.stopCleanup) })
}

// Stats holds cache statistics
type Stats struct {
	Size      int
	Expired   int
	TotalKeys int
}

// GetStats returns cache statistics
func (c *Cache[K, V]) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{TotalKeys: len(c.items)}
	now := c.now()
	for _, item := range c.items {
		if item.expired(now) {
			stats.Expired++
		}
	}
	stats.Size = stats.TotalKeys - stats.Expired
	return stats
}
