// Package cache provides the per-instrument memoization layer shared by the filter stages.
package cache

import (
	"context"
	"sync"
	"time"
)

// Stats is a point-in-time view of cache activity
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Entries   int     `json:"entries"`
	HitRatio  float64 `json:"hit_ratio"`
}

// Observer is told about every lookup
type Observer func(cache string, hit bool)

// Option configures a TTLCache
type Option func(*options)

type options struct {
	maxEntries int
	now        func() time.Time
	observer   Observer
}

// WithMaxEntries bounds the cache; the least recently used entry is evicted on overflow
func WithMaxEntries(n int) Option {
	return func(o *options) { o.maxEntries = n }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithObserver reports hits and misses, typically to metrics
func WithObserver(fn Observer) Option {
	return func(o *options) { o.observer = fn }
}

// TTLCache is a mutex-protected map of values with per-entry expiry
type TTLCache[V any] struct {
	name string
	opts options

	mu      sync.Mutex
	entries map[string]*entry[V]
	stats   Stats
}

type entry[V any] struct {
	value    V
	expires  time.Time
	accessed time.Time
}

// NewTTLCache creates a cache; name labels observer callbacks
func NewTTLCache[V any](name string, opts ...Option) *TTLCache[V] {
	o := options{maxEntries: 10000, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &TTLCache[V]{
		name:    name,
		opts:    o,
		entries: make(map[string]*entry[V]),
	}
}

// Name returns the cache label
func (c *TTLCache[V]) Name() string { return c.name }

// Get returns a live value
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	v, ok := c.getLocked(key)
	c.mu.Unlock()

	c.observe(ok)
	return v, ok
}

func (c *TTLCache[V]) getLocked(key string) (V, bool) {
	var zero V
	now := c.opts.now()
	e, ok := c.entries[key]
	if !ok || !now.Before(e.expires) {
		c.stats.Misses++
		return zero, false
	}
	e.accessed = now
	c.stats.Hits++
	return e.value, true
}

// Set stores value for ttl, overwriting any previous entry
func (c *TTLCache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && c.opts.maxEntries > 0 && len(c.entries) >= c.opts.maxEntries {
		c.evictLRU()
	}
	now := c.opts.now()
	c.entries[key] = &entry[V]{value: value, expires: now.Add(ttl), accessed: now}
}

// GetOrCompute returns the live value for key or computes, stores and returns a fresh one.
// Errors are returned as-is and never cached. fn runs outside the lock, so concurrent misses on
// the same key may compute twice; the last write wins.
func (c *TTLCache[V]) GetOrCompute(key string, ttl time.Duration, fn func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := fn()
	if err != nil {
		return v, err
	}
	c.Set(key, v, ttl)
	return v, nil
}

// Stats returns counters and the number of stored entries, expired ones included
func (c *TTLCache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Entries = len(c.entries)
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRatio = float64(s.Hits) / float64(total)
	}
	return s
}

// Len returns the number of stored entries
func (c *TTLCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear removes all entries and resets counters
func (c *TTLCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry[V])
	c.stats = Stats{}
}

// RemoveExpired drops expired entries and returns how many were removed
func (c *TTLCache[V]) RemoveExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.now()
	removed := 0
	for key, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// RunJanitor removes expired entries every interval until ctx is done
func (c *TTLCache[V]) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RemoveExpired()
		}
	}
}

// evictLRU removes the least recently used entry (caller must hold the lock)
func (c *TTLCache[V]) evictLRU() {
	var oldestKey string
	var oldest time.Time
	first := true
	for key, e := range c.entries {
		if first || e.accessed.Before(oldest) {
			oldestKey, oldest, first = key, e.accessed, false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
		c.stats.Evictions++
	}
}

func (c *TTLCache[V]) observe(hit bool) {
	if c.opts.observer != nil {
		c.opts.observer(c.name, hit)
	}
}
