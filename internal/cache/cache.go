// Package cache keeps recent Content Store responses in memory.
package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMaxEntries bounds a MemoryCache created without WithMaxEntries.
const DefaultMaxEntries = 1024

// Entry is one cached response body.
type Entry struct {
	Data      []byte
	StaleAt   time.Time // After this the body is served only as a fallback
	ExpiresAt time.Time // After this the body is gone
}

// IsExpired reports whether the entry must no longer be served.
func (e *Entry) IsExpired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// IsStale reports whether the entry is past its freshness window but still
// usable.
func (e *Entry) IsStale(now time.Time) bool {
	return now.After(e.StaleAt) && !now.After(e.ExpiresAt)
}

// Cache stores raw CMS response bodies by request key.
type Cache interface {
	// Get returns (data, found, stale). Stale data is only meant as a
	// fallback when a refresh fails.
	Get(key string) ([]byte, bool, bool)

	// Set stores data that is fresh for ttl and then dropped.
	Set(key string, data []byte, ttl time.Duration)

	// SetWithStale stores data that turns stale after staleAfter and is
	// dropped after expireAfter.
	SetWithStale(key string, data []byte, staleAfter, expireAfter time.Duration)

	// Invalidate removes an entry.
	Invalidate(key string)

	// InvalidateAll removes all entries.
	InvalidateAll()
}

// Stats counts cache outcomes since creation.
type Stats struct {
	Hits      uint64
	StaleHits uint64
	Misses    uint64
	Evictions uint64
}

// MemoryCache is a bounded in-memory Cache. When full, the entry closest to
// expiry makes room for the new one.
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]*Entry
	maxEntries int
	now        func() time.Time

	hits, staleHits, misses, evictions atomic.Uint64

	cleanupInterval time.Duration
	stop            chan struct{}
	stopOnce        sync.Once
}

// Option configures a MemoryCache.
type Option func(*MemoryCache)

// WithMaxEntries bounds the number of stored entries.
func WithMaxEntries(n int) Option {
	return func(c *MemoryCache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithCleanupInterval sets how often expired entries are swept.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *MemoryCache) {
		if d > 0 {
			c.cleanupInterval = d
		}
	}
}

// NewMemoryCache creates a cache and starts its sweep loop. Call Stop to
// release the loop.
func NewMemoryCache(opts ...Option) *MemoryCache {
	c := &MemoryCache{
		entries:         make(map[string]*Entry),
		maxEntries:      DefaultMaxEntries,
		now:             time.Now,
		cleanupInterval: time.Minute,
		stop:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.sweepLoop()
	return c
}

// Get implements Cache.
func (c *MemoryCache) Get(key string) ([]byte, bool, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	now := c.now()
	switch {
	case !ok:
		c.misses.Add(1)
		return nil, false, false
	case entry.IsExpired(now):
		c.misses.Add(1)
		c.Invalidate(key)
		return nil, false, false
	case entry.IsStale(now):
		c.staleHits.Add(1)
		return entry.Data, true, true
	default:
		c.hits.Add(1)
		return entry.Data, true, false
	}
}

// Set implements Cache.
func (c *MemoryCache) Set(key string, data []byte, ttl time.Duration) {
	c.SetWithStale(key, data, ttl, ttl)
}

// SetWithStale implements Cache. expireAfter shorter than staleAfter is
// raised to it.
func (c *MemoryCache) SetWithStale(key string, data []byte, staleAfter, expireAfter time.Duration) {
	if expireAfter < staleAfter {
		expireAfter = staleAfter
	}
	now := c.now()
	entry := &Entry{
		Data:      data,
		StaleAt:   now.Add(staleAfter),
		ExpiresAt: now.Add(expireAfter),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.entries[key] = entry
}

// evictLocked drops expired entries, or the one expiring soonest if none has.
func (c *MemoryCache) evictLocked(now time.Time) {
	var (
		victim string
		soon   time.Time
	)
	for key, e := range c.entries {
		if e.IsExpired(now) {
			delete(c.entries, key)
			c.evictions.Add(1)
			continue
		}
		if victim == "" || e.ExpiresAt.Before(soon) {
			victim, soon = key, e.ExpiresAt
		}
	}
	if len(c.entries) >= c.maxEntries && victim != "" {
		delete(c.entries, victim)
		c.evictions.Add(1)
	}
}

// Invalidate implements Cache.
func (c *MemoryCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateAll implements Cache.
func (c *MemoryCache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]*Entry)
	c.mu.Unlock()
}

func (c *MemoryCache) sweepLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

func (c *MemoryCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, e := range c.entries {
		if e.IsExpired(now) {
			delete(c.entries, key)
		}
	}
}

// Stop ends the sweep loop. It is safe to call more than once.
func (c *MemoryCache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Len returns the number of stored entries, expired ones included until the
// next sweep.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns the outcome counters.
func (c *MemoryCache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		StaleHits: c.staleHits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}
