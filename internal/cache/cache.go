package cache

import (
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/relaymesh/gateway/internal/config"
)

// Entry is one cached response.
type Entry struct {
	StatusCode   int
	Headers      http.Header
	Body         []byte
	ETag         string // strong ETag, e.g. `"abc123def..."`
	LastModified time.Time
	StoredAt     time.Time
	TTL          time.Duration // resolved from Cache-Control or the default
	Size         int64
}

// Age returns how long the entry has been cached.
func (e *Entry) Age() time.Duration {
	return time.Since(e.StoredAt)
}

// Stats counts cache activity.
type Stats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	StaleHits   int64 `json:"stale_hits"`
	Evictions   int64 `json:"evictions"`
	Rejected    int64 `json:"rejected"`
	Entries     int   `json:"entries"`
	Bytes       int64 `json:"bytes"`
	NotModified int64 `json:"not_modified"`
}

// Cache is an LRU response cache bounded by entry count and total bytes.
// Entries larger than the per-entry cap are rejected outright, never
// admitted and then evicted.
type Cache struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, *Entry]

	maxEntries    int
	maxBytes      int64
	maxEntryBytes int64
	defaultTTL    time.Duration
	staleWindow   time.Duration

	bytes       int64
	hits        int64
	misses      int64
	staleHits   int64
	evictions   int64
	rejected    int64
	notModified int64
}

// New creates a response cache from config.
func New(cfg config.CacheConfig) *Cache {
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	maxEntryBytes := cfg.MaxEntryBytes
	if maxEntryBytes <= 0 || maxEntryBytes > maxBytes {
		maxEntryBytes = maxBytes
	}
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = 60 * time.Second
	}

	c := &Cache{
		maxEntries:    maxEntries,
		maxBytes:      maxBytes,
		maxEntryBytes: maxEntryBytes,
		defaultTTL:    ttl,
		staleWindow:   cfg.StaleWhileRevalidate,
	}
	c.lru, _ = simplelru.NewLRU(maxEntries, func(_ string, e *Entry) {
		c.bytes -= e.Size
		c.evictions++
	})
	return c
}

// DefaultTTL returns the configured default entry lifetime.
func (c *Cache) DefaultTTL() time.Duration { return c.defaultTTL }

// Get returns an entry when present and fresh, or present and within the
// stale-while-revalidate tolerance window (stale=true). Expired entries
// are dropped.
func (c *Cache) Get(key string) (entry *Entry, fresh bool, stale bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		return nil, false, false
	}

	age := time.Since(e.StoredAt)
	ttl := e.TTL
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if age <= ttl {
		c.hits++
		return e, true, false
	}
	if age <= ttl+c.staleWindow {
		c.staleHits++
		return e, false, true
	}

	c.lru.Remove(key)
	c.misses++
	return nil, false, false
}

// Set admits an entry, evicting LRU entries until both the entry-count and
// byte bounds hold. Oversize entries are rejected.
func (c *Cache) Set(key string, e *Entry) bool {
	if e.Size <= 0 {
		e.Size = int64(len(e.Body))
	}
	if e.Size > c.maxEntryBytes {
		c.mu.Lock()
		c.rejected++
		c.mu.Unlock()
		return false
	}
	if e.StoredAt.IsZero() {
		e.StoredAt = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Replace-in-place must not double count.
	if _, ok := c.lru.Peek(key); ok {
		c.lru.Remove(key)
	}

	for c.bytes+e.Size > c.maxBytes && c.lru.Len() > 0 {
		c.lru.RemoveOldest()
	}
	if c.bytes+e.Size > c.maxBytes {
		c.rejected++
		return false
	}

	c.lru.Add(key, e)
	c.bytes += e.Size
	return true
}

// Delete removes one entry.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	c.lru.Remove(key)
	c.mu.Unlock()
}

// Purge clears the cache.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.lru.Purge()
	c.bytes = 0
	c.mu.Unlock()
}

// RecordNotModified counts a conditional 304 served from this cache.
func (c *Cache) RecordNotModified() {
	c.mu.Lock()
	c.notModified++
	c.mu.Unlock()
}

// Stats returns a point-in-time view of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:        c.hits,
		Misses:      c.misses,
		StaleHits:   c.staleHits,
		Evictions:   c.evictions,
		Rejected:    c.rejected,
		Entries:     c.lru.Len(),
		Bytes:       c.bytes,
		NotModified: c.notModified,
	}
}
