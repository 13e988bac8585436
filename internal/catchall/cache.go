package catchall

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// cacheEntry is one domain's cached detection result.
type cacheEntry struct {
	result    Result
	expiresAt time.Time
}

// Cache is a concurrent, TTL-bounded, capacity-bounded map from
// lowercased domain to the last non-INDETERMINATE detection result.
// Readers and writers may race during eviction; a stale read that is
// about to be evicted is an acceptable outcome.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry

	ttl     time.Duration
	maxSize int

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache builds a Cache with the given TTL and capacity. A zero ttl
// disables expiry (entries live until evicted for capacity).
func NewCache(ttl time.Duration, maxSize int) *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Get looks up domain (case-insensitively), evicting it first if
// expired. The second return value reports whether a live entry was
// found.
func (c *Cache) Get(domain string) (Result, bool) {
	key := strings.ToLower(domain)

	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && c.isExpired(entry) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()

	if ok {
		c.hits.Add(1)
		return entry.result, true
	}
	c.misses.Add(1)
	return Result{}, false
}

// Put inserts result for domain, running capacity eviction first if the
// cache is at or over its maximum size. INDETERMINATE results are never
// cached (callers must not call Put with one).
func (c *Cache) Put(domain string, result Result) {
	key := strings.ToLower(domain)
	expiresAt := time.Now().Add(c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictLocked()
	}
	c.entries[key] = cacheEntry{result: result, expiresAt: expiresAt}
}

// evictLocked removes expired entries first; if capacity pressure
// remains, it removes the 10% of entries with the earliest expiry.
// Caller must hold c.mu.
func (c *Cache) evictLocked() {
	for key, entry := range c.entries {
		if c.isExpired(entry) {
			delete(c.entries, key)
		}
	}
	if len(c.entries) < c.maxSize {
		return
	}

	type keyExpiry struct {
		key    string
		expiry time.Time
	}
	all := make([]keyExpiry, 0, len(c.entries))
	for key, entry := range c.entries {
		all = append(all, keyExpiry{key, entry.expiresAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].expiry.Before(all[j].expiry) })

	toEvict := len(all) / 10
	if toEvict == 0 {
		toEvict = 1
	}
	for i := 0; i < toEvict && i < len(all); i++ {
		delete(c.entries, all[i].key)
	}
}

func (c *Cache) isExpired(entry cacheEntry) bool {
	if c.ttl <= 0 {
		return false
	}
	return time.Now().After(entry.expiresAt)
}

// Stats is a snapshot of the cache's observable statistics.
type Stats struct {
	Enabled bool
	Size    int
	Hits    int64
	Misses  int64
	HitRate float64
}

// Stats reports current cache statistics. enabled reflects whether the
// owning detector has caching turned on at all.
func (c *Cache) Stats(enabled bool) Stats {
	c.mu.Lock()
	size := len(c.entries)
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{Enabled: enabled, Size: size, Hits: hits, Misses: misses, HitRate: hitRate}
}
