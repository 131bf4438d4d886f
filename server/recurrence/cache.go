package recurrence

import (
	"crypto/sha256"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"
)

// CacheEntry represents a cached expansion result
type CacheEntry struct {
	Result     []time.Time
	ExpiresAt  time.Time
	AccessedAt time.Time
}

// RecurrenceCache memoizes window expansions. Expired and least recently used
// entries are evicted on write; there is no background sweeper.
type RecurrenceCache struct {
	entries    map[string]*CacheEntry
	mutex      sync.Mutex
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// CacheConfig holds configuration for the recurrence cache
type CacheConfig struct {
	TTL        time.Duration // How long entries stay valid
	MaxEntries int           // Maximum number of entries kept
}

// DefaultCacheConfig provides sensible defaults for recurrence caching
var DefaultCacheConfig = CacheConfig{
	TTL:        15 * time.Minute,
	MaxEntries: 1000,
}

// NewRecurrenceCache creates a new recurrence cache with the given configuration
func NewRecurrenceCache(config CacheConfig) *RecurrenceCache {
	return &RecurrenceCache{
		entries:    make(map[string]*CacheEntry),
		ttl:        config.TTL,
		maxEntries: config.MaxEntries,
		now:        time.Now,
	}
}

// cacheKey hashes everything an expansion depends on.
func cacheKey(rs RuleSet, rangeStart, rangeEnd time.Time, opts ExpansionOptions) string {
	hasher := sha256.New()
	fmt.Fprintf(hasher, "%s|%s|%s|%d|%d\n",
		rs.Start.Format(time.RFC3339Nano), rangeStart.Format(time.RFC3339Nano), rangeEnd.Format(time.RFC3339Nano),
		opts.MaxOccurrences, opts.MaxIterations)
	fmt.Fprintf(hasher, "loc=%s\n", rs.Start.Location())
	for _, r := range rs.RRules {
		fmt.Fprintf(hasher, "R:%s\n", r)
	}
	for _, r := range rs.ExRules {
		fmt.Fprintf(hasher, "X:%s\n", r)
	}
	for _, d := range rs.RDates {
		fmt.Fprintf(hasher, "RD:%t:%s\n", d.DateOnly, d.Time.Format(time.RFC3339Nano))
	}
	for _, d := range rs.ExDates {
		fmt.Fprintf(hasher, "XD:%t:%s\n", d.DateOnly, d.Time.Format(time.RFC3339Nano))
	}
	return fmt.Sprintf("%x", hasher.Sum(nil))
}

// Get retrieves a cached result if it exists and hasn't expired
func (c *RecurrenceCache) Get(key string) ([]time.Time, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		return nil, false
	}
	now := c.now()
	if now.After(entry.ExpiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	entry.AccessedAt = now
	return slices.Clone(entry.Result), true
}

// Set stores a result in the cache
func (c *RecurrenceCache) Set(key string, result []time.Time) {
	now := c.now()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries[key] = &CacheEntry{
		Result:     slices.Clone(result),
		ExpiresAt:  now.Add(c.ttl),
		AccessedAt: now,
	}
	if len(c.entries) > c.maxEntries {
		c.cleanup(now)
	}
}

// cleanup removes expired entries and oldest entries if over limit
func (c *RecurrenceCache) cleanup(now time.Time) {
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
		}
	}
	if len(c.entries) <= c.maxEntries {
		return
	}

	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return c.entries[keys[i]].AccessedAt.Before(c.entries[keys[j]].AccessedAt)
	})
	for _, key := range keys[:len(c.entries)-c.maxEntries] {
		delete(c.entries, key)
	}
}

// Clear drops every entry.
func (c *RecurrenceCache) Clear() {
	c.mutex.Lock()
	c.entries = make(map[string]*CacheEntry)
	c.mutex.Unlock()
}

// Stats returns cache statistics
func (c *RecurrenceCache) Stats() CacheStats {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	stats := CacheStats{TotalEntries: len(c.entries)}
	for _, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			stats.ExpiredEntries++
		}
	}
	stats.ActiveEntries = stats.TotalEntries - stats.ExpiredEntries
	return stats
}

// CacheStats provides information about cache performance
type CacheStats struct {
	TotalEntries   int
	ExpiredEntries int
	ActiveEntries  int
}
