package recurrence

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecurrenceCache_BasicOperations(t *testing.T) {
	cache := NewRecurrenceCache(CacheConfig{TTL: 5 * time.Minute, MaxEntries: 100})

	rs := RuleSet{Start: day(1, 10), RRules: []Rule{{Freq: Daily, Count: 5}}}
	key := cacheKey(rs, day(1, 9), day(1, 12), DefaultExpansionOptions)

	_, found := cache.Get(key)
	assert.False(t, found, "expected cache miss")

	cache.Set(key, []time.Time{day(1, 10)})

	result, found := cache.Get(key)
	assert.True(t, found, "expected cache hit")
	assert.Equal(t, []time.Time{day(1, 10)}, result)

	// returned slices are copies
	result[0] = day(9, 9)
	again, _ := cache.Get(key)
	assert.Equal(t, day(1, 10), again[0])
}

func TestRecurrenceCache_KeyCoversInputs(t *testing.T) {
	base := RuleSet{Start: day(1, 10), RRules: []Rule{{Freq: Daily, Count: 5}}}
	withExdate := base
	withExdate.ExDates = []Date{{Time: day(2, 10)}}
	otherRule := base
	otherRule.RRules = []Rule{{Freq: Daily, Count: 6}}

	k := cacheKey(base, day(1, 0), day(9, 0), DefaultExpansionOptions)
	assert.Equal(t, k, cacheKey(base, day(1, 0), day(9, 0), DefaultExpansionOptions))
	assert.NotEqual(t, k, cacheKey(withExdate, day(1, 0), day(9, 0), DefaultExpansionOptions))
	assert.NotEqual(t, k, cacheKey(otherRule, day(1, 0), day(9, 0), DefaultExpansionOptions))
	assert.NotEqual(t, k, cacheKey(base, day(1, 0), day(10, 0), DefaultExpansionOptions))
}

func TestRecurrenceCache_TTLExpiration(t *testing.T) {
	cache := NewRecurrenceCache(CacheConfig{TTL: time.Minute, MaxEntries: 100})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	cache.Set("k", []time.Time{day(1, 1)})
	_, found := cache.Get("k")
	assert.True(t, found)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, cache.Stats().ExpiredEntries)
	_, found = cache.Get("k")
	assert.False(t, found)
	assert.Equal(t, 0, cache.Stats().TotalEntries)
}

func TestRecurrenceCache_EvictsLeastRecentlyUsed(t *testing.T) {
	cache := NewRecurrenceCache(CacheConfig{TTL: time.Hour, MaxEntries: 2})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	cache.Set("a", nil)
	now = now.Add(time.Second)
	cache.Set("b", nil)
	now = now.Add(time.Second)
	cache.Get("a")
	now = now.Add(time.Second)
	cache.Set("c", nil)

	_, hasA := cache.Get("a")
	_, hasB := cache.Get("b")
	_, hasC := cache.Get("c")
	assert.True(t, hasA)
	assert.False(t, hasB)
	assert.True(t, hasC)
}

func TestRecurrenceCache_Concurrent(t *testing.T) {
	cache := NewRecurrenceCache(CacheConfig{TTL: time.Hour, MaxEntries: 50})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("%d-%d", i, j)
				cache.Set(key, []time.Time{day(1, 1)})
				cache.Get(key)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, cache.Stats().TotalEntries, 50)
	cache.Clear()
	assert.Equal(t, 0, cache.Stats().TotalEntries)
}
