package recurrence

import (
	"iter"
	"slices"
	"time"
)

// Engine provides unified recurrence expansion with optional memoization.
// It is safe for concurrent use.
type Engine struct {
	cache  *RecurrenceCache
	config EngineConfig
}

// NewEngine creates a new recurrence engine instance
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig)
}

// NewEngineWithConfig creates a new recurrence engine with custom configuration
func NewEngineWithConfig(config EngineConfig) *Engine {
	var cache *RecurrenceCache
	if config.CacheEnabled {
		cache = NewRecurrenceCache(config.CacheConfig)
	}
	return &Engine{
		cache:  cache,
		config: config,
	}
}

// Config returns the engine configuration.
func (e *Engine) Config() EngineConfig {
	return e.config
}

// CacheStats reports cache usage. It is zero when caching is disabled.
func (e *Engine) CacheStats() CacheStats {
	if e.cache == nil {
		return CacheStats{}
	}
	return e.cache.Stats()
}

// Between materializes the expansion of rs over the inclusive window.
func (e *Engine) Between(rs RuleSet, rangeStart, rangeEnd time.Time) ([]time.Time, error) {
	var key string
	if e.cache != nil {
		key = cacheKey(rs, rangeStart, rangeEnd, e.config.Expansion)
		if cached, ok := e.cache.Get(key); ok {
			return cached, nil
		}
	}

	seq, err := ExpandWithOptions(rs, rangeStart, rangeEnd, e.config.Expansion)
	if err != nil {
		return nil, err
	}
	out := slices.Collect(seq)

	if e.cache != nil {
		e.cache.Set(key, out)
	}
	return out, nil
}

// Occurrences expands rs over the window and applies overrides.
func (e *Engine) Occurrences(rs RuleSet, duration time.Duration, overrides []Override, rangeStart, rangeEnd time.Time) (iter.Seq[TimeOccurrence], error) {
	starts, err := e.Between(rs, rangeStart, rangeEnd)
	if err != nil {
		return nil, err
	}
	return applyOverrides(slices.Values(starts), duration, overrides), nil
}
