package recurrence

// EngineConfig selects the caching and expansion limits of an Engine.
type EngineConfig struct {
	CacheEnabled bool
	CacheConfig  CacheConfig

	Expansion ExpansionOptions
}

// DefaultEngineConfig caches expansions and caps them at
// DefaultExpansionOptions.
var DefaultEngineConfig = EngineConfig{
	CacheEnabled: true,
	CacheConfig:  DefaultCacheConfig,
	Expansion:    DefaultExpansionOptions,
}

// DisabledCacheConfig expands every request afresh.
var DisabledCacheConfig = EngineConfig{
	Expansion: DefaultExpansionOptions,
}

// WithLimits returns a copy of c expanding at most maxOccurrences
// occurrences per series. Non-positive values keep the current limit.
func (c EngineConfig) WithLimits(maxOccurrences int) EngineConfig {
	if maxOccurrences > 0 {
		c.Expansion.MaxOccurrences = maxOccurrences
	}
	return c
}

// WithoutCache returns a copy of c with caching turned off.
func (c EngineConfig) WithoutCache() EngineConfig {
	c.CacheEnabled = false
	c.CacheConfig = CacheConfig{}
	return c
}
