// Package index provides exact basename lookup and fuzzy path search over a
// changing set of resources.
//
// A ResourceIndex keeps two multi-maps, one keyed by basename and one keyed
// by relative path. Both are updated on every Add and Remove, so lookups
// never return stale entries:
//
//	idx := index.New()
//	idx.Add(res)
//	same := idx.FindBasename("site.css")
//	hits := idx.FuzzyMatchPath("sc", 20)
package index

// Config holds index configuration.
type Config struct {
	// InitialCapacity is the initial size hint for the index.
	InitialCapacity int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		InitialCapacity: 1024,
	}
}

// Option configures a ResourceIndex.
type Option func(*Config)

// WithInitialCapacity sets the initial capacity.
func WithInitialCapacity(capacity int) Option {
	return func(c *Config) {
		c.InitialCapacity = capacity
	}
}
