package cache

import (
	"context"
	"time"
)

// Cache is the interface for caching catalog descriptions (entities and
// parent identities). It provides Get, Set, and Delete operations with TTL
// support plus prefix invalidation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns the value and true if found, or nil and false if not found.
	Get(ctx context.Context, key string) (any, bool)

	// Set stores a value in cache with TTL. A zero TTL uses the cache default.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every value whose key starts with prefix and
	// returns the number of removed entries.
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// Clear removes all entries from cache.
	Clear(ctx context.Context) error

	// Close releases resources held by the cache.
	Close() error

	// Metrics returns cache statistics.
	Metrics() *Metrics
}

// Sizer is implemented by values that know their approximate memory size.
// Values that do not implement it are charged a fixed size.
type Sizer interface {
	Size() int64
}

// Metrics holds cache performance statistics.
type Metrics struct {
	Hits        uint64
	Misses      uint64
	KeysAdded   uint64
	KeysEvicted uint64 // removed to stay under the size limit
	KeysExpired uint64 // removed because their TTL passed
}

// HitRate returns the cache hit rate (0.0 to 1.0).
func (m *Metrics) HitRate() float64 {
	total := m.Hits + m.Misses
	if total == 0 {
		return 0.0
	}
	return float64(m.Hits) / float64(total)
}
