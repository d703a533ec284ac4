package memorycache

import (
	"container/list"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/asakaida/permatrix/pkg/cache"
)

// defaultEntrySize is charged for values that do not implement cache.Sizer
const defaultEntrySize = 100

var _ cache.Cache = (*Cache)(nil)

type entry struct {
	key       string
	value     any
	expiresAt time.Time
	size      int64
}

// Cache is a size-bounded LRU cache with per-entry TTL.
// Hits move entries to the front; expired entries are dropped lazily on access.
type Cache struct {
	mu sync.Mutex

	items     map[string]*list.Element
	evictList *list.List // front = most recently used

	maxSize     int64
	defaultTTL  time.Duration
	currentSize int64

	metrics *cache.Metrics // nil when metrics are disabled
	now     func() time.Time
}

// Config holds configuration for the memory cache.
type Config struct {
	// MaxSizeBytes is the maximum total size of cached items in bytes.
	MaxSizeBytes int64

	// DefaultTTL is used by Set when no TTL is given.
	DefaultTTL time.Duration

	// EnableMetrics enables collection of cache metrics.
	EnableMetrics bool
}

// New creates a new memory cache with the given configuration.
func New(config *Config) (*Cache, error) {
	if config == nil {
		return nil, fmt.Errorf("cache config is required")
	}
	if config.MaxSizeBytes <= 0 {
		return nil, fmt.Errorf("max size must be positive, got %d", config.MaxSizeBytes)
	}
	if config.DefaultTTL <= 0 {
		return nil, fmt.Errorf("default TTL must be positive, got %s", config.DefaultTTL)
	}

	c := &Cache{
		items:      make(map[string]*list.Element),
		evictList:  list.New(),
		maxSize:    config.MaxSizeBytes,
		defaultTTL: config.DefaultTTL,
		now:        time.Now,
	}
	if config.EnableMetrics {
		c.metrics = &cache.Metrics{}
	}
	return c, nil
}

// Get retrieves a value from cache.
func (c *Cache) Get(ctx context.Context, key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.count(func(m *cache.Metrics) { m.Misses++ })
		return nil, false
	}

	ent := elem.Value.(*entry)
	if c.now().After(ent.expiresAt) {
		c.removeElement(elem)
		c.count(func(m *cache.Metrics) { m.Misses++; m.KeysExpired++ })
		return nil, false
	}

	c.evictList.MoveToFront(elem)
	c.count(func(m *cache.Metrics) { m.Hits++ })
	return ent.value, true
}

// Set stores a value in cache with the specified TTL.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	size := sizeOf(key, value)
	if size > c.maxSize {
		return fmt.Errorf("value for %q is larger than the cache (%d > %d bytes)", key, size, c.maxSize)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(ttl)
	if elem, ok := c.items[key]; ok {
		ent := elem.Value.(*entry)
		c.currentSize += size - ent.size
		ent.value = value
		ent.expiresAt = expiresAt
		ent.size = size
		c.evictList.MoveToFront(elem)
	} else {
		c.items[key] = c.evictList.PushFront(&entry{
			key:       key,
			value:     value,
			expiresAt: expiresAt,
			size:      size,
		})
		c.currentSize += size
		c.count(func(m *cache.Metrics) { m.KeysAdded++ })
	}

	for c.currentSize > c.maxSize {
		oldest := c.evictList.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
		c.count(func(m *cache.Metrics) { m.KeysEvicted++ })
	}
	return nil
}

// Delete removes a value from cache.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
	return nil
}

// DeletePrefix removes every value whose key starts with prefix.
func (c *Cache) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, elem := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.removeElement(elem)
			removed++
		}
	}
	return removed, nil
}

// Clear removes all entries from cache.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.evictList.Init()
	c.currentSize = 0
	return nil
}

// Close releases resources (no-op for memory cache).
func (c *Cache) Close() error {
	return nil
}

// Metrics returns a snapshot of the cache statistics.
func (c *Cache) Metrics() *cache.Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.metrics == nil {
		return &cache.Metrics{}
	}
	snapshot := *c.metrics
	return &snapshot
}

// Len returns the current number of items in cache.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

// Size returns the current total size in bytes.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSize
}

// removeElement removes an element from cache (must be called with lock held).
func (c *Cache) removeElement(elem *list.Element) {
	c.evictList.Remove(elem)
	ent := elem.Value.(*entry)
	delete(c.items, ent.key)
	c.currentSize -= ent.size
}

// count updates the metrics (must be called with lock held).
func (c *Cache) count(update func(m *cache.Metrics)) {
	if c.metrics != nil {
		update(c.metrics)
	}
}

func sizeOf(key string, value any) int64 {
	if s, ok := value.(cache.Sizer); ok {
		return int64(len(key)) + s.Size()
	}
	return int64(len(key)) + defaultEntrySize
}
