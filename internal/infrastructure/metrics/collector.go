package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/asakaida/permatrix/internal/entities"
	"github.com/asakaida/permatrix/internal/services/matrix"
	"github.com/asakaida/permatrix/pkg/cache"
	"github.com/asakaida/permatrix/pkg/cache/memorycache"
)

var _ matrix.SaveRecorder = (*Collector)(nil)

// Save outcome labels
const (
	OutcomeInserted = "inserted"
	OutcomeUpdated  = "updated"
	OutcomeDeleted  = "deleted"
	OutcomeFailed   = "failed"
)

// Collector collects and aggregates metrics for the application.
type Collector struct {
	// Record service call metrics, keyed by method ("Save/FieldPermissions/create")
	calls        sync.Map // map[string]*uint64 - method -> count
	callErrors   sync.Map // map[string]*uint64 - method -> error count
	callDuration sync.Map // map[string]*durationValue - method -> total duration in seconds

	// Save outcomes, keyed by "Kind|outcome"
	outcomes sync.Map // map[string]*uint64

	saves        uint64
	saveDuration durationValue

	// Cache reference (optional, for querying cache-specific metrics)
	cache cache.Cache

	// Exporter (optional) receiving every recorded value as well
	exporter *PrometheusExporter
}

// durationValue holds duration with mutex for thread-safe updates.
type durationValue struct {
	mu           sync.Mutex
	totalSeconds float64
}

func (d *durationValue) add(seconds float64) {
	d.mu.Lock()
	d.totalSeconds += seconds
	d.mu.Unlock()
}

func (d *durationValue) load() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.totalSeconds
}

// CacheMetrics holds catalog cache metrics.
type CacheMetrics struct {
	Hits        uint64
	Misses      uint64
	HitRate     float64
	KeysCurrent int64
	MemoryBytes int64
	Evictions   uint64
	Expired     uint64
}

// CallMetrics holds record service call metrics.
type CallMetrics struct {
	RequestCounts        map[string]uint64
	ErrorCounts          map[string]uint64
	TotalDurationSeconds map[string]float64
}

// SaveMetrics holds save outcome metrics.
type SaveMetrics struct {
	Saves                uint64
	TotalDurationSeconds float64
	Records              map[entities.Kind]map[string]uint64 // kind -> outcome -> count
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{}
}

// SetCache sets the cache instance for collecting cache metrics.
func (c *Collector) SetCache(cache cache.Cache) {
	c.cache = cache
}

// SetExporter forwards every recorded value to a Prometheus exporter.
func (c *Collector) SetExporter(exporter *PrometheusExporter) {
	c.exporter = exporter
}

// RecordRequest records a record service call.
func (c *Collector) RecordRequest(method string) {
	atomic.AddUint64(c.getOrCreateCounter(&c.calls, method), 1)
	if c.exporter != nil {
		c.exporter.RecordRequest(method)
	}
}

// RecordError records a failed record service call.
func (c *Collector) RecordError(method string) {
	atomic.AddUint64(c.getOrCreateCounter(&c.callErrors, method), 1)
	if c.exporter != nil {
		c.exporter.RecordError(method)
	}
}

// RecordDuration records the duration of a record service call in seconds.
func (c *Collector) RecordDuration(method string, durationSeconds float64) {
	val, _ := c.callDuration.LoadOrStore(method, &durationValue{})
	val.(*durationValue).add(durationSeconds)
	if c.exporter != nil {
		c.exporter.RecordDuration(method, durationSeconds)
	}
}

// RecordSaveOutcome implements matrix.SaveRecorder
func (c *Collector) RecordSaveOutcome(kind entities.Kind, report *matrix.KindReport) {
	if report == nil {
		return
	}
	for outcome, n := range map[string]int{
		OutcomeInserted: report.Inserted,
		OutcomeUpdated:  report.Updated,
		OutcomeDeleted:  report.Deleted,
		OutcomeFailed:   report.Failed,
	} {
		if n == 0 {
			continue
		}
		atomic.AddUint64(c.getOrCreateCounter(&c.outcomes, string(kind)+"|"+outcome), uint64(n))
		if c.exporter != nil {
			c.exporter.RecordSavedRecords(kind, outcome, n)
		}
	}
}

// RecordSaveDuration implements matrix.SaveRecorder
func (c *Collector) RecordSaveDuration(seconds float64) {
	atomic.AddUint64(&c.saves, 1)
	c.saveDuration.add(seconds)
	if c.exporter != nil {
		c.exporter.RecordSaveDuration(seconds)
	}
}

// GetCacheMetrics returns current cache metrics.
func (c *Collector) GetCacheMetrics() *CacheMetrics {
	if c.cache == nil {
		return &CacheMetrics{}
	}

	metrics := c.cache.Metrics()
	if metrics == nil {
		return &CacheMetrics{}
	}

	result := &CacheMetrics{
		Hits:      metrics.Hits,
		Misses:    metrics.Misses,
		HitRate:   metrics.HitRate(),
		Evictions: metrics.KeysEvicted,
		Expired:   metrics.KeysExpired,
	}

	// Get current keys and memory if available
	if memCache, ok := c.cache.(*memorycache.Cache); ok {
		result.KeysCurrent = int64(memCache.Len())
		result.MemoryBytes = memCache.Size()
	}

	return result
}

// GetCallMetrics returns current record service call metrics.
func (c *Collector) GetCallMetrics() *CallMetrics {
	result := &CallMetrics{
		RequestCounts:        make(map[string]uint64),
		ErrorCounts:          make(map[string]uint64),
		TotalDurationSeconds: make(map[string]float64),
	}

	c.calls.Range(func(key, value interface{}) bool {
		result.RequestCounts[key.(string)] = atomic.LoadUint64(value.(*uint64))
		return true
	})

	c.callErrors.Range(func(key, value interface{}) bool {
		result.ErrorCounts[key.(string)] = atomic.LoadUint64(value.(*uint64))
		return true
	})

	c.callDuration.Range(func(key, value interface{}) bool {
		result.TotalDurationSeconds[key.(string)] = value.(*durationValue).load()
		return true
	})

	return result
}

// GetSaveMetrics returns current save outcome metrics.
func (c *Collector) GetSaveMetrics() *SaveMetrics {
	result := &SaveMetrics{
		Saves:                atomic.LoadUint64(&c.saves),
		TotalDurationSeconds: c.saveDuration.load(),
		Records:              make(map[entities.Kind]map[string]uint64),
	}

	c.outcomes.Range(func(key, value interface{}) bool {
		kind, outcome := splitOutcomeKey(key.(string))
		if result.Records[kind] == nil {
			result.Records[kind] = make(map[string]uint64)
		}
		result.Records[kind][outcome] = atomic.LoadUint64(value.(*uint64))
		return true
	})

	return result
}

// getOrCreateCounter gets or creates a counter for the given key.
func (c *Collector) getOrCreateCounter(m *sync.Map, key string) *uint64 {
	val, _ := m.LoadOrStore(key, new(uint64))
	return val.(*uint64)
}

func splitOutcomeKey(key string) (entities.Kind, string) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '|' {
			return entities.Kind(key[:i]), key[i+1:]
		}
	}
	return entities.Kind(key), ""
}
