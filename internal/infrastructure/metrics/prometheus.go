package metrics

import (
	"strings"

	"github.com/asakaida/permatrix/internal/entities"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusExporter exports metrics to Prometheus format.
type PrometheusExporter struct {
	collector *Collector

	// Prometheus metrics
	cacheHitRate     prometheus.Gauge
	cacheKeys        prometheus.Gauge
	cacheMemoryBytes prometheus.Gauge
	callRequests     *prometheus.CounterVec
	callDuration     *prometheus.HistogramVec
	callErrors       *prometheus.CounterVec
	savedRecords     *prometheus.CounterVec
	saveDuration     prometheus.Histogram
}

// NewPrometheusExporter creates a new Prometheus exporter registering its
// metrics with reg (prometheus.DefaultRegisterer when nil).
func NewPrometheusExporter(collector *Collector, reg prometheus.Registerer) *PrometheusExporter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	// Cache counters are read from the cache itself on every scrape
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "permatrix_catalog_cache_hits_total",
		Help: "Total number of catalog cache hits",
	}, func() float64 { return float64(collector.GetCacheMetrics().Hits) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "permatrix_catalog_cache_misses_total",
		Help: "Total number of catalog cache misses",
	}, func() float64 { return float64(collector.GetCacheMetrics().Misses) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "permatrix_catalog_cache_evictions_total",
		Help: "Total number of catalog cache evictions due to memory limits",
	}, func() float64 { return float64(collector.GetCacheMetrics().Evictions) })

	return &PrometheusExporter{
		collector: collector,
		cacheHitRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "permatrix_catalog_cache_hit_rate",
			Help: "Current catalog cache hit rate (0.0 to 1.0)",
		}),
		cacheKeys: factory.NewGauge(prometheus.GaugeOpts{
			Name: "permatrix_catalog_cache_keys_current",
			Help: "Current number of keys in the catalog cache",
		}),
		cacheMemoryBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "permatrix_catalog_cache_memory_bytes",
			Help: "Current memory usage of the catalog cache in bytes",
		}),
		callRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permatrix_record_service_calls_total",
				Help: "Total number of record service calls",
			},
			[]string{"method", "kind", "operation"},
		),
		callDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "permatrix_record_service_call_duration_seconds",
				Help:    "Duration of record service calls in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0, 30.0},
			},
			[]string{"method", "kind", "operation"},
		),
		callErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permatrix_record_service_errors_total",
				Help: "Total number of record service calls that failed as a whole",
			},
			[]string{"method", "kind", "operation"},
		),
		savedRecords: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permatrix_saved_records_total",
				Help: "Total number of records submitted by saves, by outcome",
			},
			[]string{"kind", "outcome"},
		),
		saveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "permatrix_save_duration_seconds",
			Help:    "Duration of whole save cycles in seconds",
			Buckets: []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 120.0},
		}),
	}
}

// Update updates Gauge metrics from the collector.
// This should be called periodically (e.g., every 10 seconds).
func (e *PrometheusExporter) Update() {
	cacheMetrics := e.collector.GetCacheMetrics()
	e.cacheHitRate.Set(cacheMetrics.HitRate)
	e.cacheKeys.Set(float64(cacheMetrics.KeysCurrent))
	e.cacheMemoryBytes.Set(float64(cacheMetrics.MemoryBytes))
}

// RecordRequest records a record service call in Prometheus.
func (e *PrometheusExporter) RecordRequest(method string) {
	e.callRequests.WithLabelValues(methodLabels(method)...).Inc()
}

// RecordDuration records a call duration in Prometheus.
func (e *PrometheusExporter) RecordDuration(method string, durationSeconds float64) {
	e.callDuration.WithLabelValues(methodLabels(method)...).Observe(durationSeconds)
}

// RecordError records a failed call in Prometheus.
func (e *PrometheusExporter) RecordError(method string) {
	e.callErrors.WithLabelValues(methodLabels(method)...).Inc()
}

// RecordSavedRecords records n records of a kind with the given outcome.
func (e *PrometheusExporter) RecordSavedRecords(kind entities.Kind, outcome string, n int) {
	e.savedRecords.WithLabelValues(string(kind), outcome).Add(float64(n))
}

// RecordSaveDuration records the duration of a save cycle.
func (e *PrometheusExporter) RecordSaveDuration(seconds float64) {
	e.saveDuration.Observe(seconds)
}

// methodLabels splits "Save/FieldPermissions/create" into its label values
func methodLabels(method string) []string {
	parts := strings.SplitN(method, "/", 3)
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	return parts
}
