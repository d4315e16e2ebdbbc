package tangguh

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the cache, retry
// engine, circuit breakers, offline queue and dedup tracker. All record
// methods are nil-safe so instrumentation can be wired unconditionally.
type MetricsCollector struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	retriesTotal *prometheus.CounterVec

	circuitBreakerState *prometheus.GaugeVec

	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheEntries   *prometheus.GaugeVec
	cacheSizeBytes prometheus.Gauge
	cacheEvictions *prometheus.CounterVec

	queueDepth     prometheus.Gauge
	queueEnqueued  prometheus.Counter
	queueDelivered prometheus.Counter
	queueDropped   *prometheus.CounterVec

	deduplicationHits *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec
}

// NewMetricsCollector creates a collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied
// registerer so tests can isolate registries.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tangguh_requests_total",
				Help: "Total number of transport requests made",
			},
			[]string{"method", "endpoint", "outcome"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tangguh_request_duration_seconds",
				Help:    "Duration of transport requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tangguh_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"method", "endpoint", "attempt"},
		),
		circuitBreakerState: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tangguh_circuit_breaker_state",
				Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"endpoint"},
		),
		cacheHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tangguh_cache_hits_total",
				Help: "Total number of query cache hits",
			},
			[]string{"module"},
		),
		cacheMisses: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tangguh_cache_misses_total",
				Help: "Total number of query cache misses",
			},
			[]string{"module"},
		),
		cacheEntries: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tangguh_cache_entries",
				Help: "Current number of cache entries by classification",
			},
			[]string{"class"},
		),
		cacheSizeBytes: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "tangguh_cache_size_bytes",
				Help: "Estimated serialized size of the query cache",
			},
		),
		cacheEvictions: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tangguh_cache_evictions_total",
				Help: "Total number of entries removed by cleanup and eviction",
			},
			[]string{"reason"},
		),
		queueDepth: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "tangguh_offline_queue_depth",
				Help: "Current number of pending offline mutations",
			},
		),
		queueEnqueued: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "tangguh_offline_queue_enqueued_total",
				Help: "Total number of mutations added to the offline queue",
			},
		),
		queueDelivered: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "tangguh_offline_queue_delivered_total",
				Help: "Total number of queued mutations delivered by drains",
			},
		),
		queueDropped: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tangguh_offline_queue_dropped_total",
				Help: "Total number of queued mutations dropped",
			},
			[]string{"reason"},
		),
		deduplicationHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tangguh_deduplication_hits_total",
				Help: "Total number of requests that shared an in-flight controller",
			},
			[]string{"method"},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tangguh_errors_total",
				Help: "Total number of classified errors",
			},
			[]string{"kind", "method", "endpoint"},
		),
	}
}

// RecordRequest records one transport attempt's outcome and duration.
func (mc *MetricsCollector) RecordRequest(method, endpoint, outcome string, duration time.Duration) {
	if mc == nil {
		return
	}
	mc.requestsTotal.WithLabelValues(method, endpoint, outcome).Inc()
	mc.requestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordRetry increments the retry counter for an attempt.
func (mc *MetricsCollector) RecordRetry(method, endpoint string, attempt int) {
	if mc == nil {
		return
	}
	mc.retriesTotal.WithLabelValues(method, endpoint, strconv.Itoa(attempt)).Inc()
}

// RecordCircuitBreakerState sets the per-endpoint breaker gauge.
func (mc *MetricsCollector) RecordCircuitBreakerState(endpoint string, state CircuitState) {
	if mc == nil {
		return
	}
	mc.circuitBreakerState.WithLabelValues(endpoint).Set(float64(state))
}

// RecordCacheHit increments the hit counter for a module.
func (mc *MetricsCollector) RecordCacheHit(module string) {
	if mc == nil {
		return
	}
	mc.cacheHits.WithLabelValues(module).Inc()
}

// RecordCacheMiss increments the miss counter for a module.
func (mc *MetricsCollector) RecordCacheMiss(module string) {
	if mc == nil {
		return
	}
	mc.cacheMisses.WithLabelValues(module).Inc()
}

// RecordCacheStats publishes entry counts and estimated size.
func (mc *MetricsCollector) RecordCacheStats(stats CacheStats) {
	if mc == nil {
		return
	}
	mc.cacheEntries.WithLabelValues("critical").Set(float64(stats.CriticalQueries))
	mc.cacheEntries.WithLabelValues("non_critical").Set(float64(stats.NonCriticalQueries))
	mc.cacheSizeBytes.Set(float64(stats.EstimatedSizeBytes))
}

// RecordEviction counts removed entries by reason ("age", "size",
// "count", "invalidate").
func (mc *MetricsCollector) RecordEviction(reason string, count int) {
	if mc == nil || count <= 0 {
		return
	}
	mc.cacheEvictions.WithLabelValues(reason).Add(float64(count))
}

// RecordQueueDepth sets the pending-mutation gauge.
func (mc *MetricsCollector) RecordQueueDepth(depth int) {
	if mc == nil {
		return
	}
	mc.queueDepth.Set(float64(depth))
}

// RecordQueueEnqueued counts one accepted mutation.
func (mc *MetricsCollector) RecordQueueEnqueued() {
	if mc == nil {
		return
	}
	mc.queueEnqueued.Inc()
}

// RecordQueueDelivered counts one delivered mutation.
func (mc *MetricsCollector) RecordQueueDelivered() {
	if mc == nil {
		return
	}
	mc.queueDelivered.Inc()
}

// RecordQueueDropped counts dropped mutations by reason ("overflow",
// "max_retries").
func (mc *MetricsCollector) RecordQueueDropped(reason string, count int) {
	if mc == nil || count <= 0 {
		return
	}
	mc.queueDropped.WithLabelValues(reason).Add(float64(count))
}

// RecordDeduplicationHit counts a request that shared a controller.
func (mc *MetricsCollector) RecordDeduplicationHit(method string) {
	if mc == nil {
		return
	}
	mc.deduplicationHits.WithLabelValues(method).Inc()
}

// RecordError increments the classified error counter.
func (mc *MetricsCollector) RecordError(kind ErrorKind, method, endpoint string) {
	if mc == nil {
		return
	}
	mc.errorsTotal.WithLabelValues(string(kind), method, endpoint).Inc()
}
