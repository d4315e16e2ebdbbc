package tangguh

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCollectorNilSafe(t *testing.T) {
	var mc *MetricsCollector

	// Every record method must be callable on a nil collector.
	mc.RecordRequest("GET", "/api/sales", "success", time.Second)
	mc.RecordRetry("GET", "/api/sales", 1)
	mc.RecordCircuitBreakerState("/api/sales", StateOpen)
	mc.RecordCacheHit("sales")
	mc.RecordCacheMiss("sales")
	mc.RecordCacheStats(CacheStats{})
	mc.RecordEviction("age", 3)
	mc.RecordQueueDepth(5)
	mc.RecordQueueEnqueued()
	mc.RecordQueueDelivered()
	mc.RecordQueueDropped("overflow", 2)
	mc.RecordDeduplicationHit("GET")
	mc.RecordError(KindNetwork, "GET", "/api/sales")
}

func TestMetricsCollectorCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry(registry)

	mc.RecordRequest("GET", "/api/sales", "success", 100*time.Millisecond)
	mc.RecordRequest("GET", "/api/sales", "failure", 50*time.Millisecond)
	mc.RecordRequest("POST", "/api/sales", "success", 10*time.Millisecond)

	if got := testutil.ToFloat64(mc.requestsTotal.WithLabelValues("GET", "/api/sales", "success")); got != 1 {
		t.Errorf("requests success = %v, want 1", got)
	}
	if got := testutil.ToFloat64(mc.requestsTotal.WithLabelValues("GET", "/api/sales", "failure")); got != 1 {
		t.Errorf("requests failure = %v, want 1", got)
	}

	mc.RecordCacheHit("sales")
	mc.RecordCacheHit("sales")
	mc.RecordCacheMiss("stock")
	if got := testutil.ToFloat64(mc.cacheHits.WithLabelValues("sales")); got != 2 {
		t.Errorf("cache hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(mc.cacheMisses.WithLabelValues("stock")); got != 1 {
		t.Errorf("cache misses = %v, want 1", got)
	}

	mc.RecordEviction("size", 4)
	if got := testutil.ToFloat64(mc.cacheEvictions.WithLabelValues("size")); got != 4 {
		t.Errorf("evictions = %v, want 4", got)
	}
	mc.RecordEviction("size", 0) // zero-count records are skipped
	if got := testutil.ToFloat64(mc.cacheEvictions.WithLabelValues("size")); got != 4 {
		t.Errorf("evictions after zero record = %v, want 4", got)
	}
}

func TestMetricsCollectorGauges(t *testing.T) {
	registry := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry(registry)

	mc.RecordCircuitBreakerState("/api/sales", StateHalfOpen)
	if got := testutil.ToFloat64(mc.circuitBreakerState.WithLabelValues("/api/sales")); got != 2 {
		t.Errorf("breaker gauge = %v, want 2", got)
	}

	mc.RecordQueueDepth(7)
	if got := testutil.ToFloat64(mc.queueDepth); got != 7 {
		t.Errorf("queue depth = %v, want 7", got)
	}

	mc.RecordCacheStats(CacheStats{CriticalQueries: 3, NonCriticalQueries: 5, EstimatedSizeBytes: 4096})
	if got := testutil.ToFloat64(mc.cacheEntries.WithLabelValues("critical")); got != 3 {
		t.Errorf("critical entries = %v, want 3", got)
	}
	if got := testutil.ToFloat64(mc.cacheEntries.WithLabelValues("non_critical")); got != 5 {
		t.Errorf("non-critical entries = %v, want 5", got)
	}
	if got := testutil.ToFloat64(mc.cacheSizeBytes); got != 4096 {
		t.Errorf("cache size = %v, want 4096", got)
	}
}

func TestMetricsCollectorQueueAndErrors(t *testing.T) {
	registry := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry(registry)

	mc.RecordQueueEnqueued()
	mc.RecordQueueEnqueued()
	mc.RecordQueueDelivered()
	mc.RecordQueueDropped("max_retries", 1)
	mc.RecordDeduplicationHit("GET")
	mc.RecordError(KindServer, "GET", "/api/sales")

	if got := testutil.ToFloat64(mc.queueEnqueued); got != 2 {
		t.Errorf("enqueued = %v, want 2", got)
	}
	if got := testutil.ToFloat64(mc.queueDelivered); got != 1 {
		t.Errorf("delivered = %v, want 1", got)
	}
	if got := testutil.ToFloat64(mc.queueDropped.WithLabelValues("max_retries")); got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(mc.deduplicationHits.WithLabelValues("GET")); got != 1 {
		t.Errorf("dedup hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(mc.errorsTotal.WithLabelValues(string(KindServer), "GET", "/api/sales")); got != 1 {
		t.Errorf("errors = %v, want 1", got)
	}
}

func TestClientRecordsMetricsEndToEnd(t *testing.T) {
	registry := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry(registry)

	c := New(okTransport, WithMetricsCollector(mc))
	ctx := context.Background()

	key := Key("sales", "detail", 1)
	if _, err := c.Query(ctx, key, "/api/sales/1", nil); err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if _, err := c.Query(ctx, key, "/api/sales/1", nil); err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	if got := testutil.ToFloat64(mc.cacheMisses.WithLabelValues("sales")); got != 1 {
		t.Errorf("cache misses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(mc.cacheHits.WithLabelValues("sales")); got != 1 {
		t.Errorf("cache hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(mc.requestsTotal.WithLabelValues("GET", "/api/sales/1", "success")); got != 1 {
		t.Errorf("requests = %v, want 1", got)
	}
}
