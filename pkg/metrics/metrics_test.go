package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordersOnNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveSurface("for_you", "ok", true, time.Millisecond, 3)
	m.ObservePool("for_you", "genre", 10)
	m.CacheLookup("for_you", false)
	m.Telemetry("queued", 1)
	m.BreakerState("postgres", 2)
}

func TestCacheLookupCounts(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.CacheLookup("foryou", true)
	m.CacheLookup("foryou", true)
	m.CacheLookup("foryou", false)

	if got := testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("foryou")); got != 2 {
		t.Errorf("hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.CacheMissesTotal.WithLabelValues("foryou")); got != 1 {
		t.Errorf("misses = %v, want 1", got)
	}
}

func TestObserveSurfaceSkipsLatencyOnError(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveSurface("continue_watching", "error", false, time.Second, 0)
	if got := testutil.ToFloat64(m.SurfaceRequestsTotal.WithLabelValues("continue_watching", "error")); got != 1 {
		t.Errorf("requests = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.SurfaceLatency); got != 0 {
		t.Errorf("expected no latency samples, got %d series", got)
	}
}
