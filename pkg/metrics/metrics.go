// Package metrics defines the Prometheus metric collectors used across the
// service and exposes an HTTP handler for scraping. Recorder methods are safe
// to call on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SurfaceRequestsTotal *prometheus.CounterVec
	SurfaceLatency       *prometheus.HistogramVec
	SurfaceItems         *prometheus.HistogramVec
	CandidatePoolSize    *prometheus.HistogramVec
	CacheHitsTotal       *prometheus.CounterVec
	CacheMissesTotal     *prometheus.CounterVec
	TelemetryEventsTotal *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg. A nil reg uses the
// default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SurfaceRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recommend_requests_total",
				Help: "Surface requests by surface and outcome (ok, client_error, error).",
			},
			[]string{"surface", "status"},
		),
		SurfaceLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recommend_latency_seconds",
				Help:    "Surface computation latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"surface", "cache"},
		),
		SurfaceItems: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recommend_items_returned",
				Help:    "Number of items returned per surface response.",
				Buckets: []float64{0, 1, 5, 10, 20, 30, 50, 100},
			},
			[]string{"surface"},
		),
		CandidatePoolSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recommend_candidate_pool_size",
				Help:    "Size of each candidate pool before scoring.",
				Buckets: []float64{0, 1, 5, 10, 20, 30, 40, 60, 100},
			},
			[]string{"surface", "pool"},
		),
		CacheHitsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recommend_cache_hits_total",
				Help: "Surface cache hits.",
			},
			[]string{"surface"},
		),
		CacheMissesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recommend_cache_misses_total",
				Help: "Surface cache misses, including expired entries.",
			},
			[]string{"surface"},
		),
		TelemetryEventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telemetry_events_total",
				Help: "Telemetry events by result (queued, dropped, published, failed, persisted).",
			},
			[]string{"result"},
		),
		CircuitBreakerState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
			},
			[]string{"name"},
		),
	}
}

// ObserveSurface records one surface request.
func (m *Metrics) ObserveSurface(surface, status string, cacheHit bool, elapsed time.Duration, items int) {
	if m == nil {
		return
	}
	m.SurfaceRequestsTotal.WithLabelValues(surface, status).Inc()
	if status != "ok" {
		return
	}
	cache := "miss"
	if cacheHit {
		cache = "hit"
	}
	m.SurfaceLatency.WithLabelValues(surface, cache).Observe(elapsed.Seconds())
	m.SurfaceItems.WithLabelValues(surface).Observe(float64(items))
}

// ObservePool records the size of a candidate pool.
func (m *Metrics) ObservePool(surface, pool string, size int) {
	if m == nil {
		return
	}
	m.CandidatePoolSize.WithLabelValues(surface, pool).Observe(float64(size))
}

// CacheLookup records a cache hit or miss for surface.
func (m *Metrics) CacheLookup(surface string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(surface).Inc()
		return
	}
	m.CacheMissesTotal.WithLabelValues(surface).Inc()
}

// Telemetry counts a telemetry event outcome.
func (m *Metrics) Telemetry(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TelemetryEventsTotal.WithLabelValues(result).Add(float64(n))
}

// BreakerState records the numeric state of a named circuit breaker.
func (m *Metrics) BreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
