package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP traffic,
// cache access and classroom sync runs.
type MetricsService struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	cacheLatency     prometheus.Observer
	cacheWrite       prometheus.Observer
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	syncRuns         *prometheus.CounterVec
	syncDuration     prometheus.Histogram
	syncCourses      *prometheus.CounterVec
	syncInFlight     prometheus.Gauge
	providerRequests *prometheus.HistogramVec
	tokenRefreshes   *prometheus.CounterVec

	runsStarted  uint64
	runsFinished uint64
}

// SyncMetricsSnapshot is a point-in-time summary served next to /metrics.
type SyncMetricsSnapshot struct {
	RunsStarted  uint64    `json:"runs_started"`
	RunsFinished uint64    `json:"runs_finished"`
	Goroutines   int       `json:"goroutines"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	syncRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "classroom_sync_runs_total",
		Help: "Completed classroom sync runs by severity",
	}, []string{"severity"})

	syncDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "classroom_sync_run_duration_seconds",
		Help:    "Wall time of classroom sync runs",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	syncCourses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "classroom_sync_courses_total",
		Help: "Courses reconciled by action",
	}, []string{"action"})

	syncInFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "classroom_sync_in_flight",
		Help: "Sync runs currently executing",
	})

	providerRequests := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "classroom_provider_request_duration_seconds",
		Help:    "Classroom API call latency by operation and outcome",
		Buckets: prometheus.DefBuckets,
	}, []string{"op", "outcome"})

	tokenRefreshes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "classroom_token_refreshes_total",
		Help: "OAuth refresh attempts by outcome",
	}, []string{"outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHits, cacheMisses,
		syncRuns, syncDuration, syncCourses, syncInFlight, providerRequests, tokenRefreshes, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:         registry,
		handler:          handler,
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		cacheLatency:     cacheLatency,
		cacheWrite:       cacheWrite,
		cacheHits:        cacheHits,
		cacheMisses:      cacheMisses,
		syncRuns:         syncRuns,
		syncDuration:     syncDuration,
		syncCourses:      syncCourses,
		syncInFlight:     syncInFlight,
		providerRequests: providerRequests,
		tokenRefreshes:   tokenRefreshes,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// SyncStarted marks a run as in flight.
func (m *MetricsService) SyncStarted() {
	if m == nil {
		return
	}
	m.syncInFlight.Inc()
	atomic.AddUint64(&m.runsStarted, 1)
}

// SyncFinished records a completed run.
func (m *MetricsService) SyncFinished(severity string, duration time.Duration) {
	if m == nil {
		return
	}
	m.syncInFlight.Dec()
	m.syncRuns.WithLabelValues(severity).Inc()
	m.syncDuration.Observe(duration.Seconds())
	atomic.AddUint64(&m.runsFinished, 1)
}

// RecordCourseAction counts one reconciled course.
func (m *MetricsService) RecordCourseAction(action string) {
	if m == nil {
		return
	}
	m.syncCourses.WithLabelValues(action).Inc()
}

// ObserveProviderRequest records one classroom API attempt.
func (m *MetricsService) ObserveProviderRequest(op, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.providerRequests.WithLabelValues(op, outcome).Observe(duration.Seconds())
}

// RecordTokenRefresh counts one refresh attempt.
func (m *MetricsService) RecordTokenRefresh(outcome string) {
	if m == nil {
		return
	}
	m.tokenRefreshes.WithLabelValues(outcome).Inc()
}

// Snapshot returns run counters for the JSON metrics endpoint.
func (m *MetricsService) Snapshot() SyncMetricsSnapshot {
	if m == nil {
		return SyncMetricsSnapshot{}
	}
	return SyncMetricsSnapshot{
		RunsStarted:  atomic.LoadUint64(&m.runsStarted),
		RunsFinished: atomic.LoadUint64(&m.runsFinished),
		Goroutines:   runtime.NumGoroutine(),
		GeneratedAt:  time.Now().UTC(),
	}
}
