package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Detection outcomes recorded by the reconciler and consumer.
const (
	outcomeAccepted       = "accepted"
	outcomeBelowThreshold = "below_threshold"
	outcomeUnmatched      = "unmatched"
	outcomeNotInRoster    = "not_in_roster"
	outcomeDuplicate      = "duplicate"
	outcomeDiscarded      = "discarded"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP surface
// and the attendance coordinator.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	polls           *prometheus.CounterVec
	pollDuration    *prometheus.HistogramVec
	detections      *prometheus.CounterVec
	writes          *prometheus.CounterVec
	activeSessions  prometheus.Gauge
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

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roster_cache_hits_total",
		Help: "Roster lookups served from cache",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roster_cache_misses_total",
		Help: "Roster lookups that fell through to the database",
	})

	polls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "biometric_polls_total",
		Help: "Biometric source polls by source and result",
	}, []string{"source", "result"})

	pollDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "biometric_poll_duration_seconds",
		Help:    "Latency of biometric source polls",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})

	detections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "detections_total",
		Help: "Biometric detections by source and reconciliation outcome",
	}, []string{"source", "outcome"})

	writes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_writes_total",
		Help: "Attendance writer results by modality",
	}, []string{"modality", "result"})

	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "active_sessions",
		Help: "Attendance sessions currently active on this instance",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheHits, cacheMisses, polls, pollDuration, detections, writes, activeSessions, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		polls:           polls,
		pollDuration:    pollDuration,
		detections:      detections,
		writes:          writes,
		activeSessions:  activeSessions,
	}
}

// Registry exposes the underlying registry for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
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

// RecordCacheOperation records a roster cache hit or miss.
func (m *MetricsService) RecordCacheOperation(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
		return
	}
	m.cacheMisses.Inc()
}

// ObservePoll records the outcome of a single biometric poll.
func (m *MetricsService) ObservePoll(source string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.polls.WithLabelValues(source, result).Inc()
	m.pollDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordDetection counts a detection by reconciliation outcome.
func (m *MetricsService) RecordDetection(source, outcome string) {
	if m == nil {
		return
	}
	m.detections.WithLabelValues(source, outcome).Inc()
}

// RecordWrite counts an attendance writer result.
func (m *MetricsService) RecordWrite(modality, result string) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(modality, result).Inc()
}

// SetActiveSessions updates the active session gauge.
func (m *MetricsService) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}
