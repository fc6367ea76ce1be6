// Package metrics holds the Prometheus instrumentation for coachd.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the daemon. It registers against
// its own registry so tests and embedded use never collide with the default
// one.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsActive   prometheus.Gauge
	SessionsTotal    *prometheus.CounterVec
	SessionDuration  *prometheus.HistogramVec
	SessionEndsTotal *prometheus.CounterVec

	// Error metrics
	ResourceFailuresTotal prometheus.Counter
	TransportErrorsTotal  *prometheus.CounterVec

	// Control API metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates a Metrics instance with all metrics registered.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "coachd"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of active agent sessions (0 or 1)",
		},
	)

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of agent sessions started",
		},
		[]string{"agent"},
	)

	sessionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Agent session duration in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"agent"},
	)

	sessionEndsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_ends_total",
			Help:      "Total number of session ends by reason",
		},
		[]string{"agent", "reason"},
	)

	resourceFailuresTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_acquire_failures_total",
			Help:      "Total number of failed capture pipeline acquisitions",
		},
	)

	transportErrorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Total number of agent transport errors",
		},
		[]string{"code"},
	)

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of control API requests",
		},
		[]string{"method", "path", "status"},
	)

	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Control API request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"method", "path"},
	)

	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		sessionEndsTotal,
		resourceFailuresTotal,
		transportErrorsTotal,
		requestsTotal,
		requestDuration,
	)

	return &Metrics{
		registry:              registry,
		SessionsActive:        sessionsActive,
		SessionsTotal:         sessionsTotal,
		SessionDuration:       sessionDuration,
		SessionEndsTotal:      sessionEndsTotal,
		ResourceFailuresTotal: resourceFailuresTotal,
		TransportErrorsTotal:  transportErrorsTotal,
		RequestsTotal:         requestsTotal,
		RequestDuration:       requestDuration,
	}
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SessionStarted records a session becoming active.
func (m *Metrics) SessionStarted(kind string) {
	m.SessionsActive.Inc()
	m.SessionsTotal.WithLabelValues(kind).Inc()
}

// SessionEnded records a session ending with its duration.
func (m *Metrics) SessionEnded(kind, reason string, duration time.Duration) {
	m.SessionsActive.Dec()
	m.SessionEndsTotal.WithLabelValues(kind, reason).Inc()
	m.SessionDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// ResourceAcquireFailure records a failed capture pipeline acquisition.
func (m *Metrics) ResourceAcquireFailure() {
	m.ResourceFailuresTotal.Inc()
}

// TransportError records an agent transport error by code.
func (m *Metrics) TransportError(code string) {
	m.TransportErrorsTotal.WithLabelValues(code).Inc()
}

// RecordRequest records a completed control API request.
func (m *Metrics) RecordRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
