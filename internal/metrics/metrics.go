package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/firmsync/firmsync/internal/models"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// SyncRunsTotal counts finished sync runs by entity and final state
	SyncRunsTotal *prometheus.CounterVec
	// SyncRunDuration tracks end-to-end run duration by entity
	SyncRunDuration *prometheus.HistogramVec
	// RecordsSyncedTotal counts record outcomes by entity and result
	RecordsSyncedTotal *prometheus.CounterVec
	// PagesFetchedTotal counts provider pages fetched by entity
	PagesFetchedTotal *prometheus.CounterVec
	// TokenRefreshesTotal counts token refresh attempts by result
	TokenRefreshesTotal *prometheus.CounterVec
	// TokenExpirySeconds tracks seconds until the active token expires
	TokenExpirySeconds prometheus.Gauge
	// RateLimitHitsTotal counts provider rate-limit responses
	RateLimitHitsTotal *prometheus.CounterVec
	// RequestLatency tracks HTTP request latency by endpoint and method
	RequestLatency *prometheus.HistogramVec
	// ErrorCounter counts errors by type and endpoint
	ErrorCounter *prometheus.CounterVec
	// HTTPRequestsTotal total HTTP requests
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTPRequestsInFlight current HTTP requests being processed
	HTTPRequestsInFlight prometheus.Gauge
	// registry is the custom registry for this metrics instance
	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		SyncRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_runs_total",
				Help:      "Total number of finished sync runs",
			},
			[]string{"entity", "state"},
		),
		SyncRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_run_duration_seconds",
				Help:      "End-to-end sync run duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1.0, 5.0, 15.0, 60.0, 300.0, 900.0, 1800.0},
			},
			[]string{"entity"},
		),
		RecordsSyncedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_synced_total",
				Help:      "Total number of record outcomes per sync run",
			},
			[]string{"entity", "result"},
		),
		PagesFetchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pages_fetched_total",
				Help:      "Total number of provider listing pages fetched",
			},
			[]string{"entity"},
		),
		TokenRefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refreshes_total",
				Help:      "Total number of token refresh attempts",
			},
			[]string{"result"},
		),
		TokenExpirySeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "token_expiry_seconds",
				Help:      "Seconds until the active token expires",
			},
		),
		RateLimitHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Total number of provider rate-limit responses",
			},
			[]string{"entity"},
		),
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_latency_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint", "method", "status"},
		),
		ErrorCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"type", "endpoint", "method"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
	}

	// Register metrics with custom registry
	registry.MustRegister(
		m.SyncRunsTotal,
		m.SyncRunDuration,
		m.RecordsSyncedTotal,
		m.PagesFetchedTotal,
		m.TokenRefreshesTotal,
		m.TokenExpirySeconds,
		m.RateLimitHitsTotal,
		m.RequestLatency,
		m.ErrorCounter,
		m.HTTPRequestsTotal,
		m.HTTPRequestsInFlight,
	)

	return m
}

// Handler returns a Prometheus handler for these metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRun records the outcome of a finished sync run.
func (m *Metrics) ObserveRun(report *models.Report, duration time.Duration) {
	entity := string(report.Entity)
	m.SyncRunsTotal.WithLabelValues(entity, string(report.State)).Inc()
	m.SyncRunDuration.WithLabelValues(entity).Observe(duration.Seconds())
	m.RecordsSyncedTotal.WithLabelValues(entity, "created").Add(float64(report.Created))
	m.RecordsSyncedTotal.WithLabelValues(entity, "updated").Add(float64(report.Updated))
	m.RecordsSyncedTotal.WithLabelValues(entity, "failed").Add(float64(report.Failed))
	m.PagesFetchedTotal.WithLabelValues(entity).Add(float64(report.Pages))
}

// RecordTokenRefresh records a token refresh attempt
func (m *Metrics) RecordTokenRefresh(result string) {
	m.TokenRefreshesTotal.WithLabelValues(result).Inc()
}

// SetTokenExpiry sets the time remaining on the active token
func (m *Metrics) SetTokenExpiry(remaining time.Duration) {
	m.TokenExpirySeconds.Set(remaining.Seconds())
}

// RecordRateLimitHit records a provider rate-limit response
func (m *Metrics) RecordRateLimitHit(entity string) {
	m.RateLimitHitsTotal.WithLabelValues(entity).Inc()
}

// RecordRequestLatency records the latency of an HTTP request
func (m *Metrics) RecordRequestLatency(endpoint, method, status string, durationSeconds float64) {
	m.RequestLatency.WithLabelValues(endpoint, method, status).Observe(durationSeconds)
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, endpoint, method string) {
	m.ErrorCounter.WithLabelValues(errorType, endpoint, method).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint, method, status string) {
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// IncHTTPRequestsInFlight increments the in-flight requests counter
func (m *Metrics) IncHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Inc()
}

// DecHTTPRequestsInFlight decrements the in-flight requests counter
func (m *Metrics) DecHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Dec()
}
