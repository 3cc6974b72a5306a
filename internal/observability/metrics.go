package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// unmatchedRoute is the label value used for requests that do not match any
// configured route, keeping label cardinality bounded.
const unmatchedRoute = "unmatched"

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	activeRequests  *prometheus.GaugeVec
	authDecisions   *prometheus.CounterVec
	tokenCacheOps   *prometheus.CounterVec
	circuitState    *prometheus.GaugeVec
	retryAttempts   *prometheus.CounterVec
	rateLimitHits   *prometheus.CounterVec
	registry        *prometheus.Registry
}

// NewMetrics creates a new Metrics instance with its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "service", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets: []float64{
				.001, .005, .01, .025, .05,
				.1, .25, .5, 1, 2.5, 5, 10,
			},
		},
		[]string{"method", "service", "status"},
	)

	m.activeRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of in-flight HTTP requests",
		},
		[]string{"service"},
	)

	m.authDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_decisions_total",
			Help:      "Authentication and authorization decisions",
		},
		[]string{"stage", "outcome"},
	)

	m.tokenCacheOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_cache_operations_total",
			Help:      "Token cache operations by result",
		},
		[]string{"result"},
	)

	m.circuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service"},
	)

	m.retryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Retry attempts by service and outcome",
		},
		[]string{"service", "outcome"},
	)

	m.rateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Requests rejected by the rate limiter",
		},
		[]string{"tier"},
	)

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.activeRequests,
		m.authDecisions,
		m.tokenCacheOps,
		m.circuitState,
		m.retryAttempts,
		m.rateLimitHits,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RecordRequest records a completed request.
func (m *Metrics) RecordRequest(method, service string, status int, duration time.Duration) {
	if service == "" {
		service = unmatchedRoute
	}
	code := strconv.Itoa(status)
	m.requestsTotal.WithLabelValues(method, service, code).Inc()
	m.requestDuration.WithLabelValues(method, service, code).Observe(duration.Seconds())
}

// RequestStarted increments the in-flight gauge for a service.
func (m *Metrics) RequestStarted(service string) {
	m.activeRequests.WithLabelValues(service).Inc()
}

// RequestFinished decrements the in-flight gauge for a service.
func (m *Metrics) RequestFinished(service string) {
	m.activeRequests.WithLabelValues(service).Dec()
}

// RecordAuthDecision records a pipeline stage outcome.
func (m *Metrics) RecordAuthDecision(stage, outcome string) {
	m.authDecisions.WithLabelValues(stage, outcome).Inc()
}

// RecordTokenCache records a token cache hit, miss or eviction.
func (m *Metrics) RecordTokenCache(result string) {
	m.tokenCacheOps.WithLabelValues(result).Inc()
}

// SetCircuitState records the current state of a service's circuit breaker.
func (m *Metrics) SetCircuitState(service string, state int) {
	m.circuitState.WithLabelValues(service).Set(float64(state))
}

// RecordRetry records a retry attempt outcome for a service.
func (m *Metrics) RecordRetry(service, outcome string) {
	m.retryAttempts.WithLabelValues(service, outcome).Inc()
}

// RecordRateLimitHit records a request rejected by the rate limiter.
func (m *Metrics) RecordRateLimitHit(tier string) {
	m.rateLimitHits.WithLabelValues(tier).Inc()
}

// Handler returns an HTTP handler exposing the metrics registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
