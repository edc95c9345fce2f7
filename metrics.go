package relayhttp

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the pipeline's request
// lifecycle and reliability layers. It implements EventListener so it can be
// fed directly by the telemetry stage. All methods are nil-safe: a client
// without metrics calls through a nil collector at no cost. Safe for
// concurrent use.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	retriesTotal *prometheus.CounterVec

	circuitBreakerState *prometheus.GaugeVec

	rateLimiterTokens *prometheus.GaugeVec

	retryBudgetExceeded *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec
}

// NewMetricsCollector creates a collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied
// registerer; tests use a fresh prometheus.NewRegistry.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayhttp_requests_total",
				Help: "Total number of HTTP requests made",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relayhttp_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestsInFlight: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "relayhttp_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
			[]string{"method", "endpoint"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayhttp_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"method", "endpoint", "attempt"},
		),
		circuitBreakerState: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "relayhttp_circuit_breaker_state",
				Help: "Current circuit state per destination (0=closed, 1=open, 2=half-open)",
			},
			[]string{"destination"},
		),
		rateLimiterTokens: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "relayhttp_rate_limiter_tokens",
				Help: "Current number of available rate limiter tokens per bucket",
			},
			[]string{"bucket"},
		),
		retryBudgetExceeded: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayhttp_retry_budget_exceeded_total",
				Help: "Total number of retries denied by the retry budget",
			},
			[]string{"endpoint"},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayhttp_errors_total",
				Help: "Total number of errors encountered by type",
			},
			[]string{"type", "method", "endpoint"},
		),
	}
}

// RequestStart implements EventListener.
func (mc *MetricsCollector) RequestStart(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(method, endpoint).Inc()
}

// RequestStop implements EventListener.
func (mc *MetricsCollector) RequestStop(method, endpoint string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(method, endpoint).Dec()
	mc.RecordRequest(method, endpoint, statusCode, duration)
}

// RequestException implements EventListener.
func (mc *MetricsCollector) RequestException(method, endpoint, errorType string, duration time.Duration) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(method, endpoint).Dec()
	mc.RecordError(errorType, method, endpoint)
	mc.RecordRequest(method, endpoint, 0, duration)
}

// RecordRequest records request count and duration.
func (mc *MetricsCollector) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}
	statusCodeStr := strconv.Itoa(statusCode)
	mc.requestsTotal.WithLabelValues(method, statusCodeStr, endpoint).Inc()
	mc.requestDuration.WithLabelValues(method, statusCodeStr, endpoint).Observe(duration.Seconds())
}

// RecordRetry increments the retry counter for an attempt.
func (mc *MetricsCollector) RecordRetry(method, endpoint string, attempt int) {
	if mc == nil {
		return
	}
	mc.retriesTotal.WithLabelValues(method, endpoint, strconv.Itoa(attempt)).Inc()
}

// RecordCircuitBreakerState sets the state gauge for a destination.
func (mc *MetricsCollector) RecordCircuitBreakerState(destination string, state CircuitState) {
	if mc == nil {
		return
	}
	mc.circuitBreakerState.WithLabelValues(destination).Set(float64(state))
}

// RecordRateLimiterTokens sets the available token gauge for a bucket.
func (mc *MetricsCollector) RecordRateLimiterTokens(bucket string, tokens int64) {
	if mc == nil {
		return
	}
	mc.rateLimiterTokens.WithLabelValues(bucket).Set(float64(tokens))
}

// RecordRetryBudgetExceeded increments the budget denial counter.
func (mc *MetricsCollector) RecordRetryBudgetExceeded(endpoint string) {
	if mc == nil {
		return
	}
	mc.retryBudgetExceeded.WithLabelValues(endpoint).Inc()
}

// RecordError increments the error counter by type.
func (mc *MetricsCollector) RecordError(errorType, method, endpoint string) {
	if mc == nil {
		return
	}
	mc.errorsTotal.WithLabelValues(errorType, method, endpoint).Inc()
}
