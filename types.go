package relayhttp

import (
	"context"
	"net/http"
	"time"
)

// RoundTripper represents the HTTP transport interface the chain terminates in.
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// RoundTripperFunc adapts a function to the RoundTripper interface.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Middleware is a single stage of the request pipeline. It receives the
// request and a continuation representing the remainder of the chain; it may
// short-circuit by returning without calling next.
type Middleware func(req *http.Request, next RoundTripper) (*http.Response, error)

// CircuitState represents the state of a destination's circuit.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

// String returns the lowercase name of the state.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds circuit breaker policy for a destination class.
type CircuitBreakerConfig struct {
	// FailureThreshold is the consecutive failure count that opens the
	// circuit. Default 5.
	FailureThreshold int
	// RecoveryTimeout is how long an open circuit rejects before admitting
	// a probe. Default 60s.
	RecoveryTimeout time.Duration
	// SuccessThreshold is the half-open success count required to close.
	// Default 1: a single successful probe closes the circuit.
	SuccessThreshold int
	// HalfOpenProbes caps concurrent requests admitted while half-open.
	// Default 1: exactly one in-flight probe tests the destination.
	HalfOpenProbes int
}

// CircuitInfo is a point-in-time snapshot of a destination's circuit health.
type CircuitInfo struct {
	State       CircuitState
	Failures    int
	LastFailure time.Time
	LastSuccess time.Time
	NextAttempt time.Time
}

// RateLimitConfig holds token bucket policy for the rate limit stage.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained refill rate.
	RequestsPerSecond float64
	// Burst is the bucket capacity: the number of calls admitted back to
	// back before refill pacing applies.
	Burst int
	// PerHost tracks one bucket per destination host instead of a single
	// process-wide bucket.
	PerHost bool
}

// BackoffStrategy selects the delay calculation used between retries.
type BackoffStrategy int

const (
	// ExponentialJitter doubles the delay each attempt and adds uniform
	// jitter proportional to the computed delay.
	ExponentialJitter BackoffStrategy = iota
	// DecorrelatedJitter uses AWS-style decorrelated jitter for smoother
	// tail latencies under heavy retry load.
	DecorrelatedJitter
)

// RetryConfig holds retry policy for the retry stage.
type RetryConfig struct {
	// MaxAttempts bounds total transport invocations, first try included.
	// Default 3.
	MaxAttempts int
	// BaseDelay seeds the backoff sequence. Default 1s.
	BaseDelay time.Duration
	// MaxDelay caps any single backoff sleep. Default 30s.
	MaxDelay time.Duration
	// Jitter is the fraction of the computed delay randomized on top of
	// it, clamped to [0,1]. Default 0.2.
	Jitter float64
	// RetryableStatusCodes lists response codes treated as transient.
	// Default 429, 500, 502, 503, 504.
	RetryableStatusCodes []int
	// Strategy selects the backoff algorithm. Default ExponentialJitter.
	Strategy BackoffStrategy
}

// RetryHook is invoked before each retry sleep with the attempt number just
// completed and the delay about to be applied.
type RetryHook func(req *http.Request, attempt int, delay time.Duration)

// Option represents a configuration option for New.
type Option func(*Client)

// RequestConfig carries per-request overrides through the request context.
// Shared-state policies (rate limit buckets, circuit thresholds) are fixed at
// client construction; retry behavior is the per-call knob.
type RequestConfig struct {
	Retry *RetryConfig
}

type contextKey string

const requestConfigKey contextKey = "relayhttp_request_config"

// WithRequestConfig returns a context carrying per-request overrides applied
// by Client.Do for that call only.
func WithRequestConfig(ctx context.Context, cfg RequestConfig) context.Context {
	return context.WithValue(ctx, requestConfigKey, &cfg)
}

// RequestConfigFromContext extracts per-request overrides, or nil.
func RequestConfigFromContext(ctx context.Context) *RequestConfig {
	cfg, _ := ctx.Value(requestConfigKey).(*RequestConfig)
	return cfg
}
