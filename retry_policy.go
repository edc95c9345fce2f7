package relayhttp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/atomic"

	internalbackoff "github.com/guarzo/relayhttp/internal/backoff"
)

// RetryPolicy decides whether a failed attempt should be retried and with
// what delay. attempt is the number of transport invocations already made
// (1 after the first try).
type RetryPolicy interface {
	ShouldRetry(resp *http.Response, err error, attempt int) (time.Duration, bool)
}

// DefaultRetryableStatusCodes returns the status codes retried by default.
func DefaultRetryableStatusCodes() []int {
	return []int{
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
	}
}

// DefaultRetryPolicy retries transient network errors and a configurable set
// of status codes with exponential backoff and jitter, honoring Retry-After
// on 429/503 responses. Admission denials from the pipeline's own layers
// (rate limit, open circuit, exhausted retry budget) are terminal and never
// retried.
type DefaultRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	jitter      float64
	retryable   map[int]struct{}
	calc        *internalbackoff.Calculator
}

// NewDefaultRetryPolicy builds a policy from cfg, filling zero fields with
// the package defaults (3 attempts, 1s base, 30s cap, 0.2 jitter, the
// DefaultRetryableStatusCodes set, exponential jitter backoff).
func NewDefaultRetryPolicy(cfg RetryConfig) *DefaultRetryPolicy {
	cfg = withRetryDefaults(cfg)

	retryable := make(map[int]struct{}, len(cfg.RetryableStatusCodes))
	for _, code := range cfg.RetryableStatusCodes {
		retryable[code] = struct{}{}
	}

	calc := internalbackoff.NewExponentialJitterCalculator()
	if cfg.Strategy == DecorrelatedJitter {
		calc = internalbackoff.NewDecorrelatedJitterCalculator()
	}

	return &DefaultRetryPolicy{
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		jitter:      cfg.Jitter,
		retryable:   retryable,
		calc:        calc,
	}
}

func withRetryDefaults(cfg RetryConfig) RetryConfig {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.Jitter == 0 {
		cfg.Jitter = 0.2
	}
	if cfg.RetryableStatusCodes == nil {
		cfg.RetryableStatusCodes = DefaultRetryableStatusCodes()
	}
	return cfg
}

// ShouldRetry implements RetryPolicy.
func (p *DefaultRetryPolicy) ShouldRetry(resp *http.Response, err error, attempt int) (time.Duration, bool) {
	if attempt >= p.maxAttempts {
		return 0, false
	}

	if err != nil {
		if !isRetryableNetworkError(err) {
			return 0, false
		}
		return p.backoff(attempt), true
	}

	if resp == nil {
		return 0, false
	}
	if _, ok := p.retryable[resp.StatusCode]; !ok {
		return 0, false
	}

	// The server's own pacing wins over our backoff when it supplies one.
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		if delay := parseRetryAfter(resp.Header.Get("Retry-After")); delay > 0 {
			return delay, true
		}
	}

	return p.backoff(attempt), true
}

func (p *DefaultRetryPolicy) backoff(attempt int) time.Duration {
	// attempt is 1-based; the calculator's exponent is zero-based so the
	// first retry waits roughly the base delay.
	return p.calc.Calculate(attempt-1, p.baseDelay, p.maxDelay, 2.0, p.jitter)
}

// isRetryableNetworkError classifies transport errors. Timeouts and
// connection-level failures are transient; pipeline admission denials,
// cancellations and anything unrecognized are not.
func isRetryableNetworkError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrRetryBudgetExceeded) {
		return false
	}

	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		switch clientErr.Type {
		case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeServer:
			return true
		default:
			return false
		}
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// parseRetryAfter parses a Retry-After header value in either delay-seconds
// or HTTP-date form. Delays are capped at one hour.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			delay := time.Duration(seconds) * time.Second
			if delay > time.Hour {
				delay = time.Hour
			}
			return delay
		}
		return 0
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}

// RetryBudget caps retries process-wide per rolling window so a flapping
// upstream cannot trigger a retry storm across concurrent callers. The
// counter and window boundary are maintained with CAS; the reset race is
// benign since only one caller wins the window swap.
type RetryBudget struct {
	maxRetries  int64
	window      time.Duration
	current     atomic.Int64
	windowStart atomic.Int64
}

// NewRetryBudget creates a budget of maxRetries per window.
func NewRetryBudget(maxRetries int, window time.Duration) *RetryBudget {
	rb := &RetryBudget{
		maxRetries: int64(maxRetries),
		window:     window,
	}
	rb.windowStart.Store(time.Now().UnixNano())
	return rb
}

// Allow consumes one unit of retry budget, reporting whether the retry may
// proceed.
func (rb *RetryBudget) Allow() bool {
	now := time.Now().UnixNano()
	windowStart := rb.windowStart.Load()

	if now-windowStart >= int64(rb.window) {
		if rb.windowStart.CompareAndSwap(windowStart, now) {
			rb.current.Store(0)
		}
	}

	if rb.current.Load() >= rb.maxRetries {
		return false
	}
	return rb.current.Add(1) <= rb.maxRetries
}

// Stats returns the consumed budget, the cap and the current window start.
func (rb *RetryBudget) Stats() (current, max int64, windowStart time.Time) {
	return rb.current.Load(), rb.maxRetries, time.Unix(0, rb.windowStart.Load())
}
