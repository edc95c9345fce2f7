package relayhttp

import (
	"fmt"
	"net/http"
	"time"
)

// WithHTTPClient sets a custom underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the per-attempt timeout on the underlying HTTP client.
// The request context bounds the call across attempts.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if c.httpClient != nil {
			c.httpClient.Timeout = d
		}
	}
}

// WithRetry configures the default retry policy. Zero fields keep the
// package defaults.
func WithRetry(cfg RetryConfig) Option {
	return func(c *Client) {
		c.retryConfig = cfg
	}
}

// WithRetryPolicy replaces the default retry policy entirely.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) {
		c.retryPolicy = policy
	}
}

// WithRetryBudget caps retries process-wide at maxRetries per window.
func WithRetryBudget(maxRetries int, window time.Duration) Option {
	return func(c *Client) {
		c.retryBudget = NewRetryBudget(maxRetries, window)
	}
}

// WithRateLimit enables the rate limit stage with the given token bucket
// policy. Without this option the stage passes every request through.
func WithRateLimit(cfg RateLimitConfig) Option {
	return func(c *Client) {
		c.rateLimits = NewRateLimiterRegistry(cfg)
	}
}

// WithCircuitBreaker sets the default circuit breaker policy applied to
// every destination.
func WithCircuitBreaker(cfg CircuitBreakerConfig) Option {
	return func(c *Client) {
		c.breakers = NewBreakerStore(cfg)
	}
}

// WithCircuitBreakerStore shares an existing breaker store, so several
// clients converge on one view of destination health.
func WithCircuitBreakerStore(store *BreakerStore) Option {
	return func(c *Client) {
		if store != nil {
			c.breakers = store
		}
	}
}

// WithCircuitBreakerFor overrides the breaker policy for one destination
// key, e.g. stricter thresholds for a critical upstream. Overrides are
// applied after all options have run, so they survive a later
// WithCircuitBreaker or WithCircuitBreakerStore regardless of option order.
func WithCircuitBreakerFor(key string, cfg CircuitBreakerConfig) Option {
	return func(c *Client) {
		c.breakerOverrides = append(c.breakerOverrides, breakerOverride{key: key, cfg: cfg})
	}
}

// WithMiddleware appends user middleware, ordered between telemetry and the
// rate limit stage.
func WithMiddleware(middleware ...Middleware) Option {
	return func(c *Client) {
		c.middleware = append(c.middleware, middleware...)
	}
}

// WithMiddlewareChain replaces any previously configured user middleware
// instead of appending to it.
func WithMiddlewareChain(middleware ...Middleware) Option {
	return func(c *Client) {
		c.middleware = append([]Middleware(nil), middleware...)
	}
}

// WithEventListener subscribes listeners to request lifecycle events.
func WithEventListener(listeners ...EventListener) Option {
	return func(c *Client) {
		c.listeners = append(c.listeners, listeners...)
	}
}

// WithMetrics enables Prometheus metrics on the default registerer.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSimpleLogger enables debug logging with a stderr console logger.
func WithSimpleLogger() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
		c.logger = NewSimpleLogger()
	}
}

// WithDebug enables debug logging with the default configuration.
func WithDebug() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
	}
}

// WithDebugConfig sets a custom debug configuration.
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		c.debug = config
	}
}

// WithRequestIDGenerator sets the function used to stamp request IDs onto
// errors and debug logs.
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.RequestIDGen = gen
	}
}

// ValidateConfiguration validates the merged configuration, returning a
// Validation-typed error listing every problem found.
func (c *Client) ValidateConfiguration() error {
	var problems []string

	problems = append(problems, c.validateRetryConfig()...)
	problems = append(problems, c.validateRateLimitConfig()...)
	problems = append(problems, c.validateCircuitBreakerConfig()...)
	problems = append(problems, c.validateMiddlewareConfig()...)
	problems = append(problems, c.validateHTTPClientConfig()...)
	problems = append(problems, c.validateDebugConfig()...)
	problems = append(problems, c.validateExtremeValues()...)

	if len(problems) > 0 {
		return &ClientError{
			Type:    ErrorTypeValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", problems),
		}
	}

	return nil
}

func (c *Client) validateRetryConfig() []string {
	var problems []string

	if c.retryConfig.MaxAttempts < 0 {
		problems = append(problems, "retry MaxAttempts must be non-negative")
	}
	if c.retryConfig.BaseDelay < 0 {
		problems = append(problems, "retry BaseDelay must be non-negative")
	}
	if c.retryConfig.MaxDelay != 0 && c.retryConfig.MaxDelay < c.retryConfig.BaseDelay {
		problems = append(problems, "retry MaxDelay must be greater than or equal to BaseDelay")
	}
	if c.retryConfig.Jitter < 0 || c.retryConfig.Jitter > 1 {
		problems = append(problems, "retry Jitter must be between 0 and 1")
	}
	for _, code := range c.retryConfig.RetryableStatusCodes {
		if code < 100 || code > 599 {
			problems = append(problems, fmt.Sprintf("retryable status code %d is not a valid HTTP status", code))
		}
	}

	return problems
}

func (c *Client) validateRateLimitConfig() []string {
	var problems []string

	if c.rateLimits != nil {
		if c.rateLimits.cfg.RequestsPerSecond <= 0 {
			problems = append(problems, "rate limit RequestsPerSecond must be positive")
		}
		if c.rateLimits.cfg.Burst <= 0 {
			problems = append(problems, "rate limit Burst must be positive")
		}
	}

	return problems
}

func (c *Client) validateCircuitBreakerConfig() []string {
	var problems []string

	if c.breakers == nil {
		problems = append(problems, "circuit breaker store cannot be nil")
		return problems
	}
	cfg := c.breakers.defaults
	if cfg.FailureThreshold <= 0 {
		problems = append(problems, "circuit breaker FailureThreshold must be positive")
	}
	if cfg.RecoveryTimeout <= 0 {
		problems = append(problems, "circuit breaker RecoveryTimeout must be positive")
	}
	if cfg.SuccessThreshold <= 0 {
		problems = append(problems, "circuit breaker SuccessThreshold must be positive")
	}
	if cfg.HalfOpenProbes <= 0 {
		problems = append(problems, "circuit breaker HalfOpenProbes must be positive")
	}

	return problems
}

func (c *Client) validateMiddlewareConfig() []string {
	var problems []string

	for i, middleware := range c.middleware {
		if middleware == nil {
			problems = append(problems, fmt.Sprintf("middleware[%d] cannot be nil", i))
		}
	}

	return problems
}

func (c *Client) validateHTTPClientConfig() []string {
	var problems []string

	if c.httpClient == nil {
		problems = append(problems, "HTTP client cannot be nil")
	} else if c.httpClient.Timeout < 0 {
		problems = append(problems, "HTTP client timeout must be non-negative")
	}

	return problems
}

func (c *Client) validateDebugConfig() []string {
	var problems []string

	if c.debug != nil && c.debug.Enabled && c.logger == nil {
		problems = append(problems, "logger must be set when debug is enabled")
	}

	return problems
}

func (c *Client) validateExtremeValues() []string {
	var problems []string

	if c.retryConfig.MaxAttempts > 100 {
		problems = append(problems, "retry MaxAttempts > 100 may cause excessive resource usage")
	}
	if c.retryConfig.BaseDelay > 10*time.Minute {
		problems = append(problems, "retry BaseDelay > 10m may cause very long delays")
	}
	if c.retryConfig.MaxDelay > time.Hour {
		problems = append(problems, "retry MaxDelay > 1h may cause extremely long delays")
	}
	if c.httpClient != nil && c.httpClient.Timeout > 10*time.Minute {
		problems = append(problems, "timeout > 10m may cause requests to hang for too long")
	}
	if c.rateLimits != nil && c.rateLimits.cfg.Burst > 1000000 {
		problems = append(problems, "rate limit Burst > 1M may cause memory issues")
	}

	return problems
}
