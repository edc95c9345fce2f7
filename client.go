package relayhttp

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Client executes HTTP requests through the resilient middleware pipeline:
// telemetry, rate limiting, retries and per-destination circuit breaking
// around a standard net/http transport. It is safe for concurrent use; every
// failure surfaces as a tagged error value, never a panic.
type Client struct {
	httpClient  *http.Client
	retryConfig RetryConfig
	retryPolicy RetryPolicy
	retryBudget *RetryBudget
	rateLimits  *RateLimiterRegistry
	breakers    *BreakerStore
	middleware  []Middleware
	listeners   []EventListener
	metrics     *MetricsCollector
	logger      Logger
	debug       *DebugConfig

	breakerOverrides []breakerOverride

	chain           RoundTripper
	validationError error
}

// breakerOverride is a per-destination policy staged by WithCircuitBreakerFor
// and applied once the option fold has settled on a store.
type breakerOverride struct {
	key string
	cfg CircuitBreakerConfig
}

// New constructs a Client from the provided functional options. Configuration
// is merged and validated once here; call IsValid / ValidationError for the
// result. The circuit breaker store is always present so per-destination
// health is tracked even with an otherwise default client.
func New(options ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retryConfig: RetryConfig{},
		retryPolicy: nil, // built from retryConfig unless supplied
		retryBudget: nil,
		rateLimits:  nil, // pass-through unless configured
		breakers:    NewBreakerStore(CircuitBreakerConfig{}),
		middleware:  []Middleware{},
		listeners:   nil,
		metrics:     nil,
		logger:      nil,
		debug:       DefaultDebugConfig(),
	}

	for _, option := range options {
		option(client)
	}

	for _, override := range client.breakerOverrides {
		client.breakers.Configure(override.key, override.cfg)
	}

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	client.chain = client.buildChain(client.defaultRetryPolicy())

	return client
}

// Execute performs a single call through the pipeline: the caller supplies
// method, url, headers and body; the result is the response or a tagged
// error. Non-2xx responses are returned, not converted to errors; status
// interpretation belongs to the caller.
func (c *Client) Execute(ctx context.Context, method, url string, headers http.Header, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, newPipelineError(ErrorTypeValidation, "building request", err, nil)
	}
	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	return c.Do(req)
}

// Get performs an HTTP GET with context.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Post performs an HTTP POST with the given content type.
func (c *Client) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return c.Do(req)
}

// Do executes a prepared *http.Request through the middleware chain.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.validationError != nil {
		return nil, c.validationError
	}

	host := hostFromRequest(req)

	chain := c.chain
	if override := RequestConfigFromContext(req.Context()); override != nil && override.Retry != nil {
		chain = c.buildChain(NewDefaultRetryPolicy(*override.Retry))
	}

	resp, err := chain.RoundTrip(req)

	if c.metrics != nil {
		c.metrics.RecordCircuitBreakerState(host, c.breakers.State(host).State)
		if c.rateLimits != nil {
			key := c.rateLimits.BucketKey(req)
			c.metrics.RecordRateLimiterTokens(key, c.rateLimits.Tokens(key))
		}
		if errors.Is(err, ErrRetryBudgetExceeded) {
			c.metrics.RecordRetryBudgetExceeded(endpointFromRequest(req))
		}
	}

	if err != nil {
		return nil, c.wrapError(err, req)
	}
	return resp, nil
}

// buildChain folds the configured stages around the transport, outermost
// first: telemetry, user middleware, rate limit, retry, circuit breaker.
// Admission layers sit outside the breaker stage's outcome recording but
// inside telemetry, so denials are observed without polluting circuit health;
// retry wraps the breaker so each attempt re-checks admission.
func (c *Client) buildChain(policy RetryPolicy) RoundTripper {
	transport := RoundTripperFunc(c.httpClient.Do)

	stages := make([]Middleware, 0, len(c.middleware)+4)
	if listeners := c.telemetryListeners(); len(listeners) > 0 {
		stages = append(stages, NewTelemetryMiddleware(listeners...))
	}
	stages = append(stages, c.middleware...)
	if mw := c.denialLogger(); mw != nil {
		stages = append(stages, mw)
	}
	stages = append(stages, NewRateLimitMiddleware(c.rateLimits))
	stages = append(stages, NewRetryMiddleware(policy, c.retryBudget, c.onRetry))
	stages = append(stages, NewCircuitBreakerMiddleware(c.breakers))

	return Chain(transport, stages...)
}

func (c *Client) telemetryListeners() []EventListener {
	listeners := make([]EventListener, 0, len(c.listeners)+2)
	if c.metrics != nil {
		listeners = append(listeners, c.metrics)
	}
	if c.debug != nil && c.debug.Enabled && c.debug.LogRequests && c.logger != nil {
		listeners = append(listeners, logListener{logger: c.logger})
	}
	return append(listeners, c.listeners...)
}

// denialLogger returns a stage mirroring admission denials to the logger,
// gated per concern by the debug flags. Nil when nothing would be logged.
func (c *Client) denialLogger() Middleware {
	if c.debug == nil || !c.debug.Enabled || c.logger == nil {
		return nil
	}
	if !c.debug.LogRateLimit && !c.debug.LogCircuit {
		return nil
	}
	return func(req *http.Request, next RoundTripper) (*http.Response, error) {
		resp, err := next.RoundTrip(req)
		switch {
		case c.debug.LogRateLimit && errors.Is(err, ErrRateLimited):
			c.logger.Debug("rate limit denial", "method", req.Method, "endpoint", endpointFromRequest(req))
		case c.debug.LogCircuit && errors.Is(err, ErrCircuitOpen):
			c.logger.Warn("circuit open denial", "method", req.Method, "endpoint", endpointFromRequest(req))
		}
		return resp, err
	}
}

func (c *Client) defaultRetryPolicy() RetryPolicy {
	if c.retryPolicy != nil {
		return c.retryPolicy
	}
	return NewDefaultRetryPolicy(c.retryConfig)
}

// onRetry is the hook the retry stage calls before each backoff sleep.
func (c *Client) onRetry(req *http.Request, attempt int, delay time.Duration) {
	endpoint := endpointFromRequest(req)
	c.metrics.RecordRetry(req.Method, endpoint, attempt)
	if c.debug != nil && c.debug.Enabled && c.debug.LogRetries && c.logger != nil {
		c.logger.Info("scheduling retry", "method", req.Method, "endpoint", endpoint, "attempt", attempt, "backoff", delay)
	}
}

// wrapError guarantees the caller always receives a tagged *ClientError.
func (c *Client) wrapError(err error, req *http.Request) error {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		if clientErr.RequestID == "" {
			clientErr.RequestID = c.requestID()
		}
		return clientErr
	}

	errType := ErrorTypeNetwork
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		errType = ErrorTypeTimeout
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			errType = ErrorTypeTimeout
		}
	}

	wrapped := newPipelineError(errType, "request failed", err, req)
	wrapped.RequestID = c.requestID()
	return wrapped
}

func (c *Client) requestID() string {
	if c.debug != nil && c.debug.Enabled && c.debug.RequestIDGen != nil {
		return c.debug.RequestIDGen()
	}
	return ""
}

// ResetCircuit returns one destination's circuit to a fresh closed state.
func (c *Client) ResetCircuit(key string) {
	c.breakers.Reset(key)
}

// ClearAllCircuits drops every destination's circuit record.
func (c *Client) ClearAllCircuits() {
	c.breakers.ClearAll()
}

// CircuitStats snapshots circuit health for every tracked destination. O(n);
// intended for dashboards and tests, not the request path.
func (c *Client) CircuitStats() map[string]CircuitInfo {
	return c.breakers.Stats()
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

// hostFromRequest derives the destination key circuit and per-host rate
// limit state is tracked under.
func hostFromRequest(req *http.Request) string {
	if req.URL != nil && req.URL.Host != "" {
		return req.URL.Host
	}
	if req.Host != "" {
		return req.Host
	}
	return "unknown"
}

// endpointFromRequest extracts a host+path endpoint tag for telemetry.
func endpointFromRequest(req *http.Request) string {
	if req.URL == nil {
		return "unknown"
	}

	var builder strings.Builder
	builder.WriteString(req.URL.Host)
	if path := req.URL.Path; path != "" && path != "/" {
		builder.WriteString(path)
	} else {
		builder.WriteByte('/')
	}
	return builder.String()
}
