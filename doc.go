// Package relayhttp provides a resilient HTTP request pipeline built from
// composable middleware:
//
//   - Telemetry (start / stop / exception events with durations)
//   - Rate limiting (token bucket, global or per-host buckets)
//   - Retries with exponential backoff + jitter and Retry-After support
//   - Circuit breaking with per-destination state (open / half-open / closed)
//
// Every outbound call flows through the same chain, outermost first:
// Telemetry → RateLimit → Retry → CircuitBreaker → transport. Rejections from
// the admission layers (rate limit, open circuit) short-circuit the chain and
// surface as tagged errors; they are terminal and never retried. Telemetry
// observes every outcome, including rejections.
//
// Design goals:
//   - Small surface area – functional options configure everything
//   - Tagged error values, never panics across the pipeline boundary
//   - Safe concurrent use of a single *Client instance
//   - Extensibility via user supplied middleware, event listeners and metrics
//
// Typical usage:
//
//	client := relayhttp.New(
//	    relayhttp.WithRetry(relayhttp.RetryConfig{MaxAttempts: 3}),
//	    relayhttp.WithRateLimit(relayhttp.RateLimitConfig{RequestsPerSecond: 10, Burst: 20, PerHost: true}),
//	    relayhttp.WithCircuitBreaker(relayhttp.CircuitBreakerConfig{}),
//	    relayhttp.WithMetrics(),
//	)
//	resp, err := client.Get(ctx, "https://esi.evetech.net/latest/status/")
//
// Circuit state is tracked per destination host, so one failing upstream never
// trips calls to a healthy one. The breaker store can be shared between
// clients with WithCircuitBreakerStore.
package relayhttp
