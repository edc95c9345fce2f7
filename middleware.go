package relayhttp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"
)

// NewRateLimitMiddleware returns the admission stage consuming one token per
// request from the registry's bucket for the request's key. Exhausted buckets
// short-circuit with an ErrorTypeRateLimit error; the rest of the chain and
// the transport are never invoked. A nil registry passes everything through.
func NewRateLimitMiddleware(limits *RateLimiterRegistry) Middleware {
	return func(req *http.Request, next RoundTripper) (*http.Response, error) {
		if limits == nil {
			return next.RoundTrip(req)
		}
		ok, key := limits.Allow(req)
		if !ok {
			return nil, newPipelineError(ErrorTypeRateLimit, "rate limit exceeded for bucket "+key, nil, req)
		}
		return next.RoundTrip(req)
	}
}

// NewRetryMiddleware returns the retry stage. It re-invokes the remainder of
// the chain while the policy says the outcome is transient, sleeping the
// policy's delay between attempts. The sleep suspends only this call; it
// watches the request context so cancellation cuts a backoff short. A
// successful retried call is indistinguishable from a first-try success.
//
// budget, when non-nil, is consulted before every retry; onRetry, when
// non-nil, is invoked before each backoff sleep.
func NewRetryMiddleware(policy RetryPolicy, budget *RetryBudget, onRetry RetryHook) Middleware {
	return func(req *http.Request, next RoundTripper) (*http.Response, error) {
		for attempt := 1; ; attempt++ {
			resp, err := next.RoundTrip(req)

			delay, retry := policy.ShouldRetry(resp, err, attempt)
			if !retry {
				return resp, err
			}

			// A consumed body without GetBody cannot be replayed.
			if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
				return resp, err
			}

			if budget != nil && !budget.Allow() {
				drainBody(resp)
				return nil, newPipelineError(ErrorTypeRetryBudgetExceeded, "retry budget exceeded", err, req)
			}

			drainBody(resp)

			if onRetry != nil {
				onRetry(req, attempt, delay)
			}

			if err := sleepContext(req.Context(), delay); err != nil {
				return nil, err
			}

			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, newPipelineError(ErrorTypeNetwork, "rewinding request body for retry", err, req)
				}
				req.Body = body
			}
		}
	}
}

// NewCircuitBreakerMiddleware returns the circuit breaking stage. The
// destination key is the request host. An inadmissible key short-circuits
// with an ErrorTypeCircuitOpen error before the transport is reached. After
// the call, 5xx responses and connection-level errors record a failure; any
// well-formed response below 500 records a success, since a 4xx proves the
// destination is healthy enough to answer. Cancellation by the caller records
// nothing. A nil store passes everything through.
func NewCircuitBreakerMiddleware(store *BreakerStore) Middleware {
	return func(req *http.Request, next RoundTripper) (*http.Response, error) {
		if store == nil {
			return next.RoundTrip(req)
		}

		key := hostFromRequest(req)
		if !store.CanExecute(key) {
			return nil, newPipelineError(ErrorTypeCircuitOpen, "circuit open for "+key, nil, req)
		}

		resp, err := next.RoundTrip(req)
		switch {
		case err != nil:
			if !errors.Is(err, context.Canceled) {
				store.RecordFailure(key)
			}
		case resp.StatusCode >= http.StatusInternalServerError:
			store.RecordFailure(key)
		default:
			store.RecordSuccess(key)
		}
		return resp, err
	}
}

// drainBody discards and closes a response body so the attempt's connection
// can be reused before the next one.
func drainBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()
}

// sleepContext sleeps for d unless the context ends first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
