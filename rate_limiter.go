package relayhttp

import (
	"time"

	"go.uber.org/atomic"
)

// RateLimiter is a token bucket with continuous refill: one token is credited
// per refillInterval elapsed, capped at the burst capacity. Admission and
// refill are lock-free CAS loops; concurrent callers can never drive a bucket
// below zero or above its capacity, so a burst of N is admitted exactly N
// times within one refill interval.
type RateLimiter struct {
	maxTokens      int64
	refillInterval time.Duration
	tokens         atomic.Int64
	lastRefill     atomic.Int64 // unix nanos of the last credited refill
}

// NewRateLimiter creates a bucket holding burst tokens that refills one token
// per refillInterval.
func NewRateLimiter(burst int, refillInterval time.Duration) *RateLimiter {
	rl := &RateLimiter{
		maxTokens:      int64(burst),
		refillInterval: refillInterval,
	}
	rl.tokens.Store(int64(burst))
	rl.lastRefill.Store(time.Now().UnixNano())
	return rl
}

// newRateLimiterFromConfig derives the refill interval from a sustained
// requests-per-second rate.
func newRateLimiterFromConfig(cfg RateLimitConfig) *RateLimiter {
	interval := time.Second
	if cfg.RequestsPerSecond > 0 {
		interval = time.Duration(float64(time.Second) / cfg.RequestsPerSecond)
	}
	return NewRateLimiter(cfg.Burst, interval)
}

// Allow attempts to consume one token, reporting whether the request is
// admitted.
func (rl *RateLimiter) Allow() bool {
	rl.refill()
	return rl.consume()
}

// Tokens returns the currently available token count.
func (rl *RateLimiter) Tokens() int64 {
	rl.refill()
	return rl.tokens.Load()
}

// refill credits tokens for elapsed whole refill intervals. The CAS on
// lastRefill elects a single crediting caller per elapsed window, so two
// racing refills never credit the same interval twice; the winner then folds
// the credit into the token count with a CAS loop that preserves concurrent
// consumption.
func (rl *RateLimiter) refill() {
	if rl.refillInterval <= 0 {
		return
	}

	for {
		now := time.Now().UnixNano()
		last := rl.lastRefill.Load()
		elapsed := now - last
		credit := elapsed / int64(rl.refillInterval)
		if credit <= 0 {
			return
		}

		if !rl.lastRefill.CompareAndSwap(last, last+credit*int64(rl.refillInterval)) {
			continue
		}

		for {
			current := rl.tokens.Load()
			next := current + credit
			if next > rl.maxTokens {
				next = rl.maxTokens
			}
			if rl.tokens.CompareAndSwap(current, next) {
				return
			}
		}
	}
}

func (rl *RateLimiter) consume() bool {
	for {
		current := rl.tokens.Load()
		if current <= 0 {
			return false
		}
		if rl.tokens.CompareAndSwap(current, current-1) {
			return true
		}
	}
}
