package backoff

import (
	"math/rand"
	"time"
)

// Strategy is a backoff delay calculation algorithm.
type Strategy interface {
	// Calculate returns the delay before the next attempt. attempt is
	// zero-based: attempt 0 is the delay after the first failure.
	Calculate(attempt int, baseDelay, maxDelay time.Duration, multiplier, jitter float64) time.Duration
}

// ExponentialJitterStrategy implements exponential backoff with uniform
// jitter: base * multiplier^attempt, plus a random fraction of the result,
// capped at maxDelay.
type ExponentialJitterStrategy struct{}

// Calculate implements Strategy.
func (s ExponentialJitterStrategy) Calculate(attempt int, baseDelay, maxDelay time.Duration, multiplier, jitter float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Limit the exponent so the float math cannot overflow.
	if attempt > 30 {
		attempt = 30
	}

	delay := time.Duration(float64(baseDelay) * Pow(multiplier, attempt))
	if delay < 0 || delay > maxDelay {
		delay = maxDelay
	}

	jitter = clampJitter(jitter)
	if jitter > 0 {
		amount := time.Duration(float64(delay) * jitter * rand.Float64())
		if delay+amount > maxDelay {
			delay = maxDelay
		} else {
			delay += amount
		}
	}
	return delay
}

// DecorrelatedJitterStrategy implements decorrelated jitter per the AWS
// architecture blog: each delay is drawn uniformly between the base and three
// times the previous upper bound, which spreads synchronized retries better
// than exponential jitter.
type DecorrelatedJitterStrategy struct{}

// Calculate implements Strategy. The stateless form draws from
// [base, min(cap, base*3^attempt)].
func (s DecorrelatedJitterStrategy) Calculate(attempt int, baseDelay, maxDelay time.Duration, multiplier, jitter float64) time.Duration {
	if attempt <= 0 {
		return baseDelay
	}
	if attempt > 10 {
		attempt = 10
	}

	base := float64(baseDelay)
	upper := base * Pow(3.0, attempt)

	maxFloat := float64(maxDelay)
	if upper > maxFloat || upper < 0 {
		upper = maxFloat
	}
	if upper < base {
		upper = base
	}

	delay := time.Duration(base + rand.Float64()*(upper-base))
	if delay < 0 || delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

// Pow is integer exponentiation for float64 bases, avoiding math.Pow on the
// hot retry path.
func Pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
