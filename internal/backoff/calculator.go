package backoff

import (
	"time"
)

// Calculator computes backoff delays using a pluggable Strategy. It keeps the
// delay math in one place for the retry policy and its tests.
type Calculator struct {
	strategy Strategy
}

// NewCalculator creates a calculator with the given strategy.
func NewCalculator(strategy Strategy) *Calculator {
	return &Calculator{strategy: strategy}
}

// Calculate computes the delay for the given zero-based attempt.
func (c *Calculator) Calculate(attempt int, baseDelay, maxDelay time.Duration, multiplier, jitter float64) time.Duration {
	return c.strategy.Calculate(attempt, baseDelay, maxDelay, multiplier, jitter)
}

// Strategy returns the strategy in use.
func (c *Calculator) Strategy() Strategy {
	return c.strategy
}

// NewExponentialJitterCalculator returns a calculator using exponential
// backoff with uniform jitter, the default retry behavior.
func NewExponentialJitterCalculator() *Calculator {
	return NewCalculator(ExponentialJitterStrategy{})
}

// NewDecorrelatedJitterCalculator returns a calculator using AWS-style
// decorrelated jitter.
func NewDecorrelatedJitterCalculator() *Calculator {
	return NewCalculator(DecorrelatedJitterStrategy{})
}
