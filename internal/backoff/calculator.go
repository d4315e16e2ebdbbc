package backoff

import (
	"time"
)

// Calculator provides backoff calculation using a configurable strategy.
// It centralizes delay math shared by the retry engine and the offline
// queue drain.
type Calculator struct {
	strategy Strategy
}

// NewCalculator creates a backoff calculator with the specified strategy.
func NewCalculator(strategy Strategy) *Calculator {
	return &Calculator{strategy: strategy}
}

// Calculate computes the delay for the given failure count and parameters.
func (c *Calculator) Calculate(failureCount int, initialDelay, maxDelay time.Duration, multiplier float64, jitter bool) time.Duration {
	return c.strategy.Calculate(failureCount, initialDelay, maxDelay, multiplier, jitter)
}

// Strategy returns the strategy in use.
func (c *Calculator) Strategy() Strategy {
	return c.strategy
}

// NewExponential returns a calculator using exponential backoff with the
// given randomness source (nil for math/rand).
func NewExponential(random RandFunc) *Calculator {
	return NewCalculator(ExponentialStrategy{Rand: random})
}
