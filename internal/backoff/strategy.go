package backoff

import (
	"math/rand"
	"time"
)

// RandFunc supplies uniform random values in [0, 1). Injected so jitter is
// reproducible in tests.
type RandFunc func() float64

// Strategy defines the interface for backoff calculation algorithms.
type Strategy interface {
	// Calculate returns the backoff duration for the given failure count
	// and parameters. jitter selects the ±jitterFraction band around the
	// deterministic value.
	Calculate(failureCount int, initialDelay, maxDelay time.Duration, multiplier float64, jitter bool) time.Duration
}

// JitterFraction is the width of the uniform jitter band applied around
// the deterministic delay: the result stays within ±20% of it.
const JitterFraction = 0.2

// ExponentialStrategy implements capped exponential backoff with an
// optional uniform ±JitterFraction band. The deterministic value is
// min(initialDelay · multiplier^failureCount, maxDelay); results are
// truncated to whole milliseconds and floored at zero.
type ExponentialStrategy struct {
	// Rand supplies randomness for the jitter band; nil means math/rand.
	Rand RandFunc
}

// Calculate implements the Strategy interface.
func (s ExponentialStrategy) Calculate(failureCount int, initialDelay, maxDelay time.Duration, multiplier float64, jitter bool) time.Duration {
	if failureCount < 0 {
		failureCount = 0
	}

	// Prevent overflow by limiting the exponent
	if failureCount > 30 {
		failureCount = 30
	}

	delay := time.Duration(float64(initialDelay) * pow(multiplier, failureCount))
	if delay < 0 || delay > maxDelay {
		delay = maxDelay
	}

	delayMs := delay.Milliseconds()
	if jitter {
		random := s.Rand
		if random == nil {
			random = rand.Float64
		}
		// Uniform factor in [1-JitterFraction, 1+JitterFraction].
		factor := 1 + JitterFraction*(2*random()-1)
		delayMs = int64(float64(delayMs) * factor)
	}
	if delayMs < 0 {
		delayMs = 0
	}

	return time.Duration(delayMs) * time.Millisecond
}

// pow calculates base^exponent using integer exponentiation.
func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}

// Pow exposes pow for callers that pre-compute deterministic delays.
func Pow(base float64, exponent int) float64 {
	return pow(base, exponent)
}
