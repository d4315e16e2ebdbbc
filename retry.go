package tangguh

import (
	"time"

	"github.com/ambiyansyah-risyal/tangguh/internal/backoff"
)

// RandFunc supplies uniform random values in [0, 1) for jitter. Inject a
// fixed source in tests to make delays reproducible.
type RandFunc = backoff.RandFunc

// RetryConfig drives the retry engine for one call site. Immutable; pick a
// preset or build your own.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool

	// ShouldRetry overrides the default kind-based decision when non-nil.
	// The failure count cap always applies first. An auth collaborator can
	// use this to allow one extra attempt on a 401 after refreshing tokens.
	ShouldRetry func(failureCount int, err error) bool
}

// ReadRetryConfig is the preset for queries: three retries with standard
// exponential backoff.
func ReadRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// WriteRetryConfig is the preset for mutations: a single cautious retry,
// and only for transport-level or server failures.
func WriteRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   1,
		InitialDelay: 2 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// NetworkRetryConfig is the aggressive preset for failures already known
// to be connectivity blips: short delays, two retries.
func NetworkRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   2,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// ServerRetryConfig is the preset for 5xx failures: the service may be
// recovering, so the first delay is longer.
func ServerRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 3 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// CriticalRetryConfig is the preset for operations that must not fail
// silently (auth, permissions): five retries with a wide cap.
func CriticalRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   5,
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// RetryConfigForKind returns the preset matching an error kind.
func RetryConfigForKind(kind ErrorKind) RetryConfig {
	switch kind {
	case KindNetwork, KindTimeout:
		return NetworkRetryConfig()
	case KindServer:
		return ServerRetryConfig()
	default:
		return WriteRetryConfig()
	}
}

// ShouldRetry decides whether another attempt is allowed after
// failureCount failures. The cap applies first; then the config's custom
// predicate, if any; otherwise only Network, Timeout and Server kinds
// retry.
func ShouldRetry(failureCount int, err error, cfg RetryConfig) bool {
	if failureCount >= cfg.MaxRetries {
		return false
	}
	if cfg.ShouldRetry != nil {
		return cfg.ShouldRetry(failureCount, err)
	}
	return IsRetryableKind(KindOf(err))
}

// RetryDelay computes the backoff before the next attempt:
// min(InitialDelay · Multiplier^failureCount, MaxDelay), with an optional
// uniform ±20% jitter band, floored at zero and truncated to whole
// milliseconds. Uses the package-default randomness source.
func RetryDelay(failureCount int, cfg RetryConfig) time.Duration {
	return RetryDelayWith(failureCount, cfg, nil)
}

// RetryDelayWith is RetryDelay with an explicit randomness source so tests
// can pin jitter.
func RetryDelayWith(failureCount int, cfg RetryConfig, random RandFunc) time.Duration {
	calc := backoff.NewExponential(random)
	return calc.Calculate(failureCount, cfg.InitialDelay, cfg.MaxDelay, cfg.Multiplier, cfg.Jitter)
}
