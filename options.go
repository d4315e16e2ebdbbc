package tangguh

import (
	"fmt"
	"strings"
	"time"
)

// Option represents a configuration option for New.
type Option func(*Client)

// WithStorage sets the durable Storage backing the offline queue and the
// critical cache snapshot. Defaults to in-memory storage.
func WithStorage(storage Storage) Option {
	return func(c *Client) {
		if storage != nil {
			c.storage = storage
		}
	}
}

// WithConnectivitySource attaches the platform connectivity observer.
// Without one the client assumes it is always online.
func WithConnectivitySource(source ConnectivitySource) Option {
	return func(c *Client) {
		c.connectivity = source
	}
}

// WithCleanupConfig overrides the cache bounds.
func WithCleanupConfig(config CleanupConfig) Option {
	return func(c *Client) {
		c.cleanupConfig = config
	}
}

// WithReadRetry overrides the retry preset for queries.
func WithReadRetry(config RetryConfig) Option {
	return func(c *Client) {
		c.readRetry = config
	}
}

// WithWriteRetry overrides the retry preset for mutations.
func WithWriteRetry(config RetryConfig) Option {
	return func(c *Client) {
		c.writeRetry = config
	}
}

// WithBreakerConfig overrides the per-endpoint circuit breaker settings.
func WithBreakerConfig(config BreakerConfig) Option {
	return func(c *Client) {
		c.breakerConfig = config
	}
}

// WithDedupWindow overrides the request de-duplication window.
func WithDedupWindow(window time.Duration) Option {
	return func(c *Client) {
		c.dedupWindow = window
	}
}

// WithQueueLimit overrides the offline queue cap.
func WithQueueLimit(limit int) Option {
	return func(c *Client) {
		c.queueLimit = limit
	}
}

// WithQueueMaxRetries overrides the per-item delivery retry bound.
func WithQueueMaxRetries(maxRetries int) Option {
	return func(c *Client) {
		c.queueMaxRetries = maxRetries
	}
}

// WithStaleAfter overrides the default staleness bound for reads.
func WithStaleAfter(staleAfter time.Duration) Option {
	return func(c *Client) {
		c.staleAfter = staleAfter
	}
}

// WithAutoCleanup schedules background cache cleanup on Start.
func WithAutoCleanup(interval time.Duration) Option {
	return func(c *Client) {
		if interval <= 0 {
			interval = DefaultAutoCleanupInterval
		}
		c.autoCleanupInterval = interval
	}
}

// WithRandFunc injects the randomness source used for retry jitter, so
// tests get reproducible delays.
func WithRandFunc(random RandFunc) Option {
	return func(c *Client) {
		c.random = random
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSimpleLogger enables the console logger.
func WithSimpleLogger() Option {
	return func(c *Client) {
		c.logger = NewSimpleLogger()
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

// WithConfig applies a loaded configuration file on top of the defaults.
func WithConfig(config *Config) Option {
	return func(c *Client) {
		if config == nil {
			return
		}
		config.apply(c)
	}
}

// ValidateConfiguration validates the client configuration and returns an
// aggregate error if invalid.
func (c *Client) ValidateConfiguration() error {
	var problems []string

	problems = append(problems, validateRetryConfig("read", c.readRetry)...)
	problems = append(problems, validateRetryConfig("write", c.writeRetry)...)
	problems = append(problems, c.validateCleanupConfig()...)
	problems = append(problems, c.validateQueueConfig()...)
	problems = append(problems, c.validateBreakerConfig()...)

	if c.transport == nil {
		problems = append(problems, "transport cannot be nil")
	}
	if c.dedupWindow < 0 {
		problems = append(problems, "dedup window must be non-negative")
	}

	if len(problems) > 0 {
		return NewError(KindValidation, "configuration validation failed",
			fmt.Errorf("validation errors: %s", strings.Join(problems, "; ")))
	}
	return nil
}

func validateRetryConfig(name string, cfg RetryConfig) []string {
	var problems []string

	if cfg.MaxRetries < 0 {
		problems = append(problems, name+" maxRetries must be non-negative")
	}
	if cfg.InitialDelay <= 0 {
		problems = append(problems, name+" initialDelay must be positive")
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		problems = append(problems, name+" maxDelay must be greater than or equal to initialDelay")
	}
	if cfg.Multiplier <= 0 {
		problems = append(problems, name+" multiplier must be positive")
	}
	if cfg.MaxRetries > 100 {
		problems = append(problems, name+" maxRetries > 100 may cause excessive resource usage")
	}

	return problems
}

func (c *Client) validateCleanupConfig() []string {
	var problems []string

	cfg := c.cleanupConfig
	if cfg.MaxAgeNonCritical < 0 {
		problems = append(problems, "maxAgeNonCritical must be non-negative")
	}
	if cfg.MaxAgeCritical < 0 {
		problems = append(problems, "maxAgeCritical must be non-negative")
	}
	if cfg.MaxAgeCritical > 0 && cfg.MaxAgeNonCritical > cfg.MaxAgeCritical {
		problems = append(problems, "maxAgeNonCritical must not exceed maxAgeCritical")
	}
	if cfg.MaxQueries < 0 {
		problems = append(problems, "maxQueries must be non-negative")
	}
	if cfg.SizeLimitBytes < 0 {
		problems = append(problems, "sizeLimitBytes must be non-negative")
	}

	return problems
}

func (c *Client) validateQueueConfig() []string {
	var problems []string

	if c.queueLimit <= 0 {
		problems = append(problems, "queue limit must be positive")
	}
	if c.queueMaxRetries < 0 {
		problems = append(problems, "queue maxRetries must be non-negative")
	}

	return problems
}

func (c *Client) validateBreakerConfig() []string {
	var problems []string

	if c.breakerConfig.FailureThreshold < 0 {
		problems = append(problems, "breaker failureThreshold must be non-negative")
	}
	if c.breakerConfig.OpenTimeout < 0 {
		problems = append(problems, "breaker openTimeout must be non-negative")
	}

	return problems
}
