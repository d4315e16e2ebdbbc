package tangguh

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for YAML fields in "1h30m" form.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// RetrySettings is the file form of a RetryConfig.
type RetrySettings struct {
	MaxRetries   int      `yaml:"maxRetries"`
	InitialDelay Duration `yaml:"initialDelay"`
	MaxDelay     Duration `yaml:"maxDelay"`
	Multiplier   float64  `yaml:"multiplier"`
	Jitter       bool     `yaml:"jitter"`
}

func (s RetrySettings) toConfig(base RetryConfig) RetryConfig {
	cfg := base
	if s.MaxRetries > 0 {
		cfg.MaxRetries = s.MaxRetries
	}
	if s.InitialDelay > 0 {
		cfg.InitialDelay = time.Duration(s.InitialDelay)
	}
	if s.MaxDelay > 0 {
		cfg.MaxDelay = time.Duration(s.MaxDelay)
	}
	if s.Multiplier > 0 {
		cfg.Multiplier = s.Multiplier
	}
	cfg.Jitter = s.Jitter
	return cfg
}

// Config is the YAML file form of the client settings. Zero fields keep
// their defaults.
type Config struct {
	Cache struct {
		MaxAgeNonCritical   Duration `yaml:"maxAgeNonCritical"`
		MaxAgeCritical      Duration `yaml:"maxAgeCritical"`
		MaxQueries          int      `yaml:"maxQueries"`
		SizeLimitBytes      int64    `yaml:"sizeLimitBytes"`
		StaleAfter          Duration `yaml:"staleAfter"`
		AutoCleanupInterval Duration `yaml:"autoCleanupInterval"`
	} `yaml:"cache"`

	Retry struct {
		Read  *RetrySettings `yaml:"read"`
		Write *RetrySettings `yaml:"write"`
	} `yaml:"retry"`

	Breaker struct {
		FailureThreshold int      `yaml:"failureThreshold"`
		OpenTimeout      Duration `yaml:"openTimeout"`
	} `yaml:"breaker"`

	Queue struct {
		Limit      int `yaml:"limit"`
		MaxRetries int `yaml:"maxRetries"`
	} `yaml:"queue"`

	Dedup struct {
		Window Duration `yaml:"window"`
	} `yaml:"dedup"`
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects values New's validation would also refuse, so config
// file errors surface at load time.
func (c *Config) Validate() error {
	if c.Cache.MaxQueries < 0 {
		return fmt.Errorf("cache.maxQueries must be non-negative")
	}
	if c.Cache.SizeLimitBytes < 0 {
		return fmt.Errorf("cache.sizeLimitBytes must be non-negative")
	}
	if c.Queue.Limit < 0 {
		return fmt.Errorf("queue.limit must be non-negative")
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("queue.maxRetries must be non-negative")
	}
	if c.Breaker.FailureThreshold < 0 {
		return fmt.Errorf("breaker.failureThreshold must be non-negative")
	}
	return nil
}

// apply copies the file settings onto a client under construction.
func (c *Config) apply(client *Client) {
	if c.Cache.MaxAgeNonCritical > 0 {
		client.cleanupConfig.MaxAgeNonCritical = time.Duration(c.Cache.MaxAgeNonCritical)
	}
	if c.Cache.MaxAgeCritical > 0 {
		client.cleanupConfig.MaxAgeCritical = time.Duration(c.Cache.MaxAgeCritical)
	}
	if c.Cache.MaxQueries > 0 {
		client.cleanupConfig.MaxQueries = c.Cache.MaxQueries
	}
	if c.Cache.SizeLimitBytes > 0 {
		client.cleanupConfig.SizeLimitBytes = c.Cache.SizeLimitBytes
	}
	if c.Cache.StaleAfter > 0 {
		client.staleAfter = time.Duration(c.Cache.StaleAfter)
	}
	if c.Cache.AutoCleanupInterval > 0 {
		client.autoCleanupInterval = time.Duration(c.Cache.AutoCleanupInterval)
	}

	if c.Retry.Read != nil {
		client.readRetry = c.Retry.Read.toConfig(ReadRetryConfig())
	}
	if c.Retry.Write != nil {
		client.writeRetry = c.Retry.Write.toConfig(WriteRetryConfig())
	}

	if c.Breaker.FailureThreshold > 0 {
		client.breakerConfig.FailureThreshold = c.Breaker.FailureThreshold
	}
	if c.Breaker.OpenTimeout > 0 {
		client.breakerConfig.OpenTimeout = time.Duration(c.Breaker.OpenTimeout)
	}

	if c.Queue.Limit > 0 {
		client.queueLimit = c.Queue.Limit
	}
	if c.Queue.MaxRetries > 0 {
		client.queueMaxRetries = c.Queue.MaxRetries
	}

	if c.Dedup.Window > 0 {
		client.dedupWindow = time.Duration(c.Dedup.Window)
	}
}
