package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RateRule bounds one message type: at most MaxMessages per WindowMs, with
// a BlockMs penalty once the window is exceeded.
type RateRule struct {
	MaxMessages int   `yaml:"maxMessages"`
	WindowMs    int64 `yaml:"windowMs"`
	BlockMs     int64 `yaml:"blockMs"`
}

// Window returns the sliding window as a duration.
func (r RateRule) Window() time.Duration {
	return time.Duration(r.WindowMs) * time.Millisecond
}

// Block returns the penalty duration applied once the window overflows.
func (r RateRule) Block() time.Duration {
	return time.Duration(r.BlockMs) * time.Millisecond
}

// RateLimitConfig holds the per-message-type admission rules. Message types
// without a rule are unlimited.
type RateLimitConfig struct {
	CRDT      RateRule `yaml:"crdt"`
	Awareness RateRule `yaml:"awareness"`
}

// Config holds the full hub configuration.
type Config struct {
	ListenAddr     string `yaml:"listenAddr"`
	RedisAddr      string `yaml:"redisAddr"`
	RedisPassword  string `yaml:"redisPassword"`
	DataGatewayURL string `yaml:"dataGatewayUrl"`
	JWTSecret      string `yaml:"jwtSecret"`

	RateLimit RateLimitConfig `yaml:"rateLimit"`

	SessionTTLSec    int   `yaml:"sessionTtlSec"`
	CacheTTLSec      int   `yaml:"cacheTtlSec"`
	QueueMaxAttempts int   `yaml:"queueMaxAttempts"`
	QueueBackoffMs   int64 `yaml:"queueBackoffMs"`
	QueueTickMs      int64 `yaml:"queueTickMs"`
	JobTimeoutMs     int64 `yaml:"jobTimeoutMs"`
	StaleSweepMs     int64 `yaml:"staleSweepMs"`
	LimiterGCMs      int64 `yaml:"limiterGcMs"`

	LogLevel string `yaml:"logLevel"`
	LogJSON  bool   `yaml:"logJson"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		ListenAddr: "127.0.0.1:8080",
		RedisAddr:  "127.0.0.1:6379",
		RateLimit: RateLimitConfig{
			CRDT:      RateRule{MaxMessages: 50, WindowMs: 1000, BlockMs: 5000},
			Awareness: RateRule{MaxMessages: 30, WindowMs: 1000, BlockMs: 3000},
		},
		SessionTTLSec:    300,
		CacheTTLSec:      3600,
		QueueMaxAttempts: 3,
		QueueBackoffMs:   5000,
		QueueTickMs:      1000,
		JobTimeoutMs:     30000,
		StaleSweepMs:     600000,
		LimiterGCMs:      300000,
		LogLevel:         "info",
	}
}

// Load reads a YAML config file over the defaults and validates the result.
// An empty path returns validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the process must refuse to start with.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listenAddr must not be empty")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("redisAddr must not be empty")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("jwtSecret must not be empty")
	}
	if c.SessionTTLSec <= 0 {
		return fmt.Errorf("sessionTtlSec must be positive, got %d", c.SessionTTLSec)
	}
	if c.CacheTTLSec <= 0 {
		return fmt.Errorf("cacheTtlSec must be positive, got %d", c.CacheTTLSec)
	}
	if c.QueueMaxAttempts <= 0 {
		return fmt.Errorf("queueMaxAttempts must be positive, got %d", c.QueueMaxAttempts)
	}
	if c.QueueTickMs <= 0 {
		return fmt.Errorf("queueTickMs must be positive, got %d", c.QueueTickMs)
	}
	if c.JobTimeoutMs <= 0 {
		return fmt.Errorf("jobTimeoutMs must be positive, got %d", c.JobTimeoutMs)
	}
	for name, rule := range map[string]RateRule{"crdt": c.RateLimit.CRDT, "awareness": c.RateLimit.Awareness} {
		if rule.MaxMessages <= 0 || rule.WindowMs <= 0 {
			return fmt.Errorf("rateLimit.%s must have positive maxMessages and windowMs", name)
		}
	}
	return nil
}

// SessionTTL returns the session TTL as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSec) * time.Second
}

// CacheTTL returns the content cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSec) * time.Second
}
