package session

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Timeout and retry defaults.
const (
	// DefaultConnectTimeout bounds opening the BLE connection.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultHandshakeTimeout bounds the whole handshake, all steps included.
	DefaultHandshakeTimeout = 15 * time.Second

	// DefaultStepTimeout bounds each individual handshake step.
	DefaultStepTimeout = 5 * time.Second

	// DefaultScanTimeout bounds a BLE scan triggered by a cache miss.
	DefaultScanTimeout = 10 * time.Second

	// DefaultMaxAttempts is how many times a session is attempted before
	// the retryable failure is surfaced.
	DefaultMaxAttempts = 3
)

// BackoffConfig tunes the delay between session retry attempts.
type BackoffConfig struct {
	// Initial is the first retry delay.
	Initial time.Duration `yaml:"initial"`

	// Max caps the retry delay.
	Max time.Duration `yaml:"max"`

	// Multiplier is the factor by which the delay grows per attempt.
	Multiplier float64 `yaml:"multiplier"`

	// Jitter is the maximum random extra delay as a fraction of the base.
	Jitter float64 `yaml:"jitter"`
}

// BreakerConfig tunes the per-tile circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive session failures before
	// the tile's circuit opens.
	MaxFailures uint32 `yaml:"max_failures"`

	// Timeout is how long the circuit stays open before allowing a probe.
	Timeout time.Duration `yaml:"timeout"`

	// Interval is the cyclic period of the closed state for clearing
	// failure counts. Zero means failures only reset when the circuit opens.
	Interval time.Duration `yaml:"interval"`
}

// Config holds the orchestrator's timeouts and retry bounds.
type Config struct {
	// ConnectTimeout bounds opening the BLE connection.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// HandshakeTimeout bounds the whole handshake.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// StepTimeout bounds each handshake step.
	StepTimeout time.Duration `yaml:"step_timeout"`

	// ScanTimeout bounds scans triggered by a discovery cache miss.
	ScanTimeout time.Duration `yaml:"scan_timeout"`

	// MaxAttempts bounds session attempts per command for retryable
	// failures. Non-retryable failures are never reattempted.
	MaxAttempts int `yaml:"max_attempts"`

	// Backoff tunes the delay between attempts.
	Backoff BackoffConfig `yaml:"backoff"`

	// Breaker tunes the per-tile circuit breaker.
	Breaker BreakerConfig `yaml:"breaker"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:   DefaultConnectTimeout,
		HandshakeTimeout: DefaultHandshakeTimeout,
		StepTimeout:      DefaultStepTimeout,
		ScanTimeout:      DefaultScanTimeout,
		MaxAttempts:      DefaultMaxAttempts,
		Backoff: BackoffConfig{
			Initial:    InitialBackoff,
			Max:        MaxBackoff,
			Multiplier: BackoffMultiplier,
			Jitter:     JitterFactor,
		},
		Breaker: BreakerConfig{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			Interval:    60 * time.Second,
		},
	}
}

// LoadConfig reads a YAML config file. Missing fields keep their defaults;
// a missing file returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// yamlDuration accepts Go duration strings ("10s", "250ms") as well as bare
// nanosecond integers. yaml.v3 has no native time.Duration support.
type yamlDuration time.Duration

func (d *yamlDuration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = yamlDuration(parsed)
		return nil
	}
	var n int64
	if err := node.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration %q", node.Value)
	}
	*d = yamlDuration(n)
	return nil
}

// UnmarshalYAML merges the file's values over whatever the receiver already
// holds, so fields absent from the file keep their defaults.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		ConnectTimeout   yamlDuration `yaml:"connect_timeout"`
		HandshakeTimeout yamlDuration `yaml:"handshake_timeout"`
		StepTimeout      yamlDuration `yaml:"step_timeout"`
		ScanTimeout      yamlDuration `yaml:"scan_timeout"`
		MaxAttempts      int          `yaml:"max_attempts"`

		Backoff struct {
			Initial    yamlDuration `yaml:"initial"`
			Max        yamlDuration `yaml:"max"`
			Multiplier float64      `yaml:"multiplier"`
			Jitter     *float64     `yaml:"jitter"`
		} `yaml:"backoff"`

		Breaker struct {
			MaxFailures uint32        `yaml:"max_failures"`
			Timeout     yamlDuration  `yaml:"timeout"`
			Interval    *yamlDuration `yaml:"interval"`
		} `yaml:"breaker"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	if raw.ConnectTimeout != 0 {
		c.ConnectTimeout = time.Duration(raw.ConnectTimeout)
	}
	if raw.HandshakeTimeout != 0 {
		c.HandshakeTimeout = time.Duration(raw.HandshakeTimeout)
	}
	if raw.StepTimeout != 0 {
		c.StepTimeout = time.Duration(raw.StepTimeout)
	}
	if raw.ScanTimeout != 0 {
		c.ScanTimeout = time.Duration(raw.ScanTimeout)
	}
	if raw.MaxAttempts != 0 {
		c.MaxAttempts = raw.MaxAttempts
	}

	if raw.Backoff.Initial != 0 {
		c.Backoff.Initial = time.Duration(raw.Backoff.Initial)
	}
	if raw.Backoff.Max != 0 {
		c.Backoff.Max = time.Duration(raw.Backoff.Max)
	}
	if raw.Backoff.Multiplier != 0 {
		c.Backoff.Multiplier = raw.Backoff.Multiplier
	}
	if raw.Backoff.Jitter != nil {
		// Zero is meaningful here: it disables jitter.
		c.Backoff.Jitter = *raw.Backoff.Jitter
	}

	if raw.Breaker.MaxFailures != 0 {
		c.Breaker.MaxFailures = raw.Breaker.MaxFailures
	}
	if raw.Breaker.Timeout != 0 {
		c.Breaker.Timeout = time.Duration(raw.Breaker.Timeout)
	}
	if raw.Breaker.Interval != nil {
		// Zero is meaningful here: failure counts then only reset when
		// the circuit opens.
		c.Breaker.Interval = time.Duration(*raw.Breaker.Interval)
	}
	return nil
}

// applyDefaults replaces zero or negative values with defaults.
func (c *Config) applyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = DefaultStepTimeout
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = DefaultScanTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Breaker.MaxFailures == 0 {
		c.Breaker.MaxFailures = 5
	}
	if c.Breaker.Timeout <= 0 {
		c.Breaker.Timeout = 30 * time.Second
	}
}
