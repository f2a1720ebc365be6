package aggregator

import (
	"errors"
	"time"
)

// Epsilon is the smallest block time used when deriving instant TPS.
const Epsilon = 1e-3

// Config configures the throughput aggregator.
type Config struct {
	// TargetWindow is the span over which windowed TPS is computed.
	// Defaults to 30s.
	TargetWindow time.Duration `yaml:"target_window"`

	// Retention bounds sample age relative to the newest sample.
	// Defaults to twice the target window.
	Retention time.Duration `yaml:"retention"`

	// MaxHistory caps the number of retained samples per chain.
	// Defaults to 100.
	MaxHistory int `yaml:"max_history"`

	// Alpha is the EMA smoothing factor in (0, 1]. Defaults to 0.2.
	Alpha float64 `yaml:"alpha"`

	// MinDataPoints is the update count at which data point
	// confidence saturates. Defaults to 30.
	MinDataPoints uint64 `yaml:"min_data_points"`

	// ConfidenceThreshold gates record-high TPS tracking. Must be in
	// (0, 1]; use a small value to effectively disable gating.
	// Defaults to 0.9.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// HighTPSThreshold is the default cut-off for HighTPS listings.
	// Defaults to 1000.
	HighTPSThreshold float64 `yaml:"high_tps_threshold"`

	// CleanupInterval is how often stale chain histories are cleared.
	// Defaults to 10s.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// FeedSize is the number of blocks kept by the block feed.
	// Defaults to 20.
	FeedSize int `yaml:"feed_size"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		TargetWindow:        30 * time.Second,
		Retention:           60 * time.Second,
		MaxHistory:          100,
		Alpha:               0.2,
		MinDataPoints:       30,
		ConfidenceThreshold: 0.9,
		HighTPSThreshold:    1000,
		CleanupInterval:     10 * time.Second,
		FeedSize:            20,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.TargetWindow <= 0 {
		return errors.New("target_window must be positive")
	}

	if c.Retention < c.TargetWindow {
		return errors.New("retention must be at least target_window")
	}

	if c.MaxHistory < 2 {
		return errors.New("max_history must be at least 2")
	}

	if c.Alpha <= 0 || c.Alpha > 1 {
		return errors.New("alpha must be in (0, 1]")
	}

	if c.MinDataPoints == 0 {
		return errors.New("min_data_points must be positive")
	}

	// withDefaults treats zero as unset.
	if c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold > 1 {
		return errors.New("confidence_threshold must be in (0, 1]")
	}

	if c.HighTPSThreshold <= 0 {
		return errors.New("high_tps_threshold must be positive")
	}

	if c.CleanupInterval <= 0 {
		return errors.New("cleanup_interval must be positive")
	}

	if c.FeedSize <= 0 {
		return errors.New("feed_size must be positive")
	}

	return nil
}

// withDefaults fills zero fields so a partially populated Config is
// usable without going through DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()

	if c.TargetWindow <= 0 {
		c.TargetWindow = d.TargetWindow
	}

	if c.Retention <= 0 {
		c.Retention = 2 * c.TargetWindow
	}

	if c.MaxHistory <= 0 {
		c.MaxHistory = d.MaxHistory
	}

	if c.Alpha <= 0 {
		c.Alpha = d.Alpha
	}

	if c.MinDataPoints == 0 {
		c.MinDataPoints = d.MinDataPoints
	}

	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = d.ConfidenceThreshold
	}

	if c.HighTPSThreshold <= 0 {
		c.HighTPSThreshold = d.HighTPSThreshold
	}

	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}

	if c.FeedSize <= 0 {
		c.FeedSize = d.FeedSize
	}

	return c
}
