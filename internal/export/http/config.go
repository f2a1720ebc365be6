package http

import (
	"errors"
	"fmt"
	"time"
)

// Config configures NDJSON delivery to an HTTP collector.
type Config struct {
	// Address is the collector URL rows are POSTed to.
	Address string `yaml:"address"`

	// Headers are added to every request.
	Headers map[string]string `yaml:"headers"`

	// Compression is one of none, gzip, zstd, zlib or snappy.
	// Defaults to zstd.
	Compression string `yaml:"compression"`

	// BatchSize caps the rows per request. Defaults to 256.
	BatchSize int `yaml:"batch_size"`

	// BatchTimeout is the longest a partial batch waits.
	// Defaults to 5s.
	BatchTimeout time.Duration `yaml:"batch_timeout"`

	// ExportTimeout bounds a single request. Defaults to 30s.
	ExportTimeout time.Duration `yaml:"export_timeout"`

	// MaxQueueSize is the number of rows buffered before new rows
	// are dropped. Defaults to 10240.
	MaxQueueSize int `yaml:"max_queue_size"`

	// Workers is the number of concurrent senders. Defaults to 1.
	Workers int `yaml:"workers"`

	// MaxRetries is how often a failed request is retried.
	// Defaults to 2.
	MaxRetries *int `yaml:"max_retries"`

	// RetryBackoff is the delay before the first retry; it doubles
	// for each further retry. Defaults to 500ms.
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	// KeepAlive enables HTTP keep-alive connections.
	// Defaults to true.
	KeepAlive *bool `yaml:"keep_alive"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	keepAlive := true
	retries := 2

	return Config{
		Compression:   CompressionZstd,
		BatchSize:     256,
		BatchTimeout:  5 * time.Second,
		ExportTimeout: 30 * time.Second,
		MaxQueueSize:  10240,
		Workers:       1,
		MaxRetries:    &retries,
		RetryBackoff:  500 * time.Millisecond,
		KeepAlive:     &keepAlive,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Address == "" {
		return errors.New("http address is required")
	}

	if c.BatchSize <= 0 {
		return errors.New("batch_size must be greater than 0")
	}

	if c.MaxQueueSize <= 0 {
		return errors.New("max_queue_size must be greater than 0")
	}

	if c.BatchSize > c.MaxQueueSize {
		return errors.New("batch_size cannot be greater than max_queue_size")
	}

	if c.Workers <= 0 {
		return errors.New("workers must be greater than 0")
	}

	if c.MaxRetries != nil && *c.MaxRetries < 0 {
		return errors.New("max_retries must not be negative")
	}

	if _, ok := codecs[c.Compression]; c.Compression != "" && !ok {
		return fmt.Errorf("invalid compression type: %s", c.Compression)
	}

	return nil
}

// ApplyDefaults applies default values to unset fields.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.Compression == "" {
		c.Compression = defaults.Compression
	}

	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}

	if c.BatchTimeout <= 0 {
		c.BatchTimeout = defaults.BatchTimeout
	}

	if c.ExportTimeout <= 0 {
		c.ExportTimeout = defaults.ExportTimeout
	}

	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = defaults.MaxQueueSize
	}

	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}

	if c.MaxRetries == nil {
		c.MaxRetries = defaults.MaxRetries
	}

	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaults.RetryBackoff
	}

	if c.KeepAlive == nil {
		c.KeepAlive = defaults.KeepAlive
	}
}

// Retries returns the configured retry count.
func (c *Config) Retries() int {
	if c.MaxRetries == nil {
		return 0
	}

	return *c.MaxRetries
}

// IsKeepAlive returns whether HTTP keep-alive is enabled.
func (c *Config) IsKeepAlive() bool {
	if c.KeepAlive == nil {
		return true
	}

	return *c.KeepAlive
}
