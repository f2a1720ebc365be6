package api

import (
	"errors"
	"time"
)

// Config configures the read API.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// Addr is the listen address. Defaults to ":8080".
	Addr string `yaml:"addr"`

	// ClientBuffer is the number of snapshots queued per WebSocket
	// client before it is dropped. Defaults to 16.
	ClientBuffer int `yaml:"client_buffer"`

	// WriteTimeout bounds one WebSocket write. Defaults to 10s.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// PingInterval is the WebSocket keepalive interval.
	// Defaults to 30s.
	PingInterval time.Duration `yaml:"ping_interval"`
}

// DefaultConfig returns the default API configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		ClientBuffer: 16,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Addr == "" {
		return errors.New("api.addr is required")
	}

	if c.ClientBuffer <= 0 {
		return errors.New("api.client_buffer must be > 0")
	}

	if c.WriteTimeout <= 0 {
		return errors.New("api.write_timeout must be > 0")
	}

	if c.PingInterval <= 0 {
		return errors.New("api.ping_interval must be > 0")
	}

	return nil
}
