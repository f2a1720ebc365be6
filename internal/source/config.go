package source

import (
	"errors"
	"fmt"
	"time"
)

// Source types.
const (
	TypeStream = "stream"
	TypeMock   = "mock"
	TypeReplay = "replay"
)

// Config configures where telemetry updates come from.
type Config struct {
	// Type selects the source: stream, mock or replay.
	Type string `yaml:"type"`

	// URL is the server-sent events endpoint for the stream source.
	URL string `yaml:"url"`

	// Event is the SSE event name carrying updates. Empty accepts
	// every event. Defaults to "consumptionUpdate".
	Event string `yaml:"event"`

	// MaxReconnectAttempts bounds consecutive failed connects before
	// the stream gives up. Defaults to 5.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`

	// ReconnectBaseDelay is the first backoff delay; it doubles with
	// each failed attempt. Defaults to 1s.
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`

	// ReconnectMaxDelay caps the backoff delay. Defaults to 1m.
	ReconnectMaxDelay time.Duration `yaml:"reconnect_max_delay"`

	// Path is the NDJSON file read by the replay source. Files ending
	// in .zst are decompressed.
	Path string `yaml:"path"`

	// Interval paces the mock generator (default 1s) and the replay
	// source (0 replays as fast as possible).
	Interval time.Duration `yaml:"interval"`

	// Seed makes the mock generator deterministic when non-zero.
	Seed uint64 `yaml:"seed"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Type:                 TypeStream,
		URL:                  "https://status.freeside.network/events",
		Event:                "consumptionUpdate",
		MaxReconnectAttempts: 5,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    time.Minute,
		Interval:             time.Second,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Type {
	case TypeStream:
		if c.URL == "" {
			return errors.New("source.url is required for the stream source")
		}

		if c.MaxReconnectAttempts < 0 {
			return errors.New("source.max_reconnect_attempts must not be negative")
		}

		if c.ReconnectBaseDelay <= 0 {
			return errors.New("source.reconnect_base_delay must be positive")
		}

		if c.ReconnectMaxDelay < c.ReconnectBaseDelay {
			return errors.New("source.reconnect_max_delay must be at least reconnect_base_delay")
		}
	case TypeMock:
		if c.Interval <= 0 {
			return errors.New("source.interval must be positive for the mock source")
		}
	case TypeReplay:
		if c.Path == "" {
			return errors.New("source.path is required for the replay source")
		}

		if c.Interval < 0 {
			return errors.New("source.interval must not be negative")
		}
	default:
		return fmt.Errorf("unknown source type %q", c.Type)
	}

	return nil
}
