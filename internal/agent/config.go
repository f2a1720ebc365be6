package agent

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/paratps/internal/aggregator"
	"github.com/ethpandaops/paratps/internal/api"
	"github.com/ethpandaops/paratps/internal/clock"
	"github.com/ethpandaops/paratps/internal/export"
	httpexport "github.com/ethpandaops/paratps/internal/export/http"
	"github.com/ethpandaops/paratps/internal/registry"
	"github.com/ethpandaops/paratps/internal/sink"
	"github.com/ethpandaops/paratps/internal/source"
)

// Config is the top-level configuration for paratps.
type Config struct {
	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// Relays lists the relay chains whose parachains are tracked.
	// An empty list tracks every relay.
	Relays []string `yaml:"relays"`

	// Aggregator configures windowing, smoothing and confidence.
	Aggregator aggregator.Config `yaml:"aggregator"`

	// Source selects where telemetry comes from.
	Source source.Config `yaml:"source"`

	// Registry configures chain display names.
	Registry registry.Config `yaml:"registry"`

	// Clock configures relay slot timing for sink flushes.
	Clock clock.Config `yaml:"clock"`

	// Sinks configures snapshot outputs.
	Sinks sink.Config `yaml:"sinks"`

	// Health configures the Prometheus health metrics server.
	Health export.HealthConfig `yaml:"health"`

	// API configures the read API.
	API api.Config `yaml:"api"`

	// ExitOnSourceDone stops the process once the source delivers no
	// more updates, e.g. at the end of a replay. When unset the API and
	// metrics keep serving the last state.
	ExitOnSourceDone bool `yaml:"exit_on_source_done"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:   "info",
		Relays:     []string{registry.RelayPolkadot, registry.RelayKusama},
		Aggregator: aggregator.DefaultConfig(),
		Source:     source.DefaultConfig(),
		Clock:      clock.DefaultConfig(),
		Sinks: sink.Config{
			Log:  sink.LogConfig{Enabled: true},
			HTTP: sink.HTTPConfig{Config: httpexport.DefaultConfig()},
		},
		Health: export.HealthConfig{
			Addr: ":9090",
		},
		API: api.DefaultConfig(),
	}
}

// LoadConfig reads a YAML configuration file over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for required fields and consistency.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	if c.Health.Addr == "" {
		return errors.New("health.addr is required")
	}

	for _, v := range []interface{ Validate() error }{
		&c.Aggregator,
		&c.Source,
		&c.Clock,
		&c.Sinks,
		&c.API,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}

	return nil
}
