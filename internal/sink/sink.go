// Package sink delivers aggregator snapshots to outputs at relay slot
// boundaries.
package sink

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ethpandaops/paratps/internal/aggregator"
)

// Config holds configuration for all sinks.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	HTTP       HTTPConfig       `yaml:"http"`
}

// Validate validates the enabled sinks.
func (c *Config) Validate() error {
	if c.ClickHouse.Enabled {
		if err := c.ClickHouse.Validate(); err != nil {
			return err
		}
	}

	if c.HTTP.Enabled {
		if err := c.HTTP.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// Sink consumes aggregator snapshots.
type Sink interface {
	// Name returns the sink's name for logging.
	Name() string
	// Start initializes the sink.
	Start(ctx context.Context) error
	// Stop flushes pending output and shuts the sink down.
	Stop() error
	// HandleSnapshot records the newest snapshot. It runs on the
	// ingestion path and must not block.
	HandleSnapshot(state *aggregator.GlobalState)
	// OnSlotChanged flushes the newest snapshot for the slot.
	OnSlotChanged(slot uint64, start time.Time)
}

// latest holds the newest snapshot and remembers which one was last
// flushed so an idle slot produces no output.
type latest struct {
	state   atomic.Pointer[aggregator.GlobalState]
	flushed atomic.Pointer[aggregator.GlobalState]
}

func (l *latest) store(state *aggregator.GlobalState) {
	if state != nil {
		l.state.Store(state)
	}
}

// take returns the newest snapshot if it has not been flushed yet.
func (l *latest) take() *aggregator.GlobalState {
	state := l.state.Load()
	if state == nil || l.flushed.Swap(state) == state {
		return nil
	}

	return state
}
