// Package source delivers raw telemetry payloads to the aggregator.
package source

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/paratps/internal/export"
)

// Handler receives one raw JSON update. Calls are never concurrent.
type Handler func(payload []byte)

// Source produces telemetry updates.
type Source interface {
	// Name returns the source type.
	Name() string
	// Start begins delivering payloads to handler in the background.
	Start(ctx context.Context, handler Handler) error
	// Stop halts delivery. It is safe to call more than once.
	Stop() error
	// Done is closed once the source will deliver no more payloads.
	Done() <-chan struct{}
}

// New creates the source selected by cfg.Type.
func New(
	log logrus.FieldLogger,
	cfg Config,
	health *export.HealthMetrics,
) (Source, error) {
	switch cfg.Type {
	case TypeStream:
		return NewStream(log, cfg, health), nil
	case TypeMock:
		return NewMock(log, cfg), nil
	case TypeReplay:
		return NewReplay(log, cfg), nil
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Type)
	}
}
