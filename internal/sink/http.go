package sink

import (
	"context"
	"fmt"
	"time"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/paratps/internal/aggregator"
	"github.com/ethpandaops/paratps/internal/export"
	httpexport "github.com/ethpandaops/paratps/internal/export/http"
)

// HTTPConfig configures the HTTP sink.
type HTTPConfig struct {
	Enabled bool `yaml:"enabled"`

	httpexport.Config `yaml:",inline"`

	// MetaInstanceName identifies this paratps instance.
	MetaInstanceName string `yaml:"meta_instance_name"`

	// MetaNetworkName is the relay network family.
	MetaNetworkName string `yaml:"meta_network_name"`
}

// HTTPSink streams global and chain rows as NDJSON to a collector.
type HTTPSink struct {
	log    logrus.FieldLogger
	cfg    HTTPConfig
	health *export.HealthMetrics
	proc   *processor.BatchItemProcessor[Row]
	latest latest
}

var _ Sink = (*HTTPSink)(nil)

// NewHTTPSink creates an HTTP sink. health may be nil.
func NewHTTPSink(
	log logrus.FieldLogger,
	cfg HTTPConfig,
	health *export.HealthMetrics,
) (*HTTPSink, error) {
	s := &HTTPSink{
		log:    log.WithField("sink", "http"),
		cfg:    cfg,
		health: health,
	}

	var opts []httpexport.Option
	if health != nil {
		opts = append(opts, httpexport.WithErrorHook(func(errorType string) {
			health.ExportBatchErrors.WithLabelValues(s.Name(), errorType).Inc()
		}))
	}

	proc, err := httpexport.NewProcessor[Row](log, cfg.Config, "paratps_http", opts...)
	if err != nil {
		return nil, fmt.Errorf("creating HTTP processor: %w", err)
	}

	s.proc = proc

	return s, nil
}

func (s *HTTPSink) Name() string { return "http" }

func (s *HTTPSink) Start(ctx context.Context) error {
	s.proc.Start(ctx)

	s.log.WithField("address", s.cfg.Address).Info("HTTP sink started")

	return nil
}

func (s *HTTPSink) Stop() error {
	if err := s.proc.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("shutting down HTTP processor: %w", err)
	}

	return nil
}

func (s *HTTPSink) HandleSnapshot(state *aggregator.GlobalState) {
	s.latest.store(state)
}

func (s *HTTPSink) OnSlotChanged(slot uint64, start time.Time) {
	state := s.latest.take()
	if state == nil {
		return
	}

	rows := snapshotRows(state, Slot{Number: slot, Start: start}, Meta{
		InstanceName: s.cfg.MetaInstanceName,
		NetworkName:  s.cfg.MetaNetworkName,
	})

	if err := s.proc.Write(context.Background(), rows); err != nil {
		s.log.WithError(err).WithField("slot", slot).Warn("Failed to queue rows")

		if s.health != nil {
			s.health.ExportErrors.Inc()
			s.health.ExportBatchErrors.WithLabelValues(s.Name(), "queue").Inc()
		}

		return
	}

	if s.health != nil {
		s.health.SinkBatchSize.WithLabelValues(s.Name()).Observe(float64(len(rows)))
		s.health.SinkSnapshotsProcessed.WithLabelValues(s.Name()).Inc()
	}
}

// snapshotRows flattens a snapshot into one global row followed by its
// chain rows.
func snapshotRows(state *aggregator.GlobalState, slot Slot, meta Meta) []*Row {
	global := globalRow(state, slot, meta)
	chains := chainRows(state, slot, meta)

	rows := make([]*Row, 0, len(chains)+1)
	rows = append(rows, &Row{Kind: KindGlobal, Global: &global})

	for i := range chains {
		rows = append(rows, &Row{Kind: KindChain, Chain: &chains[i]})
	}

	return rows
}
