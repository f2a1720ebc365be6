package sink

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/paratps/internal/aggregator"
	"github.com/ethpandaops/paratps/internal/export"
)

// LogConfig configures the log sink.
type LogConfig struct {
	Enabled bool `yaml:"enabled"`

	// TopChains is the number of leaderboard entries logged per slot.
	// Defaults to 5.
	TopChains int `yaml:"top_chains"`
}

// LogSink writes a one-line throughput summary per slot.
type LogSink struct {
	log    logrus.FieldLogger
	cfg    LogConfig
	health *export.HealthMetrics
	latest latest
}

var _ Sink = (*LogSink)(nil)

// NewLogSink creates a log sink. health may be nil.
func NewLogSink(log logrus.FieldLogger, cfg LogConfig, health *export.HealthMetrics) *LogSink {
	if cfg.TopChains <= 0 {
		cfg.TopChains = 5
	}

	return &LogSink{
		log:    log.WithField("sink", "log"),
		cfg:    cfg,
		health: health,
	}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Start(_ context.Context) error {
	s.log.WithField("top_chains", s.cfg.TopChains).Info("Log sink started")

	return nil
}

func (s *LogSink) Stop() error { return nil }

func (s *LogSink) HandleSnapshot(state *aggregator.GlobalState) {
	s.latest.store(state)
}

func (s *LogSink) OnSlotChanged(slot uint64, _ time.Time) {
	state := s.latest.take()
	if state == nil {
		return
	}

	top := state.Leaderboard(s.cfg.TopChains)
	leaders := make([]string, 0, len(top))

	for _, c := range top {
		leaders = append(leaders, c.Name)
	}

	s.log.WithFields(logrus.Fields{
		"slot":         slot,
		"chains":       len(state.Chains),
		"windowed_tps": state.WindowedTPS,
		"ema_tps":      state.EMATPS,
		"confidence":   state.Confidence,
		"peak_tps":     state.PeakTPS,
		"updates":      state.UpdateCount,
		"leaders":      leaders,
	}).Info("Throughput")

	if s.health != nil {
		s.health.SinkSnapshotsProcessed.WithLabelValues(s.Name()).Inc()
	}
}
