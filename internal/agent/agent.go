// Package agent wires the telemetry source, aggregator, sinks and API
// into a running paratps instance.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/paratps/internal/aggregator"
	"github.com/ethpandaops/paratps/internal/api"
	"github.com/ethpandaops/paratps/internal/clock"
	"github.com/ethpandaops/paratps/internal/export"
	"github.com/ethpandaops/paratps/internal/registry"
	"github.com/ethpandaops/paratps/internal/sink"
	"github.com/ethpandaops/paratps/internal/source"
	"github.com/ethpandaops/paratps/internal/telemetry"
)

// Agent is the top-level orchestrator.
type Agent interface {
	// Start initializes all components and begins ingestion.
	Start(ctx context.Context) error
	// Stop shuts down all components gracefully.
	Stop() error
	// Done is closed when the source stops producing updates and
	// ExitOnSourceDone is set.
	Done() <-chan struct{}
	// Snapshot returns the latest aggregated state.
	Snapshot() *aggregator.GlobalState
}

type agent struct {
	log      logrus.FieldLogger
	cfg      *Config
	health   *export.HealthMetrics
	registry *registry.Registry
	agg      *aggregator.Aggregator
	feed     *aggregator.BlockFeed
	source   source.Source
	clock    clock.Clock
	api      *api.Server
	sinks    []sink.Sink

	done   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Agent.
func New(log logrus.FieldLogger, cfg *Config) (Agent, error) {
	health := export.NewHealthMetrics(log, cfg.Health)

	reg := registry.Default()
	reg.Merge(cfg.Registry.Overrides)

	agg := aggregator.New(log, cfg.Aggregator, telemetry.NewNormalizer(reg, cfg.Relays))

	src, err := source.New(log, cfg.Source, health)
	if err != nil {
		return nil, fmt.Errorf("creating source: %w", err)
	}

	clk, err := clock.New(log, cfg.Clock)
	if err != nil {
		return nil, fmt.Errorf("creating clock: %w", err)
	}

	a := &agent{
		log:      log.WithField("component", "agent"),
		cfg:      cfg,
		health:   health,
		registry: reg,
		agg:      agg,
		feed:     aggregator.NewBlockFeed(agg.Config().FeedSize),
		source:   src,
		clock:    clk,
		sinks:    make([]sink.Sink, 0, 3),
		done:     make(chan struct{}),
	}

	if cfg.Sinks.Log.Enabled {
		a.sinks = append(a.sinks, sink.NewLogSink(log, cfg.Sinks.Log, health))
	}

	if cfg.Sinks.ClickHouse.Enabled {
		a.sinks = append(a.sinks, sink.NewClickHouseSink(log, cfg.Sinks.ClickHouse, health))
	}

	if cfg.Sinks.HTTP.Enabled {
		s, err := sink.NewHTTPSink(log, cfg.Sinks.HTTP, health)
		if err != nil {
			return nil, fmt.Errorf("creating http sink: %w", err)
		}

		a.sinks = append(a.sinks, s)
	}

	if cfg.API.Enabled {
		a.api = api.NewServer(log, cfg.API, agg, a.feed, agg.Config().HighTPSThreshold, health)
	}

	// Subscribers run in registration order on every accepted update.
	agg.Subscribe(a.feed.HandleSnapshot)
	agg.Subscribe(func(state *aggregator.GlobalState) {
		health.ObserveSnapshot(state)
		health.ObserveFeed(a.feed)
	})

	for _, s := range a.sinks {
		agg.Subscribe(s.HandleSnapshot)
	}

	if a.api != nil {
		agg.Subscribe(a.api.HandleSnapshot)
	}

	return a, nil
}

func (a *agent) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	// 1. Health metrics server.
	if err := a.phase("health", func() error { return a.health.Start(ctx) }); err != nil {
		return fmt.Errorf("starting health metrics: %w", err)
	}

	// 2. Remote chain names. Failure only costs display names.
	if url := a.cfg.Registry.RemoteURL; url != "" {
		_ = a.phase("registry", func() error {
			err := registry.NewFetcher(a.log, 0).FetchInto(ctx, url, a.registry)
			if err != nil {
				a.log.WithError(err).Warn("Failed to load remote chain names, using built-in names")
			}

			return nil
		})
	}

	// 3. Sinks.
	err := a.phase("sinks", func() error {
		for _, s := range a.sinks {
			if err := s.Start(ctx); err != nil {
				return fmt.Errorf("starting sink %s: %w", s.Name(), err)
			}

			a.log.WithField("sink", s.Name()).Info("Sink started")
		}

		return nil
	})
	if err != nil {
		return err
	}

	// 4. Aggregator cleanup loop.
	if err := a.agg.Start(ctx); err != nil {
		return fmt.Errorf("starting aggregator: %w", err)
	}

	// 5. Slot clock drives sink flushes.
	a.clock.OnSlotChanged(a.onSlotChanged)
	a.health.CurrentSlot.Set(float64(a.clock.CurrentSlot()))

	if err := a.clock.Start(ctx); err != nil {
		return fmt.Errorf("starting clock: %w", err)
	}

	// 6. Read API.
	if a.api != nil {
		if err := a.phase("api", func() error { return a.api.Start(ctx) }); err != nil {
			return fmt.Errorf("starting api: %w", err)
		}
	}

	// 7. Telemetry source last, so every consumer is ready.
	if err := a.phase("source", func() error { return a.source.Start(ctx, a.handlePayload) }); err != nil {
		return fmt.Errorf("starting source %s: %w", a.source.Name(), err)
	}

	a.wg.Add(1)

	go a.watchSource(ctx)

	a.log.WithFields(logrus.Fields{
		"source": a.source.Name(),
		"relays": a.cfg.Relays,
		"sinks":  len(a.sinks),
	}).Info("Agent fully started")

	return nil
}

func (a *agent) Stop() error {
	if a.cancel != nil {
		a.cancel()
	}

	// Stop in reverse order.
	var errs []error

	if err := a.source.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stopping source: %w", err))
	}

	a.wg.Wait()

	if a.api != nil {
		if err := a.api.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping api: %w", err))
		}
	}

	_ = a.clock.Stop()

	a.agg.Stop()

	for _, s := range a.sinks {
		if err := s.Stop(); err != nil {
			a.log.WithError(err).WithField("sink", s.Name()).
				Error("Error stopping sink")
		}
	}

	if err := a.health.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stopping health metrics: %w", err))
	}

	return errors.Join(errs...)
}

func (a *agent) Done() <-chan struct{} {
	return a.done
}

func (a *agent) Snapshot() *aggregator.GlobalState {
	return a.agg.Snapshot()
}

// handlePayload ingests one event payload from the source.
func (a *agent) handlePayload(payload []byte) {
	start := time.Now()

	a.health.UpdatesReceived.Inc()

	raw, err := telemetry.Decode(payload)
	if err == nil {
		_, err = a.agg.Ingest(raw)
	}

	switch {
	case err == nil:
	case errors.Is(err, telemetry.ErrRelayFiltered):
		a.health.UpdatesFiltered.WithLabelValues(raw.Relay).Inc()
	default:
		a.health.UpdatesDropped.WithLabelValues("malformed").Inc()
		a.log.WithError(err).Debug("Dropped update")
	}

	a.health.IngestDuration.Observe(time.Since(start).Seconds())
}

func (a *agent) onSlotChanged(slot uint64, start time.Time) {
	a.health.CurrentSlot.Set(float64(slot))
	a.health.SlotsFlushed.Inc()

	for _, s := range a.sinks {
		s.OnSlotChanged(slot, start)
	}
}

// watchSource reports when the source stops delivering and, if
// configured, signals the agent to exit.
func (a *agent) watchSource(ctx context.Context) {
	defer a.wg.Done()

	select {
	case <-ctx.Done():
		return
	case <-a.source.Done():
	}

	state := a.agg.Snapshot()
	fields := logrus.Fields{
		"source":  a.source.Name(),
		"updates": state.UpdateCount,
		"chains":  len(state.Chains),
	}

	if f, ok := a.source.(interface{ Err() error }); ok && f.Err() != nil {
		a.log.WithError(f.Err()).WithFields(fields).Error("Source failed")
	} else {
		a.log.WithFields(fields).Info("Source finished")
	}

	if a.cfg.ExitOnSourceDone {
		close(a.done)
	}
}

// phase runs fn and records how long it took.
func (a *agent) phase(name string, fn func() error) error {
	started := time.Now()
	err := fn()

	a.health.StartDuration.WithLabelValues(name).Set(time.Since(started).Seconds())

	return err
}
