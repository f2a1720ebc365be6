package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/paratps/internal/aggregator"
	"github.com/ethpandaops/paratps/internal/export"
)

// ClickHouseConfig configures the ClickHouse sink.
type ClickHouseConfig struct {
	Enabled bool `yaml:"enabled"`

	export.ClickHouseConfig `yaml:",inline"`

	// FlushTimeout bounds one slot's inserts. Defaults to 10s.
	FlushTimeout time.Duration `yaml:"flush_timeout"`
}

// batchWriter is the subset of ClickHouseWriter the sink needs.
type batchWriter interface {
	Start(ctx context.Context) error
	Stop() error
	Config() export.ClickHouseConfig
	QualifiedTable(table string) string
	WriteGlobal(ctx context.Context, table string, rows []GlobalRow) error
	WriteChains(ctx context.Context, table string, rows []ChainRow) error
}

// flushRequest is one slot boundary queued for the writer loop.
type flushRequest struct {
	state *aggregator.GlobalState
	slot  Slot
}

// ClickHouseSink inserts one global row and one row per chain for
// every slot in which the snapshot changed.
type ClickHouseSink struct {
	log    logrus.FieldLogger
	cfg    ClickHouseConfig
	writer batchWriter
	health *export.HealthMetrics
	latest latest

	flushCh chan flushRequest
	cancel  context.CancelFunc
	done    chan struct{}
	stop    sync.Once
}

var _ Sink = (*ClickHouseSink)(nil)

// NewClickHouseSink creates a ClickHouse sink. health may be nil.
func NewClickHouseSink(
	log logrus.FieldLogger,
	cfg ClickHouseConfig,
	health *export.HealthMetrics,
) *ClickHouseSink {
	return newClickHouseSink(log, cfg, &chWriter{
		ClickHouseWriter: export.NewClickHouseWriter(log, cfg.ClickHouseConfig),
		health:           health,
	}, health)
}

func newClickHouseSink(
	log logrus.FieldLogger,
	cfg ClickHouseConfig,
	writer batchWriter,
	health *export.HealthMetrics,
) *ClickHouseSink {
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 10 * time.Second
	}

	return &ClickHouseSink{
		log:     log.WithField("sink", "clickhouse"),
		cfg:     cfg,
		writer:  writer,
		health:  health,
		flushCh: make(chan flushRequest, 1),
		done:    make(chan struct{}),
	}
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

func (s *ClickHouseSink) Start(ctx context.Context) error {
	if err := s.writer.Start(ctx); err != nil {
		return err
	}

	if s.health != nil {
		s.health.ClickHouseConnected.WithLabelValues(s.Name()).Set(1)
	}

	ctx, s.cancel = context.WithCancel(ctx)

	go s.runLoop(ctx)

	s.log.Info("ClickHouse sink started")

	return nil
}

func (s *ClickHouseSink) Stop() error {
	var err error

	s.stop.Do(func() {
		if s.cancel == nil {
			err = s.writer.Stop()

			return
		}

		s.cancel()
		<-s.done

		// Drain whatever the loop had not picked up yet.
		select {
		case req := <-s.flushCh:
			s.flush(context.Background(), req)
		default:
		}

		if s.health != nil {
			s.health.ClickHouseConnected.WithLabelValues(s.Name()).Set(0)
		}

		err = s.writer.Stop()
	})

	return err
}

func (s *ClickHouseSink) HandleSnapshot(state *aggregator.GlobalState) {
	s.latest.store(state)
}

// OnSlotChanged queues a flush. If the previous slot's flush is still
// pending, it is replaced by the newer snapshot.
func (s *ClickHouseSink) OnSlotChanged(slot uint64, start time.Time) {
	state := s.latest.take()
	if state == nil {
		return
	}

	req := flushRequest{state: state, slot: Slot{Number: slot, Start: start}}

	for {
		select {
		case s.flushCh <- req:
			return
		default:
		}

		select {
		case stale := <-s.flushCh:
			s.log.WithField("slot", stale.slot.Number).Debug("Replacing pending flush")
		default:
		}
	}
}

func (s *ClickHouseSink) runLoop(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.flushCh:
			s.flush(ctx, req)
		}
	}
}

func (s *ClickHouseSink) flush(ctx context.Context, req flushRequest) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.FlushTimeout)
	defer cancel()

	started := time.Now()
	cfg := s.writer.Config()
	meta := Meta{InstanceName: cfg.MetaInstanceName, NetworkName: cfg.MetaNetworkName}

	global := []GlobalRow{globalRow(req.state, req.slot, meta)}
	chains := chainRows(req.state, req.slot, meta)

	err := errors.Join(
		s.writer.WriteGlobal(ctx, cfg.GlobalTable, global),
		s.writer.WriteChains(ctx, cfg.ChainTable, chains),
	)
	if err != nil {
		s.log.WithError(err).WithField("slot", req.slot.Number).Error("Flush failed")

		if s.health != nil {
			s.health.ExportErrors.Inc()
			s.health.ExportBatchErrors.WithLabelValues(s.Name(), "insert").Inc()
		}

		return
	}

	if s.health != nil {
		s.health.SinkFlushDuration.WithLabelValues(s.Name()).Observe(time.Since(started).Seconds())
		s.health.SinkBatchSize.WithLabelValues(s.Name()).Observe(float64(len(global) + len(chains)))
		s.health.SinkSnapshotsProcessed.WithLabelValues(s.Name()).Inc()
	}

	s.log.WithFields(logrus.Fields{
		"slot":   req.slot.Number,
		"chains": len(chains),
	}).Debug("Flushed snapshot")
}

// chWriter implements batchWriter on a live ClickHouse connection.
type chWriter struct {
	*export.ClickHouseWriter
	health *export.HealthMetrics
}

func (w *chWriter) WriteGlobal(ctx context.Context, table string, rows []GlobalRow) error {
	if len(rows) == 0 {
		return nil
	}

	started := time.Now()

	batch, err := w.Conn().PrepareBatch(ctx, fmt.Sprintf(`INSERT INTO %s (
		updated_date_time, wallclock_slot, wallclock_slot_start_date_time,
		windowed_tps, ema_tps, span_ms, confidence, update_count, peak_tps,
		chain_count, total_extrinsics,
		meta_instance_name, meta_network_name
	)`, w.QualifiedTable(table)))
	if err != nil {
		return fmt.Errorf("preparing %s batch: %w", table, err)
	}

	for _, r := range rows {
		if err := batch.Append(
			r.UpdatedDateTime, r.WallclockSlot, r.WallclockSlotStartDateTime,
			r.WindowedTPS, r.EMATPS, r.SpanMs, r.Confidence, r.UpdateCount, r.PeakTPS,
			r.ChainCount, r.TotalExtrinsics,
			r.MetaInstanceName, r.MetaNetworkName,
		); err != nil {
			return fmt.Errorf("appending %s row: %w", table, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("sending %s batch: %w", table, err)
	}

	w.observe(KindGlobal, started)

	return nil
}

func (w *chWriter) WriteChains(ctx context.Context, table string, rows []ChainRow) error {
	if len(rows) == 0 {
		return nil
	}

	started := time.Now()

	batch, err := w.Conn().PrepareBatch(ctx, fmt.Sprintf(`INSERT INTO %s (
		updated_date_time, wallclock_slot, wallclock_slot_start_date_time,
		chain_id, chain_name, relay, para_id, block_number, extrinsics,
		block_time, weight, windowed_tps, ema_tps, instant_tps, max_tps, updates,
		meta_instance_name, meta_network_name
	)`, w.QualifiedTable(table)))
	if err != nil {
		return fmt.Errorf("preparing %s batch: %w", table, err)
	}

	for _, r := range rows {
		if err := batch.Append(
			r.UpdatedDateTime, r.WallclockSlot, r.WallclockSlotStartDateTime,
			r.ChainID, r.ChainName, r.Relay, r.ParaID, r.BlockNumber, r.Extrinsics,
			r.BlockTime, r.Weight, r.WindowedTPS, r.EMATPS, r.InstantTPS, r.MaxTPS, r.Updates,
			r.MetaInstanceName, r.MetaNetworkName,
		); err != nil {
			return fmt.Errorf("appending %s row: %w", table, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("sending %s batch: %w", table, err)
	}

	w.observe(KindChain, started)

	return nil
}

func (w *chWriter) observe(operation string, started time.Time) {
	if w.health != nil {
		w.health.ClickHouseBatchDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
	}
}
