package export

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/paratps/internal/aggregator"
)

const namespace = "paratps"

// HealthConfig configures the Prometheus health metrics server.
type HealthConfig struct {
	// Addr is the listen address for the health metrics server.
	// Defaults to ":9090".
	Addr string `yaml:"addr"`
}

// HealthMetrics exposes Prometheus metrics for process health and the
// latest throughput snapshot.
type HealthMetrics struct {
	log      logrus.FieldLogger
	addr     string
	server   *http.Server
	listener net.Listener
	registry *prometheus.Registry

	// Ingestion
	UpdatesReceived prometheus.Counter
	UpdatesDropped  *prometheus.CounterVec // reason
	UpdatesFiltered *prometheus.CounterVec // relay
	IngestDuration  prometheus.Histogram

	// Throughput snapshot
	ChainsTracked prometheus.Gauge
	UpdateCount   prometheus.Gauge
	GlobalTPS     prometheus.Gauge
	GlobalTPSEMA  prometheus.Gauge
	Confidence    prometheus.Gauge
	PeakTPS       prometheus.Gauge
	ChainTPS      *prometheus.GaugeVec // chain, relay
	ChainMaxTPS   *prometheus.GaugeVec // chain, relay

	// Block feed
	FeedBlocksObserved prometheus.Gauge
	FeedBlocksDistinct prometheus.Gauge

	// Source
	StreamConnected  prometheus.Gauge
	StreamReconnects prometheus.Counter
	StreamEvents     *prometheus.CounterVec // event

	// Clock
	CurrentSlot  prometheus.Gauge
	SlotsFlushed prometheus.Counter

	// Sinks and export
	ExportErrors            prometheus.Counter
	ExportBatchErrors       *prometheus.CounterVec   // sink, error_type
	ClickHouseConnected     *prometheus.GaugeVec     // sink
	ClickHouseBatchDuration *prometheus.HistogramVec // operation
	SinkFlushDuration       *prometheus.HistogramVec // sink
	SinkBatchSize           *prometheus.HistogramVec // sink
	SinkSnapshotsProcessed  *prometheus.CounterVec   // sink

	// API
	WebSocketClients prometheus.Gauge
	WebSocketDropped prometheus.Counter

	StartDuration *prometheus.GaugeVec // phase

	running atomic.Bool
}

// NewHealthMetrics creates a new health metrics server.
func NewHealthMetrics(
	log logrus.FieldLogger,
	cfg HealthConfig,
) *HealthMetrics {
	reg := prometheus.NewRegistry()

	h := &HealthMetrics{
		log:      log.WithField("component", "health"),
		addr:     cfg.Addr,
		registry: reg,

		UpdatesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_received_total",
			Help:      "Total telemetry updates received from the source.",
		}),
		UpdatesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "updates_dropped_total",
				Help:      "Total updates dropped by reason.",
			},
			[]string{"reason"},
		),
		UpdatesFiltered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "updates_filtered_total",
				Help:      "Total updates ignored because their relay is not tracked.",
			},
			[]string{"relay"},
		),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Time to ingest one update including subscriber fan-out.",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),

		ChainsTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chains_tracked",
			Help:      "Number of chains seen since start.",
		}),
		UpdateCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "update_count",
			Help:      "Updates applied by the aggregator.",
		}),
		GlobalTPS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "global_tps",
			Help:      "Windowed TPS pooled across all chains.",
		}),
		GlobalTPSEMA: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "global_tps_ema",
			Help:      "Smoothed pooled TPS.",
		}),
		Confidence: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "confidence",
			Help:      "Confidence in the pooled TPS, between 0 and 1.",
		}),
		PeakTPS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peak_tps",
			Help:      "Highest pooled TPS observed with sufficient confidence.",
		}),
		ChainTPS: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "chain_tps",
				Help:      "Windowed TPS per chain.",
			},
			[]string{"chain", "relay"},
		),
		ChainMaxTPS: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "chain_max_tps",
				Help:      "Highest windowed TPS per chain.",
			},
			[]string{"chain", "relay"},
		),

		FeedBlocksObserved: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_blocks_observed",
			Help:      "Blocks offered to the live block feed.",
		}),
		FeedBlocksDistinct: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_blocks_distinct",
			Help:      "Estimated distinct blocks offered to the live block feed.",
		}),

		StreamConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_connected",
			Help:      "Whether the event stream is connected (1=yes, 0=no).",
		}),
		StreamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_reconnects_total",
			Help:      "Total event stream reconnect attempts.",
		}),
		StreamEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_events_total",
				Help:      "Total events read from the stream by event name.",
			},
			[]string{"event"},
		),

		CurrentSlot: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_slot",
			Help:      "Current relay chain slot number.",
		}),
		SlotsFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slots_flushed_total",
			Help:      "Total slot boundary flushes.",
		}),

		ExportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_errors_total",
			Help:      "Total export errors across all sinks.",
		}),
		ExportBatchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "export_batch_errors_total",
				Help:      "Total export batch errors by sink and error type.",
			},
			[]string{"sink", "error_type"},
		),
		ClickHouseConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "clickhouse_connected",
				Help:      "Whether ClickHouse connection is established (1=yes, 0=no).",
			},
			[]string{"sink"},
		),
		ClickHouseBatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "clickhouse_batch_duration_seconds",
				Help:      "Time to write a batch to ClickHouse by operation.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"operation"},
		),
		SinkFlushDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sink_flush_duration_seconds",
				Help:      "Time to flush a snapshot by sink.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"sink"},
		),
		SinkBatchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sink_batch_size",
				Help:      "Number of rows per flush by sink.",
				Buckets:   []float64{1, 10, 50, 100, 250, 500, 1000},
			},
			[]string{"sink"},
		),
		SinkSnapshotsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_snapshots_processed_total",
				Help:      "Total snapshots handed to each sink.",
			},
			[]string{"sink"},
		),

		WebSocketClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected WebSocket clients.",
		}),
		WebSocketDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_dropped_total",
			Help:      "Snapshots not delivered to slow WebSocket clients.",
		}),

		StartDuration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "start_duration_seconds",
				Help:      "Duration of startup phases.",
			},
			[]string{"phase"},
		),
	}

	reg.MustRegister(
		h.UpdatesReceived,
		h.UpdatesDropped,
		h.UpdatesFiltered,
		h.IngestDuration,
	)

	reg.MustRegister(
		h.ChainsTracked,
		h.UpdateCount,
		h.GlobalTPS,
		h.GlobalTPSEMA,
		h.Confidence,
		h.PeakTPS,
		h.ChainTPS,
		h.ChainMaxTPS,
		h.FeedBlocksObserved,
		h.FeedBlocksDistinct,
	)

	reg.MustRegister(
		h.StreamConnected,
		h.StreamReconnects,
		h.StreamEvents,
		h.CurrentSlot,
		h.SlotsFlushed,
	)

	reg.MustRegister(
		h.ExportErrors,
		h.ExportBatchErrors,
		h.ClickHouseConnected,
		h.ClickHouseBatchDuration,
		h.SinkFlushDuration,
		h.SinkBatchSize,
		h.SinkSnapshotsProcessed,
		h.WebSocketClients,
		h.WebSocketDropped,
		h.StartDuration,
	)

	return h
}

// ObserveSnapshot copies the headline numbers of a snapshot into the
// gauges.
func (h *HealthMetrics) ObserveSnapshot(state *aggregator.GlobalState) {
	h.ChainsTracked.Set(float64(len(state.Chains)))
	h.UpdateCount.Set(float64(state.UpdateCount))
	h.GlobalTPS.Set(state.WindowedTPS)
	h.GlobalTPSEMA.Set(state.EMATPS)
	h.Confidence.Set(state.Confidence)
	h.PeakTPS.Set(state.PeakTPS)

	if c, ok := state.Chain(state.LastChainID); ok {
		h.ChainTPS.WithLabelValues(c.Name, c.Relay).Set(c.WindowedTPS)
		h.ChainMaxTPS.WithLabelValues(c.Name, c.Relay).Set(c.MaxTPS)
	}
}

// ObserveFeed records block feed counters.
func (h *HealthMetrics) ObserveFeed(feed *aggregator.BlockFeed) {
	h.FeedBlocksObserved.Set(float64(feed.Observed()))
	h.FeedBlocksDistinct.Set(float64(feed.DistinctEstimate()))
}

// Start begins serving the /metrics endpoint.
func (h *HealthMetrics) Start(_ context.Context) error {
	if h.addr == "" {
		h.addr = ":9090"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		h.registry,
		promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}

	h.listener = ln
	h.server = &http.Server{Handler: mux}

	h.running.Store(true)

	go func() {
		h.log.WithField("addr", ln.Addr().String()).
			Info("Health metrics server started")

		if err := h.server.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			h.log.WithError(err).
				Error("Health metrics server error")
		}

		h.running.Store(false)
	}()

	return nil
}

// Addr returns the actual listener address. Useful when started
// with ":0" to get the OS-assigned port.
func (h *HealthMetrics) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}

	return h.addr
}

// Stop gracefully shuts down the health metrics server.
func (h *HealthMetrics) Stop() error {
	if h.server == nil {
		return nil
	}

	return h.server.Close()
}
