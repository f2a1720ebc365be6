package aggregator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/paratps/internal/telemetry"
)

// Subscriber receives every snapshot produced by a successful ingest.
// It runs while the ingest lock is held and must not call Ingest.
type Subscriber func(state *GlobalState)

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the wall clock used for peak and update times.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// Aggregator maintains per-chain and pooled throughput state. Ingest
// calls are serialized; Snapshot never blocks on ingestion.
type Aggregator struct {
	log        logrus.FieldLogger
	cfg        Config
	normalizer *telemetry.Normalizer
	now        func() time.Time

	mu          sync.Mutex
	chains      map[string]*chain
	globalEMA   EMA
	updates     uint64
	newest      int64
	peakTPS     float64
	peakAt      time.Time
	subscribers []Subscriber

	state atomic.Pointer[GlobalState]

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates an Aggregator. Zero config fields take their defaults.
func New(
	log logrus.FieldLogger,
	cfg Config,
	normalizer *telemetry.Normalizer,
	opts ...Option,
) *Aggregator {
	cfg = cfg.withDefaults()

	a := &Aggregator{
		log:        log.WithField("component", "aggregator"),
		cfg:        cfg,
		normalizer: normalizer,
		now:        time.Now,
		chains:     make(map[string]*chain, 128),
		globalEMA:  NewEMA(cfg.Alpha),
	}

	for _, opt := range opts {
		opt(a)
	}

	a.state.Store(emptyState())

	return a
}

// Config returns the effective configuration.
func (a *Aggregator) Config() Config {
	return a.cfg
}

// Subscribe registers fn. Subscribers are called in registration order.
func (a *Aggregator) Subscribe(fn Subscriber) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.subscribers = append(a.subscribers, fn)
}

// Snapshot returns the latest state.
func (a *Aggregator) Snapshot() *GlobalState {
	return a.state.Load()
}

// IngestPayload decodes and ingests one JSON update.
func (a *Aggregator) IngestPayload(data []byte) (*GlobalState, error) {
	raw, err := telemetry.Decode(data)
	if err != nil {
		return nil, err
	}

	return a.Ingest(raw)
}

// Ingest normalizes and applies one update. Rejected updates return an
// error wrapping telemetry.ErrMalformed or telemetry.ErrRelayFiltered
// and leave the state untouched.
func (a *Aggregator) Ingest(raw telemetry.RawUpdate) (*GlobalState, error) {
	u, err := a.normalizer.Normalize(raw)
	if err != nil {
		return nil, err
	}

	return a.IngestUpdate(u), nil
}

// IngestUpdate applies an already normalized update.
func (a *Aggregator) IngestUpdate(u telemetry.Update) *GlobalState {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, ok := a.chains[u.ChainID]
	if !ok {
		c = newChain(u, a.cfg.Alpha)
		a.chains[u.ChainID] = c

		a.log.WithFields(logrus.Fields{
			"chain": u.ChainID,
			"name":  u.Name,
		}).Debug("Tracking new chain")
	}

	c.applyUpdate(u, a.cfg)

	a.updates++
	a.newest = max(a.newest, u.Timestamp)

	state := a.buildState(u.ChainID, true)
	a.state.Store(state)

	for _, fn := range a.subscribers {
		fn(state)
	}

	return state
}

// Cleanup clears the history of chains whose newest sample is older
// than the retention window, measured from the newest sample seen on
// any chain. Staleness follows sample time, so replayed data ages the
// same way at any speed. Chain entries are kept. Subscribers are not
// notified. It returns the number of chains cleared.
func (a *Aggregator) Cleanup() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	cleared := 0

	for _, c := range a.chains {
		if c.expire(a.newest, a.cfg.Retention) {
			cleared++
		}
	}

	if cleared == 0 {
		return 0
	}

	prev := a.state.Load()
	a.state.Store(a.buildState(prev.LastChainID, false))

	a.log.WithField("chains", cleared).Debug("Cleared stale chain histories")

	return cleared
}

// buildState assembles a new snapshot from the current chains. When
// advance is set the global EMA and peak tracking move forward.
func (a *Aggregator) buildState(lastChainID string, advance bool) *GlobalState {
	chains := make(map[string]ChainState, len(a.chains))
	total := 0

	for id, c := range a.chains {
		chains[id] = c.state
		total += len(c.state.History)
	}

	pooled := make([]BlockSample, 0, total)
	for _, c := range a.chains {
		pooled = append(pooled, c.state.History...)
	}

	tps, span := WindowedTPS(pooled, a.cfg.TargetWindow)

	ema := a.globalEMA.Value()
	if advance {
		ema = a.globalEMA.Next(tps)
	}

	confidence := Confidence(span, a.cfg.TargetWindow, a.updates, a.cfg.MinDataPoints)
	now := a.now()

	if advance && confidence >= a.cfg.ConfidenceThreshold && tps > a.peakTPS {
		a.peakTPS = tps
		a.peakAt = now

		a.log.WithFields(logrus.Fields{
			"tps":        tps,
			"confidence": confidence,
		}).Info("New peak TPS")
	}

	return &GlobalState{
		Chains:      chains,
		WindowedTPS: tps,
		EMATPS:      ema,
		SpanMs:      span,
		Confidence:  confidence,
		UpdateCount: a.updates,
		PeakTPS:     a.peakTPS,
		PeakAt:      a.peakAt,
		LastChainID: lastChainID,
		UpdatedAt:   now,
	}
}

// Start runs the periodic cleanup loop until ctx is cancelled or Stop
// is called.
func (a *Aggregator) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	a.wg.Add(1)

	go a.runCleanup(ctx)

	a.log.WithField("interval", a.cfg.CleanupInterval).
		Info("Aggregator started")

	return nil
}

// Stop halts the cleanup loop. It is safe to call more than once.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}

		a.wg.Wait()
	})
}

func (a *Aggregator) runCleanup(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Cleanup()
		}
	}
}
