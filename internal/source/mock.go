package source

import (
	"context"
	"encoding/json"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Surge simulation parameters.
const (
	mockRelay         = "Kusama"
	mockParaCount     = 100
	mockNormalTPS     = 100.0
	mockHighTPS       = 70000.0
	mockParaTPSCap    = 3200.0
	mockRampUp        = 15 * time.Second
	mockPlateau       = 20 * time.Second
	mockRampDown      = 5 * time.Second
	mockMinSurgeGap   = 10 * time.Second
	mockSurgeGapRange = 10 * time.Second
)

type surgePhase int

const (
	phaseNormal surgePhase = iota
	phaseRampUp
	phaseHigh
	phaseRampDown
)

func (p surgePhase) String() string {
	switch p {
	case phaseRampUp:
		return "ramp_up"
	case phaseHigh:
		return "high"
	case phaseRampDown:
		return "ramp_down"
	default:
		return "normal"
	}
}

type mockUpdate struct {
	Relay            string  `json:"relay"`
	ParaID           uint32  `json:"para_id"`
	BlockNumber      uint64  `json:"block_number"`
	Extrinsics       uint64  `json:"extrinsics_num"`
	BlockTimeSeconds float64 `json:"block_time_seconds"`
	Timestamp        int64   `json:"timestamp"`
	TotalProofSize   float64 `json:"total_proof_size"`
}

type blockTimes struct {
	initial float64
	current float64
}

// Mock generates synthetic updates that periodically surge from a
// quiet baseline to a high plateau and back.
type Mock struct {
	log logrus.FieldLogger
	cfg Config

	mu         sync.Mutex
	rng        *rand.Rand
	phase      surgePhase
	phaseStart time.Time
	nextSurge  time.Time
	started    bool
	currentTPS float64
	blockTimes map[uint32]*blockTimes

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

var _ Source = (*Mock)(nil)

// NewMock creates a mock source.
func NewMock(log logrus.FieldLogger, cfg Config) *Mock {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	return &Mock{
		log:        log.WithField("component", "mock"),
		cfg:        cfg,
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		currentTPS: mockNormalTPS,
		blockTimes: make(map[uint32]*blockTimes, mockParaCount),
		done:       make(chan struct{}),
	}
}

func (m *Mock) Name() string { return TypeMock }

func (m *Mock) Done() <-chan struct{} { return m.done }

func (m *Mock) Start(ctx context.Context, handler Handler) error {
	ctx, m.cancel = context.WithCancel(ctx)

	go m.run(ctx, handler)

	m.log.WithField("interval", m.cfg.Interval).Info("Mock source started")

	return nil
}

func (m *Mock) Stop() error {
	m.stopOnce.Do(func() {
		if m.cancel != nil {
			m.cancel()
			<-m.done
		}
	})

	return nil
}

func (m *Mock) run(ctx context.Context, handler Handler) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, payload := range m.Generate(now) {
				handler(payload)
			}
		}
	}
}

// Generate advances the surge simulation to now and returns one JSON
// update per para id.
func (m *Mock) Generate(now time.Time) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.advance(now)

	shares := m.distribute(m.currentTPS)
	out := make([][]byte, 0, mockParaCount)

	for i := 0; i < mockParaCount; i++ {
		paraID := uint32(i + 1)
		paraTPS := shares[i]
		blockTime := m.blockTime(paraID, paraTPS)

		data, err := json.Marshal(mockUpdate{
			Relay:            mockRelay,
			ParaID:           paraID,
			BlockNumber:      uint64(m.rng.IntN(1_000_000)),
			Extrinsics:       uint64(math.Round(paraTPS * blockTime)),
			BlockTimeSeconds: blockTime,
			Timestamp:        now.UnixMilli(),
			TotalProofSize:   m.rng.Float64(),
		})
		if err != nil {
			m.log.WithError(err).Error("Failed to encode mock update")

			continue
		}

		out = append(out, data)
	}

	return out
}

// TargetTPS returns the current simulated total TPS.
func (m *Mock) TargetTPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.currentTPS
}

func (m *Mock) advance(now time.Time) {
	if !m.started {
		m.started = true
		m.nextSurge = now
	}

	if m.phase == phaseNormal && !now.Before(m.nextSurge) {
		m.enter(phaseRampUp, now)
	}

	if m.phase == phaseRampUp {
		elapsed := now.Sub(m.phaseStart)
		if elapsed >= mockRampUp {
			m.enter(phaseHigh, now)
			m.currentTPS = mockHighTPS
		} else {
			progress := float64(elapsed) / float64(mockRampUp)
			m.currentTPS = mockNormalTPS + math.Pow(progress, 3)*(mockHighTPS-mockNormalTPS)
		}
	}

	if m.phase == phaseHigh && now.Sub(m.phaseStart) >= mockPlateau {
		m.enter(phaseRampDown, now)
	}

	if m.phase == phaseRampDown {
		elapsed := now.Sub(m.phaseStart)
		if elapsed >= mockRampDown {
			m.enter(phaseNormal, now)
			m.currentTPS = mockNormalTPS

			gap := mockMinSurgeGap + time.Duration(m.rng.Float64()*float64(mockSurgeGapRange))
			m.nextSurge = now.Add(gap)
		} else {
			progress := float64(elapsed) / float64(mockRampDown)
			eased := 1 - math.Pow(1-progress, 2)
			m.currentTPS = mockHighTPS - eased*(mockHighTPS-mockNormalTPS)
		}
	}
}

func (m *Mock) enter(phase surgePhase, now time.Time) {
	m.log.WithFields(logrus.Fields{
		"from": m.phase.String(),
		"to":   phase.String(),
		"tps":  math.Round(m.currentTPS),
	}).Debug("Surge phase change")

	m.phase = phase
	m.phaseStart = now
}

// distribute splits total across para ids in random order, giving each
// at most mockParaTPSCap. Index i holds para id i+1.
func (m *Mock) distribute(total float64) []float64 {
	shares := make([]float64, mockParaCount)
	order := m.rng.Perm(mockParaCount)
	remaining := total

	for _, idx := range order {
		if remaining <= 0 {
			break
		}

		share := m.rng.Float64() * min(mockParaTPSCap, remaining)
		shares[idx] = share
		remaining -= share
	}

	for _, idx := range order {
		if remaining <= 0 {
			break
		}

		extra := min(mockParaTPSCap-shares[idx], remaining)
		shares[idx] += extra
		remaining -= extra
	}

	return shares
}

// blockTime assigns each para a stable base block time of 6 to 12
// seconds and shortens it while the para is busy.
func (m *Mock) blockTime(paraID uint32, paraTPS float64) float64 {
	bt, ok := m.blockTimes[paraID]
	if !ok {
		initial := 6 + m.rng.Float64()*6
		bt = &blockTimes{initial: initial, current: initial}
		m.blockTimes[paraID] = bt
	}

	switch {
	case paraTPS > 3000:
		bt.current = 2
	case paraTPS > 2000:
		bt.current = 3
	case paraTPS > 1000:
		bt.current = 6
	default:
		bt.current = bt.initial
	}

	return bt.current
}
