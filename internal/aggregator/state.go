package aggregator

import (
	"math"
	"sort"
	"time"
)

// ChainState is the observable state of one parachain. Values handed
// out by the aggregator are snapshots and must not be modified.
type ChainState struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Relay  string `json:"relay"`
	ParaID uint32 `json:"para_id"`

	// Latest observed block.
	BlockNumber uint64  `json:"block_number"`
	Extrinsics  uint64  `json:"extrinsics"`
	BlockTime   float64 `json:"block_time"`
	Timestamp   int64   `json:"timestamp"`
	Weight      float64 `json:"weight"`
	RefTime     float64 `json:"ref_time"`

	AccumulatedExtrinsics uint64 `json:"accumulated_extrinsics"`
	Updates               uint64 `json:"updates"`

	WindowedTPS float64 `json:"windowed_tps"`
	EMATPS      float64 `json:"ema_tps"`
	InstantTPS  float64 `json:"instant_tps"`
	MaxTPS      float64 `json:"max_tps"`

	// History is sorted by timestamp and shared between snapshots.
	History []BlockSample `json:"history,omitempty"`
}

// GlobalState is an immutable snapshot of every known chain plus the
// pooled throughput metrics.
type GlobalState struct {
	Chains map[string]ChainState `json:"chains"`

	WindowedTPS float64 `json:"windowed_tps"`
	EMATPS      float64 `json:"ema_tps"`
	SpanMs      int64   `json:"span_ms"`
	Confidence  float64 `json:"confidence"`
	UpdateCount uint64  `json:"update_count"`

	// PeakTPS is the highest windowed TPS observed while confidence
	// was at or above the configured threshold.
	PeakTPS float64   `json:"peak_tps"`
	PeakAt  time.Time `json:"peak_at"`

	// LastChainID identifies the chain touched by the update that
	// produced this snapshot.
	LastChainID string    `json:"last_chain_id,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// emptyState is the snapshot before any update arrives.
func emptyState() *GlobalState {
	return &GlobalState{Chains: map[string]ChainState{}}
}

// Chain returns the state of one chain.
func (g *GlobalState) Chain(id string) (ChainState, bool) {
	c, ok := g.Chains[id]

	return c, ok
}

// TotalExtrinsics sums accumulated extrinsics across all chains.
func (g *GlobalState) TotalExtrinsics() uint64 {
	var total uint64
	for _, c := range g.Chains {
		total += c.AccumulatedExtrinsics
	}

	return total
}

// Leaderboard returns up to n chains ordered by windowed TPS, highest
// first. Non-finite values are excluded. n <= 0 returns all chains.
func (g *GlobalState) Leaderboard(n int) []ChainState {
	return g.ranked(n, func(c ChainState) bool {
		return !math.IsNaN(c.WindowedTPS) && !math.IsInf(c.WindowedTPS, 0)
	})
}

// HighTPS returns the chains whose windowed TPS exceeds threshold,
// highest first.
func (g *GlobalState) HighTPS(threshold float64) []ChainState {
	return g.ranked(0, func(c ChainState) bool {
		return c.WindowedTPS > threshold && !math.IsInf(c.WindowedTPS, 0)
	})
}

// WithoutHistory returns a shallow copy with chain histories omitted.
func (g *GlobalState) WithoutHistory() *GlobalState {
	out := *g
	out.Chains = make(map[string]ChainState, len(g.Chains))

	for id, c := range g.Chains {
		c.History = nil
		out.Chains[id] = c
	}

	return &out
}

func (g *GlobalState) ranked(n int, keep func(ChainState) bool) []ChainState {
	out := make([]ChainState, 0, len(g.Chains))

	for _, c := range g.Chains {
		if keep(c) {
			out = append(out, c)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].WindowedTPS != out[j].WindowedTPS {
			return out[i].WindowedTPS > out[j].WindowedTPS
		}

		return out[i].ID < out[j].ID
	})

	if n > 0 && len(out) > n {
		out = out[:n]
	}

	return out
}
