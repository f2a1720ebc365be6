package aggregator

import (
	"math"
	"time"

	"github.com/ethpandaops/paratps/internal/telemetry"
)

// chain holds the mutable per-chain state owned by the aggregator.
type chain struct {
	state ChainState
	ema   EMA
}

func newChain(u telemetry.Update, alpha float64) *chain {
	return &chain{
		state: ChainState{
			ID:     u.ChainID,
			Name:   u.Name,
			Relay:  u.Relay,
			ParaID: u.ParaID,
		},
		ema: NewEMA(alpha),
	}
}

// applyUpdate folds one block into the chain and returns the new
// snapshot. The previous History slice is left untouched so earlier
// snapshots stay valid.
func (c *chain) applyUpdate(u telemetry.Update, cfg Config) ChainState {
	sample := BlockSample{
		ChainID:     u.ChainID,
		BlockNumber: u.BlockNumber,
		Extrinsics:  u.Extrinsics,
		BlockTime:   u.BlockTime,
		Timestamp:   u.Timestamp,
		Weight:      u.Weight,
	}

	history := make([]BlockSample, 0, len(c.state.History)+1)
	history = append(history, c.state.History...)
	history = append(history, sample)

	s := c.state
	s.History = prune(history, cfg.Retention, cfg.MaxHistory)

	s.Name = u.Name
	s.BlockNumber = u.BlockNumber
	s.Extrinsics = u.Extrinsics
	s.BlockTime = u.BlockTime
	s.Timestamp = u.Timestamp
	s.Weight = u.Weight
	s.RefTime = u.RefTime

	s.WindowedTPS, _ = WindowedTPS(s.History, cfg.TargetWindow)
	s.EMATPS = c.ema.Next(s.WindowedTPS)
	s.InstantTPS = InstantTPS(u.Extrinsics, u.BlockTime, u.BlockTimeKnown)
	s.MaxTPS = max(s.MaxTPS, s.WindowedTPS)

	s.AccumulatedExtrinsics = saturatingAdd(s.AccumulatedExtrinsics, u.Extrinsics)
	s.Updates++

	c.state = s

	return s
}

// expire clears the history when its newest sample is older than
// retention relative to reference, a millisecond timestamp. It reports
// whether anything changed.
func (c *chain) expire(reference int64, retention time.Duration) bool {
	if len(c.state.History) == 0 {
		return false
	}

	newest := c.state.History[len(c.state.History)-1].Timestamp
	if reference-newest <= retention.Milliseconds() {
		return false
	}

	c.state.History = nil
	c.state.WindowedTPS = 0

	return true
}

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}

	return a + b
}
