package aggregator

import (
	"cmp"
	"math"
	"slices"
	"time"
)

// BlockSample is a normalized per-block record retained in a chain's
// history. Samples are never modified after creation.
type BlockSample struct {
	ChainID     string  `json:"chain_id,omitempty"`
	BlockNumber uint64  `json:"block_number"`
	Extrinsics  uint64  `json:"extrinsics"`
	BlockTime   float64 `json:"block_time"`
	Timestamp   int64   `json:"timestamp"`
	Weight      float64 `json:"weight"`
}

// WindowedTPS computes throughput over the most recent span of samples,
// where span is the observed spread of timestamps capped at target.
// It returns the TPS and the span in milliseconds. Fewer than two
// samples, or a zero span, yield 0 TPS. The input is not reordered.
func WindowedTPS(samples []BlockSample, target time.Duration) (float64, int64) {
	if len(samples) == 0 {
		return 0, 0
	}

	sorted := slices.Clone(samples)
	slices.SortStableFunc(sorted, byTimestamp)

	oldest := sorted[0].Timestamp
	newest := sorted[len(sorted)-1].Timestamp

	span := min(newest-oldest, target.Milliseconds())
	if len(sorted) < 2 || span <= 0 {
		return 0, max(span, 0)
	}

	cutoff := newest - span

	var extrinsics uint64

	for i := len(sorted) - 1; i >= 0 && sorted[i].Timestamp >= cutoff; i-- {
		extrinsics += sorted[i].Extrinsics
	}

	tps := float64(extrinsics) * 1000 / float64(span)
	if math.IsNaN(tps) || math.IsInf(tps, 0) || tps < 0 {
		return 0, span
	}

	return tps, span
}

// InstantTPS derives throughput from a single block. Unknown block
// times yield 0.
func InstantTPS(extrinsics uint64, blockTime float64, known bool) float64 {
	if !known || math.IsNaN(blockTime) || blockTime <= 0 {
		return 0
	}

	return float64(extrinsics) / max(blockTime, Epsilon)
}

// prune drops samples older than retention relative to the newest
// sample, then keeps at most limit of the newest samples. The result
// is a fresh slice sorted by timestamp.
func prune(samples []BlockSample, retention time.Duration, limit int) []BlockSample {
	if len(samples) == 0 {
		return nil
	}

	var newest int64 = math.MinInt64
	for _, s := range samples {
		newest = max(newest, s.Timestamp)
	}

	cutoff := newest - retention.Milliseconds()

	kept := make([]BlockSample, 0, len(samples))
	for _, s := range samples {
		if s.Timestamp >= cutoff {
			kept = append(kept, s)
		}
	}

	slices.SortStableFunc(kept, byTimestamp)

	if limit > 0 && len(kept) > limit {
		kept = kept[len(kept)-limit:]
	}

	return kept
}

func byTimestamp(a, b BlockSample) int {
	return cmp.Compare(a.Timestamp, b.Timestamp)
}
