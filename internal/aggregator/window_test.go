package aggregator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const target = 30 * time.Second

func samplesAt(extrinsics uint64, timestamps ...int64) []BlockSample {
	out := make([]BlockSample, 0, len(timestamps))
	for _, ts := range timestamps {
		out = append(out, BlockSample{Extrinsics: extrinsics, Timestamp: ts})
	}

	return out
}

func TestWindowedTPS(t *testing.T) {
	tests := []struct {
		name     string
		samples  []BlockSample
		wantTPS  float64
		wantSpan int64
	}{
		{
			name:     "empty",
			samples:  nil,
			wantTPS:  0,
			wantSpan: 0,
		},
		{
			name:     "single sample",
			samples:  samplesAt(10, 1000),
			wantTPS:  0,
			wantSpan: 0,
		},
		{
			name:     "three samples two seconds apart",
			samples:  samplesAt(10, 0, 1000, 2000),
			wantTPS:  15,
			wantSpan: 2000,
		},
		{
			name:     "duplicate timestamps",
			samples:  samplesAt(10, 5000, 5000),
			wantTPS:  0,
			wantSpan: 0,
		},
		{
			name:     "span capped at target",
			samples:  samplesAt(10, 0, 10000, 20000, 30000, 40000),
			wantTPS:  40.0 * 1000 / 30000,
			wantSpan: 30000,
		},
		{
			name:     "unsorted input",
			samples:  samplesAt(10, 2000, 0, 1000),
			wantTPS:  15,
			wantSpan: 2000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tps, span := WindowedTPS(tt.samples, target)
			assert.InDelta(t, tt.wantTPS, tps, 1e-9)
			assert.Equal(t, tt.wantSpan, span)
		})
	}
}

func TestWindowedTPS_LeavesInputOrder(t *testing.T) {
	samples := samplesAt(1, 3000, 1000, 2000)

	WindowedTPS(samples, target)

	assert.Equal(t, int64(3000), samples[0].Timestamp)
	assert.Equal(t, int64(1000), samples[1].Timestamp)
	assert.Equal(t, int64(2000), samples[2].Timestamp)
}

func TestWindowedTPS_NeverNegativeOrNaN(t *testing.T) {
	samples := []BlockSample{
		{Extrinsics: 0, Timestamp: 1},
		{Extrinsics: math.MaxUint32, Timestamp: 2},
		{Extrinsics: 0, BlockTime: 0, Timestamp: 2},
	}

	tps, _ := WindowedTPS(samples, target)
	assert.False(t, math.IsNaN(tps))
	assert.GreaterOrEqual(t, tps, 0.0)
}

func TestInstantTPS(t *testing.T) {
	assert.Equal(t, 2.0, InstantTPS(12, 6, true))
	assert.Equal(t, 0.0, InstantTPS(12, 0, false))
	assert.Equal(t, 0.0, InstantTPS(12, 0, true))
	assert.Equal(t, 0.0, InstantTPS(12, 6, false))
	assert.Equal(t, 12.0/Epsilon, InstantTPS(12, Epsilon/10, true))
}

func TestPrune_AnchoredToNewest(t *testing.T) {
	samples := samplesAt(1, 70000, 0, 30000, 10000)

	kept := prune(samples, 60*time.Second, 100)

	require.Len(t, kept, 3)
	assert.Equal(t, int64(10000), kept[0].Timestamp)
	assert.Equal(t, int64(30000), kept[1].Timestamp)
	assert.Equal(t, int64(70000), kept[2].Timestamp)

	again := prune(kept, 60*time.Second, 100)
	assert.Equal(t, kept, again)
}

func TestPrune_KeepsNewestWithinLimit(t *testing.T) {
	samples := samplesAt(1, 1, 2, 3, 4, 5)

	kept := prune(samples, time.Hour, 2)

	require.Len(t, kept, 2)
	assert.Equal(t, int64(4), kept[0].Timestamp)
	assert.Equal(t, int64(5), kept[1].Timestamp)
}

func TestEMA(t *testing.T) {
	ema := NewEMA(0.2)
	assert.Equal(t, 0.0, ema.Value())

	assert.Equal(t, 42.0, ema.Next(42))
	assert.InDelta(t, 0.2*10+0.8*42, ema.Next(10), 1e-9)

	ema = NewEMA(0.2)
	ema.Next(0)

	for i := 0; i < 100; i++ {
		ema.Next(50)
	}

	assert.InDelta(t, 50.0, ema.Value(), 1e-6)
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name    string
		span    int64
		updates uint64
		want    float64
	}{
		{name: "nothing observed", span: 0, updates: 0, want: 0},
		{name: "half window no data", span: 15000, updates: 0, want: 0.25},
		{name: "full data no span", span: 0, updates: 30, want: 0.5},
		{name: "both saturated", span: 30000, updates: 30, want: 1},
		{name: "clamped above", span: 90000, updates: 3000, want: 1},
		{name: "negative span", span: -5, updates: 15, want: 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Confidence(tt.span, target, tt.updates, 30)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Alpha = 1.5
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Retention = 10 * time.Second
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.MaxHistory = 1
	assert.Error(t, bad.Validate())

	// Zero would be replaced by the default, so it is rejected.
	bad = cfg
	bad.ConfidenceThreshold = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.HighTPSThreshold = 0
	assert.Error(t, bad.Validate())

	low := cfg
	low.ConfidenceThreshold = 0.01
	require.NoError(t, low.Validate())
	assert.Equal(t, 0.01, low.withDefaults().ConfidenceThreshold)

	partial := Config{TargetWindow: 10 * time.Second}.withDefaults()
	assert.Equal(t, 20*time.Second, partial.Retention)
	assert.Equal(t, 100, partial.MaxHistory)
	require.NoError(t, partial.Validate())
}
