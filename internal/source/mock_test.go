package source

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/paratps/internal/registry"
	"github.com/ethpandaops/paratps/internal/telemetry"
)

func seededMock(seed uint64) *Mock {
	cfg := DefaultConfig()
	cfg.Type = TypeMock
	cfg.Seed = seed

	return NewMock(testLog(), cfg)
}

func TestMock_GenerateProducesValidUpdates(t *testing.T) {
	m := seededMock(42)
	normalizer := telemetry.NewNormalizer(registry.Default(), []string{"Kusama"})

	now := time.UnixMilli(1_700_000_000_000)
	payloads := m.Generate(now)
	require.Len(t, payloads, mockParaCount)

	seen := make(map[uint32]struct{}, mockParaCount)

	for _, payload := range payloads {
		raw, err := telemetry.Decode(payload)
		require.NoError(t, err)

		u, err := normalizer.Normalize(raw)
		require.NoError(t, err)

		assert.Equal(t, "Kusama", u.Relay)
		assert.Equal(t, now.UnixMilli(), u.Timestamp)
		assert.True(t, u.BlockTimeKnown)
		assert.GreaterOrEqual(t, u.BlockTime, 2.0)
		assert.LessOrEqual(t, u.BlockTime, 12.0)

		seen[u.ParaID] = struct{}{}
	}

	assert.Len(t, seen, mockParaCount)
}

func TestMock_SurgeCycle(t *testing.T) {
	m := seededMock(7)
	start := time.UnixMilli(1_700_000_000_000)

	// The first surge begins immediately.
	m.Generate(start)
	assert.Equal(t, phaseRampUp, m.phase)
	assert.InDelta(t, mockNormalTPS, m.TargetTPS(), 1e-9)

	m.Generate(start.Add(mockRampUp / 2))
	midRamp := m.TargetTPS()
	assert.Greater(t, midRamp, mockNormalTPS)
	assert.Less(t, midRamp, mockHighTPS)

	m.Generate(start.Add(mockRampUp))
	assert.Equal(t, phaseHigh, m.phase)
	assert.Equal(t, mockHighTPS, m.TargetTPS())

	plateauEnd := start.Add(mockRampUp + mockPlateau)
	m.Generate(plateauEnd)
	assert.Equal(t, phaseRampDown, m.phase)

	m.Generate(plateauEnd.Add(mockRampDown))
	assert.Equal(t, phaseNormal, m.phase)
	assert.Equal(t, mockNormalTPS, m.TargetTPS())

	gap := m.nextSurge.Sub(plateauEnd.Add(mockRampDown))
	assert.GreaterOrEqual(t, gap, mockMinSurgeGap)
	assert.Less(t, gap, mockMinSurgeGap+mockSurgeGapRange)
}

func TestMock_DistributeRespectsCap(t *testing.T) {
	m := seededMock(99)

	for _, total := range []float64{0, 100, 5000, mockHighTPS} {
		shares := m.distribute(total)
		require.Len(t, shares, mockParaCount)

		var sum float64
		for _, s := range shares {
			assert.GreaterOrEqual(t, s, 0.0)
			assert.LessOrEqual(t, s, mockParaTPSCap)
			sum += s
		}

		assert.InDelta(t, total, sum, 1e-6)
	}
}

func TestMock_BlockTimeShrinksUnderLoad(t *testing.T) {
	m := seededMock(1)

	base := m.blockTime(5, 10)
	assert.GreaterOrEqual(t, base, 6.0)
	assert.Less(t, base, 12.0)

	assert.Equal(t, 6.0, m.blockTime(5, 1500))
	assert.Equal(t, 3.0, m.blockTime(5, 2500))
	assert.Equal(t, 2.0, m.blockTime(5, 3100))
	assert.Equal(t, base, m.blockTime(5, 10))
}

func TestMock_Deterministic(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)

	a := seededMock(1234).Generate(now)
	b := seededMock(1234).Generate(now)

	assert.Equal(t, a, b)
}

func TestMock_StartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Type = TypeMock
	cfg.Interval = 10 * time.Millisecond
	cfg.Seed = 3

	m := NewMock(testLog(), cfg)
	c := &collector{}

	require.NoError(t, m.Start(context.Background(), c.handle))

	require.Eventually(t, func() bool {
		return len(c.all()) >= 2*mockParaCount
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())

	select {
	case <-m.Done():
	default:
		t.Fatal("mock not stopped")
	}
}
