package sink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/paratps/internal/aggregator"
	"github.com/ethpandaops/paratps/internal/export"
)

var slotStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func testState(updates uint64) *aggregator.GlobalState {
	return &aggregator.GlobalState{
		Chains: map[string]aggregator.ChainState{
			"Polkadot-2004": {
				ID: "Polkadot-2004", Name: "Moonbeam", Relay: "Polkadot", ParaID: 2004,
				BlockNumber: 10, Extrinsics: 12, BlockTime: 6,
				AccumulatedExtrinsics: 40, Updates: 3, WindowedTPS: 2, MaxTPS: 3,
			},
			"Polkadot-1000": {
				ID: "Polkadot-1000", Name: "AssetHub", Relay: "Polkadot", ParaID: 1000,
				BlockNumber: 20, Extrinsics: 30, BlockTime: 12,
				AccumulatedExtrinsics: 60, Updates: 5, WindowedTPS: 5, MaxTPS: 5,
			},
		},
		WindowedTPS: 7,
		EMATPS:      6.5,
		SpanMs:      12_000,
		Confidence:  0.4,
		UpdateCount: updates,
		UpdatedAt:   slotStart.Add(time.Second),
	}
}

func TestRows(t *testing.T) {
	state := testState(8)
	slot := Slot{Number: 42, Start: slotStart}
	meta := Meta{InstanceName: "paratps-1", NetworkName: "polkadot"}

	g := globalRow(state, slot, meta)
	assert.Equal(t, uint64(42), g.WallclockSlot)
	assert.Equal(t, slotStart, g.WallclockSlotStartDateTime)
	assert.Equal(t, 7.0, g.WindowedTPS)
	assert.Equal(t, uint32(2), g.ChainCount)
	assert.Equal(t, uint64(100), g.TotalExtrinsics)
	assert.Equal(t, "polkadot", g.MetaNetworkName)

	chains := chainRows(state, slot, meta)
	require.Len(t, chains, 2)
	assert.Equal(t, "Polkadot-1000", chains[0].ChainID)
	assert.Equal(t, "AssetHub", chains[0].ChainName)
	assert.Equal(t, "Polkadot-2004", chains[1].ChainID)
	assert.Equal(t, 3.0, chains[1].MaxTPS)
	assert.Equal(t, "paratps-1", chains[1].MetaInstanceName)

	rows := snapshotRows(state, slot, meta)
	require.Len(t, rows, 3)
	assert.Equal(t, KindGlobal, rows[0].Kind)
	assert.NotNil(t, rows[0].Global)
	assert.Equal(t, KindChain, rows[2].Kind)
	assert.Equal(t, "Polkadot-2004", rows[2].Chain.ChainID)
}

func TestLatest_TakeOncePerSnapshot(t *testing.T) {
	var l latest

	assert.Nil(t, l.take())

	s1 := testState(1)
	l.store(s1)
	assert.Same(t, s1, l.take())
	assert.Nil(t, l.take())

	l.store(nil)
	assert.Nil(t, l.take())

	s2 := testState(2)
	l.store(s2)
	assert.Same(t, s2, l.take())
}

func TestLogSink(t *testing.T) {
	log, hook := test.NewNullLogger()
	health := export.NewHealthMetrics(log, export.HealthConfig{})

	s := NewLogSink(log, LogConfig{Enabled: true, TopChains: 1}, health)
	require.NoError(t, s.Start(context.Background()))

	s.OnSlotChanged(1, slotStart)

	s.HandleSnapshot(testState(3))
	s.OnSlotChanged(2, slotStart)
	s.OnSlotChanged(3, slotStart)

	var lines []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Message == "Throughput" {
			lines = append(lines, e)
		}
	}

	require.Len(t, lines, 1)
	assert.Equal(t, uint64(2), lines[0].Data["slot"])
	assert.Equal(t, []string{"AssetHub"}, lines[0].Data["leaders"])
	assert.NoError(t, s.Stop())
}

type fakeWriter struct {
	mu      sync.Mutex
	globals []GlobalRow
	chains  []ChainRow
	fail    error
	started bool
	stopped bool
}

func (w *fakeWriter) Start(context.Context) error {
	w.started = true

	return nil
}

func (w *fakeWriter) Stop() error {
	w.stopped = true

	return nil
}

func (w *fakeWriter) Config() export.ClickHouseConfig {
	return export.ClickHouseConfig{
		Database:        "paratps",
		GlobalTable:     "global_throughput",
		ChainTable:      "chain_throughput",
		MetaNetworkName: "kusama",
	}
}

func (w *fakeWriter) QualifiedTable(table string) string { return "paratps." + table }

func (w *fakeWriter) WriteGlobal(_ context.Context, _ string, rows []GlobalRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fail != nil {
		return w.fail
	}

	w.globals = append(w.globals, rows...)

	return nil
}

func (w *fakeWriter) WriteChains(_ context.Context, _ string, rows []ChainRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.chains = append(w.chains, rows...)

	return nil
}

func (w *fakeWriter) counts() (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.globals), len(w.chains)
}

func TestClickHouseSink_FlushesPerSlot(t *testing.T) {
	w := &fakeWriter{}
	s := newClickHouseSink(testLog(), ClickHouseConfig{Enabled: true}, w, nil)

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, w.started)

	s.HandleSnapshot(testState(1))
	s.OnSlotChanged(10, slotStart)

	require.Eventually(t, func() bool {
		g, c := w.counts()

		return g == 1 && c == 2
	}, time.Second, 5*time.Millisecond)

	// Unchanged snapshot: nothing new.
	s.OnSlotChanged(11, slotStart.Add(6*time.Second))

	s.HandleSnapshot(testState(2))
	s.OnSlotChanged(12, slotStart.Add(12*time.Second))

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.True(t, w.stopped)

	g, c := w.counts()
	assert.Equal(t, 2, g)
	assert.Equal(t, 4, c)
	assert.Equal(t, "kusama", w.globals[0].MetaNetworkName)
	assert.Equal(t, uint64(12), w.globals[1].WallclockSlot)
}

func TestClickHouseSink_FlushErrorCounted(t *testing.T) {
	health := export.NewHealthMetrics(testLog(), export.HealthConfig{})
	w := &fakeWriter{fail: errors.New("boom")}
	s := newClickHouseSink(testLog(), ClickHouseConfig{Enabled: true}, w, health)

	s.flush(context.Background(), flushRequest{state: testState(1), slot: Slot{Number: 1}})

	g, c := w.counts()
	assert.Zero(t, g)
	assert.Equal(t, 2, c)
}

func TestClickHouseSink_StopWithoutStart(t *testing.T) {
	w := &fakeWriter{}
	s := newClickHouseSink(testLog(), ClickHouseConfig{}, w, nil)

	assert.NoError(t, s.Stop())
	assert.True(t, w.stopped)
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{}
	assert.NoError(t, cfg.Validate())

	cfg.ClickHouse.Enabled = true
	assert.Error(t, cfg.Validate())

	cfg.ClickHouse.Endpoint = "localhost:9000"
	cfg.ClickHouse.Database = "paratps"
	assert.NoError(t, cfg.Validate())

	cfg.HTTP.Enabled = true
	assert.Error(t, cfg.Validate())
}
