package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/paratps/internal/aggregator"
	"github.com/ethpandaops/paratps/internal/source"
)

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func replayFile(t *testing.T) string {
	t.Helper()

	const base = int64(1_700_000_000_000)

	var sb strings.Builder

	for i := int64(0); i < 4; i++ {
		fmt.Fprintf(&sb,
			`{"relay":"Kusama","para_id":2000,"block_number":%d,"extrinsics_num":12,"block_time_seconds":12,"timestamp":%d}`+"\n",
			100+i, base+i*12_000)
	}

	// Filtered relay and a malformed line are dropped.
	sb.WriteString(`{"relay":"Westend","para_id":1000,"block_number":1,"extrinsics_num":1,"timestamp":1700000000000}` + "\n")
	sb.WriteString(`{"relay":"Kusama","para_id":2000}` + "\n")

	path := filepath.Join(t.TempDir(), "updates.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o600))

	return path
}

func TestAgent_ReplayEndToEnd(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Relays = []string{"Kusama"}
	cfg.Source = source.DefaultConfig()
	cfg.Source.Type = source.TypeReplay
	cfg.Source.Path = replayFile(t)
	cfg.Source.Interval = 0
	cfg.ExitOnSourceDone = true
	cfg.Health.Addr = "127.0.0.1:0"
	cfg.API.Enabled = true
	cfg.API.Addr = "127.0.0.1:0"
	cfg.Registry.Overrides = map[string]map[uint32]string{
		"Kusama": {2000: "Karura Network"},
	}
	require.NoError(t, cfg.Validate())

	a, err := New(testLog(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, a.Start(ctx))

	select {
	case <-a.Done():
	case <-ctx.Done():
		t.Fatal("replay did not finish")
	}

	state := a.Snapshot()
	assert.Equal(t, uint64(4), state.UpdateCount)
	require.Len(t, state.Chains, 1)

	chain, ok := state.Chain("Kusama-2000")
	require.True(t, ok)
	assert.Equal(t, "Karura Network", chain.Name)
	assert.Equal(t, uint64(48), chain.AccumulatedExtrinsics)
	// 36 extrinsics after the oldest sample over a 30s span.
	assert.InDelta(t, 1.2, chain.WindowedTPS, 1e-9)

	impl, ok := a.(*agent)
	require.True(t, ok)
	assert.Len(t, impl.feed.Blocks(), 4)

	resp, err := http.Get("http://" + impl.api.Addr() + "/api/v1/snapshot")
	require.NoError(t, err)

	var served aggregator.GlobalState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&served))
	resp.Body.Close()

	assert.Equal(t, uint64(4), served.UpdateCount)

	resp, err = http.Get("http://" + impl.health.Addr() + "/metrics")
	require.NoError(t, err)

	metrics, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Contains(t, string(metrics), "paratps_updates_received_total 6")
	assert.Contains(t, string(metrics), `paratps_updates_filtered_total{relay="Westend"} 1`)
	assert.Contains(t, string(metrics), `paratps_updates_dropped_total{reason="malformed"} 1`)

	require.NoError(t, a.Stop())
}

func TestAgent_KeepsServingAfterSourceDone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Relays = []string{"Kusama"}
	cfg.Source.Type = source.TypeReplay
	cfg.Source.Path = replayFile(t)
	cfg.Source.Interval = 0
	cfg.Health.Addr = "127.0.0.1:0"
	cfg.API.Enabled = true
	cfg.API.Addr = "127.0.0.1:0"
	require.NoError(t, cfg.Validate())

	a, err := New(testLog(), cfg)
	require.NoError(t, err)

	require.NoError(t, a.Start(t.Context()))

	impl, ok := a.(*agent)
	require.True(t, ok)

	select {
	case <-impl.source.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("replay did not finish")
	}

	select {
	case <-a.Done():
		t.Fatal("agent signalled exit without exit_on_source_done")
	case <-time.After(100 * time.Millisecond):
	}

	resp, err := http.Get("http://" + impl.api.Addr() + "/api/v1/snapshot")
	require.NoError(t, err)

	var served aggregator.GlobalState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&served))
	resp.Body.Close()

	assert.Equal(t, uint64(4), served.UpdateCount)

	require.NoError(t, a.Stop())
}

func TestNew_UnknownSource(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Source.Type = "carrier-pigeon"

	_, err := New(testLog(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creating source")
}
