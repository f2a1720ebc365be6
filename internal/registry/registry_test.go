package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)

	return log
}

func TestDefault_KnownChains(t *testing.T) {
	r := Default()

	tests := []struct {
		relay  string
		paraID uint32
		want   string
	}{
		{relay: "Kusama", paraID: 2000, want: "Karura"},
		{relay: "Kusama", paraID: 1001, want: "Encointer"},
		{relay: "Polkadot", paraID: 2004, want: "Moonbeam"},
		{relay: "Westend", paraID: 2022, want: "YAP2022"},
		{relay: "kusama", paraID: 2023, want: "Moonriver"},
	}

	for _, tt := range tests {
		name, ok := r.Lookup(tt.relay, tt.paraID)
		require.True(t, ok, "%s/%d", tt.relay, tt.paraID)
		assert.Equal(t, tt.want, name)
	}
}

func TestDisplayName_Fallback(t *testing.T) {
	r := Default()

	assert.Equal(t, "Kusama-9999", r.DisplayName("Kusama", 9999))
	assert.Equal(t, "Rococo-1000", r.DisplayName("Rococo", 1000))
}

func TestCanonicalRelay(t *testing.T) {
	r := Default()

	relay, ok := r.CanonicalRelay("  POLKADOT ")
	require.True(t, ok)
	assert.Equal(t, RelayPolkadot, relay)

	_, ok = r.CanonicalRelay("rococo")
	assert.False(t, ok)
}

func TestMerge_OverridesAndNewRelay(t *testing.T) {
	r := Default()

	r.Merge(map[string]map[uint32]string{
		"kusama": {2000: "Karura (override)"},
		"Paseo":  {1000: "Paseo AssetHub"},
	})

	name, ok := r.Lookup("Kusama", 2000)
	require.True(t, ok)
	assert.Equal(t, "Karura (override)", name)

	name, ok = r.Lookup("paseo", 1000)
	require.True(t, ok)
	assert.Equal(t, "Paseo AssetHub", name)

	assert.Equal(t, []string{"Kusama", "Paseo", "Polkadot", "Westend"}, r.Relays())
}

func TestBuiltinTablesAreIndependent(t *testing.T) {
	a := Default()
	b := Default()

	a.Merge(map[string]map[uint32]string{"Kusama": {2000: "changed"}})

	name, _ := b.Lookup("Kusama", 2000)
	assert.Equal(t, "Karura", name)
}

func TestFetcher_FetchInto(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]map[string]string{
			"Kusama": {"4242": "Example"},
		})
	}))
	t.Cleanup(server.Close)

	r := Default()
	before := r.Len("Kusama")

	f := NewFetcher(testLog(), 5*time.Second)
	require.NoError(t, f.FetchInto(context.Background(), server.URL, r))

	name, ok := r.Lookup("Kusama", 4242)
	require.True(t, ok)
	assert.Equal(t, "Example", name)
	assert.Equal(t, before+1, r.Len("Kusama"))
}

func TestFetcher_InvalidParaID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"Kusama": {"abc": "Broken"}}`))
	}))
	t.Cleanup(server.Close)

	_, err := NewFetcher(testLog(), 0).Fetch(context.Background(), server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing para id")
}

func TestFetcher_BadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	_, err := NewFetcher(testLog(), 0).Fetch(context.Background(), server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 503")
}
