package telemetry

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/paratps/internal/registry"
)

func newTestNormalizer() *Normalizer {
	return NewNormalizer(registry.Default(), []string{"Polkadot", "Kusama"})
}

func mustDecode(t *testing.T, payload string) RawUpdate {
	t.Helper()

	raw, err := Decode([]byte(payload))
	require.NoError(t, err)

	return raw
}

func TestNormalize_FlatWeight(t *testing.T) {
	raw := mustDecode(t, `{
		"relay": "Kusama",
		"para_id": 2000,
		"block_number": 123456,
		"extrinsics_num": 12,
		"block_time_seconds": 6,
		"timestamp": 1700000000000,
		"total_proof_size": 0.42
	}`)

	u, err := newTestNormalizer().Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, "Kusama-2000", u.ChainID)
	assert.Equal(t, "Kusama", u.Relay)
	assert.Equal(t, uint32(2000), u.ParaID)
	assert.Equal(t, "Karura", u.Name)
	assert.Equal(t, uint64(123456), u.BlockNumber)
	assert.Equal(t, uint64(12), u.Extrinsics)
	assert.Equal(t, 6.0, u.BlockTime)
	assert.True(t, u.BlockTimeKnown)
	assert.Equal(t, int64(1700000000000), u.Timestamp)
	assert.InDelta(t, 0.42, u.Weight, 1e-9)
}

func TestNormalize_SplitWeight(t *testing.T) {
	raw := mustDecode(t, `{
		"relay": "Polkadot",
		"para_id": 1000,
		"block_number": 1,
		"extrinsics_num": 3,
		"block_time_seconds": 12,
		"timestamp": 1700000000000,
		"proof_size": {"normal": 100, "operational": 20, "mandatory": 5},
		"ref_time": {"normal": 1000, "mandatory": 1}
	}`)

	u, err := newTestNormalizer().Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, 125.0, u.Weight)
	assert.Equal(t, 1001.0, u.RefTime)
	assert.Equal(t, "AssetHub", u.Name)
}

func TestNormalize_ScalarInSplitField(t *testing.T) {
	raw := mustDecode(t, `{
		"relay": "Polkadot",
		"para_id": 1000,
		"block_number": 1,
		"extrinsics_num": 3,
		"timestamp": 1700000000000,
		"proof_size": 77,
		"ref_time": null
	}`)

	u, err := newTestNormalizer().Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, 77.0, u.Weight)
	assert.Equal(t, 0.0, u.RefTime)
}

func TestNormalize_UnknownBlockTime(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{
			name:    "absent",
			payload: `{"relay":"Kusama","para_id":1,"block_number":1,"extrinsics_num":1,"timestamp":1}`,
		},
		{
			name:    "zero",
			payload: `{"relay":"Kusama","para_id":1,"block_number":1,"extrinsics_num":1,"timestamp":1,"block_time_seconds":0}`,
		},
		{
			name:    "negative",
			payload: `{"relay":"Kusama","para_id":1,"block_number":1,"extrinsics_num":1,"timestamp":1,"block_time_seconds":-6}`,
		},
		{
			name:    "null",
			payload: `{"relay":"Kusama","para_id":1,"block_number":1,"extrinsics_num":1,"timestamp":1,"block_time_seconds":null}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := newTestNormalizer().Normalize(mustDecode(t, tt.payload))
			require.NoError(t, err)
			assert.False(t, u.BlockTimeKnown)
			assert.Equal(t, 0.0, u.BlockTime)
		})
	}
}

func TestNormalize_FallbackName(t *testing.T) {
	raw := mustDecode(t, `{"relay":"kusama","para_id":4321,"block_number":1,"extrinsics_num":1,"timestamp":1}`)

	u, err := newTestNormalizer().Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, "Kusama", u.Relay)
	assert.Equal(t, "Kusama-4321", u.Name)
	assert.Equal(t, "Kusama-4321", u.ChainID)
}

func TestNormalize_RelayFiltered(t *testing.T) {
	raw := mustDecode(t, `{"relay":"Westend","para_id":1000,"block_number":1,"extrinsics_num":1,"timestamp":1}`)

	_, err := newTestNormalizer().Normalize(raw)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRelayFiltered))
	assert.False(t, errors.Is(err, ErrMalformed))
}

func TestNormalize_EmptyRelayListAcceptsAll(t *testing.T) {
	n := NewNormalizer(registry.Default(), nil)
	raw := mustDecode(t, `{"relay":"Westend","para_id":1000,"block_number":1,"extrinsics_num":1,"timestamp":1}`)

	u, err := n.Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, "Assethub", u.Name)
}

func TestNormalize_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{
			name:    "missing relay",
			payload: `{"para_id":1,"block_number":1,"extrinsics_num":1,"timestamp":1}`,
			want:    "missing relay",
		},
		{
			name:    "missing para id",
			payload: `{"relay":"Kusama","block_number":1,"extrinsics_num":1,"timestamp":1}`,
			want:    "missing para_id",
		},
		{
			name:    "negative extrinsics",
			payload: `{"relay":"Kusama","para_id":1,"block_number":1,"extrinsics_num":-2,"timestamp":1}`,
			want:    "invalid extrinsics_num",
		},
		{
			name:    "fractional para id",
			payload: `{"relay":"Kusama","para_id":1.5,"block_number":1,"extrinsics_num":1,"timestamp":1}`,
			want:    "invalid para_id",
		},
		{
			name:    "missing timestamp",
			payload: `{"relay":"Kusama","para_id":1,"block_number":1,"extrinsics_num":1}`,
			want:    "timestamp",
		},
		{
			name:    "extrinsics at 2^64",
			payload: `{"relay":"Kusama","para_id":1,"block_number":1,"extrinsics_num":18446744073709551616,"timestamp":1}`,
			want:    "invalid extrinsics_num",
		},
		{
			name:    "para id above uint32",
			payload: `{"relay":"Kusama","para_id":4294967296,"block_number":1,"extrinsics_num":1,"timestamp":1}`,
			want:    "invalid para_id",
		},
		{
			name:    "missing block number",
			payload: `{"relay":"Kusama","para_id":1,"extrinsics_num":1,"timestamp":1}`,
			want:    "missing block_number",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestNormalizer().Normalize(mustDecode(t, tt.payload))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNormalize_MaxParaID(t *testing.T) {
	u, err := newTestNormalizer().Normalize(mustDecode(t,
		`{"relay":"Kusama","para_id":4294967295,"block_number":1,"extrinsics_num":1,"timestamp":1}`))
	require.NoError(t, err)
	assert.Equal(t, uint32(math.MaxUint32), u.ParaID)
}

func TestDecode_InvalidJSON(t *testing.T) {
	for _, payload := range []string{
		`not json`,
		`{"relay": "Kusama", "para_id": "two"}`,
		`{"relay": "Kusama", "proof_size": "big"}`,
	} {
		_, err := Decode([]byte(payload))
		require.Error(t, err, payload)
		assert.True(t, errors.Is(err, ErrMalformed), payload)
	}
}

func TestWeightParts_TotalNil(t *testing.T) {
	var w *WeightParts
	assert.Equal(t, 0.0, w.Total())
}
