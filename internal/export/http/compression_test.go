package http

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressor_RoundTrip(t *testing.T) {
	original := bytes.Repeat([]byte(`{"chain_id":"Polkadot-1000","windowed_tps":15.5}`+"\n"), 20)

	tests := []struct {
		algorithm string
		encoding  string
		shrinks   bool
	}{
		{algorithm: CompressionNone, encoding: ""},
		{algorithm: "", encoding: ""},
		{algorithm: CompressionGzip, encoding: "gzip", shrinks: true},
		{algorithm: CompressionZlib, encoding: "deflate", shrinks: true},
		{algorithm: CompressionZstd, encoding: "zstd", shrinks: true},
		{algorithm: CompressionSnappy, encoding: "snappy", shrinks: true},
	}

	for _, tt := range tests {
		t.Run("algo_"+tt.algorithm, func(t *testing.T) {
			c, err := NewCompressor(tt.algorithm)
			require.NoError(t, err)
			defer c.Close()

			compressed, err := c.Compress(original)
			require.NoError(t, err)

			assert.Equal(t, tt.encoding, c.ContentEncoding())

			if tt.shrinks {
				assert.Less(t, len(compressed), len(original))
			} else {
				assert.Equal(t, original, compressed)
			}

			decompressed, err := Decompress(tt.algorithm, compressed)
			require.NoError(t, err)
			assert.Equal(t, original, decompressed)
		})
	}
}

func TestCompressor_Unsupported(t *testing.T) {
	_, err := NewCompressor("brotli")
	assert.Error(t, err)

	_, err = Decompress("brotli", []byte("x"))
	assert.Error(t, err)
}

func TestDecompress_CorruptInput(t *testing.T) {
	_, err := Decompress(CompressionGzip, []byte("not gzip"))
	assert.Error(t, err)

	_, err = Decompress(CompressionSnappy, []byte{0xff, 0xff, 0xff})
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	negative := -1

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "missing address",
			mutate:  func(c *Config) { c.Address = "" },
			wantErr: "http address is required",
		},
		{
			name:    "zero batch size",
			mutate:  func(c *Config) { c.BatchSize = 0 },
			wantErr: "batch_size must be greater than 0",
		},
		{
			name:    "batch larger than queue",
			mutate:  func(c *Config) { c.BatchSize = c.MaxQueueSize + 1 },
			wantErr: "batch_size cannot be greater than max_queue_size",
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Workers = 0 },
			wantErr: "workers must be greater than 0",
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.MaxRetries = &negative },
			wantErr: "max_retries must not be negative",
		},
		{
			name:    "bad compression",
			mutate:  func(c *Config) { c.Compression = "lz4" },
			wantErr: "invalid compression type: lz4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Address = "http://collector:8080"
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{Address: "http://collector:8080"}
	cfg.ApplyDefaults()

	assert.Equal(t, CompressionZstd, cfg.Compression)
	assert.Equal(t, 256, cfg.BatchSize)
	assert.Equal(t, 2, cfg.Retries())
	assert.True(t, cfg.IsKeepAlive())
	require.NoError(t, cfg.Validate())
}
