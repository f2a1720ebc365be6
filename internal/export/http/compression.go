package http

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Compression algorithms.
const (
	CompressionNone   = "none"
	CompressionGzip   = "gzip"
	CompressionZstd   = "zstd"
	CompressionZlib   = "zlib"
	CompressionSnappy = "snappy"
)

// codec pairs an algorithm with its Content-Encoding token.
type codec struct {
	encoding string
	encode   func(c *Compressor, data []byte) ([]byte, error)
	decode   func(data []byte) ([]byte, error)
}

var codecs = map[string]codec{
	CompressionNone: {
		encode: func(_ *Compressor, data []byte) ([]byte, error) { return data, nil },
		decode: func(data []byte) ([]byte, error) { return data, nil },
	},
	CompressionGzip: {
		encoding: "gzip",
		encode: func(_ *Compressor, data []byte) ([]byte, error) {
			return writeThrough(data, func(w io.Writer) io.WriteCloser { return gzip.NewWriter(w) })
		},
		decode: func(data []byte) ([]byte, error) {
			r, err := gzip.NewReader(bytes.NewReader(data))
			if err != nil {
				return nil, err
			}
			defer r.Close()

			return io.ReadAll(r)
		},
	},
	CompressionZlib: {
		encoding: "deflate",
		encode: func(_ *Compressor, data []byte) ([]byte, error) {
			return writeThrough(data, func(w io.Writer) io.WriteCloser { return zlib.NewWriter(w) })
		},
		decode: func(data []byte) ([]byte, error) {
			r, err := zlib.NewReader(bytes.NewReader(data))
			if err != nil {
				return nil, err
			}
			defer r.Close()

			return io.ReadAll(r)
		},
	},
	CompressionZstd: {
		encoding: "zstd",
		encode: func(c *Compressor, data []byte) ([]byte, error) {
			return c.zstd.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
		},
		decode: func(data []byte) ([]byte, error) {
			dec, err := zstd.NewReader(nil)
			if err != nil {
				return nil, err
			}
			defer dec.Close()

			return dec.DecodeAll(data, nil)
		},
	},
	CompressionSnappy: {
		encoding: "snappy",
		encode: func(_ *Compressor, data []byte) ([]byte, error) {
			return snappy.Encode(nil, data), nil
		},
		decode: func(data []byte) ([]byte, error) {
			return snappy.Decode(nil, data)
		},
	},
}

// Compressor encodes request bodies with one algorithm.
type Compressor struct {
	codec codec
	zstd  *zstd.Encoder
}

// NewCompressor creates a Compressor. An empty algorithm means none.
func NewCompressor(algorithm string) (*Compressor, error) {
	if algorithm == "" {
		algorithm = CompressionNone
	}

	cd, ok := codecs[algorithm]
	if !ok {
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}

	c := &Compressor{codec: cd}

	// The zstd encoder is reused across requests.
	if algorithm == CompressionZstd {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}

		c.zstd = enc
	}

	return c, nil
}

// Compress encodes data.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	out, err := c.codec.encode(c, data)
	if err != nil {
		return nil, fmt.Errorf("compressing: %w", err)
	}

	return out, nil
}

// ContentEncoding returns the Content-Encoding header value, or "" for
// uncompressed bodies.
func (c *Compressor) ContentEncoding() string {
	return c.codec.encoding
}

// Close releases encoder resources.
func (c *Compressor) Close() error {
	if c.zstd != nil {
		return c.zstd.Close()
	}

	return nil
}

// Decompress reverses Compress for the given algorithm. Collectors and
// tests use it to read request bodies.
func Decompress(algorithm string, data []byte) ([]byte, error) {
	if algorithm == "" {
		algorithm = CompressionNone
	}

	cd, ok := codecs[algorithm]
	if !ok {
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}

	return cd.decode(data)
}

func writeThrough(data []byte, wrap func(io.Writer) io.WriteCloser) ([]byte, error) {
	var buf bytes.Buffer

	w := wrap(&buf)

	if _, err := w.Write(data); err != nil {
		return nil, err
	}

	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
