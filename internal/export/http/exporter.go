// Package http ships snapshot rows to an HTTP collector as NDJSON.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/sirupsen/logrus"
)

// Error types reported to the error hook.
const (
	ErrorTypeEncode    = "encode"
	ErrorTypeTransport = "transport"
	ErrorTypeStatus    = "status"
)

// ErrorHook observes failed requests. It is called once per failed
// attempt, including attempts that are retried.
type ErrorHook func(errorType string)

// Option configures an Exporter.
type Option func(*options)

type options struct {
	onError ErrorHook
}

// WithErrorHook installs a hook for failed requests.
func WithErrorHook(fn ErrorHook) Option {
	return func(o *options) {
		o.onError = fn
	}
}

// statusError is returned for non-2xx responses.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.code)
}

// retryable reports whether another attempt may succeed. Client errors
// are final.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}

	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Exporter implements processor.ItemExporter for HTTP NDJSON export.
type Exporter[T any] struct {
	cfg        Config
	client     *http.Client
	compressor *Compressor
	onError    ErrorHook
	log        logrus.FieldLogger
}

var _ processor.ItemExporter[any] = (*Exporter[any])(nil)

// NewExporter creates a new HTTP exporter.
func NewExporter[T any](log logrus.FieldLogger, cfg Config, opts ...Option) (*Exporter[T], error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	compressor, err := NewCompressor(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("creating compressor: %w", err)
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.Workers * 2,
		MaxIdleConnsPerHost: cfg.Workers * 2,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   !cfg.IsKeepAlive(),
	}

	return &Exporter[T]{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.ExportTimeout,
		},
		compressor: compressor,
		onError:    o.onError,
		log:        log.WithField("component", "http_exporter"),
	}, nil
}

// ExportItems encodes items as NDJSON and POSTs them, retrying
// transport failures and 5xx responses with exponential backoff.
func (e *Exporter[T]) ExportItems(ctx context.Context, items []*T) error {
	if len(items) == 0 {
		return nil
	}

	body, raw, err := e.encode(items)
	if err != nil {
		e.reportError(ErrorTypeEncode)

		return err
	}

	retries := e.cfg.Retries()
	backoff := e.cfg.RetryBackoff

	for attempt := 0; ; attempt++ {
		err = e.send(ctx, body)
		if err == nil {
			e.log.WithFields(logrus.Fields{
				"items":      len(items),
				"bytes":      raw,
				"compressed": len(body),
				"attempt":    attempt + 1,
			}).Debug("Exported batch via HTTP")

			return nil
		}

		var se *statusError
		if errors.As(err, &se) {
			e.reportError(ErrorTypeStatus)
		} else {
			e.reportError(ErrorTypeTransport)
		}

		if attempt >= retries || !retryable(err) {
			return err
		}

		e.log.WithError(err).WithField("attempt", attempt+1).Debug("Retrying HTTP export")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
	}
}

func (e *Exporter[T]) encode(items []*T) ([]byte, int, error) {
	var buf bytes.Buffer
	buf.Grow(len(items) * 256)

	encoder := json.NewEncoder(&buf)

	for _, item := range items {
		if item == nil {
			continue
		}

		if err := encoder.Encode(item); err != nil {
			return nil, 0, fmt.Errorf("encoding item: %w", err)
		}
	}

	compressed, err := e.compressor.Compress(buf.Bytes())
	if err != nil {
		return nil, 0, fmt.Errorf("compressing data: %w", err)
	}

	return compressed, buf.Len(), nil
}

func (e *Exporter[T]) send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Address, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-ndjson")

	if encoding := e.compressor.ContentEncoding(); encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	for k, v := range e.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}

	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode}
	}

	return nil
}

func (e *Exporter[T]) reportError(errorType string) {
	if e.onError != nil {
		e.onError(errorType)
	}
}

// Shutdown shuts down the exporter.
func (e *Exporter[T]) Shutdown(_ context.Context) error {
	if e.compressor != nil {
		return e.compressor.Close()
	}

	return nil
}

// NewProcessor creates a BatchItemProcessor backed by an Exporter.
func NewProcessor[T any](
	log logrus.FieldLogger,
	cfg Config,
	name string,
	opts ...Option,
) (*processor.BatchItemProcessor[T], error) {
	cfg.ApplyDefaults()

	exporter, err := NewExporter[T](log, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating exporter: %w", err)
	}

	proc, err := processor.NewBatchItemProcessor[T](
		exporter,
		name,
		log,
		processor.WithMaxQueueSize(cfg.MaxQueueSize),
		processor.WithBatchTimeout(cfg.BatchTimeout),
		processor.WithExportTimeout(cfg.ExportTimeout),
		processor.WithMaxExportBatchSize(cfg.BatchSize),
		processor.WithWorkers(cfg.Workers),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processor: %w", err)
	}

	return proc, nil
}
