package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/paratps/internal/export"
	"github.com/ethpandaops/paratps/internal/version"
)

// ErrMaxReconnects is reported when the stream gives up reconnecting.
var ErrMaxReconnects = errors.New("max reconnect attempts reached")

// Stream consumes updates from a server-sent events endpoint and
// reconnects with exponential backoff.
type Stream struct {
	log    logrus.FieldLogger
	cfg    Config
	health *export.HealthMetrics
	client *http.Client

	mu   sync.Mutex
	body io.ReadCloser
	err  error

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

var _ Source = (*Stream)(nil)

// NewStream creates a stream source. health may be nil.
func NewStream(
	log logrus.FieldLogger,
	cfg Config,
	health *export.HealthMetrics,
) *Stream {
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = time.Second
	}

	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = max(time.Minute, cfg.ReconnectBaseDelay)
	}

	return &Stream{
		log:    log.WithField("component", "stream"),
		cfg:    cfg,
		health: health,
		client: &http.Client{},
		done:   make(chan struct{}),
	}
}

func (s *Stream) Name() string { return TypeStream }

func (s *Stream) Done() <-chan struct{} { return s.done }

// Err returns the reason the stream stopped, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

func (s *Stream) Start(ctx context.Context, handler Handler) error {
	ctx, s.cancel = context.WithCancel(ctx)

	go s.run(ctx, handler)

	s.log.WithField("url", s.cfg.URL).Info("Stream source started")

	return nil
}

// Stop cancels the connection and closes the current response body.
func (s *Stream) Stop() error {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}

		s.mu.Lock()
		if s.body != nil {
			s.body.Close()
			s.body = nil
		}
		s.mu.Unlock()

		if s.cancel != nil {
			<-s.done
		}
	})

	return nil
}

func (s *Stream) run(ctx context.Context, handler Handler) {
	defer close(s.done)

	attempts := 0

	for {
		connected, err := s.consume(ctx, handler)
		s.setConnected(false)

		if ctx.Err() != nil {
			return
		}

		if connected {
			attempts = 0
		}

		if attempts >= s.cfg.MaxReconnectAttempts {
			s.fail(fmt.Errorf("%w (%d): %w", ErrMaxReconnects, attempts, err))

			return
		}

		delay := reconnectDelay(s.cfg.ReconnectBaseDelay, s.cfg.ReconnectMaxDelay, attempts)
		attempts++

		if s.health != nil {
			s.health.StreamReconnects.Inc()
		}

		s.log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempts,
			"delay":   delay,
		}).Warn("Stream disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// reconnectDelay doubles base per attempt, capped at limit.
func reconnectDelay(base, limit time.Duration, attempt int) time.Duration {
	delay := base

	for i := 0; i < attempt && delay < limit; i++ {
		delay *= 2
	}

	return min(delay, limit)
}

// consume opens one connection and reads it until it ends. connected
// reports whether the server accepted the connection.
func (s *Stream) consume(ctx context.Context, handler Handler) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("connecting to %s: %w", s.cfg.URL, err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()

		return false, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	s.mu.Lock()
	s.body = resp.Body
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.body != nil {
			s.body.Close()
			s.body = nil
		}
		s.mu.Unlock()
	}()

	s.setConnected(true)
	s.log.Info("Connected to event stream")

	err = readEvents(resp.Body, func(ev event) {
		if s.health != nil {
			s.health.StreamEvents.WithLabelValues(ev.name).Inc()
		}

		if s.cfg.Event != "" && ev.name != s.cfg.Event {
			return
		}

		handler(ev.data)
	})
	if err != nil {
		return true, fmt.Errorf("reading stream: %w", err)
	}

	return true, io.ErrUnexpectedEOF
}

func (s *Stream) setConnected(connected bool) {
	if s.health == nil {
		return
	}

	if connected {
		s.health.StreamConnected.Set(1)
	} else {
		s.health.StreamConnected.Set(0)
	}
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()

	s.log.WithError(err).Error("Stream source giving up")
}
