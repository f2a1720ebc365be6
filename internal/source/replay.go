package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
)

// Replay reads newline-delimited JSON updates from a file. Blank lines
// are skipped.
type Replay struct {
	log logrus.FieldLogger
	cfg Config

	mu    sync.Mutex
	err   error
	lines uint64

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

var _ Source = (*Replay)(nil)

// NewReplay creates a replay source.
func NewReplay(log logrus.FieldLogger, cfg Config) *Replay {
	return &Replay{
		log:  log.WithField("component", "replay"),
		cfg:  cfg,
		done: make(chan struct{}),
	}
}

func (r *Replay) Name() string { return TypeReplay }

func (r *Replay) Done() <-chan struct{} { return r.done }

// Err returns the error that ended the replay early, if any.
func (r *Replay) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.err
}

// Lines returns the number of payloads delivered so far.
func (r *Replay) Lines() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.lines
}

func (r *Replay) Start(ctx context.Context, handler Handler) error {
	reader, closeFn, err := openReplay(r.cfg.Path)
	if err != nil {
		return err
	}

	ctx, r.cancel = context.WithCancel(ctx)

	go func() {
		defer close(r.done)
		defer closeFn()

		err := r.replay(ctx, reader, handler)

		r.mu.Lock()
		r.err = err
		lines := r.lines
		r.mu.Unlock()

		log := r.log.WithField("lines", lines)
		if err != nil {
			log.WithError(err).Error("Replay stopped")

			return
		}

		log.Info("Replay finished")
	}()

	r.log.WithField("path", r.cfg.Path).Info("Replay source started")

	return nil
}

func (r *Replay) Stop() error {
	r.stopOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
			<-r.done
		}
	})

	return nil
}

func (r *Replay) replay(ctx context.Context, in io.Reader, handler Handler) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var ticker *time.Ticker
	if r.cfg.Interval > 0 {
		ticker = time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
	}

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		if ticker != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		} else if ctx.Err() != nil {
			return nil
		}

		handler(bytes.Clone(line))

		r.mu.Lock()
		r.lines++
		r.mu.Unlock()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading %s: %w", r.cfg.Path, err)
	}

	return nil
}

func openReplay(path string) (io.Reader, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening replay file: %w", err)
	}

	if !strings.HasSuffix(path, ".zst") {
		return f, func() { f.Close() }, nil
	}

	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()

		return nil, nil, fmt.Errorf("creating zstd reader: %w", err)
	}

	return dec, func() {
		dec.Close()
		f.Close()
	}, nil
}
