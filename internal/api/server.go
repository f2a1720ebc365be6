// Package api serves the latest throughput snapshot over HTTP and
// pushes live snapshots to WebSocket clients.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/paratps/internal/aggregator"
	"github.com/ethpandaops/paratps/internal/export"
)

// Snapshotter returns the newest aggregator snapshot.
type Snapshotter interface {
	Snapshot() *aggregator.GlobalState
}

// Feed returns recent blocks.
type Feed interface {
	Blocks() []aggregator.Block
	Observed() uint64
	DistinctEstimate() uint64
}

// LeaderboardResponse is the body of /api/v1/leaderboard.
type LeaderboardResponse struct {
	Chains     []aggregator.ChainState `json:"chains"`
	HighTPS    []string                `json:"high_tps"`
	UpdatedAt  time.Time               `json:"updated_at"`
	Confidence float64                 `json:"confidence"`
}

// BlocksResponse is the body of /api/v1/blocks.
type BlocksResponse struct {
	Blocks   []aggregator.Block `json:"blocks"`
	Observed uint64             `json:"observed"`
	Distinct uint64             `json:"distinct"`
}

// Server is the read API.
type Server struct {
	log           logrus.FieldLogger
	cfg           Config
	snapshots     Snapshotter
	feed          Feed
	highThreshold float64
	hub           *hub
	upgrader      websocket.Upgrader

	server   *http.Server
	listener net.Listener
	done     chan struct{}
	stopOnce sync.Once
}

// NewServer creates an API server. feed and health may be nil.
func NewServer(
	log logrus.FieldLogger,
	cfg Config,
	snapshots Snapshotter,
	feed Feed,
	highThreshold float64,
	health *export.HealthMetrics,
) *Server {
	d := DefaultConfig()

	if cfg.Addr == "" {
		cfg.Addr = d.Addr
	}

	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = d.ClientBuffer
	}

	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = d.WriteTimeout
	}

	if cfg.PingInterval <= 0 {
		cfg.PingInterval = d.PingInterval
	}

	log = log.WithField("component", "api")

	return &Server{
		log:           log,
		cfg:           cfg,
		snapshots:     snapshots,
		feed:          feed,
		highThreshold: highThreshold,
		hub:           newHub(log, cfg, health),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Read-only public data; any origin may subscribe.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		done: make(chan struct{}),
	}
}

// HandleSnapshot queues a snapshot for WebSocket clients. It is safe
// to register as an aggregator subscriber.
func (s *Server) HandleSnapshot(state *aggregator.GlobalState) {
	s.hub.publish(state)
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/v1/leaderboard", s.handleLeaderboard)
	mux.HandleFunc("GET /api/v1/blocks", s.handleBlocks)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	return mux
}

// Start listens and serves in the background.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.hub.run(s.done)

	go func() {
		s.log.WithField("addr", ln.Addr().String()).Info("API server started")

		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("API server error")
		}
	}()

	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}

	return s.cfg.Addr
}

// Stop closes the listener and disconnects WebSocket clients.
func (s *Server) Stop() error {
	var err error

	s.stopOnce.Do(func() {
		close(s.done)

		if s.server != nil {
			err = s.server.Close()
		}
	})

	return err
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	state := s.snapshots.Snapshot()

	if r.URL.Query().Get("history") != "true" {
		state = state.WithoutHistory()
	}

	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 10

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})

			return
		}

		limit = n
	}

	state := s.snapshots.Snapshot()

	chains := state.Leaderboard(limit)
	for i := range chains {
		chains[i].History = nil
	}

	high := state.HighTPS(s.highThreshold)
	highIDs := make([]string, 0, len(high))

	for _, c := range high {
		highIDs = append(highIDs, c.ID)
	}

	writeJSON(w, http.StatusOK, LeaderboardResponse{
		Chains:     chains,
		HighTPS:    highIDs,
		UpdatedAt:  state.UpdatedAt,
		Confidence: state.Confidence,
	})
}

func (s *Server) handleBlocks(w http.ResponseWriter, _ *http.Request) {
	if s.feed == nil {
		writeJSON(w, http.StatusOK, BlocksResponse{Blocks: []aggregator.Block{}})

		return
	}

	writeJSON(w, http.StatusOK, BlocksResponse{
		Blocks:   s.feed.Blocks(),
		Observed: s.feed.Observed(),
		Distinct: s.feed.DistinctEstimate(),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("WebSocket upgrade failed")

		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, s.cfg.ClientBuffer),
	}

	// New clients get the current snapshot straight away.
	if data, err := json.Marshal(s.snapshots.Snapshot().WithoutHistory()); err == nil {
		c.send <- data
	}

	s.hub.add(c)

	go s.hub.writePump(c)
	go s.hub.readPump(c)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}
