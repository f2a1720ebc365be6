package api

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/paratps/internal/aggregator"
	"github.com/ethpandaops/paratps/internal/export"
)

// client is one WebSocket connection.
type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// hub fans snapshots out to WebSocket clients. Snapshots are coalesced:
// the ingestion path only swaps a pointer, and the broadcast loop
// encodes the newest one once for all clients.
type hub struct {
	log    logrus.FieldLogger
	cfg    Config
	health *export.HealthMetrics

	pending atomic.Pointer[aggregator.GlobalState]
	notify  chan struct{}

	mu      sync.Mutex
	clients map[*client]struct{}
}

func newHub(log logrus.FieldLogger, cfg Config, health *export.HealthMetrics) *hub {
	return &hub{
		log:     log,
		cfg:     cfg,
		health:  health,
		notify:  make(chan struct{}, 1),
		clients: make(map[*client]struct{}, 16),
	}
}

// publish queues a snapshot for broadcast without blocking.
func (h *hub) publish(state *aggregator.GlobalState) {
	h.pending.Store(state)

	select {
	case h.notify <- struct{}{}:
	default:
	}
}

func (h *hub) run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			h.closeAll()

			return
		case <-h.notify:
			state := h.pending.Load()
			if state == nil {
				continue
			}

			data, err := json.Marshal(state.WithoutHistory())
			if err != nil {
				h.log.WithError(err).Warn("Failed to encode snapshot")

				continue
			}

			h.broadcast(data)
		}
	}
}

func (h *hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Slow consumer: drop it rather than stall everyone.
			delete(h.clients, c)
			c.close()
			h.observeDropped()
		}
	}

	h.observeClients()
}

func (h *hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = struct{}{}
	h.observeClients()
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}

	h.observeClients()
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.clients)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}

	h.observeClients()
}

func (h *hub) observeClients() {
	if h.health != nil {
		h.health.WebSocketClients.Set(float64(len(h.clients)))
	}
}

func (h *hub) observeDropped() {
	if h.health != nil {
		h.health.WebSocketDropped.Inc()
	}
}

// writePump delivers queued snapshots and keepalive pings until the
// client is closed or a write fails.
func (h *hub) writePump(c *client) {
	ticker := time.NewTicker(h.cfg.PingInterval)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))

			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))

				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.log.WithError(err).Debug("WebSocket write failed")
				h.remove(c)

				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)

				return
			}
		}
	}
}

// readPump discards client messages and detects disconnects.
func (h *hub) readPump(c *client) {
	defer h.remove(c)

	wait := 2 * h.cfg.PingInterval

	_ = c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
			) {
				h.log.WithError(err).Debug("WebSocket closed unexpectedly")
			}

			return
		}
	}
}
