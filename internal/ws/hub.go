// Package ws pushes committed snapshot batches to WebSocket subscribers.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hamed0406/downdetector/internal/domain"
	"github.com/hamed0406/downdetector/internal/metrics"
	"github.com/hamed0406/downdetector/internal/repo"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16
)

// Message is the JSON envelope sent to clients. "snapshot" carries every
// known target on connect; "batch" carries only the targets a commit wrote,
// and clients merge it by targetId.
type Message struct {
	Event     string                   `json:"event"`
	Batch     *domain.BatchMeta        `json:"batch,omitempty"`
	Snapshots []domain.ServiceSnapshot `json:"snapshots"`
}

type batch struct {
	meta  domain.BatchMeta
	snaps []domain.ServiceSnapshot
}

type Hub struct {
	store    repo.SnapshotStore
	log      *zap.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	batches  chan batch

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a hub that greets clients with the current snapshots from st.
// checkOrigin may be nil to accept any origin.
func New(st repo.SnapshotStore, log *zap.Logger, m *metrics.Metrics, checkOrigin func(*http.Request) bool) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		store:   st,
		log:     log,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		batches: make(chan batch, 32),
		clients: make(map[*client]struct{}),
	}
}

// OnBatch matches cache.Listener. A full queue drops the push; clients
// catch up on the next batch or reconnect.
func (h *Hub) OnBatch(meta domain.BatchMeta, written []domain.ServiceSnapshot) {
	select {
	case h.batches <- batch{meta: meta, snaps: written}:
	default:
		h.log.Warn("ws_batch_dropped", zap.String("batch_id", meta.ID))
	}
}

// Run fans batches out until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case b := <-h.batches:
			meta := b.meta
			data, err := json.Marshal(Message{Event: "batch", Batch: &meta, Snapshots: b.snaps})
			if err != nil {
				h.log.Error("ws_encode_error", zap.Error(err))
				continue
			}
			h.broadcast(data)
		}
	}
}

// ServeHTTP upgrades the connection, sends the current snapshots and then
// relays batches until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBufSize)}
	h.register(c)
	defer h.unregister(c)

	if data, err := h.greeting(r.Context()); err == nil {
		h.offer(c, data)
	} else {
		h.log.Warn("ws_greeting_error", zap.Error(err))
	}

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) greeting(ctx context.Context) ([]byte, error) {
	snaps, err := h.store.Snapshots(ctx)
	if err != nil {
		return nil, err
	}
	if snaps == nil {
		snaps = []domain.ServiceSnapshot{}
	}
	return json.Marshal(Message{Event: "snapshot", Snapshots: snaps})
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.WSClients(1)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	if ok {
		h.metrics.WSClients(-1)
	}
}

// broadcast holds the read lock across the sends so unregister cannot
// close a channel mid-send. Slow consumers are dropped afterwards.
func (h *Hub) broadcast(data []byte) {
	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.unregister(c)
	}
}

// offer queues data for c unless c is already gone or its buffer is full.
func (h *Hub) offer(c *client, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	n := len(h.clients)
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	h.metrics.WSClients(-float64(n))
}

// writePump drains the send channel and pings periodically.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only handles control frames and detects disconnects.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
