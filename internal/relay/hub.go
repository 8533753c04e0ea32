package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"evalstream/internal/logging"
	"evalstream/internal/session"
)

// MessageSnapshot is the only message type the relay sends.
const MessageSnapshot = "snapshot"

// Message is the websocket envelope.
type Message struct {
	Type     string           `json:"type"`
	Snapshot session.Snapshot `json:"snapshot"`
}

const (
	sendBuffer = 32
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	go c.writePump()
	return c
}

// writePump owns all writes to the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Hub fans snapshots out to websocket clients and implements session.Observer.
// Running snapshots are coalesced per throttle window; terminal ones go out at once.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool

	flushMu  sync.Mutex
	latest   []byte
	pending  bool
	timer    *time.Timer
	throttle time.Duration

	logger *slog.Logger
}

// NewHub builds a hub. A zero throttle broadcasts every snapshot.
func NewHub(throttle time.Duration) *Hub {
	return &Hub{
		clients:  make(map[*client]struct{}),
		throttle: throttle,
		logger:   logging.Logger().With("component", "relay"),
	}
}

// OnSnapshot queues a snapshot for broadcast.
func (h *Hub) OnSnapshot(snap session.Snapshot) {
	data, err := json.Marshal(Message{Type: MessageSnapshot, Snapshot: snap})
	if err != nil {
		h.logger.Error("encode snapshot", "error", err)
		return
	}

	h.flushMu.Lock()
	defer h.flushMu.Unlock()
	h.latest = data
	if h.throttle <= 0 || snap.Phase.Terminal() {
		if h.timer != nil {
			h.timer.Stop()
			h.timer = nil
		}
		h.pending = false
		h.broadcast(data)
		return
	}
	h.pending = true
	if h.timer == nil {
		h.timer = time.AfterFunc(h.throttle, h.flush)
	}
}

// flush sends the newest queued snapshot. Broadcasts happen under flushMu so they stay ordered.
func (h *Hub) flush() {
	h.flushMu.Lock()
	defer h.flushMu.Unlock()
	h.timer = nil
	if !h.pending {
		return
	}
	h.pending = false
	h.broadcast(h.latest)
}

// Add registers a connection and sends it the newest snapshot.
func (h *Hub) Add(conn *websocket.Conn) *client {
	c := newClient(conn)

	h.flushMu.Lock()
	defer h.flushMu.Unlock()
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(c.send)
		return c
	}
	h.clients[c] = struct{}{}
	if h.latest != nil {
		c.send <- h.latest
	}
	return c
}

// Remove unregisters a client and closes its connection.
func (h *Hub) Remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// broadcast delivers data to every client, disconnecting those that cannot keep up.
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
		h.logger.Warn("websocket client too slow, disconnecting", "remote", c.conn.RemoteAddr().String())
		h.Remove(c)
	}
}

// ClientCount reports connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.flushMu.Lock()
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	h.flushMu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
