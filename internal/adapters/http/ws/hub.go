// Package ws streams notification events to browsers over websockets.
// Every new subscriber is greeted with a snapshot, then receives events as
// the delivery workers hand them over.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/rumble/internal/domain/notify"
	"github.com/okian/rumble/pkg/logger"
	"github.com/okian/rumble/pkg/metrics"
)

const (
	defaultSendBuffer = 64
	writeWait         = 5 * time.Second
)

// Message is the envelope written to subscribers.
type Message struct {
	Type  string        `json:"type"`
	Data  any           `json:"data,omitempty"`
	Event *notify.Event `json:"event,omitempty"`
}

// SnapshotFunc builds the greeting sent to a new subscriber.
type SnapshotFunc func(ctx context.Context) (any, error)

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub tracks subscribers and broadcasts events to them. A subscriber that
// cannot keep up is disconnected rather than slowing the others down.
type Hub struct {
	upgrader   websocket.Upgrader
	snapshot   SnapshotFunc
	sendBuffer int
	logger     logger.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

// Option applies a configuration option to the Hub.
type Option func(*Hub)

// WithLogger sets a custom logger for the hub.
func WithLogger(l logger.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithSnapshot sets the greeting builder.
func WithSnapshot(fn SnapshotFunc) Option {
	return func(h *Hub) { h.snapshot = fn }
}

// WithSendBuffer sets how many messages may queue per subscriber.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sendBuffer: defaultSendBuffer,
		clients:    make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logger.Get().Named("ws")
	}
	return h
}

// Handle upgrades the request and serves the subscriber until it leaves.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(r.Context(), "websocket upgrade failed", logger.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, h.sendBuffer)}

	greeting := Message{Type: "snapshot"}
	if h.snapshot != nil {
		data, err := h.snapshot(r.Context())
		if err != nil {
			h.logger.Error(r.Context(), "snapshot for subscriber failed", logger.Error(err))
		}
		greeting.Data = data
	}
	payload, err := json.Marshal(greeting)
	if err != nil {
		h.logger.Error(r.Context(), "failed to marshal greeting", logger.Error(err))
		_ = conn.Close()
		return
	}
	c.send <- payload

	h.register(c)
	go h.writeLoop(c)

	// Subscribers only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.unregister(c)
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for payload := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.unregister(c)
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.UpdateWebsocketSubscribers(n)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		c.close()
		metrics.UpdateWebsocketSubscribers(n)
	}
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Name identifies the sink in logs and metrics.
func (h *Hub) Name() string { return "websocket" }

// Deliver broadcasts e to every subscriber. It never blocks on a slow one.
func (h *Hub) Deliver(ctx context.Context, e notify.Event) error {
	payload, err := json.Marshal(Message{Type: "event", Event: &e})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	var slow []*client
	h.mu.Lock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		metrics.RecordNotificationDropped("slow_subscriber")
		h.logger.Warn(ctx, "disconnecting slow subscriber")
		h.unregister(c)
	}
	return nil
}

// Close disconnects every subscriber.
func (h *Hub) Close() error {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.close()
	}
	metrics.UpdateWebsocketSubscribers(0)
	return nil
}
