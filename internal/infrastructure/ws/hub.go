package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"streampulse/internal/core/domain"
	"streampulse/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Options tunes hub connection handling. Zero values get defaults.
type Options struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	SendBufferSize int
	MaxMessageSize int64
	AllowedOrigins []string
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 60 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = 64
	}
	return o
}

// Hub fans engine events out to WebSocket dashboard clients. Every client
// gets the full feed by default; a client that subscribes to specific
// streams gets fleet-level events plus only those streams' events.
type Hub struct {
	engine ports.Engine
	events ports.EventSource
	opts   Options

	mu      sync.RWMutex
	clients map[*client]struct{}

	upgrader websocket.Upgrader
	logger   *zap.SugaredLogger
}

type client struct {
	conn *websocket.Conn
	send chan []byte

	mu      sync.RWMutex
	closed  bool
	streams map[domain.StreamID]struct{} // empty means all streams
}

// trySend queues data for the write loop. Returns false when the client is
// already closed or its buffer is full. Holding the client's read lock across
// the send excludes closeSend, so the channel cannot close mid-send.
func (c *client) trySend(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend closes the send channel exactly once.
func (c *client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// clientMessage is what dashboard clients send inbound.
type clientMessage struct {
	Type     string          `json:"type"`
	StreamID domain.StreamID `json:"streamId,omitempty"`
}

func NewHub(engine ports.Engine, events ports.EventSource, opts Options, logger *zap.SugaredLogger) *Hub {
	opts = opts.withDefaults()

	checkOrigin := func(r *http.Request) bool { return true }
	if len(opts.AllowedOrigins) > 0 && opts.AllowedOrigins[0] != "*" {
		allowed := make(map[string]struct{}, len(opts.AllowedOrigins))
		for _, o := range opts.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		checkOrigin = func(r *http.Request) bool {
			_, ok := allowed[r.Header.Get("Origin")]
			return ok
		}
	}

	return &Hub{
		engine:  engine,
		events:  events,
		opts:    opts,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
}

// Run consumes the engine feed and broadcasts until ctx is cancelled or the
// feed closes.
func (h *Hub) Run(ctx context.Context) {
	events, cancel := h.events.Subscribe(256)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case evt, ok := <-events:
			if !ok {
				h.closeAll()
				return
			}
			h.broadcast(evt)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
		delete(h.clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.closeSend()
	}
}

// ClientCount reports the number of connected dashboard clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(evt domain.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Warnw("failed to marshal event for broadcast", "type", evt.Type, "error", err)
		return
	}

	streamID := eventStreamID(evt)

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if c.wants(streamID) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.trySend(data) {
			// Slow or departing consumer: drop the connection rather than
			// block the feed.
			h.drop(c)
		}
	}
}

// eventStreamID extracts the stream scope from an event payload; empty for
// fleet-level events.
func eventStreamID(evt domain.Event) domain.StreamID {
	switch p := evt.Payload.(type) {
	case domain.MetricsUpdate:
		return p.StreamID
	case domain.StateChange:
		return p.StreamID
	case domain.StreamErrorEvent:
		return p.StreamID
	case *domain.Alert:
		return p.StreamID
	default:
		return ""
	}
}

func (c *client) wants(streamID domain.StreamID) bool {
	if streamID == "" {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.streams) == 0 {
		return true
	}
	_, ok := c.streams[streamID]
	return ok
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.closeSend()
}

// HandleWebSocket upgrades the request and serves the client until it
// disconnects. The first frame sent is always the full fleet snapshot.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conn:    conn,
		send:    make(chan []byte, h.opts.SendBufferSize),
		streams: make(map[domain.StreamID]struct{}),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Infow("dashboard client connected", "remote_addr", r.RemoteAddr)

	// Initial state push so the client renders without waiting for the
	// next collection tick.
	if initial, err := json.Marshal(domain.Event{
		Type:      "initial-state",
		Timestamp: domain.NowMillis(),
		Payload:   h.engine.FleetSnapshot(),
	}); err == nil {
		c.trySend(initial)
	}

	go h.writeLoop(c)
	h.readLoop(c, r.RemoteAddr)
}

func (h *Hub) readLoop(c *client, remoteAddr string) {
	defer func() {
		h.drop(c)
		c.conn.Close()
		h.logger.Infow("dashboard client disconnected", "remote_addr", remoteAddr)
	}()

	if h.opts.MaxMessageSize > 0 {
		c.conn.SetReadLimit(h.opts.MaxMessageSize)
	}
	c.conn.SetReadDeadline(time.Now().Add(h.opts.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(h.opts.PongTimeout))
		return nil
	})

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debugw("websocket read failed", "remote_addr", remoteAddr, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(h.opts.PongTimeout))

		switch msg.Type {
		case "subscribe":
			if msg.StreamID != "" {
				c.mu.Lock()
				c.streams[msg.StreamID] = struct{}{}
				c.mu.Unlock()
			}
		case "unsubscribe":
			if msg.StreamID != "" {
				c.mu.Lock()
				delete(c.streams, msg.StreamID)
				c.mu.Unlock()
			}
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	pingTicker := time.NewTicker(h.opts.PingInterval)
	defer func() {
		pingTicker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.drop(c)
				return
			}
		case <-pingTicker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(c)
				return
			}
		}
	}
}
