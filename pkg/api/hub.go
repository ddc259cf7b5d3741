package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/autoqa/autoqa/pkg/config"
	"github.com/autoqa/autoqa/pkg/events"
	"github.com/autoqa/autoqa/pkg/ids"
	"github.com/autoqa/autoqa/pkg/metrics"
	"github.com/autoqa/autoqa/pkg/session"
)

// Server → client frame types. Event frames derive their type from the
// published event (dots replaced with hyphens, e.g. "execution-status").
const (
	frameWelcome               = "welcome"
	frameSubscriptionConfirmed = "subscription-confirmed"
	frameSubscriptionError     = "subscription-error"
	frameAuthenticated         = "authenticated"
	framePong                  = "pong"
	frameError                 = "error"
)

// Frame is the wire format for server → client event stream messages.
// Frames are newline-delimited JSON.
type Frame struct {
	Type        string          `json:"type"`
	Data        json.RawMessage `json:"data,omitempty"`
	Timestamp   string          `json:"timestamp"`
	ExecutionID string          `json:"executionId,omitempty"`
}

// Hub manages WebSocket connections and channel subscriptions, and streams
// published events to subscribers. It implements events.Broadcaster.
type Hub struct {
	cfg      *config.ServerConfig
	sessions *session.Manager
	logger   *slog.Logger

	// Active connections: connection_id → *wsClient
	mu    sync.RWMutex
	conns map[string]*wsClient

	// Channel subscriptions: channel → set of connection_ids
	channelMu sync.RWMutex
	channels  map[string]map[string]bool

	closed atomic.Bool
}

// wsClient is a single WebSocket connection.
//
// subscriptions and userID are accessed WITHOUT a lock. This is safe because
// all reads and writes happen on the single goroutine that owns this
// connection (HandleConnection's read loop and its deferred cleanup).
type wsClient struct {
	id            string
	conn          *websocket.Conn
	userID        string // set by a successful authenticate
	subscriptions map[string]bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewHub creates an empty hub. sessions may be nil; authenticate frames are
// then rejected.
func NewHub(cfg *config.ServerConfig, sessions *session.Manager) *Hub {
	return &Hub{
		cfg:      cfg,
		sessions: sessions,
		logger:   slog.With("component", "ws-hub"),
		conns:    make(map[string]*wsClient),
		channels: make(map[string]map[string]bool),
	}
}

// HandleConnection manages the lifecycle of a single WebSocket connection.
// Called by the WebSocket HTTP handler after upgrade. Blocks until the
// connection closes.
func (h *Hub) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	if h.closed.Load() {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	ctx, cancel := context.WithCancel(parentCtx)
	c := &wsClient{
		id:            ids.NewID(),
		conn:          conn,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	h.register(c)
	defer h.unregister(c)

	welcome, _ := json.Marshal(map[string]string{"clientId": c.id})
	h.sendFrame(c, Frame{Type: frameWelcome, Data: welcome})

	go h.pingLoop(c)

	// Read loop — process client messages until the connection closes.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg events.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Warn("Invalid WebSocket message", "connection_id", c.id, "error", err)
			continue
		}
		h.handleClientMessage(c, &msg)
	}
}

// pingLoop pings the client every PingInterval and drops the connection when
// no pong arrives within PongTimeout. Runs until the connection closes.
func (h *Hub) pingLoop(c *wsClient) {
	interval := h.cfg.PingInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, h.cfg.PongTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if c.ctx.Err() == nil {
					h.logger.Info("Dropping unresponsive WebSocket client",
						"connection_id", c.id, "error", err)
				}
				c.cancel()
				return
			}
		}
	}
}

// Broadcast sends an event payload to every connection subscribed to the
// channel. Implements events.Broadcaster; called by the Publisher for each
// published event.
func (h *Hub) Broadcast(channel string, payload []byte) {
	h.channelMu.RLock()
	connIDs, exists := h.channels[channel]
	if !exists {
		h.channelMu.RUnlock()
		return
	}
	idList := make([]string, 0, len(connIDs))
	for id := range connIDs {
		idList = append(idList, id)
	}
	h.channelMu.RUnlock()

	// Snapshot connection pointers under the lock, then release before
	// sending so slow writes never stall register/unregister.
	h.mu.RLock()
	conns := make([]*wsClient, 0, len(idList))
	for _, id := range idList {
		if c, ok := h.conns[id]; ok {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return
	}

	var env struct {
		Type        string `json:"type"`
		ExecutionID string `json:"execution_id"`
	}
	_ = json.Unmarshal(payload, &env)

	frame := Frame{
		Type:        strings.ReplaceAll(env.Type, ".", "-"),
		Data:        payload,
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		ExecutionID: env.ExecutionID,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Warn("Failed to marshal broadcast frame", "channel", channel, "error", err)
		return
	}
	data = append(data, '\n')

	for _, c := range conns {
		if err := h.sendRaw(c, data); err != nil {
			h.logger.Warn("Failed to send to WebSocket client",
				"connection_id", c.id, "channel", channel, "error", err)
		}
	}
}

// ActiveConnections returns the count of active WebSocket connections.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every client. New connections are refused afterwards.
func (h *Hub) Close() {
	h.closed.Store(true)

	h.mu.RLock()
	conns := make([]*wsClient, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.cancel()
	}
}

// subscriberCount returns the number of subscribers for a channel.
// Unexported — used by tests to poll instead of sleeping.
func (h *Hub) subscriberCount(channel string) int {
	h.channelMu.RLock()
	defer h.channelMu.RUnlock()
	return len(h.channels[channel])
}

func (h *Hub) handleClientMessage(c *wsClient, msg *events.ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.Channel == "" {
			h.sendError(c, "channel is required for subscribe")
			return
		}
		if !c.mayJoin(msg.Channel) {
			data, _ := json.Marshal(map[string]string{
				"channel": msg.Channel,
				"message": "subscription not permitted",
			})
			h.sendFrame(c, Frame{Type: frameSubscriptionError, Data: data})
			return
		}
		h.subscribe(c, msg.Channel)
		data, _ := json.Marshal(map[string]string{"channel": msg.Channel})
		h.sendFrame(c, Frame{Type: frameSubscriptionConfirmed, Data: data})

	case "unsubscribe":
		if msg.Channel == "" {
			h.sendError(c, "channel is required for unsubscribe")
			return
		}
		h.unsubscribe(c, msg.Channel)

	case "authenticate":
		if h.sessions == nil {
			h.sendError(c, "authentication is not available")
			return
		}
		userID, err := h.sessions.Validate(msg.SessionID, msg.Token)
		if err != nil {
			h.sendError(c, "invalid session or token")
			return
		}
		c.userID = userID
		data, _ := json.Marshal(map[string]string{"userId": userID})
		h.sendFrame(c, Frame{Type: frameAuthenticated, Data: data})

	case "ping":
		h.sendFrame(c, Frame{Type: framePong})

	default:
		h.sendError(c, "unknown action")
	}
}

// mayJoin reports whether the connection may subscribe to the channel.
// Execution channels are public; user channels require an authenticated
// matching user.
func (c *wsClient) mayJoin(channel string) bool {
	switch {
	case channel == events.GlobalExecutionsChannel:
		return true
	case strings.HasPrefix(channel, "execution:"):
		return true
	case strings.HasPrefix(channel, "user:"):
		return c.userID != "" && channel == events.UserChannel(c.userID)
	}
	return false
}

func (h *Hub) subscribe(c *wsClient, channel string) {
	h.channelMu.Lock()
	if _, exists := h.channels[channel]; !exists {
		h.channels[channel] = make(map[string]bool)
	}
	h.channels[channel][c.id] = true
	h.channelMu.Unlock()

	c.subscriptions[channel] = true
}

func (h *Hub) unsubscribe(c *wsClient, channel string) {
	h.channelMu.Lock()
	if subs, exists := h.channels[channel]; exists {
		delete(subs, c.id)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
	h.channelMu.Unlock()

	delete(c.subscriptions, channel)
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	metrics.WSConnections.Inc()
}

func (h *Hub) unregister(c *wsClient) {
	for ch := range c.subscriptions {
		h.unsubscribe(c, ch)
	}

	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
	metrics.WSConnections.Dec()

	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Hub) sendError(c *wsClient, message string) {
	data, _ := json.Marshal(map[string]string{"message": message})
	h.sendFrame(c, Frame{Type: frameError, Data: data})
}

// sendFrame stamps, marshals, and sends a frame to a single connection.
func (h *Hub) sendFrame(c *wsClient, f Frame) {
	if f.Timestamp == "" {
		f.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(f)
	if err != nil {
		h.logger.Warn("Failed to marshal WebSocket frame",
			"connection_id", c.id, "type", f.Type, "error", err)
		return
	}
	data = append(data, '\n')
	if err := h.sendRaw(c, data); err != nil {
		h.logger.Warn("Failed to send WebSocket frame",
			"connection_id", c.id, "type", f.Type, "error", err)
	}
}

// sendRaw sends raw bytes to a single connection with a write timeout.
func (h *Hub) sendRaw(c *wsClient, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, h.cfg.WriteTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}
