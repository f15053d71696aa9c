// Package realtime streams composite trust scores over WebSocket.
//
// A client subscribes to one (wallet, app) pair and receives the current
// composite score on a fixed interval until it disconnects. Keepalive pings
// are server-initiated and independent of score updates.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meshtrust/trustd/internal/custom"
	"github.com/meshtrust/trustd/internal/metrics"
	"github.com/meshtrust/trustd/internal/validation"
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Allow non-browser clients
		}
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// ScoreSource resolves the composite score pushed to subscribers.
type ScoreSource func(ctx context.Context, wallet, appID string) (*custom.CompositeTrustScore, error)

// MessageType for stream messages.
type MessageType string

const (
	MessageScoreUpdate MessageType = "score_update"
	MessageSubscribed  MessageType = "subscribed"
	MessageError       MessageType = "error"
)

// Message is one frame pushed to a client.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// Subscription selects the (wallet, app) pair a client streams.
type Subscription struct {
	Wallet string `json:"wallet"`
	AppID  string `json:"appId"`
}

func (s Subscription) valid() bool {
	return validation.IsValidWalletAddress(s.Wallet) && s.AppID != ""
}

// Client represents one WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	sub    Subscription
	closed bool // send is closed; no further enqueues
}

func (c *Client) subscription() (Subscription, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sub, c.sub.valid()
}

// enqueue hands a frame to writePump. Returns false when the buffer is full
// or the channel is already closed. The closed check and the send happen
// under the same lock closeSend takes, so an enqueue can never hit a channel
// the hub closed concurrently.
func (c *Client) enqueue(frame []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// closeSend closes the outgoing channel exactly once. Only the hub calls this.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// MaxClients is the maximum number of concurrent WebSocket connections.
const MaxClients = 10000

// Hub manages score-stream connections and the push loop.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits; prevents upgrade race
	maxClients int

	scores    ScoreSource
	interval  time.Duration
	keepalive time.Duration

	totalClients atomic.Int64
	totalPushes  atomic.Int64
}

// NewHub creates a score-stream hub. interval is how often subscribed
// scores are pushed; keepalive is the server ping period.
func NewHub(logger *slog.Logger, scores ScoreSource, interval, keepalive time.Duration) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
		scores:     scores,
		interval:   interval,
		keepalive:  keepalive,
	}
}

// Run starts the hub's main loop: client bookkeeping plus the periodic
// score push. Exits when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("score stream hub started", "interval", h.interval)
	defer close(h.done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("score stream hub shutting down")
			h.mu.Lock()
			for client := range h.clients {
				client.closeSend() // writePump sends CloseMessage on closed channel
				delete(h.clients, client)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.totalClients.Add(1)
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Info("stream client connected", "total", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.closeSend()
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Info("stream client disconnected", "total", n)

		case <-ticker.C:
			h.pushScores(ctx)
		}
	}
}

// pushScores sends the current composite score to every subscribed client.
// Clients whose send buffer is full are dropped.
func (h *Hub) pushScores(ctx context.Context) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	var slow []*Client
	for _, client := range targets {
		sub, ok := client.subscription()
		if !ok {
			continue
		}

		msg := Message{Type: MessageScoreUpdate, Timestamp: time.Now().UTC()}
		score, err := h.scores(ctx, sub.Wallet, sub.AppID)
		if err != nil {
			msg.Type = MessageError
			msg.Error = "score unavailable"
			h.logger.Warn("stream score failed", "wallet", sub.Wallet, "app_id", sub.AppID, "error", err)
		} else {
			msg.Data = score
		}

		if client.enqueue(serialize(msg)) {
			h.totalPushes.Add(1)
		} else {
			slow = append(slow, client)
		}
	}

	if len(slow) > 0 {
		h.mu.Lock()
		for _, client := range slow {
			if _, ok := h.clients[client]; ok {
				client.closeSend()
				delete(h.clients, client)
			}
		}
		n := len(h.clients)
		h.mu.Unlock()
		metrics.ActiveWebSocketClients.Set(float64(n))
	}
}

func serialize(msg Message) []byte {
	data, _ := json.Marshal(msg)
	return data
}

// Stats returns hub statistics.
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]interface{}{
		"connectedClients": len(h.clients),
		"totalClients":     h.totalClients.Load(),
		"totalPushes":      h.totalPushes.Load(),
	}
}

// HandleWebSocket upgrades HTTP to WebSocket. The initial subscription may
// be supplied as ?wallet=&app_id= query parameters or sent as the first
// JSON frame.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Reject upgrades after the hub has stopped to prevent orphaned connections.
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 64),
		sub: Subscription{
			Wallet: r.URL.Query().Get("wallet"),
			AppID:  r.URL.Query().Get("app_id"),
		},
	}

	// The hub may have exited between the guard above and this send.
	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()

	if _, ok := client.subscription(); ok {
		client.enqueue(serialize(Message{
			Type:      MessageSubscribed,
			Timestamp: time.Now().UTC(),
			Data:      client.sub,
		}))
	}
}

// readPump reads subscription updates from the client.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * c.hub.keepalive))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(2 * c.hub.keepalive))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			break
		}

		var sub Subscription
		if err := json.Unmarshal(message, &sub); err != nil || !sub.valid() {
			c.enqueue(serialize(Message{
				Type:      MessageError,
				Timestamp: time.Now().UTC(),
				Error:     "subscription must contain a valid 'wallet' and 'appId'",
			}))
			continue
		}

		c.mu.Lock()
		c.sub = sub
		c.mu.Unlock()

		c.enqueue(serialize(Message{
			Type:      MessageSubscribed,
			Timestamp: time.Now().UTC(),
			Data:      sub,
		}))
	}
}

// writePump writes outgoing frames and sends keepalive pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.keepalive)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Warn("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}
