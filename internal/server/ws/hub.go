// Package ws pushes price and trade events from the signal bus to browser
// clients over WebSocket.
//
// Every client receives price updates. Trade events are delivered only to the
// client authenticated as the trade's owner; anonymous clients never see them.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/startraders/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
	sendBufferSize = 256
)

// channels are the bus channels bridged to clients.
var channels = []string{domain.ChannelPrices, domain.ChannelTrades}

// TokenVerifier resolves a bearer token to a user ID.
type TokenVerifier func(token string) (userID string, err error)

// Config carries hub metadata and client authentication.
type Config struct {
	Mode      string
	StartedAt time.Time
	// Verify authenticates the ?token= query parameter. Nil makes every
	// client anonymous.
	Verify TokenVerifier
	// AllowedOrigins restricts the upgrade. Empty allows every origin.
	AllowedOrigins []string
}

// client is a single WebSocket connection.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string // "" for anonymous clients

	mu   sync.RWMutex
	subs map[string]bool
}

// subscribeMsg is a client request to change its channel set.
type subscribeMsg struct {
	Action   string   `json:"action"` // subscribe | unsubscribe
	Channels []string `json:"channels"`
}

// Hub manages connected clients and fans bus messages out to them.
type Hub struct {
	bus    domain.SignalBus
	cfg    Config
	logger *slog.Logger

	upgrader websocket.Upgrader

	register   chan *client
	unregister chan *client
	broadcast  chan broadcastMsg
	done       chan struct{} // closed when Run returns

	mu      sync.RWMutex
	clients map[*client]bool
}

// broadcastMsg carries a payload with its source channel and, for trade
// events, the owning user.
type broadcastMsg struct {
	channel string
	owner   string
	data    []byte
}

// NewHub creates a Hub reading from bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	if cfg.Mode == "" {
		cfg.Mode = "unknown"
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	h := &Hub{
		bus:        bus,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "ws_hub")),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan broadcastMsg, 256),
		done:       make(chan struct{}),
		clients:    make(map[*client]bool),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// Run subscribes to the bus and serves clients until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for _, ch := range channels {
		msgs, err := h.bus.Subscribe(ctx, ch)
		if err != nil {
			return err
		}
		go h.forward(ctx, ch, msgs)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected",
				slog.Bool("authenticated", c.userID != ""),
				slog.Int("total_clients", n),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(msg) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("dropping message for slow client", slog.String("channel", msg.channel))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// forward relays one bus channel into the broadcast loop.
func (h *Hub) forward(ctx context.Context, channel string, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("bus subscription closed", slog.String("channel", channel))
				return
			}
			msg := broadcastMsg{channel: channel, data: data}
			if channel == domain.ChannelTrades {
				var ev struct {
					UserID string `json:"user_id"`
				}
				if err := json.Unmarshal(data, &ev); err != nil || ev.UserID == "" {
					h.logger.Warn("unroutable trade event", slog.Int("bytes", len(data)))
					continue
				}
				msg.owner = ev.UserID
			}
			select {
			case h.broadcast <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades the request and registers the client. A valid ?token=
// authenticates the client for its own trade events; an invalid one is
// rejected before the upgrade.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	var userID string
	if tok := r.URL.Query().Get("token"); tok != "" && h.cfg.Verify != nil {
		id, err := h.cfg.Verify(tok)
		if err != nil {
			http.Error(w, `{"success":false,"code":"INVALID_TOKEN","message":"invalid or expired token"}`, http.StatusUnauthorized)
			return
		}
		userID = id
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		userID: userID,
		subs:   make(map[string]bool, len(channels)),
	}
	for _, ch := range channels {
		c.subs[ch] = true
	}

	c.sendWelcome()
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// wants reports whether msg should be delivered to c.
func (c *client) wants(msg broadcastMsg) bool {
	c.mu.RLock()
	subscribed := c.subs[msg.channel]
	c.mu.RUnlock()
	if !subscribed {
		return false
	}
	if msg.channel == domain.ChannelTrades {
		return c.userID != "" && c.userID == msg.owner
	}
	return true
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

// handleSubscription applies a subscribe or unsubscribe request. Unknown
// channels are ignored.
func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range msg.Channels {
		if !knownChannel(ch) {
			continue
		}
		switch msg.Action {
		case "subscribe":
			c.subs[ch] = true
		case "unsubscribe":
			delete(c.subs, ch)
		}
	}
}

func knownChannel(ch string) bool {
	for _, k := range channels {
		if k == ch {
			return true
		}
	}
	return false
}

// sendWelcome lets clients mark the connection healthy before any market
// data flows.
func (c *client) sendWelcome() {
	msg, err := json.Marshal(map[string]any{
		"event":          "connected",
		"mode":           c.hub.cfg.Mode,
		"authenticated":  c.userID != "",
		"channels":       channels,
		"uptime_seconds": max(int64(time.Since(c.hub.cfg.StartedAt).Seconds()), 0),
	})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
