// Package websocket delivers notifications to connected users. A user may
// hold several connections; each gets every notification addressed to them.
package websocket

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/davidleathers/handyman-marketplace-backend/internal/infrastructure/auth"
	"github.com/davidleathers/handyman-marketplace-backend/internal/infrastructure/telemetry"
	"github.com/davidleathers/handyman-marketplace-backend/internal/service/notification"
)

var (
	ErrMissingToken = auth.ErrMissingToken
	ErrInvalidToken = auth.ErrInvalidToken
	ErrHubClosed    = stderrors.New("websocket hub closed")
)

// Config holds the connection settings
type Config struct {
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	PingPeriod      time.Duration // must be less than PongTimeout
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int

	// AllowedOrigins restricts browser origins; empty allows any
	AllowedOrigins []string

	// OnConnectionChange is called with +1 and -1 as connections come and go
	OnConnectionChange func(delta int)
}

func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		PongTimeout:     60 * time.Second,
		PingPeriod:      54 * time.Second,
		MaxMessageSize:  4 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      64,
	}
}

// Message is the frame exchanged with clients
type Message struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Event     string                 `json:"event,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

const (
	TypeNotification = "notification"
	TypeSystem       = "system"
	TypePing         = "ping"
	TypePong         = "pong"
)

// Hub tracks live connections by user and implements notification.Sender
type Hub struct {
	tokens   auth.Service
	config   Config
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[uuid.UUID]map[*client]struct{}
	closed  bool
}

type client struct {
	id     uuid.UUID
	userID uuid.UUID
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

// NewHub creates a hub that accepts HS256 tokens signed with secret. The
// token subject is the user ID.
func NewHub(secret string, cfg Config, logger *zap.Logger) (*Hub, error) {
	tokens, err := auth.NewJWTService(secret, 0)
	if err != nil {
		return nil, fmt.Errorf("websocket hub: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = def.PongTimeout
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongTimeout {
		cfg.PingPeriod = cfg.PongTimeout * 9 / 10
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}

	h := &Hub{
		tokens:  tokens,
		config:  cfg,
		logger:  logger.Named("websocket"),
		clients: make(map[uuid.UUID]map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     h.checkOrigin,
	}
	return h, nil
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

// Authenticate validates a token and returns the user it was issued to
func (h *Hub) Authenticate(token string) (uuid.UUID, error) {
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		return uuid.Nil, err
	}
	return claims.UserID, nil
}

// tokenFrom reads a bearer token, falling back to the token query parameter
// for browsers that cannot set headers on the upgrade request
func tokenFrom(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// ServeHTTP authenticates and upgrades a connection
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, span := telemetry.StartServiceSpan(r.Context(), "websocket", "Connect")
	defer span.End()

	userID, err := h.Authenticate(tokenFrom(r))
	if err != nil {
		telemetry.WithSpanError(span, err)
		h.logger.Debug("websocket handshake rejected",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		telemetry.WithSpanError(span, err)
		h.logger.Warn("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err))
		return
	}

	c := &client{
		id:     uuid.New(),
		userID: userID,
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, h.config.SendBuffer),
		done:   make(chan struct{}),
	}
	if err := h.register(c); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(h.config.WriteTimeout))
		_ = conn.Close()
		return
	}
	span.SetAttributes(
		attribute.String("client_id", c.id.String()),
		attribute.String("user_id", userID.String()))

	c.enqueue(&Message{
		ID:        uuid.New().String(),
		Type:      TypeSystem,
		Event:     "connected",
		Timestamp: time.Now().UTC(),
		Data: map[string]interface{}{
			"client_id": c.id.String(),
			"user_id":   userID.String(),
		},
	})

	go c.writePump()
	go c.readPump()

	h.logger.Debug("websocket connected",
		zap.String("client_id", c.id.String()),
		zap.String("user_id", userID.String()))
}

func (h *Hub) register(c *client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	conns := h.clients[c.userID]
	if conns == nil {
		conns = make(map[*client]struct{})
		h.clients[c.userID] = conns
	}
	conns[c] = struct{}{}
	if h.config.OnConnectionChange != nil {
		h.config.OnConnectionChange(1)
	}
	return nil
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	conns, ok := h.clients[c.userID]
	if ok {
		if _, present := conns[c]; present {
			delete(conns, c)
			if len(conns) == 0 {
				delete(h.clients, c.userID)
			}
			if h.config.OnConnectionChange != nil {
				h.config.OnConnectionChange(-1)
			}
		}
	}
	h.mu.Unlock()
	c.close()
}

// Send implements notification.Sender. It fails with
// notification.ErrRecipientOffline when the user has no connection.
func (h *Hub) Send(ctx context.Context, n *notification.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(&Message{
		ID:        n.ID.String(),
		Type:      TypeNotification,
		Event:     string(n.Kind),
		Data:      n.Payload,
		Timestamp: n.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients[n.RecipientID]))
	for c := range h.clients[n.RecipientID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return fmt.Errorf("user %s: %w", n.RecipientID, notification.ErrRecipientOffline)
	}

	delivered := 0
	for _, c := range targets {
		select {
		case c.send <- data:
			delivered++
		case <-c.done:
		default:
			// a client that cannot keep up is disconnected
			h.logger.Warn("websocket send buffer full, disconnecting",
				zap.String("client_id", c.id.String()),
				zap.String("user_id", c.userID.String()))
			go h.unregister(c)
		}
	}

	if delivered == 0 {
		return fmt.Errorf("user %s: %w", n.RecipientID, notification.ErrRecipientOffline)
	}
	return nil
}

// Connections returns the number of open connections of a user
func (h *Hub) Connections(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// ConnectedUsers returns the number of users with at least one connection
func (h *Hub) ConnectedUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new connections
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var all []*client
	for _, conns := range h.clients {
		for c := range conns {
			all = append(all, c)
		}
	}
	h.mu.Unlock()

	for _, c := range all {
		h.unregister(c)
	}
	h.logger.Info("websocket hub closed", zap.Int("disconnected", len(all)))
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// enqueue queues a message without blocking; it is dropped when the
// buffer is full
func (c *client) enqueue(m *Message) {
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *client) readPump() {
	defer c.hub.unregister(c)

	cfg := c.hub.config
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})

	for {
		var m Message
		if err := c.conn.ReadJSON(&m); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket read error",
					zap.String("client_id", c.id.String()),
					zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))

		switch m.Type {
		case TypePing:
			c.enqueue(&Message{ID: m.ID, Type: TypePong, Timestamp: time.Now().UTC()})
		default:
			c.hub.logger.Debug("ignoring client message",
				zap.String("client_id", c.id.String()),
				zap.String("type", m.Type))
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.hub.config.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	timeout := c.hub.config.WriteTimeout
	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.hub.unregister(c)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.unregister(c)
				return
			}

		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(timeout))
			return
		}
	}
}
