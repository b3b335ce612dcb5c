package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tickerboard/tickerboard-backend/internal/metrics"
	"github.com/tickerboard/tickerboard-backend/internal/store"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	cache      *store.Cache
	upgrader   websocket.Upgrader
	logger     *zap.SugaredLogger
	metrics    *metrics.Metrics
	mu         sync.RWMutex
}

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu    sync.Mutex
	query string
}

// NewHub builds a hub that accepts websocket upgrades from allowedOrigins.
// Requests without an Origin header are always accepted.
func NewHub(cache *store.Cache, allowedOrigins []string, logger *zap.SugaredLogger, m *metrics.Metrics) *Hub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		cache:      cache,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed["*"] || allowed[origin]
			},
		},
		logger:  logger,
		metrics: m,
	}
}

// Run subscribes to board updates and serves registrations until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	sub := h.cache.Subscribe(ctx, store.ChannelRows)
	defer sub.Close()
	updates := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			h.logger.Infow("WebSocket hub shutting down")
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.metrics.IncrementConnections(ctx)
			h.logger.Debugw("Client registered", "query", client.Query())

		case client := <-h.unregister:
			if h.drop(client) {
				h.metrics.DecrementConnections(ctx)
				h.logger.Debugw("Client unregistered")
			}

		case msg, ok := <-updates:
			if !ok {
				h.logger.Warnw("Board update subscription closed")
				updates = nil
				continue
			}
			h.broadcast(ctx, msg)
		}
	}
}

// ClientCount reports the connected websocket clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(ctx context.Context, msg *store.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now().Unix()
	for client := range h.clients {
		data := filterPayload(msg.Payload, client.Query())
		if data == nil {
			continue
		}
		out, err := json.Marshal(Message{
			Type:      "update",
			Topic:     msg.Channel,
			Data:      data,
			Timestamp: now,
		})
		if err != nil {
			h.logger.Errorw("Failed to marshal WebSocket message", "error", err)
			return
		}
		select {
		case client.send <- out:
		default:
			// slow consumer
			delete(h.clients, client)
			close(client.send)
			h.metrics.DecrementConnections(ctx)
			h.logger.Debugw("Dropped slow client")
		}
	}
}

// drop removes client and reports whether it was still registered.
func (h *Hub) drop(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return false
	}
	delete(h.clients, client)
	close(client.send)
	return true
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
}

// HandleWebSocket upgrades the request. The optional "search" query
// parameter sets the initial symbol filter.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		query: r.URL.Query().Get("search"),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) Query() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query
}

func (c *Client) setQuery(q string) {
	c.mu.Lock()
	c.query = q
	c.mu.Unlock()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Errorw("WebSocket error", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleMessage(message)
	}
}

func (c *Client) writePump() {
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

func (c *Client) handleMessage(message []byte) {
	var req ClientRequest
	if err := json.Unmarshal(message, &req); err != nil {
		c.hub.logger.Warnw("Invalid client message", "error", err)
		return
	}

	switch req.Type {
	case "search":
		c.setQuery(req.Query)
		c.hub.logger.Debugw("Client search updated", "query", req.Query)
	default:
		c.hub.logger.Debugw("Ignoring client message", "type", req.Type)
	}
}
