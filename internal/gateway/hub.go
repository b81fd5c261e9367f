// Package gateway exposes accepted hook events to WebSocket observers. The
// hub mirrors everything published on the event bus to connected clients,
// optionally filtered per project.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/discode/discode/internal/common/logger"
	"github.com/discode/discode/internal/events/bus"
)

// hookSubject matches every event the pipeline publishes.
const hookSubject = "discode.hook.>"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The hook server binds loopback only; origin checks add nothing here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub manages stream clients and the bus subscription feeding them.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	eventBus bus.EventBus
	sub      bus.Subscription

	mu     sync.RWMutex
	done   chan struct{}
	logger *logger.Logger
}

// NewHub creates a hub mirroring eventBus to stream clients.
func NewHub(eventBus bus.EventBus, log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		eventBus:   eventBus,
		logger:     log.WithFields(zap.String("component", "event-gateway")),
	}
}

// Start subscribes to hook events and runs the hub loop until ctx ends.
func (h *Hub) Start(ctx context.Context) error {
	sub, err := h.eventBus.Subscribe(hookSubject, func(ctx context.Context, event *bus.Event) error {
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		select {
		case h.broadcast <- data:
		default:
			h.logger.Warn("broadcast buffer full, dropping event",
				zap.String("type", event.Type))
		}
		return nil
	})
	if err != nil {
		return err
	}
	h.sub = sub

	go h.run(ctx)
	return nil
}

func (h *Hub) run(ctx context.Context) {
	h.logger.Info("event gateway started")
	defer h.logger.Info("event gateway stopped")

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.CloseAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("stream client connected", zap.String("client_id", client.id))

		case client := <-h.unregister:
			h.removeClient(client)

		case data := <-h.broadcast:
			h.broadcastData(data)
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.logger.Debug("stream client disconnected", zap.String("client_id", client.id))
}

func (h *Hub) broadcastData(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if !client.wants(data) {
			continue
		}
		select {
		case client.send <- data:
		default:
			// Buffer full; the write pump tears the client down.
		}
	}
}

// CloseAll destroys every open stream socket. Called on shutdown and when the
// hub loop exits.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		client.conn.Close()
		delete(h.clients, client)
	}
	if h.sub != nil {
		if err := h.sub.Unsubscribe(); err != nil {
			h.logger.WithError(err).Debug("unsubscribe failed")
		}
		h.sub = nil
	}
}

// ClientCount returns the number of connected stream clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleStream upgrades GET /events/stream to a WebSocket and starts the
// client's pumps.
func (h *Hub) HandleStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &Client{
		id:      uuid.New().String(),
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, 64),
		project: c.Query("project"),
		logger:  h.logger,
	}

	h.register <- client
	go client.writePump()
	go client.readPump()
}
