package ws

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/christopherjohns/chatmatch/internal/message"
)

// Client represents a connected WebSocket user.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	id   string
}

// Hub maps connection ids to clients and delivers engine events to them.
// It implements chat.Notifier.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	conns   *ConnManager
	logger  *zap.Logger
}

// NewHub creates a new Hub on top of cm.
func NewHub(cm *ConnManager, logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		conns:   cm,
		logger:  logger,
	}
}

// ConnMgr returns the connection manager for this hub.
func (h *Hub) ConnMgr() *ConnManager {
	return h.conns
}

// addClient registers a client and starts its write pump. The returned
// context is cancelled when the client is removed; it is already
// cancelled if the connection manager refused the client.
func (h *Hub) addClient(c *Client) context.Context {
	ctx := h.conns.Add(c)
	if ctx.Err() != nil {
		return ctx
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	return ctx
}

// removeClient unregisters a client and stops its write pump.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if cur, ok := h.clients[c.id]; ok && cur == c {
		delete(h.clients, c.id)
	}
	h.mu.Unlock()

	h.conns.Remove(c)
}

// Notify encodes ev and queues it for the client with the given id.
// Events for unknown ids are dropped.
func (h *Hub) Notify(connID string, ev message.Event) {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		h.logger.Debug("event for unknown connection dropped",
			zap.String("conn_id", connID),
			zap.String("type", ev.Type))
		return
	}

	data, err := ev.Encode()
	if err != nil {
		h.logger.Error("failed to encode event", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	h.conns.Send(c, data)
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
