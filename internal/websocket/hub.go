package websocket

import (
	"log/slog"
	"sync"

	"github.com/mediakeep/upload-service/internal/types"
)

// Hub maintains the set of connected owners and delivers progress events to
// them. One connection per owner; a new connection replaces the old one.
type Hub struct {
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if existing, exists := h.clients[client.ownerID]; exists {
				close(existing.send)
			}
			h.clients[client.ownerID] = client
			h.mu.Unlock()
			slog.Info("WebSocket client connected", slog.String("owner_id", client.ownerID))

		case client := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[client.ownerID]; ok && current == client {
				delete(h.clients, client.ownerID)
				close(client.send)
				slog.Info("WebSocket client disconnected", slog.String("owner_id", client.ownerID))
			}
			h.mu.Unlock()
		}
	}
}

// RegisterClient registers a new client
func (h *Hub) RegisterClient(client *Client) {
	h.register <- client
}

// UnregisterClient unregisters a client
func (h *Hub) UnregisterClient(client *Client) {
	h.unregister <- client
}

// BroadcastToOwner sends an event to one connected owner, if present.
func (h *Hub) BroadcastToOwner(ownerID string, event *types.Event) {
	h.mu.RLock()
	client, ok := h.clients[ownerID]
	h.mu.RUnlock()

	if !ok {
		return
	}

	if err := client.SendEvent(event); err != nil {
		slog.Error("Failed to send event to client",
			slog.String("owner_id", ownerID),
			slog.String("error", err.Error()))
		go func() { h.unregister <- client }()
	}
}

// IsConnected checks if an owner currently has a connection.
func (h *Hub) IsConnected(ownerID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, exists := h.clients[ownerID]
	return exists
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}
