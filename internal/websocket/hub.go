package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	// Registered clients
	Clients map[*Client]bool

	// Register requests from clients
	Register chan *Client

	// Unregister requests from clients
	Unregister chan *Client

	// Closed once Run has returned
	done chan struct{}

	// Mutex for thread-safe operations
	mu  sync.RWMutex
	log *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		Clients:    make(map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case client := <-h.Register:
			h.registerClient(client)
		case client := <-h.Unregister:
			h.unregisterClient(client)
		}
	}
}

// Done is closed when the hub has stopped
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Join registers a client. It returns false once the hub has stopped.
func (h *Hub) Join(client *Client) bool {
	select {
	case h.Register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Leave unregisters a client; a stopped hub has already dropped it
func (h *Hub) Leave(client *Client) {
	select {
	case h.Unregister <- client:
	case <-h.done:
	}
}

// registerClient adds a client to the hub
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.Clients[client] = true
	h.log.Info("client_connected", zap.String("user_id", client.UserID), zap.Int("online", len(h.Clients)))
}

// unregisterClient removes a client from the hub
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.Clients[client]; ok {
		delete(h.Clients, client)
		client.close()
		h.log.Info("client_disconnected", zap.String("user_id", client.UserID), zap.Int("online", len(h.Clients)))
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.Clients {
		client.close()
		delete(h.Clients, client)
	}
}

// BroadcastAll sends a message to every connected operator
func (h *Hub) BroadcastAll(message WSMessage) {
	data, err := json.Marshal(message)
	if err != nil {
		h.log.Error("broadcast_marshal_failed", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.Clients {
		if !client.enqueue(data) {
			h.log.Warn("client_send_buffer_full", zap.String("user_id", client.UserID))
		}
	}
}

// BroadcastToUser sends a message to every connection of one operator
func (h *Hub) BroadcastToUser(userID string, message WSMessage) {
	data, err := json.Marshal(message)
	if err != nil {
		h.log.Error("broadcast_marshal_failed", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.Clients {
		if client.UserID == userID && !client.enqueue(data) {
			h.log.Warn("client_send_buffer_full", zap.String("user_id", userID))
		}
	}
}

// Publish broadcasts a server-wide event, e.g. a new unread badge
func (h *Hub) Publish(event string, payload any) {
	h.BroadcastAll(WSMessage{
		Type:      EventType(event),
		Payload:   payload,
		Timestamp: time.Now(),
	})
}

// ClientsOf returns the live connections of an operator
func (h *Hub) ClientsOf(userID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*Client
	for client := range h.Clients {
		if client.UserID == userID {
			out = append(out, client)
		}
	}
	return out
}

// GetOnlineUsers returns the distinct operators currently connected
func (h *Hub) GetOnlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]bool, len(h.Clients))
	userIDs := make([]string, 0, len(h.Clients))
	for client := range h.Clients {
		if !seen[client.UserID] {
			seen[client.UserID] = true
			userIDs = append(userIDs, client.UserID)
		}
	}

	return userIDs
}

// GetOnlineCount returns the number of currently connected clients
func (h *Hub) GetOnlineCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.Clients)
}
