package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
	// sendBuffer is the per-connection outbound queue length.
	sendBuffer = 256
)

// EventMirror receives a copy of every broadcast (e.g. Redis pub/sub for external observers).
type EventMirror interface {
	Mirror(event string, payload []byte)
}

// Hub is the broadcast coordinator: it owns every live connection and room membership
// and fans events out without blocking on slow clients.
type Hub struct {
	clients map[string]*Client            // connectionID -> client
	rooms   map[string]map[string]*Client // room -> connectionID -> client
	mu      sync.RWMutex
	logger  *zap.Logger
	mirror  EventMirror
}

// NewHub creates a new WebSocket hub. mirror may be nil.
func NewHub(logger *zap.Logger, mirror EventMirror) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
		logger:  logger,
		mirror:  mirror,
	}
}

// Register adds a client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("client connected", zap.String("conn_id", c.ID), zap.Int("connections", count))
}

// Unregister removes a client from the hub and every room and closes its send queue. Idempotent.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	c, ok := h.clients[connID]
	if ok {
		delete(h.clients, connID)
		for room, members := range h.rooms {
			delete(members, connID)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	h.mu.Unlock()
	if ok {
		c.closeSend()
		h.logger.Debug("client disconnected", zap.String("conn_id", connID))
	}
}

// Disconnect force-closes a connection (eviction, kick). Messages already queued are flushed first.
func (h *Hub) Disconnect(connID string) {
	h.Unregister(connID)
}

// JoinRoom adds a connection to a named room. Returns false when the connection is unknown.
func (h *Hub) JoinRoom(connID, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[connID]
	if !ok {
		return false
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]*Client)
	}
	h.rooms[room][connID] = c
	return true
}

// InRoom reports whether a connection has joined room.
func (h *Hub) InRoom(connID, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][connID]
	return ok
}

// Broadcast sends an event to every connection.
func (h *Hub) Broadcast(event string, payload interface{}) {
	msg, ok := h.encode(event, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	for _, c := range h.clients {
		h.deliver(c, msg)
	}
	h.mu.RUnlock()
	h.mirrorEvent(msg)
}

// BroadcastExcept sends an event to every connection except connID.
func (h *Hub) BroadcastExcept(connID, event string, payload interface{}) {
	msg, ok := h.encode(event, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	for id, c := range h.clients {
		if id != connID {
			h.deliver(c, msg)
		}
	}
	h.mu.RUnlock()
	h.mirrorEvent(msg)
}

// BroadcastToRoom sends an event to the members of room.
func (h *Hub) BroadcastToRoom(room, event string, payload interface{}) {
	msg, ok := h.encode(event, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	for _, c := range h.rooms[room] {
		h.deliver(c, msg)
	}
	h.mu.RUnlock()
}

// SendTo sends an event to a single connection.
func (h *Hub) SendTo(connID, event string, payload interface{}) {
	msg, ok := h.encode(event, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	c, found := h.clients[connID]
	if found {
		h.deliver(c, msg)
	}
	h.mu.RUnlock()
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	for _, id := range ids {
		h.Unregister(id)
	}
}

func (h *Hub) encode(event string, payload interface{}) (WSMessage, bool) {
	var data []byte
	switch v := payload.(type) {
	case nil:
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			h.logger.Error("marshal event", zap.String("event", event), zap.Error(err))
			return WSMessage{}, false
		}
	}
	return WSMessage{Event: event, Data: data}, true
}

// deliver must be called with h.mu held (read or write).
func (h *Hub) deliver(c *Client, msg WSMessage) {
	select {
	case c.send <- msg:
	default:
		// buffer full: drop for this client only
		h.logger.Warn("dropping event for slow client", zap.String("conn_id", c.ID), zap.String("event", msg.Event))
	}
}

func (h *Hub) mirrorEvent(msg WSMessage) {
	if h.mirror != nil {
		h.mirror.Mirror(msg.Event, msg.Data)
	}
}
