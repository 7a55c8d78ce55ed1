// Package notify fans escalation events out to realtime subscribers and
// delivers per-user notifications over push, SMS, email, and webhooks.
package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ringlet-ai/ringlet/logger"
)

// Hub fans events out to WebSocket subscribers grouped by business.
// A dashboard client connects, joins its business room, and receives every
// escalation raised for that business's calls.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*websocket.Conn]struct{}
	upgrader websocket.Upgrader
}

// NewHub creates an empty subscriber hub.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

type joinMessage struct {
	BusinessID string `json:"business_id"`
}

type event struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// ServeHTTP upgrades the connection and subscribes it to the business room
// named in the client's first message. The connection stays registered until
// it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("subscriber upgrade failed", "error", err)
		return
	}

	var join joinMessage
	if err := conn.ReadJSON(&join); err != nil || join.BusinessID == "" {
		_ = conn.Close()
		return
	}

	h.add(join.BusinessID, conn)
	logger.Debug("subscriber joined", "business_id", join.BusinessID)

	// Drain the connection so close frames are processed; subscribers are
	// receive-only after the join message.
	go func() {
		defer h.remove(join.BusinessID, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// EmitEscalation delivers payload to every subscriber of the business.
// Failed writes drop the subscriber; delivery is fire-and-forget.
func (h *Hub) EmitEscalation(_ context.Context, businessID string, payload any) {
	data, err := json.Marshal(event{Event: "escalation", Payload: payload})
	if err != nil {
		logger.Warn("escalation payload marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.rooms[businessID]))
	for conn := range h.rooms[businessID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.remove(businessID, conn)
		}
	}
}

// SubscriberCount reports how many connections a business room holds.
func (h *Hub) SubscriberCount(businessID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[businessID])
}

func (h *Hub) add(businessID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[businessID] == nil {
		h.rooms[businessID] = make(map[*websocket.Conn]struct{})
	}
	h.rooms[businessID][conn] = struct{}{}
}

func (h *Hub) remove(businessID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[businessID]; ok {
		delete(room, conn)
		if len(room) == 0 {
			delete(h.rooms, businessID)
		}
	}
	_ = conn.Close()
}
