// Package websocket pushes live issuance and redemption events to connected
// admin dashboards, so counters update without polling the stats endpoints.
package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Event is a real-time notification broadcast to all connected dashboards.
type Event struct {
	Type    string         `json:"type"`
	TokenID string         `json:"token_id,omitempty"`
	BatchID string         `json:"batch_id,omitempty"`
	Extra   map[string]any `json:"extra,omitempty"`
	At      time.Time      `json:"at"`
}

// RedeemedEvent builds the event emitted for each winning redemption.
func RedeemedEvent(tokenID, product, batchID string, amount int64) Event {
	return Event{
		Type:    "token_redeemed",
		TokenID: tokenID,
		BatchID: batchID,
		Extra: map[string]any{
			"product": product,
			"amount":  amount,
		},
		At: time.Now().UTC(),
	}
}

// BatchIssuedEvent builds the event emitted when a batch is issued.
func BatchIssuedEvent(batchID, product string, count int) Event {
	return Event{
		Type:    "batch_issued",
		BatchID: batchID,
		Extra: map[string]any{
			"product": product,
			"count":   count,
		},
		At: time.Now().UTC(),
	}
}

// Hub maintains the set of active WebSocket clients and broadcasts events.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast sends an event to all connected clients.
func (h *Hub) Broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Client buffer full — drop event to avoid blocking the
			// redemption path
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
