// Package realtime manages WebSocket connections, room membership and frame fan-out.
package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"guardwatch/internal/logging"
	"guardwatch/internal/metrics"
)

// Frame is the wire unit in both directions: {"event": "...", "data": {...}}.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

func encodeFrame(event string, data any) ([]byte, error) {
	return json.Marshal(outFrame{Event: event, Data: data})
}

// Relay carries frames between instances. Frames published through a relay are
// delivered to local rooms only when they come back from it.
type Relay interface {
	Publish(ctx context.Context, room, event string, payload []byte) error
}

var errClientGone = errors.New("client not registered")

// Hub tracks clients and the rooms they joined. Room "" is never joinable;
// broadcasts address every registered client.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
	relay   Relay
}

// NewHub creates an empty Hub delivering locally.
func NewHub() *Hub {
	return &Hub{clients: map[*Client]struct{}{}, rooms: map[string]map[*Client]struct{}{}}
}

// SetRelay routes emitted frames through r.
func (h *Hub) SetRelay(r Relay) {
	h.mu.Lock()
	h.relay = r
	h.mu.Unlock()
}

// Register adds a client without any room.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.ConnectedClients.Set(float64(n))
}

// Unregister removes the client from every room and closes its send queue.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for room := range c.rooms {
		if m := h.rooms[room]; m != nil {
			delete(m, c)
			if len(m) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	c.rooms = nil
	close(c.send)
	n := len(h.clients)
	h.mu.Unlock()
	metrics.ConnectedClients.Set(float64(n))
}

// Join adds c to room. Joining twice is a no-op.
func (h *Hub) Join(c *Client, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return errClientGone
	}
	if h.rooms[room] == nil {
		h.rooms[room] = map[*Client]struct{}{}
	}
	h.rooms[room][c] = struct{}{}
	c.rooms[room] = struct{}{}
	return nil
}

// Leave removes c from room.
func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m := h.rooms[room]; m != nil {
		delete(m, c)
		if len(m) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}

// Emit sends an event to every member of room, across instances when a relay is set.
func (h *Hub) Emit(room, event string, data any) error {
	payload, err := encodeFrame(event, data)
	if err != nil {
		return err
	}
	h.route(room, event, payload)
	return nil
}

// Broadcast sends an event to every connected client.
func (h *Hub) Broadcast(event string, data any) error {
	return h.Emit("", event, data)
}

func (h *Hub) route(room, event string, payload []byte) {
	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()
	if relay != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err := relay.Publish(ctx, room, event, payload)
		if err == nil {
			return
		}
		logging.Warn().Err(err).Str("room", room).Str("event", event).Msg("relay publish failed, delivering locally")
	}
	h.Deliver(room, event, payload)
}

// Deliver queues an encoded frame to the local members of room ("" for all clients).
func (h *Hub) Deliver(room, event string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	targets := h.clients
	if room != "" {
		targets = h.rooms[room]
	}
	n := 0
	for c := range targets {
		if c.enqueue(payload) {
			n++
		}
	}
	if n > 0 {
		metrics.OutboundFrames.WithLabelValues(event).Add(float64(n))
	}
	return n
}

// sendTo queues a frame to a single client if it is still registered.
func (h *Hub) sendTo(c *Client, event string, data any) error {
	payload, err := encodeFrame(event, data)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return errClientGone
	}
	if c.enqueue(payload) {
		metrics.OutboundFrames.WithLabelValues(event).Inc()
	}
	return nil
}

// RoomSize returns the number of local members of room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Len returns the number of registered clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close sends a close frame to every client; their pumps unregister them.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.closeConn()
	}
}
