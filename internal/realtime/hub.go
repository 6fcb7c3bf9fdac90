// Package realtime implements room-based messaging over websockets, with
// optional fan-out across instances through Redis.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mealbuddy/pkg/auth"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ExtensionName is the name the hub is bound under.
const ExtensionName = "realtime"

var (
	// ErrReservedEvent is returned when registering a built-in event.
	ErrReservedEvent = errors.New("event name is reserved")
	// ErrInvalidRoom is returned for malformed room names.
	ErrInvalidRoom = errors.New("invalid room name")
)

// HandlerFunc handles a custom client event. A returned error is sent back
// to the client as an error frame.
type HandlerFunc func(ctx context.Context, c *Client, msg Message) error

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.log = l }
}

// WithAuth enables ?token= authentication of websocket clients.
func WithAuth(m *auth.Manager) Option {
	return func(h *Hub) { h.auth = m }
}

// WithPublicRooms replaces the rooms anonymous clients may join.
func WithPublicRooms(rooms ...string) Option {
	return func(h *Hub) {
		h.publicRooms = make(map[string]bool, len(rooms))
		for _, r := range rooms {
			h.publicRooms[r] = true
		}
	}
}

// WithInboundRate limits inbound frames per connection.
func WithInboundRate(perSecond float64, burst int) Option {
	return func(h *Hub) {
		h.inboundRate = rate.Limit(perSecond)
		h.inboundBurst = burst
	}
}

// WithQueue sets the cross-instance message queue directly.
func WithQueue(q Queue) Option {
	return func(h *Hub) { h.queue = q }
}

// Hub tracks connected clients and their room membership.
type Hub struct {
	log        *slog.Logger
	instanceID string
	auth       *auth.Manager
	queue      Queue
	metrics    *metrics

	inboundRate  rate.Limit
	inboundBurst int

	mu          sync.RWMutex
	clients     map[string]*Client
	rooms       map[string]map[string]*Client
	handlers    map[string]HandlerFunc
	publicRooms map[string]bool
}

// NewHub creates a hub with no connections.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		log:          slog.Default(),
		instanceID:   uuid.NewString(),
		metrics:      newMetrics(),
		inboundRate:  20,
		inboundBurst: 40,
		clients:      make(map[string]*Client),
		rooms:        make(map[string]map[string]*Client),
		handlers:     make(map[string]HandlerFunc),
		publicRooms:  map[string]bool{"events": true},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Name() string { return ExtensionName }

// InstanceID identifies this process in cross-instance messages.
func (h *Hub) InstanceID() string { return h.instanceID }

// On registers a handler for a custom client event.
func (h *Hub) On(event string, fn HandlerFunc) error {
	if event == "" || isReserved(event) {
		return fmt.Errorf("%q: %w", event, ErrReservedEvent)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[event] = fn
	return nil
}

func (h *Hub) handler(event string) (HandlerFunc, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fn, ok := h.handlers[event]
	return fn, ok
}

// IsPublicRoom reports whether anonymous clients may join room.
func (h *Hub) IsPublicRoom(room string) bool {
	return h.publicRooms[room]
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize returns the number of local clients in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	total := len(h.clients)
	h.mu.Unlock()

	h.metrics.connections.Inc()
	h.log.Debug("websocket client connected", "conn_id", c.ID, "user_id", c.UserID, "total", total)
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	total := len(h.clients)
	h.mu.Unlock()

	c.close()
	h.metrics.connections.Dec()
	h.log.Debug("websocket client disconnected", "conn_id", c.ID, "total", total)
}

// Join adds c to room.
func (h *Hub) Join(c *Client, room string) error {
	if !ValidRoom(room) {
		return ErrInvalidRoom
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[c.ID] = c
	c.rooms[room] = true
	return nil
}

// InRoom reports whether c has joined room.
func (h *Hub) InRoom(c *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.rooms[room]
}

// Leave removes c from room.
func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) leaveLocked(c *Client, room string) {
	delete(c.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Emit sends event to every client in room, or to every client when room
// is empty, on this and, through the queue, all other instances.
func (h *Hub) Emit(ctx context.Context, event, room string, data any) error {
	payload, err := json.Marshal(Envelope{Event: event, Room: room, Data: data})
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	h.metrics.messages.WithLabelValues(event, "outbound").Inc()
	h.deliver(room, payload)

	if h.queue != nil {
		if err := h.queue.Publish(ctx, room, payload); err != nil {
			return fmt.Errorf("publish %s: %w", event, err)
		}
	}
	return nil
}

// deliver writes a pre-encoded frame to local clients.
func (h *Hub) deliver(room string, payload []byte) {
	h.mu.RLock()
	var targets []*Client
	if room == "" {
		targets = make([]*Client, 0, len(h.clients))
		for _, c := range h.clients {
			targets = append(targets, c)
		}
	} else {
		targets = make([]*Client, 0, len(h.rooms[room]))
		for _, c := range h.rooms[room] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.enqueue(payload) {
			h.metrics.dropped.Inc()
			h.log.Warn("dropping message for slow websocket client", "conn_id", c.ID)
		}
	}
}

// Close disconnects every client and stops the queue.
func (h *Hub) Close() error {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.disconnect()
	}
	if h.queue != nil {
		return h.queue.Close()
	}
	return nil
}
