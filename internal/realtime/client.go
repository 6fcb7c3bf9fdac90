package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"mealbuddy/internal/middleware"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	sendBuffer   = 100
	readTimeout  = 90 * time.Second
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
	maxFrameSize = 64 * 1024
)

// Client is one websocket connection. UserID is empty for anonymous
// connections.
type Client struct {
	ID     string
	UserID string
	Role   string

	conn    *websocket.Conn
	limiter *rate.Limiter
	rooms   map[string]bool // guarded by Hub.mu

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(conn *websocket.Conn, userID, role string, limiter *rate.Limiter) *Client {
	return &Client{
		ID:      uuid.NewString(),
		UserID:  userID,
		Role:    role,
		conn:    conn,
		limiter: limiter,
		rooms:   make(map[string]bool),
		send:    make(chan []byte, sendBuffer),
	}
}

// Authenticated reports whether the connection presented a valid token.
func (c *Client) Authenticated() bool {
	return c.UserID != ""
}

// Send writes one frame to this client only.
func (c *Client) Send(event, room string, data any) error {
	payload, err := json.Marshal(Envelope{Event: event, Room: room, Data: data})
	if err != nil {
		return err
	}
	if !c.enqueue(payload) {
		return errors.New("client send buffer full or closed")
	}
	return nil
}

func (c *Client) sendError(code, message string) {
	_ = c.Send(EventError, "", ErrorData{Code: code, Message: message})
}

// enqueue never blocks; a full buffer means the client is not keeping up.
func (c *Client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// disconnect closes the socket, which ends the read loop.
func (c *Client) disconnect() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// serve runs one connection until the client goes away.
func (h *Hub) serve(conn *websocket.Conn) {
	userID, _ := conn.Locals(middleware.LocalUserID).(string)
	role, _ := conn.Locals(middleware.LocalUserRole).(string)
	if userID == middleware.Anonymous {
		userID = ""
	}

	c := newClient(conn, userID, role, rate.NewLimiter(h.inboundRate, h.inboundBurst))
	h.add(c)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(c)
	}()

	_ = c.Send(EventConnected, "", map[string]any{
		"conn_id":       c.ID,
		"authenticated": c.Authenticated(),
	})

	h.readLoop(c)

	h.remove(c)
	<-writerDone
}

func (h *Hub) readLoop(c *Client) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("panic in websocket read loop", "conn_id", c.ID, "panic", r)
		}
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	ctx := context.Background()
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("websocket read error", "conn_id", c.ID, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))

		if !c.limiter.Allow() {
			c.sendError("rate_limited", "Too many messages. Please slow down.")
			continue
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Event == "" {
			c.sendError("invalid_format", "Invalid message format")
			continue
		}
		h.metrics.messages.WithLabelValues(msg.Event, "inbound").Inc()
		h.dispatch(ctx, c, msg)
	}
}

// dispatch handles one decoded frame.
func (h *Hub) dispatch(ctx context.Context, c *Client, msg Message) {
	switch msg.Event {
	case EventPing:
		_ = c.Send(EventPong, "", nil)

	case EventJoin:
		if !ValidRoom(msg.Room) {
			c.sendError("invalid_room", "Invalid room name")
			return
		}
		if !c.Authenticated() && !h.IsPublicRoom(msg.Room) {
			c.sendError("forbidden", "Authentication required to join this room")
			return
		}
		if err := h.Join(c, msg.Room); err != nil {
			c.sendError("invalid_room", err.Error())
			return
		}
		_ = c.Send(EventJoined, msg.Room, nil)

	case EventLeave:
		h.Leave(c, msg.Room)
		_ = c.Send(EventLeft, msg.Room, nil)

	default:
		fn, ok := h.handler(msg.Event)
		if !ok {
			c.sendError("unknown_event", "Unknown event: "+msg.Event)
			return
		}
		if err := fn(ctx, c, msg); err != nil {
			c.sendError("handler_error", err.Error())
		}
	}
}

func (h *Hub) writeLoop(c *Client) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("panic in websocket write loop", "conn_id", c.ID, "panic", r)
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeTimeout))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.log.Debug("websocket write error", "conn_id", c.ID, "error", err)
				c.disconnect()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.disconnect()
				return
			}
		}
	}
}
