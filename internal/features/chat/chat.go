// Package chat keeps per-room chat history under /api/chat and relays
// chat_message frames between realtime clients.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"mealbuddy/internal/app"
	"mealbuddy/internal/database"
	"mealbuddy/internal/middleware"
	"mealbuddy/internal/realtime"
	"mealbuddy/pkg/auth"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// EventMessage is both the inbound realtime event and the broadcast.
const EventMessage = "chat_message"

const (
	defaultLimit = 50
	maxLimit     = 200
	maxBody      = 4000
)

// Blueprint mounts the chat routes.
type Blueprint struct {
	persist database.Provider
	auth    *auth.Manager
	hub     *realtime.Hub
	store   *Store
	log     *slog.Logger
}

// New returns the chat blueprint. hub may be nil, in which case messages
// are only stored.
func New(persist database.Provider, m *auth.Manager, hub *realtime.Hub) *Blueprint {
	return &Blueprint{persist: persist, auth: m, hub: hub}
}

func (b *Blueprint) Name() string { return "chat" }

// Register registers the chat table, routes and the chat_message
// realtime handler.
func (b *Blueprint) Register(a *app.App, r fiber.Router) error {
	if err := b.persist.Register(Table); err != nil {
		return err
	}
	b.store = NewStore(b.persist.Handle())
	b.log = a.Logger().With("feature", "chat")

	if b.hub != nil {
		if err := b.hub.On(EventMessage, b.onMessage); err != nil {
			return err
		}
	}

	r.Use(middleware.RequireAuth(b.auth))
	r.Get("/rooms/:room/messages", b.history)
	r.Post("/rooms/:room/messages", b.post)
	return nil
}

// PostRequest is the body of a new message.
type PostRequest struct {
	Body string `json:"body" validate:"required,max=4000"`
}

func roomParam(c *fiber.Ctx) (string, error) {
	room := c.Params("room")
	if !realtime.ValidRoom(room) {
		return "", fiber.NewError(fiber.StatusBadRequest, "Invalid room name")
	}
	return room, nil
}

// history returns the latest messages, oldest first
// GET /api/chat/rooms/:room/messages?limit=50
func (b *Blueprint) history(c *fiber.Ctx) error {
	room, err := roomParam(c)
	if err != nil {
		return err
	}
	limit := c.QueryInt("limit", defaultLimit)
	if limit < 1 || limit > maxLimit {
		return fiber.NewError(fiber.StatusBadRequest, "limit must be between 1 and 200")
	}

	msgs, err := b.store.Recent(c.UserContext(), room, limit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"room": room, "messages": msgs})
}

// post stores a message and broadcasts it to the room
// POST /api/chat/rooms/:room/messages
func (b *Blueprint) post(c *fiber.Ctx) error {
	room, err := roomParam(c)
	if err != nil {
		return err
	}
	var req PostRequest
	if err := middleware.Bind(c, &req); err != nil {
		return err
	}
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return fiber.NewError(fiber.StatusBadRequest, "body is required")
	}

	m, err := b.send(c.UserContext(), room, middleware.UserID(c), body)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(m)
}

type inbound struct {
	Room string `json:"room"`
	Body string `json:"body"`
}

// onMessage handles a chat_message frame from a connected client. The
// sender must be authenticated and have joined the room.
func (b *Blueprint) onMessage(ctx context.Context, from *realtime.Client, msg realtime.Message) error {
	if !from.Authenticated() {
		return errors.New("authentication required")
	}
	var in inbound
	if err := msg.Bind(&in); err != nil {
		return errors.New("invalid chat message")
	}
	if in.Room == "" {
		in.Room = msg.Room
	}
	in.Body = strings.TrimSpace(in.Body)
	switch {
	case !realtime.ValidRoom(in.Room):
		return errors.New("invalid room name")
	case in.Body == "":
		return errors.New("body is required")
	case len(in.Body) > maxBody:
		return errors.New("body must be at most 4000 characters")
	case !b.hub.InRoom(from, in.Room):
		return errors.New("join the room before sending messages")
	}

	_, err := b.send(ctx, in.Room, from.UserID, in.Body)
	return err
}

func (b *Blueprint) send(ctx context.Context, room, userID, body string) (*Message, error) {
	m, err := b.store.Add(ctx, room, userID, body)
	if err != nil {
		return nil, err
	}
	if b.hub != nil {
		if err := b.hub.Emit(ctx, EventMessage, room, m); err != nil {
			b.log.Warn("failed to broadcast chat message", "room", room, "error", err)
		}
	}
	return m, nil
}
