// Package events serves the shared meal calendar under /api/events and
// announces changes on the realtime "events" room.
package events

import (
	"context"
	"errors"
	"log/slog"
	"mealbuddy/internal/app"
	"mealbuddy/internal/database"
	"mealbuddy/internal/middleware"
	"mealbuddy/pkg/auth"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Room is the realtime room event changes are emitted to.
const Room = "events"

// Realtime event names.
const (
	EventCreated = "event_created"
	EventUpdated = "event_updated"
	EventDeleted = "event_deleted"
)

const (
	defaultLimit = 100
	maxLimit     = 500
)

// Emitter broadcasts to a realtime room.
type Emitter interface {
	Emit(ctx context.Context, event, room string, data any) error
}

// Blueprint mounts the events routes.
type Blueprint struct {
	persist database.Provider
	auth    *auth.Manager
	emitter Emitter
	store   *Store
	log     *slog.Logger
}

// New returns the events blueprint. emitter may be nil.
func New(persist database.Provider, m *auth.Manager, emitter Emitter) *Blueprint {
	return &Blueprint{persist: persist, auth: m, emitter: emitter}
}

func (b *Blueprint) Name() string { return "events" }

// Register registers the events table and routes. Reads are public.
func (b *Blueprint) Register(a *app.App, r fiber.Router) error {
	if err := b.persist.Register(Table); err != nil {
		return err
	}
	b.store = NewStore(b.persist.Handle())
	b.log = a.Logger().With("feature", "events")

	requireAuth := middleware.RequireAuth(b.auth)
	r.Get("/", b.list)
	r.Get("/:id", b.get)
	r.Post("/", requireAuth, b.create)
	r.Put("/:id", requireAuth, b.update)
	r.Delete("/:id", requireAuth, b.delete)
	return nil
}

// Request is the body of create and update.
type Request struct {
	Title       string     `json:"title" validate:"required,max=255"`
	Description string     `json:"description" validate:"max=10000"`
	Location    string     `json:"location" validate:"max=255"`
	StartsAt    *time.Time `json:"starts_at" validate:"required"`
	EndsAt      *time.Time `json:"ends_at"`
}

func (req *Request) bind(c *fiber.Ctx) error {
	if err := middleware.Bind(c, req); err != nil {
		return err
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return fiber.NewError(fiber.StatusBadRequest, "title is required")
	}
	if req.EndsAt != nil && !req.EndsAt.After(*req.StartsAt) {
		return fiber.NewError(fiber.StatusBadRequest, "ends_at must be after starts_at")
	}
	return nil
}

func (req *Request) apply(e *Event) {
	e.Title = req.Title
	e.Description = req.Description
	e.Location = req.Location
	e.StartsAt = req.StartsAt.UTC().Truncate(time.Millisecond)
	e.EndsAt = nil
	if req.EndsAt != nil {
		t := req.EndsAt.UTC().Truncate(time.Millisecond)
		e.EndsAt = &t
	}
}

// list returns upcoming events ordered by start time
// GET /api/events?from=2026-01-01T00:00:00Z&limit=100
func (b *Blueprint) list(c *fiber.Ctx) error {
	var from time.Time
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "from must be an RFC3339 timestamp")
		}
		from = t
	}
	limit := c.QueryInt("limit", defaultLimit)
	if limit < 1 || limit > maxLimit {
		limit = defaultLimit
	}

	list, err := b.store.List(c.UserContext(), from, limit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"events": list})
}

func (b *Blueprint) get(c *fiber.Ctx) error {
	e, err := b.find(c)
	if err != nil {
		return err
	}
	return c.JSON(e)
}

// create adds an event owned by the caller
// POST /api/events
func (b *Blueprint) create(c *fiber.Ctx) error {
	var req Request
	if err := req.bind(c); err != nil {
		return err
	}

	e := &Event{OwnerID: middleware.UserID(c)}
	req.apply(e)
	if err := b.store.Create(c.UserContext(), e); err != nil {
		return err
	}

	b.emit(c.UserContext(), EventCreated, e)
	return c.Status(fiber.StatusCreated).JSON(e)
}

// update replaces an event's fields; owner only
// PUT /api/events/:id
func (b *Blueprint) update(c *fiber.Ctx) error {
	e, err := b.find(c)
	if err != nil {
		return err
	}
	if e.OwnerID != middleware.UserID(c) {
		return fiber.NewError(fiber.StatusForbidden, "Only the owner can edit this event")
	}

	var req Request
	if err := req.bind(c); err != nil {
		return err
	}
	req.apply(e)
	if err := b.store.Update(c.UserContext(), e); err != nil {
		return err
	}

	b.emit(c.UserContext(), EventUpdated, e)
	return c.JSON(e)
}

// delete removes an event; owner or admin
// DELETE /api/events/:id
func (b *Blueprint) delete(c *fiber.Ctx) error {
	e, err := b.find(c)
	if err != nil {
		return err
	}
	if e.OwnerID != middleware.UserID(c) && !middleware.IsAdmin(c) {
		return fiber.NewError(fiber.StatusForbidden, "Only the owner can delete this event")
	}
	if err := b.store.Delete(c.UserContext(), e.ID); err != nil && !errors.Is(err, database.ErrNotFound) {
		return err
	}

	b.emit(c.UserContext(), EventDeleted, fiber.Map{"id": e.ID})
	return c.SendStatus(fiber.StatusNoContent)
}

func (b *Blueprint) find(c *fiber.Ctx) (*Event, error) {
	e, err := b.store.Get(c.UserContext(), c.Params("id"))
	if errors.Is(err, database.ErrNotFound) {
		return nil, fiber.NewError(fiber.StatusNotFound, "Event not found")
	}
	return e, err
}

// emit never fails the request; the row is already committed.
func (b *Blueprint) emit(ctx context.Context, event string, data any) {
	if b.emitter == nil {
		return
	}
	if err := b.emitter.Emit(ctx, event, Room, data); err != nil {
		b.log.Warn("failed to emit realtime event", "event", event, "error", err)
	}
}
