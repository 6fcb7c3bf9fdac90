// Package users serves account profiles under /api/users and owns the
// users table.
package users

import (
	"errors"
	"mealbuddy/internal/app"
	"mealbuddy/internal/database"
	"mealbuddy/internal/middleware"
	"mealbuddy/pkg/auth"

	"github.com/gofiber/fiber/v2"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// Blueprint mounts the user routes.
type Blueprint struct {
	persist database.Provider
	auth    *auth.Manager
	store   *Store
}

// New returns the users blueprint.
func New(persist database.Provider, m *auth.Manager) *Blueprint {
	return &Blueprint{persist: persist, auth: m}
}

func (b *Blueprint) Name() string { return "users" }

// Register registers the users table and routes. Every route requires a
// valid access token.
func (b *Blueprint) Register(_ *app.App, r fiber.Router) error {
	if err := b.persist.Register(Table); err != nil {
		return err
	}
	b.store = NewStore(b.persist.Handle())

	r.Use(middleware.RequireAuth(b.auth))
	r.Get("/", middleware.RequireRole(RoleAdmin), b.list)
	r.Get("/me", b.me)
	r.Patch("/me", b.updateMe)
	r.Get("/:id", b.get)
	return nil
}

// list returns one page of accounts
// GET /api/users?page=1&per_page=20
func (b *Blueprint) list(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	perPage := c.QueryInt("per_page", defaultPerPage)
	if perPage < 1 || perPage > maxPerPage {
		perPage = defaultPerPage
	}

	ctx := c.UserContext()
	total, err := b.store.Count(ctx)
	if err != nil {
		return err
	}
	list, err := b.store.List(ctx, perPage, (page-1)*perPage)
	if err != nil {
		return err
	}

	out := make([]Response, 0, len(list))
	for _, u := range list {
		out = append(out, u.ToResponse())
	}
	return c.JSON(fiber.Map{
		"users":    out,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

func (b *Blueprint) me(c *fiber.Ctx) error {
	return b.respondWith(c, middleware.UserID(c))
}

type updateRequest struct {
	DisplayName string `json:"display_name" validate:"max=255"`
}

// updateMe changes the caller's display name
// PATCH /api/users/me
func (b *Blueprint) updateMe(c *fiber.Ctx) error {
	var req updateRequest
	if err := middleware.Bind(c, &req); err != nil {
		return err
	}

	u, err := b.store.UpdateDisplayName(c.UserContext(), middleware.UserID(c), req.DisplayName)
	if errors.Is(err, database.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "User not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(u.ToResponse())
}

// get returns a profile. Users may only read their own unless admin.
func (b *Blueprint) get(c *fiber.Ctx) error {
	id := c.Params("id")
	if id != middleware.UserID(c) && !middleware.IsAdmin(c) {
		return fiber.NewError(fiber.StatusForbidden, "Insufficient permissions")
	}
	return b.respondWith(c, id)
}

func (b *Blueprint) respondWith(c *fiber.Ctx, id string) error {
	u, err := b.store.GetByID(c.UserContext(), id)
	if errors.Is(err, database.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "User not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(u.ToResponse())
}
