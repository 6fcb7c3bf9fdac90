// Package auth serves registration, login and token refresh under
// /api/auth.
package auth

import (
	"errors"
	"mealbuddy/internal/app"
	"mealbuddy/internal/database"
	"mealbuddy/internal/features/users"
	"mealbuddy/internal/middleware"
	jwtauth "mealbuddy/pkg/auth"
	"time"

	"github.com/gofiber/fiber/v2"
)

const refreshCookie = "refresh_token"

// Blueprint handles local JWT authentication endpoints.
type Blueprint struct {
	persist database.Provider
	tokens  *jwtauth.Manager
	store   *users.Store
	app     *app.App
}

// New returns the auth blueprint.
func New(persist database.Provider, m *jwtauth.Manager) *Blueprint {
	return &Blueprint{persist: persist, tokens: m}
}

func (b *Blueprint) Name() string { return "auth" }

// Register shares the users table with the users feature.
func (b *Blueprint) Register(a *app.App, r fiber.Router) error {
	if err := b.persist.Register(users.Table); err != nil {
		return err
	}
	b.store = users.NewStore(b.persist.Handle())
	b.app = a

	attempts := middleware.AuthAttemptRateLimiter(middleware.RateLimitConfigFrom(a.Config()), a.Logger())
	r.Get("/status", b.status)
	r.Post("/register", attempts, b.register)
	r.Post("/login", attempts, b.login)
	r.Post("/refresh", b.refresh)
	r.Post("/logout", middleware.RequireAuth(b.tokens), b.logout)
	r.Get("/me", middleware.RequireAuth(b.tokens), b.me)
	return nil
}

// RegisterRequest is the request body for registration
type RegisterRequest struct {
	Email       string `json:"email" validate:"required,email,max=255"`
	Password    string `json:"password" validate:"required"`
	DisplayName string `json:"display_name" validate:"max=255"`
}

// LoginRequest is the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// RefreshRequest is the request body for token refresh
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Response is returned by register, login and refresh.
type Response struct {
	*jwtauth.TokenPair
	User users.Response `json:"user"`
}

// status reports whether any account exists yet, so clients can show a
// first-run screen
// GET /api/auth/status
func (b *Blueprint) status(c *fiber.Ctx) error {
	n, err := b.store.Count(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"has_users": n > 0})
}

// register creates a new user account
// POST /api/auth/register
func (b *Blueprint) register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := middleware.Bind(c, &req); err != nil {
		return err
	}
	if err := jwtauth.ValidatePassword(req.Password); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	hash, err := jwtauth.HashPassword(req.Password)
	if err != nil {
		b.app.Logger().Error("failed to hash password", "error", err)
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to create account")
	}

	u := &users.User{Email: req.Email, PasswordHash: hash, DisplayName: req.DisplayName}
	if err := b.store.Create(c.UserContext(), u); err != nil {
		if errors.Is(err, users.ErrEmailTaken) {
			return fiber.NewError(fiber.StatusConflict, "User with this email already exists")
		}
		return err
	}

	b.app.Logger().Info("user registered", "user_id", u.ID, "role", u.Role)
	return b.issue(c, fiber.StatusCreated, u)
}

// login authenticates a user
// POST /api/auth/login
func (b *Blueprint) login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := middleware.Bind(c, &req); err != nil {
		return err
	}

	invalid := fiber.NewError(fiber.StatusUnauthorized, "Invalid email or password")
	u, err := b.store.GetByEmail(c.UserContext(), req.Email)
	if errors.Is(err, database.ErrNotFound) {
		return invalid
	}
	if err != nil {
		return err
	}
	if ok, err := jwtauth.VerifyPassword(u.PasswordHash, req.Password); err != nil || !ok {
		b.app.Logger().Warn("failed login attempt", "user_id", u.ID)
		return invalid
	}

	if err := b.store.TouchLogin(c.UserContext(), u.ID); err != nil {
		b.app.Logger().Warn("failed to update last login time", "user_id", u.ID, "error", err)
	}
	return b.issue(c, fiber.StatusOK, u)
}

// refresh exchanges a refresh token for a new pair. The presented refresh
// token is revoked, so each one works once.
// POST /api/auth/refresh
func (b *Blueprint) refresh(c *fiber.Ctx) error {
	token := b.refreshTokenFrom(c)
	if token == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Refresh token is required")
	}

	claims, err := b.tokens.VerifyRefresh(token)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "Invalid or expired refresh token")
	}

	u, err := b.store.GetByID(c.UserContext(), claims.UserID)
	if errors.Is(err, database.ErrNotFound) {
		return fiber.NewError(fiber.StatusUnauthorized, "User not found")
	}
	if err != nil {
		return err
	}

	b.tokens.Revoke(claims)
	return b.issue(c, fiber.StatusOK, u)
}

// logout revokes the caller's access token and, when presented, the
// refresh token of the same user
// POST /api/auth/logout
func (b *Blueprint) logout(c *fiber.Ctx) error {
	access := middleware.Claims(c)
	b.tokens.Revoke(access)

	if token := b.refreshTokenFrom(c); token != "" {
		if claims, err := b.tokens.VerifyRefresh(token); err == nil && claims.UserID == access.UserID {
			b.tokens.Revoke(claims)
		}
	}

	c.ClearCookie(refreshCookie)
	return c.JSON(fiber.Map{"message": "Logged out successfully"})
}

// me returns the currently authenticated user
// GET /api/auth/me
func (b *Blueprint) me(c *fiber.Ctx) error {
	u, err := b.store.GetByID(c.UserContext(), middleware.UserID(c))
	if errors.Is(err, database.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "User not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(u.ToResponse())
}

// refreshTokenFrom prefers the httpOnly cookie and falls back to the body.
func (b *Blueprint) refreshTokenFrom(c *fiber.Ctx) string {
	if token := c.Cookies(refreshCookie); token != "" {
		return token
	}
	var req RefreshRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err == nil {
			return req.RefreshToken
		}
	}
	return ""
}

func (b *Blueprint) issue(c *fiber.Ctx, status int, u *users.User) error {
	pair, err := b.tokens.Issue(jwtauth.User{ID: u.ID, Email: u.Email, Role: u.Role})
	if err != nil {
		b.app.Logger().Error("failed to generate tokens", "user_id", u.ID, "error", err)
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to generate authentication tokens")
	}

	c.Cookie(&fiber.Cookie{
		Name:     refreshCookie,
		Value:    pair.RefreshToken,
		Expires:  time.Now().Add(b.tokens.RefreshTTL()),
		HTTPOnly: true,
		Secure:   b.app.Config().IsProduction(),
		SameSite: "Strict",
		Path:     "/api/auth",
	})

	return c.Status(status).JSON(Response{TokenPair: pair, User: u.ToResponse()})
}
