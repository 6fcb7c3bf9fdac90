// Package ai proxies chat completions to an OpenAI-compatible provider
// under /api/ai.
package ai

import (
	"errors"
	"mealbuddy/internal/app"
	"mealbuddy/internal/middleware"
	"mealbuddy/pkg/auth"

	"github.com/gofiber/fiber/v2"
)

// Blueprint mounts the AI routes.
type Blueprint struct {
	auth   *auth.Manager
	client *Client
}

// New returns the ai blueprint. The provider client is built from the
// application configuration at registration.
func New(m *auth.Manager) *Blueprint {
	return &Blueprint{auth: m}
}

func (b *Blueprint) Name() string { return "ai" }

func (b *Blueprint) Register(a *app.App, r fiber.Router) error {
	cfg := a.Config()
	if b.client == nil {
		b.client = NewClient(cfg.AIBaseURL, cfg.AIAPIKey, cfg.AIModel, cfg.AIRequestsPerMinute)
	}
	if !b.client.Configured() {
		a.Logger().Info("AI provider not configured; /api/ai/chat will answer 503")
	}

	r.Use(middleware.RequireAuth(b.auth))
	r.Get("/status", b.status)
	r.Post("/chat", b.chat)
	return nil
}

// ChatRequest is the body of POST /api/ai/chat.
type ChatRequest struct {
	Messages []ChatMessage `json:"messages" validate:"required,min=1,max=50,dive"`
	Model    string        `json:"model" validate:"max=128"`
}

func (b *Blueprint) status(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"configured": b.client.Configured(),
		"model":      b.client.Model(),
	})
}

// chat forwards a conversation to the provider
// POST /api/ai/chat
func (b *Blueprint) chat(c *fiber.Ctx) error {
	var req ChatRequest
	if err := middleware.Bind(c, &req); err != nil {
		return err
	}

	result, err := b.client.Chat(c.UserContext(), req.Model, req.Messages)
	switch {
	case errors.Is(err, ErrNotConfigured):
		return fiber.NewError(fiber.StatusServiceUnavailable, "AI assistant is not configured")
	case errors.Is(err, ErrRateLimited):
		return fiber.NewError(fiber.StatusTooManyRequests, "AI request limit reached. Please wait.")
	case errors.Is(err, ErrUpstream):
		return fiber.NewError(fiber.StatusBadGateway, "AI provider request failed")
	case err != nil:
		return err
	}
	return c.JSON(result)
}
