package realtime

import (
	"mealbuddy/internal/app"
	"mealbuddy/internal/middleware"
	"slices"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// InitApp mounts the websocket endpoint at SOCKET_PATH and, when
// REDIS_URL is set, connects the cross-instance queue.
func (h *Hub) InitApp(a *app.App) error {
	cfg := a.Config()
	h.log = a.Logger()

	origins := cfg.SocketAllowedOrigins
	if slices.Contains(origins, "*") {
		origins = []string{"*"}
		if cfg.IsProduction() {
			h.log.Warn("realtime accepts connections from any origin; set SOCKET_CORS_ALLOWED_ORIGINS in production")
		}
	}

	for _, c := range h.metrics.collectors() {
		if err := a.Registry().Register(c); err != nil {
			return err
		}
	}

	if h.queue == nil && cfg.RedisURL != "" {
		q, err := NewRedisQueue(cfg.RedisURL, h.instanceID, h.deliver, h.log)
		if err != nil {
			return err
		}
		h.queue = q
	}
	a.OnShutdown(h.Close)

	path := cfg.SocketPath
	r := a.Fiber()
	r.Use(path, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	r.Use(path, middleware.WebSocketRateLimiter(middleware.RateLimitConfigFrom(cfg), h.log))
	if h.auth != nil {
		r.Use(path, middleware.OptionalAuth(h.auth))
	}
	r.Get(path, websocket.New(h.serve, websocket.Config{Origins: origins}))

	h.log.Info("realtime endpoint mounted", "path", path, "redis", h.queue != nil)
	return nil
}
