package middleware

import (
	"log/slog"
	"mealbuddy/internal/config"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	// Global limits (per IP)
	GlobalAPIMax        int
	GlobalAPIExpiration time.Duration

	// Login and registration attempts (per IP)
	AuthAttemptMax        int
	AuthAttemptExpiration time.Duration

	// Uploads (per user)
	UploadMax        int
	UploadExpiration time.Duration

	// WebSocket connection attempts (per IP)
	WebSocketMax        int
	WebSocketExpiration time.Duration

	// Paths that never count against the global limit
	SkipPaths []string
}

// DefaultRateLimitConfig returns production-safe defaults
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		// Global: 200/min = ~3.3 req/sec
		GlobalAPIMax:        200,
		GlobalAPIExpiration: 1 * time.Minute,

		AuthAttemptMax:        10,
		AuthAttemptExpiration: 15 * time.Minute,

		UploadMax:        30,
		UploadExpiration: 1 * time.Minute,

		WebSocketMax:        20,
		WebSocketExpiration: 1 * time.Minute,
	}
}

// RateLimitConfigFrom derives limits from the application configuration.
// Development gets relaxed limits.
func RateLimitConfigFrom(cfg *config.Config) *RateLimitConfig {
	rl := DefaultRateLimitConfig()
	rl.GlobalAPIMax = cfg.GlobalAPIRateLimit

	if cfg.Environment == config.EnvDevelopment {
		rl.GlobalAPIMax = max(rl.GlobalAPIMax, 1000)
		rl.AuthAttemptMax = 100
		rl.WebSocketMax = 100
	}
	return rl
}

// GlobalAPIRateLimiter creates a rate limiter for all API requests
// This is the first line of defense against DDoS
func GlobalAPIRateLimiter(rl *RateLimitConfig, log *slog.Logger) fiber.Handler {
	skip := make(map[string]bool, len(rl.SkipPaths))
	for _, p := range rl.SkipPaths {
		skip[p] = true
	}
	return limiter.New(limiter.Config{
		Max:        rl.GlobalAPIMax,
		Expiration: rl.GlobalAPIExpiration,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || skip[c.Path()]
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return "global:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Warn("global rate limit reached", "ip", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many requests. Please slow down.",
				"retry_after": int(rl.GlobalAPIExpiration.Seconds()),
			})
		},
	})
}

// AuthAttemptRateLimiter slows down credential stuffing on login and
// registration.
func AuthAttemptRateLimiter(rl *RateLimitConfig, log *slog.Logger) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        rl.AuthAttemptMax,
		Expiration: rl.AuthAttemptExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "auth-attempt:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Warn("auth attempt limit reached", "ip", c.IP(), "path", c.Path())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many attempts. Please wait before trying again.",
				"retry_after": int(rl.AuthAttemptExpiration.Seconds()),
			})
		},
	})
}

// UploadRateLimiter limits uploads per user; it must run after RequireAuth.
func UploadRateLimiter(rl *RateLimitConfig, log *slog.Logger) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        rl.UploadMax,
		Expiration: rl.UploadExpiration,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() != fiber.MethodPost
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			if id := UserID(c); id != "" && id != Anonymous {
				return "upload:" + id
			}
			return "upload-ip:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Warn("upload limit reached", "user_id", UserID(c))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Upload rate limit reached. Please wait.",
				"retry_after": int(rl.UploadExpiration.Seconds()),
			})
		},
	})
}

// WebSocketRateLimiter for WebSocket connection attempts
func WebSocketRateLimiter(rl *RateLimitConfig, log *slog.Logger) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        rl.WebSocketMax,
		Expiration: rl.WebSocketExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "ws:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Warn("websocket connection limit reached", "ip", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many connection attempts. Please wait before reconnecting.",
				"retry_after": int(rl.WebSocketExpiration.Seconds()),
			})
		},
	})
}
