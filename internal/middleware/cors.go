package middleware

import (
	"mealbuddy/internal/app"
	"mealbuddy/internal/config"
	"slices"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// CORSExtensionName is the name the CORS policy is bound under.
const CORSExtensionName = "cors"

// CORS builds the cross-origin policy from CORS_ALLOWED_ORIGINS.
// Credentials are only allowed with an explicit origin list, since
// browsers refuse them with a wildcard.
func CORS(cfg *config.Config) fiber.Handler {
	allowCredentials := !slices.Contains(cfg.CORSAllowedOrigins, "*")
	origins := strings.Join(cfg.CORSAllowedOrigins, ",")
	if !allowCredentials {
		origins = "*"
	}

	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: allowCredentials,
		MaxAge:           600,
	})
}

// CORSPolicy binds the CORS middleware to an application.
type CORSPolicy struct{}

func (CORSPolicy) Name() string { return CORSExtensionName }

// InitApp installs CORS and then the global /api limiter, so throttled
// responses still carry the CORS headers.
func (CORSPolicy) InitApp(a *app.App) error {
	a.Fiber().Use(CORS(a.Config()))

	rl := RateLimitConfigFrom(a.Config())
	rl.SkipPaths = []string{app.HealthPath}
	a.Fiber().Use("/api", GlobalAPIRateLimiter(rl, a.Logger()))

	a.Logger().Info("CORS configured", "allowed_origins", a.Config().CORSAllowedOrigins)
	return nil
}
