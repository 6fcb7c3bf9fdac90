package middleware

import (
	"encoding/json"
	"mealbuddy/internal/app"
	"mealbuddy/internal/config"
	"mealbuddy/internal/logging"
	"mealbuddy/pkg/auth"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) *auth.Manager {
	t.Helper()
	m, err := auth.NewManager("middleware-secret", time.Minute, time.Hour)
	require.NoError(t, err)
	return m
}

func whoami(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"user_id": UserID(c), "admin": IsAdmin(c), "has_claims": Claims(c) != nil})
}

func decode(t *testing.T, app *fiber.App, req *httptestRequest) (int, map[string]any) {
	t.Helper()
	resp, err := app.Test(req.build())
	require.NoError(t, err)
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body
}

type httptestRequest struct {
	method, path, bearer string
}

func (r *httptestRequest) build() *http.Request {
	req := httptest.NewRequest(r.method, r.path, nil)
	if r.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+r.bearer)
	}
	return req
}

func TestRequireAuth(t *testing.T) {
	m := newManager(t)
	app := fiber.New()
	app.Get("/me", RequireAuth(m), whoami)

	pair, err := m.Issue(auth.User{ID: "u-1", Email: "a@example.com", Role: "user"})
	require.NoError(t, err)

	code, body := decode(t, app, &httptestRequest{method: "GET", path: "/me", bearer: pair.AccessToken})
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "u-1", body["user_id"])
	assert.Equal(t, true, body["has_claims"])

	// Query parameter for websocket style clients
	code, _ = decode(t, app, &httptestRequest{method: "GET", path: "/me?token=" + pair.AccessToken})
	assert.Equal(t, fiber.StatusOK, code)

	code, body = decode(t, app, &httptestRequest{method: "GET", path: "/me"})
	assert.Equal(t, fiber.StatusUnauthorized, code)
	assert.Equal(t, "Missing or invalid authorization token", body["error"])

	code, _ = decode(t, app, &httptestRequest{method: "GET", path: "/me", bearer: pair.RefreshToken})
	assert.Equal(t, fiber.StatusUnauthorized, code)

	claims, err := m.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	m.Revoke(claims)
	code, body = decode(t, app, &httptestRequest{method: "GET", path: "/me", bearer: pair.AccessToken})
	assert.Equal(t, fiber.StatusUnauthorized, code)
	assert.Equal(t, "Token has been revoked", body["error"])
}

func TestOptionalAuth(t *testing.T) {
	m := newManager(t)
	app := fiber.New()
	app.Get("/feed", OptionalAuth(m), whoami)

	code, body := decode(t, app, &httptestRequest{method: "GET", path: "/feed"})
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, Anonymous, body["user_id"])
	assert.Equal(t, false, body["has_claims"])

	code, body = decode(t, app, &httptestRequest{method: "GET", path: "/feed", bearer: "garbage"})
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, Anonymous, body["user_id"])

	pair, err := m.Issue(auth.User{ID: "u-9", Role: RoleAdmin})
	require.NoError(t, err)
	_, body = decode(t, app, &httptestRequest{method: "GET", path: "/feed", bearer: pair.AccessToken})
	assert.Equal(t, "u-9", body["user_id"])
	assert.Equal(t, true, body["admin"])
}

func TestRequireRole(t *testing.T) {
	m := newManager(t)
	app := fiber.New()
	app.Get("/admin", RequireAuth(m), RequireRole(RoleAdmin), whoami)
	app.Get("/loose", OptionalAuth(m), RequireRole(RoleAdmin), whoami)

	user, err := m.Issue(auth.User{ID: "u-1", Role: "user"})
	require.NoError(t, err)
	admin, err := m.Issue(auth.User{ID: "u-2", Role: RoleAdmin})
	require.NoError(t, err)

	code, _ := decode(t, app, &httptestRequest{method: "GET", path: "/admin", bearer: user.AccessToken})
	assert.Equal(t, fiber.StatusForbidden, code)

	code, _ = decode(t, app, &httptestRequest{method: "GET", path: "/admin", bearer: admin.AccessToken})
	assert.Equal(t, fiber.StatusOK, code)

	code, _ = decode(t, app, &httptestRequest{method: "GET", path: "/loose"})
	assert.Equal(t, fiber.StatusUnauthorized, code)
}

func TestGlobalAPIRateLimiter(t *testing.T) {
	rl := DefaultRateLimitConfig()
	rl.GlobalAPIMax = 2
	rl.SkipPaths = []string{"/api/health"}

	app := fiber.New()
	app.Use("/api", GlobalAPIRateLimiter(rl, logging.Discard()))
	app.Get("/api/thing", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })
	app.Get("/api/health", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	for i := 0; i < 2; i++ {
		code, _ := decode(t, app, &httptestRequest{method: "GET", path: "/api/thing"})
		assert.Equal(t, fiber.StatusNoContent, code)
	}
	code, body := decode(t, app, &httptestRequest{method: "GET", path: "/api/thing"})
	assert.Equal(t, fiber.StatusTooManyRequests, code)
	assert.Equal(t, float64(60), body["retry_after"])

	code, _ = decode(t, app, &httptestRequest{method: "GET", path: "/api/health"})
	assert.Equal(t, fiber.StatusOK, code)
}

func TestCORSPolicy_ThrottledResponsesKeepCORSHeaders(t *testing.T) {
	cfg := config.Default()
	cfg.Environment = config.EnvTesting
	cfg.GlobalAPIRateLimit = 2

	a := app.New(cfg, logging.Discard())
	require.NoError(t, a.InitExtension(CORSPolicy{}))
	a.Fiber().Get("/api/thing", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })
	a.RegisterHealth()

	send := func(method string, preflight bool) *http.Response {
		req := httptest.NewRequest(method, "/api/thing", nil)
		req.Header.Set("Origin", "https://planner.test")
		if preflight {
			req.Header.Set("Access-Control-Request-Method", "GET")
		}
		resp, err := a.Fiber().Test(req, -1)
		require.NoError(t, err)
		return resp
	}

	// OPTIONS, preflight or not, never counts against the limit
	for i := 0; i < 5; i++ {
		assert.NotEqual(t, fiber.StatusTooManyRequests, send("OPTIONS", true).StatusCode)
		assert.NotEqual(t, fiber.StatusTooManyRequests, send("OPTIONS", false).StatusCode)
	}

	for i := 0; i < 2; i++ {
		assert.Equal(t, fiber.StatusNoContent, send("GET", false).StatusCode)
	}
	resp := send("GET", false)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	health, err := a.Fiber().Test(httptest.NewRequest("GET", app.HealthPath, nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, health.StatusCode)
}

func TestRateLimitConfigFrom(t *testing.T) {
	cfg := config.Default()
	cfg.Environment = config.EnvProduction
	cfg.GlobalAPIRateLimit = 50
	assert.Equal(t, 50, RateLimitConfigFrom(cfg).GlobalAPIMax)

	cfg.Environment = config.EnvDevelopment
	rl := RateLimitConfigFrom(cfg)
	assert.Equal(t, 1000, rl.GlobalAPIMax)
	assert.Equal(t, 100, rl.AuthAttemptMax)
}

func TestCORS(t *testing.T) {
	preflight := func(h fiber.Handler, origin string) *http.Response {
		app := fiber.New()
		app.Use(h)
		app.Get("/x", func(c *fiber.Ctx) error { return c.SendString("ok") })
		req := httptest.NewRequest("OPTIONS", "/x", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", "GET")
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp
	}

	resp := preflight(CORS(config.Default()), "https://anywhere.test")
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Credentials"))

	cfg := config.Default()
	cfg.CORSAllowedOrigins = []string{"https://app.mealbuddy.test"}
	resp = preflight(CORS(cfg), "https://app.mealbuddy.test")
	assert.Equal(t, "https://app.mealbuddy.test", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))

	resp = preflight(CORS(cfg), "https://evil.test")
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestCORSPolicy_BindsOnce(t *testing.T) {
	a := app.New(config.Default(), logging.Discard())
	require.NoError(t, a.InitExtension(CORSPolicy{}))
	assert.ErrorIs(t, a.InitExtension(CORSPolicy{}), app.ErrAlreadyBound)
}
