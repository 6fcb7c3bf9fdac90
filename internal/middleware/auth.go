package middleware

import (
	"errors"
	"mealbuddy/internal/app"
	"mealbuddy/pkg/auth"

	"github.com/gofiber/fiber/v2"
)

// Locals keys set by the auth middleware.
const (
	LocalUserID    = app.LocalUserID
	LocalUserEmail = "user_email"
	LocalUserRole  = "user_role"
	LocalClaims    = "auth_claims"
)

// Anonymous is the user id of unauthenticated requests under OptionalAuth.
const Anonymous = "anonymous"

// RoleAdmin is the role granted to the first registered user.
const RoleAdmin = "admin"

// tokenFrom reads the bearer token from the Authorization header, falling
// back to the token query parameter used by websocket clients.
func tokenFrom(c *fiber.Ctx) string {
	if h := c.Get(fiber.HeaderAuthorization); h != "" {
		if tok, err := auth.ExtractToken(h); err == nil {
			return tok
		}
	}
	return c.Query("token")
}

func setUser(c *fiber.Ctx, claims *auth.Claims) {
	c.Locals(LocalUserID, claims.UserID)
	c.Locals(LocalUserEmail, claims.Email)
	c.Locals(LocalUserRole, claims.Role)
	c.Locals(LocalClaims, claims)
}

// RequireAuth rejects requests without a valid, unrevoked access token.
func RequireAuth(m *auth.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := tokenFrom(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing or invalid authorization token",
			})
		}

		claims, err := m.VerifyAccess(token)
		if err != nil {
			msg := "Invalid or expired token"
			if errors.Is(err, auth.ErrRevokedToken) {
				msg = "Token has been revoked"
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": msg})
		}

		setUser(c, claims)
		return c.Next()
	}
}

// OptionalAuth identifies the caller when a valid token is present and
// otherwise continues as anonymous.
func OptionalAuth(m *auth.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token := tokenFrom(c); token != "" {
			if claims, err := m.VerifyAccess(token); err == nil {
				setUser(c, claims)
				return c.Next()
			}
		}
		c.Locals(LocalUserID, Anonymous)
		return c.Next()
	}
}

// RequireRole must run after RequireAuth.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := UserID(c)
		if userID == "" || userID == Anonymous {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authentication required",
			})
		}
		if r, _ := c.Locals(LocalUserRole).(string); r != role {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Insufficient permissions",
			})
		}
		return c.Next()
	}
}

// UserID returns the authenticated user id, or "" when unset.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalUserID).(string)
	return id
}

// IsAdmin reports whether the caller has the admin role.
func IsAdmin(c *fiber.Ctx) bool {
	role, _ := c.Locals(LocalUserRole).(string)
	return role == RoleAdmin
}

// Claims returns the verified token claims, or nil for anonymous callers.
func Claims(c *fiber.Ctx) *auth.Claims {
	claims, _ := c.Locals(LocalClaims).(*auth.Claims)
	return claims
}
