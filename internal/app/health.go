package app

import "github.com/gofiber/fiber/v2"

// HealthPath is the liveness endpoint owned by the composition root.
const HealthPath = "/api/health"

// HealthResponse is the fixed body of the health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

var healthy = HealthResponse{Status: "healthy", Message: "MealBuddy API is running"}

// HealthHandler reports liveness. It never consults an extension, so it
// answers healthy even when the database is unreachable.
func HealthHandler(c *fiber.Ctx) error {
	return c.JSON(healthy)
}

// RegisterHealth adds GET /api/health.
func (a *App) RegisterHealth() {
	a.fiber.Get(HealthPath, HealthHandler)
}
