package app

import (
	"errors"
	"log/slog"
	"mealbuddy/internal/logging"

	"github.com/gofiber/fiber/v2"
)

// Locals keys read when logging a failed request.
const (
	LocalRequestID = "requestid"
	LocalUserID    = "user_id"
)

// ErrorHandler renders every unhandled handler error as {"error": "..."}.
// Fiber errors keep their status; anything else is a 500 whose detail is
// logged but not leaked to the client.
func ErrorHandler(log *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		msg := "Internal server error"

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			msg = fe.Message
		} else {
			requestID, _ := c.Locals(LocalRequestID).(string)
			userID, _ := c.Locals(LocalUserID).(string)
			logging.WithRequest(log, requestID, userID).Error("unhandled request error",
				"method", c.Method(),
				"path", c.Path(),
				"error", err,
			)
		}

		return c.Status(code).JSON(fiber.Map{"error": msg})
	}
}
