package middleware

import (
	"crypto/subtle"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// APITokenAuth middleware validates the bearer token of the operations API.
// Expects: Authorization: Bearer <token>
// An empty configured token leaves the API open.
func APITokenAuth(token string, logger *slog.Logger) fiber.Handler {
	if token == "" {
		logger.Warn("API token not configured, operations API is unauthenticated")
		return func(c *fiber.Ctx) error {
			return c.Next()
		}
	}

	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing Authorization header",
			})
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid Authorization header format. Expected: Bearer <token>",
			})
		}

		providedKey := strings.TrimPrefix(authHeader, "Bearer ")
		if providedKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "API token is empty",
			})
		}

		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(token)) != 1 {
			logger.Warn("Rejected operations API request", slog.String("ip", c.IP()), slog.String("path", c.Path()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid API token",
			})
		}

		return c.Next()
	}
}
