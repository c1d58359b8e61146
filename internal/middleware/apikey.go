package middleware

import (
	"errors"
	"strings"

	"facilitator/internal/db"

	"github.com/gofiber/fiber/v3"
)

// APIKeyMiddleware authenticates dashboard-issued API keys on /verify and
// /settle.
type APIKeyMiddleware struct {
	db *db.DB
}

// NewAPIKeyMiddleware creates a new API key middleware instance.
func NewAPIKeyMiddleware(database *db.DB) *APIKeyMiddleware {
	return &APIKeyMiddleware{db: database}
}

// Authenticate returns a Fiber handler that validates the Authorization:
// Bearer <key> header. On success it sets c.Locals("user_id") and
// c.Locals("auth_method", "api_key").
func (m *APIKeyMiddleware) Authenticate() fiber.Handler {
	return func(c fiber.Ctx) error {
		rawKey := bearerToken(c.Get("Authorization"))
		if rawKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "API key required",
			})
		}

		keyHash := db.HashToken(rawKey)
		apiKey, err := m.db.GetAPIKeyByHash(c.Context(), keyHash)
		if err != nil {
			if errors.Is(err, db.ErrAPIKeyNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Invalid API key",
				})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Authentication service unavailable",
			})
		}

		c.Locals("user_id", apiKey.UserID.String())
		c.Locals("api_key_id", apiKey.ID.String())
		c.Locals("auth_method", "api_key")

		return c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}
