package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v3"
)

// CronAuth returns a Fiber handler guarding the operator-triggered /capture
// endpoint: the scheduler (or an external cron caller) must present the
// configured secret as a bearer token. Comparison is constant-time to avoid
// leaking the secret through response-timing side channels.
func CronAuth(secret string) fiber.Handler {
	return func(c fiber.Ctx) error {
		if secret == "" {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "cron endpoint not configured",
			})
		}

		token := bearerToken(c.Get("Authorization"))
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid cron credentials",
			})
		}

		return c.Next()
	}
}
