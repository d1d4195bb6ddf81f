package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/arbor-run/trust-core/internal/infrastructure/auth"
)

// AdminAuth gates the admin HTTP surface (freeze/unfreeze/award-points/
// decay-run/circuit-breaker-reset) behind a bearer JWT.
func AdminAuth(jwtService *auth.JWTService) fiber.Handler {
	return func(c fiber.Ctx) error {
		header := c.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing_bearer_token"})
		}
		claims, err := jwtService.ValidateToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_token"})
		}
		c.Locals("admin_subject", claims.Subject)
		c.Locals("admin_role", claims.Role)
		return c.Next()
	}
}
