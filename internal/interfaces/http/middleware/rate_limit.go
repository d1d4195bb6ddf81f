package middleware

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/limiter"
)

// agentOrIP keys a rate limiter by the authenticated agent id if the
// request carries one, otherwise by source IP.
func agentOrIP(c fiber.Ctx) string {
	if agentID := c.Locals("agent_id"); agentID != nil {
		if id, ok := agentID.(string); ok && id != "" {
			return id
		}
	}
	return c.IP()
}

// RateLimitMiddleware implements general-purpose request rate limiting.
func RateLimitMiddleware() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:          100, // 100 requests
		Expiration:   1 * time.Minute,
		KeyGenerator: agentOrIP,
		LimitReached: func(c fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate_limit_exceeded",
			})
		},
	})
}

// StrictRateLimitMiddleware implements stricter rate limiting for the
// authorize endpoints.
func StrictRateLimitMiddleware() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:          10, // 10 requests
		Expiration:   1 * time.Minute,
		KeyGenerator: agentOrIP,
		LimitReached: func(c fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate_limit_exceeded",
			})
		},
	})
}
