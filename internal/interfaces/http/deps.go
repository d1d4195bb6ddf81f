// Package http assembles trust-core's HTTP surface: the agent-facing
// authorize/event API and the operator-facing admin API, grounded on the
// teacher's Fiber handler/router split (handlers own the request/response
// shape, RegisterRoutes in deps.go owns the group/middleware wiring).
package http

import (
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arbor-run/trust-core/internal/capability"
	"github.com/arbor-run/trust-core/internal/config"
	"github.com/arbor-run/trust-core/internal/domain"
	"github.com/arbor-run/trust-core/internal/eventstore"
	"github.com/arbor-run/trust-core/internal/infrastructure/auth"
	"github.com/arbor-run/trust-core/internal/infrastructure/cache"
	"github.com/arbor-run/trust-core/internal/infrastructure/identity"
	"github.com/arbor-run/trust-core/internal/interfaces/http/handlers"
	"github.com/arbor-run/trust-core/internal/interfaces/http/middleware"
	"github.com/arbor-run/trust-core/internal/profilestore"
	"github.com/arbor-run/trust-core/internal/trustmanager"
)

// Deps collects every collaborator the HTTP layer hands off to, wired once
// in cmd/server/main.go.
type Deps struct {
	Profiles     *profilestore.Store
	Events       *eventstore.Store
	Manager      *trustmanager.Manager
	Capabilities *capability.Store
	Policy       *capability.Policy
	Verifier     domain.IdentityVerifier
	KeyLookup    *identity.KVKeyLookup
	JWTService   *auth.JWTService
	RedisCache   *cache.RedisCache // nil when no Redis is configured
	Admin        config.AdminConfig
}

// RegisterRoutes mounts every route group onto app under /api/v1, plus the
// unauthenticated /api/v1/status endpoint. /healthz and /metrics are mounted
// in cmd/server.
func RegisterRoutes(app *fiber.App, deps Deps) {
	profileHandler := handlers.NewProfileHandler(deps.Profiles)
	eventHandler := handlers.NewEventHandler(deps.Events, deps.Manager)
	authorizeHandler := handlers.NewAuthorizeHandler(deps.Policy)
	capabilityHandler := handlers.NewCapabilityHandler(deps.Capabilities, deps.Policy)
	adminHandler := handlers.NewAdminHandler(deps.Manager, deps.Profiles, deps.KeyLookup)
	authHandler := handlers.NewAuthHandler(deps.JWTService, deps.Admin)

	app.Get("/api/v1/status", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"service": "trust-core", "status": "ok"})
	})

	v1 := app.Group("/api/v1")
	v1.Use(middleware.Ed25519AgentAuth(deps.Verifier))
	v1.Use(middleware.RateLimitMiddleware())

	profiles := v1.Group("/profiles")
	profiles.Get("/", profileHandler.List)
	profiles.Get("/:agent_id", profileHandler.Get)

	events := v1.Group("/events")
	events.Post("/", eventHandler.Record)
	events.Get("/:agent_id", eventHandler.Timeline)

	authorize := v1.Group("/authorize")
	authorize.Use(middleware.StrictRateLimitMiddleware())
	if deps.RedisCache != nil {
		authorize.Use(distributedRateLimit(deps.RedisCache))
	}
	authorize.Post("/", authorizeHandler.Authorize)
	authorize.Post("/confirm", authorizeHandler.Confirm)

	caps := v1.Group("/capabilities")
	caps.Get("/:agent_id", capabilityHandler.ListActive)
	caps.Post("/", capabilityHandler.Grant)
	caps.Post("/delegate", capabilityHandler.Delegate)
	caps.Post("/:id/authorize", capabilityHandler.AuthorizeCapability)
	caps.Delete("/:id", capabilityHandler.Revoke)

	v1.Post("/admin/login", authHandler.Login)

	admin := v1.Group("/admin")
	admin.Use(middleware.AdminAuth(deps.JWTService))
	admin.Post("/agents/:agent_id/freeze", adminHandler.Freeze)
	admin.Post("/agents/:agent_id/unfreeze", adminHandler.Unfreeze)
	admin.Post("/agents/:agent_id/points", adminHandler.AdjustPoints)
	admin.Post("/agents/:agent_id/keys", adminHandler.RegisterKey)
	admin.Get("/agents", adminHandler.ListAgents)
	admin.Post("/decay/run", adminHandler.RunDecay)
	admin.Post("/circuit-breaker/:agent_id/reset", adminHandler.ResetCircuitBreaker)
}

// distributedRateLimit enforces the authorize endpoint's rate limit across
// every trust-core replica, on top of the per-process StrictRateLimitMiddleware
// (spec §6, cache collaborator's cross-instance coordination role).
func distributedRateLimit(rc *cache.RedisCache) fiber.Handler {
	const (
		limit  = 30
		window = time.Minute
	)
	return func(c fiber.Ctx) error {
		key := c.IP()
		if id, ok := c.Locals("agent_id").(string); ok && id != "" {
			key = id
		}
		allowed, err := rc.AllowRequest(c.Context(), key, limit, window)
		if err != nil {
			return c.Next() // cache collaborator unreachable: fail open, in-process limiter still applies
		}
		if !allowed {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limit_exceeded"})
		}
		return c.Next()
	}
}
