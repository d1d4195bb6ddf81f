package handlers

import (
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arbor-run/trust-core/internal/domain"
	"github.com/arbor-run/trust-core/internal/profilestore"
)

// ProfileHandler exposes C3's profile store over HTTP: read an agent's
// current trust profile, list profiles by tier.
type ProfileHandler struct {
	profiles *profilestore.Store
}

// NewProfileHandler builds a ProfileHandler.
func NewProfileHandler(profiles *profilestore.Store) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

// Get returns a single agent's profile, creating one at the untrusted floor
// if the agent has never been seen before (spec §4.3 GetOrCreate semantics).
func (h *ProfileHandler) Get(c fiber.Ctx) error {
	agentID := c.Params("agent_id")
	if agentID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_agent_id"})
	}

	profile, err := h.profiles.GetOrCreate(agentID, time.Now().UTC())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "profile_lookup_failed"})
	}

	return c.JSON(profile)
}

// List returns every tracked profile, optionally filtered by tier and
// ordered per the query string (spec §4.3 ProfileFilter).
func (h *ProfileHandler) List(c fiber.Ctx) error {
	filter := domain.ProfileFilter{
		OrderBy: c.Query("order_by"),
	}
	if tierStr := c.Query("tier"); tierStr != "" {
		t := domain.Tier(tierStr)
		filter.Tier = &t
	}

	profiles, err := h.profiles.List(filter)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "profile_list_failed"})
	}

	return c.JSON(fiber.Map{"profiles": profiles, "total": len(profiles)})
}
