package handlers

import (
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arbor-run/trust-core/internal/crypto"
	"github.com/arbor-run/trust-core/internal/domain"
	"github.com/arbor-run/trust-core/internal/infrastructure/identity"
	"github.com/arbor-run/trust-core/internal/infrastructure/metrics"
	"github.com/arbor-run/trust-core/internal/profilestore"
	"github.com/arbor-run/trust-core/internal/trustmanager"
)

// AdminHandler exposes the operator-facing surface behind AdminAuth:
// freeze/unfreeze, manual point adjustment, public-key registration, a
// manual decay sweep, and circuit-breaker reset.
type AdminHandler struct {
	manager   *trustmanager.Manager
	profiles  *profilestore.Store
	keyLookup *identity.KVKeyLookup
}

// NewAdminHandler builds an AdminHandler.
func NewAdminHandler(manager *trustmanager.Manager, profiles *profilestore.Store, keyLookup *identity.KVKeyLookup) *AdminHandler {
	return &AdminHandler{manager: manager, profiles: profiles, keyLookup: keyLookup}
}

type freezeRequest struct {
	Reason string `json:"reason"`
}

// Freeze manually freezes an agent (spec §4.5.3 admin override).
func (h *AdminHandler) Freeze(c fiber.Ctx) error {
	agentID := c.Params("agent_id")
	var req freezeRequest
	_ = c.Bind().JSON(&req)

	if err := h.manager.Freeze(agentID, req.Reason, time.Now().UTC()); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"frozen": true})
}

// Unfreeze manually clears a freeze.
func (h *AdminHandler) Unfreeze(c fiber.Ctx) error {
	agentID := c.Params("agent_id")
	if err := h.manager.Unfreeze(agentID, time.Now().UTC()); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"frozen": false})
}

type pointsRequest struct {
	Points int    `json:"points"` // positive to award, negative to deduct
	Reason string `json:"reason"`
}

// AdjustPoints manually awards or deducts trust points (spec §4.3
// award/deduct trust points).
func (h *AdminHandler) AdjustPoints(c fiber.Ctx) error {
	agentID := c.Params("agent_id")
	var req pointsRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}

	now := time.Now().UTC()

	var (
		p   *domain.Profile
		err error
	)
	if req.Points >= 0 {
		p, err = h.manager.AwardPoints(agentID, req.Points, req.Reason, now)
	} else {
		p, err = h.manager.DeductPoints(agentID, -req.Points, req.Reason, now)
	}
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	metrics.UpdateTrustScore(agentID, string(p.Tier), float64(p.TrustScore))
	return c.JSON(p)
}

type registerKeyRequest struct {
	PublicKeyB64 string `json:"public_key_b64"` // omit to have trust-core mint a fresh keypair
}

// RegisterKey records an agent's Ed25519 public key, the bootstrap step
// before its requests can be Ed25519-verified (spec §6 IdentityVerifier). If
// the caller omits public_key_b64, trust-core mints a fresh Ed25519 keypair
// and returns the private key once — the caller is responsible for storing
// it, since trust-core never persists private key material.
func (h *AdminHandler) RegisterKey(c fiber.Ctx) error {
	agentID := c.Params("agent_id")
	var req registerKeyRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}

	if req.PublicKeyB64 != "" {
		if err := h.keyLookup.RegisterPublicKey(agentID, req.PublicKeyB64); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"registered": true})
	}

	keyPair, err := crypto.GenerateEd25519KeyPair()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "keygen_failed"})
	}
	encoded := crypto.EncodeKeyPair(keyPair)
	if err := h.keyLookup.RegisterPublicKey(agentID, encoded.PublicKeyBase64); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"registered":         true,
		"public_key_b64":     encoded.PublicKeyBase64,
		"private_key_b64":    encoded.PrivateKeyBase64,
		"algorithm":          encoded.Algorithm,
		"private_key_notice": "store this now, trust-core does not persist it",
	})
}

// RunDecay triggers an out-of-schedule decay sweep (spec §4.5.4), in
// addition to the daily scheduled run.
func (h *AdminHandler) RunDecay(c fiber.Ctx) error {
	scheduler := trustmanager.NewDecayScheduler(h.manager, trustmanager.DefaultDecayConfig())
	affected, err := scheduler.RunOnce(time.Now().UTC())
	if err != nil {
		metrics.RecordDecayRun("error", affected)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	metrics.RecordDecayRun("ok", affected)
	return c.JSON(fiber.Map{"agents_affected": affected})
}

// ResetCircuitBreaker manually resets an agent's circuit-breaker window,
// closing it before the half-open timer would (spec §4.5.3 admin override).
func (h *AdminHandler) ResetCircuitBreaker(c fiber.Ctx) error {
	agentID := c.Params("agent_id")
	if err := h.manager.Breaker().Reset(agentID, time.Now().UTC()); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"reset": true})
}

// ListAgents is the admin dashboard's roster view: every tracked profile,
// frozen or not, ordered by trust score.
func (h *AdminHandler) ListAgents(c fiber.Ctx) error {
	profiles, err := h.profiles.List(domain.ProfileFilter{OrderBy: "trust_score"})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "profile_list_failed"})
	}
	return c.JSON(fiber.Map{"agents": profiles, "total": len(profiles)})
}
