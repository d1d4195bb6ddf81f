package handlers

import (
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arbor-run/trust-core/internal/capability"
	"github.com/arbor-run/trust-core/internal/domain"
	"github.com/arbor-run/trust-core/internal/infrastructure/metrics"
)

// CapabilityHandler exposes the Capability Store and Policy's delegation
// support over HTTP: list an agent's active grants, issue a delegated
// grant, revoke one.
type CapabilityHandler struct {
	store  *capability.Store
	policy *capability.Policy
}

// NewCapabilityHandler builds a CapabilityHandler.
func NewCapabilityHandler(store *capability.Store, policy *capability.Policy) *CapabilityHandler {
	return &CapabilityHandler{store: store, policy: policy}
}

// ListActive returns every capability presently usable by an agent.
func (h *CapabilityHandler) ListActive(c fiber.Ctx) error {
	agentID := c.Params("agent_id")
	if agentID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_agent_id"})
	}
	caps := h.store.ListActive(agentID, time.Now().UTC())
	return c.JSON(fiber.Map{"capabilities": caps, "total": len(caps)})
}

type grantRequest struct {
	PrincipalID string                  `json:"principal_id"`
	ResourceURI string                  `json:"resource_uri"`
	IssuerID    string                  `json:"issuer_id"`
	Constraints domain.Constraints      `json:"constraints"`
	ExpiresAt   *time.Time              `json:"expires_at"`
	Source      domain.CapabilitySource `json:"source"`
}

// Grant issues a new capability directly (spec §4.6.2), used for
// operator-initiated or delegated grants outside the tier-sync path.
func (h *CapabilityHandler) Grant(c fiber.Ctx) error {
	var req grantRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}
	if req.PrincipalID == "" || req.ResourceURI == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_principal_id_or_resource_uri"})
	}
	if req.Source == "" {
		req.Source = domain.CapabilitySourceDelegation
	}

	cap, err := h.store.Grant(&domain.Capability{
		PrincipalID: req.PrincipalID,
		ResourceURI: req.ResourceURI,
		IssuerID:    req.IssuerID,
		Constraints: req.Constraints,
		ExpiresAt:   req.ExpiresAt,
		Source:      req.Source,
	})
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	metrics.RecordCapabilitiesGranted(string(req.Source), 1)
	return c.Status(fiber.StatusCreated).JSON(cap)
}

type delegateRequest struct {
	ParentCapabilityID string `json:"parent_capability_id"`
	IssuerID           string `json:"issuer_id"`
	PrincipalID        string `json:"principal_id"`
	IssuerSignatureB64 string `json:"issuer_signature"`
}

// Delegate re-delegates an existing capability to a new principal, extending
// its signed delegation chain by one hop (spec §3, §4.6.2).
func (h *CapabilityHandler) Delegate(c fiber.Ctx) error {
	var req delegateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}
	if req.ParentCapabilityID == "" || req.IssuerID == "" || req.PrincipalID == "" || req.IssuerSignatureB64 == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_required_field"})
	}

	cap, err := h.policy.Delegate(req.ParentCapabilityID, req.IssuerID, req.PrincipalID, req.IssuerSignatureB64, time.Now().UTC())
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	metrics.RecordCapabilitiesGranted(string(domain.CapabilitySourceDelegation), 1)
	return c.Status(fiber.StatusCreated).JSON(cap)
}

type authorizeByCapabilityRequest struct {
	ResourceURI string `json:"resource_uri"`
}

// AuthorizeCapability authorizes a request against a specific capability ID,
// the path delegated capabilities are checked through (spec §3) rather than
// the tier-template path exposed by the main authorize endpoint.
func (h *CapabilityHandler) AuthorizeCapability(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_id"})
	}
	var req authorizeByCapabilityRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}
	if req.ResourceURI == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_resource_uri"})
	}

	result, err := h.policy.AuthorizeByCapability(id, req.ResourceURI, time.Now().UTC())
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(result)
}

// Revoke revokes a single capability by ID.
func (h *CapabilityHandler) Revoke(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_id"})
	}
	if err := h.store.Revoke(id, time.Now().UTC()); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	metrics.RecordCapabilitiesRevoked("manual", 1)
	return c.JSON(fiber.Map{"revoked": true})
}
