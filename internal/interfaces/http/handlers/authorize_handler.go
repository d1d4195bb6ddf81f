package handlers

import (
	"time"

	"github.com/google/uuid"

	"github.com/gofiber/fiber/v3"

	"github.com/arbor-run/trust-core/internal/capability"
	"github.com/arbor-run/trust-core/internal/domain"
	"github.com/arbor-run/trust-core/internal/infrastructure/metrics"
)

// AuthorizeHandler exposes C6's Policy.Authorize over HTTP: the decision
// every agent SDK call gates on before exercising a resource URI.
type AuthorizeHandler struct {
	policy *capability.Policy
}

// NewAuthorizeHandler builds an AuthorizeHandler.
func NewAuthorizeHandler(policy *capability.Policy) *AuthorizeHandler {
	return &AuthorizeHandler{policy: policy}
}

type authorizeRequest struct {
	AgentID        string `json:"agent_id"`
	ResourceURI    string `json:"resource_uri"`
	BehavioralTier string `json:"behavioral_tier"`
}

// Authorize runs the full spec §4.6.5 decision for one (agent, URI) pair.
// A gated URI files a pending-approval proposal rather than calling out to
// an external consensus system — trust-core has no human-approval channel
// of its own, so gated requests surface a proposal_id for an operator to
// resolve via POST /authorize/confirm.
func (h *AuthorizeHandler) Authorize(c fiber.Ctx) error {
	var req authorizeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}
	if req.AgentID == "" || req.ResourceURI == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_agent_id_or_resource_uri"})
	}

	result, err := h.policy.Authorize(req.AgentID, req.ResourceURI, domain.Tier(req.BehavioralTier), time.Now().UTC(), issueProposal)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	metrics.RecordAuthorizeDecision(string(result.Decision), bundleLabel(req.ResourceURI))

	status := fiber.StatusOK
	if result.Decision == capability.DecisionPendingApproval {
		status = fiber.StatusAccepted
	}
	return c.Status(status).JSON(result)
}

type confirmRequest struct {
	AgentID     string `json:"agent_id"`
	ResourceURI string `json:"resource_uri"`
	Approved    bool   `json:"approved"`
}

// Confirm resolves a pending-approval proposal (spec §4.6.4): feeds the
// approve/reject decision into the graduation tracker for the URI's bundle.
func (h *AuthorizeHandler) Confirm(c fiber.Ctx) error {
	var req confirmRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}
	if req.AgentID == "" || req.ResourceURI == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_agent_id_or_resource_uri"})
	}

	h.policy.RecordConfirmation(req.AgentID, req.ResourceURI, req.Approved, time.Now().UTC())
	return c.JSON(fiber.Map{"recorded": true})
}

// issueProposal stands in for trust-core's external human-approval channel
// (out of this module's scope, spec §4.6.5): it mints a proposal ID for the
// caller to track and resolve via POST /authorize/confirm.
func issueProposal(agentID, uri string) (string, error) {
	return uuid.NewString(), nil
}

func bundleLabel(uri string) string {
	bundle, ok := capability.MatchBundle(uri)
	if !ok {
		return "none"
	}
	return string(bundle)
}
