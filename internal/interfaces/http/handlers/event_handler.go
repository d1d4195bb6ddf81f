package handlers

import (
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arbor-run/trust-core/internal/domain"
	"github.com/arbor-run/trust-core/internal/eventstore"
	"github.com/arbor-run/trust-core/internal/infrastructure/metrics"
	"github.com/arbor-run/trust-core/internal/trustmanager"
)

// EventHandler exposes C4/C2 over HTTP: submit a trust-relevant event, read
// an agent's recorded timeline.
type EventHandler struct {
	events  *eventstore.Store
	manager *trustmanager.Manager
}

// NewEventHandler builds an EventHandler.
func NewEventHandler(events *eventstore.Store, manager *trustmanager.Manager) *EventHandler {
	return &EventHandler{events: events, manager: manager}
}

type recordEventRequest struct {
	AgentID string `json:"agent_id"`
	Type    string `json:"event_type"`
	Reason  string `json:"reason"`
}

// Record submits a single event through the trust-manager pipeline (spec
// §4.5.2): mutate the profile, append the event, broadcast, and check the
// circuit breaker.
func (h *EventHandler) Record(c fiber.Ctx) error {
	var req recordEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}
	if req.AgentID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_agent_id"})
	}
	eventType, ok := domain.ParseEventType(req.Type)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown_event_type"})
	}

	profile, err := h.manager.ProcessEvent(req.AgentID, eventType, req.Reason, time.Now().UTC())
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	metrics.RecordEvent(string(eventType))
	metrics.UpdateTrustScore(req.AgentID, string(profile.Tier), float64(profile.TrustScore))

	return c.Status(fiber.StatusCreated).JSON(profile)
}

// Timeline returns an agent's full human-readable event history (spec
// §4.4 AgentTimeline).
func (h *EventHandler) Timeline(c fiber.Ctx) error {
	agentID := c.Params("agent_id")
	if agentID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_agent_id"})
	}
	return c.JSON(fiber.Map{
		"agent_id": agentID,
		"timeline": h.events.AgentTimeline(agentID),
	})
}
