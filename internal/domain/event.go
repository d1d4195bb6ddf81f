package domain

import "time"

// EventType is the closed taxonomy of trust-affecting events (spec §4.5.1).
type EventType string

const (
	EventActionSuccess        EventType = "action_success"
	EventActionFailure        EventType = "action_failure"
	EventTestPassed           EventType = "test_passed"
	EventTestFailed           EventType = "test_failed"
	EventRollbackExecuted     EventType = "rollback_executed"
	EventImprovementApplied   EventType = "improvement_applied"
	EventSecurityViolation    EventType = "security_violation"
	EventProposalSubmitted    EventType = "proposal_submitted"
	EventProposalApproved     EventType = "proposal_approved"
	EventProposalRejected     EventType = "proposal_rejected"
	EventInstallationSuccess  EventType = "installation_success"
	EventInstallationRollback EventType = "installation_rollback"
	EventTrustPointsAwarded   EventType = "trust_points_awarded"
	EventTrustPointsDeducted  EventType = "trust_points_deducted"
	EventTierChanged          EventType = "tier_changed"
	EventTrustFrozen          EventType = "trust_frozen"
	EventTrustUnfrozen        EventType = "trust_unfrozen"
	EventTrustDecayed         EventType = "trust_decayed"
	EventProfileCreated       EventType = "profile_created"
	EventProfileDeleted       EventType = "profile_deleted"
)

// eventTypes is the membership set ParseEventType validates against.
var eventTypes = map[EventType]struct{}{
	EventActionSuccess: {}, EventActionFailure: {}, EventTestPassed: {}, EventTestFailed: {},
	EventRollbackExecuted: {}, EventImprovementApplied: {}, EventSecurityViolation: {},
	EventProposalSubmitted: {}, EventProposalApproved: {}, EventProposalRejected: {},
	EventInstallationSuccess: {}, EventInstallationRollback: {}, EventTrustPointsAwarded: {},
	EventTrustPointsDeducted: {}, EventTierChanged: {}, EventTrustFrozen: {}, EventTrustUnfrozen: {},
	EventTrustDecayed: {}, EventProfileCreated: {}, EventProfileDeleted: {},
}

// ParseEventType validates a string against the closed event taxonomy.
// Unknown types are rejected, never coerced (spec §9).
func ParseEventType(s string) (EventType, bool) {
	et := EventType(s)
	_, ok := eventTypes[et]
	return et, ok
}

// negativeEventTypes is the subset of event types that can trip the circuit
// breaker (spec §4.5.2 step 7: "negative outcomes, rollback, security, test
// failure").
var negativeEventTypes = map[EventType]struct{}{
	EventActionFailure: {}, EventSecurityViolation: {}, EventRollbackExecuted: {}, EventTestFailed: {},
}

// IsCircuitBreakerRelevant reports whether an event type participates in
// circuit-breaker window tracking.
func (e EventType) IsCircuitBreakerRelevant() bool {
	_, ok := negativeEventTypes[e]
	return ok
}

// Event is an append-only, immutable record of something that affected an
// agent's trust standing (spec §3). Uniquely keyed by (TimestampMS, ID).
type Event struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Type      EventType `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`

	PreviousScore *int  `json:"previous_score,omitempty"`
	NewScore      *int  `json:"new_score,omitempty"`
	Delta         *int  `json:"delta,omitempty"`
	PreviousTier  *Tier `json:"previous_tier,omitempty"`
	NewTier       *Tier `json:"new_tier,omitempty"`

	Reason   string                 `json:"reason,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// TimestampMS is the millisecond-precision key component used for cursor
// pagination (spec §4.4).
func (e *Event) TimestampMS() int64 {
	return e.Timestamp.UnixMilli()
}

// EventFilter narrows a GetEvents query (spec §4.4).
type EventFilter struct {
	AgentID   string
	Type      EventType // empty = any
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Cursor    string // "timestamp_ms:event_id"
	Order     string // "asc" | "desc" (default desc)
}

// StreamID is the persistence-collaborator stream name an agent's events are
// durably mirrored under (spec §6): "trust:{agent_id}".
func StreamID(agentID string) string {
	return "trust:" + agentID
}

// DurableEventType is the wire type events are mirrored under in the event
// log collaborator (spec §6): "arbor.trust.{event_type}".
func DurableEventType(t EventType) string {
	return "arbor.trust." + string(t)
}
