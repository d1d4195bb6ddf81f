// Package trustmanager implements C5 (spec §4.5): the single-writer event
// pipeline coordinating Profile Store mutations, Event Store appends, signal
// broadcasts, the circuit breaker, and capability sync on tier change, plus
// the daily decay sweep. Grounded on the teacher's service-layer
// orchestration pattern (internal/application/trust_calculator.go wires
// repositories together the same way) and on the other_examples ticker-based
// decay scheduler for the time-driven pieces.
package trustmanager

import (
	"fmt"
	"log"
	"time"

	"github.com/arbor-run/trust-core/internal/domain"
	"github.com/arbor-run/trust-core/internal/eventstore"
	"github.com/arbor-run/trust-core/internal/profilestore"
	"github.com/arbor-run/trust-core/internal/signalbus"
)

// CapabilitySyncer is invoked on a tier change (spec §4.5.2 step 8). Kept as
// an interface here, implemented by internal/capability's Policy, to avoid a
// dependency cycle between the two packages.
type CapabilitySyncer interface {
	SyncCapabilities(agentID string, old, new domain.Tier) error
}

// tierIndexer is the subset of *tier.Resolver the manager needs for decay's
// score-only tier rebucketing and the points-floor lift.
type tierIndexer interface {
	Resolve(score int) domain.Tier
	ResolveByPoints(points int) domain.Tier
	Max(a, b domain.Tier) domain.Tier
}

// mutationEventTypes is the set ProcessEvent accepts directly — the
// "primary" client-submitted events (spec §4.5.1). trust_points_awarded/
// deducted, tier_changed, trust_frozen/unfrozen and trust_decayed are
// emitted internally by Manager itself; Manager emits no
// profile_created/deleted events.
var mutationEventTypes = map[domain.EventType]func(*profilestore.Store, string, time.Time) (*domain.Profile, error){
	domain.EventActionSuccess:        (*profilestore.Store).RecordActionSuccess,
	domain.EventActionFailure:        (*profilestore.Store).RecordActionFailure,
	domain.EventRollbackExecuted:     (*profilestore.Store).RecordRollback,
	domain.EventImprovementApplied:   (*profilestore.Store).RecordImprovement,
	domain.EventSecurityViolation:    (*profilestore.Store).RecordSecurityViolation,
	domain.EventProposalSubmitted:    (*profilestore.Store).RecordProposalSubmitted,
	domain.EventProposalApproved:     (*profilestore.Store).RecordProposalApproved,
	domain.EventProposalRejected:     (*profilestore.Store).RecordProposalRejected,
	domain.EventInstallationSuccess:  (*profilestore.Store).RecordInstallationSuccess,
	domain.EventInstallationRollback: (*profilestore.Store).RecordInstallationRollback,
	domain.EventTestPassed: func(s *profilestore.Store, agentID string, now time.Time) (*domain.Profile, error) {
		return s.RecordTestResult(agentID, true, now)
	},
	domain.EventTestFailed: func(s *profilestore.Store, agentID string, now time.Time) (*domain.Profile, error) {
		return s.RecordTestResult(agentID, false, now)
	},
}

// Manager is the single writer coordinating events into profile, event, and
// capability state (spec §4.5).
type Manager struct {
	profiles *profilestore.Store
	events   *eventstore.Store
	bus      *signalbus.Bus
	resolver tierIndexer
	breaker  *CircuitBreaker
	syncer   CapabilitySyncer
	points   PointsTable

	logger *log.Logger
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithSignalBus attaches the bus lifecycle events broadcast on.
func WithSignalBus(bus *signalbus.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithCapabilitySyncer registers the tier-change capability-sync hook
// (spec §4.5.2 step 8).
func WithCapabilitySyncer(s CapabilitySyncer) Option {
	return func(m *Manager) { m.syncer = s }
}

// WithLogger overrides the default stderr logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithPointsTable overrides the default event→trust_points delta table
// (spec §6 "points_earned/points_lost (event→delta)").
func WithPointsTable(points PointsTable) Option {
	return func(m *Manager) { m.points = points }
}

// New builds a Manager over an existing Profile Store and Event Store, and
// wires itself as the Profile Store's tier-change hook and as the circuit
// breaker's hooks implementation.
func New(profiles *profilestore.Store, events *eventstore.Store, resolver tierIndexer, thresholds Thresholds, opts ...Option) *Manager {
	m := &Manager{
		profiles: profiles,
		events:   events,
		resolver: resolver,
		points:   DefaultPointsTable(),
		logger:   log.New(log.Writer(), "[TRUST-MANAGER] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.breaker = NewCircuitBreaker(thresholds, m)
	profiles.SetTierChangeHook(m.onTierChanged)
	return m
}

// Breaker exposes the manager's circuit breaker for Status/Reset queries
// from the admin surface.
func (m *Manager) Breaker() *CircuitBreaker { return m.breaker }

func (m *Manager) broadcast(eventType domain.EventType, agentID string, extra map[string]interface{}) {
	if m.bus == nil {
		return
	}
	payload := map[string]interface{}{"agent_id": agentID, "event_type": string(eventType)}
	for k, v := range extra {
		payload[k] = v
	}
	// Spec §6 names two channels, global "trust:events" and per-agent
	// "trust:{agent_id}"; both collapse onto the single :trust topic here,
	// with agent_id carried in the payload for per-agent filtering by
	// subscribers; the NATS bridge's default subject uses topic and type only.
	m.bus.Publish(signalbus.TopicTrust, string(eventType), payload)
}

// ProcessEvent runs the pipeline in spec §4.5.2 for one client-submitted
// event: load-or-create, mutate, recalculate (inside the mutation helper),
// append, mirror, broadcast, circuit-breaker check, and — on tier change —
// capability sync via the registered hook.
func (m *Manager) ProcessEvent(agentID string, eventType domain.EventType, reason string, now time.Time) (*domain.Profile, error) {
	mutate, ok := mutationEventTypes[eventType]
	if !ok {
		m.logger.Printf("ignoring unsupported event type for ProcessEvent: %s", eventType)
		return nil, fmt.Errorf("%w: event type %q is not a direct mutation event", domain.ErrNotFound, eventType)
	}

	before, err := m.profiles.GetOrCreate(agentID, now)
	if err != nil {
		return nil, err
	}

	after, err := mutate(m.profiles, agentID, now)
	if err != nil {
		return nil, err
	}

	if delta := m.points.Delta(eventType); delta != 0 {
		pointsReason := fmt.Sprintf("event:%s", eventType)
		if delta > 0 {
			after, err = m.profiles.AwardTrustPoints(agentID, delta, now)
		} else {
			after, err = m.profiles.DeductTrustPoints(agentID, -delta, pointsReason, now)
		}
		if err != nil {
			return nil, err
		}
	}

	if err := m.appendTransition(agentID, eventType, reason, before, after, now); err != nil {
		m.logger.Printf("durable event append failed for %s (in-memory state still advanced): %v", agentID, err)
	}

	m.broadcast(eventType, agentID, map[string]interface{}{"new_score": after.TrustScore})

	if eventType.IsCircuitBreakerRelevant() {
		m.breaker.RecordEvent(agentID, eventType, now)
		// A trip freezes or demotes the agent through the breaker hooks;
		// return the profile as it stands after that.
		if current, err := m.profiles.Get(agentID); err == nil {
			after = current
		}
	}

	return after, nil
}

func (m *Manager) appendTransition(agentID string, eventType domain.EventType, reason string, before, after *domain.Profile, now time.Time) error {
	delta := after.TrustScore - before.TrustScore
	ev := &domain.Event{
		AgentID:       agentID,
		Type:          eventType,
		Timestamp:     now,
		PreviousScore: &before.TrustScore,
		NewScore:      &after.TrustScore,
		Delta:         &delta,
		Reason:        reason,
	}
	if before.Tier != after.Tier {
		ev.PreviousTier = &before.Tier
		ev.NewTier = &after.Tier
	}
	return m.events.Append(ev)
}

// AwardPoints adds trust points (spec §4.3 award_trust_points, §4.5.1
// trust_points_awarded).
func (m *Manager) AwardPoints(agentID string, n int, reason string, now time.Time) (*domain.Profile, error) {
	before, err := m.profiles.GetOrCreate(agentID, now)
	if err != nil {
		return nil, err
	}
	after, err := m.profiles.AwardTrustPoints(agentID, n, now)
	if err != nil {
		return nil, err
	}
	if err := m.appendTransition(agentID, domain.EventTrustPointsAwarded, reason, before, after, now); err != nil {
		m.logger.Printf("event append failed for %s: %v", agentID, err)
	}
	m.broadcast(domain.EventTrustPointsAwarded, agentID, map[string]interface{}{"points": n, "reason": reason})
	return after, nil
}

// DeductPoints subtracts trust points (spec §4.3 deduct_trust_points, §4.5.1
// trust_points_deducted).
func (m *Manager) DeductPoints(agentID string, n int, reason string, now time.Time) (*domain.Profile, error) {
	before, err := m.profiles.GetOrCreate(agentID, now)
	if err != nil {
		return nil, err
	}
	after, err := m.profiles.DeductTrustPoints(agentID, n, reason, now)
	if err != nil {
		return nil, err
	}
	if err := m.appendTransition(agentID, domain.EventTrustPointsDeducted, reason, before, after, now); err != nil {
		m.logger.Printf("event append failed for %s: %v", agentID, err)
	}
	m.broadcast(domain.EventTrustPointsDeducted, agentID, map[string]interface{}{"points": n, "reason": reason})
	return after, nil
}

// onTierChanged is registered as the Profile Store's tier-change hook
// (spec §4.3, §4.5.2 step 8): it runs synchronously inside Store.Update,
// before Update returns, so the capability sync is always applied before any
// caller observes the new tier.
func (m *Manager) onTierChanged(agentID string, old, new domain.Tier) {
	if m.syncer != nil {
		if err := m.syncer.SyncCapabilities(agentID, old, new); err != nil {
			m.logger.Printf("capability sync failed for %s (%s -> %s): %v", agentID, old, new, err)
		}
	}
}

// Freeze is the admin/circuit-breaker freeze path: sets the frozen flag and
// appends + broadcasts trust_frozen (spec §4.5.3 "Opening sets frozen=true
// ... broadcasts trust_frozen").
func (m *Manager) Freeze(agentID, reason string, now time.Time) error {
	before, err := m.profiles.GetOrCreate(agentID, now)
	if err != nil {
		return err
	}
	after, err := m.profiles.Freeze(agentID, reason, now)
	if err != nil {
		return err
	}
	if err := m.appendTransition(agentID, domain.EventTrustFrozen, reason, before, after, now); err != nil {
		m.logger.Printf("event append failed for %s: %v", agentID, err)
	}
	m.broadcast(domain.EventTrustFrozen, agentID, map[string]interface{}{"reason": reason})
	return nil
}

// Unfreeze is the admin/circuit-breaker-auto-close path: clears the frozen
// flag and appends + broadcasts trust_unfrozen.
func (m *Manager) Unfreeze(agentID string, now time.Time) error {
	before, err := m.profiles.GetOrCreate(agentID, now)
	if err != nil {
		return err
	}
	after, err := m.profiles.Unfreeze(agentID, now)
	if err != nil {
		return err
	}
	if err := m.appendTransition(agentID, domain.EventTrustUnfrozen, "", before, after, now); err != nil {
		m.logger.Printf("event append failed for %s: %v", agentID, err)
	}
	m.broadcast(domain.EventTrustUnfrozen, agentID, nil)
	return nil
}

// DemoteOneTier implements the rollback-trigger circuit-breaker consequence
// (spec §4.5.3: "demote one tier; do not freeze").
func (m *Manager) DemoteOneTier(agentID string, now time.Time) error {
	before, err := m.profiles.GetOrCreate(agentID, now)
	if err != nil {
		return err
	}
	after, err := m.profiles.Update(agentID, now, func(p *domain.Profile) error {
		demoted := previousTierOf(m.resolver, p.Tier)
		p.Tier = demoted
		return nil
	})
	if err != nil {
		return err
	}
	if err := m.appendTransition(agentID, domain.EventTierChanged, "circuit_breaker_demotion", before, after, now); err != nil {
		m.logger.Printf("event append failed for %s: %v", agentID, err)
	}
	m.broadcast(domain.EventTierChanged, agentID, map[string]interface{}{"reason": "circuit_breaker_demotion"})
	return nil
}

// previousTierOf steps one tier down using whatever ordering the resolver
// exposes; tierIndexer doesn't carry PreviousTier directly, so this derives
// it by scanning Resolve's score buckets downward is unnecessary — Manager's
// tierIndexer is satisfied by *tier.Resolver, which does have PreviousTier,
// so we type-assert to the richer interface when available and otherwise
// fall back to leaving the tier unchanged.
func previousTierOf(r tierIndexer, t domain.Tier) domain.Tier {
	if full, ok := r.(interface{ PreviousTier(domain.Tier) domain.Tier }); ok {
		return full.PreviousTier(t)
	}
	return t
}

// applyDecay is invoked by DecayScheduler for one profile: it adjusts the
// trust score directly (bypassing the component recalculation, since decay
// is an explicit time-based penalty rather than a counter-derived one),
// rebuckets the tier, and emits trust_decayed (spec §4.5.4).
func (m *Manager) applyDecay(agentID string, delta int, now time.Time) error {
	before, err := m.profiles.Get(agentID)
	if err != nil {
		return err
	}
	after, err := m.profiles.Update(agentID, now, func(p *domain.Profile) error {
		p.TrustScore += delta
		scoreTier := m.resolver.Resolve(p.TrustScore)
		pointsTier := m.resolver.ResolveByPoints(p.TrustPoints)
		p.Tier = m.resolver.Max(scoreTier, pointsTier)
		return nil
	})
	if err != nil {
		return err
	}
	if err := m.appendTransition(agentID, domain.EventTrustDecayed, "daily_decay", before, after, now); err != nil {
		m.logger.Printf("event append failed for %s: %v", agentID, err)
	}
	m.broadcast(domain.EventTrustDecayed, agentID, map[string]interface{}{"delta": delta})
	return nil
}
