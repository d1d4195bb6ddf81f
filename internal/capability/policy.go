package capability

import (
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/arbor-run/trust-core/internal/domain"
	"github.com/arbor-run/trust-core/internal/signalbus"
)

// Decision is the public authorize verdict (spec §4.6.5).
type Decision string

const (
	DecisionAuthorized     Decision = "authorized"
	DecisionPendingApproval Decision = "pending_approval"
	DecisionDenied          Decision = "denied"
)

// AuthorizeResult is the full authorize-call contract (spec §4.6.5).
type AuthorizeResult struct {
	Decision   Decision
	ProposalID string // set when Decision == DecisionPendingApproval
	Reason     string // set when Decision == DecisionDenied
}

// tierResolver is the subset of tier.Resolver Policy needs: index comparison
// for effective_tier's min(behavioral, ceiling).
type tierResolver interface {
	Index(t domain.Tier) int
}

// Policy is the capability-authorization engine (spec §4.6.2): capability
// templates per tier, the declarative confirmation matrix, and the
// graduation tracker, composed behind the five Policy operations. Grounded
// on the teacher's capability.go domain shape, generalized with the tier
// ladder and matrix the teacher didn't have.
type Policy struct {
	store    *Store
	tiers    []domain.TierDefinition
	tierByID map[domain.Tier]domain.TierDefinition
	matrix   *Matrix
	grad     *GraduationTracker
	bus      *signalbus.Bus
	resolver tierResolver
	logger   *log.Logger

	keys               KeyLookup
	maxDelegationDepth int

	ceilingMu sync.RWMutex
	ceilings  map[string]domain.Tier // agent_id -> policy ceiling, default autonomous (no ceiling)

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter // key: agent_id + "\x00" + resolved uri template
}

// PolicyOption configures a Policy at construction.
type PolicyOption func(*Policy)

// WithSignalBus attaches the bus grant/revoke/graduation signals broadcast
// on (spec §6 ":trust topic").
func WithSignalBus(bus *signalbus.Bus) PolicyOption {
	return func(p *Policy) { p.bus = bus }
}

// WithMatrix overrides the default confirmation matrix.
func WithMatrix(m *Matrix) PolicyOption {
	return func(p *Policy) { p.matrix = m }
}

// WithGraduationTracker overrides the default graduation tracker (e.g. to
// attach a durable ConfirmationRepository).
func WithGraduationTracker(g *GraduationTracker) PolicyOption {
	return func(p *Policy) { p.grad = g }
}

// WithTierDefinitions overrides the default per-tier capability templates.
func WithTierDefinitions(defs []domain.TierDefinition) PolicyOption {
	return func(p *Policy) { p.tiers = defs }
}

// WithLogger overrides the default stderr logger.
func WithLogger(l *log.Logger) PolicyOption {
	return func(p *Policy) { p.logger = l }
}

// WithKeyLookup attaches the Ed25519 public-key lookup delegation-chain
// signatures are verified against (spec §3 "signed delegation_chain").
// Without one, Delegate and AuthorizeByCapability refuse every delegated
// capability.
func WithKeyLookup(keys KeyLookup) PolicyOption {
	return func(p *Policy) { p.keys = keys }
}

// WithMaxDelegationDepth overrides DefaultMaxDelegationDepth (spec §9:
// "implementers should choose a conservative default (e.g. 3) and expose it
// via config" — capability.max_delegation_depth).
func WithMaxDelegationDepth(n int) PolicyOption {
	return func(p *Policy) { p.maxDelegationDepth = n }
}

// NewPolicy builds a Policy over a capability Store and tier resolver.
func NewPolicy(store *Store, resolver tierResolver, opts ...PolicyOption) *Policy {
	p := &Policy{
		store:              store,
		tiers:              DefaultTierDefinitions(),
		matrix:             NewMatrix(nil),
		grad:               NewGraduationTracker(),
		resolver:           resolver,
		logger:             log.Default(),
		maxDelegationDepth: DefaultMaxDelegationDepth,
		ceilings:           make(map[string]domain.Tier),
		limiters:           make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.tierByID = make(map[domain.Tier]domain.TierDefinition, len(p.tiers))
	for _, def := range p.tiers {
		p.tierByID[def.Tier] = def
	}
	return p
}

func (p *Policy) broadcast(eventType, agentID string, extra map[string]interface{}) {
	if p.bus == nil {
		return
	}
	payload := map[string]interface{}{"agent_id": agentID}
	for k, v := range extra {
		payload[k] = v
	}
	p.bus.Publish(signalbus.TopicTrust, eventType, payload)
}

// EffectiveTier resolves min(behavioralTier, policyCeiling) (spec §4.6.2).
// The ceiling defaults to autonomous (no ceiling); SetCeiling reserves a
// future per-agent cap.
func (p *Policy) EffectiveTier(agentID string, behavioralTier domain.Tier) domain.Tier {
	p.ceilingMu.RLock()
	ceiling, ok := p.ceilings[agentID]
	p.ceilingMu.RUnlock()
	if !ok {
		return behavioralTier
	}
	if p.resolver.Index(ceiling) < p.resolver.Index(behavioralTier) {
		return ceiling
	}
	return behavioralTier
}

// SetCeiling sets a per-agent policy-tier cap, reserved for future use
// (spec §4.6.2).
func (p *Policy) SetCeiling(agentID string, tier domain.Tier) {
	p.ceilingMu.Lock()
	defer p.ceilingMu.Unlock()
	p.ceilings[agentID] = tier
}

// templateFor returns every capability template defined for the agent's
// effective tier, or nil if the tier has no definition. Callers pick the
// matching template with findTemplate.
func (p *Policy) templateFor(agentID string, effectiveTier domain.Tier) []domain.CapabilityTemplate {
	def, ok := p.tierByID[effectiveTier]
	if !ok {
		return nil
	}
	return def.Templates
}

// Allowed reports whether agentID may exercise uri at behavioralTier
// (spec §4.6.2: "resolve effective tier, then check template match").
func (p *Policy) Allowed(agentID, uri string, behavioralTier domain.Tier) bool {
	effTier := p.EffectiveTier(agentID, behavioralTier)
	tmpl := findTemplate(p.templateFor(agentID, effTier), uri, agentID)
	return tmpl != nil
}

// RequiresApproval reports whether the matched template gates uri on human
// approval. Returns an error if the URI is not authorized at all
// (spec §4.6.2: "bool | {:error, denied}").
func (p *Policy) RequiresApproval(agentID, uri string, behavioralTier domain.Tier) (bool, error) {
	effTier := p.EffectiveTier(agentID, behavioralTier)
	tmpl := findTemplate(p.templateFor(agentID, effTier), uri, agentID)
	if tmpl == nil {
		return false, domain.ErrUnauthorized
	}
	return tmpl.Constraints.RequiresApproval, nil
}

// ConfirmationMode resolves the confirmation verdict for a URI (spec §4.6.3,
// §4.6.4): bundle-matrix lookup first, graduation override next, falling
// back to template-derived mode for bundle-less URIs.
func (p *Policy) ConfirmationMode(agentID, uri string, behavioralTier domain.Tier) domain.ConfirmationMode {
	effTier := p.EffectiveTier(agentID, behavioralTier)
	policyTier := domain.ToPolicyTier(effTier)

	bundle, hasBundle := MatchBundle(uri)
	if !hasBundle {
		return p.templateDerivedMode(agentID, uri, effTier)
	}

	mode := p.matrix.Lookup(bundle, policyTier)
	if mode == domain.ModeGated && p.grad.Graduated(agentID, bundle) {
		return domain.ModeAuto
	}
	return mode
}

// templateDerivedMode implements the fallback rule for URIs that match no
// bundle (spec §4.6.3): denied if not in templates at this tier, gated if
// requires_approval, else auto.
func (p *Policy) templateDerivedMode(agentID, uri string, effTier domain.Tier) domain.ConfirmationMode {
	tmpl := findTemplate(p.templateFor(agentID, effTier), uri, agentID)
	if tmpl == nil {
		return domain.ModeDeny
	}
	if tmpl.Constraints.RequiresApproval {
		return domain.ModeGated
	}
	return domain.ModeAuto
}

// Authorize is the public authorize-call contract (spec §4.6.5). proposer,
// when mode is gated, files a human-approval proposal with the external
// consensus system and returns its ID; a nil proposer degrades gated to
// denied (fail-closed, matching sync_capabilities' revoke-then-grant
// ordering).
func (p *Policy) Authorize(agentID, uri string, behavioralTier domain.Tier, now time.Time, proposer func(agentID, uri string) (string, error)) (AuthorizeResult, error) {
	if !p.Allowed(agentID, uri, behavioralTier) {
		return AuthorizeResult{Decision: DecisionDenied, Reason: "not_in_capability_templates"}, nil
	}
	if err := p.checkRateLimit(agentID, uri, behavioralTier); err != nil {
		return AuthorizeResult{Decision: DecisionDenied, Reason: "rate_limit"}, nil
	}

	switch p.ConfirmationMode(agentID, uri, behavioralTier) {
	case domain.ModeAuto:
		return AuthorizeResult{Decision: DecisionAuthorized}, nil
	case domain.ModeDeny:
		return AuthorizeResult{Decision: DecisionDenied, Reason: "confirmation_mode_deny"}, nil
	default: // gated
		if proposer == nil {
			return AuthorizeResult{Decision: DecisionDenied, Reason: "no_approval_channel"}, nil
		}
		proposalID, err := proposer(agentID, uri)
		if err != nil {
			return AuthorizeResult{}, fmt.Errorf("file approval proposal: %w", err)
		}
		return AuthorizeResult{Decision: DecisionPendingApproval, ProposalID: proposalID}, nil
	}
}

// checkRateLimit enforces a template's RateLimitPerMinute constraint, if
// any, with one token-bucket limiter per (agent, matched template).
func (p *Policy) checkRateLimit(agentID, uri string, behavioralTier domain.Tier) error {
	effTier := p.EffectiveTier(agentID, behavioralTier)
	tmpl := findTemplate(p.templateFor(agentID, effTier), uri, agentID)
	if tmpl == nil || tmpl.Constraints.RateLimitPerMinute <= 0 {
		return nil
	}

	key := agentID + "\x00" + tmpl.ResourceURITemplate
	p.limitersMu.Lock()
	lim, ok := p.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(tmpl.Constraints.RateLimitPerMinute)/60.0), tmpl.Constraints.RateLimitPerMinute)
		p.limiters[key] = lim
	}
	p.limitersMu.Unlock()

	if !lim.Allow() {
		return domain.NewConstraintViolation("rate_limit", uri)
	}
	return nil
}

// RecordConfirmation feeds an approval or rejection into the graduation
// tracker for the URI's bundle, broadcasting the resulting state change
// (spec §4.6.4).
func (p *Policy) RecordConfirmation(agentID, uri string, approved bool, now time.Time) {
	bundle, ok := MatchBundle(uri)
	if !ok {
		return
	}
	if approved {
		outcome := p.grad.RecordApproval(agentID, bundle, now)
		p.broadcast("confirmation_recorded", agentID, map[string]interface{}{"bundle": bundle, "approved": true})
		if outcome.JustGraduated {
			p.broadcast("bundle_graduated", agentID, map[string]interface{}{"bundle": bundle})
		}
		return
	}
	outcome := p.grad.RecordRejection(agentID, bundle, now)
	p.broadcast("confirmation_recorded", agentID, map[string]interface{}{"bundle": bundle, "approved": false})
	if outcome.JustReverted {
		p.broadcast("graduation_reverted", agentID, map[string]interface{}{"bundle": bundle})
	}
}

// LockBundle pins a bundle to gated for an agent until Unlock (spec §4.6.4).
func (p *Policy) LockBundle(agentID string, bundle domain.Bundle) {
	p.grad.LockGated(agentID, bundle)
	p.broadcast("bundle_locked", agentID, map[string]interface{}{"bundle": bundle})
}

// UnlockBundle clears a prior LockBundle.
func (p *Policy) UnlockBundle(agentID string, bundle domain.Bundle) {
	p.grad.Unlock(agentID, bundle)
	p.broadcast("bundle_unlocked", agentID, map[string]interface{}{"bundle": bundle})
}

// GrantTierCapabilities issues every capability template for tier to
// agentID, marked source=trust_tier (spec §4.6.2).
func (p *Policy) GrantTierCapabilities(agentID string, tier domain.Tier, now time.Time) (int, error) {
	def, ok := p.tierByID[tier]
	if !ok {
		return 0, fmt.Errorf("no tier definition for %q", tier)
	}
	count := 0
	for _, tmpl := range def.Templates {
		uri := ResolveSelf(tmpl.ResourceURITemplate, agentID)
		_, err := p.store.Grant(&domain.Capability{
			PrincipalID: agentID,
			ResourceURI: uri,
			Constraints: tmpl.Constraints,
			IssuerID:    "trust-core",
			Source:      domain.CapabilitySourceTrustTier,
			IssuedAt:    now,
		})
		if err != nil {
			return count, err
		}
		count++
	}
	p.broadcast("capabilities_granted", agentID, map[string]interface{}{"tier": tier, "count": count})
	return count, nil
}

// SyncCapabilities implements trustmanager.CapabilitySyncer: bulk-revoke the
// agent's trust-sourced capabilities, then grant the new tier's, in that
// order (spec §4.6.2: "revoke-then-grant, accepting a transient window with
// fewer capabilities (fail-closed)"). Called synchronously by the trust
// manager on every tier transition.
func (p *Policy) SyncCapabilities(agentID string, old, new domain.Tier) error {
	now := time.Now()
	revoked, err := p.store.RevokeBySource(agentID, domain.CapabilitySourceTrustTier, now)
	if err != nil {
		return fmt.Errorf("revoke trust-sourced capabilities: %w", err)
	}
	granted, err := p.GrantTierCapabilities(agentID, new, now)
	if err != nil {
		return fmt.Errorf("grant tier capabilities: %w", err)
	}
	if p.resolver.Index(new) < p.resolver.Index(old) {
		p.grad.Reset(agentID)
		p.broadcast("confirmation_reset", agentID, nil)
	}
	p.broadcast("tier_capabilities_synced", agentID, map[string]interface{}{
		"old_tier": old, "new_tier": new, "revoked": revoked, "granted": granted,
	})
	return nil
}

// RevokeAgentCapabilities revokes every active capability an agent holds,
// regardless of source (spec §4.6.2).
func (p *Policy) RevokeAgentCapabilities(agentID string) (int, error) {
	count, err := p.store.RevokeAll(agentID, time.Now())
	if err != nil {
		return 0, err
	}
	p.broadcast("capabilities_revoked", agentID, map[string]interface{}{"count": count})
	return count, nil
}
