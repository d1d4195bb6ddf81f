// Package capability implements C6 (spec §4.6): capability templates per
// tier, the Policy operations (allowed?/requires_approval?/effective_tier/
// confirmation_mode/grant|sync|revoke), the declarative confirmation matrix,
// and the graduation tracker. Grounded on the teacher's capability.go domain
// shape (AgentCapability's resource/constraint/expiry fields) generalized
// into a tier-template system plus a policy-tier confirmation matrix the
// teacher didn't have.
package capability

import (
	"strings"

	"github.com/arbor-run/trust-core/internal/domain"
)

// selfPlaceholder is the literal segment a template URI uses in place of the
// agent's own id (spec §4.6.1: "placeholder /self/ or trailing /self").
const selfPlaceholder = "self"

// ResolveSelf substitutes the literal "self" path segment in a template URI
// with the agent's id (spec §4.6.1).
func ResolveSelf(template, agentID string) string {
	replaced := strings.ReplaceAll(template, "/"+selfPlaceholder+"/", "/"+agentID+"/")
	if strings.HasSuffix(replaced, "/"+selfPlaceholder) {
		replaced = strings.TrimSuffix(replaced, selfPlaceholder) + agentID
	}
	return replaced
}

func approvalRequired() domain.Constraints {
	return domain.Constraints{RequiresApproval: true}
}

// DefaultTierDefinitions builds the additive per-tier template ladder
// (spec §4.6.1): higher tiers strictly extend lower tiers' templates unless
// a constraint changes, and shell execution is never unconstrained at any
// tier (spec §4.6.1 security invariant).
func DefaultTierDefinitions() []domain.TierDefinition {
	untrustedTemplates := []domain.CapabilityTemplate{
		{ResourceURITemplate: "arbor://code/read/self/*"},
		{ResourceURITemplate: "arbor://roadmap/read/self/*"},
		{ResourceURITemplate: "arbor://git/read/self/*"},
		{ResourceURITemplate: "arbor://activity/emit/self/*"},
	}

	probationaryTemplates := append(clone(untrustedTemplates),
		domain.CapabilityTemplate{ResourceURITemplate: "arbor://ai/request/self/*", Constraints: approvalRequired()},
	)

	// Each tier below is additive over the previous one (spec §4.6.1): every
	// template a lower tier holds, the next tier holds too, sometimes with
	// its constraint relaxed. Shell keeps requires_approval at every tier —
	// it is never unconstrained (spec §4.6.1 security invariant).
	trustedTemplates := append(clone(probationaryTemplates),
		domain.CapabilityTemplate{ResourceURITemplate: "arbor://code/write/self/*", Constraints: approvalRequired()},
		domain.CapabilityTemplate{ResourceURITemplate: "arbor://code/compile/self/*", Constraints: approvalRequired()},
		domain.CapabilityTemplate{ResourceURITemplate: "arbor://test/write/self/*"},
		domain.CapabilityTemplate{ResourceURITemplate: "arbor://docs/write/self/*"},
		domain.CapabilityTemplate{ResourceURITemplate: "arbor://network/request/self/*", Constraints: approvalRequired()},
		domain.CapabilityTemplate{ResourceURITemplate: "arbor://signals/subscribe/self/*"},
		domain.CapabilityTemplate{ResourceURITemplate: "arbor://shell/exec/self/*", Constraints: domain.Constraints{RequiresApproval: true, RateLimitPerMinute: 5}},
	)

	veteranTemplates := append(clone(probationaryTemplates),
		domain.CapabilityTemplate{ResourceURITemplate: "arbor://code/write/self/*"},   // unconstrained at veteran
		domain.CapabilityTemplate{ResourceURITemplate: "arbor://code/compile/self/*"}, // unconstrained at veteran
		domain.CapabilityTemplate{ResourceURITemplate: "arbor://code/reload/self/*"},
		domain.CapabilityTemplate{ResourceURITemplate: "arbor://test/write/self/*"},
		domain.CapabilityTemplate{ResourceURITemplate: "arbor://docs/write/self/*"},
		domain.CapabilityTemplate{ResourceURITemplate: "arbor://roadmap/write/self/*"},
		domain.CapabilityTemplate{ResourceURITemplate: "arbor://roadmap/move/self/*"},
		domain.CapabilityTemplate{ResourceURITemplate: "arbor://network/request/self/*"}, // unconstrained at veteran
		domain.CapabilityTemplate{ResourceURITemplate: "arbor://signals/subscribe/self/*"},
		domain.CapabilityTemplate{ResourceURITemplate: "arbor://extension/request/self/*"},
		domain.CapabilityTemplate{ResourceURITemplate: "arbor://shell/exec/self/*", Constraints: domain.Constraints{RequiresApproval: true, RateLimitPerMinute: 10}},
	)

	autonomousTemplates := append(clone(veteranTemplates[:len(veteranTemplates)-1]), // drop veteran's shell entry, replace below
		domain.CapabilityTemplate{ResourceURITemplate: "arbor://config/write/self/*", Constraints: approvalRequired()},
		domain.CapabilityTemplate{ResourceURITemplate: "arbor://install/execute/self/*", Constraints: approvalRequired()},
		domain.CapabilityTemplate{ResourceURITemplate: "arbor://capability/request/self/*"},
		domain.CapabilityTemplate{ResourceURITemplate: "arbor://capability/delegate/self/*"},
		domain.CapabilityTemplate{ResourceURITemplate: "arbor://governance/change/self/*", Constraints: approvalRequired()},
		domain.CapabilityTemplate{ResourceURITemplate: "arbor://consensus/propose/self/*", Constraints: approvalRequired()},
		// Still requires_approval: shell is never unconstrained at any tier.
		domain.CapabilityTemplate{ResourceURITemplate: "arbor://shell/exec/self/*", Constraints: domain.Constraints{RequiresApproval: true, RateLimitPerMinute: 20}},
	)

	return []domain.TierDefinition{
		{Tier: domain.TierUntrusted, Templates: untrustedTemplates, Sandbox: "strict"},
		{Tier: domain.TierProbationary, Templates: probationaryTemplates, Sandbox: "strict"},
		{Tier: domain.TierTrusted, Templates: trustedTemplates, Sandbox: "standard"},
		{Tier: domain.TierVeteran, Templates: veteranTemplates, Sandbox: "permissive"},
		{Tier: domain.TierAutonomous, Templates: autonomousTemplates, Sandbox: "none"},
	}
}

func clone(templates []domain.CapabilityTemplate) []domain.CapabilityTemplate {
	out := make([]domain.CapabilityTemplate, len(templates))
	copy(out, templates)
	return out
}

// matchTemplate reports whether uri matches a template's resource URI,
// wildcard-aware: a trailing "/*" matches any suffix (spec §4.6.2, §6).
func matchTemplate(templateURI, uri string) bool {
	if strings.HasSuffix(templateURI, "/*") {
		prefix := strings.TrimSuffix(templateURI, "*")
		return strings.HasPrefix(uri, prefix)
	}
	return templateURI == uri
}

// findTemplate returns the first template in defs matching uri for agentID
// (after self-resolution), or nil if none match.
func findTemplate(defs []domain.CapabilityTemplate, uri, agentID string) *domain.CapabilityTemplate {
	for i := range defs {
		resolved := ResolveSelf(defs[i].ResourceURITemplate, agentID)
		if matchTemplate(resolved, uri) {
			return &defs[i]
		}
	}
	return nil
}
