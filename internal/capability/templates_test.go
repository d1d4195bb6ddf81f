package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-run/trust-core/internal/domain"
)

func TestResolveSelfMidPath(t *testing.T) {
	assert.Equal(t, "arbor://code/read/agent-1/*", ResolveSelf("arbor://code/read/self/*", "agent-1"))
}

func TestResolveSelfTrailingSegment(t *testing.T) {
	assert.Equal(t, "arbor://capability/request/agent-1", ResolveSelf("arbor://capability/request/self", "agent-1"))
}

func TestMatchTemplateWildcard(t *testing.T) {
	assert.True(t, matchTemplate("arbor://code/read/agent-1/*", "arbor://code/read/agent-1/src/main.go"))
	assert.False(t, matchTemplate("arbor://code/read/agent-1/*", "arbor://code/write/agent-1/src/main.go"))
}

func TestVeteranTemplatesHaveNoGatedDuplicates(t *testing.T) {
	defs := DefaultTierDefinitions()
	var veteran domain.TierDefinition
	for _, d := range defs {
		if d.Tier == domain.TierVeteran {
			veteran = d
		}
	}
	require.NotEmpty(t, veteran.Templates)

	for _, uri := range []string{"arbor://code/write/self/*", "arbor://code/compile/self/*", "arbor://network/request/self/*"} {
		tmpl := findTemplate(veteran.Templates, ResolveSelf(uri, "agent-1"), "agent-1")
		require.NotNil(t, tmpl, "expected a template for %s", uri)
		assert.False(t, tmpl.Constraints.RequiresApproval, "veteran tier must be unconstrained for %s", uri)
	}
}

func TestShellNeverUnconstrainedAcrossAllTiers(t *testing.T) {
	for _, def := range DefaultTierDefinitions() {
		if def.Tier == domain.TierUntrusted || def.Tier == domain.TierProbationary {
			continue // shell isn't granted at all below trusted
		}
		tmpl := findTemplate(def.Templates, ResolveSelf("arbor://shell/exec/self/*", "agent-1"), "agent-1")
		require.NotNil(t, tmpl, "tier %s should hold a shell template", def.Tier)
		assert.True(t, tmpl.Constraints.RequiresApproval, "tier %s must gate shell exec", def.Tier)
	}
}

func TestTemplatesAreAdditiveAcrossTiers(t *testing.T) {
	defs := DefaultTierDefinitions()
	byTier := make(map[domain.Tier]domain.TierDefinition, len(defs))
	for _, d := range defs {
		byTier[d.Tier] = d
	}

	// Every untrusted template URI must still resolve somewhere up the ladder.
	for _, tier := range []domain.Tier{domain.TierProbationary, domain.TierTrusted, domain.TierVeteran, domain.TierAutonomous} {
		for _, base := range byTier[domain.TierUntrusted].Templates {
			resolved := ResolveSelf(base.ResourceURITemplate, "agent-1")
			assert.NotNil(t, findTemplate(byTier[tier].Templates, resolved, "agent-1"),
				"tier %s lost untrusted template %s", tier, base.ResourceURITemplate)
		}
	}
}
