package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arbor-run/trust-core/internal/domain"
)

func TestMatchBundleLongestPrefix(t *testing.T) {
	b, ok := MatchBundle("arbor://code/write/agent-1/src/main.go")
	assert.True(t, ok)
	assert.Equal(t, domain.BundleCodebaseWrite, b)
}

func TestMatchBundleUnknownURI(t *testing.T) {
	_, ok := MatchBundle("arbor://unknown/thing/agent-1")
	assert.False(t, ok)
}

func TestMatrixDefaultsReadAlwaysAuto(t *testing.T) {
	m := NewMatrix(nil)
	for _, pt := range []domain.PolicyTier{domain.PolicyTierRestricted, domain.PolicyTierStandard, domain.PolicyTierElevated, domain.PolicyTierAutonomous} {
		assert.Equal(t, domain.ModeAuto, m.Lookup(domain.BundleCodebaseRead, pt))
	}
}

func TestMatrixShellNeverAuto(t *testing.T) {
	m := NewMatrix(nil)
	for _, pt := range []domain.PolicyTier{domain.PolicyTierRestricted, domain.PolicyTierStandard, domain.PolicyTierElevated, domain.PolicyTierAutonomous} {
		assert.NotEqual(t, domain.ModeAuto, m.Lookup(domain.BundleShell, pt))
	}
}

func TestMatrixGovernanceNeverAuto(t *testing.T) {
	m := NewMatrix(nil)
	for _, pt := range []domain.PolicyTier{domain.PolicyTierRestricted, domain.PolicyTierStandard, domain.PolicyTierElevated, domain.PolicyTierAutonomous} {
		assert.NotEqual(t, domain.ModeAuto, m.Lookup(domain.BundleGovernance, pt))
	}
}

func TestMatrixUnknownBundleOrTierDenies(t *testing.T) {
	m := NewMatrix(nil)
	assert.Equal(t, domain.ModeDeny, m.Lookup(domain.Bundle("nonsense"), domain.PolicyTierAutonomous))
	assert.Equal(t, domain.ModeDeny, m.Lookup(domain.BundleCodebaseWrite, domain.PolicyTier("nonsense")))
}

func TestMatrixOverrideReplacesRow(t *testing.T) {
	m := NewMatrix(map[domain.Bundle][4]domain.ConfirmationMode{
		domain.BundleNetwork: {domain.ModeDeny, domain.ModeDeny, domain.ModeDeny, domain.ModeGated},
	})
	assert.Equal(t, domain.ModeGated, m.Lookup(domain.BundleNetwork, domain.PolicyTierAutonomous))
	// Unrelated rows stay at defaults.
	assert.Equal(t, domain.ModeAuto, m.Lookup(domain.BundleCodebaseRead, domain.PolicyTierRestricted))
}
