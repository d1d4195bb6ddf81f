package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-run/trust-core/internal/domain"
)

func TestLoadOverlayParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overlay.yaml")
	content := `
score_weights:
  success_rate: 0.40
  uptime: 0.10
  security: 0.25
  test_pass: 0.20
  rollback: 0.05
points_earned:
  proposal_approved: 8
points_lost:
  proposal_rejected: 4
tier_thresholds:
  probationary: 15
points_thresholds:
  probationary: 30
confirmation_matrix:
  shell: [deny, deny, gated, gated]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	overlay, err := LoadOverlay(path)
	require.NoError(t, err)

	require.NotNil(t, overlay.ScoreWeights)
	assert.InDelta(t, 0.40, overlay.ScoreWeights.SuccessRate, 0.0001)
	assert.Equal(t, 8, overlay.PointsEarned["proposal_approved"])
	assert.Equal(t, 4, overlay.PointsLost["proposal_rejected"])
	assert.Equal(t, 15, overlay.TierThresholds[domain.TierProbationary])
	assert.Equal(t, 30, overlay.PointsThresholds[domain.TierProbationary])
}

func TestOverlayPointsTableMergesOntoBase(t *testing.T) {
	base := map[domain.EventType]int{
		domain.EventProposalApproved: 5,
		domain.EventActionSuccess:    1,
	}
	overlay := &Overlay{
		PointsEarned: map[string]int{"proposal_approved": 8},
		PointsLost:   map[string]int{"proposal_rejected": 4},
	}

	merged := overlay.PointsTable(base)
	assert.Equal(t, 8, merged[domain.EventProposalApproved])
	assert.Equal(t, 1, merged[domain.EventActionSuccess])
	assert.Equal(t, -4, merged[domain.EventProposalRejected])
}

func TestOverlayPointsTableIgnoresUnknownEventNames(t *testing.T) {
	overlay := &Overlay{PointsEarned: map[string]int{"not_a_real_event": 99}}
	merged := overlay.PointsTable(map[domain.EventType]int{})
	assert.Empty(t, merged)
}

func TestOverlayConfirmationMatrixOverridesSkipsInvalidModes(t *testing.T) {
	overlay := &Overlay{
		ConfirmationMatrix: map[domain.Bundle][4]string{
			domain.BundleShell:        {"deny", "deny", "gated", "gated"},
			domain.BundleCodebaseRead: {"auto", "bogus_mode", "auto", "auto"},
		},
	}

	out := overlay.ConfirmationMatrixOverrides()
	require.Contains(t, out, domain.BundleShell)
	assert.Equal(t, domain.ModeGated, out[domain.BundleShell][2])
	assert.NotContains(t, out, domain.BundleCodebaseRead)
}

func TestNilOverlayMethodsAreSafe(t *testing.T) {
	var overlay *Overlay
	base := map[domain.EventType]int{domain.EventActionSuccess: 1}
	assert.Equal(t, base, overlay.PointsTable(base))
	assert.Empty(t, overlay.ConfirmationMatrixOverrides())
}
