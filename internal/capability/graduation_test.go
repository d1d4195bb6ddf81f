package capability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-run/trust-core/internal/domain"
)

func TestGraduationAfterThreeApprovals(t *testing.T) {
	tr := NewGraduationTracker()
	now := time.Now()

	for i := 0; i < 2; i++ {
		out := tr.RecordApproval("agent-1", domain.BundleCodebaseWrite, now)
		assert.False(t, out.JustGraduated)
	}
	out := tr.RecordApproval("agent-1", domain.BundleCodebaseWrite, now)
	require.True(t, out.JustGraduated)
	assert.True(t, tr.Graduated("agent-1", domain.BundleCodebaseWrite))
}

func TestRejectionResetsStreakAndGraduation(t *testing.T) {
	tr := NewGraduationTracker()
	now := time.Now()
	for i := 0; i < 3; i++ {
		tr.RecordApproval("agent-1", domain.BundleCodebaseWrite, now)
	}
	require.True(t, tr.Graduated("agent-1", domain.BundleCodebaseWrite))

	out := tr.RecordRejection("agent-1", domain.BundleCodebaseWrite, now)
	assert.True(t, out.JustReverted)
	assert.False(t, tr.Graduated("agent-1", domain.BundleCodebaseWrite))
	entry := tr.Get("agent-1", domain.BundleCodebaseWrite)
	assert.Equal(t, 0, entry.Streak)
}

func TestShellAndGovernanceNeverGraduate(t *testing.T) {
	tr := NewGraduationTracker()
	now := time.Now()
	for i := 0; i < 50; i++ {
		tr.RecordApproval("agent-1", domain.BundleShell, now)
		tr.RecordApproval("agent-1", domain.BundleGovernance, now)
	}
	assert.False(t, tr.Graduated("agent-1", domain.BundleShell))
	assert.False(t, tr.Graduated("agent-1", domain.BundleGovernance))
}

func TestLockGatedPreventsGraduation(t *testing.T) {
	tr := NewGraduationTracker()
	now := time.Now()
	tr.LockGated("agent-1", domain.BundleCodebaseWrite)
	for i := 0; i < 5; i++ {
		tr.RecordApproval("agent-1", domain.BundleCodebaseWrite, now)
	}
	assert.False(t, tr.Graduated("agent-1", domain.BundleCodebaseWrite))

	// Approvals made while locked still count toward the streak, so the first
	// approval after unlocking already meets the threshold.
	tr.Unlock("agent-1", domain.BundleCodebaseWrite)
	out := tr.RecordApproval("agent-1", domain.BundleCodebaseWrite, now)
	assert.True(t, out.JustGraduated)
}

func TestResetClearsAllBundlesForAgent(t *testing.T) {
	tr := NewGraduationTracker()
	now := time.Now()
	for i := 0; i < 3; i++ {
		tr.RecordApproval("agent-1", domain.BundleCodebaseWrite, now)
	}
	require.True(t, tr.Graduated("agent-1", domain.BundleCodebaseWrite))

	tr.Reset("agent-1")
	assert.False(t, tr.Graduated("agent-1", domain.BundleCodebaseWrite))
	entry := tr.Get("agent-1", domain.BundleCodebaseWrite)
	assert.Equal(t, 0, entry.Streak)
	assert.Equal(t, 0, entry.Approvals)
}

func TestCodebaseReadGraduatesImmediately(t *testing.T) {
	tr := NewGraduationTracker()
	out := tr.RecordApproval("agent-1", domain.BundleCodebaseRead, time.Now())
	assert.True(t, out.JustGraduated)
}
