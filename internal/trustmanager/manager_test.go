package trustmanager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-run/trust-core/internal/domain"
	"github.com/arbor-run/trust-core/internal/eventstore"
	"github.com/arbor-run/trust-core/internal/profilestore"
	"github.com/arbor-run/trust-core/internal/scoring"
	"github.com/arbor-run/trust-core/internal/signalbus"
	"github.com/arbor-run/trust-core/internal/tier"
)

type recordingSyncer struct {
	calls []string
}

func (r *recordingSyncer) SyncCapabilities(agentID string, old, new domain.Tier) error {
	r.calls = append(r.calls, agentID+":"+string(old)+"->"+string(new))
	return nil
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *profilestore.Store, *eventstore.Store) {
	t.Helper()
	resolver := tier.NewDefaultResolver()
	calc := scoring.NewDefaultCalculator()
	profiles := profilestore.New(calc, resolver)
	events := eventstore.New()
	m := New(profiles, events, resolver, DefaultThresholds(), opts...)
	return m, profiles, events
}

func TestProcessEventAppendsEventAndBroadcasts(t *testing.T) {
	bus := signalbus.New()
	ch, unsub := bus.Subscribe(signalbus.TopicTrust)
	defer unsub()

	m, _, events := newTestManager(t, WithSignalBus(bus))
	now := time.Now()

	p, err := m.ProcessEvent("agent-1", domain.EventActionSuccess, "", now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.TotalActions)

	all, _, err := events.GetEvents(domain.EventFilter{AgentID: "agent-1"})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, domain.EventActionSuccess, all[0].Type)

	select {
	case sig := <-ch:
		assert.Equal(t, "action_success", sig.Type)
	case <-time.After(time.Second):
		t.Fatal("expected broadcast signal")
	}
}

func TestProcessEventRejectsNonMutationType(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.ProcessEvent("agent-1", domain.EventTierChanged, "", time.Now())
	require.Error(t, err)
}

// TestProcessEventMovesPointsFromConfiguredTable is spec §8 scenario S2:
// five proposal_approved events (+5 each) lift trust_points to 25, which
// crosses the probationary points floor and promotes the profile's tier.
func TestProcessEventMovesPointsFromConfiguredTable(t *testing.T) {
	m, profiles, _ := newTestManager(t)
	now := time.Now()
	_, err := profiles.GetOrCreate("agent-b", now)
	require.NoError(t, err)

	var p *domain.Profile
	for i := 0; i < 5; i++ {
		p, err = m.ProcessEvent("agent-b", domain.EventProposalApproved, "council approval", now)
		require.NoError(t, err)
	}

	assert.EqualValues(t, 25, p.TrustPoints)
	assert.Equal(t, domain.TierProbationary, p.Tier)
}

// TestProcessEventRoutesTestResultsAndTripsBreaker covers the two
// previously-dead paths the test taxonomy exercises: RecordTestResult's
// pass/fail counters, and the ≥5 test_failed in 300s circuit-breaker trigger.
func TestProcessEventRoutesTestResultsAndTripsBreaker(t *testing.T) {
	m, profiles, _ := newTestManager(t)
	now := time.Now()
	_, err := profiles.GetOrCreate("agent-c", now)
	require.NoError(t, err)

	p, err := m.ProcessEvent("agent-c", domain.EventTestPassed, "", now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.TotalTests)
	assert.EqualValues(t, 1, p.TestsPassed)

	for i := 0; i < 5; i++ {
		p, err = m.ProcessEvent("agent-c", domain.EventTestFailed, "", now.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}
	assert.True(t, p.Frozen)
}

func TestProcessEventRoutesProposalRejected(t *testing.T) {
	m, profiles, _ := newTestManager(t)
	now := time.Now()
	_, err := profiles.GetOrCreate("agent-d", now)
	require.NoError(t, err)

	before, err := m.AwardPoints("agent-d", 10, "seed", now)
	require.NoError(t, err)

	p, err := m.ProcessEvent("agent-d", domain.EventProposalRejected, "council rejection", now)
	require.NoError(t, err)
	assert.Equal(t, before.TrustPoints-3, p.TrustPoints)
}

func TestTierChangeInvokesCapabilitySyncer(t *testing.T) {
	syncer := &recordingSyncer{}
	m, profiles, _ := newTestManager(t, WithCapabilitySyncer(syncer))
	now := time.Now()

	_, err := profiles.GetOrCreate("agent-1", now)
	require.NoError(t, err)
	_, err = m.AwardPoints("agent-1", 500, "promotion", now)
	require.NoError(t, err)

	require.Len(t, syncer.calls, 1)
	assert.Equal(t, "agent-1:untrusted->autonomous", syncer.calls[0])
}

func TestAwardAndDeductPointsEmitEvents(t *testing.T) {
	m, _, events := newTestManager(t)
	now := time.Now()

	_, err := m.AwardPoints("agent-1", 30, "bonus", now)
	require.NoError(t, err)
	_, err = m.DeductPoints("agent-1", 10, "penalty", now)
	require.NoError(t, err)

	all, _, err := events.GetEvents(domain.EventFilter{AgentID: "agent-1", Order: "asc"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, domain.EventTrustPointsAwarded, all[0].Type)
	assert.Equal(t, domain.EventTrustPointsDeducted, all[1].Type)
}

func TestCircuitBreakerOpensOnActionFailureBurst(t *testing.T) {
	m, profiles, events := newTestManager(t)
	now := time.Now()
	_, err := profiles.GetOrCreate("agent-1", now)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := m.ProcessEvent("agent-1", domain.EventActionFailure, "", now.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	p, err := profiles.Get("agent-1")
	require.NoError(t, err)
	assert.True(t, p.Frozen)
	assert.Equal(t, "rapid_failures", p.FrozenReason)

	all, _, err := events.GetEvents(domain.EventFilter{AgentID: "agent-1", Type: domain.EventTrustFrozen})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCircuitBreakerDemotesOnRollbackBurstWithoutFreezing(t *testing.T) {
	m, profiles, _ := newTestManager(t)
	now := time.Now()
	_, err := profiles.GetOrCreate("agent-1", now)
	require.NoError(t, err)
	_, err = m.AwardPoints("agent-1", 500, "setup", now)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := m.ProcessEvent("agent-1", domain.EventRollbackExecuted, "", now.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	p, err := profiles.Get("agent-1")
	require.NoError(t, err)
	assert.False(t, p.Frozen)
	// Each rollback also deducts 3 points, so the first one already drops the
	// points floor (497) to veteran; the breaker's demotion then steps to trusted.
	assert.Equal(t, domain.TierTrusted, p.Tier)
}

func TestBreakerResetClearsFreeze(t *testing.T) {
	m, profiles, _ := newTestManager(t)
	now := time.Now()
	_, err := profiles.GetOrCreate("agent-1", now)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := m.ProcessEvent("agent-1", domain.EventActionFailure, "", now.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}
	p, err := profiles.Get("agent-1")
	require.NoError(t, err)
	require.True(t, p.Frozen)

	require.NoError(t, m.Breaker().Reset("agent-1", now))
	p, err = profiles.Get("agent-1")
	require.NoError(t, err)
	assert.False(t, p.Frozen)
}

func TestDecayAppliesAfterGracePeriod(t *testing.T) {
	m, profiles, events := newTestManager(t)
	created := time.Now().Add(-40 * 24 * time.Hour)
	now := created.Add(40 * 24 * time.Hour)

	_, err := profiles.GetOrCreate("agent-1", created)
	require.NoError(t, err)
	_, err = m.AwardPoints("agent-1", 500, "setup", created)
	require.NoError(t, err)

	before, err := profiles.Get("agent-1")
	require.NoError(t, err)

	scheduler := NewDecayScheduler(m, DefaultDecayConfig())
	n, err := scheduler.RunOnce(now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	after, err := profiles.Get("agent-1")
	require.NoError(t, err)
	assert.Less(t, after.TrustScore, before.TrustScore)

	decayEvents, _, err := events.GetEvents(domain.EventFilter{AgentID: "agent-1", Type: domain.EventTrustDecayed})
	require.NoError(t, err)
	require.Len(t, decayEvents, 1)
	require.NotNil(t, decayEvents[0].Delta)
	assert.Less(t, *decayEvents[0].Delta, 0)
}

func TestDecayNoOpWithinGracePeriod(t *testing.T) {
	m, profiles, _ := newTestManager(t)
	now := time.Now()
	_, err := profiles.GetOrCreate("agent-1", now)
	require.NoError(t, err)

	scheduler := NewDecayScheduler(m, DefaultDecayConfig())
	n, err := scheduler.RunOnce(now)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
