package profilestore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-run/trust-core/internal/domain"
	"github.com/arbor-run/trust-core/internal/scoring"
	"github.com/arbor-run/trust-core/internal/signalbus"
	"github.com/arbor-run/trust-core/internal/tier"
)

// memoryBackend is a minimal in-process domain.KVStore used to exercise the
// store's durable-backend path without any real infrastructure.
type memoryBackend struct {
	mu   sync.Mutex
	data map[string]map[string][]byte
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{data: make(map[string]map[string][]byte)}
}

func (m *memoryBackend) Put(_ context.Context, store, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[store] == nil {
		m.data[store] = make(map[string][]byte)
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[store][key] = cp
	return nil
}

func (m *memoryBackend) Get(_ context.Context, store, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[store][key]
	return v, ok, nil
}

func (m *memoryBackend) Delete(_ context.Context, store, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[store], key)
	return nil
}

func (m *memoryBackend) ListKeys(_ context.Context, store string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.data[store]))
	for k := range m.data[store] {
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *memoryBackend) Exists(_ context.Context, store, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[store][key]
	return ok, nil
}

func newTestStore(opts ...Option) *Store {
	calc := scoring.NewDefaultCalculator()
	resolver := tier.NewDefaultResolver()
	return New(calc, resolver, opts...)
}

func TestGetOrCreateThenGet(t *testing.T) {
	s := newTestStore()
	now := time.Now()

	p, err := s.GetOrCreate("agent-1", now)
	require.NoError(t, err)
	assert.Equal(t, domain.TierUntrusted, p.Tier)

	got, err := s.Get("agent-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", got.AgentID)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := newTestStore()
	_, err := s.Get("ghost")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecordActionSuccessRaisesScore(t *testing.T) {
	s := newTestStore()
	now := time.Now()
	_, err := s.GetOrCreate("agent-1", now)
	require.NoError(t, err)

	var p *domain.Profile
	for i := 0; i < 20; i++ {
		p, err = s.RecordActionSuccess("agent-1", now)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 20, p.TotalActions)
	assert.EqualValues(t, 20, p.SuccessfulActions)
	assert.Greater(t, p.TrustScore, 0)
}

func TestFreezeDoesNotTouchScore(t *testing.T) {
	s := newTestStore()
	now := time.Now()
	_, err := s.GetOrCreate("agent-1", now)
	require.NoError(t, err)
	before, err := s.Get("agent-1")
	require.NoError(t, err)

	p, err := s.Freeze("agent-1", "manual hold", now)
	require.NoError(t, err)
	assert.True(t, p.Frozen)
	assert.Equal(t, "manual hold", p.FrozenReason)
	assert.Equal(t, before.TrustScore, p.TrustScore)

	p, err = s.Unfreeze("agent-1", now)
	require.NoError(t, err)
	assert.False(t, p.Frozen)
	assert.Empty(t, p.FrozenReason)
}

func TestAwardTrustPointsLiftsTier(t *testing.T) {
	s := newTestStore()
	now := time.Now()
	_, err := s.GetOrCreate("agent-1", now)
	require.NoError(t, err)

	p, err := s.AwardTrustPoints("agent-1", 100, now)
	require.NoError(t, err)
	// 100 points floors at TierTrusted per DefaultPointsThresholds, even
	// though the score-only tier would still be Untrusted.
	assert.Equal(t, domain.TierTrusted, p.Tier)
}

func TestDeductTrustPointsFloorsAtZero(t *testing.T) {
	s := newTestStore()
	now := time.Now()
	_, err := s.GetOrCreate("agent-1", now)
	require.NoError(t, err)
	_, err = s.AwardTrustPoints("agent-1", 10, now)
	require.NoError(t, err)

	p, err := s.DeductTrustPoints("agent-1", 50, "penalty", now)
	require.NoError(t, err)
	assert.Equal(t, 0, p.TrustPoints)
}

func TestUpdateTierTransitionFiresHookAndSignal(t *testing.T) {
	bus := signalbus.New()
	ch, unsubscribe := bus.Subscribe(signalbus.TopicTrust)
	defer unsubscribe()

	var hookOld, hookNew domain.Tier
	var hookCalled bool
	s := newTestStore(
		WithSignalBus(bus),
		WithTierChangeFunc(func(agentID string, old, new domain.Tier) {
			hookCalled = true
			hookOld, hookNew = old, new
		}),
	)
	now := time.Now()
	_, err := s.GetOrCreate("agent-1", now)
	require.NoError(t, err)

	_, err = s.AwardTrustPoints("agent-1", 500, now)
	require.NoError(t, err)

	require.True(t, hookCalled)
	assert.Equal(t, domain.TierUntrusted, hookOld)
	assert.Equal(t, domain.TierAutonomous, hookNew)

	select {
	case sig := <-ch:
		assert.Equal(t, "tier_changed", sig.Type)
		assert.Equal(t, "agent-1", sig.Payload["agent_id"])
	case <-time.After(time.Second):
		t.Fatal("expected tier_changed signal")
	}
}

func TestUpdateNoTierChangeDoesNotFireHook(t *testing.T) {
	var hookCalled bool
	s := newTestStore(WithTierChangeFunc(func(string, domain.Tier, domain.Tier) { hookCalled = true }))
	now := time.Now()
	_, err := s.GetOrCreate("agent-1", now)
	require.NoError(t, err)

	_, err = s.RecordActionSuccess("agent-1", now)
	require.NoError(t, err)
	assert.False(t, hookCalled)
}

func TestDurableBackendRoundTrip(t *testing.T) {
	backend := newMemoryBackend()
	s := newTestStore(WithBackend(backend))
	now := time.Now()

	_, err := s.GetOrCreate("agent-1", now)
	require.NoError(t, err)

	// A fresh store sharing the same backend, with an empty cache, must be
	// able to read the profile back from the durable layer.
	s2 := newTestStore(WithBackend(backend))
	p, err := s2.Get("agent-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", p.AgentID)
}

func TestListFilterByTierAndLimit(t *testing.T) {
	s := newTestStore()
	now := time.Now()
	for _, id := range []string{"a", "b", "c"} {
		_, err := s.GetOrCreate(id, now)
		require.NoError(t, err)
	}
	_, err := s.AwardTrustPoints("b", 500, now)
	require.NoError(t, err)

	untrusted := domain.TierUntrusted
	out, err := s.List(domain.ProfileFilter{Tier: &untrusted})
	require.NoError(t, err)
	assert.Len(t, out, 2)

	all, err := s.List(domain.ProfileFilter{Limit: 1, OrderBy: "trust_score"})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "b", all[0].AgentID)
}

func TestConcurrentUpdatesSerializePerAgent(t *testing.T) {
	s := newTestStore()
	now := time.Now()
	_, err := s.GetOrCreate("agent-1", now)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.RecordActionSuccess("agent-1", now)
		}()
	}
	wg.Wait()

	p, err := s.Get("agent-1")
	require.NoError(t, err)
	assert.EqualValues(t, 50, p.TotalActions)
}
