package eventstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-run/trust-core/internal/domain"
	"github.com/arbor-run/trust-core/internal/tier"
)

type memoryLog struct {
	mu      sync.Mutex
	streams map[string][]*domain.DurableEvent
	seen    map[string]struct{}
}

func newMemoryLog() *memoryLog {
	return &memoryLog{streams: make(map[string][]*domain.DurableEvent), seen: make(map[string]struct{})}
}

func (m *memoryLog) Append(_ context.Context, streamID string, event *domain.DurableEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := streamID + ":" + event.ID
	if _, dup := m.seen[key]; dup {
		return domain.ErrAlreadyExists
	}
	m.seen[key] = struct{}{}
	m.streams[streamID] = append(m.streams[streamID], event)
	return nil
}

func (m *memoryLog) ReadStream(_ context.Context, streamID string) ([]*domain.DurableEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.DurableEvent{}, m.streams[streamID]...), nil
}

func (m *memoryLog) ReadAll(_ context.Context) ([]*domain.DurableEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.DurableEvent
	for _, s := range m.streams {
		out = append(out, s...)
	}
	return out, nil
}

func (m *memoryLog) Version(_ context.Context, streamID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.streams[streamID])), nil
}

func mkEvent(agentID string, typ domain.EventType, ts time.Time) *domain.Event {
	return &domain.Event{AgentID: agentID, Type: typ, Timestamp: ts}
}

func TestAppendAndGetEvent(t *testing.T) {
	s := New()
	e := mkEvent("a1", domain.EventActionSuccess, time.Now())
	require.NoError(t, s.Append(e))
	require.NotEmpty(t, e.ID)

	got, err := s.GetEvent(e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.AgentID, got.AgentID)
}

func TestAppendDuplicateIDRejected(t *testing.T) {
	s := New()
	e := &domain.Event{ID: "fixed-id", AgentID: "a1", Type: domain.EventActionSuccess, Timestamp: time.Now()}
	require.NoError(t, s.Append(e))
	err := s.Append(&domain.Event{ID: "fixed-id", AgentID: "a1", Type: domain.EventActionSuccess, Timestamp: time.Now()})
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestAppendManyIsAtomicOnDuplicate(t *testing.T) {
	s := New()
	base := time.Now()
	e1 := &domain.Event{ID: "dup", AgentID: "a1", Type: domain.EventActionSuccess, Timestamp: base}
	require.NoError(t, s.Append(e1))

	e2 := &domain.Event{AgentID: "a1", Type: domain.EventActionSuccess, Timestamp: base.Add(time.Second)}
	e3 := &domain.Event{ID: "dup", AgentID: "a1", Type: domain.EventActionSuccess, Timestamp: base.Add(2 * time.Second)}
	err := s.AppendMany([]*domain.Event{e2, e3})
	require.Error(t, err)

	// e2 must not have been inserted either, since the batch is atomic.
	events, _, err := s.GetEvents(domain.EventFilter{AgentID: "a1"})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestGetEventsOrderingAndCursorPagination(t *testing.T) {
	s := New()
	base := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(mkEvent("a1", domain.EventActionSuccess, base.Add(time.Duration(i)*time.Second))))
	}

	page1, cursor1, err := s.GetEvents(domain.EventFilter{AgentID: "a1", Limit: 2, Order: "asc"})
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.True(t, page1[0].Timestamp.Before(page1[1].Timestamp))
	require.NotEmpty(t, cursor1)

	page2, _, err := s.GetEvents(domain.EventFilter{AgentID: "a1", Limit: 2, Order: "asc", Cursor: cursor1})
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.True(t, page1[1].Timestamp.Before(page2[0].Timestamp))
}

func TestGetEventsDefaultOrderDesc(t *testing.T) {
	s := New()
	base := time.Now()
	require.NoError(t, s.Append(mkEvent("a1", domain.EventActionSuccess, base)))
	require.NoError(t, s.Append(mkEvent("a1", domain.EventActionSuccess, base.Add(time.Second))))

	events, _, err := s.GetEvents(domain.EventFilter{AgentID: "a1"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, events[0].Timestamp.After(events[1].Timestamp))
}

func TestAgentTimelineGaps(t *testing.T) {
	s := New()
	base := time.Now()
	require.NoError(t, s.Append(mkEvent("a1", domain.EventActionSuccess, base)))
	require.NoError(t, s.Append(mkEvent("a1", domain.EventActionSuccess, base.Add(5*time.Second))))

	tl := s.AgentTimeline("a1")
	require.Len(t, tl, 2)
	assert.EqualValues(t, 5000, tl[0].TimeToNextMS)
	assert.EqualValues(t, 0, tl[1].TimeToNextMS)
}

func TestTrustProgression(t *testing.T) {
	s := New()
	base := time.Now()
	up, down := 10, -4
	require.NoError(t, s.Append(&domain.Event{AgentID: "a1", Type: domain.EventTrustPointsAwarded, Timestamp: base, Delta: &up}))
	require.NoError(t, s.Append(&domain.Event{AgentID: "a1", Type: domain.EventTrustPointsDeducted, Timestamp: base.Add(time.Second), Delta: &down}))

	prog := s.TrustProgression("a1")
	assert.Equal(t, 2, prog.DeltaCount)
	assert.Equal(t, -4, prog.MinDelta)
	assert.Equal(t, 10, prog.MaxDelta)
	assert.Equal(t, 10, prog.PositiveTotal)
	assert.Equal(t, 4, prog.NegativeTotal)
}

func TestTierHistoryLabelsPromotionAndDemotion(t *testing.T) {
	s := New()
	r := tier.NewDefaultResolver()
	base := time.Now()

	untrusted, trusted := domain.TierUntrusted, domain.TierTrusted
	require.NoError(t, s.Append(&domain.Event{
		AgentID: "a1", Type: domain.EventTierChanged, Timestamp: base,
		PreviousTier: &untrusted, NewTier: &trusted,
	}))
	require.NoError(t, s.Append(&domain.Event{
		AgentID: "a1", Type: domain.EventTierChanged, Timestamp: base.Add(time.Second),
		PreviousTier: &trusted, NewTier: &untrusted,
	}))

	hist := s.TierHistory("a1", r)
	require.Len(t, hist, 2)
	assert.True(t, hist[0].Promotion)
	assert.False(t, hist[1].Promotion)
}

func TestAgentStatsRates(t *testing.T) {
	s := New()
	base := time.Now()
	require.NoError(t, s.Append(mkEvent("a1", domain.EventActionSuccess, base)))
	require.NoError(t, s.Append(mkEvent("a1", domain.EventActionSuccess, base.Add(time.Second))))
	require.NoError(t, s.Append(mkEvent("a1", domain.EventActionFailure, base.Add(2*time.Second))))
	require.NoError(t, s.Append(mkEvent("a1", domain.EventTestPassed, base.Add(3*time.Second))))

	stats := s.AgentStats("a1")
	assert.InDelta(t, 2.0/3.0, stats.ActionSuccessRate, 0.0001)
	assert.Equal(t, 1.0, stats.TestPassRate)
}

func TestSystemStats(t *testing.T) {
	s := New()
	base := time.Now()
	require.NoError(t, s.Append(mkEvent("a1", domain.EventActionSuccess, base)))
	require.NoError(t, s.Append(mkEvent("a2", domain.EventActionSuccess, base)))

	stats := s.SystemStats()
	assert.Equal(t, 2, stats.TotalEvents)
	assert.Equal(t, 2, stats.AgentCount)
}

func TestRecentNegativeEventsFiltersAndCaps(t *testing.T) {
	s := New()
	base := time.Now()
	require.NoError(t, s.Append(mkEvent("a1", domain.EventActionSuccess, base)))
	require.NoError(t, s.Append(mkEvent("a1", domain.EventSecurityViolation, base.Add(time.Second))))
	require.NoError(t, s.Append(mkEvent("a2", domain.EventRollbackExecuted, base.Add(2*time.Second))))

	out := s.RecentNegativeEvents(base.Add(-time.Minute), 1)
	require.Len(t, out, 1)
	assert.True(t, out[0].Type.IsCircuitBreakerRelevant())
}

func TestDurableMirror(t *testing.T) {
	log := newMemoryLog()
	s := New(WithDurableLog(log))
	require.NoError(t, s.Append(mkEvent("a1", domain.EventActionSuccess, time.Now())))

	stream, err := log.ReadStream(context.Background(), domain.StreamID("a1"))
	require.NoError(t, err)
	require.Len(t, stream, 1)
	assert.Equal(t, domain.DurableEventType(domain.EventActionSuccess), stream[0].Type)
}

func TestPruneEvictsOldestTenPercentOnOverflow(t *testing.T) {
	s := New()
	base := time.Now()
	for i := 0; i < maxIndexSize+100; i++ {
		require.NoError(t, s.Append(mkEvent("a1", domain.EventActionSuccess, base.Add(time.Duration(i)*time.Millisecond))))
	}
	s.mu.RLock()
	size := len(s.events)
	s.mu.RUnlock()
	assert.LessOrEqual(t, size, maxIndexSize+100)
	assert.Less(t, size, maxIndexSize+100, "pruning should have evicted some events")
}
