// Package eventstore implements C4 (spec §4.4): an append-only event log
// with a bounded in-memory index, cursor-paginated reads, and higher-level
// timeline/stats views, durably mirrored to a pluggable domain.EventLog
// collaborator. Grounded on the teacher's append-oriented repository pattern
// (internal/infrastructure/repository), generalized from a single SQL table
// to a capped in-memory index plus write-through durable mirror.
package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arbor-run/trust-core/internal/domain"
)

// maxIndexSize caps the in-memory index at ~20,000 events (spec §4.4);
// pruneFraction is the share evicted, oldest-first, on overflow.
const (
	maxIndexSize  = 20000
	pruneFraction = 0.10
)

// Store is the append-only event log: an in-memory index bounded by
// maxIndexSize, backed by an optional durable domain.EventLog mirror.
type Store struct {
	mu     sync.RWMutex
	events []*domain.Event // ordered by (TimestampMS, ID) ascending
	byID   map[string]*domain.Event

	durable domain.EventLog // optional
	logger  *log.Logger
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithDurableLog attaches the persistence collaborator events mirror to.
func WithDurableLog(d domain.EventLog) Option {
	return func(s *Store) { s.durable = d }
}

// WithLogger overrides the default stderr logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New builds an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		byID:   make(map[string]*domain.Event),
		logger: log.New(log.Writer(), "[EVENT-STORE] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append adds a single event; duplicate IDs are rejected (spec §4.4:
// "Duplicate event_ids are rejected").
func (s *Store) Append(event *domain.Event) error {
	return s.AppendMany([]*domain.Event{event})
}

// AppendMany adds events atomically with respect to this call: either all
// are appended or none are (spec §4.4: "atomic per call").
func (s *Store) AppendMany(events []*domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if _, dup := s.byID[e.ID]; dup {
			return fmt.Errorf("%w: duplicate event id %s", domain.ErrAlreadyExists, e.ID)
		}
	}

	for _, e := range events {
		s.insertLocked(e)
		s.mirror(e)
	}
	s.pruneLocked()
	return nil
}

func (s *Store) insertLocked(e *domain.Event) {
	s.byID[e.ID] = e
	target := cursorOf(e)
	i := sort.Search(len(s.events), func(i int) bool {
		return !cursorLess(cursorOf(s.events[i]), target)
	})
	s.events = append(s.events, nil)
	copy(s.events[i+1:], s.events[i:])
	s.events[i] = e
}

// pruneLocked evicts the oldest pruneFraction of events once the index
// exceeds maxIndexSize (spec §4.4: "oldest 10% pruned on overflow"). The byID
// index is pruned with it; Get falls back to not_found for evicted events,
// matching the durable mirror being the system of record beyond the window.
func (s *Store) pruneLocked() {
	if len(s.events) <= maxIndexSize {
		return
	}
	evict := int(float64(len(s.events)) * pruneFraction)
	if evict < 1 {
		evict = 1
	}
	for _, e := range s.events[:evict] {
		delete(s.byID, e.ID)
	}
	s.events = append([]*domain.Event{}, s.events[evict:]...)
}

func (s *Store) mirror(e *domain.Event) {
	if s.durable == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		s.logger.Printf("mirror: encode event %s failed: %v", e.ID, err)
		return
	}
	de := &domain.DurableEvent{
		ID:          e.ID,
		StreamID:    domain.StreamID(e.AgentID),
		Type:        domain.DurableEventType(e.Type),
		TimestampMS: e.TimestampMS(),
		Data:        data,
	}
	if err := s.durable.Append(context.Background(), de.StreamID, de); err != nil {
		s.logger.Printf("mirror: durable append for agent %s failed (in-memory state still advanced): %v", e.AgentID, err)
	}
}

// cursorOf renders an event's pagination key, "timestamp_ms:event_id".
func cursorOf(e *domain.Event) string {
	return fmt.Sprintf("%020d:%s", e.TimestampMS(), e.ID)
}

// cursorLess compares two rendered cursors; since the timestamp portion is
// zero-padded to a fixed width, lexicographic and numeric order agree.
func cursorLess(a, b string) bool {
	return a < b
}

// GetEvent looks an event up by id.
func (s *Store) GetEvent(id string) (*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return e, nil
}

// GetEvents returns events matching filter, cursor-paginated (spec §4.4).
// The cursor format is "timestamp_ms:event_id"; ties are broken by event_id,
// giving stable pagination under concurrent appends.
func (s *Store) GetEvents(filter domain.EventFilter) ([]*domain.Event, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	desc := filter.Order != "asc"
	matches := make([]*domain.Event, 0, len(s.events))
	for _, e := range s.events {
		if !matchesFilter(e, filter) {
			continue
		}
		matches = append(matches, e)
	}
	// s.events is stored ascending; reverse for the default desc order.
	if desc {
		reverse(matches)
	}

	if filter.Cursor != "" {
		matches = seekPastCursor(matches, filter.Cursor, desc)
	}

	limit := filter.Limit
	if limit <= 0 || limit > len(matches) {
		limit = len(matches)
	}
	page := matches[:limit]

	nextCursor := ""
	if limit < len(matches) {
		nextCursor = cursorOf(page[len(page)-1])
	}
	return page, nextCursor, nil
}

func matchesFilter(e *domain.Event, filter domain.EventFilter) bool {
	if filter.AgentID != "" && e.AgentID != filter.AgentID {
		return false
	}
	if filter.Type != "" && e.Type != filter.Type {
		return false
	}
	if filter.StartTime != nil && e.Timestamp.Before(*filter.StartTime) {
		return false
	}
	if filter.EndTime != nil && e.Timestamp.After(*filter.EndTime) {
		return false
	}
	return true
}

func seekPastCursor(events []*domain.Event, cursor string, desc bool) []*domain.Event {
	parts := strings.SplitN(cursor, ":", 2)
	if len(parts) != 2 {
		return events
	}
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return events
	}
	wantCursor := fmt.Sprintf("%020d:%s", ts, parts[1])
	for i, e := range events {
		c := cursorOf(e)
		if desc {
			if c < wantCursor {
				return events[i:]
			}
		} else {
			if c > wantCursor {
				return events[i:]
			}
		}
	}
	return nil
}

func reverse(events []*domain.Event) {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
}

// TimelineEntry is one agent_timeline row (spec §4.4): an event plus the gap
// until the next chronological event.
type TimelineEntry struct {
	Event       *domain.Event
	TimeToNextMS int64
}

// AgentTimeline returns every event for an agent in ascending order with the
// gap to the following event (spec §4.4).
func (s *Store) AgentTimeline(agentID string) []TimelineEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ordered []*domain.Event
	for _, e := range s.events {
		if e.AgentID == agentID {
			ordered = append(ordered, e)
		}
	}

	out := make([]TimelineEntry, len(ordered))
	for i, e := range ordered {
		gap := int64(0)
		if i+1 < len(ordered) {
			gap = ordered[i+1].TimestampMS() - e.TimestampMS()
		}
		out[i] = TimelineEntry{Event: e, TimeToNextMS: gap}
	}
	return out
}

// TrustProgression summarizes score deltas for an agent (spec §4.4).
type TrustProgression struct {
	DeltaCount    int
	MinDelta      int
	MaxDelta      int
	PositiveTotal int
	NegativeTotal int
}

// TrustProgression computes score-delta statistics from an agent's events
// that carry a Delta.
func (s *Store) TrustProgression(agentID string) TrustProgression {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var prog TrustProgression
	first := true
	for _, e := range s.events {
		if e.AgentID != agentID || e.Delta == nil {
			continue
		}
		d := *e.Delta
		prog.DeltaCount++
		if first {
			prog.MinDelta, prog.MaxDelta = d, d
			first = false
		} else {
			if d < prog.MinDelta {
				prog.MinDelta = d
			}
			if d > prog.MaxDelta {
				prog.MaxDelta = d
			}
		}
		if d >= 0 {
			prog.PositiveTotal += d
		} else {
			prog.NegativeTotal += -d
		}
	}
	return prog
}

// TierHistoryEntry is one tier_changed event labeled promotion or demotion.
type TierHistoryEntry struct {
	Event     *domain.Event
	Promotion bool
}

// TierHistory returns only tier_changed events for an agent, each labeled
// promotion or demotion (spec §4.4).
func (s *Store) TierHistory(agentID string, resolver tierIndexer) []TierHistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []TierHistoryEntry
	for _, e := range s.events {
		if e.AgentID != agentID || e.Type != domain.EventTierChanged {
			continue
		}
		promotion := true
		if e.PreviousTier != nil && e.NewTier != nil {
			promotion = resolver.Index(*e.NewTier) >= resolver.Index(*e.PreviousTier)
		}
		out = append(out, TierHistoryEntry{Event: e, Promotion: promotion})
	}
	return out
}

// tierIndexer is the subset of *tier.Resolver TierHistory needs.
type tierIndexer interface {
	Index(t domain.Tier) int
}

// AgentStats is the agent_stats view (spec §4.4): per-type counts plus
// action/test pass rates.
type AgentStats struct {
	CountByType      map[domain.EventType]int
	ActionSuccessRate float64
	TestPassRate      float64
}

// AgentStats computes per-agent event statistics.
func (s *Store) AgentStats(agentID string) AgentStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := AgentStats{CountByType: make(map[domain.EventType]int)}
	var actionTotal, actionSuccess, testTotal, testPassed int
	for _, e := range s.events {
		if e.AgentID != agentID {
			continue
		}
		stats.CountByType[e.Type]++
		switch e.Type {
		case domain.EventActionSuccess:
			actionTotal++
			actionSuccess++
		case domain.EventActionFailure:
			actionTotal++
		case domain.EventTestPassed:
			testTotal++
			testPassed++
		case domain.EventTestFailed:
			testTotal++
		}
	}
	if actionTotal > 0 {
		stats.ActionSuccessRate = float64(actionSuccess) / float64(actionTotal)
	}
	if testTotal > 0 {
		stats.TestPassRate = float64(testPassed) / float64(testTotal)
	}
	return stats
}

// SystemStats is the system_stats view (spec §4.4): global per-type counts.
type SystemStats struct {
	TotalEvents int
	CountByType map[domain.EventType]int
	AgentCount  int
}

// SystemStats computes system-wide event statistics.
func (s *Store) SystemStats() SystemStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := SystemStats{CountByType: make(map[domain.EventType]int)}
	agents := make(map[string]struct{})
	for _, e := range s.events {
		stats.TotalEvents++
		stats.CountByType[e.Type]++
		agents[e.AgentID] = struct{}{}
	}
	stats.AgentCount = len(agents)
	return stats
}

// RecentNegativeEvents returns circuit-breaker-relevant events across every
// agent since the given time, most recent first, capped at limit
// (spec §4.4).
func (s *Store) RecentNegativeEvents(since time.Time, limit int) []*domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Event
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if e.Timestamp.Before(since) {
			continue
		}
		if !e.Type.IsCircuitBreakerRelevant() {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
