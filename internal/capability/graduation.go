package capability

import (
	"sync"
	"time"

	"github.com/arbor-run/trust-core/internal/domain"
)

// DefaultThresholds is the per-bundle approval-streak requirement for
// confirm-then-automate graduation (spec §4.6.4). Shell and governance never
// graduate.
func DefaultThresholds() map[domain.Bundle]domain.GraduationThreshold {
	return map[domain.Bundle]domain.GraduationThreshold{
		domain.BundleCodebaseRead:  {Streak: 0},
		domain.BundleAIGenerate:    {Streak: 3},
		domain.BundleCodebaseWrite: {Streak: 3},
		domain.BundleNetwork:       {Streak: 5},
		domain.BundleSystemConfig:  {Streak: 10},
		domain.BundleShell:         {NeverGraduates: true},
		domain.BundleGovernance:    {NeverGraduates: true},
	}
}

// GraduationOutcome reports what happened to a (agent, bundle) pair as the
// result of recording an approval or rejection.
type GraduationOutcome struct {
	Entry        *domain.ConfirmationEntry
	JustGraduated bool
	JustReverted  bool
}

// GraduationTracker owns the per-(agent_id, bundle) confirmation state
// (spec §4.6.4). Reads take a shared read lock and return copies; writes are
// serialized by a single mutex, matching the teacher's in-memory-map-plus-
// mutex idiom used elsewhere in this module (profilestore, eventstore).
type GraduationTracker struct {
	mu         sync.RWMutex
	entries    map[string]*domain.ConfirmationEntry // key: agentID + "\x00" + bundle
	thresholds map[domain.Bundle]domain.GraduationThreshold
	repo       domain.ConfirmationRepository
}

// Option configures a GraduationTracker at construction.
type Option func(*GraduationTracker)

// WithConfirmationRepository attaches a durable mirror for confirmation
// state. Best-effort: failures to persist are swallowed, matching the
// in-memory-is-authoritative pattern used by the rest of this module.
func WithConfirmationRepository(repo domain.ConfirmationRepository) Option {
	return func(t *GraduationTracker) { t.repo = repo }
}

// WithThresholds overrides the default per-bundle graduation thresholds.
func WithThresholds(thresholds map[domain.Bundle]domain.GraduationThreshold) Option {
	return func(t *GraduationTracker) { t.thresholds = thresholds }
}

// NewGraduationTracker builds a tracker with the default thresholds unless
// overridden via WithThresholds.
func NewGraduationTracker(opts ...Option) *GraduationTracker {
	t := &GraduationTracker{
		entries:    make(map[string]*domain.ConfirmationEntry),
		thresholds: DefaultThresholds(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func key(agentID string, bundle domain.Bundle) string {
	return agentID + "\x00" + string(bundle)
}

func (t *GraduationTracker) entryLocked(agentID string, bundle domain.Bundle) *domain.ConfirmationEntry {
	k := key(agentID, bundle)
	e, ok := t.entries[k]
	if !ok {
		e = &domain.ConfirmationEntry{AgentID: agentID, Bundle: bundle}
		t.entries[k] = e
	}
	return e
}

// Get returns a copy of the (agent, bundle) entry, or a zero-value entry if
// none exists yet.
func (t *GraduationTracker) Get(agentID string, bundle domain.Bundle) domain.ConfirmationEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.entries[key(agentID, bundle)]; ok {
		return *e
	}
	return domain.ConfirmationEntry{AgentID: agentID, Bundle: bundle}
}

// Graduated reports whether the bundle is presently auto-approved for the
// agent: graduated, not locked (spec §4.6.4).
func (t *GraduationTracker) Graduated(agentID string, bundle domain.Bundle) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[key(agentID, bundle)]
	return ok && e.Graduated && !e.Locked
}

// RecordApproval increments approvals and streak; graduates the bundle once
// the streak meets its threshold, unless locked or the bundle never
// graduates (spec §4.6.4).
func (t *GraduationTracker) RecordApproval(agentID string, bundle domain.Bundle, now time.Time) GraduationOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entryLocked(agentID, bundle)
	e.Approvals++
	e.Streak++
	e.LastConfirmation = &now

	threshold, known := t.thresholds[bundle]
	justGraduated := false
	if known && !threshold.NeverGraduates && !e.Locked && !e.Graduated && e.Streak >= threshold.Streak {
		e.Graduated = true
		e.GraduatedAt = &now
		justGraduated = true
	}

	t.persist(e)
	return GraduationOutcome{Entry: cloneEntry(e), JustGraduated: justGraduated}
}

// RecordRejection increments rejections, resets the streak, and clears
// graduation (spec §4.6.4).
func (t *GraduationTracker) RecordRejection(agentID string, bundle domain.Bundle, now time.Time) GraduationOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entryLocked(agentID, bundle)
	e.Rejections++
	e.LastConfirmation = &now
	wasGraduated := e.Graduated
	e.Streak = 0
	e.Graduated = false
	e.GraduatedAt = nil

	t.persist(e)
	return GraduationOutcome{Entry: cloneEntry(e), JustReverted: wasGraduated}
}

// RevertToGated clears graduation and streak without recording a rejection
// count (spec §4.6.4).
func (t *GraduationTracker) RevertToGated(agentID string, bundle domain.Bundle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entryLocked(agentID, bundle)
	e.Graduated = false
	e.GraduatedAt = nil
	e.Streak = 0
	t.persist(e)
}

// LockGated pins the bundle to gated permanently until Unlock is called
// (spec §4.6.4).
func (t *GraduationTracker) LockGated(agentID string, bundle domain.Bundle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entryLocked(agentID, bundle)
	e.Locked = true
	e.Graduated = false
	e.GraduatedAt = nil
	t.persist(e)
}

// Unlock clears a prior LockGated.
func (t *GraduationTracker) Unlock(agentID string, bundle domain.Bundle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entryLocked(agentID, bundle)
	e.Locked = false
	t.persist(e)
}

// Reset deletes all per-bundle state for an agent (spec §4.6.4: used on tier
// demotion).
func (t *GraduationTracker) Reset(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for bundle := range t.thresholds {
		delete(t.entries, key(agentID, bundle))
	}
	if t.repo != nil {
		_ = t.repo.DeleteByAgent(agentID)
	}
}

func (t *GraduationTracker) persist(e *domain.ConfirmationEntry) {
	if t.repo == nil {
		return
	}
	_ = t.repo.Put(cloneEntry(e))
}

func cloneEntry(e *domain.ConfirmationEntry) *domain.ConfirmationEntry {
	cp := *e
	return &cp
}
