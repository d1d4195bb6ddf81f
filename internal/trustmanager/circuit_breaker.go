package trustmanager

import (
	"sync"
	"time"

	"github.com/arbor-run/trust-core/internal/domain"
)

// breakerState is the circuit breaker's per-agent state (spec §4.5.3):
// closed -> open -> half_open -> closed.
type breakerState string

const (
	stateClosed   breakerState = "closed"
	stateOpen     breakerState = "open"
	stateHalfOpen breakerState = "half_open"
)

// Thresholds configures the four trigger windows plus the freeze/half-open
// durations (spec §4.5.3, all "default thresholds, all configurable").
type Thresholds struct {
	ActionFailureCount    int
	ActionFailureWindow   time.Duration
	SecurityViolationCount int
	SecurityViolationWindow time.Duration
	RollbackCount         int
	RollbackWindow        time.Duration
	TestFailureCount      int
	TestFailureWindow     time.Duration
	FreezeDuration        time.Duration
	HalfOpenDuration      time.Duration
}

// DefaultThresholds matches spec §4.5.3's table exactly.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ActionFailureCount:      5,
		ActionFailureWindow:     60 * time.Second,
		SecurityViolationCount:  3,
		SecurityViolationWindow: time.Hour,
		RollbackCount:           3,
		RollbackWindow:          time.Hour,
		TestFailureCount:        5,
		TestFailureWindow:       300 * time.Second,
		FreezeDuration:          24 * time.Hour,
		HalfOpenDuration:        time.Hour,
	}
}

// Hooks are the state-transition side effects the circuit breaker invokes;
// implemented by Manager so freeze/unfreeze/demote also append events and
// broadcast signals.
type Hooks interface {
	Freeze(agentID, reason string, now time.Time) error
	Unfreeze(agentID string, now time.Time) error
	DemoteOneTier(agentID string, now time.Time) error
}

type agentWindow struct {
	state      breakerState
	openedAt   time.Time
	halfOpenAt time.Time

	actionFailures      []time.Time
	securityViolations  []time.Time
	rollbacks           []time.Time
	testFailures        []time.Time
}

// CircuitBreaker tracks per-agent sliding windows of negative events and
// drives the closed/open/half_open state machine (spec §4.5.3). All
// transitions are evaluated lazily on RecordEvent/Status calls and by the
// optional background sweeper, grounded on the ticker-based decay-scheduler
// pattern seen elsewhere in the corpus.
type CircuitBreaker struct {
	mu         sync.Mutex
	agents     map[string]*agentWindow
	thresholds Thresholds
	hooks      Hooks
}

// NewCircuitBreaker builds a breaker with the given thresholds and hooks.
func NewCircuitBreaker(thresholds Thresholds, hooks Hooks) *CircuitBreaker {
	return &CircuitBreaker{
		agents:     make(map[string]*agentWindow),
		thresholds: thresholds,
		hooks:      hooks,
	}
}

func (cb *CircuitBreaker) windowFor(agentID string) *agentWindow {
	w, ok := cb.agents[agentID]
	if !ok {
		w = &agentWindow{state: stateClosed}
		cb.agents[agentID] = w
	}
	return w
}

// Status returns the agent's current circuit state after reconciling any
// time-based transition (open -> half_open -> closed) against now.
func (cb *CircuitBreaker) Status(agentID string, now time.Time) string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	w := cb.windowFor(agentID)
	cb.reconcile(w, agentID, now)
	return string(w.state)
}

// reconcile advances time-based transitions: open -> half_open after
// FreezeDuration, half_open -> closed (auto_close) after HalfOpenDuration
// with no re-trip. Must be called with cb.mu held.
func (cb *CircuitBreaker) reconcile(w *agentWindow, agentID string, now time.Time) {
	switch w.state {
	case stateOpen:
		if now.Sub(w.openedAt) >= cb.thresholds.FreezeDuration {
			w.state = stateHalfOpen
			w.halfOpenAt = now
		}
	case stateHalfOpen:
		if now.Sub(w.halfOpenAt) >= cb.thresholds.HalfOpenDuration {
			w.state = stateClosed
			w.actionFailures = nil
			w.securityViolations = nil
			w.testFailures = nil
			if cb.hooks != nil {
				_ = cb.hooks.Unfreeze(agentID, now)
			}
		}
	}
}

// Reset forces the breaker back to closed and unfreezes, for the explicit
// admin-call reset path (spec §4.5.3).
func (cb *CircuitBreaker) Reset(agentID string, now time.Time) error {
	cb.mu.Lock()
	w := cb.windowFor(agentID)
	w.state = stateClosed
	w.actionFailures = nil
	w.securityViolations = nil
	w.rollbacks = nil
	w.testFailures = nil
	cb.mu.Unlock()

	if cb.hooks != nil {
		return cb.hooks.Unfreeze(agentID, now)
	}
	return nil
}

// RecordEvent feeds one circuit-breaker-relevant event into the agent's
// sliding windows and drives any resulting transition (spec §4.5.3).
// Callers should only invoke this for event types where
// EventType.IsCircuitBreakerRelevant() is true.
func (cb *CircuitBreaker) RecordEvent(agentID string, eventType domain.EventType, now time.Time) {
	cb.mu.Lock()
	w := cb.windowFor(agentID)
	cb.reconcile(w, agentID, now)

	if w.state == stateHalfOpen {
		// Any new negative event during half-open re-opens immediately
		// (spec §4.5.3: "any new negative event re-opens").
		w.state = stateOpen
		w.openedAt = now
		cb.mu.Unlock()
		if cb.hooks != nil {
			_ = cb.hooks.Freeze(agentID, "half_open_retrip:"+string(eventType), now)
		}
		return
	}

	var trip bool
	var reason string

	switch eventType {
	case domain.EventActionFailure:
		w.actionFailures = pruneWindow(append(w.actionFailures, now), now, cb.thresholds.ActionFailureWindow)
		if len(w.actionFailures) >= cb.thresholds.ActionFailureCount {
			trip, reason = true, "rapid_failures"
		}
	case domain.EventSecurityViolation:
		w.securityViolations = pruneWindow(append(w.securityViolations, now), now, cb.thresholds.SecurityViolationWindow)
		if len(w.securityViolations) >= cb.thresholds.SecurityViolationCount {
			trip, reason = true, "security_violation_threshold"
		}
	case domain.EventTestFailed:
		w.testFailures = pruneWindow(append(w.testFailures, now), now, cb.thresholds.TestFailureWindow)
		if len(w.testFailures) >= cb.thresholds.TestFailureCount {
			trip, reason = true, "test_failure_threshold"
		}
	case domain.EventRollbackExecuted:
		w.rollbacks = pruneWindow(append(w.rollbacks, now), now, cb.thresholds.RollbackWindow)
		if len(w.rollbacks) >= cb.thresholds.RollbackCount {
			// Demote one tier; do not freeze (spec §4.5.3). Reset the window
			// so it takes a fresh run of rollbacks to trigger again.
			w.rollbacks = nil
			cb.mu.Unlock()
			if cb.hooks != nil {
				_ = cb.hooks.DemoteOneTier(agentID, now)
			}
			return
		}
	}

	if trip {
		w.state = stateOpen
		w.openedAt = now
		w.actionFailures = nil
		w.securityViolations = nil
		w.testFailures = nil
	}
	cb.mu.Unlock()

	if trip && cb.hooks != nil {
		_ = cb.hooks.Freeze(agentID, reason, now)
	}
}

func pruneWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	out := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// Sweep reconciles every tracked agent against now, driving auto_close for
// any agent whose half-open duration has elapsed with no re-trip. Intended
// to be called periodically by a background ticker (see StartSweeper).
func (cb *CircuitBreaker) Sweep(now time.Time) {
	cb.mu.Lock()
	agentIDs := make([]string, 0, len(cb.agents))
	for id := range cb.agents {
		agentIDs = append(agentIDs, id)
	}
	cb.mu.Unlock()

	for _, id := range agentIDs {
		cb.mu.Lock()
		w := cb.windowFor(id)
		cb.reconcile(w, id, now)
		cb.mu.Unlock()
	}
}

// StartSweeper runs Sweep on a ticker until the returned stop func is
// called. Grounded on the ticker-driven decay-scheduler sweep() pattern.
func (cb *CircuitBreaker) StartSweeper(interval time.Duration) (stop func()) {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case t := <-ticker.C:
				cb.Sweep(t)
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}
