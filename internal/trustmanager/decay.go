package trustmanager

import (
	"log"
	"time"

	"github.com/arbor-run/trust-core/internal/domain"
)

// DecayConfig holds the daily decay parameters (spec §4.5.4), grounded on the
// other_examples ticker-based decay scheduler's DecayConfig shape
// (Interval/InactivityThreshold/DecayRate/FloorScore) but renamed to this
// spec's terms and values.
type DecayConfig struct {
	GracePeriodDays int
	DecayRate       int // points subtracted per day beyond the grace period
	FloorScore      int
	RunTime         time.Duration // time-of-day UTC offset decay runs at, e.g. 3h for 03:00 UTC
}

// DefaultDecayConfig matches spec §4.5.4's defaults.
func DefaultDecayConfig() DecayConfig {
	return DecayConfig{GracePeriodDays: 7, DecayRate: 1, FloorScore: 10, RunTime: 3 * time.Hour}
}

// daysInactive returns how many whole-ish days have elapsed since the later
// of last activity or creation.
func daysInactive(p *domain.Profile, now time.Time) float64 {
	last := p.LastActivityAt
	if p.CreatedAt.After(last) {
		last = p.CreatedAt
	}
	return now.Sub(last).Hours() / 24
}

// decayDelta computes the score adjustment for one profile under cfg at now,
// per spec §4.5.4: "subtract decay_rate point per day beyond grace from
// trust_score, floored at floor_score". It is <= 0, except for an inactive
// profile whose score is already below FloorScore: then it is the positive
// step that lifts the score to the floor.
func decayDelta(p *domain.Profile, cfg DecayConfig, now time.Time) int {
	di := daysInactive(p, now)
	if di <= float64(cfg.GracePeriodDays) {
		return 0
	}
	daysBeyond := int(di) - cfg.GracePeriodDays
	if daysBeyond <= 0 {
		return 0
	}
	drop := daysBeyond * cfg.DecayRate
	newScore := p.TrustScore - drop
	if newScore < cfg.FloorScore {
		newScore = cfg.FloorScore
	}
	return newScore - p.TrustScore
}

// DecayScheduler runs the daily decay sweep (spec §4.5.4) once per
// configured run time, applying decayDelta to every profile through the
// Manager so each decay emits a trust_decayed event and rebuckets the tier.
type DecayScheduler struct {
	manager *Manager
	config  DecayConfig
	logger  *log.Logger
}

// NewDecayScheduler builds a scheduler bound to a Manager.
func NewDecayScheduler(manager *Manager, config DecayConfig) *DecayScheduler {
	return &DecayScheduler{
		manager: manager,
		config:  config,
		logger:  log.New(log.Writer(), "[DECAY-SCHED] ", log.LstdFlags),
	}
}

// RunOnce applies decay to every known profile at time now, returning the
// number of profiles actually decayed (spec §4.5.4, plus the admin
// decay/run supplemented endpoint).
func (d *DecayScheduler) RunOnce(now time.Time) (int, error) {
	profiles, err := d.manager.profiles.List(domain.ProfileFilter{})
	if err != nil {
		return 0, err
	}
	decayed := 0
	for _, p := range profiles {
		delta := decayDelta(p, d.config, now)
		if delta == 0 {
			continue
		}
		if err := d.manager.applyDecay(p.AgentID, delta, now); err != nil {
			d.logger.Printf("decay failed for %s: %v", p.AgentID, err)
			continue
		}
		decayed++
	}
	if decayed > 0 {
		d.logger.Printf("decay sweep applied to %d profiles", decayed)
	}
	return decayed, nil
}

// StartDaily runs RunOnce once per 24h period, aligned to the configured UTC
// run time on first fire. Grounded on the ticker-based sweep() loop pattern
// from the other_examples decay scheduler.
func (d *DecayScheduler) StartDaily() (stop func()) {
	done := make(chan struct{})
	go func() {
		timer := time.NewTimer(d.durationUntilNextRun(time.Now().UTC()))
		defer timer.Stop()
		for {
			select {
			case now := <-timer.C:
				if _, err := d.RunOnce(now); err != nil {
					d.logger.Printf("decay run failed: %v", err)
				}
				timer.Reset(24 * time.Hour)
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

func (d *DecayScheduler) durationUntilNextRun(now time.Time) time.Duration {
	runAt := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(d.config.RunTime)
	if !runAt.After(now) {
		runAt = runAt.Add(24 * time.Hour)
	}
	return runAt.Sub(now)
}
