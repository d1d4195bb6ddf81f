// Package scoring implements the pure score calculator (spec §4.2): turning a
// profile's counters and last-activity timestamp into the five weighted
// component scores and the aggregate trust score. Grounded on the teacher's
// TrustCalculator weighted-average pattern (internal/application/trust_calculator.go)
// but reworked around this spec's five factors instead of the teacher's eight.
package scoring

import (
	"math"
	"time"

	"github.com/arbor-run/trust-core/internal/domain"
	"github.com/arbor-run/trust-core/internal/tier"
)

// Weights holds the per-component weights; the zero value is invalid, use
// DefaultWeights.
type Weights struct {
	SuccessRate float64
	Uptime      float64
	Security    float64
	TestPass    float64
	Rollback    float64
}

// DefaultWeights matches spec §4.2's table exactly.
func DefaultWeights() Weights {
	return Weights{SuccessRate: 0.30, Uptime: 0.15, Security: 0.25, TestPass: 0.20, Rollback: 0.10}
}

// Calculator recomputes a profile's component scores and aggregate trust
// score. Pure aside from reading wall-clock time passed in by the caller.
type Calculator struct {
	weights  Weights
	resolver *tier.Resolver
}

// NewCalculator builds a Calculator with the given weights and tier resolver.
func NewCalculator(weights Weights, resolver *tier.Resolver) *Calculator {
	return &Calculator{weights: weights, resolver: resolver}
}

// NewDefaultCalculator builds a Calculator with spec-default weights and tier
// thresholds.
func NewDefaultCalculator() *Calculator {
	return NewCalculator(DefaultWeights(), tier.NewDefaultResolver())
}

// successRateScore: 100 * successful/total, 0 if total=0.
func successRateScore(p *domain.Profile) float64 {
	if p.TotalActions == 0 {
		return 0
	}
	return 100 * float64(p.SuccessfulActions) / float64(p.TotalActions)
}

// uptimeScore implements the piecewise-linear inactivity curve from spec §4.2.
func uptimeScore(daysInactive float64) float64 {
	switch {
	case daysInactive <= 0:
		return 100
	case daysInactive <= 7:
		return 100 - (daysInactive/7)*30
	case daysInactive <= 30:
		return 70 - ((daysInactive - 7) / 23 * 40)
	case daysInactive <= 60:
		return 30 - ((daysInactive - 30) / 30 * 30)
	default:
		return 0
	}
}

// securityScore: max(0, 100 - 20*violations).
func securityScore(p *domain.Profile) float64 {
	return math.Max(0, 100-20*float64(p.SecurityViolations))
}

// testPassScore: 100 * passed/total, 0 if none.
func testPassScore(p *domain.Profile) float64 {
	if p.TotalTests == 0 {
		return 0
	}
	return 100 * float64(p.TestsPassed) / float64(p.TotalTests)
}

// rollbackScore: 100 * (1 - rollbacks/improvements), 100 if improvements=0.
func rollbackScore(p *domain.Profile) float64 {
	if p.ImprovementCount == 0 {
		return 100
	}
	ratio := float64(p.RollbackCount) / float64(p.ImprovementCount)
	return 100 * (1 - ratio)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ComponentScores recomputes the five component scores from a profile's
// counters and last-activity timestamp, without touching the profile.
func (c *Calculator) ComponentScores(p *domain.Profile, now time.Time) domain.ComponentScores {
	daysInactive := now.Sub(maxTime(p.LastActivityAt, p.CreatedAt)).Hours() / 24
	return domain.ComponentScores{
		SuccessRate: clamp(successRateScore(p), 0, 100),
		Uptime:      clamp(uptimeScore(daysInactive), 0, 100),
		Security:    clamp(securityScore(p), 0, 100),
		TestPass:    clamp(testPassScore(p), 0, 100),
		Rollback:    clamp(rollbackScore(p), 0, 100),
	}
}

// Aggregate folds component scores into the [0,100] integer trust score.
func (c *Calculator) Aggregate(s domain.ComponentScores) int {
	weighted := s.SuccessRate*c.weights.SuccessRate +
		s.Uptime*c.weights.Uptime +
		s.Security*c.weights.Security +
		s.TestPass*c.weights.TestPass +
		s.Rollback*c.weights.Rollback
	weighted = clamp(weighted, 0, 100)
	return int(math.Round(weighted))
}

// Recalculate refreshes a profile's component scores, aggregate trust score,
// and tier (spec §4.2: "recalculate(profile, now)"). The points-derived tier
// floor is left to the caller (internal/profilestore), per spec §4.3.
func (c *Calculator) Recalculate(p *domain.Profile, now time.Time) {
	p.Scores = c.ComponentScores(p, now)
	p.TrustScore = c.Aggregate(p.Scores)
	p.Tier = c.resolver.Resolve(p.TrustScore)
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
