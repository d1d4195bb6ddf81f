// Package tier implements the pure tier resolver (spec §4.1): mapping a trust
// score or a trust-points count to a Tier, and comparing tiers. It carries no
// state and has no side effects.
package tier

import (
	"fmt"

	"github.com/arbor-run/trust-core/internal/domain"
)

// Ordering is one of the three outcomes of Compare.
type Ordering int

const (
	Less Ordering = iota - 1
	Equal
	Greater
)

// Resolver maps scores/points to tiers using a configured ordered tier list
// and minimum-score thresholds.
type Resolver struct {
	tiers      []domain.Tier
	index      map[domain.Tier]int
	minScore   map[domain.Tier]int // inclusive lower bound, 0..100
	minPoints  map[domain.Tier]int // inclusive lower bound
}

// DefaultScoreThresholds mirrors the five-tier ladder from spec §3/§4.1.
func DefaultScoreThresholds() map[domain.Tier]int {
	return map[domain.Tier]int{
		domain.TierUntrusted:    0,
		domain.TierProbationary: 20,
		domain.TierTrusted:      50,
		domain.TierVeteran:      75,
		domain.TierAutonomous:   90,
	}
}

// DefaultPointsThresholds is a conservative points floor ladder; S2 in spec §8
// requires 25 points to reach probationary.
func DefaultPointsThresholds() map[domain.Tier]int {
	return map[domain.Tier]int{
		domain.TierUntrusted:    0,
		domain.TierProbationary: 25,
		domain.TierTrusted:      100,
		domain.TierVeteran:      250,
		domain.TierAutonomous:   500,
	}
}

// NewResolver builds a Resolver from an ordered tier list and per-tier
// minimum thresholds for score and points. Returns an error if a tier in the
// list is missing a score threshold entry; points thresholds are not checked.
func NewResolver(tiers []domain.Tier, minScore, minPoints map[domain.Tier]int) (*Resolver, error) {
	if len(tiers) == 0 {
		tiers = append([]domain.Tier{}, domain.Tiers...)
	}
	idx := make(map[domain.Tier]int, len(tiers))
	for i, t := range tiers {
		if _, ok := minScore[t]; !ok {
			return nil, fmt.Errorf("tier: missing score threshold for tier %q", t)
		}
		idx[t] = i
	}
	return &Resolver{tiers: tiers, index: idx, minScore: minScore, minPoints: minPoints}, nil
}

// NewDefaultResolver builds a Resolver with the default five-tier thresholds.
func NewDefaultResolver() *Resolver {
	r, _ := NewResolver(domain.Tiers, DefaultScoreThresholds(), DefaultPointsThresholds())
	return r
}

// clampScore keeps a score inside [0, 100] (spec §4.1 edge case).
func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Resolve returns the highest tier whose threshold is <= score.
func (r *Resolver) Resolve(score int) domain.Tier {
	score = clampScore(score)
	best := r.tiers[0]
	for _, t := range r.tiers {
		if score >= r.minScore[t] {
			best = t
		}
	}
	return best
}

// ResolveByPoints returns the highest tier whose points threshold is <=
// points. Used as the points-derived floor (spec §4.1 invariant, §4.3).
func (r *Resolver) ResolveByPoints(points int) domain.Tier {
	if points < 0 {
		points = 0
	}
	best := r.tiers[0]
	for _, t := range r.tiers {
		if min, ok := r.minPoints[t]; ok && points >= min {
			best = t
		}
	}
	return best
}

// Index returns a tier's position in the ordered list, or -1 if unknown.
func (r *Resolver) Index(t domain.Tier) int {
	i, ok := r.index[t]
	if !ok {
		return -1
	}
	return i
}

// Sufficient reports whether `have` meets or exceeds `need`.
func (r *Resolver) Sufficient(have, need domain.Tier) bool {
	return r.Index(have) >= r.Index(need)
}

// Compare orders two tiers.
func (r *Resolver) Compare(a, b domain.Tier) Ordering {
	ia, ib := r.Index(a), r.Index(b)
	switch {
	case ia < ib:
		return Less
	case ia > ib:
		return Greater
	default:
		return Equal
	}
}

// Max returns the higher-privilege of two tiers (used for the
// max(score_tier, points_tier) invariant, spec §3).
func (r *Resolver) Max(a, b domain.Tier) domain.Tier {
	if r.Compare(a, b) == Less {
		return b
	}
	return a
}

// NextTier returns the tier above t, or t itself if already at the top.
func (r *Resolver) NextTier(t domain.Tier) domain.Tier {
	i := r.Index(t)
	if i < 0 || i+1 >= len(r.tiers) {
		return t
	}
	return r.tiers[i+1]
}

// PreviousTier returns the tier below t, or t itself if already at the bottom.
func (r *Resolver) PreviousTier(t domain.Tier) domain.Tier {
	i := r.Index(t)
	if i <= 0 {
		return t
	}
	return r.tiers[i-1]
}

// MinScore returns the score threshold for a tier.
func (r *Resolver) MinScore(t domain.Tier) int {
	return r.minScore[t]
}

// MaxScore returns the score one below the next tier's threshold, or 100 for
// the top tier.
func (r *Resolver) MaxScore(t domain.Tier) int {
	next := r.NextTier(t)
	if next == t {
		return 100
	}
	return r.minScore[next] - 1
}

// ScoreToPromote returns the score needed to reach the next tier, or the
// current minimum if already at the top tier.
func (r *Resolver) ScoreToPromote(t domain.Tier) int {
	next := r.NextTier(t)
	if next == t {
		return r.minScore[t]
	}
	return r.minScore[next]
}

// Tiers returns the resolver's ordered tier list.
func (r *Resolver) Tiers() []domain.Tier {
	out := make([]domain.Tier, len(r.tiers))
	copy(out, r.tiers)
	return out
}
