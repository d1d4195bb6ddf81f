package tier

import (
	"testing"

	"github.com/arbor-run/trust-core/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	r := NewDefaultResolver()

	cases := []struct {
		score int
		want  domain.Tier
	}{
		{-10, domain.TierUntrusted},
		{0, domain.TierUntrusted},
		{19, domain.TierUntrusted},
		{20, domain.TierProbationary},
		{49, domain.TierProbationary},
		{50, domain.TierTrusted},
		{74, domain.TierTrusted},
		{75, domain.TierVeteran},
		{89, domain.TierVeteran},
		{90, domain.TierAutonomous},
		{100, domain.TierAutonomous},
		{150, domain.TierAutonomous},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, r.Resolve(c.score), "score=%d", c.score)
	}
}

func TestResolveByPoints(t *testing.T) {
	r := NewDefaultResolver()
	assert.Equal(t, domain.TierUntrusted, r.ResolveByPoints(24))
	assert.Equal(t, domain.TierProbationary, r.ResolveByPoints(25))
	assert.Equal(t, domain.TierTrusted, r.ResolveByPoints(100))
}

// TestTierMonotonicity asserts property 2 from spec §8: s1 < s2 implies
// tier_index(resolve(s1)) <= tier_index(resolve(s2)).
func TestTierMonotonicity(t *testing.T) {
	r := NewDefaultResolver()
	for s1 := 0; s1 < 100; s1++ {
		s2 := s1 + 1
		i1 := r.Index(r.Resolve(s1))
		i2 := r.Index(r.Resolve(s2))
		require.LessOrEqual(t, i1, i2, "s1=%d s2=%d", s1, s2)
	}
}

func TestSufficientAndCompare(t *testing.T) {
	r := NewDefaultResolver()
	assert.True(t, r.Sufficient(domain.TierVeteran, domain.TierTrusted))
	assert.False(t, r.Sufficient(domain.TierTrusted, domain.TierVeteran))
	assert.Equal(t, Equal, r.Compare(domain.TierTrusted, domain.TierTrusted))
	assert.Equal(t, Less, r.Compare(domain.TierTrusted, domain.TierVeteran))
	assert.Equal(t, Greater, r.Compare(domain.TierVeteran, domain.TierTrusted))
}

func TestNextPreviousTier(t *testing.T) {
	r := NewDefaultResolver()
	assert.Equal(t, domain.TierProbationary, r.NextTier(domain.TierUntrusted))
	assert.Equal(t, domain.TierAutonomous, r.NextTier(domain.TierAutonomous))
	assert.Equal(t, domain.TierUntrusted, r.PreviousTier(domain.TierProbationary))
	assert.Equal(t, domain.TierUntrusted, r.PreviousTier(domain.TierUntrusted))
}

func TestMaxTier(t *testing.T) {
	r := NewDefaultResolver()
	assert.Equal(t, domain.TierVeteran, r.Max(domain.TierTrusted, domain.TierVeteran))
	assert.Equal(t, domain.TierVeteran, r.Max(domain.TierVeteran, domain.TierTrusted))
}

func TestScoreToPromote(t *testing.T) {
	r := NewDefaultResolver()
	assert.Equal(t, 20, r.ScoreToPromote(domain.TierUntrusted))
	assert.Equal(t, r.MinScore(domain.TierAutonomous), r.ScoreToPromote(domain.TierAutonomous))
}

func TestNewResolverMissingThreshold(t *testing.T) {
	_, err := NewResolver([]domain.Tier{domain.TierUntrusted, domain.TierTrusted}, map[domain.Tier]int{domain.TierUntrusted: 0}, nil)
	require.Error(t, err)
}
