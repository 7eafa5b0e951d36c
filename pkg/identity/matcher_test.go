package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/David-Botos/story-ingress/pkg/model"
)

func candidates(names ...string) []model.MatchCandidate {
	out := make([]model.MatchCandidate, 0, len(names))
	for i, n := range names {
		out = append(out, model.MatchCandidate{
			DestinationID: string(rune('a' + i)),
			DisplayName:   n,
		})
	}
	return out
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Cheryl Ann Mara", "cheryl ann mara"},
		{"  Cheryl   Ann\tMara \n", "cheryl ann mara"},
		{"ÉLODIE Brun", "élodie brun"},
		{"Jose\u0301 Nu\u0301n\u0303ez", "jos\u00e9 n\u00fa\u00f1ez"},
		{"", ""},
		{"   ", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "input %q", tt.in)
	}
}

func TestMatch_ExactTierWins(t *testing.T) {
	m := NewMatcher(0)

	result := m.Match("Cheryl Ann Mara", candidates("Cheryl Ann Mara", "Cheryl Mara"))
	require.True(t, result.Matched())
	assert.Equal(t, TierExact, result.Tier)
	assert.Equal(t, "Cheryl Ann Mara", result.Candidate.DisplayName)
	assert.False(t, result.Ambiguous)
}

func TestMatch_NormalizedTier(t *testing.T) {
	m := NewMatcher(0)

	result := m.Match("  cheryl  ANN mara", candidates("Cheryl Mara", "Cheryl Ann Mara"))
	require.True(t, result.Matched())
	assert.Equal(t, TierNormalized, result.Tier)
	assert.Equal(t, "b", result.Candidate.DestinationID)
}

func TestMatch_SubstringTierPrefersClosestLength(t *testing.T) {
	m := NewMatcher(0)

	result := m.Match("Aunty Rose", candidates("Aunty Rose Williams-Taylor", "Aunty Rose W."))
	require.True(t, result.Matched())
	assert.Equal(t, TierSubstring, result.Tier)
	assert.Equal(t, "Aunty Rose W.", result.Candidate.DisplayName)
}

func TestMatch_SubstringEitherDirection(t *testing.T) {
	m := NewMatcher(0)

	result := m.Match("Uncle Bob Smith", candidates("Bob Smith"))
	require.True(t, result.Matched())
	assert.Equal(t, TierSubstring, result.Tier)
}

func TestMatch_NoMatch(t *testing.T) {
	m := NewMatcher(0)

	assert.False(t, m.Match("Dana Lee", candidates("Cheryl Mara", "Ben")).Matched())
	assert.False(t, m.Match("", candidates("Cheryl Mara")).Matched())
	assert.False(t, m.Match("   ", candidates("   ")).Matched())
	assert.False(t, m.Match("Dana", nil).Matched())
}

func TestMatch_ShortNamesUseSubstringTierByDefault(t *testing.T) {
	result := NewMatcher(DefaultMinSubstringLen).Match("Al", candidates("Al Smith"))

	require.True(t, result.Matched())
	assert.Equal(t, TierSubstring, result.Tier)
	assert.Equal(t, "a", result.Candidate.DestinationID)
}

func TestMatch_MinSubstringLen(t *testing.T) {
	strict := NewMatcher(3)

	assert.False(t, strict.Match("Al", candidates("Alice Walker")).Matched())
	assert.True(t, NewMatcher(2).Match("Al", candidates("Alice Walker")).Matched())

	// Exact and normalized tiers ignore the minimum
	result := strict.Match("al", candidates("AL"))
	require.True(t, result.Matched())
	assert.Equal(t, TierNormalized, result.Tier)
}

func TestMatch_DeterministicAcrossCandidateOrder(t *testing.T) {
	m := NewMatcher(0)

	forward := []model.MatchCandidate{
		{DestinationID: "id-2", DisplayName: "Mara Jones"},
		{DestinationID: "id-1", DisplayName: "Mara Lopez"},
		{DestinationID: "id-3", DisplayName: "Someone Else"},
	}
	reversed := []model.MatchCandidate{forward[2], forward[1], forward[0]}

	first := m.Match("Mara", forward)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, m.Match("Mara", forward))
		assert.Equal(t, first, m.Match("Mara", reversed))
	}

	assert.Equal(t, "id-1", first.Candidate.DestinationID)
	assert.True(t, first.Ambiguous)
}

func TestPool_ClaimRemovesCandidate(t *testing.T) {
	pool := NewPool(NewMatcher(0), candidates("Cheryl Ann Mara", "Cheryl Ann Mara"))
	require.Equal(t, 2, pool.Len())

	first := pool.Match("Cheryl Ann Mara")
	require.True(t, first.Matched())
	assert.True(t, first.Ambiguous)
	pool.Claim(first.Candidate.DestinationID)

	second := pool.Match("Cheryl Ann Mara")
	require.True(t, second.Matched())
	assert.NotEqual(t, first.Candidate.DestinationID, second.Candidate.DestinationID)
	assert.False(t, second.Ambiguous)
	pool.Claim(second.Candidate.DestinationID)

	assert.Zero(t, pool.Len())
	assert.False(t, pool.Match("Cheryl Ann Mara").Matched())
}
