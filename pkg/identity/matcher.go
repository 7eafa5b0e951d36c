// pkg/identity/matcher.go
package identity

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/David-Botos/story-ingress/pkg/model"
)

// DefaultMinSubstringLen places no length limit on substring matching
const DefaultMinSubstringLen = 0

// Tier is the strength of a name match. Lower is stronger.
type Tier int

const (
	TierNone Tier = iota
	TierExact
	TierNormalized
	TierSubstring
)

// String implements fmt.Stringer
func (t Tier) String() string {
	switch t {
	case TierExact:
		return "exact"
	case TierNormalized:
		return "normalized"
	case TierSubstring:
		return "substring"
	default:
		return "none"
	}
}

// Result is the outcome of matching one source name
type Result struct {
	Candidate model.MatchCandidate
	Tier      Tier
	// Ambiguous is set when more than one candidate tied for the best match
	Ambiguous bool
}

// Matched reports whether a candidate was selected
func (r Result) Matched() bool {
	return r.Tier != TierNone
}

// Matcher resolves source display names to existing destination entities
type Matcher struct {
	minSubstringLen int
}

// NewMatcher creates a matcher. Names shorter than minSubstringLen runes are
// kept out of the substring tier; minSubstringLen <= 0 means no minimum.
func NewMatcher(minSubstringLen int) *Matcher {
	if minSubstringLen < 0 {
		minSubstringLen = 0
	}
	return &Matcher{minSubstringLen: minSubstringLen}
}

// Normalize applies NFC composition and Unicode lower-casing, collapses
// internal whitespace to single spaces and trims the ends
func Normalize(name string) string {
	// cases.Caser keeps state between calls, so each call gets its own
	s := cases.Lower(language.Und).String(norm.NFC.String(name))
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

type scored struct {
	candidate model.MatchCandidate
	tier      Tier
	lenDiff   int
}

// Match picks the best candidate for name. Tiers are tried strongest first;
// within a tier the candidate whose normalized length is closest to the
// source name wins, then the lowest destination ID. The same inputs always
// produce the same result, regardless of candidate order.
func (m *Matcher) Match(name string, candidates []model.MatchCandidate) Result {
	if strings.TrimSpace(name) == "" {
		return Result{}
	}
	source := Normalize(name)

	var hits []scored
	for _, c := range candidates {
		if strings.TrimSpace(c.DisplayName) == "" {
			continue
		}
		tier := m.tier(name, source, c.DisplayName)
		if tier == TierNone {
			continue
		}
		hits = append(hits, scored{
			candidate: c,
			tier:      tier,
			lenDiff:   absInt(len([]rune(Normalize(c.DisplayName))) - len([]rune(source))),
		})
	}

	if len(hits) == 0 {
		return Result{}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].tier != hits[j].tier {
			return hits[i].tier < hits[j].tier
		}
		if hits[i].lenDiff != hits[j].lenDiff {
			return hits[i].lenDiff < hits[j].lenDiff
		}
		return hits[i].candidate.DestinationID < hits[j].candidate.DestinationID
	})

	best := hits[0]
	ambiguous := len(hits) > 1 && hits[1].tier == best.tier && hits[1].lenDiff == best.lenDiff

	return Result{
		Candidate: best.candidate,
		Tier:      best.tier,
		Ambiguous: ambiguous,
	}
}

func (m *Matcher) tier(name, source, candidate string) Tier {
	if name == candidate {
		return TierExact
	}

	target := Normalize(candidate)
	if target == "" {
		return TierNone
	}
	if source == target {
		return TierNormalized
	}

	if len([]rune(source)) < m.minSubstringLen || len([]rune(target)) < m.minSubstringLen {
		return TierNone
	}
	if strings.Contains(target, source) || strings.Contains(source, target) {
		return TierSubstring
	}
	return TierNone
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Pool is a set of unclaimed candidates. Claimed candidates are removed so a
// destination entity is linked to at most one source record.
type Pool struct {
	matcher    *Matcher
	candidates []model.MatchCandidate
}

// NewPool creates a pool over a copy of candidates
func NewPool(matcher *Matcher, candidates []model.MatchCandidate) *Pool {
	cp := make([]model.MatchCandidate, len(candidates))
	copy(cp, candidates)
	return &Pool{matcher: matcher, candidates: cp}
}

// Len returns the number of unclaimed candidates
func (p *Pool) Len() int {
	return len(p.candidates)
}

// Match finds the best unclaimed candidate without claiming it
func (p *Pool) Match(name string) Result {
	return p.matcher.Match(name, p.candidates)
}

// Claim removes a candidate from the pool
func (p *Pool) Claim(destinationID string) {
	for i, c := range p.candidates {
		if c.DestinationID == destinationID {
			p.candidates = append(p.candidates[:i], p.candidates[i+1:]...)
			return
		}
	}
}
