package classifier

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fixedSimilarity float64

func (f fixedSimilarity) Similarity(string, string) float64 { return float64(f) }

func defaultMatcher(t *testing.T) *KeywordMatcher {
	t.Helper()
	table, err := DefaultKeywordTable()
	require.NoError(t, err)
	return NewKeywordMatcher(table, nil, DefaultMatcherConfig())
}

func TestMatchExactSubstring(t *testing.T) {
	t.Parallel()

	m := defaultMatcher(t)
	got, ok := m.Match("Server CRASHES on startup")
	require.True(t, ok)
	require.Equal(t, "Crash", got)
}

func TestMatchExactFollowsTableOrder(t *testing.T) {
	t.Parallel()

	m := defaultMatcher(t)
	got, ok := m.Match("assertion failed in optimizer")
	require.True(t, ok)
	require.Equal(t, "Assertion Failure", got)
}

func TestMatchNoCandidate(t *testing.T) {
	t.Parallel()

	m := defaultMatcher(t)
	_, ok := m.Match("documentation typo")
	require.False(t, ok)
}

func TestMatchBlendedScoreAboveFloor(t *testing.T) {
	t.Parallel()

	table := KeywordTable{{Category: "A", Keywords: []string{"abcd zz"}}}
	m := NewKeywordMatcher(table, fixedSimilarity(1), DefaultMatcherConfig())
	got, ok := m.Match("abcd zq")
	require.True(t, ok)
	require.Equal(t, "A", got)
}

func TestMatchBlendedScoreBelowFloor(t *testing.T) {
	t.Parallel()

	table := KeywordTable{{Category: "A", Keywords: []string{"abcd"}}}
	m := NewKeywordMatcher(table, fixedSimilarity(0.9), DefaultMatcherConfig())
	_, ok := m.Match("abce")
	require.False(t, ok)
}

func TestMatchTieKeepsFirstCategory(t *testing.T) {
	t.Parallel()

	table := KeywordTable{
		{Category: "First", Keywords: []string{"abcd zz"}},
		{Category: "Second", Keywords: []string{"abcd zz"}},
	}
	m := NewKeywordMatcher(table, fixedSimilarity(1), DefaultMatcherConfig())
	got, ok := m.Match("abcd zq")
	require.True(t, ok)
	require.Equal(t, "First", got)
}

func TestMatchWithoutSemanticModel(t *testing.T) {
	t.Parallel()

	table := KeywordTable{{Category: "A", Keywords: []string{"abcd zz"}}}
	m := NewKeywordMatcher(table, nil, DefaultMatcherConfig())
	_, ok := m.Match("abcd zq")
	require.False(t, ok)
}

func TestPartialRatio(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1.0, PartialRatio("abc", "xxabcxx"))
	require.Equal(t, 1.0, PartialRatio("xxabcxx", "abc"))
	require.Equal(t, 0.0, PartialRatio("", "abc"))
	require.InDelta(t, 0.75, PartialRatio("abce", "abcd"), 1e-9)
	require.Equal(t, 0.0, PartialRatio("aaaa", "zzzz"))
}

func TestParseKeywordTable(t *testing.T) {
	t.Parallel()

	table, err := ParseKeywordTable([]byte("- category: B\n  keywords: [x]\n- category: A\n  keywords: [y, z]\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"B", "A"}, table.Categories())

	_, err = ParseKeywordTable([]byte("- category: A\n- category: A\n"))
	require.Error(t, err)
	_, err = ParseKeywordTable([]byte("- keywords: [x]\n"))
	require.Error(t, err)
	_, err = ParseKeywordTable([]byte("{not a list"))
	require.Error(t, err)
}

func TestLoadKeywordTableDefault(t *testing.T) {
	t.Parallel()

	table, err := LoadKeywordTable("")
	require.NoError(t, err)
	require.Equal(t, "Crash", table[0].Category)
}

func TestMatchAssertionFailureTitle(t *testing.T) {
	t.Parallel()

	got, ok := defaultMatcher(t).Match("Assertion failure in prefetch reader goroutine")
	require.True(t, ok)
	require.Equal(t, "Assertion Failure", got)
}

func TestMatchUnrelatedTitleStaysBelowFloor(t *testing.T) {
	t.Parallel()

	table := KeywordTable{{Category: "Deadlock", Keywords: []string{"deadlock", "lock wait timeout"}}}
	m := NewKeywordMatcher(table, nil, DefaultMatcherConfig())
	_, ok := m.Match("completely unrelated text xyz")
	require.False(t, ok)
}
