package textnorm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type mapLemmatizer map[string]string

func (m mapLemmatizer) Lemma(w string) string {
	if l, ok := m[w]; ok {
		return l
	}
	return w
}

func TestNormalizeEmpty(t *testing.T) {
	t.Parallel()

	n := NewWithLemmatizer(nil)
	require.Equal(t, "", n.Normalize(""))
	require.Equal(t, "", n.Normalize("   \n\t"))
}

func TestNormalizeStripsMarkupAndStopWords(t *testing.T) {
	t.Parallel()

	n := NewWithLemmatizer(mapLemmatizer{"crashes": "crash", "queries": "query"})
	raw := "# The server crashes\n\nSee ![screenshot](http://img.example/x.png) and https://example.com/q?id=1 for **queries** 42."
	got := n.Normalize(raw)
	require.Equal(t, "server crash image link query", got)
}

func TestNormalizeKeepsProtectedWords(t *testing.T) {
	t.Parallel()

	n := NewWithLemmatizer(nil)
	require.Equal(t, "error bug issue failure", n.Normalize("An error, a bug, an issue, a failure"))
}

func TestNormalizeDropsNonAlphaTokens(t *testing.T) {
	t.Parallel()

	n := NewWithLemmatizer(nil)
	require.Equal(t, "select", n.Normalize("SELECT * FROM t0 WHERE 1=1"))
	require.Equal(t, "", n.Normalize("123 456 t0"))
}

func TestPlainTextJoinsTextNodes(t *testing.T) {
	t.Parallel()

	got := PlainText("first paragraph\n\n- item one\n- item two\n\n`code`")
	require.Equal(t, "first paragraph item one item two code", got)
}

func TestTokens(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"wrong", "result", "in", "join", "t0"}, Tokens("Wrong result in JOIN (t0)"))
}

func TestStopWords(t *testing.T) {
	t.Parallel()

	require.True(t, IsStopWord("The"))
	require.False(t, IsStopWord("crash"))
	require.False(t, IsCustomStopWord("bug"))
	require.True(t, IsCustomStopWord("which"))
}

func TestNewLoadsEnglishDictionary(t *testing.T) {
	t.Parallel()

	n, err := New()
	require.NoError(t, err)
	require.Equal(t, "crash", n.Normalize("crashes"))
}
