package semantic

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bugscope/internal/npy"
)

func testModel(t *testing.T) *Model {
	t.Helper()
	m, err := NewModel(
		[]string{"crash", "segfault", "slow", "query"},
		[][]float64{{1, 0, 0}, {0.9, 0.1, 0}, {0, 1, 0}, {0, 0, 1}},
	)
	require.NoError(t, err)
	return m
}

func TestSimilarity(t *testing.T) {
	t.Parallel()

	m := testModel(t)
	require.InDelta(t, 1.0, m.Similarity("crash", "CRASH"), 1e-9)
	require.Greater(t, m.Similarity("crash", "segfault"), 0.9)
	require.InDelta(t, 0.0, m.Similarity("crash", "slow"), 1e-9)
	require.Equal(t, 0.0, m.Similarity("crash", "unknown words"))
}

func TestVectorAveragesKnownTokens(t *testing.T) {
	t.Parallel()

	m := testModel(t)
	vec, ok := m.Vector("slow query and more")
	require.True(t, ok)
	require.InDeltaSlice(t, []float64{0, 0.5, 0.5}, vec, 1e-9)

	_, ok = m.Vector("")
	require.False(t, ok)
}

func TestDocVectorZeroWhenUnknown(t *testing.T) {
	t.Parallel()

	m := testModel(t)
	require.Equal(t, []float32{0, 0, 0}, m.DocVector("nothing known"))
	require.Equal(t, []float32{1, 0, 0}, m.DocVector("crash"))
}

func TestNilModel(t *testing.T) {
	t.Parallel()

	var m *Model
	require.Equal(t, 0.0, m.Similarity("a", "b"))
	require.Equal(t, 0, m.Dim())
}

func TestNewModelRejectsMismatch(t *testing.T) {
	t.Parallel()

	_, err := NewModel([]string{"a"}, nil)
	require.Error(t, err)
	_, err = NewModel([]string{"a", "b"}, [][]float64{{1, 2}, {1}})
	require.Error(t, err)
}

func TestLoadRejectsOneDimensional(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	vecPath := filepath.Join(dir, "vectors.npy")
	vocabPath := filepath.Join(dir, "vocab.txt")
	require.NoError(t, npy.WriteFile(vecPath, []float64{1, 2}))
	require.NoError(t, os.WriteFile(vocabPath, []byte("a\nb\n"), 0o600))

	_, err := Load(vecPath, vocabPath)
	require.Error(t, err)
}
