package npy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteThenRead(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "idf.npy")
	require.NoError(t, WriteFile(path, []float64{1.5, 2, 3.25}))

	arr, err := ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []int{3}, arr.Shape)
	require.Equal(t, []float64{1.5, 2, 3.25}, arr.Data)
}

func TestReadFileMissing(t *testing.T) {
	t.Parallel()

	_, err := ReadFile(filepath.Join(t.TempDir(), "missing.npy"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadFileGarbage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.npy")
	require.NoError(t, os.WriteFile(path, []byte("not numpy"), 0o600))
	_, err := ReadFile(path)
	require.Error(t, err)
}
