// Package semantic provides averaged word-vector document embeddings and
// cosine similarity between short texts.
package semantic

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/JakeFAU/bugscope/internal/npy"
	"github.com/JakeFAU/bugscope/internal/textnorm"
)

// Model maps words to dense vectors.
type Model struct {
	index   map[string]int
	vectors [][]float64
	dim     int
}

// NewModel builds a Model from parallel word and vector slices.
func NewModel(words []string, vectors [][]float64) (*Model, error) {
	if len(words) != len(vectors) {
		return nil, fmt.Errorf("have %d words but %d vectors", len(words), len(vectors))
	}
	m := &Model{index: make(map[string]int, len(words)), vectors: vectors}
	for i, w := range words {
		if i == 0 {
			m.dim = len(vectors[i])
		}
		if len(vectors[i]) != m.dim {
			return nil, fmt.Errorf("vector for %q has dimension %d, want %d", w, len(vectors[i]), m.dim)
		}
		m.index[strings.ToLower(w)] = i
	}
	return m, nil
}

// Load reads an N×D vectors.npy file and a vocabulary file holding one word
// per line, line i naming row i.
func Load(vectorsPath, vocabPath string) (*Model, error) {
	arr, err := npy.ReadFile(vectorsPath)
	if err != nil {
		return nil, fmt.Errorf("load word vectors: %w", err)
	}
	if len(arr.Shape) != 2 {
		return nil, fmt.Errorf("word vectors: expected 2D array, got shape %v", arr.Shape)
	}
	words, err := readVocab(vocabPath)
	if err != nil {
		return nil, err
	}
	rows, cols := arr.Shape[0], arr.Shape[1]
	if rows != len(words) {
		return nil, fmt.Errorf("word vectors: %d rows but %d vocabulary entries", rows, len(words))
	}
	vectors := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		vectors[i] = arr.Data[i*cols : (i+1)*cols]
	}
	return NewModel(words, vectors)
}

func readVocab(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocabulary: %w", err)
	}
	defer f.Close()
	var words []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		words = append(words, strings.TrimSpace(sc.Text()))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	return words, nil
}

// Dim returns the vector dimension.
func (m *Model) Dim() int {
	if m == nil {
		return 0
	}
	return m.dim
}

// Vector averages the vectors of the known tokens of text. ok is false when
// no token has a vector.
func (m *Model) Vector(text string) (vec []float64, ok bool) {
	if m == nil || m.dim == 0 {
		return nil, false
	}
	sum := make([]float64, m.dim)
	n := 0
	for _, tok := range textnorm.Tokens(text) {
		i, found := m.index[tok]
		if !found {
			continue
		}
		floats.Add(sum, m.vectors[i])
		n++
	}
	if n == 0 {
		return nil, false
	}
	floats.Scale(1/float64(n), sum)
	return sum, true
}

// Similarity is the cosine similarity of the averaged vectors of a and b,
// or 0 when either side has no vector.
func (m *Model) Similarity(a, b string) float64 {
	va, ok := m.Vector(a)
	if !ok {
		return 0
	}
	vb, ok := m.Vector(b)
	if !ok {
		return 0
	}
	return Cosine(va, vb)
}

// Cosine returns the cosine similarity of a and b, 0 for zero vectors.
func Cosine(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}

// DocVector returns the float32 embedding stored with a report. Text with no
// known tokens yields a zero vector of the model dimension.
func (m *Model) DocVector(text string) []float32 {
	out := make([]float32, m.Dim())
	vec, ok := m.Vector(text)
	if !ok {
		return out
	}
	for i, v := range vec {
		out[i] = float32(v)
	}
	return out
}
