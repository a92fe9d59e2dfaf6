package classifier

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/JakeFAU/bugscope/internal/npy"
)

// Model output modes.
const (
	MultiClassMultinomial = "multinomial"
	MultiClassOVR         = "ovr"
)

// Manifest describes a trained artifact directory.
type Manifest struct {
	Version     string   `json:"version"`
	Classes     []string `json:"classes"`
	NgramRange  [2]int   `json:"ngram_range"`
	SublinearTF bool     `json:"sublinear_tf"`
	Lowercase   *bool    `json:"lowercase,omitempty"`
	MultiClass  string   `json:"multi_class"`
}

// Artifact is the immutable vectorizer, linear model and label encoder.
type Artifact struct {
	Manifest   Manifest
	Vocabulary map[string]int
	IDF        []float64
	// Coef is K×V for K classes, or 1×V for a binary model.
	Coef      *mat.Dense
	Intercept []float64
}

// Artifact file names inside the directory.
const (
	ManifestFile   = "manifest.json"
	VocabularyFile = "vocabulary.json"
	IDFFile        = "idf.npy"
	CoefFile       = "coef.npy"
	InterceptFile  = "intercept.npy"
)

// LoadArtifact reads a trained artifact directory.
func LoadArtifact(dir string) (*Artifact, error) {
	var manifest Manifest
	if err := readJSON(filepath.Join(dir, ManifestFile), &manifest); err != nil {
		return nil, err
	}
	var vocab map[string]int
	if err := readJSON(filepath.Join(dir, VocabularyFile), &vocab); err != nil {
		return nil, err
	}
	idf, err := npy.ReadFile(filepath.Join(dir, IDFFile))
	if err != nil {
		return nil, fmt.Errorf("load idf: %w", err)
	}
	coef, err := npy.ReadFile(filepath.Join(dir, CoefFile))
	if err != nil {
		return nil, fmt.Errorf("load coef: %w", err)
	}
	intercept, err := npy.ReadFile(filepath.Join(dir, InterceptFile))
	if err != nil {
		return nil, fmt.Errorf("load intercept: %w", err)
	}
	return NewArtifact(manifest, vocab, idf.Data, coef.Data, intercept.Data)
}

// NewArtifact validates the pieces of a model and assembles them. coef is
// row-major with one row per model output.
func NewArtifact(manifest Manifest, vocab map[string]int, idf, coef, intercept []float64) (*Artifact, error) {
	k := len(manifest.Classes)
	if k < 2 {
		return nil, fmt.Errorf("artifact: need at least 2 classes, have %d", k)
	}
	if manifest.NgramRange == [2]int{} {
		manifest.NgramRange = [2]int{1, 1}
	}
	if manifest.NgramRange[0] < 1 || manifest.NgramRange[1] < manifest.NgramRange[0] {
		return nil, fmt.Errorf("artifact: invalid ngram_range %v", manifest.NgramRange)
	}
	if manifest.MultiClass == "" {
		manifest.MultiClass = MultiClassMultinomial
	}
	if manifest.MultiClass != MultiClassMultinomial && manifest.MultiClass != MultiClassOVR {
		return nil, fmt.Errorf("artifact: unknown multi_class %q", manifest.MultiClass)
	}
	v := len(idf)
	if v == 0 {
		return nil, fmt.Errorf("artifact: empty idf")
	}
	for term, col := range vocab {
		if col < 0 || col >= v {
			return nil, fmt.Errorf("artifact: term %q maps to column %d outside [0,%d)", term, col, v)
		}
	}
	rows := k
	if k == 2 {
		rows = 1
	}
	if len(coef) != rows*v {
		return nil, fmt.Errorf("artifact: coef has %d values, want %d×%d", len(coef), rows, v)
	}
	if len(intercept) != rows {
		return nil, fmt.Errorf("artifact: intercept has %d values, want %d", len(intercept), rows)
	}
	return &Artifact{
		Manifest:   manifest,
		Vocabulary: vocab,
		IDF:        idf,
		Coef:       mat.NewDense(rows, v, coef),
		Intercept:  intercept,
	}, nil
}

func readJSON(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
