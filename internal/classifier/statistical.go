package classifier

import (
	"errors"
	"math"
	"regexp"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// OthersLabel is returned when the model is not confident enough.
const OthersLabel = "Others"

// ThresholdPercentile is the percentile of the model's own output
// distribution used as the acceptance threshold.
const ThresholdPercentile = 10

// ErrClassifierUnavailable is returned when no artifact was loaded.
var ErrClassifierUnavailable = errors.New("statistical classifier unavailable")

var tokenPattern = regexp.MustCompile(`\b\w\w+\b`)

// Normalizer converts raw text into the model's token stream.
type Normalizer interface {
	Normalize(raw string) string
}

// Prediction is the detailed outcome of one statistical prediction.
type Prediction struct {
	Label       string
	Probability float64
	Threshold   float64
	Accepted    bool
}

// StatisticalClassifier applies a TF-IDF linear model.
type StatisticalClassifier struct {
	artifact   *Artifact
	normalizer Normalizer
}

// NewStatisticalClassifier wraps artifact. A nil artifact yields
// ErrClassifierUnavailable from every prediction.
func NewStatisticalClassifier(artifact *Artifact, normalizer Normalizer) *StatisticalClassifier {
	return &StatisticalClassifier{artifact: artifact, normalizer: normalizer}
}

// Available reports whether a model is loaded.
func (c *StatisticalClassifier) Available() bool {
	return c != nil && c.artifact != nil
}

// Predict returns the predicted label or OthersLabel.
func (c *StatisticalClassifier) Predict(title, body string) (string, error) {
	p, err := c.PredictDetailed(title, body)
	if err != nil {
		return "", err
	}
	return p.Label, nil
}

// PredictDetailed is Predict with the probability and threshold exposed.
func (c *StatisticalClassifier) PredictDetailed(title, body string) (Prediction, error) {
	if !c.Available() {
		return Prediction{}, ErrClassifierUnavailable
	}
	text := title + " " + body
	if c.normalizer != nil {
		text = c.normalizer.Normalize(text)
	}
	probs := c.Probabilities(text)
	best := floats.MaxIdx(probs)
	threshold := Percentile(probs, ThresholdPercentile)
	p := Prediction{
		Label:       c.artifact.Manifest.Classes[best],
		Probability: probs[best],
		Threshold:   threshold,
		Accepted:    probs[best] >= threshold,
	}
	if !p.Accepted {
		p.Label = OthersLabel
	}
	return p, nil
}

// Probabilities returns the class distribution for already normalized text.
func (c *StatisticalClassifier) Probabilities(normalized string) []float64 {
	a := c.artifact
	x := mat.NewVecDense(len(a.IDF), c.transform(normalized))
	rows, _ := a.Coef.Dims()
	scores := mat.NewVecDense(rows, nil)
	scores.MulVec(a.Coef, x)
	decision := make([]float64, rows)
	for i := range decision {
		decision[i] = scores.AtVec(i) + a.Intercept[i]
	}

	if len(a.Manifest.Classes) == 2 {
		p := sigmoid(decision[0])
		return []float64{1 - p, p}
	}
	if a.Manifest.MultiClass == MultiClassOVR {
		for i, d := range decision {
			decision[i] = sigmoid(d)
		}
		if sum := floats.Sum(decision); sum > 0 {
			floats.Scale(1/sum, decision)
		}
		return decision
	}
	return softmax(decision)
}

// transform computes the L2-normalized TF-IDF row for text.
func (c *StatisticalClassifier) transform(text string) []float64 {
	a := c.artifact
	if a.Manifest.Lowercase == nil || *a.Manifest.Lowercase {
		text = strings.ToLower(text)
	}
	row := make([]float64, len(a.IDF))
	for _, term := range ngrams(tokenPattern.FindAllString(text, -1), a.Manifest.NgramRange) {
		if col, ok := a.Vocabulary[term]; ok {
			row[col]++
		}
	}
	for i, tf := range row {
		if tf == 0 {
			continue
		}
		if a.Manifest.SublinearTF {
			tf = 1 + math.Log(tf)
		}
		row[i] = tf * a.IDF[i]
	}
	if norm := floats.Norm(row, 2); norm > 0 {
		floats.Scale(1/norm, row)
	}
	return row
}

func ngrams(tokens []string, rng [2]int) []string {
	if rng[0] == 1 && rng[1] == 1 {
		return tokens
	}
	var out []string
	for n := rng[0]; n <= rng[1]; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			out = append(out, strings.Join(tokens[i:i+n], " "))
		}
	}
	return out
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func softmax(x []float64) []float64 {
	out := make([]float64, len(x))
	peak := floats.Max(x)
	for i, v := range x {
		out[i] = math.Exp(v - peak)
	}
	floats.Scale(1/floats.Sum(out), out)
	return out
}

// Percentile returns the q-th percentile of values using linear
// interpolation between closest ranks.
func Percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	pos := (float64(len(s)) - 1) * q / 100
	lo := math.Floor(pos)
	hi := math.Ceil(pos)
	if lo == hi {
		return s[int(lo)]
	}
	return s[int(lo)] + (s[int(hi)]-s[int(lo)])*(pos-lo)
}
