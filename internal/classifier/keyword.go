// Package classifier assigns bug reports to taxonomy categories. A keyword
// matcher over the title is tried first; a pre-trained TF-IDF linear model
// over title and body is the fallback.
package classifier

import (
	"strings"
	"unicode/utf8"

	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/JakeFAU/bugscope/internal/textnorm"
)

// Similarity scores two short texts in [0,1].
type Similarity interface {
	Similarity(a, b string) float64
}

// MatcherConfig holds the blend weights and the acceptance floor.
type MatcherConfig struct {
	FuzzyWeight     float64
	SemanticWeight  float64
	OverlapWeight   float64
	AcceptanceFloor float64
}

// DefaultMatcherConfig returns 0.4/0.4/0.2 weights and a 0.7 floor.
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		FuzzyWeight:     0.4,
		SemanticWeight:  0.4,
		OverlapWeight:   0.2,
		AcceptanceFloor: 0.7,
	}
}

// KeywordMatcher maps an issue title to a category.
type KeywordMatcher struct {
	table    KeywordTable
	semantic Similarity
	cfg      MatcherConfig
}

// NewKeywordMatcher builds a matcher. A nil semantic model scores 0.
func NewKeywordMatcher(table KeywordTable, semantic Similarity, cfg MatcherConfig) *KeywordMatcher {
	return &KeywordMatcher{table: table, semantic: semantic, cfg: cfg}
}

// Match returns the category for title, or ok=false when nothing qualifies.
// A literal keyword occurrence wins immediately; otherwise the best blended
// score strictly above the floor is returned, first in table order on ties.
func (m *KeywordMatcher) Match(title string) (category string, ok bool) {
	title = strings.ToLower(title)
	titleTokens := contentTokens(title)
	lengthFactor := min(float64(utf8.RuneCountInString(title))/100, 1)

	best := 0.0
	for _, entry := range m.table {
		for _, kw := range entry.Keywords {
			kw = strings.ToLower(kw)
			if kw == "" {
				continue
			}
			if strings.Contains(title, kw) {
				return entry.Category, true
			}
			score := m.cfg.FuzzyWeight*PartialRatio(title, kw) +
				m.cfg.SemanticWeight*m.similarity(title, kw) +
				m.cfg.OverlapWeight*overlap(titleTokens, contentTokens(kw))*lengthFactor
			if score > best && score > m.cfg.AcceptanceFloor {
				best = score
				category, ok = entry.Category, true
			}
		}
	}
	return category, ok
}

func (m *KeywordMatcher) similarity(a, b string) float64 {
	if m.semantic == nil {
		return 0
	}
	return m.semantic.Similarity(a, b)
}

// PartialRatio is the best Levenshtein similarity in [0,1] between the
// shorter string and any equal-length window of the longer one.
func PartialRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) > len(rb) {
		ra, rb = rb, ra
	}
	if len(ra) == 0 {
		return 0
	}
	best := 0.0
	for i := 0; i+len(ra) <= len(rb); i++ {
		r := levenshtein.RatioForStrings(ra, rb[i:i+len(ra)], levenshtein.DefaultOptions)
		if r > best {
			best = r
			if best == 1 {
				break
			}
		}
	}
	return best
}

func contentTokens(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range textnorm.Tokens(s) {
		if textnorm.IsStopWord(tok) {
			continue
		}
		out[tok] = struct{}{}
	}
	return out
}

// overlap is the share of keyword tokens present in the title.
func overlap(title, keyword map[string]struct{}) float64 {
	shared := 0
	for tok := range keyword {
		if _, ok := title[tok]; ok {
			shared++
		}
	}
	return float64(shared) / float64(max(len(keyword), 1))
}
