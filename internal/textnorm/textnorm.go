// Package textnorm turns raw markdown issue text into the normalized token
// stream consumed by the keyword matcher and the statistical classifier.
package textnorm

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/aaaton/golem/v4"
	"github.com/aaaton/golem/v4/dicts/en"
	"github.com/russross/blackfriday/v2"
)

var (
	imagePattern      = regexp.MustCompile(`!\[.*?\]\(.*?\)`)
	linkPattern       = regexp.MustCompile(`https?://\S+`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Lemmatizer maps a word to its dictionary form.
type Lemmatizer interface {
	Lemma(word string) string
}

// Normalizer strips markup, drops stop words and lemmatizes.
type Normalizer struct {
	lemmatizer Lemmatizer
}

// New builds a Normalizer backed by the English golem dictionary.
func New() (*Normalizer, error) {
	lem, err := golem.New(en.New())
	if err != nil {
		return nil, fmt.Errorf("load lemmatizer: %w", err)
	}
	return &Normalizer{lemmatizer: lem}, nil
}

// NewWithLemmatizer builds a Normalizer with a caller supplied lemmatizer.
// A nil lemmatizer leaves tokens unchanged.
func NewWithLemmatizer(l Lemmatizer) *Normalizer {
	return &Normalizer{lemmatizer: l}
}

// Normalize returns the space-joined normalized tokens of raw.
// Empty input yields an empty string.
func (n *Normalizer) Normalize(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	text := imagePattern.ReplaceAllString(raw, "[IMAGE]")
	text = linkPattern.ReplaceAllString(text, "[LINK]")
	text = PlainText(text)
	text = strings.ToLower(text)

	var out []string
	for _, tok := range Tokens(text) {
		if !isAlpha(tok) || IsCustomStopWord(tok) {
			continue
		}
		out = append(out, n.lemma(tok))
	}
	return strings.Join(out, " ")
}

func (n *Normalizer) lemma(tok string) string {
	if n == nil || n.lemmatizer == nil {
		return tok
	}
	if l := n.lemmatizer.Lemma(tok); l != "" {
		return strings.ToLower(l)
	}
	return tok
}

// PlainText renders markdown to HTML and joins its text nodes with a single
// space, collapsing runs of whitespace.
func PlainText(markdown string) string {
	html := blackfriday.Run([]byte(markdown))
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return collapse(markdown)
	}
	var parts []string
	var walk func(*goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, c *goquery.Selection) {
			if goquery.NodeName(c) == "#text" {
				parts = append(parts, c.Text())
				return
			}
			walk(c)
		})
	}
	walk(doc.Selection)
	return collapse(strings.Join(parts, " "))
}

func collapse(s string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

// Tokens splits text into lowercase word tokens. Tokens may contain digits
// and apostrophes; callers filter further.
func Tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func isAlpha(tok string) bool {
	if tok == "" {
		return false
	}
	for _, r := range tok {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
