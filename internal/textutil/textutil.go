// Package textutil tokenizes summaries for similarity scoring and size
// estimates.
package textutil

import (
	"strings"
	"unicode"

	"github.com/bbalet/stopwords"
	"github.com/jdkato/prose/v2"
)

// Tokens splits text into word tokens. Punctuation tokens are dropped.
func Tokens(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithSegmentation(false))
	if err != nil {
		return strings.Fields(text)
	}
	var out []string
	for _, tok := range doc.Tokens() {
		if hasWordRune(tok.Text) {
			out = append(out, tok.Text)
		}
	}
	return out
}

// EstimateTokens approximates model tokens for text, at four model tokens
// per three words.
func EstimateTokens(text string) int {
	n := len(Tokens(text))
	return (n*4 + 2) / 3
}

// ContentWords returns the lowercased non-stopword tokens of text as a set.
func ContentWords(text string) map[string]struct{} {
	cleaned := stopwords.CleanString(strings.ToLower(text), "en", false)
	set := make(map[string]struct{})
	for _, tok := range Tokens(cleaned) {
		set[strings.ToLower(tok)] = struct{}{}
	}
	return set
}

// Jaccard returns |a∩b| / |a∪b|, 0 when both are empty.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func hasWordRune(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
