// Package fuzzy compares song titles loosely across width, case,
// diacritics and punctuation differences.
package fuzzy

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// DefaultMinCoverage is the share of a suggestion's characters that must
// appear, in order, in the text it was taken from.
const DefaultMinCoverage = 0.8

var (
	versionRegex    = regexp.MustCompile(`(?i)\s*[\(\[]\s*(?:live|cover|remaster(?:ed)?|伴奏|翻唱|现场)[^\)\]]*[\)\]]\s*`)
	punctRegex      = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

type Normalizer struct {
	minCoverage float64
}

func NewNormalizer() *Normalizer {
	return &Normalizer{minCoverage: DefaultMinCoverage}
}

// Normalize folds full-width forms, strips diacritics and punctuation and
// lowercases the result.
func (n *Normalizer) Normalize(text string) string {
	text = norm.NFKD.String(text)

	var result strings.Builder
	for _, r := range text {
		if !unicode.IsMark(r) {
			result.WriteRune(r)
		}
	}
	text = result.String()

	text = punctRegex.ReplaceAllString(text, " ")
	text = whitespaceRegex.ReplaceAllString(text, " ")

	text = strings.ToLower(text)
	text = strings.TrimSpace(text)

	return text
}

// NormalizeTitle also drops bracketed version markers such as "(Live)".
func (n *Normalizer) NormalizeTitle(title string) string {
	title = norm.NFKC.String(title)
	title = versionRegex.ReplaceAllString(title, " ")
	return n.Normalize(title)
}

// Coverage returns the fraction of needle's runes that occur in haystack in
// order, ignoring spaces. An empty needle has no coverage.
func (n *Normalizer) Coverage(needle, haystack string) float64 {
	a := []rune(strings.ReplaceAll(n.NormalizeTitle(needle), " ", ""))
	b := []rune(strings.ReplaceAll(n.Normalize(haystack), " ", ""))
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	return float64(longestCommonSubsequence(a, b)) / float64(len(a))
}

// Grounded reports whether suggestion is mostly made of text from source,
// which rejects translated or invented titles.
func (n *Normalizer) Grounded(suggestion, source string) bool {
	return n.Coverage(suggestion, source) >= n.minCoverage
}

func longestCommonSubsequence(s1, s2 []rune) int {
	prev := make([]int, len(s2)+1)
	curr := make([]int, len(s2)+1)

	for i := 1; i <= len(s1); i++ {
		for j := 1; j <= len(s2); j++ {
			if s1[i-1] == s2[j-1] {
				curr[j] = prev[j-1] + 1
			} else {
				curr[j] = max(prev[j], curr[j-1])
			}
		}
		prev, curr = curr, prev
	}

	return prev[len(s2)]
}
