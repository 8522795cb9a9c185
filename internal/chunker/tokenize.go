package chunker

import (
	"regexp"
	"strings"
)

// CharsPerToken is the heuristic used to estimate LLM tokens from text length.
const CharsPerToken = 4

// tokenPattern matches identifiers of two or more characters.
var tokenPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z_0-9]{1,}|[A-Za-z]{2,}`)

// Tokenize returns the lowercased word-like tokens of text in order.
func Tokenize(text string) []string {
	matches := tokenPattern.FindAllString(text, -1)
	for i, m := range matches {
		matches[i] = strings.ToLower(m)
	}
	return matches
}

// TokenSet returns the distinct tokens of terms.
func TokenSet(terms []string) map[string]struct{} {
	set := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		set[t] = struct{}{}
	}
	return set
}

// EstimateTokens approximates the LLM token cost of text, never below 1.
func EstimateTokens(text string) int {
	return max(1, len(text)/CharsPerToken)
}
