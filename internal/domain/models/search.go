package models

import (
	"regexp"
	"strings"
	"unicode"
)

// IsWildcardQuery reports whether a search query should be treated as a
// wildcard pattern rather than free text.
func IsWildcardQuery(query string) bool {
	return strings.Contains(query, "*")
}

// WildcardRegex converts a wildcard query into a regular expression source:
// every character is matched literally except `*`, which becomes a
// multi-character wildcard. The result is unanchored and case handling is left
// to the caller.
func WildcardRegex(query string) string {
	return strings.ReplaceAll(regexp.QuoteMeta(query), `\*`, `.*`)
}

// QueryTokens splits free text into lowercase search tokens.
func QueryTokens(query string) []string {
	isSep := func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}
	var tokens []string
	for _, token := range strings.FieldsFunc(query, isSep) {
		tokens = append(tokens, strings.ToLower(token))
	}
	return tokens
}
