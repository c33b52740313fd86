// Package regex implements RegexExtractor: in-process numeric parsers
// compiled from a keyword list, an optional tense/relation token, a
// numeric literal, and optional units or a denominator, following the
// common pattern every CRATE-style clinical numeric parser shares.
package regex

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"cratenlp/pkg/nlpcore"
)

// Parser is one compiled numeric (or validator) parser bound to one
// destination table, run once per SourceRecord by RegexExtractor.
type Parser interface {
	VariableName() string
	Schema() nlpcore.TabularSchema
	Parse(rec nlpcore.SourceRecord) ([]*nlpcore.ExtractionRow, error)
}

var tenseTokens = map[string]string{
	"is":   "present",
	"are":  "present",
	"has":  "present",
	"have": "present",
	"was":  "past",
	"were": "past",
	"had":  "past",
}

var relationTokens = map[string]string{
	"less than":    "<",
	"greater than": ">",
	"at least":     ">=",
	"at most":      "<=",
	"over":         ">",
	"under":        "<",
	">=":           ">=",
	"<=":           "<=",
	">":            ">",
	"<":             "<",
}

func keywordAlternation(keywords []string) string {
	escaped := make([]string, len(keywords))
	for i, k := range keywords {
		escaped[i] = regexp.QuoteMeta(k)
	}
	return strings.Join(escaped, "|")
}

// buildUnitRegex compiles the value+optional-unit pattern shared by every
// numeric-unit parser: keyword, optional tense word, optional relation
// phrase, a numeric literal, and an optional trailing unit token.
func buildUnitRegex(keywords []string) *regexp.Regexp {
	pattern := fmt.Sprintf(
		`(?i)\b(%s)\b\s*(?:(was|is|were|are|had|has|have)\s+)?(?:(less than|greater than|at least|at most|over|under|>=|<=|>|<)\s*)?(\d+(?:\.\d+)?)\s*([a-zA-Z/%%]*)`,
		keywordAlternation(keywords))
	return regexp.MustCompile(pattern)
}

// buildDenominatorRegex compiles the "keyword value/denominator" pattern
// shared by cognitive-test-style parsers (MMSE, ACE, ...).
func buildDenominatorRegex(keywords []string) *regexp.Regexp {
	pattern := fmt.Sprintf(
		`(?i)\b(%s)\b\s*(?:(was|is|were|are|had|has|have)\s+)?(\d+)\s*/\s*(\d+)`,
		keywordAlternation(keywords))
	return regexp.MustCompile(pattern)
}

// buildKeywordOnlyRegex compiles the validator-sibling pattern: keyword
// alone, no value required.
func buildKeywordOnlyRegex(keywords []string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`(?i)\b(%s)\b`, keywordAlternation(keywords)))
}

// canonicalColumnSuffix turns a canonical unit string ("mg/L") into a
// valid SQL identifier fragment ("mg_l"), used to name each numeric
// parser's unit-specific alias column (value_mg_l).
func canonicalColumnSuffix(unit string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(unit) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func resolveTense(token string) (tenseText, tense string) {
	if token == "" {
		return "", "present"
	}
	if mapped, ok := tenseTokens[strings.ToLower(token)]; ok {
		return token, mapped
	}
	return token, "present"
}

func resolveRelation(token string) (relationText, relation string) {
	if token == "" {
		return "", "="
	}
	if mapped, ok := relationTokens[strings.ToLower(token)]; ok {
		return token, mapped
	}
	return token, "="
}

func parseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
