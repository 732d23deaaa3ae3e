// Package censor classifies assistant text as refused/filtered using a fixed
// lexical phrase set. The heuristic trades false positives for simplicity;
// misses are expected and tolerated.
package censor

import (
	"regexp"
	"strings"
)

// refusalPhrases is the disjunction of refusal/restriction phrases tested
// against assistant text. Matching is case-insensitive on whole words.
var refusalPhrases = []string{
	"cannot",
	"can't",
	"unable",
	"restricted",
	"not permitted",
	"not allowed",
	"sensitive topic",
	"content policy",
	"server is busy",
	"i'm sorry",
}

var refusalPattern *regexp.Regexp

func init() {
	quoted := make([]string, len(refusalPhrases))
	for i, p := range refusalPhrases {
		quoted[i] = regexp.QuoteMeta(p)
	}
	refusalPattern = regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

// IsCensored reports whether text matches the refusal phrase set.
func IsCensored(text string) bool {
	return refusalPattern.MatchString(text)
}

// pageCounterPattern matches a trailing "<digits>/<digits>" pagination marker
// accidentally captured with rendered text.
var pageCounterPattern = regexp.MustCompile(`\s*\d+\s*/\s*\d+\s*$`)

// Normalize strips trailing pagination markers and surrounding whitespace.
// Markers are stripped repeatedly so the operation is idempotent.
func Normalize(text string) string {
	for {
		stripped := pageCounterPattern.ReplaceAllString(text, "")
		if stripped == text {
			break
		}
		text = stripped
	}
	return strings.TrimSpace(text)
}
