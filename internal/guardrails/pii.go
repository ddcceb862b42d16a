package guardrails

import (
	"regexp"
	"strings"
)

var (
	cardPattern = regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`)
	cvvPattern  = regexp.MustCompile(`\b\d{3,4}\b`)
)

// DetectPII reports card-like digit runs next to the word "card" and short
// codes next to "cvv". Both checks need the cue word so that ordinary numbers
// (flight numbers, dates, amounts) do not trip it.
func DetectPII(text string) bool {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "card") && cardPattern.MatchString(text) {
		return true
	}
	if strings.Contains(lower, "cvv") && cvvPattern.MatchString(text) {
		return true
	}
	return false
}
