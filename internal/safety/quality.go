package safety

import (
	"fmt"
	"regexp"
	"strings"
)

// QualityGuard checks the shape of a proposed reply before delivery.
type QualityGuard struct{}

var _ Guard = (*QualityGuard)(nil)

func NewQualityGuard() *QualityGuard { return &QualityGuard{} }

func (g *QualityGuard) Name() string { return "response_quality" }

var (
	trailingStopwords = map[string]bool{
		"the": true, "a": true, "an": true, "and": true, "or": true,
		"but": true, "with": true, "to": true, "of": true, "in": true,
		"is": true, "was": true, "for": true,
	}
	overconfidentRe = regexp.MustCompile(`(?i)\b(definitely|certainly|absolutely|guaranteed|always|never fails|100%)\b`)
	uncertainCueRe  = regexp.MustCompile(`(?i)\b(stock|market|price|weather|forecast|election|diagnos|lottery|predict)\w*\b`)
)

func (g *QualityGuard) Check(text string) CheckResult {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 5 {
		return CheckResult{
			Passed:   false,
			Severity: SeverityBlock,
			Reason:   "empty or too-short response",
		}
	}

	if reason := repetitiveTrigram(trimmed); reason != "" {
		return CheckResult{Passed: false, Severity: SeverityWarn, Reason: reason}
	}

	if incompleteEnding(trimmed) {
		return CheckResult{
			Passed:   false,
			Severity: SeverityWarn,
			Reason:   "response appears incomplete",
		}
	}

	if overconfidentRe.MatchString(trimmed) && uncertainCueRe.MatchString(trimmed) {
		return CheckResult{
			Passed:   false,
			Severity: SeverityWarn,
			Reason:   "overconfident language on an uncertain topic",
		}
	}
	return Pass()
}

// repetitiveTrigram flags any 3-word sequence appearing at least 3 times
// and making up more than 10% of all trigrams.
func repetitiveTrigram(text string) string {
	words := strings.Fields(strings.ToLower(text))
	if len(words) < 9 {
		return ""
	}
	total := len(words) - 2
	counts := make(map[string]int, total)
	for i := 0; i < total; i++ {
		tri := words[i] + " " + words[i+1] + " " + words[i+2]
		counts[tri]++
	}
	for tri, n := range counts {
		if n >= 3 && float64(n)/float64(total) > 0.10 {
			return fmt.Sprintf("repetitive phrase %q (%d occurrences)", tri, n)
		}
	}
	return ""
}

// incompleteEnding catches replies cut off mid-sentence: trailing comma,
// dash, colon, or a dangling stopword.
func incompleteEnding(text string) bool {
	switch text[len(text)-1] {
	case ',', '-', ':', ';':
		return true
	}
	words := strings.Fields(text)
	last := strings.ToLower(strings.Trim(words[len(words)-1], `.,!?"'`))
	return trailingStopwords[last] && !strings.HasSuffix(text, ".") && !strings.HasSuffix(text, "!") && !strings.HasSuffix(text, "?")
}
