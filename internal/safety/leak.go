package safety

import (
	"regexp"
	"strings"
)

// leakFragmentLen is the sliding window size over the system prompt.
const leakFragmentLen = 40

// LeakGuard blocks replies that reproduce the configured system prompt,
// either by direct admission or by echoing its text.
type LeakGuard struct {
	fragments []string
	directRe  *regexp.Regexp
}

var _ Guard = (*LeakGuard)(nil)

func NewLeakGuard(systemPrompt string) *LeakGuard {
	return &LeakGuard{
		fragments: promptFragments(systemPrompt),
		directRe:  regexp.MustCompile(`(?i)\b(my|the)\s+(system\s+prompt|instructions?)\s+(say|state|are|is|tell)\b`),
	}
}

func (g *LeakGuard) Name() string { return "prompt_leak" }

func (g *LeakGuard) Check(text string) CheckResult {
	if g.directRe.MatchString(text) {
		return CheckResult{
			Passed:   false,
			Severity: SeverityBlock,
			Reason:   "reply discloses its instructions",
		}
	}

	lower := strings.ToLower(text)
	matched := 0
	for _, frag := range g.fragments {
		if strings.Contains(lower, frag) {
			matched++
			if matched >= 3 {
				return CheckResult{
					Passed:   false,
					Severity: SeverityBlock,
					Reason:   "reply contains system prompt fragments",
				}
			}
		}
	}
	return Pass()
}

// promptFragments slices the prompt into distinct lowercase windows.
// Word-aligned, non-overlapping, so three matches mean three separate
// parts of the prompt leaked.
func promptFragments(prompt string) []string {
	words := strings.Fields(strings.ToLower(prompt))
	var fragments []string
	var current []string
	length := 0
	for _, w := range words {
		current = append(current, w)
		length += len(w) + 1
		if length >= leakFragmentLen {
			fragments = append(fragments, strings.Join(current, " "))
			current = current[:0]
			length = 0
		}
	}
	if len(current) > 2 {
		fragments = append(fragments, strings.Join(current, " "))
	}
	return fragments
}
