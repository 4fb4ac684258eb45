package safety

import (
	"fmt"
	"regexp"
	"strings"
)

// InjectionGuard detects prompt-injection attempts against the agent.
type InjectionGuard struct {
	patterns []injectionPattern
	zeroWidth *strings.Replacer
}

type injectionPattern struct {
	label string
	re    *regexp.Regexp
}

var _ Guard = (*InjectionGuard)(nil)

// NewInjectionGuard compiles the known attack shapes.
func NewInjectionGuard() *InjectionGuard {
	mk := func(label, expr string) injectionPattern {
		return injectionPattern{label: label, re: regexp.MustCompile(expr)}
	}
	return &InjectionGuard{
		patterns: []injectionPattern{
			mk("instruction-override", `(?i)\b(ignore|disregard|forget)\s+(all\s+|your\s+|the\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|rules?|context)`),
			mk("instruction-override", `(?i)\bnew\s+instructions?\s*:\s*`),
			mk("role-reassignment", `(?i)\byou\s+are\s+(now|no\s+longer)\b.{0,40}\b(assistant|ai|bot|model|dan|jailbr)`),
			mk("role-reassignment", `(?i)\b(pretend|act\s+as\s+if|roleplay)\b.{0,30}\bno\s+(rules|restrictions|filters|guidelines)`),
			mk("memory-wipe", `(?i)\b(wipe|erase|delete|clear|reset)\b.{0,20}\b(your\s+)?(memory|memories|history|context)\b`),
			mk("system-prompt-extraction", `(?i)\b(reveal|show|print|repeat|output|tell\s+me)\b.{0,40}\b(system\s+prompt|initial\s+instructions?|hidden\s+instructions?)`),
			mk("control-characters", "[\x00-\x08\x0b\x0c\x0e-\x1f]"),
		},
		zeroWidth: strings.NewReplacer(
			"\u200b", "", // zero width space
			"\u200c", "", // zero width non-joiner
			"\u200d", "", // zero width joiner
			"\u2060", "", // word joiner
			"\ufeff", "", // BOM
		),
	}
}

func (g *InjectionGuard) Name() string { return "prompt_injection" }

func (g *InjectionGuard) Check(text string) CheckResult {
	stripped := g.zeroWidth.Replace(text)

	for _, p := range g.patterns {
		if p.re.MatchString(stripped) {
			return CheckResult{
				Passed:   false,
				Severity: SeverityBlock,
				Reason:   fmt.Sprintf("prompt injection detected: %s", p.label),
				Metadata: map[string]string{"pattern": p.label},
			}
		}
	}

	// Zero-width characters alone are suspicious but not conclusive:
	// they can hide instructions from a human reviewer.
	if stripped != text {
		return CheckResult{
			Passed:   false,
			Severity: SeverityWarn,
			Reason:   "zero-width characters present",
		}
	}
	return Pass()
}
