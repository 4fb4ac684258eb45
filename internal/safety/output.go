package safety

import (
	"fmt"
	"regexp"
)

// OutputContentGuard blocks replies carrying destructive commands or
// code-execution attempts the user might paste and run.
type OutputContentGuard struct {
	patterns []contentPattern
}

var _ Guard = (*OutputContentGuard)(nil)

func NewOutputContentGuard() *OutputContentGuard {
	mk := func(label, expr string) contentPattern {
		return contentPattern{label: label, re: regexp.MustCompile(expr)}
	}
	return &OutputContentGuard{
		patterns: []contentPattern{
			mk("destructive-shell", `(?i)\brm\s+-[a-z]*r[a-z]*f[a-z]*\s+/`),
			mk("destructive-shell", `(?i)\bmkfs\.|\bdd\s+if=.*of=/dev/`),
			mk("destructive-sql", `(?i)\bDROP\s+(TABLE|DATABASE|SCHEMA)\b`),
			mk("destructive-sql", `(?i)\bDELETE\s+FROM\s+\w+\s*(;|$)`),
			mk("destructive-sql", `(?i)\bTRUNCATE\s+(TABLE\s+)?\w+`),
			mk("code-exec", `\beval\s*\(`),
			mk("code-exec", `\bexec\s*\(`),
			mk("code-exec", `__import__\s*\(`),
			mk("code-exec", `Runtime\.getRuntime`),
		},
	}
}

func (g *OutputContentGuard) Name() string { return "output_content" }

func (g *OutputContentGuard) Check(text string) CheckResult {
	for _, p := range g.patterns {
		if p.re.MatchString(text) {
			return CheckResult{
				Passed:   false,
				Severity: SeverityBlock,
				Reason:   fmt.Sprintf("dangerous output pattern: %s", p.label),
				Metadata: map[string]string{"category": p.label},
			}
		}
	}
	return Pass()
}
