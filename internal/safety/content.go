package safety

import (
	"fmt"
	"regexp"
)

// ContentGuard filters harmful user input. Block patterns terminate the
// pipeline; warn patterns only flag the message.
type ContentGuard struct {
	blockPatterns []contentPattern
	warnPatterns  []contentPattern
}

type contentPattern struct {
	label string
	re    *regexp.Regexp
}

var _ Guard = (*ContentGuard)(nil)

func NewContentGuard() *ContentGuard {
	mk := func(label, expr string) contentPattern {
		return contentPattern{label: label, re: regexp.MustCompile(expr)}
	}
	return &ContentGuard{
		blockPatterns: []contentPattern{
			mk("violence", `(?i)\bhow\s+to\s+(make|build|assemble)\b.{0,30}\b(bomb|explosive|weapon|gun)\b`),
			mk("violence", `(?i)\b(kill|murder|hurt|harm)\b.{0,20}\b(someone|person|people|myself)\b`),
			mk("illegal", `(?i)\bhow\s+to\s+(hack|break\s+into|steal)\b.{0,30}\b(account|bank|car|house|network)\b`),
			mk("illegal", `(?i)\b(buy|sell|synthesize|cook)\b.{0,20}\b(meth|heroin|fentanyl|cocaine)\b`),
			mk("self-harm", `(?i)\b(ways?|methods?|how)\s+to\b.{0,20}\b(commit\s+suicide|end\s+my\s+life|self[\s-]?harm)\b`),
		},
		warnPatterns: []contentPattern{
			mk("credentials", `(?i)\b(password|passphrase|secret\s+key|private\s+key|api[\s_-]?key)\b`),
			mk("security", `(?i)\b(exploit|vulnerability|zero[\s-]?day|malware|ransomware)\b`),
		},
	}
}

func (g *ContentGuard) Name() string { return "content_filter" }

func (g *ContentGuard) Check(text string) CheckResult {
	for _, p := range g.blockPatterns {
		if p.re.MatchString(text) {
			return CheckResult{
				Passed:   false,
				Severity: SeverityBlock,
				Reason:   fmt.Sprintf("blocked content category: %s", p.label),
				Metadata: map[string]string{"category": p.label},
			}
		}
	}
	for _, p := range g.warnPatterns {
		if p.re.MatchString(text) {
			return CheckResult{
				Passed:   false,
				Severity: SeverityWarn,
				Reason:   fmt.Sprintf("sensitive topic: %s", p.label),
				Metadata: map[string]string{"category": p.label},
			}
		}
	}
	return Pass()
}
