package safety

import (
	"fmt"
	"regexp"
	"strings"
)

// PIIGuard detects personally identifiable information. Critical
// families block; sensitive families warn and carry a stable redaction.
type PIIGuard struct{}

var _ Guard = (*PIIGuard)(nil)

func NewPIIGuard() *PIIGuard { return &PIIGuard{} }

func (g *PIIGuard) Name() string { return "pii_detector" }

var (
	ssnRe        = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	bareNineRe   = regexp.MustCompile(`\b\d{9}\b`)
	creditCardRe = regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`)
	secretRe     = regexp.MustCompile(`(?i)\b(?:my|the)\s+(?:password|passwd|api[\s_-]?key|secret|token)\s+(?:is|was|=|:)\s*\S+`)
	bankRe       = regexp.MustCompile(`(?i)\b(?:account|routing)\s*(?:number|no\.?|#)\s*:?\s*\d{6,17}\b`)

	emailRe = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phoneRe = regexp.MustCompile(`\+?\d{0,2}[\s.-]?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}\b`)
	ipRe    = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	dobRe   = regexp.MustCompile(`(?i)\b(?:born\s+on|date\s+of\s+birth|dob)\s*:?\s*\d{1,4}[/-]\d{1,2}[/-]\d{1,4}\b`)

	// Words that make a bare 9-digit number look like an identifier
	// rather than an SSN.
	ssnSuppressRe = regexp.MustCompile(`(?i)\b(version|port|id|code|zip|build|serial|order|ticket)\b`)
)

func (g *PIIGuard) Check(text string) CheckResult {
	if family := criticalFamily(text); family != "" {
		return CheckResult{
			Passed:   false,
			Severity: SeverityBlock,
			Reason:   fmt.Sprintf("critical PII detected: %s", family),
			Metadata: map[string]string{"family": family},
		}
	}

	var found []string
	if emailRe.MatchString(text) {
		found = append(found, "email")
	}
	if hasPhone(text) {
		found = append(found, "phone")
	}
	if ipRe.MatchString(text) {
		found = append(found, "ip")
	}
	if dobRe.MatchString(text) {
		found = append(found, "dob")
	}
	if len(found) > 0 {
		return CheckResult{
			Passed:   false,
			Severity: SeverityWarn,
			Reason:   fmt.Sprintf("sensitive PII detected: %s", strings.Join(found, ", ")),
			Metadata: map[string]string{"families": strings.Join(found, ",")},
		}
	}
	return Pass()
}

func criticalFamily(text string) string {
	switch {
	case ssnRe.MatchString(text):
		return "SSN"
	case hasBareSSN(text):
		return "SSN"
	case hasCreditCard(text):
		return "credit card"
	case secretRe.MatchString(text):
		return "credential"
	case bankRe.MatchString(text):
		return "bank account"
	}
	return ""
}

// hasBareSSN reports a 9-digit run unless identifier-ish words appear
// nearby. "version 123456789" or "port 123456789" are not SSNs.
func hasBareSSN(text string) bool {
	loc := bareNineRe.FindStringIndex(text)
	if loc == nil {
		return false
	}
	start := loc[0] - 24
	if start < 0 {
		start = 0
	}
	end := loc[1] + 24
	if end > len(text) {
		end = len(text)
	}
	return !ssnSuppressRe.MatchString(text[start:end])
}

// hasCreditCard requires 13-16 digits after separators are stripped.
func hasCreditCard(text string) bool {
	for _, m := range creditCardRe.FindAllString(text, -1) {
		digits := countDigits(m)
		if digits >= 13 && digits <= 16 {
			return true
		}
	}
	return false
}

// hasPhone ignores matches with fewer than 10 digits.
func hasPhone(text string) bool {
	for _, m := range phoneRe.FindAllString(text, -1) {
		if countDigits(m) >= 10 {
			return true
		}
	}
	return false
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// Redact replaces sensitive PII with stable placeholders. Redaction is
// idempotent: placeholders never re-match their family's pattern.
func Redact(text string) string {
	text = emailRe.ReplaceAllStringFunc(text, redactEmail)
	text = creditCardRe.ReplaceAllStringFunc(text, redactCreditCard)
	text = phoneRe.ReplaceAllStringFunc(text, redactPhone)
	text = ipRe.ReplaceAllString(text, "[IP-REDACTED]")
	text = dobRe.ReplaceAllString(text, "[DOB-REDACTED]")
	return text
}

// redactEmail keeps the first local character and the domain: a***@domain.
func redactEmail(m string) string {
	at := strings.IndexByte(m, '@')
	if at < 1 {
		return "[EMAIL-REDACTED]"
	}
	return m[:1] + "***" + m[at:]
}

// redactCreditCard keeps the last four digits: [CC-****1234].
func redactCreditCard(m string) string {
	if n := countDigits(m); n < 13 || n > 16 {
		return m
	}
	digits := make([]byte, 0, 16)
	for i := 0; i < len(m); i++ {
		if m[i] >= '0' && m[i] <= '9' {
			digits = append(digits, m[i])
		}
	}
	return "[CC-****" + string(digits[len(digits)-4:]) + "]"
}

// redactPhone keeps the last four digits: [PHONE-***1234].
func redactPhone(m string) string {
	if countDigits(m) < 10 {
		return m
	}
	digits := make([]byte, 0, 12)
	for i := 0; i < len(m); i++ {
		if m[i] >= '0' && m[i] <= '9' {
			digits = append(digits, m[i])
		}
	}
	return "[PHONE-***" + string(digits[len(digits)-4:]) + "]"
}
