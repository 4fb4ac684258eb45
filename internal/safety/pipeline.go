// Package safety implements the guard pipeline run on user input before
// the LLM sees it and on proposed replies before delivery.
package safety

import (
	"fmt"
	"log/slog"
)

// Severity classifies a failed check.
type Severity string

const (
	SeverityBlock Severity = "block"
	SeverityWarn  Severity = "warn"
	SeverityInfo  Severity = "info"
)

// CheckResult is one guard's verdict.
type CheckResult struct {
	Passed   bool              `json:"passed"`
	Severity Severity          `json:"severity"`
	Reason   string            `json:"reason,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Pass is the all-clear result.
func Pass() CheckResult {
	return CheckResult{Passed: true, Severity: SeverityInfo}
}

// Guard is one unit of the pipeline.
type Guard interface {
	Name() string
	Check(text string) CheckResult
}

// Outcome summarizes a full pipeline run.
type Outcome struct {
	Blocked   bool
	Reason    string // blocking guard's reason
	BlockedBy string // blocking guard's name
	Warnings  []CheckResult
}

// Pipeline is an ordered list of named guards.
type Pipeline struct {
	name   string
	guards []Guard
	logger *slog.Logger
}

// NewPipeline builds a pipeline; name shows up in logs and metrics.
func NewPipeline(name string, logger *slog.Logger, guards ...Guard) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{name: name, guards: guards, logger: logger}
}

// Name returns the pipeline identifier.
func (p *Pipeline) Name() string { return p.name }

// GuardNames lists the configured guards in order.
func (p *Pipeline) GuardNames() []string {
	names := make([]string, len(p.guards))
	for i, g := range p.guards {
		names[i] = g.Name()
	}
	return names
}

// Without returns a copy of the pipeline with the named guards removed.
// Unknown names are ignored.
func (p *Pipeline) Without(names ...string) *Pipeline {
	if len(names) == 0 {
		return p
	}
	skip := make(map[string]bool, len(names))
	for _, n := range names {
		skip[n] = true
	}
	kept := make([]Guard, 0, len(p.guards))
	for _, g := range p.guards {
		if !skip[g.Name()] {
			kept = append(kept, g)
		}
	}
	return &Pipeline{name: p.name, guards: kept, logger: p.logger}
}

// Run evaluates guards in declared order. The first block terminates the
// pipeline; warn and info verdicts accumulate. A panicking guard is
// recorded as a warning and does not stop the pipeline.
func (p *Pipeline) Run(text string) Outcome {
	var out Outcome
	for _, g := range p.guards {
		res := p.check(g, text)
		if res.Passed {
			continue
		}
		switch res.Severity {
		case SeverityBlock:
			p.logger.Warn("safety.blocked", "pipeline", p.name, "guard", g.Name(), "reason", res.Reason)
			out.Blocked = true
			out.Reason = res.Reason
			out.BlockedBy = g.Name()
			return out
		default:
			p.logger.Debug("safety.flagged", "pipeline", p.name, "guard", g.Name(), "severity", res.Severity, "reason", res.Reason)
			out.Warnings = append(out.Warnings, res)
		}
	}
	return out
}

func (p *Pipeline) check(g Guard, text string) (res CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("safety.guard_panic", "pipeline", p.name, "guard", g.Name(), "panic", r)
			res = CheckResult{
				Passed:   false,
				Severity: SeverityWarn,
				Reason:   fmt.Sprintf("guard %s failed: %v", g.Name(), r),
			}
		}
	}()
	return g.Check(text)
}

// DefaultFallback is returned to the channel when a pipeline blocks.
const DefaultFallback = "I can't help with that request."

// InputPipeline builds the standard pre-LLM pipeline.
func InputPipeline(logger *slog.Logger) *Pipeline {
	return NewPipeline("input", logger,
		NewInjectionGuard(),
		NewContentGuard(),
		NewPIIGuard(),
	)
}

// OutputPipeline builds the standard post-LLM pipeline. systemPrompt
// enables the prompt-leak guard when non-empty.
func OutputPipeline(systemPrompt string, logger *slog.Logger) *Pipeline {
	guards := []Guard{
		NewQualityGuard(),
		NewOutputContentGuard(),
		NewPIIGuard(),
	}
	if systemPrompt != "" {
		guards = append(guards, NewLeakGuard(systemPrompt))
	}
	return NewPipeline("output", logger, guards...)
}
