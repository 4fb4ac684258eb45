package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// defaultDenyPatterns blocks commands with catastrophic or exfiltration
// potential. The permission layer already rejects shell chaining
// operators; this list targets the payload itself.
var defaultDenyPatterns = []string{
	`\brm\s+(-[a-zA-Z]*\s+)*(/|~|\$HOME)(\s|$)`,
	`\bmkfs\b`,
	`\bdd\s+.*of=/dev/`,
	`:\(\)\s*\{.*\};:`,
	`\bshutdown\b|\breboot\b|\bhalt\b`,
	`\bchmod\s+(-R\s+)?777\s+/`,
	`\bcurl\b.*\|\s*(ba)?sh`,
	`\bwget\b.*\|\s*(ba)?sh`,
	`>\s*/dev/sd[a-z]`,
	`\bkill\s+-9\s+1\b`,
}

// ShellTool runs a command through sh in the workspace directory.
type ShellTool struct {
	workingDir string
	deny       []*regexp.Regexp
	enabled    bool
}

var _ Tool = (*ShellTool)(nil)

func NewShellTool(workingDir string, enabled bool) *ShellTool {
	deny := make([]*regexp.Regexp, 0, len(defaultDenyPatterns))
	for _, p := range defaultDenyPatterns {
		deny = append(deny, regexp.MustCompile(p))
	}
	return &ShellTool{workingDir: workingDir, deny: deny, enabled: enabled}
}

func (t *ShellTool) Name() string { return "bash" }
func (t *ShellTool) Description() string {
	return "Run a shell command in the workspace and return its output"
}
func (t *ShellTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to execute",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ShellTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if !t.enabled {
		return ErrorResult("shell execution is disabled")
	}
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return ErrorResult("command is required")
	}
	for _, re := range t.deny {
		if re.MatchString(command) {
			return ErrorResult(fmt.Sprintf("command blocked by safety policy: %s", re.String()))
		}
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = t.workingDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrorResult("command timed out")
	}

	output := stdout.String()
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n"
		}
		output += "STDERR:\n" + stderr.String()
	}
	if err != nil {
		if output == "" {
			output = err.Error()
		} else {
			output += "\nexit: " + err.Error()
		}
		return &Result{ForLLM: output, Silent: true, IsError: true}
	}
	if strings.TrimSpace(output) == "" {
		output = "(command completed with no output)"
	}
	return SilentResult(output)
}
