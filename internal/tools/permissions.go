package tools

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// Level classifies what a tool is allowed to touch.
type Level string

const (
	LevelRead    Level = "read"
	LevelWrite   Level = "write"
	LevelExecute Level = "execute"
)

// Permission is the policy attached to a single tool.
type Permission struct {
	ToolName         string
	Level            Level
	RequiresApproval bool
	AllowedPaths     []string
	AllowedCommands  []string
	MaxExecutions    int // 0 = unlimited, per session
	Description      string
}

// Risk maps a permission level to an ordinal for approval decisions.
// Higher levels carry more blast radius.
func (p Permission) Risk() int {
	switch p.Level {
	case LevelRead:
		return 1
	case LevelWrite:
		return 2
	case LevelExecute:
		return 3
	}
	return 3
}

// PermissionManager enforces per-tool policy: execution quotas, path
// allowlists, and command allowlists. Quota counters are per session.
type PermissionManager struct {
	mu          sync.RWMutex
	permissions map[string]Permission
	counts      map[string]int // "{sessionID}/{toolName}" -> executions
}

func NewPermissionManager() *PermissionManager {
	return &PermissionManager{
		permissions: make(map[string]Permission),
		counts:      make(map[string]int),
	}
}

// Set registers or replaces the policy for a tool.
func (m *PermissionManager) Set(p Permission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permissions[p.ToolName] = p
}

// Lookup returns the registered policy for a tool, if any. Tools with
// no policy are refused by the registry.
func (m *PermissionManager) Lookup(toolName string) (Permission, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.permissions[toolName]
	return p, ok
}

// CheckQuota returns an error when the session has exhausted the
// tool's execution budget. It does not consume anything; only calls
// that actually dispatch count, via Consume.
func (m *PermissionManager) CheckQuota(sessionID, toolName string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.permissions[toolName]
	if !ok || p.MaxExecutions <= 0 {
		return nil
	}
	if m.counts[sessionID+"/"+toolName] >= p.MaxExecutions {
		return fmt.Errorf("tool %s exceeded its limit of %d executions for this session", toolName, p.MaxExecutions)
	}
	return nil
}

// Consume records one execution against the session's budget.
func (m *PermissionManager) Consume(sessionID, toolName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[sessionID+"/"+toolName]++
}

// ResetSession clears quota counters for a session.
func (m *PermissionManager) ResetSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.counts {
		if strings.HasPrefix(key, sessionID+"/") {
			delete(m.counts, key)
		}
	}
}

// ValidatePath checks a path argument against the tool's allowlist.
// Traversal segments are rejected outright; when an allowlist exists,
// the cleaned path must fall under one of its prefixes.
func (m *PermissionManager) ValidatePath(toolName, path string) error {
	if strings.Contains(path, "..") {
		return fmt.Errorf("path traversal not allowed: %s", path)
	}
	p, _ := m.Lookup(toolName)
	if len(p.AllowedPaths) == 0 {
		return nil
	}
	cleaned := filepath.Clean(path)
	for _, prefix := range p.AllowedPaths {
		if pathUnder(cleaned, filepath.Clean(prefix)) {
			return nil
		}
	}
	return fmt.Errorf("path %s is outside the allowed directories for %s", path, toolName)
}

// ValidateCommand checks a shell command against the tool's allowlist.
// Shell metacharacters that would chain a second command are rejected
// regardless of the allowlist.
func (m *PermissionManager) ValidateCommand(toolName, command string) error {
	for _, meta := range []string{";", "|", "`", "$(", "&&", "||"} {
		if strings.Contains(command, meta) {
			return fmt.Errorf("command contains disallowed shell operator %q", meta)
		}
	}
	p, _ := m.Lookup(toolName)
	if len(p.AllowedCommands) == 0 {
		return nil
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return fmt.Errorf("empty command")
	}
	base := filepath.Base(fields[0])
	for _, allowed := range p.AllowedCommands {
		if base == allowed || fields[0] == allowed {
			return nil
		}
	}
	return fmt.Errorf("command %s is not in the allowlist for %s", base, toolName)
}

func pathUnder(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}
