package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dinh2350/lunar-sub002/internal/metrics"
	"github.com/dinh2350/lunar-sub002/internal/providers"
)

const (
	shellTimeout   = 10 * time.Second
	defaultTimeout = 30 * time.Second
	remotePrefix   = "mcp_"
)

// RemoteRouter dispatches calls to tools hosted outside the process.
type RemoteRouter interface {
	HasTool(name string) bool
	CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error)
	ListTools() []providers.ToolDefinition
}

// ApprovalFunc decides whether a gated tool call may proceed. risk is
// the permission level ordinal (1=read, 2=write, 3=execute).
type ApprovalFunc func(ctx context.Context, toolName string, args map[string]interface{}, risk int) bool

// Registry routes tool calls to builtins and remote servers, enforcing
// permissions and recording every decision in the audit log.
type Registry struct {
	mu          sync.RWMutex
	tools       map[string]Tool
	permissions *PermissionManager
	remote      RemoteRouter
	approve     ApprovalFunc
	autoRisk    int
	metrics     *metrics.Store
	audit       *metrics.AuditLog
	logger      *slog.Logger
}

// ToolResult is what the agent loop records after a call completes.
type ToolResult struct {
	Name       string
	Result     *Result
	OK         bool
	DurationMs int64
}

func NewRegistry(pm *PermissionManager, store *metrics.Store, audit *metrics.AuditLog, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:       make(map[string]Tool),
		permissions: pm,
		metrics:     store,
		audit:       audit,
		logger:      logger,
	}
}

// Register adds a builtin tool. Later registrations win.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// SetRemoteRouter attaches the router for remote tool servers.
func (r *Registry) SetRemoteRouter(router RemoteRouter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remote = router
}

// SetApproval installs the approval callback and the risk threshold at
// or below which calls are approved without asking.
func (r *Registry) SetApproval(fn ApprovalFunc, autoApproveRisk int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.approve = fn
	r.autoRisk = autoApproveRisk
}

// Get returns a builtin tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the full catalog, builtins sorted by name with
// remote tools appended.
func (r *Registry) Definitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, Definition(r.tools[name]))
	}
	if r.remote != nil {
		defs = append(defs, r.remote.ListTools()...)
	}
	return defs
}

// Execute runs one tool call through the permission pipeline. It never
// returns a nil result; failures come back as error results so the
// LLM can recover.
func (r *Registry) Execute(ctx context.Context, sessionID, name string, args map[string]interface{}) ToolResult {
	ctx, span := otel.Tracer("lunar/tools").Start(ctx, "tool.execute",
		trace.WithAttributes(attribute.String("tool.name", name)))
	defer span.End()

	start := time.Now()
	res := r.execute(ctx, sessionID, name, args)
	elapsed := time.Since(start)
	if r.metrics != nil {
		r.metrics.Inc("tool_calls", 1)
		if res.IsError {
			r.metrics.Inc("tool_errors", 1)
		}
		r.metrics.ObserveDuration("tool_duration_ms", elapsed)
	}
	return ToolResult{
		Name:       name,
		Result:     res,
		OK:         !res.IsError,
		DurationMs: elapsed.Milliseconds(),
	}
}

func (r *Registry) execute(ctx context.Context, sessionID, name string, args map[string]interface{}) *Result {
	r.mu.RLock()
	tool, isBuiltin := r.tools[name]
	remote := r.remote
	approve := r.approve
	autoRisk := r.autoRisk
	r.mu.RUnlock()

	isRemote := !isBuiltin && strings.HasPrefix(name, remotePrefix) && remote != nil && remote.HasTool(name)
	if !isBuiltin && !isRemote {
		r.recordAudit(name, args, false, "unknown tool", sessionID)
		return ErrorResult(fmt.Sprintf("unknown tool: %s", name))
	}

	var risk int
	var needsApproval bool
	if isBuiltin {
		perm, ok := r.permissions.Lookup(name)
		if !ok {
			r.recordAudit(name, args, false, "unknown tool", sessionID)
			return ErrorResult(fmt.Sprintf("unknown tool: %s", name))
		}
		risk = perm.Risk()
		needsApproval = perm.RequiresApproval
	} else {
		switch remoteAccess(name) {
		case remoteDenied:
			r.recordAudit(name, args, false, "destructive remote tool", sessionID)
			return ErrorResult(fmt.Sprintf("remote tool %s is blocked as destructive", name))
		case remoteReadOnly:
			risk, needsApproval = 1, false
		default:
			risk, needsApproval = 3, true
		}
	}

	if err := r.permissions.CheckQuota(sessionID, name); err != nil {
		r.recordAudit(name, args, false, err.Error(), sessionID)
		return ErrorResult(err.Error())
	}

	if err := r.validateArgs(name, args); err != nil {
		r.recordAudit(name, args, false, err.Error(), sessionID)
		return ErrorResult(err.Error())
	}

	if needsApproval && risk > autoRisk {
		if approve == nil || !approve(ctx, name, args, risk) {
			r.recordAudit(name, args, false, "approval denied", sessionID)
			return ErrorResult(fmt.Sprintf("tool %s was not approved", name))
		}
	}
	r.permissions.Consume(sessionID, name)

	timeout := defaultTimeout
	if name == "bash" {
		timeout = shellTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r.recordAudit(name, args, true, "", sessionID)
	r.logger.Debug("tools.execute", "tool", name, "session", sessionID)

	if isRemote {
		text, err := remote.CallTool(callCtx, name, args)
		if err != nil {
			return ErrorResult(fmt.Sprintf("remote tool failed: %v", err))
		}
		return SilentResult(text)
	}

	res := tool.Execute(callCtx, args)
	if res == nil {
		return ErrorResult(fmt.Sprintf("tool %s returned no result", name))
	}
	return res
}

type remoteAccessClass int

const (
	remoteGated remoteAccessClass = iota
	remoteReadOnly
	remoteDenied
)

// Remote servers declare their own tools, so access is inferred from
// the verb the tool name starts with.
var (
	remoteReadVerbs = []string{"search", "list", "read", "get", "fetch"}
	remoteDenyVerbs = []string{"drop", "delete_repo", "truncate"}
)

// remoteAccess classifies a prefixed remote tool name. Destructive
// verbs win over read verbs; anything unrecognized stays gated behind
// approval.
func remoteAccess(name string) remoteAccessClass {
	base := strings.TrimPrefix(name, remotePrefix)
	if i := strings.Index(base, "_"); i >= 0 {
		base = base[i+1:]
	}
	for _, verb := range remoteDenyVerbs {
		if strings.HasPrefix(base, verb) {
			return remoteDenied
		}
	}
	for _, verb := range remoteReadVerbs {
		if strings.HasPrefix(base, verb) {
			return remoteReadOnly
		}
	}
	return remoteGated
}

// validateArgs applies path and command allowlists to the arguments
// those policies cover.
func (r *Registry) validateArgs(name string, args map[string]interface{}) error {
	if path, ok := args["path"].(string); ok && path != "" {
		if err := r.permissions.ValidatePath(name, path); err != nil {
			return err
		}
	}
	if command, ok := args["command"].(string); ok && command != "" {
		if err := r.permissions.ValidateCommand(name, command); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) recordAudit(name string, args map[string]interface{}, allowed bool, reason, sessionID string) {
	if r.audit == nil {
		return
	}
	r.audit.Record(metrics.AuditEntry{
		Ts:      time.Now(),
		Tool:    name,
		Args:    summarizeArgs(args),
		Allowed: allowed,
		Reason:  reason,
		UserID:  sessionID,
	})
	if !allowed {
		r.logger.Warn("tools.blocked", "tool", name, "reason", reason, "session", sessionID)
	}
}

// summarizeArgs renders arguments compactly for the audit trail,
// truncating long values.
func summarizeArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := fmt.Sprintf("%v", args[k])
		if len(v) > 80 {
			v = v[:77] + "..."
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, " ")
}
