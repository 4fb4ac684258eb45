// Package mcp connects to external tool servers speaking the Model
// Context Protocol and exposes their tools under mcp_{server}_{tool}.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/dinh2350/lunar-sub002/internal/config"
	"github.com/dinh2350/lunar-sub002/internal/providers"
)

const (
	callTimeout         = 30 * time.Second
	healthCheckInterval = 30 * time.Second
)

// remoteTool maps a prefixed tool name back to its server and the name
// the server knows it by.
type remoteTool struct {
	server     string
	original   string
	definition providers.ToolDefinition
}

// serverState tracks one connected server.
type serverState struct {
	name      string
	transport string
	client    *mcpclient.Client
	connected atomic.Bool
	toolNames []string
	cancel    context.CancelFunc

	mu      sync.Mutex
	lastErr string
}

// ServerStatus is a point-in-time view of one server connection.
type ServerStatus struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	Connected bool   `json:"connected"`
	ToolCount int    `json:"tool_count"`
	Error     string `json:"error,omitempty"`
}

// Manager owns the server connections and implements the remote tool
// router the registry dispatches mcp_ calls through.
type Manager struct {
	mu      sync.RWMutex
	servers map[string]*serverState
	tools   map[string]remoteTool
	logger  *slog.Logger
}

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		servers: make(map[string]*serverState),
		tools:   make(map[string]remoteTool),
		logger:  logger,
	}
}

// Start connects every enabled server. A server that fails to connect
// is logged and skipped; the rest of the platform keeps running.
func (m *Manager) Start(ctx context.Context, cfgs []config.MCPServerConfig) {
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			m.logger.Info("mcp.server_disabled", "server", cfg.Name)
			continue
		}
		if err := m.connectServer(ctx, cfg); err != nil {
			m.logger.Warn("mcp.connect_failed", "server", cfg.Name, "error", err)
		}
	}
}

// Stop closes every connection and forgets the registered tools.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, ss := range m.servers {
		if ss.cancel != nil {
			ss.cancel()
		}
		if ss.client != nil {
			if err := ss.client.Close(); err != nil {
				m.logger.Debug("mcp.close_error", "server", name, "error", err)
			}
		}
		for _, toolName := range ss.toolNames {
			delete(m.tools, toolName)
		}
	}
	m.servers = make(map[string]*serverState)
}

// HasTool reports whether a prefixed tool name belongs to a server.
func (m *Manager) HasTool(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.tools[name]
	return ok
}

// ListTools returns the catalog of remote tools, sorted by name.
func (m *Manager) ListTools() []providers.ToolDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.tools))
	for name := range m.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, m.tools[name].definition)
	}
	return defs
}

// CallTool forwards a call to the owning server under the call timeout
// and concatenates the text content of the reply.
func (m *Manager) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	m.mu.RLock()
	rt, ok := m.tools[name]
	ss := m.servers[rt.server]
	m.mu.RUnlock()
	if !ok || ss == nil {
		return "", fmt.Errorf("unknown remote tool: %s", name)
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = rt.original
	req.Params.Arguments = args

	result, err := ss.client.CallTool(callCtx, req)
	if err != nil {
		ss.connected.Store(false)
		return "", fmt.Errorf("call %s on %s: %w", rt.original, rt.server, err)
	}

	text := contentText(result.Content)
	if result.IsError {
		return "", fmt.Errorf("tool %s reported an error: %s", rt.original, text)
	}
	return text, nil
}

// contentText flattens a tool reply into one string. Text blocks pass
// through; anything else is JSON-stringified so the model still sees it.
func contentText(blocks []mcpgo.Content) string {
	parts := make([]string, 0, len(blocks))
	for _, content := range blocks {
		if text, ok := content.(mcpgo.TextContent); ok {
			parts = append(parts, text.Text)
			continue
		}
		if data, err := json.Marshal(content); err == nil {
			parts = append(parts, string(data))
		}
	}
	return strings.Join(parts, "\n")
}

// Status reports each server's connection state, sorted by name.
func (m *Manager) Status() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	statuses := make([]ServerStatus, 0, len(m.servers))
	for _, ss := range m.servers {
		ss.mu.Lock()
		lastErr := ss.lastErr
		ss.mu.Unlock()
		statuses = append(statuses, ServerStatus{
			Name:      ss.name,
			Transport: ss.transport,
			Connected: ss.connected.Load(),
			ToolCount: len(ss.toolNames),
			Error:     lastErr,
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// prefixedName builds the registry-facing name for a remote tool.
func prefixedName(server, tool string) string {
	return "mcp_" + server + "_" + tool
}
