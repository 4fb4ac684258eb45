package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/dinh2350/lunar-sub002/internal/config"
	"github.com/dinh2350/lunar-sub002/internal/providers"
)

// connectServer dials the server, runs the protocol handshake,
// discovers its tools and registers them under the mcp_ prefix.
func (m *Manager) connectServer(ctx context.Context, cfg config.MCPServerConfig) error {
	client, err := createClient(cfg)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	// Network transports need an explicit Start; stdio spawns on dial.
	if cfg.Transport != "stdio" {
		if err := client.Start(ctx); err != nil {
			_ = client.Close()
			return fmt.Errorf("start transport: %w", err)
		}
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "lunar", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	toolsResult, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	ss := &serverState{
		name:      cfg.Name,
		transport: cfg.Transport,
		client:    client,
	}
	ss.connected.Store(true)

	m.mu.Lock()
	for _, remote := range toolsResult.Tools {
		full := prefixedName(cfg.Name, remote.Name)
		if _, exists := m.tools[full]; exists {
			m.logger.Warn("mcp.tool_collision", "server", cfg.Name, "tool", full)
			continue
		}
		m.tools[full] = remoteTool{
			server:     cfg.Name,
			original:   remote.Name,
			definition: toDefinition(full, remote),
		}
		ss.toolNames = append(ss.toolNames, full)
	}
	m.servers[cfg.Name] = ss
	m.mu.Unlock()

	hctx, hcancel := context.WithCancel(context.Background())
	ss.cancel = hcancel
	go m.healthLoop(hctx, ss)

	m.logger.Info("mcp.connected", "server", cfg.Name, "transport", cfg.Transport, "tools", len(ss.toolNames))
	return nil
}

func createClient(cfg config.MCPServerConfig) (*mcpclient.Client, error) {
	switch cfg.Transport {
	case "stdio":
		return mcpclient.NewStdioMCPClient(cfg.Command, envSlice(cfg.Env), cfg.Args...)
	case "sse":
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, mcpclient.WithHeaders(cfg.Headers))
		}
		return mcpclient.NewSSEMCPClient(cfg.URL, opts...)
	case "http":
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		return mcpclient.NewStreamableHttpClient(cfg.URL, opts...)
	default:
		return nil, fmt.Errorf("unsupported transport: %q", cfg.Transport)
	}
}

// toDefinition converts a remote tool schema into the provider wire
// format, under its prefixed name.
func toDefinition(fullName string, t mcpgo.Tool) providers.ToolDefinition {
	params := map[string]interface{}{"type": "object"}
	if t.InputSchema.Type != "" {
		params["type"] = t.InputSchema.Type
	}
	if len(t.InputSchema.Properties) > 0 {
		params["properties"] = t.InputSchema.Properties
	}
	if len(t.InputSchema.Required) > 0 {
		params["required"] = t.InputSchema.Required
	}
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        fullName,
			Description: t.Description,
			Parameters:  params,
		},
	}
}

// healthLoop pings the server on an interval. Servers that do not
// implement ping still count as healthy.
func (m *Manager) healthLoop(ctx context.Context, ss *serverState) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := ss.client.Ping(ctx)
			if err != nil && !strings.Contains(strings.ToLower(err.Error()), "method not found") {
				ss.connected.Store(false)
				ss.mu.Lock()
				ss.lastErr = err.Error()
				ss.mu.Unlock()
				m.logger.Warn("mcp.health_failed", "server", ss.name, "error", err)
				continue
			}
			ss.connected.Store(true)
			ss.mu.Lock()
			ss.lastErr = ""
			ss.mu.Unlock()
		}
	}
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	s := make([]string, 0, len(env))
	for k, v := range env {
		s = append(s, k+"="+v)
	}
	return s
}
