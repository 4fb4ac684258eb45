package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the Lunar gateway.
type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Gateway   GatewayConfig   `json:"gateway"`
	Providers ProvidersConfig `json:"providers"`
	Memory    MemoryConfig    `json:"memory"`
	Safety    SafetyConfig    `json:"safety,omitempty"`
	Tools     ToolsConfig     `json:"tools,omitempty"`
	Channels  ChannelsConfig  `json:"channels"`
	MCP       MCPConfig       `json:"mcp,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// AgentConfig holds the agent identity and loop parameters.
type AgentConfig struct {
	Name          string  `json:"name"`
	Provider      string  `json:"provider"`
	Model         string  `json:"model"`
	SystemPrompt  string  `json:"system_prompt,omitempty"`
	Temperature   float64 `json:"temperature,omitempty"`
	MaxTokens     int     `json:"max_tokens,omitempty"`
	MaxIterations int     `json:"max_iterations"`     // LLM/tool interleave cap per user turn
	HistoryLimit  int     `json:"history_limit"`      // turns replayed into context (0 = all)
	Workspace     string  `json:"workspace"`          // MEMORY.md, memory/, sessions/ live here
	DataDir       string  `json:"data_dir,omitempty"` // index database location (default: workspace)
}

// GatewayConfig configures the HTTP/WebSocket ingress.
type GatewayConfig struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	AuthToken       string `json:"-"`                           // env LUNAR_GATEWAY_TOKEN; empty = open
	MaxMessageChars int    `json:"max_message_chars,omitempty"` // inbound text cap (default 32000)

	// Backpressure: global in-flight session cap plus per-user flood guard.
	MaxConcurrent   int     `json:"max_concurrent,omitempty"`    // default 32
	FloodRatePerSec float64 `json:"flood_rate_per_sec,omitempty"` // default 1
	FloodBurst      int     `json:"flood_burst,omitempty"`        // default 5
}

// ProvidersConfig lists the configured LLM backends.
// API keys are NEVER read from lunar.json, only from env vars.
type ProvidersConfig struct {
	Ollama ProviderConfig `json:"ollama,omitempty"`
	OpenAI ProviderConfig `json:"openai,omitempty"`
}

// ProviderConfig is one OpenAI-compatible chat endpoint.
type ProviderConfig struct {
	APIBase string `json:"api_base,omitempty"`
	APIKey  string `json:"-"` // env only
	Model   string `json:"model,omitempty"`
}

// MemoryConfig configures chunking, embeddings and hybrid retrieval.
type MemoryConfig struct {
	EmbedURL            string  `json:"embed_url,omitempty"`   // embedding endpoint (default: providers.ollama.api_base)
	EmbedModel          string  `json:"embed_model,omitempty"` // default "nomic-embed-text"
	EmbedDim            int     `json:"embed_dim,omitempty"`   // default 768
	EmbedBatchSize      int     `json:"embed_batch_size,omitempty"`
	ChunkWords          int     `json:"chunk_words,omitempty"`   // section word budget (default 400)
	ChunkOverlap        int     `json:"chunk_overlap,omitempty"` // sub-chunk overlap (default 80)
	VectorWeight        float64 `json:"vector_weight,omitempty"` // default 0.7
	BM25Weight          float64 `json:"bm25_weight,omitempty"`   // default 0.3
	Limit               int     `json:"limit,omitempty"`         // final result count (default 5)
	CandidateMultiplier int     `json:"candidate_multiplier,omitempty"` // default 3
	Watch               bool    `json:"watch,omitempty"`         // fsnotify watcher over memory files
	ReindexCron         string  `json:"reindex_cron,omitempty"`  // optional cron expression, e.g. "*/30 * * * *"
}

// SafetyConfig configures guard behaviour.
type SafetyConfig struct {
	Disabled         []string `json:"disabled,omitempty"` // guard names to skip
	FallbackReply    string   `json:"fallback_reply,omitempty"`
	SystemPromptLeak bool     `json:"system_prompt_leak,omitempty"` // enable prompt-leak guard (default true when system prompt set)
}

// ToolsConfig configures the built-in tool surface.
type ToolsConfig struct {
	EnableShell     bool                `json:"enable_shell,omitempty"`
	AllowedCommands FlexibleStringSlice `json:"allowed_commands,omitempty"` // first-token prefixes for bash
	AllowedPaths    FlexibleStringSlice `json:"allowed_paths,omitempty"`    // extra read roots beside workspace
	AutoApproveRisk string              `json:"auto_approve_risk,omitempty"` // "", "low", "medium", "high"
}

// ChannelsConfig enables and configures the channel connectors.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram,omitempty"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
	CLI      CLIConfig      `json:"cli,omitempty"`
}

// TelegramConfig configures the Telegram bot connector.
// Token comes from env TELEGRAM_BOT_TOKEN only.
type TelegramConfig struct {
	Enabled   bool                `json:"enabled,omitempty"`
	Token     string              `json:"-"`
	AllowedID FlexibleStringSlice `json:"allowed_ids,omitempty"` // empty = everyone
}

// DiscordConfig configures the Discord bot connector.
// Token comes from env DISCORD_BOT_TOKEN only.
type DiscordConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Token   string `json:"-"`
}

// CLIConfig configures the local stdin/stdout connector.
type CLIConfig struct {
	Enabled bool `json:"enabled,omitempty"`
}

// MCPConfig lists external tool-protocol servers.
type MCPConfig struct {
	Servers []MCPServerConfig `json:"servers,omitempty"`
}

// MCPServerConfig describes one external tool server. Env values support
// ${VAR} placeholders resolved from the process environment at startup.
type MCPServerConfig struct {
	Name      string            `json:"name"`
	Transport string            `json:"transport"` // "stdio", "sse" or "http"
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	URL       string            `json:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Enabled   bool              `json:"enabled"`
}

// TelemetryConfig configures OpenTelemetry trace export.
// When enabled, spans are exported to an OTLP-compatible backend.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"` // e.g. "localhost:4317"
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Agent = src.Agent
	c.Gateway = src.Gateway
	c.Providers = src.Providers
	c.Memory = src.Memory
	c.Safety = src.Safety
	c.Tools = src.Tools
	c.Channels = src.Channels
	c.MCP = src.MCP
	c.Telemetry = src.Telemetry
}
