package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/titanous/json5"
)

// DefaultAgentID is the agent name used when none is configured.
const DefaultAgentID = "default"

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Name:          DefaultAgentID,
			Provider:      "ollama",
			Model:         "qwen3",
			Temperature:   0.7,
			MaxIterations: 10,
			HistoryLimit:  50,
			Workspace:     "~/.lunar/workspace",
		},
		Gateway: GatewayConfig{
			Host:            "0.0.0.0",
			Port:            18100,
			MaxMessageChars: 32000,
			MaxConcurrent:   32,
			FloodRatePerSec: 1,
			FloodBurst:      5,
		},
		Providers: ProvidersConfig{
			Ollama: ProviderConfig{APIBase: "http://localhost:11434/v1"},
		},
		Memory: MemoryConfig{
			EmbedModel:          "nomic-embed-text",
			EmbedDim:            768,
			EmbedBatchSize:      10,
			ChunkWords:          400,
			ChunkOverlap:        80,
			VectorWeight:        0.7,
			BM25Weight:          0.3,
			Limit:               5,
			CandidateMultiplier: 3,
		},
		Channels: ChannelsConfig{
			CLI: CLIConfig{Enabled: true},
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("LUNAR_AGENT", &c.Agent.Name)
	envStr("LUNAR_MODEL", &c.Agent.Model)
	envStr("LUNAR_PROVIDER", &c.Agent.Provider)
	envStr("LUNAR_WORKSPACE", &c.Agent.Workspace)
	envStr("LUNAR_DATA", &c.Agent.DataDir)
	envStr("LUNAR_SYSTEM_PROMPT", &c.Agent.SystemPrompt)

	envStr("LUNAR_HOST", &c.Gateway.Host)
	envStr("LUNAR_GATEWAY_TOKEN", &c.Gateway.AuthToken)
	if v := os.Getenv("LUNAR_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	// Provider endpoints and secrets
	envStr("OLLAMA_URL", &c.Providers.Ollama.APIBase)
	envStr("LUNAR_OPENAI_API_BASE", &c.Providers.OpenAI.APIBase)
	envStr("LUNAR_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)

	// Embeddings default to the Ollama endpoint
	envStr("LUNAR_EMBED_URL", &c.Memory.EmbedURL)
	envStr("LUNAR_EMBED_MODEL", &c.Memory.EmbedModel)

	// Channel secrets; presence auto-enables the channel
	envStr("TELEGRAM_BOT_TOKEN", &c.Channels.Telegram.Token)
	envStr("DISCORD_BOT_TOKEN", &c.Channels.Discord.Token)
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}

	// Telemetry
	envStr("LUNAR_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("LUNAR_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("LUNAR_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("LUNAR_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("LUNAR_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	c.expandMCPPlaceholders()
}

var envPlaceholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandMCPPlaceholders resolves ${VAR} in MCP server env/header/url values
// against the process environment. Unset vars expand to "".
func (c *Config) expandMCPPlaceholders() {
	expand := func(s string) string {
		return envPlaceholder.ReplaceAllStringFunc(s, func(m string) string {
			name := envPlaceholder.FindStringSubmatch(m)[1]
			return os.Getenv(name)
		})
	}
	for i := range c.MCP.Servers {
		srv := &c.MCP.Servers[i]
		srv.URL = expand(srv.URL)
		for k, v := range srv.Env {
			srv.Env[k] = expand(v)
		}
		for k, v := range srv.Headers {
			srv.Headers[k] = expand(v)
		}
	}
}

// Save writes the config to a JSON file. Secrets are tagged json:"-"
// so they never persist.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// WorkspacePath returns the expanded workspace path.
func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Agent.Workspace)
}

// DataPath returns the expanded index data directory, defaulting to the workspace.
func (c *Config) DataPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Agent.DataDir != "" {
		return ExpandHome(c.Agent.DataDir)
	}
	return ExpandHome(c.Agent.Workspace)
}

// ResolveProvider returns the provider config for the agent's configured backend.
func (c *Config) ResolveProvider() (name string, pc ProviderConfig) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch c.Agent.Provider {
	case "openai":
		return "openai", c.Providers.OpenAI
	default:
		return "ollama", c.Providers.Ollama
	}
}

// EmbedBase returns the embedding endpoint base URL.
// Falls back to the Ollama API base with the /v1 suffix stripped.
func (c *Config) EmbedBase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Memory.EmbedURL != "" {
		return c.Memory.EmbedURL
	}
	base := c.Providers.Ollama.APIBase
	if base == "" {
		base = "http://localhost:11434"
	}
	if len(base) > 3 && base[len(base)-3:] == "/v1" {
		base = base[:len(base)-3]
	}
	return base
}

const secretMask = "***"

// MaskedCopy returns a deep copy of the config with all secret fields masked.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}

	maskNonEmpty(&cp.Providers.OpenAI.APIKey)
	maskNonEmpty(&cp.Channels.Telegram.Token)
	maskNonEmpty(&cp.Channels.Discord.Token)

	return cp
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
