package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.MaxIterations != 10 {
		t.Errorf("MaxIterations = %d, want 10", cfg.Agent.MaxIterations)
	}
	if cfg.Memory.VectorWeight != 0.7 || cfg.Memory.BM25Weight != 0.3 {
		t.Errorf("hybrid weights = %v/%v, want 0.7/0.3", cfg.Memory.VectorWeight, cfg.Memory.BM25Weight)
	}
}

func TestLoadJSON5WithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lunar.json")
	body := `{
		// agent identity
		agent: { name: "luna", model: "qwen3", max_iterations: 4 },
		gateway: { port: 9000 },
	}`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Name != "luna" {
		t.Errorf("Name = %q, want luna", cfg.Agent.Name)
	}
	if cfg.Agent.MaxIterations != 4 {
		t.Errorf("MaxIterations = %d, want 4", cfg.Agent.MaxIterations)
	}
	if cfg.Gateway.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Gateway.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LUNAR_PORT", "7777")
	t.Setenv("LUNAR_MODEL", "llama3.3")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 7777 {
		t.Errorf("Port = %d, want 7777", cfg.Gateway.Port)
	}
	if cfg.Agent.Model != "llama3.3" {
		t.Errorf("Model = %q, want llama3.3", cfg.Agent.Model)
	}
	if !cfg.Channels.Telegram.Enabled {
		t.Error("telegram channel not auto-enabled by token env")
	}
}

func TestMCPPlaceholderExpansion(t *testing.T) {
	t.Setenv("GH_TOKEN", "secret-token")

	cfg := Default()
	cfg.MCP.Servers = []MCPServerConfig{{
		Name:      "github",
		Transport: "stdio",
		Command:   "gh-mcp",
		Env:       map[string]string{"GITHUB_TOKEN": "${GH_TOKEN}", "PLAIN": "x"},
		Enabled:   true,
	}}
	cfg.applyEnvOverrides()

	if got := cfg.MCP.Servers[0].Env["GITHUB_TOKEN"]; got != "secret-token" {
		t.Errorf("env placeholder = %q, want secret-token", got)
	}
	if got := cfg.MCP.Servers[0].Env["PLAIN"]; got != "x" {
		t.Errorf("plain env = %q, want x", got)
	}
}

func TestSecretsNeverPersist(t *testing.T) {
	cfg := Default()
	cfg.Channels.Telegram.Token = "123:abc"
	cfg.Providers.OpenAI.APIKey = "sk-test"

	path := filepath.Join(t.TempDir(), "lunar.json")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, secret := range []string{"123:abc", "sk-test"} {
		if strings.Contains(string(data), secret) {
			t.Errorf("secret %q leaked into saved config", secret)
		}
	}
}
