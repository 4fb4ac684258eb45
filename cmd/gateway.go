package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dinh2350/lunar-sub002/internal/agent"
	"github.com/dinh2350/lunar-sub002/internal/bootstrap"
	"github.com/dinh2350/lunar-sub002/internal/channels"
	"github.com/dinh2350/lunar-sub002/internal/channels/discord"
	"github.com/dinh2350/lunar-sub002/internal/channels/telegram"
	"github.com/dinh2350/lunar-sub002/internal/config"
	"github.com/dinh2350/lunar-sub002/internal/gateway"
	"github.com/dinh2350/lunar-sub002/internal/mcp"
	"github.com/dinh2350/lunar-sub002/internal/memory"
	"github.com/dinh2350/lunar-sub002/internal/metrics"
	"github.com/dinh2350/lunar-sub002/internal/providers"
	"github.com/dinh2350/lunar-sub002/internal/safety"
	"github.com/dinh2350/lunar-sub002/internal/telemetry"
	"github.com/dinh2350/lunar-sub002/internal/tools"
	"github.com/dinh2350/lunar-sub002/internal/transcript"
)

const defaultSystemPrompt = "You are Lunar, a helpful personal assistant with long-term memory. " +
	"Use memory_search before answering questions about the user, and memory_write to save facts worth keeping. " +
	"Keep replies short and factual."

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the gateway: channels, memory indexer and HTTP/WebSocket API",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

func runGateway() {
	logger := setupLogger()
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		logger.Warn("telemetry.setup_failed", "error", err)
	} else {
		defer shutdownTracing(context.Background())
	}

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer rt.close()

	// Channel connectors.
	var connectors []channels.Connector
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		tg, err := telegram.New(cfg.Channels.Telegram, rt.loop.Handler(), logger)
		if err != nil {
			logger.Error("telegram.init_failed", "error", err)
		} else {
			connectors = append(connectors, tg)
		}
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		dc, err := discord.New(cfg.Channels.Discord, rt.loop.Handler(), logger)
		if err != nil {
			logger.Error("discord.init_failed", "error", err)
		} else {
			connectors = append(connectors, dc)
		}
	}
	manager := channels.NewManager(logger, connectors...)
	manager.StartAll(ctx)
	defer manager.StopAll(context.Background())

	server := gateway.NewServer(cfg.Gateway, cfg.Agent.Name, cfg.Agent.Model, rt.loop.Handler(), rt.metrics, rt.audit, logger)
	if err := server.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runtime bundles the wired subsystems shared by gateway and
// standalone chat.
type runtime struct {
	loop     *agent.Loop
	store    *transcript.Store
	registry *tools.Registry
	metrics  *metrics.Store
	audit    *metrics.AuditLog
	index    *memory.Index
	mcp      *mcp.Manager
}

func (r *runtime) close() {
	if r.mcp != nil {
		r.mcp.Stop()
	}
	if r.index != nil {
		_ = r.index.Close()
	}
}

// buildRuntime wires memory, transcripts, tools, MCP, safety and the
// agent loop in dependency order.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	workspace := cfg.WorkspacePath()
	created, err := bootstrap.EnsureWorkspace(workspace)
	if err != nil {
		return nil, err
	}
	if len(created) > 0 {
		logger.Info("workspace.seeded", "files", created)
	}

	// Memory: index, files, chunker, embedder, indexer.
	index, err := memory.OpenIndex(filepath.Join(cfg.DataPath(), "memory.db"), cfg.Memory.EmbedDim)
	if err != nil {
		return nil, fmt.Errorf("open memory index: %w", err)
	}
	files, err := memory.NewFiles(workspace)
	if err != nil {
		index.Close()
		return nil, fmt.Errorf("init memory files: %w", err)
	}
	chunker := memory.NewChunker(cfg.Memory.ChunkWords, cfg.Memory.ChunkOverlap)
	embedder := memory.NewOllamaEmbedder(cfg.EmbedBase(), cfg.Memory.EmbedModel, cfg.Memory.EmbedDim, cfg.Memory.EmbedBatchSize)
	indexer := memory.NewIndexer(files, chunker, embedder, index, logger)

	if err := indexer.IndexAll(ctx); err != nil {
		logger.Warn("memory.initial_index_failed", "error", err)
	}
	if cfg.Memory.Watch {
		go func() {
			if err := indexer.Watch(ctx); err != nil {
				logger.Warn("memory.watch_failed", "error", err)
			}
		}()
	}
	if cfg.Memory.ReindexCron != "" {
		go func() {
			if err := indexer.Schedule(ctx, cfg.Memory.ReindexCron); err != nil {
				logger.Warn("memory.schedule_failed", "error", err)
			}
		}()
	}

	store, err := transcript.NewStore(workspace, logger)
	if err != nil {
		index.Close()
		return nil, fmt.Errorf("init transcript store: %w", err)
	}

	metricsStore := metrics.NewStore()
	audit := metrics.NewAuditLog()
	registry := buildRegistry(cfg, workspace, index, embedder, files, indexer, metricsStore, audit, logger)

	mcpManager := mcp.NewManager(logger)
	mcpManager.Start(ctx, cfg.MCP.Servers)
	registry.SetRemoteRouter(mcpManager)

	providerName, pc := cfg.ResolveProvider()
	provider := providers.NewOpenAIProvider(providerName, pc.APIKey, pc.APIBase, cfg.Agent.Model)

	systemPrompt := cfg.Agent.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}

	leakPrompt := ""
	if cfg.Safety.SystemPromptLeak {
		leakPrompt = systemPrompt
	}
	input := safety.InputPipeline(logger).Without(cfg.Safety.Disabled...)
	output := safety.OutputPipeline(leakPrompt, logger).Without(cfg.Safety.Disabled...)

	loop := agent.NewLoop(agent.LoopConfig{
		AgentID:       cfg.Agent.Name,
		Provider:      provider,
		Model:         cfg.Agent.Model,
		SystemPrompt:  systemPrompt,
		Temperature:   cfg.Agent.Temperature,
		MaxTokens:     cfg.Agent.MaxTokens,
		MaxIterations: cfg.Agent.MaxIterations,
		HistoryLimit:  cfg.Agent.HistoryLimit,
		Transcripts:   store,
		Registry:      registry,
		Input:         input,
		Output:        output,
		Fallback:      cfg.Safety.FallbackReply,
		Metrics:       metricsStore,
		Logger:        logger,
	})

	return &runtime{
		loop:     loop,
		store:    store,
		registry: registry,
		metrics:  metricsStore,
		audit:    audit,
		index:    index,
		mcp:      mcpManager,
	}, nil
}

// buildRegistry registers the builtin tools with their policies.
func buildRegistry(cfg *config.Config, workspace string, index *memory.Index, embedder memory.Embedder, files *memory.Files, indexer *memory.Indexer, store *metrics.Store, audit *metrics.AuditLog, logger *slog.Logger) *tools.Registry {
	pm := tools.NewPermissionManager()
	registry := tools.NewRegistry(pm, store, audit, logger)

	readPaths := append([]string{workspace}, cfg.Tools.AllowedPaths...)

	pm.Set(tools.Permission{ToolName: "get_current_datetime", Level: tools.LevelRead})
	pm.Set(tools.Permission{ToolName: "calculate", Level: tools.LevelRead})
	pm.Set(tools.Permission{ToolName: "memory_search", Level: tools.LevelRead})
	pm.Set(tools.Permission{ToolName: "memory_write", Level: tools.LevelWrite, RequiresApproval: true})
	pm.Set(tools.Permission{ToolName: "read_file", Level: tools.LevelRead, AllowedPaths: readPaths})
	pm.Set(tools.Permission{ToolName: "list_directory", Level: tools.LevelRead, AllowedPaths: readPaths})
	pm.Set(tools.Permission{
		ToolName:         "bash",
		Level:            tools.LevelExecute,
		RequiresApproval: true,
		AllowedCommands:  []string(cfg.Tools.AllowedCommands),
	})

	registry.Register(tools.NewDatetimeTool())
	registry.Register(tools.NewCalculateTool())
	registry.Register(tools.NewReadFileTool(workspace, true))
	registry.Register(tools.NewListDirectoryTool(workspace, true))
	registry.Register(tools.NewMemorySearchTool(index, embedder, memory.SearchOptions{
		Limit:               cfg.Memory.Limit,
		VectorWeight:        cfg.Memory.VectorWeight,
		BM25Weight:          cfg.Memory.BM25Weight,
		CandidateMultiplier: cfg.Memory.CandidateMultiplier,
	}, logger))
	registry.Register(tools.NewMemoryWriteTool(files, indexer, logger))
	registry.Register(tools.NewShellTool(workspace, cfg.Tools.EnableShell))

	registry.SetApproval(nil, riskThreshold(cfg.Tools.AutoApproveRisk))
	return registry
}

// riskThreshold maps the config risk label to the registry's ordinal
// scale. Tools above the threshold need an approval callback; the
// gateway runs headless, so they are denied outright. Unset defaults
// to medium, which keeps memory_write usable while bash stays gated.
func riskThreshold(label string) int {
	switch label {
	case "low":
		return 1
	case "high":
		return 3
	default:
		return 2
	}
}
