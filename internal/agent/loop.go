// Package agent runs the think-act-observe loop: call the model,
// execute requested tools, feed results back, repeat until the model
// produces a plain reply or the iteration budget runs out.
package agent

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

	"github.com/dinh2350/lunar-sub002/internal/bus"
	"github.com/dinh2350/lunar-sub002/internal/metrics"
	"github.com/dinh2350/lunar-sub002/internal/providers"
	"github.com/dinh2350/lunar-sub002/internal/safety"
	"github.com/dinh2350/lunar-sub002/internal/tools"
	"github.com/dinh2350/lunar-sub002/internal/transcript"
)

const maxIterationsReply = "Max iterations reached"

// memoryWritingTools must not run concurrently with each other: they
// append to the same files and reindex.
var memoryWritingTools = map[string]bool{
	"memory_write": true,
}

// Loop drives one agent's conversations. Model, temperature and the
// system prompt can be adjusted at runtime; stateMu guards them.
type Loop struct {
	agentID       string
	provider      providers.Provider
	maxTokens     int
	maxIterations int
	historyLimit  int

	stateMu      sync.RWMutex
	model        string
	systemPrompt string
	temperature  float64

	transcripts *transcript.Store
	registry    *tools.Registry
	input       *safety.Pipeline
	output      *safety.Pipeline
	fallback    string
	metrics     *metrics.Store
	logger      *slog.Logger

	memWriteMu sync.Mutex
}

// LoopConfig configures a new Loop. Zero values take defaults.
type LoopConfig struct {
	AgentID       string
	Provider      providers.Provider
	Model         string
	SystemPrompt  string
	Temperature   float64
	MaxTokens     int
	MaxIterations int
	HistoryLimit  int

	Transcripts *transcript.Store
	Registry    *tools.Registry
	Input       *safety.Pipeline
	Output      *safety.Pipeline
	Fallback    string
	Metrics     *metrics.Store
	Logger      *slog.Logger
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 10
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Fallback == "" {
		cfg.Fallback = safety.DefaultFallback
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		agentID:       cfg.AgentID,
		provider:      cfg.Provider,
		model:         cfg.Model,
		systemPrompt:  cfg.SystemPrompt,
		temperature:   cfg.Temperature,
		maxTokens:     cfg.MaxTokens,
		maxIterations: cfg.MaxIterations,
		historyLimit:  cfg.HistoryLimit,
		transcripts:   cfg.Transcripts,
		registry:      cfg.Registry,
		input:         cfg.Input,
		output:        cfg.Output,
		fallback:      cfg.Fallback,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
	}
}

// Model returns the current model name.
func (l *Loop) Model() string {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.model
}

// SetModel switches the model for subsequent runs.
func (l *Loop) SetModel(model string) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	l.model = model
}

// Temperature returns the current sampling temperature.
func (l *Loop) Temperature() float64 {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.temperature
}

// SetTemperature adjusts the sampling temperature for subsequent runs.
func (l *Loop) SetTemperature(t float64) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	l.temperature = t
}

// SystemPrompt returns the current system prompt.
func (l *Loop) SystemPrompt() string {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.systemPrompt
}

// SetSystemPrompt replaces the system prompt for subsequent runs.
func (l *Loop) SetSystemPrompt(p string) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	l.systemPrompt = p
}

// Handler adapts the loop to the channel dispatch signature.
func (l *Loop) Handler() bus.Handler {
	return func(ctx context.Context, env bus.Envelope, sink bus.Sink) (string, error) {
		return l.Run(ctx, env, sink)
	}
}

// Run processes one inbound message end to end and returns the reply
// text. The sink, when non-nil, receives typing and token events as
// the reply is produced.
func (l *Loop) Run(ctx context.Context, env bus.Envelope, sink bus.Sink) (string, error) {
	start := time.Now()
	sessionID := env.SessionID
	if sessionID == "" {
		sessionID = transcript.Resolve(env.Provider, env.PeerID, l.agentID)
	}

	ctx, span := otel.Tracer("lunar/agent").Start(ctx, "agent.run",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("channel", env.Provider),
		))
	defer span.End()

	emit := func(e bus.StreamEvent) {
		if sink != nil {
			sink(e)
		}
	}
	emit(bus.StreamEvent{Type: "typing"})

	history, err := l.transcripts.LoadRecent(sessionID, l.historyLimit)
	if err != nil {
		l.logger.Warn("agent.history_load_failed", "session", sessionID, "error", err)
	}

	messages := make([]providers.Message, 0, len(history)+2)
	if prompt := l.SystemPrompt(); prompt != "" {
		messages = append(messages, providers.Message{Role: "system", Content: prompt})
	}
	messages = append(messages, transcript.ToMessages(history)...)

	userMsg := providers.Message{Role: "user", Content: env.Text}
	for _, att := range env.Attachments {
		if att.Kind == bus.AttachmentImage && att.Bytes != nil {
			userMsg.Images = append(userMsg.Images, providers.ImageContent{
				MimeType: att.Mime,
				Data:     string(att.Bytes),
			})
		}
	}
	messages = append(messages, userMsg)

	if err := l.transcripts.AppendTurn(sessionID, transcript.Turn{
		Kind: transcript.KindUser, Content: env.Text, Ts: time.Now(),
	}); err != nil {
		return "", fmt.Errorf("append user turn: %w", err)
	}

	// Blocked input is persisted like any other user turn, but the
	// model never sees it.
	if l.input != nil {
		outcome := l.input.Run(env.Text)
		if outcome.Blocked {
			l.count("safety_input_blocked")
			l.logger.Warn("agent.input_blocked", "session", sessionID, "guard", outcome.BlockedBy)
			if err := l.transcripts.AppendTurn(sessionID, transcript.Turn{
				Kind: transcript.KindAssistant, Content: l.fallback, Ts: time.Now(),
			}); err != nil {
				l.logger.Warn("agent.append_failed", "session", sessionID, "error", err)
			}
			emit(bus.StreamEvent{Type: "message", Content: l.fallback})
			return l.fallback, nil
		}
		for range outcome.Warnings {
			l.count("safety_input_warnings")
		}
	}

	final, iterations, err := l.iterate(ctx, sessionID, messages, emit)
	if err != nil {
		l.count("llm_errors")
		return "", err
	}
	l.observe("agent_iterations", float64(iterations))

	final = l.checkOutput(sessionID, final)

	if err := l.transcripts.AppendTurn(sessionID, transcript.Turn{
		Kind: transcript.KindAssistant, Content: final, Ts: time.Now(),
	}); err != nil {
		l.logger.Warn("agent.append_failed", "session", sessionID, "error", err)
	}

	if l.metrics != nil {
		l.metrics.ObserveDuration("agent_run_ms", time.Since(start))
	}
	emit(bus.StreamEvent{Type: "message", Content: final})
	return final, nil
}

// iterate runs the model/tool cycle until a plain reply appears.
func (l *Loop) iterate(ctx context.Context, sessionID string, messages []providers.Message, emit bus.Sink) (string, int, error) {
	toolDefs := l.registry.Definitions()

	for iteration := 1; iteration <= l.maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return "", iteration, err
		}
		l.logger.Debug("agent.iteration", "session", sessionID, "n", iteration, "messages", len(messages))

		req := providers.ChatRequest{
			Messages: messages,
			Tools:    toolDefs,
			Model:    l.Model(),
			Options: map[string]interface{}{
				"temperature": l.Temperature(),
				"max_tokens":  l.maxTokens,
			},
		}

		l.count("llm_calls")
		llmStart := time.Now()
		llmCtx, llmSpan := otel.Tracer("lunar/agent").Start(ctx, "llm.chat",
			trace.WithAttributes(attribute.String("llm.model", req.Model)))
		resp, err := l.provider.ChatStream(llmCtx, req, func(chunk providers.StreamChunk) {
			if chunk.Content != "" {
				emit(bus.StreamEvent{Type: "token", Content: chunk.Content})
			}
		})
		llmSpan.End()
		if l.metrics != nil {
			l.metrics.ObserveDuration("llm_duration_ms", time.Since(llmStart))
		}
		if err != nil {
			return "", iteration, fmt.Errorf("model call failed on iteration %d: %w", iteration, err)
		}

		if len(resp.ToolCalls) == 0 {
			return strings.TrimSpace(resp.Content), iteration, nil
		}

		messages = append(messages, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			if err := l.transcripts.AppendTurn(sessionID, transcript.Turn{
				Kind: transcript.KindToolCall, Ts: time.Now(),
				ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments,
			}); err != nil {
				l.logger.Warn("agent.append_failed", "session", sessionID, "error", err)
			}
		}

		results := l.executeToolCalls(ctx, sessionID, resp.ToolCalls)
		for i, tc := range resp.ToolCalls {
			res := results[i]
			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    res.Result.ForLLM,
				ToolCallID: tc.ID,
			})
			if err := l.transcripts.AppendTurn(sessionID, transcript.Turn{
				Kind: transcript.KindToolResult, Ts: time.Now(),
				ID: tc.ID, Name: tc.Name, Content: res.Result.ForLLM, OK: res.OK,
			}); err != nil {
				l.logger.Warn("agent.append_failed", "session", sessionID, "error", err)
			}
		}
	}

	l.count("agent_max_iterations")
	l.logger.Warn("agent.max_iterations", "session", sessionID, "limit", l.maxIterations)
	return maxIterationsReply, l.maxIterations, nil
}

// executeToolCalls runs the batch in parallel and returns results in
// call order. Memory-writing tools are serialized among themselves.
func (l *Loop) executeToolCalls(ctx context.Context, sessionID string, calls []providers.ToolCall) []tools.ToolResult {
	results := make([]tools.ToolResult, len(calls))
	if len(calls) == 1 {
		results[0] = l.runTool(ctx, sessionID, calls[0])
		return results
	}

	type indexed struct {
		idx int
		res tools.ToolResult
	}
	ch := make(chan indexed, len(calls))
	var wg sync.WaitGroup
	for i, tc := range calls {
		wg.Add(1)
		go func(idx int, tc providers.ToolCall) {
			defer wg.Done()
			ch <- indexed{idx: idx, res: l.runTool(ctx, sessionID, tc)}
		}(i, tc)
	}
	go func() { wg.Wait(); close(ch) }()

	collected := make([]indexed, 0, len(calls))
	for r := range ch {
		collected = append(collected, r)
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].idx < collected[j].idx })
	for _, r := range collected {
		results[r.idx] = r.res
	}
	return results
}

func (l *Loop) runTool(ctx context.Context, sessionID string, tc providers.ToolCall) tools.ToolResult {
	if memoryWritingTools[tc.Name] {
		l.memWriteMu.Lock()
		defer l.memWriteMu.Unlock()
	}
	l.logger.Info("agent.tool_call", "session", sessionID, "tool", tc.Name)
	res := l.registry.Execute(ctx, sessionID, tc.Name, tc.Arguments)
	if !res.OK {
		l.logger.Warn("agent.tool_error", "session", sessionID, "tool", tc.Name, "error", truncate(res.Result.ForLLM, 200))
	}
	return res
}

// checkOutput runs the reply through the output pipeline. A block
// swaps in the fallback; PII warnings redact in place.
func (l *Loop) checkOutput(sessionID, reply string) string {
	if l.output == nil {
		return reply
	}
	outcome := l.output.Run(reply)
	if outcome.Blocked {
		l.count("safety_output_blocked")
		l.logger.Warn("agent.output_blocked", "session", sessionID, "guard", outcome.BlockedBy)
		return l.fallback
	}
	for _, w := range outcome.Warnings {
		l.count("safety_output_warnings")
		if strings.Contains(w.Reason, "PII") {
			reply = safety.Redact(reply)
		}
	}
	return reply
}

func (l *Loop) count(name string) {
	if l.metrics != nil {
		l.metrics.Inc(name, 1)
	}
}

func (l *Loop) observe(name string, v float64) {
	if l.metrics != nil {
		l.metrics.Observe(name, v)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
