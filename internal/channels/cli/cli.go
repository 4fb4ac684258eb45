// Package cli is the local terminal connector: a line-based chat loop
// with slash commands for inspecting and tuning the running agent.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/dinh2350/lunar-sub002/internal/agent"
	"github.com/dinh2350/lunar-sub002/internal/bus"
	"github.com/dinh2350/lunar-sub002/internal/providers"
	"github.com/dinh2350/lunar-sub002/internal/transcript"
)

// Connector is the stdin/stdout chat surface.
type Connector struct {
	agentID     string
	loop        *agent.Loop
	transcripts *transcript.Store
	toolCatalog func() []providers.ToolDefinition
	logger      *slog.Logger

	in     io.Reader
	out    io.Writer
	peerID string
	done   chan struct{}
}

type Options struct {
	AgentID     string
	Loop        *agent.Loop
	Transcripts *transcript.Store
	ToolCatalog func() []providers.ToolDefinition
	Logger      *slog.Logger
	In          io.Reader
	Out         io.Writer
}

func New(opts Options) *Connector {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Connector{
		agentID:     opts.AgentID,
		loop:        opts.Loop,
		transcripts: opts.Transcripts,
		toolCatalog: opts.ToolCatalog,
		logger:      opts.Logger,
		in:          opts.In,
		out:         opts.Out,
		peerID:      "local",
		done:        make(chan struct{}),
	}
}

func (c *Connector) Name() string { return "cli" }

func (c *Connector) Start(ctx context.Context) error {
	go c.repl(ctx)
	return nil
}

func (c *Connector) Stop(ctx context.Context) error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return nil
}

// Done is closed when the user exits the chat.
func (c *Connector) Done() <-chan struct{} { return c.done }

func (c *Connector) repl(ctx context.Context) {
	fmt.Fprintln(c.out, "Chat started. Type /help for commands, exit to quit.")
	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for {
		fmt.Fprint(c.out, "you> ")
		if !scanner.Scan() {
			c.Stop(ctx)
			return
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "exit" || line == "quit":
			fmt.Fprintln(c.out, "Bye.")
			c.Stop(ctx)
			return
		case strings.HasPrefix(line, "/"):
			c.command(line)
		default:
			c.chat(ctx, line)
		}
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}
	}
}

func (c *Connector) chat(ctx context.Context, text string) {
	env := bus.Envelope{
		Provider: "cli",
		PeerID:   c.peerID,
		Text:     text,
		ChatType: bus.ChatDirect,
		Ts:       time.Now(),
	}

	streamed := false
	reply, err := c.loop.Run(ctx, env, func(e bus.StreamEvent) {
		if e.Type == "token" {
			if !streamed {
				fmt.Fprint(c.out, "agent> ")
				streamed = true
			}
			fmt.Fprint(c.out, e.Content)
		}
	})
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return
	}
	if streamed {
		fmt.Fprintln(c.out)
		return
	}
	fmt.Fprintf(c.out, "agent> %s\n", reply)
}

func (c *Connector) command(line string) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/help":
		fmt.Fprint(c.out, `Commands:
  /model [name]   show or switch the model
  /temp [value]   show or set the sampling temperature
  /system [text]  show or replace the system prompt
  /history [n]    show the last n turns (default 10)
  /sessions       list known sessions
  /tools          list available tools
  /clear          start a fresh session
  exit            quit
`)
	case "/model":
		if len(args) == 0 {
			fmt.Fprintf(c.out, "model: %s\n", c.loop.Model())
			return
		}
		c.loop.SetModel(args[0])
		fmt.Fprintf(c.out, "model set to %s\n", args[0])
	case "/temp":
		if len(args) == 0 {
			fmt.Fprintf(c.out, "temperature: %.2f\n", c.loop.Temperature())
			return
		}
		v, err := strconv.ParseFloat(args[0], 64)
		if err != nil || v < 0 || v > 2 {
			fmt.Fprintln(c.out, "temperature must be a number between 0 and 2")
			return
		}
		c.loop.SetTemperature(v)
		fmt.Fprintf(c.out, "temperature set to %.2f\n", v)
	case "/system":
		if len(args) == 0 {
			fmt.Fprintf(c.out, "system prompt:\n%s\n", c.loop.SystemPrompt())
			return
		}
		c.loop.SetSystemPrompt(strings.TrimSpace(strings.TrimPrefix(line, "/system")))
		fmt.Fprintln(c.out, "system prompt updated")
	case "/history":
		c.showHistory(args)
	case "/sessions":
		c.showSessions()
	case "/tools":
		c.showTools()
	case "/clear":
		c.peerID = fmt.Sprintf("local-%d", time.Now().Unix())
		fmt.Fprintln(c.out, "started a fresh session")
	default:
		fmt.Fprintf(c.out, "unknown command %s, try /help\n", cmd)
	}
}

func (c *Connector) sessionID() string {
	return transcript.Resolve("cli", c.peerID, c.agentID)
}

func (c *Connector) showHistory(args []string) {
	n := 10
	if len(args) > 0 {
		if v, err := strconv.Atoi(args[0]); err == nil && v > 0 {
			n = v
		}
	}
	turns, err := c.transcripts.LoadRecent(c.sessionID(), n)
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return
	}
	if len(turns) == 0 {
		fmt.Fprintln(c.out, "no history yet")
		return
	}
	for _, turn := range turns {
		label := string(turn.Kind)
		content := turn.Content
		if turn.Kind == transcript.KindToolCall {
			content = turn.Name
		}
		fmt.Fprintf(c.out, "  %s %s\n", pad(label, 12), truncate(content, 100))
	}
}

func (c *Connector) showSessions() {
	sessions, err := c.transcripts.ListSessions()
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return
	}
	if len(sessions) == 0 {
		fmt.Fprintln(c.out, "no sessions yet")
		return
	}
	fmt.Fprintf(c.out, "  %s %s %s\n", pad("SESSION", 40), pad("UPDATED", 17), "SIZE")
	for _, s := range sessions {
		fmt.Fprintf(c.out, "  %s %s %dB\n",
			pad(s.SessionID, 40),
			pad(s.Updated.Format("2006-01-02 15:04"), 17),
			s.SizeBytes,
		)
	}
}

func (c *Connector) showTools() {
	defs := c.toolCatalog()
	if len(defs) == 0 {
		fmt.Fprintln(c.out, "no tools registered")
		return
	}
	for _, d := range defs {
		fmt.Fprintf(c.out, "  %s %s\n", pad(d.Function.Name, 28), truncate(d.Function.Description, 80))
	}
}

// pad right-pads by display width so wide runes keep columns aligned.
func pad(s string, width int) string {
	w := runewidth.StringWidth(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
