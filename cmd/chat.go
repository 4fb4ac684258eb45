package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"

	"github.com/dinh2350/lunar-sub002/internal/channels/cli"
	"github.com/dinh2350/lunar-sub002/internal/config"
	"github.com/dinh2350/lunar-sub002/internal/providers"
)

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with the agent from the terminal",
		Long:  "Connects to a running gateway over WebSocket, or starts a standalone agent when no gateway is reachable.",
		Run: func(cmd *cobra.Command, args []string) {
			runChat()
		},
	}
}

func runChat() {
	logger := setupLogger()
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := gatewayAddr(cfg)
	if gatewayReachable(addr) {
		fmt.Printf("Connected to gateway at %s.\n", addr)
		if err := chatOverWebSocket(ctx, addr, cfg.Gateway.AuthToken); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Println("No gateway running, starting a standalone agent.")
	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer rt.close()

	conn := cli.New(cli.Options{
		AgentID:     cfg.Agent.Name,
		Loop:        rt.loop,
		Transcripts: rt.store,
		ToolCatalog: func() []providers.ToolDefinition { return rt.registry.Definitions() },
		Logger:      logger,
		In:          os.Stdin,
		Out:         os.Stdout,
	})
	if err := conn.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	select {
	case <-conn.Done():
	case <-ctx.Done():
	}
	_ = conn.Stop(context.Background())
}

func gatewayAddr(cfg *config.Config) string {
	host := cfg.Gateway.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("%s:%d", host, cfg.Gateway.Port)
}

func gatewayReachable(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// wsClientFrame mirrors the gateway's WebSocket protocol.
type wsClientFrame struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	UserID  string `json:"user_id,omitempty"`
	Content string `json:"content,omitempty"`
}

// chatOverWebSocket runs a line-based chat loop against the gateway's
// /ws/chat endpoint. Each line is sent as one message frame; token
// frames stream the reply as it is generated.
func chatOverWebSocket(ctx context.Context, addr, token string) error {
	url := fmt.Sprintf("ws://%s/ws/chat", addr)
	opts := &websocket.DialOptions{}
	if token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + token}}
	}
	conn, _, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(1 << 20)

	fmt.Println("Chat started. Type exit to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for {
		fmt.Print("you> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			fmt.Println("Bye.")
			return nil
		}

		out, err := json.Marshal(wsClientFrame{Type: "message", Text: line, UserID: "local"})
		if err != nil {
			return err
		}
		if err := conn.Write(ctx, websocket.MessageText, out); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		if err := readReply(ctx, conn); err != nil {
			return err
		}
	}
}

// readReply consumes frames until the final message or an error frame.
func readReply(ctx context.Context, conn *websocket.Conn) error {
	streamed := false
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var frame wsClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		switch frame.Type {
		case "typing", "pong":
		case "token":
			if !streamed {
				fmt.Print("agent> ")
				streamed = true
			}
			fmt.Print(frame.Content)
		case "message":
			if streamed {
				fmt.Println()
			} else {
				fmt.Printf("agent> %s\n", frame.Content)
			}
			return nil
		case "error":
			fmt.Printf("error: %s\n", frame.Content)
			return nil
		}
	}
}
