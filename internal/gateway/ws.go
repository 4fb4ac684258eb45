package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dinh2350/lunar-sub002/internal/bus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Non-browser clients send no Origin header; browsers talk to
	// their own host. The gateway binds to loopback by default.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsInbound is a client frame.
type wsInbound struct {
	Type   string `json:"type"` // "message" or "ping"
	Text   string `json:"text,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

// wsOutbound is a server frame. RetryAfter is set on flood rejections.
type wsOutbound struct {
	Type       string `json:"type"` // "typing", "token", "message", "error", "pong"
	Content    string `json:"content,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"` // seconds
}

// wsConn serializes writes; the reader goroutine and the agent's sink
// both send frames.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(frame wsOutbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("gateway.ws_upgrade_failed", "error", err)
		return
	}
	conn := &wsConn{conn: raw}
	defer raw.Close()

	s.metrics.Inc("gateway_ws_connections", 1)
	ctx := r.Context()

	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			return
		}
		var frame wsInbound
		if err := json.Unmarshal(data, &frame); err != nil {
			_ = conn.send(wsOutbound{Type: "error", Content: "invalid frame"})
			continue
		}

		switch frame.Type {
		case "ping":
			_ = conn.send(wsOutbound{Type: "pong"})
		case "message":
			s.handleWSMessage(ctx, conn, frame)
		default:
			_ = conn.send(wsOutbound{Type: "error", Content: fmt.Sprintf("unknown frame type %q", frame.Type)})
		}
	}
}

func (s *Server) handleWSMessage(ctx context.Context, conn *wsConn, frame wsInbound) {
	if frame.Text == "" {
		_ = conn.send(wsOutbound{Type: "error", Content: "text is required"})
		return
	}
	userID := frame.UserID
	if userID == "" {
		userID = "anonymous"
	}
	if s.cfg.MaxMessageChars > 0 && len(frame.Text) > s.cfg.MaxMessageChars {
		_ = conn.send(wsOutbound{Type: "error", Content: fmt.Sprintf("message exceeds %d characters", s.cfg.MaxMessageChars)})
		return
	}

	release, retryAfter, err := s.pressure.acquire(ctx, userID)
	if err != nil {
		if errors.Is(err, errFlooded) {
			secs := int(retryAfter.Seconds()) + 1
			_ = conn.send(wsOutbound{
				Type:       "error",
				Content:    fmt.Sprintf("too many requests, retry in %ds", secs),
				RetryAfter: secs,
			})
			s.metrics.Inc("gateway_flood_rejected", 1)
			return
		}
		_ = conn.send(wsOutbound{Type: "error", Content: "server busy"})
		return
	}
	defer release()

	env := bus.Envelope{
		Provider: "ws",
		PeerID:   userID,
		Text:     frame.Text,
		ChatType: bus.ChatDirect,
		Ts:       time.Now(),
	}
	s.metrics.Inc("gateway_requests", 1)

	reply, err := s.handler(ctx, env, func(e bus.StreamEvent) {
		switch e.Type {
		case "typing":
			_ = conn.send(wsOutbound{Type: "typing"})
		case "token":
			_ = conn.send(wsOutbound{Type: "token", Content: e.Content})
		}
	})
	if err != nil {
		s.logger.Error("gateway.ws_chat_failed", "user", userID, "error", err)
		_ = conn.send(wsOutbound{Type: "error", Content: "agent failed to respond"})
		return
	}
	_ = conn.send(wsOutbound{Type: "message", Content: reply})
}
