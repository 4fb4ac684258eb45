// Package transcript is the append-only session log. A session owns an
// ordered sequence of turns persisted as one JSON object per line; the
// file is the source of truth and is never rewritten.
//
// Session IDs follow the canonical format:
//
//	agent:{agentId}:{provider}:{peerId}
//
// Examples:
//
//	agent:default:telegram:386246614
//	agent:default:cli:local
package transcript

import (
	"fmt"
	"strings"
	"time"

	"github.com/dinh2350/lunar-sub002/internal/providers"
)

// Kind is the turn discriminator.
type Kind string

const (
	KindUser       Kind = "user"
	KindAssistant  Kind = "assistant"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
	KindSystem     Kind = "system"
)

// Turn is one entry in a session transcript.
type Turn struct {
	Kind    Kind      `json:"kind"`
	Content string    `json:"content,omitempty"`
	Ts      time.Time `json:"ts"`

	// assistant turns
	ToolCalls []providers.ToolCall `json:"tool_calls,omitempty"`

	// tool_call / tool_result turns
	ID        string                 `json:"id,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	OK        bool                   `json:"ok,omitempty"`
}

// Resolve builds the canonical session ID for a channel conversation.
func Resolve(provider, peerID, agentID string) string {
	return fmt.Sprintf("agent:%s:%s:%s", agentID, provider, peerID)
}

// ParseSessionID extracts the agentID and rest from a canonical session ID.
// Returns ("", "") if the ID is not in the expected format.
func ParseSessionID(id string) (agentID, rest string) {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) < 3 || parts[0] != "agent" {
		return "", ""
	}
	return parts[1], parts[2]
}

// safeFileName derives the transcript file name from a session ID.
// Reserved ':' characters are replaced with '-'.
func safeFileName(sessionID string) string {
	return strings.ReplaceAll(sessionID, ":", "-")
}

// ToMessages flattens turns into LLM chat messages in source order.
// tool_call turns become assistant messages carrying the call; tool_result
// turns become role="tool" messages referencing the call ID.
func ToMessages(turns []Turn) []providers.Message {
	msgs := make([]providers.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Kind {
		case KindUser:
			msgs = append(msgs, providers.Message{Role: "user", Content: t.Content})
		case KindAssistant:
			msgs = append(msgs, providers.Message{Role: "assistant", Content: t.Content, ToolCalls: t.ToolCalls})
		case KindSystem:
			msgs = append(msgs, providers.Message{Role: "system", Content: t.Content})
		case KindToolCall:
			msgs = append(msgs, providers.Message{
				Role: "assistant",
				ToolCalls: []providers.ToolCall{{
					ID:        t.ID,
					Name:      t.Name,
					Arguments: t.Arguments,
				}},
			})
		case KindToolResult:
			msgs = append(msgs, providers.Message{
				Role:       "tool",
				Content:    t.Content,
				ToolCallID: t.ID,
			})
		}
	}
	return msgs
}
