// Package bus defines the normalized message shapes exchanged between
// channel connectors and the agent runtime.
package bus

import (
	"context"
	"time"
)

// ChatType distinguishes DM from group conversations.
type ChatType string

const (
	ChatDirect ChatType = "direct"
	ChatGroup  ChatType = "group"
)

// AttachmentKind classifies an inbound attachment.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentAudio AttachmentKind = "audio"
	AttachmentFile  AttachmentKind = "file"
)

// Attachment is a media item carried by an envelope. Either URI or Bytes
// is set, never both.
type Attachment struct {
	Kind  AttachmentKind `json:"kind"`
	URI   string         `json:"uri,omitempty"`
	Bytes []byte         `json:"bytes,omitempty"`
	Mime  string         `json:"mime,omitempty"`
}

// Envelope is the immutable normalized record every channel produces
// before the core sees a message.
type Envelope struct {
	Provider    string       `json:"provider"` // "telegram", "discord", "websocket", "http", "cli"
	PeerID      string       `json:"peer_id"`
	Text        string       `json:"text"`
	ChatType    ChatType     `json:"chat_type"`
	Ts          time.Time    `json:"ts"`
	Attachments []Attachment `json:"attachments,omitempty"`
	SessionID   string       `json:"session_id,omitempty"` // explicit session override (HTTP API)
}

// Reply carries the agent's response back to a channel connector.
type Reply struct {
	Provider string `json:"provider"`
	PeerID   string `json:"peer_id"`
	Content  string `json:"content"`
}

// StreamEvent is a progress notification emitted while the loop runs.
type StreamEvent struct {
	Type    string `json:"type"` // "typing", "token", "message", "error"
	Content string `json:"content,omitempty"`
}

// Sink receives streaming events for one in-flight message. Channels that
// do not support streaming may ignore token events and wait for Reply.
type Sink func(StreamEvent)

// Handler processes one normalized envelope and returns the final reply text.
// The context carries the channel's disconnect/cancel signal.
type Handler func(ctx context.Context, env Envelope, sink Sink) (string, error)
