// Package discord is the Discord connector, using gateway events.
// The bot answers DMs and guild messages that mention it.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/dinh2350/lunar-sub002/internal/bus"
	"github.com/dinh2350/lunar-sub002/internal/channels"
	"github.com/dinh2350/lunar-sub002/internal/config"
)

// Connector runs one Discord bot session.
type Connector struct {
	session *discordgo.Session
	cfg     config.DiscordConfig
	handler bus.Handler
	logger  *slog.Logger
	botID   string
}

func New(cfg config.DiscordConfig, handler bus.Handler, logger *slog.Logger) (*Connector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	return &Connector{session: session, cfg: cfg, handler: handler, logger: logger}, nil
}

func (c *Connector) Name() string { return "discord" }

func (c *Connector) Start(ctx context.Context) error {
	c.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		c.handleMessage(ctx, m)
	})
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	if c.session.State != nil && c.session.State.User != nil {
		c.botID = c.session.State.User.ID
	}
	return nil
}

func (c *Connector) Stop(ctx context.Context) error {
	return c.session.Close()
}

func (c *Connector) handleMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == c.botID {
		return
	}

	isDM := m.GuildID == ""
	text := m.Content
	if !isDM {
		// Guild messages require a mention; strip it from the text.
		if !c.mentioned(m) {
			return
		}
		text = stripMention(text, c.botID)
	}
	if strings.TrimSpace(text) == "" {
		return
	}

	chatType := bus.ChatDirect
	if !isDM {
		chatType = bus.ChatGroup
	}
	env := bus.Envelope{
		Provider: "discord",
		PeerID:   m.ChannelID,
		Text:     strings.TrimSpace(text),
		ChatType: chatType,
		Ts:       time.Now(),
	}

	stopTyping := c.startTyping(ctx, m.ChannelID)
	reply, err := c.handler(ctx, env, nil)
	stopTyping()

	if err != nil {
		c.logger.Error("discord.handler_failed", "channel", m.ChannelID, "error", err)
		reply = "Something went wrong handling that message."
	}
	if reply == "" {
		return
	}
	for _, piece := range channels.Split(reply, channels.DiscordMessageLimit) {
		if _, err := c.session.ChannelMessageSend(m.ChannelID, piece); err != nil {
			c.logger.Error("discord.send_failed", "channel", m.ChannelID, "error", err)
			return
		}
	}
}

func (c *Connector) mentioned(m *discordgo.MessageCreate) bool {
	for _, u := range m.Mentions {
		if u.ID == c.botID {
			return true
		}
	}
	return false
}

func stripMention(text, botID string) string {
	text = strings.ReplaceAll(text, "<@"+botID+">", "")
	text = strings.ReplaceAll(text, "<@!"+botID+">", "")
	return text
}

// startTyping refreshes the typing indicator until stopped. Discord
// clears it after ~10s.
func (c *Connector) startTyping(ctx context.Context, channelID string) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(8 * time.Second)
		defer ticker.Stop()
		_ = c.session.ChannelTyping(channelID)
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = c.session.ChannelTyping(channelID)
			}
		}
	}()
	return func() { close(done) }
}
