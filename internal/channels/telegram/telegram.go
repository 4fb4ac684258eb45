// Package telegram is the Telegram connector, using Bot API long
// polling. Incoming photos are downscaled before they reach the model.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/dinh2350/lunar-sub002/internal/bus"
	"github.com/dinh2350/lunar-sub002/internal/channels"
	"github.com/dinh2350/lunar-sub002/internal/config"
)

const typingInterval = 4 * time.Second

// Connector runs one Telegram bot.
type Connector struct {
	bot     *telego.Bot
	cfg     config.TelegramConfig
	handler bus.Handler
	logger  *slog.Logger

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

func New(cfg config.TelegramConfig, handler bus.Handler, logger *slog.Logger) (*Connector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Connector{bot: bot, cfg: cfg, handler: handler, logger: logger}, nil
}

func (c *Connector) Name() string { return "telegram" }

// Start begins long polling for updates.
func (c *Connector) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("telegram long polling: %w", err)
	}

	go func() {
		defer close(c.pollDone)
		for update := range updates {
			c.handleUpdate(pollCtx, update)
		}
	}()
	return nil
}

func (c *Connector) Stop(ctx context.Context) error {
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *Connector) handleUpdate(ctx context.Context, update telego.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if text == "" && len(msg.Photo) == 0 {
		return
	}

	userID := strconv.FormatInt(msg.From.ID, 10)
	if !c.allowed(userID, msg.From.Username) {
		c.logger.Debug("telegram.sender_rejected", "user", userID, "username", msg.From.Username)
		return
	}

	chatType := bus.ChatDirect
	if msg.Chat.Type == "group" || msg.Chat.Type == "supergroup" {
		chatType = bus.ChatGroup
	}

	env := bus.Envelope{
		Provider: "telegram",
		PeerID:   strconv.FormatInt(msg.Chat.ID, 10),
		Text:     text,
		ChatType: chatType,
		Ts:       time.Unix(msg.Date, 0),
	}
	if len(msg.Photo) > 0 {
		if att, err := c.photoAttachment(ctx, msg.Photo); err != nil {
			c.logger.Warn("telegram.photo_failed", "error", err)
		} else {
			env.Attachments = append(env.Attachments, att)
		}
	}

	stopTyping := c.startTyping(ctx, msg.Chat.ID)
	reply, err := c.handler(ctx, env, nil)
	stopTyping()

	if err != nil {
		c.logger.Error("telegram.handler_failed", "chat", env.PeerID, "error", err)
		reply = "Something went wrong handling that message."
	}
	if reply == "" {
		return
	}
	for _, piece := range channels.Split(reply, channels.TelegramMessageLimit) {
		if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(msg.Chat.ID), piece)); err != nil {
			c.logger.Error("telegram.send_failed", "chat", env.PeerID, "error", err)
			return
		}
	}
}

// startTyping keeps the typing indicator alive until the returned stop
// function runs. Telegram clears the action after ~5s on its own.
func (c *Connector) startTyping(ctx context.Context, chatID int64) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(typingInterval)
		defer ticker.Stop()
		send := func() {
			_ = c.bot.SendChatAction(ctx, &telego.SendChatActionParams{
				ChatID: tu.ID(chatID),
				Action: telego.ChatActionTyping,
			})
		}
		send()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				send()
			}
		}
	}()
	return func() { close(done) }
}

// allowed checks the configured allowlist by numeric ID or username.
// An empty allowlist admits everyone.
func (c *Connector) allowed(userID, username string) bool {
	if len(c.cfg.AllowedID) == 0 {
		return true
	}
	for _, entry := range c.cfg.AllowedID {
		if entry == userID || (username != "" && (entry == username || entry == "@"+username)) {
			return true
		}
	}
	return false
}
