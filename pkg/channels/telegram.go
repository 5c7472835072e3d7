package channels

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/mymmrac/telego"

	"github.com/wangdong/clawguard/pkg/bus"
	"github.com/wangdong/clawguard/pkg/config"
	"github.com/wangdong/clawguard/pkg/logger"
	"github.com/wangdong/clawguard/pkg/permission"
	"github.com/wangdong/clawguard/pkg/state"
)

const (
	pollTimeout  = 30 // seconds, Telegram getUpdates long-poll hold
	retryBackoff = 5 * time.Second
	sendTimeout  = 10 * time.Second
)

// TelegramChannel talks to the Bot API with a hand-rolled getUpdates loop so
// the update cursor stays under our control and survives restarts.
type TelegramChannel struct {
	*BaseChannel
	bot    *telego.Bot
	cfg    config.TelegramConfig
	chatID telego.ChatID
	st     *state.Manager

	cancel context.CancelFunc
	done   chan struct{}
}

func NewTelegramChannel(cfg config.TelegramConfig, msgBus *bus.MessageBus, st *state.Manager) (*TelegramChannel, error) {
	bot, err := telego.NewBot(cfg.Token, telego.WithDiscardLogger())
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &TelegramChannel{
		BaseChannel: NewBaseChannel("telegram", msgBus, cfg.AllowFrom),
		bot:         bot,
		cfg:         cfg,
		chatID:      telego.ChatID{ID: cfg.ChatID},
		st:          st,
		done:        make(chan struct{}),
	}, nil
}

// Start launches the receive loop and returns immediately.
func (c *TelegramChannel) Start(ctx context.Context) error {
	logger.InfoC("telegram", "Starting Telegram long-poll loop")

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.setRunning(true)

	go c.receiveLoop(loopCtx)
	return nil
}

// Stop cancels the in-flight long poll and waits for the loop to exit,
// bounded by ctx.
func (c *TelegramChannel) Stop(ctx context.Context) error {
	logger.InfoC("telegram", "Stopping Telegram long-poll loop")
	c.setRunning(false)
	if c.cancel != nil {
		c.cancel()
	}

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram receive loop did not stop: %w", ctx.Err())
	}
}

// receiveLoop polls getUpdates until cancelled, advancing and checkpointing
// the offset cursor after each consumed update. Transient failures back off
// and retry; redelivery of updates processed but not yet checkpointed is
// accepted (at-least-once).
func (c *TelegramChannel) receiveLoop(ctx context.Context) {
	defer close(c.done)

	offset := c.st.Cursor(c.Name())
	for {
		if ctx.Err() != nil {
			return
		}

		updates, err := c.bot.GetUpdates(ctx, &telego.GetUpdatesParams{
			Offset:         int(offset),
			Timeout:        pollTimeout,
			AllowedUpdates: []string{"message", "callback_query"},
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WarnCF("telegram", "getUpdates failed, retrying", map[string]any{
				"error":   err.Error(),
				"backoff": retryBackoff.String(),
			})
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryBackoff):
			}
			continue
		}

		for _, update := range updates {
			c.handleUpdate(ctx, update)
			if next := int64(update.UpdateID) + 1; next > offset {
				offset = next
				if err := c.st.SetCursor(c.Name(), offset); err != nil {
					logger.WarnCF("telegram", "Failed to checkpoint cursor", map[string]any{
						"offset": offset,
						"error":  err.Error(),
					})
				}
			}
		}
	}
}

func (c *TelegramChannel) handleUpdate(ctx context.Context, update telego.Update) {
	switch {
	case update.CallbackQuery != nil:
		c.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		c.handleMessage(update.Message)
	}
}

func (c *TelegramChannel) handleMessage(m *telego.Message) {
	if m.Text == "" {
		return
	}
	if c.cfg.ChatID != 0 && m.Chat.ID != c.cfg.ChatID {
		logger.DebugCF("telegram", "Message from foreign chat ignored", map[string]any{
			"chat_id": m.Chat.ID,
		})
		return
	}

	senderID := ""
	if m.From != nil {
		senderID = strconv.FormatInt(m.From.ID, 10)
	}
	if !c.IsAllowed(senderID) {
		logger.DebugCF("telegram", "Message rejected by allowlist", map[string]any{
			"sender_id": senderID,
		})
		return
	}

	replyTo := ""
	if m.ReplyToMessage != nil {
		replyTo = strconv.Itoa(m.ReplyToMessage.MessageID)
	}

	c.HandleInbound(bus.InboundEvent{
		Channel:   c.Name(),
		SenderID:  senderID,
		ChatID:    strconv.FormatInt(m.Chat.ID, 10),
		Content:   m.Text,
		ReplyToID: replyTo,
		Metadata: map[string]string{
			"message_id": strconv.Itoa(m.MessageID),
		},
	})
}

func (c *TelegramChannel) handleCallback(ctx context.Context, cq *telego.CallbackQuery) {
	// Answer first so the operator's client stops its spinner; a failure here
	// must not abort the receive loop.
	if err := c.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{
		CallbackQueryID: cq.ID,
	}); err != nil {
		logger.DebugCF("telegram", "Failed to answer callback query", map[string]any{
			"error": err.Error(),
		})
	}

	senderID := strconv.FormatInt(cq.From.ID, 10)
	if !c.IsAllowed(senderID) {
		logger.DebugCF("telegram", "Callback rejected by allowlist", map[string]any{
			"sender_id": senderID,
		})
		return
	}

	messageID := ""
	chatID := ""
	if cq.Message != nil {
		messageID = strconv.Itoa(cq.Message.GetMessageID())
		chatID = strconv.FormatInt(cq.Message.GetChat().ID, 10)
	}

	c.HandleInbound(bus.InboundEvent{
		Channel:   c.Name(),
		SenderID:  senderID,
		ChatID:    chatID,
		Content:   cq.Data,
		ReplyToID: messageID,
		Callback:  true,
	})
}

func (c *TelegramChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("telegram channel not running")
	}

	chatID := c.chatID
	if msg.ChatID != "" {
		if id, err := strconv.ParseInt(msg.ChatID, 10, 64); err == nil {
			chatID = telego.ChatID{ID: id}
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if _, err := c.bot.SendMessage(sendCtx, &telego.SendMessageParams{
		ChatID: chatID,
		Text:   msg.Content,
	}); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// SendPermissionRequest posts the ask with an inline Allow/Deny keyboard and
// binds the returned message id before returning, so a reply arriving right
// after the send is guaranteed to correlate.
func (c *TelegramChannel) SendPermissionRequest(ctx context.Context, req permission.Request) (string, error) {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	keyboard := &telego.InlineKeyboardMarkup{
		InlineKeyboard: [][]telego.InlineKeyboardButton{{
			{Text: "✅ Allow", CallbackData: string(permission.DecisionAllow)},
			{Text: "🚫 Deny", CallbackData: string(permission.DecisionDeny)},
		}},
	}

	m, err := c.bot.SendMessage(sendCtx, &telego.SendMessageParams{
		ChatID:      c.chatID,
		Text:        BuildPermissionMessage(req),
		ReplyMarkup: keyboard,
	})
	if err != nil {
		return "", fmt.Errorf("send permission request: %w", err)
	}

	messageID := strconv.Itoa(m.MessageID)
	c.Bind(req.ID, messageID)
	return messageID, nil
}

// UpdateMessage performs the best-effort terminal edit and always drops the
// correlation entry, so a stale id is never matched twice.
func (c *TelegramChannel) UpdateMessage(ctx context.Context, messageID, content string) error {
	defer c.Unbind(messageID)

	id, err := strconv.Atoi(messageID)
	if err != nil {
		return nil
	}

	editCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if _, err := c.bot.EditMessageText(editCtx, &telego.EditMessageTextParams{
		ChatID:    c.chatID,
		MessageID: id,
		Text:      content,
	}); err != nil {
		logger.WarnCF("telegram", "Message edit failed", map[string]any{
			"message_id": messageID,
			"error":      err.Error(),
		})
	}
	return nil
}
