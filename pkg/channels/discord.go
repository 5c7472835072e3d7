package channels

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/wangdong/clawguard/pkg/bus"
	"github.com/wangdong/clawguard/pkg/config"
	"github.com/wangdong/clawguard/pkg/logger"
	"github.com/wangdong/clawguard/pkg/permission"
)

// DiscordChannel rides the gateway instead of long-polling; discordgo owns
// reconnection and resume, so no cursor checkpointing applies here.
type DiscordChannel struct {
	*BaseChannel
	session *discordgo.Session
	cfg     config.DiscordConfig
}

func NewDiscordChannel(cfg config.DiscordConfig, msgBus *bus.MessageBus) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	return &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", msgBus, cfg.AllowFrom),
		session:     session,
		cfg:         cfg,
	}, nil
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	logger.InfoC("discord", "Starting Discord bot")

	c.session.AddHandler(c.handleMessage)
	c.session.AddHandler(c.handleInteraction)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}

	c.setRunning(true)

	botUser, err := c.session.User("@me")
	if err != nil {
		return fmt.Errorf("failed to get bot user: %w", err)
	}
	logger.InfoCF("discord", "Discord bot connected", map[string]any{
		"username": botUser.Username,
		"user_id":  botUser.ID,
	})

	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	logger.InfoC("discord", "Stopping Discord bot")
	c.setRunning(false)

	if err := c.session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}
	return nil
}

func (c *DiscordChannel) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Author == nil {
		return
	}
	if m.Author.ID == s.State.User.ID {
		return
	}
	if c.cfg.ChannelID != "" && m.ChannelID != c.cfg.ChannelID {
		return
	}
	if !c.IsAllowed(m.Author.ID) {
		logger.DebugCF("discord", "Message rejected by allowlist", map[string]any{
			"user_id": m.Author.ID,
		})
		return
	}
	if m.Content == "" {
		return
	}

	replyTo := ""
	if m.ReferencedMessage != nil {
		replyTo = m.ReferencedMessage.ID
	}

	c.HandleInbound(bus.InboundEvent{
		Channel:   c.Name(),
		SenderID:  m.Author.ID,
		ChatID:    m.ChannelID,
		Content:   m.Content,
		ReplyToID: replyTo,
		Metadata: map[string]string{
			"message_id": m.ID,
			"username":   m.Author.Username,
		},
	})
}

func (c *DiscordChannel) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i == nil || i.Type != discordgo.InteractionMessageComponent {
		return
	}

	// Acknowledge without changing the message; the terminal edit happens
	// once the orchestrator resolves.
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}); err != nil {
		logger.DebugCF("discord", "Failed to acknowledge interaction", map[string]any{
			"error": err.Error(),
		})
	}

	userID := ""
	switch {
	case i.Member != nil && i.Member.User != nil:
		userID = i.Member.User.ID
	case i.User != nil:
		userID = i.User.ID
	}
	if !c.IsAllowed(userID) {
		logger.DebugCF("discord", "Interaction rejected by allowlist", map[string]any{
			"user_id": userID,
		})
		return
	}
	if i.Message == nil {
		return
	}

	c.HandleInbound(bus.InboundEvent{
		Channel:   c.Name(),
		SenderID:  userID,
		ChatID:    i.ChannelID,
		Content:   i.MessageComponentData().CustomID,
		ReplyToID: i.Message.ID,
		Callback:  true,
	})
}

func (c *DiscordChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}

	channelID := msg.ChatID
	if channelID == "" {
		channelID = c.cfg.ChannelID
	}
	if channelID == "" {
		return fmt.Errorf("channel ID is empty")
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := c.session.ChannelMessageSend(channelID, msg.Content)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send discord message: %w", err)
		}
		return nil
	case <-sendCtx.Done():
		return fmt.Errorf("send message timeout: %w", sendCtx.Err())
	}
}

func (c *DiscordChannel) SendPermissionRequest(ctx context.Context, req permission.Request) (string, error) {
	if !c.IsRunning() {
		return "", fmt.Errorf("discord bot not running")
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	type sendResult struct {
		m   *discordgo.Message
		err error
	}
	done := make(chan sendResult, 1)
	go func() {
		m, err := c.session.ChannelMessageSendComplex(c.cfg.ChannelID, &discordgo.MessageSend{
			Content: BuildPermissionMessage(req),
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.Button{
							Label:    "Allow",
							Style:    discordgo.SuccessButton,
							CustomID: string(permission.DecisionAllow),
						},
						discordgo.Button{
							Label:    "Deny",
							Style:    discordgo.DangerButton,
							CustomID: string(permission.DecisionDeny),
						},
					},
				},
			},
		})
		done <- sendResult{m, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return "", fmt.Errorf("send permission request: %w", res.err)
		}
		c.Bind(req.ID, res.m.ID)
		return res.m.ID, nil
	case <-sendCtx.Done():
		return "", fmt.Errorf("send permission request timeout: %w", sendCtx.Err())
	}
}

func (c *DiscordChannel) UpdateMessage(ctx context.Context, messageID, content string) error {
	defer c.Unbind(messageID)

	noComponents := []discordgo.MessageComponent{}
	_, err := c.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
		Channel:    c.cfg.ChannelID,
		ID:         messageID,
		Content:    &content,
		Components: &noComponents,
	}, discordgo.WithContext(ctx))
	if err != nil {
		logger.WarnCF("discord", "Message edit failed", map[string]any{
			"message_id": messageID,
			"error":      err.Error(),
		})
	}
	return nil
}
