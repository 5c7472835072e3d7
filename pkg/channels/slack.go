package channels

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/wangdong/clawguard/pkg/bus"
	"github.com/wangdong/clawguard/pkg/config"
	"github.com/wangdong/clawguard/pkg/logger"
	"github.com/wangdong/clawguard/pkg/permission"
)

// SlackChannel uses socket mode for inbound traffic. Message timestamps are
// the native ids; a thread reply's parent timestamp is the reply target.
type SlackChannel struct {
	*BaseChannel
	api  *slack.Client
	sock *socketmode.Client
	cfg  config.SlackConfig

	cancel context.CancelFunc
	done   chan struct{}
}

func NewSlackChannel(cfg config.SlackConfig, msgBus *bus.MessageBus) (*SlackChannel, error) {
	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	return &SlackChannel{
		BaseChannel: NewBaseChannel("slack", msgBus, cfg.AllowFrom),
		api:         api,
		sock:        socketmode.New(api),
		cfg:         cfg,
		done:        make(chan struct{}),
	}, nil
}

func (c *SlackChannel) Start(ctx context.Context) error {
	logger.InfoC("slack", "Starting Slack socket-mode client")

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.setRunning(true)

	go func() {
		if err := c.sock.RunContext(loopCtx); err != nil && loopCtx.Err() == nil {
			logger.ErrorCF("slack", "Socket-mode client exited", map[string]any{
				"error": err.Error(),
			})
		}
	}()
	go c.eventLoop(loopCtx)
	return nil
}

func (c *SlackChannel) Stop(ctx context.Context) error {
	logger.InfoC("slack", "Stopping Slack socket-mode client")
	c.setRunning(false)
	if c.cancel != nil {
		c.cancel()
	}

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("slack event loop did not stop: %w", ctx.Err())
	}
}

func (c *SlackChannel) eventLoop(ctx context.Context) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.sock.Events:
			if !ok {
				return
			}
			c.handleSocketEvent(evt)
		}
	}
}

func (c *SlackChannel) handleSocketEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if evt.Request != nil {
			c.sock.Ack(*evt.Request)
		}
		if !ok {
			return
		}
		if ev, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent); ok {
			c.handleMessage(ev)
		}
	case socketmode.EventTypeInteractive:
		callback, ok := evt.Data.(slack.InteractionCallback)
		if evt.Request != nil {
			c.sock.Ack(*evt.Request)
		}
		if ok {
			c.handleInteraction(callback)
		}
	}
}

func (c *SlackChannel) handleMessage(ev *slackevents.MessageEvent) {
	if ev.BotID != "" || ev.SubType != "" || ev.Text == "" {
		return
	}
	if c.cfg.ChannelID != "" && ev.Channel != c.cfg.ChannelID {
		return
	}
	if !c.IsAllowed(ev.User) {
		logger.DebugCF("slack", "Message rejected by allowlist", map[string]any{
			"user_id": ev.User,
		})
		return
	}

	c.HandleInbound(bus.InboundEvent{
		Channel:   c.Name(),
		SenderID:  ev.User,
		ChatID:    ev.Channel,
		Content:   ev.Text,
		ReplyToID: ev.ThreadTimeStamp,
		Metadata: map[string]string{
			"message_id": ev.TimeStamp,
		},
	})
}

func (c *SlackChannel) handleInteraction(callback slack.InteractionCallback) {
	if callback.Type != slack.InteractionTypeBlockActions {
		return
	}
	actions := callback.ActionCallback.BlockActions
	if len(actions) == 0 {
		return
	}
	if !c.IsAllowed(callback.User.ID) {
		logger.DebugCF("slack", "Interaction rejected by allowlist", map[string]any{
			"user_id": callback.User.ID,
		})
		return
	}

	c.HandleInbound(bus.InboundEvent{
		Channel:   c.Name(),
		SenderID:  callback.User.ID,
		ChatID:    callback.Container.ChannelID,
		Content:   actions[0].Value,
		ReplyToID: callback.Container.MessageTs,
		Callback:  true,
	})
}

func (c *SlackChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("slack channel not running")
	}

	channelID := msg.ChatID
	if channelID == "" {
		channelID = c.cfg.ChannelID
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if _, _, err := c.api.PostMessageContext(sendCtx, channelID,
		slack.MsgOptionText(msg.Content, false)); err != nil {
		return fmt.Errorf("send slack message: %w", err)
	}
	return nil
}

func (c *SlackChannel) SendPermissionRequest(ctx context.Context, req permission.Request) (string, error) {
	text := BuildPermissionMessage(req)

	allow := slack.NewButtonBlockElement("permission_allow", string(permission.DecisionAllow),
		slack.NewTextBlockObject(slack.PlainTextType, "Allow", false, false))
	allow = allow.WithStyle(slack.StylePrimary)
	deny := slack.NewButtonBlockElement("permission_deny", string(permission.DecisionDeny),
		slack.NewTextBlockObject(slack.PlainTextType, "Deny", false, false))
	deny = deny.WithStyle(slack.StyleDanger)

	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.PlainTextType, text, false, false), nil, nil),
		slack.NewActionBlock("permission_actions", allow, deny),
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	_, ts, err := c.api.PostMessageContext(sendCtx, c.cfg.ChannelID,
		slack.MsgOptionBlocks(blocks...),
		slack.MsgOptionText(text, false))
	if err != nil {
		return "", fmt.Errorf("send permission request: %w", err)
	}

	c.Bind(req.ID, ts)
	return ts, nil
}

func (c *SlackChannel) UpdateMessage(ctx context.Context, messageID, content string) error {
	defer c.Unbind(messageID)

	editCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if _, _, _, err := c.api.UpdateMessageContext(editCtx, c.cfg.ChannelID, messageID,
		slack.MsgOptionText(content, false),
		slack.MsgOptionBlocks()); err != nil {
		logger.WarnCF("slack", "Message edit failed", map[string]any{
			"message_id": messageID,
			"error":      err.Error(),
		})
	}
	return nil
}
