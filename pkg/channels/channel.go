package channels

import (
	"context"
	"fmt"

	"github.com/wangdong/clawguard/pkg/bus"
	"github.com/wangdong/clawguard/pkg/config"
	"github.com/wangdong/clawguard/pkg/permission"
	"github.com/wangdong/clawguard/pkg/state"
)

// ResponseFunc receives decisions extracted from inbound traffic that
// correlated to a pending permission request.
type ResponseFunc func(requestID string, decision permission.Decision)

// Channel is the capability set every chat backend implements. Start must not
// block; Stop must cancel any in-flight receive promptly. Traffic that does
// not correlate to a pending request is published to the message bus for the
// remote dispatcher.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	SendPermissionRequest(ctx context.Context, req permission.Request) (string, error)
	UpdateMessage(ctx context.Context, messageID, content string) error
	OnResponse(fn ResponseFunc)
}

// New builds the configured channel backend. An unknown or unimplemented
// channel name is a fatal configuration error.
func New(cfg *config.Config, msgBus *bus.MessageBus, st *state.Manager) (Channel, error) {
	switch cfg.Channel {
	case "telegram":
		return NewTelegramChannel(cfg.Telegram, msgBus, st)
	case "discord":
		return NewDiscordChannel(cfg.Discord, msgBus)
	case "slack":
		return NewSlackChannel(cfg.Slack, msgBus)
	default:
		return nil, fmt.Errorf("channel %q is not implemented", cfg.Channel)
	}
}
