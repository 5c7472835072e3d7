package notify

import (
	"context"
	"fmt"

	"github.com/wangdong/clawguard/pkg/bus"
	"github.com/wangdong/clawguard/pkg/config"
	"github.com/wangdong/clawguard/pkg/logger"
	"github.com/wangdong/clawguard/pkg/utils"
)

const maxDetailChars = 500

// Kind identifies the host lifecycle event a notification reports.
type Kind string

const (
	KindComplete Kind = "complete"
	KindError    Kind = "error"
	KindIdle     Kind = "idle"
)

// Sender is the outbound side of the channel notifications go through.
type Sender interface {
	Send(ctx context.Context, msg bus.OutboundMessage) error
}

// Emitter pushes one-way session notifications, gated per kind by config.
type Emitter struct {
	channel Sender
	gates   map[Kind]bool
}

func NewEmitter(channel Sender, cfg config.NotifyConfig) *Emitter {
	return &Emitter{
		channel: channel,
		gates: map[Kind]bool{
			KindComplete: cfg.Complete,
			KindError:    cfg.Error,
			KindIdle:     cfg.Idle,
		},
	}
}

// Notify sends a notification for the given event if its kind is enabled.
// Delivery failures are logged, never returned: notifications are
// best-effort and must not stall the host.
func (e *Emitter) Notify(ctx context.Context, kind Kind, sessionID, detail string) {
	if !e.gates[kind] {
		logger.DebugCF("notify", "Notification kind disabled, skipping", map[string]any{
			"kind": string(kind),
		})
		return
	}

	text := format(kind, sessionID, detail)
	if text == "" {
		logger.WarnCF("notify", "Unknown notification kind", map[string]any{
			"kind": string(kind),
		})
		return
	}

	if err := e.channel.Send(ctx, bus.OutboundMessage{Content: text}); err != nil {
		logger.WarnCF("notify", "Failed to deliver notification", map[string]any{
			"kind":  string(kind),
			"error": err.Error(),
		})
		return
	}
	logger.DebugCF("notify", "Notification delivered", map[string]any{
		"kind":       string(kind),
		"session_id": sessionID,
	})
}

func format(kind Kind, sessionID, detail string) string {
	var head string
	switch kind {
	case KindComplete:
		head = fmt.Sprintf("✅ Session %s finished", sessionID)
	case KindError:
		head = fmt.Sprintf("❗ Session %s hit an error", sessionID)
	case KindIdle:
		head = fmt.Sprintf("💤 Session %s is waiting for input", sessionID)
	default:
		return ""
	}

	if detail != "" {
		return head + "\n" + utils.Truncate(detail, maxDetailChars)
	}
	return head
}
