package bus

import (
	"context"

	"github.com/wangdong/clawguard/pkg/logger"
)

const inboundBuffer = 64

// MessageBus carries inbound events from the channel receive loop to the
// remote dispatcher. A single consumer drains it, so event handling stays
// serialized without extra locking.
type MessageBus struct {
	inbound chan InboundEvent
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound: make(chan InboundEvent, inboundBuffer),
	}
}

// PublishInbound enqueues an event without blocking the receive loop. If the
// dispatcher falls behind the buffer, the event is dropped with a warning;
// the transport layer is at-least-once, not lossless.
func (b *MessageBus) PublishInbound(evt InboundEvent) {
	select {
	case b.inbound <- evt:
	default:
		logger.WarnCF("bus", "Inbound queue full, dropping event", map[string]any{
			"channel":   evt.Channel,
			"sender_id": evt.SenderID,
		})
	}
}

// ConsumeInbound blocks until an event is available or ctx is cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundEvent, bool) {
	select {
	case <-ctx.Done():
		return InboundEvent{}, false
	case evt := <-b.inbound:
		return evt, true
	}
}
