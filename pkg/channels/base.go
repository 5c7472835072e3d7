package channels

import (
	"sync"
	"sync/atomic"

	"github.com/wangdong/clawguard/pkg/bus"
	"github.com/wangdong/clawguard/pkg/logger"
	"github.com/wangdong/clawguard/pkg/permission"
	"github.com/wangdong/clawguard/pkg/utils"
)

// BaseChannel carries the state every backend shares: identity, the
// correlation table, the inbound bus, the sender allow-list and the running
// flag. Backends embed it and implement only the operations that vary.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom map[string]bool
	running   atomic.Bool

	table *Table

	mu         sync.Mutex
	onResponse ResponseFunc
}

func NewBaseChannel(name string, msgBus *bus.MessageBus, allowFrom []string) *BaseChannel {
	allowed := make(map[string]bool, len(allowFrom))
	for _, id := range allowFrom {
		if id != "" {
			allowed[id] = true
		}
	}
	return &BaseChannel{
		name:      name,
		bus:       msgBus,
		allowFrom: allowed,
		table:     NewTable(),
	}
}

func (b *BaseChannel) Name() string {
	return b.name
}

// IsAllowed checks the sender allow-list. An empty list allows everyone the
// chat filter already let through.
func (b *BaseChannel) IsAllowed(senderID string) bool {
	if len(b.allowFrom) == 0 {
		return true
	}
	return b.allowFrom[senderID]
}

func (b *BaseChannel) setRunning(v bool) {
	b.running.Store(v)
}

func (b *BaseChannel) IsRunning() bool {
	return b.running.Load()
}

func (b *BaseChannel) OnResponse(fn ResponseFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onResponse = fn
}

func (b *BaseChannel) respond(requestID string, decision permission.Decision) {
	b.mu.Lock()
	fn := b.onResponse
	b.mu.Unlock()
	if fn != nil {
		fn(requestID, decision)
	}
}

// Bind registers a freshly sent permission message in the correlation table.
// Must be called before SendPermissionRequest returns so an immediate reply
// is guaranteed to be matchable.
func (b *BaseChannel) Bind(requestID, messageID string) {
	b.table.Bind(requestID, messageID)
}

// Unbind drops a correlation entry after a terminal edit, whether or not the
// edit succeeded.
func (b *BaseChannel) Unbind(messageID string) {
	b.table.Unbind(messageID)
}

// Correlated reports whether a request id is still bound, for tests and
// status displays.
func (b *BaseChannel) Correlated(requestID string) bool {
	return b.table.Contains(requestID)
}

// HandleInbound classifies one received event. If it targets a message bound
// in the correlation table, the text or callback payload is normalized into a
// decision and the response callback fires; the event is consumed. Everything
// else — correlation misses included — is forwarded verbatim to the remote
// dispatcher. Returns true when the event was consumed as a decision.
func (b *BaseChannel) HandleInbound(evt bus.InboundEvent) bool {
	if requestID, ok := b.table.RequestFor(evt.ReplyToID); ok {
		decision := permission.Normalize(evt.Content)
		logger.InfoCF(b.name, "Correlated response", map[string]any{
			"request_id": requestID,
			"message_id": evt.ReplyToID,
			"decision":   utils.Truncate(string(decision), 50),
		})
		b.respond(requestID, decision)
		return true
	}

	logger.DebugCF(b.name, "Forwarding event to dispatcher", map[string]any{
		"sender_id": evt.SenderID,
		"callback":  evt.Callback,
		"preview":   utils.Truncate(evt.Content, 50),
	})
	b.bus.PublishInbound(evt)
	return false
}
