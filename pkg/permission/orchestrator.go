package permission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wangdong/clawguard/pkg/logger"
	"github.com/wangdong/clawguard/pkg/utils"
)

const finalEditTimeout = 10 * time.Second

// Sender is the slice of a channel the orchestrator needs: sending the ask
// and editing it once the outcome is known.
type Sender interface {
	SendPermissionRequest(ctx context.Context, req Request) (string, error)
	UpdateMessage(ctx context.Context, messageID, content string) error
}

// Orchestrator drives one permission request end to end: send, register,
// await, reflect the outcome back into the channel.
type Orchestrator struct {
	channel Sender
	store   *Store
}

func NewOrchestrator(channel Sender, store *Store) *Orchestrator {
	return &Orchestrator{channel: channel, store: store}
}

// Resolve is the channel's response callback: it completes the matching
// pending request. A miss is normal (late reply, duplicate click) and is
// only logged.
func (o *Orchestrator) Resolve(requestID string, decision Decision) {
	if !o.store.Resolve(requestID, decision) {
		logger.DebugCF("permission", "Response for unknown request ignored", map[string]any{
			"request_id": requestID,
		})
	}
}

// HandleRequest asks the operator to decide on a tool call and blocks until a
// decision arrives or the request expires. Timeout and store-cleared failures
// are returned to the caller; the host owns the default behavior.
func (o *Orchestrator) HandleRequest(ctx context.Context, tool string, args map[string]any, sessionID string) (Decision, error) {
	req := NewRequest(tool, args, sessionID)

	logger.InfoCF("permission", "Requesting permission", map[string]any{
		"request_id": req.ID,
		"tool":       tool,
		"session_id": sessionID,
	})

	messageID, err := o.channel.SendPermissionRequest(ctx, req)
	if err != nil {
		return "", fmt.Errorf("send permission request: %w", err)
	}

	pending := o.store.Register(req, messageID)
	decision, err := pending.Await(ctx)
	if err != nil {
		// Every failure path still gets its terminal edit: the edit is what
		// drops the correlation entry, so skipping it would leave the ask's
		// buttons live and matchable forever.
		switch {
		case errors.Is(err, ErrTimeout):
			o.finalize(messageID, fmt.Sprintf("⏰ %s — no response received, request timed out", req.Tool))
		case errors.Is(err, ErrStoreCleared):
			o.finalize(messageID, fmt.Sprintf("🚫 %s — shutting down, no decision recorded", req.Tool))
		default:
			o.finalize(messageID, fmt.Sprintf("🚫 %s — request abandoned, no decision recorded", req.Tool))
		}
		return "", err
	}

	o.finalize(messageID, FormatOutcome(req, decision))

	logger.InfoCF("permission", "Permission resolved", map[string]any{
		"request_id": req.ID,
		"decision":   string(decision),
	})
	return decision, nil
}

// finalize performs the terminal edit on its own context: the request context
// may already be cancelled or past its deadline by the time we get here.
func (o *Orchestrator) finalize(messageID, content string) {
	ctx, cancel := context.WithTimeout(context.Background(), finalEditTimeout)
	defer cancel()
	if err := o.channel.UpdateMessage(ctx, messageID, content); err != nil {
		logger.WarnCF("permission", "Terminal edit failed", map[string]any{
			"message_id": messageID,
			"error":      err.Error(),
		})
	}
}

// FormatOutcome renders the final decision for the terminal message edit.
func FormatOutcome(req Request, decision Decision) string {
	switch {
	case decision == DecisionAllow:
		return fmt.Sprintf("✅ %s — allowed", req.Tool)
	case decision == DecisionDeny:
		return fmt.Sprintf("🚫 %s — denied", req.Tool)
	default:
		return fmt.Sprintf("💬 %s — %s", req.Tool, utils.Truncate(string(decision), 200))
	}
}
