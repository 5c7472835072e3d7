package remote

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wangdong/clawguard/pkg/bus"
	"github.com/wangdong/clawguard/pkg/host"
	"github.com/wangdong/clawguard/pkg/logger"
	"github.com/wangdong/clawguard/pkg/state"
	"github.com/wangdong/clawguard/pkg/utils"
)

const (
	commandPrefix   = "/"
	maxListSessions = 5
)

const usage = `Commands:
/status — remote control state and active session
/list — recent sessions
/use <prefix> — select the active session by id prefix
/help — this message

Anything else is forwarded as a prompt into the active session.`

// Responder is the outbound side of the channel the dispatcher answers
// through.
type Responder interface {
	Send(ctx context.Context, msg bus.OutboundMessage) error
}

// Dispatcher consumes inbound events that did not correlate to a pending
// permission request. All handling runs on the single bus consumer
// goroutine, so the active-session reference has a single writer.
type Dispatcher struct {
	channel Responder
	host    host.Client
	st      *state.Manager
	enabled bool
}

func NewDispatcher(channel Responder, hostClient host.Client, st *state.Manager) *Dispatcher {
	return &Dispatcher{
		channel: channel,
		host:    hostClient,
		st:      st,
		enabled: st.RemoteEnabled(),
	}
}

// Enabled reports whether remote commands are being processed.
func (d *Dispatcher) Enabled() bool {
	return d.enabled
}

// Run drains the bus until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, msgBus *bus.MessageBus) {
	logger.InfoC("remote", "Remote dispatcher started")
	for {
		evt, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			logger.InfoC("remote", "Remote dispatcher stopped")
			return
		}
		d.HandleIncoming(ctx, evt)
	}
}

// HandleIncoming processes one uncorrelated event: a command, free text to
// forward, or a stale button click.
func (d *Dispatcher) HandleIncoming(ctx context.Context, evt bus.InboundEvent) {
	if !d.enabled {
		logger.DebugC("remote", "Remote control disabled, ignoring event")
		return
	}

	text := strings.TrimSpace(evt.Content)
	if text == "" {
		return
	}

	// A button click whose message is no longer correlated: the request it
	// belonged to was already finalized or timed out.
	if evt.Callback {
		d.reply(ctx, evt, "That request is no longer pending.")
		return
	}

	if strings.HasPrefix(text, commandPrefix) {
		d.handleCommand(ctx, evt, text)
		return
	}

	d.forwardPrompt(ctx, evt, text)
}

func (d *Dispatcher) handleCommand(ctx context.Context, evt bus.InboundEvent, text string) {
	fields := strings.Fields(text)
	command := strings.ToLower(strings.TrimPrefix(fields[0], commandPrefix))

	logger.InfoCF("remote", "Handling command", map[string]any{
		"command":   command,
		"sender_id": evt.SenderID,
	})

	switch command {
	case "help", "start":
		d.reply(ctx, evt, usage)
	case "status":
		d.reply(ctx, evt, d.statusText())
	case "list":
		d.listSessions(ctx, evt)
	case "use":
		d.useSession(ctx, evt, fields[1:])
	default:
		d.reply(ctx, evt, fmt.Sprintf("Unknown command %q — try /help.", fields[0]))
	}
}

func (d *Dispatcher) statusText() string {
	active := d.st.ActiveSession()
	if active == "" {
		active = "none"
	}
	return fmt.Sprintf("Remote control: enabled\nActive session: %s", active)
}

func (d *Dispatcher) listSessions(ctx context.Context, evt bus.InboundEvent) {
	sessions, err := d.host.ListSessions(ctx)
	if err != nil {
		d.reply(ctx, evt, fmt.Sprintf("⚠️ Failed to list sessions: %v", err))
		return
	}
	if len(sessions) == 0 {
		d.reply(ctx, evt, "No sessions found.")
		return
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	if len(sessions) > maxListSessions {
		sessions = sessions[:maxListSessions]
	}

	active := d.st.ActiveSession()
	var sb strings.Builder
	sb.WriteString("Recent sessions:\n")
	for i, s := range sessions {
		marker := " "
		if s.ID == active {
			marker = "▶"
		}
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(&sb, "%s %d. %s — %s (%s)\n",
			marker, i+1, utils.ShortID(s.ID), title, humanAge(s.UpdatedAt))
	}
	sb.WriteString("\nUse /use <prefix> to select one.")
	d.reply(ctx, evt, sb.String())
}

func (d *Dispatcher) useSession(ctx context.Context, evt bus.InboundEvent, args []string) {
	if len(args) != 1 {
		d.reply(ctx, evt, "Usage: /use <session id prefix>")
		return
	}
	prefix := args[0]

	sessions, err := d.host.ListSessions(ctx)
	if err != nil {
		d.reply(ctx, evt, fmt.Sprintf("⚠️ Failed to list sessions: %v", err))
		return
	}

	var matches []host.Session
	for _, s := range sessions {
		if strings.HasPrefix(s.ID, prefix) {
			matches = append(matches, s)
		}
	}

	switch len(matches) {
	case 0:
		d.reply(ctx, evt, fmt.Sprintf("No session matches prefix %q.", prefix))
	case 1:
		if err := d.st.SetActiveSession(matches[0].ID); err != nil {
			d.reply(ctx, evt, fmt.Sprintf("⚠️ Failed to persist active session: %v", err))
			return
		}
		title := matches[0].Title
		if title == "" {
			title = "(untitled)"
		}
		d.reply(ctx, evt, fmt.Sprintf("Active session set to %s — %s", utils.ShortID(matches[0].ID), title))
	default:
		d.reply(ctx, evt, fmt.Sprintf("Prefix %q is ambiguous (%d matches) — use a longer prefix.",
			prefix, len(matches)))
	}
}

func (d *Dispatcher) forwardPrompt(ctx context.Context, evt bus.InboundEvent, text string) {
	active := d.st.ActiveSession()
	if active == "" {
		d.reply(ctx, evt, "No active session. Use /list and /use <prefix> to select one first.")
		return
	}

	if err := d.host.Prompt(ctx, active, text); err != nil {
		logger.WarnCF("remote", "Prompt forwarding failed", map[string]any{
			"session_id": active,
			"error":      err.Error(),
		})
		d.reply(ctx, evt, fmt.Sprintf("⚠️ Failed to forward prompt: %v", err))
		return
	}
	d.reply(ctx, evt, fmt.Sprintf("📨 Sent to %s.", utils.ShortID(active)))
}

func (d *Dispatcher) reply(ctx context.Context, evt bus.InboundEvent, text string) {
	err := d.channel.Send(ctx, bus.OutboundMessage{
		Channel: evt.Channel,
		ChatID:  evt.ChatID,
		Content: text,
	})
	if err != nil {
		logger.WarnCF("remote", "Failed to send reply", map[string]any{
			"chat_id": evt.ChatID,
			"error":   err.Error(),
		})
	}
}

func humanAge(t time.Time) string {
	age := time.Since(t)
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(age.Hours()/24))
	}
}
