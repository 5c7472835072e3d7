package remote

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wangdong/clawguard/pkg/bus"
	"github.com/wangdong/clawguard/pkg/host"
	"github.com/wangdong/clawguard/pkg/state"
)

type fakeResponder struct {
	mu   sync.Mutex
	sent []bus.OutboundMessage
}

func (f *fakeResponder) Send(ctx context.Context, msg bus.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeResponder) last(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("no reply sent")
	}
	return f.sent[len(f.sent)-1].Content
}

func (f *fakeResponder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeHost struct {
	sessions []host.Session
	listErr  error

	mu        sync.Mutex
	prompts   []string
	promptErr error
}

func (f *fakeHost) ListSessions(ctx context.Context) ([]host.Session, error) {
	return f.sessions, f.listErr
}

func (f *fakeHost) Prompt(ctx context.Context, sessionID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.promptErr != nil {
		return f.promptErr
	}
	f.prompts = append(f.prompts, sessionID+": "+text)
	return nil
}

func newTestState(t *testing.T, enabled bool) *state.Manager {
	t.Helper()
	st, err := state.NewManager(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if err := st.SetRemoteEnabled(enabled); err != nil {
		t.Fatalf("state: %v", err)
	}
	return st
}

func testSessions(now time.Time) []host.Session {
	return []host.Session{
		{ID: "aaa11111-1111", Title: "fix the parser", UpdatedAt: now.Add(-time.Minute)},
		{ID: "bbb22222-2222", Title: "refactor storage", UpdatedAt: now.Add(-2 * time.Hour)},
		{ID: "abc33333-3333", Title: "", UpdatedAt: now.Add(-3 * time.Hour)},
	}
}

func TestHandleCommandHelp(t *testing.T) {
	ch := &fakeResponder{}
	d := NewDispatcher(ch, &fakeHost{}, newTestState(t, true))

	d.HandleIncoming(context.Background(), bus.InboundEvent{Channel: "test", ChatID: "c1", Content: "/help"})
	if got := ch.last(t); !strings.Contains(got, "/use <prefix>") {
		t.Errorf("usage missing: %q", got)
	}
}

func TestHandleCommandStatus(t *testing.T) {
	ch := &fakeResponder{}
	st := newTestState(t, true)
	if err := st.SetActiveSession("aaa11111-1111"); err != nil {
		t.Fatal(err)
	}
	d := NewDispatcher(ch, &fakeHost{}, st)

	d.HandleIncoming(context.Background(), bus.InboundEvent{Content: "/status"})
	got := ch.last(t)
	if !strings.Contains(got, "aaa11111-1111") {
		t.Errorf("status missing active session: %q", got)
	}
}

func TestListSessions(t *testing.T) {
	ch := &fakeResponder{}
	st := newTestState(t, true)
	if err := st.SetActiveSession("bbb22222-2222"); err != nil {
		t.Fatal(err)
	}
	d := NewDispatcher(ch, &fakeHost{sessions: testSessions(time.Now())}, st)

	d.HandleIncoming(context.Background(), bus.InboundEvent{Content: "/list"})
	got := ch.last(t)

	if !strings.Contains(got, "aaa11111…") || !strings.Contains(got, "fix the parser") {
		t.Errorf("list missing newest session: %q", got)
	}
	if !strings.Contains(got, "▶") {
		t.Errorf("active marker missing: %q", got)
	}
	if !strings.Contains(got, "(untitled)") {
		t.Errorf("untitled fallback missing: %q", got)
	}
	// Newest first.
	if strings.Index(got, "aaa11111") > strings.Index(got, "bbb22222") {
		t.Errorf("sessions out of order: %q", got)
	}
}

func TestListSessionsCapped(t *testing.T) {
	now := time.Now()
	var sessions []host.Session
	for i := 0; i < 8; i++ {
		sessions = append(sessions, host.Session{
			ID:        strings.Repeat(string(rune('a'+i)), 12),
			Title:     "s",
			UpdatedAt: now.Add(-time.Duration(i) * time.Minute),
		})
	}
	ch := &fakeResponder{}
	d := NewDispatcher(ch, &fakeHost{sessions: sessions}, newTestState(t, true))

	d.HandleIncoming(context.Background(), bus.InboundEvent{Content: "/list"})
	got := ch.last(t)
	if strings.Contains(got, "ffffffff") {
		t.Errorf("list must cap at %d entries: %q", maxListSessions, got)
	}
	if !strings.Contains(got, "eeeeeeee") {
		t.Errorf("fifth newest missing: %q", got)
	}
}

func TestUseSession(t *testing.T) {
	sessions := testSessions(time.Now())

	t.Run("unique prefix", func(t *testing.T) {
		ch := &fakeResponder{}
		st := newTestState(t, true)
		d := NewDispatcher(ch, &fakeHost{sessions: sessions}, st)

		d.HandleIncoming(context.Background(), bus.InboundEvent{Content: "/use bbb"})
		if st.ActiveSession() != "bbb22222-2222" {
			t.Errorf("active = %q", st.ActiveSession())
		}
		if got := ch.last(t); !strings.Contains(got, "bbb22222…") {
			t.Errorf("confirmation %q", got)
		}
	})

	t.Run("ambiguous prefix", func(t *testing.T) {
		ch := &fakeResponder{}
		st := newTestState(t, true)
		d := NewDispatcher(ch, &fakeHost{sessions: sessions}, st)

		d.HandleIncoming(context.Background(), bus.InboundEvent{Content: "/use a"})
		if st.ActiveSession() != "" {
			t.Error("ambiguous prefix must not select")
		}
		if got := ch.last(t); !strings.Contains(got, "ambiguous") {
			t.Errorf("reply %q", got)
		}
	})

	t.Run("no match", func(t *testing.T) {
		ch := &fakeResponder{}
		d := NewDispatcher(ch, &fakeHost{sessions: sessions}, newTestState(t, true))

		d.HandleIncoming(context.Background(), bus.InboundEvent{Content: "/use zzz"})
		if got := ch.last(t); !strings.Contains(got, "No session matches") {
			t.Errorf("reply %q", got)
		}
	})

	t.Run("missing argument", func(t *testing.T) {
		ch := &fakeResponder{}
		d := NewDispatcher(ch, &fakeHost{sessions: sessions}, newTestState(t, true))

		d.HandleIncoming(context.Background(), bus.InboundEvent{Content: "/use"})
		if got := ch.last(t); !strings.Contains(got, "Usage:") {
			t.Errorf("reply %q", got)
		}
	})
}

func TestForwardPrompt(t *testing.T) {
	ch := &fakeResponder{}
	h := &fakeHost{}
	st := newTestState(t, true)
	if err := st.SetActiveSession("aaa11111-1111"); err != nil {
		t.Fatal(err)
	}
	d := NewDispatcher(ch, h, st)

	d.HandleIncoming(context.Background(), bus.InboundEvent{Content: "run the tests again"})

	h.mu.Lock()
	prompts := append([]string(nil), h.prompts...)
	h.mu.Unlock()
	if len(prompts) != 1 || !strings.Contains(prompts[0], "run the tests again") {
		t.Fatalf("prompts = %v", prompts)
	}
	if got := ch.last(t); !strings.Contains(got, "Sent to") {
		t.Errorf("confirmation %q", got)
	}
}

func TestForwardPromptNoActiveSession(t *testing.T) {
	ch := &fakeResponder{}
	h := &fakeHost{}
	d := NewDispatcher(ch, h, newTestState(t, true))

	d.HandleIncoming(context.Background(), bus.InboundEvent{Content: "do something"})

	h.mu.Lock()
	n := len(h.prompts)
	h.mu.Unlock()
	if n != 0 {
		t.Fatal("prompt must not be forwarded without an active session")
	}
	if got := ch.last(t); !strings.Contains(got, "No active session") {
		t.Errorf("reply %q", got)
	}
}

func TestForwardPromptFailureReported(t *testing.T) {
	ch := &fakeResponder{}
	h := &fakeHost{promptErr: errors.New("resume failed")}
	st := newTestState(t, true)
	if err := st.SetActiveSession("aaa11111-1111"); err != nil {
		t.Fatal(err)
	}
	d := NewDispatcher(ch, h, st)

	d.HandleIncoming(context.Background(), bus.InboundEvent{Content: "hello"})
	if got := ch.last(t); !strings.Contains(got, "Failed to forward prompt") {
		t.Errorf("reply %q", got)
	}
}

func TestDisabledIgnoresEverything(t *testing.T) {
	ch := &fakeResponder{}
	d := NewDispatcher(ch, &fakeHost{}, newTestState(t, false))

	d.HandleIncoming(context.Background(), bus.InboundEvent{Content: "/status"})
	d.HandleIncoming(context.Background(), bus.InboundEvent{Content: "free text"})
	if ch.count() != 0 {
		t.Errorf("disabled dispatcher sent %d replies", ch.count())
	}
}

func TestStaleCallbackGetsNotice(t *testing.T) {
	ch := &fakeResponder{}
	d := NewDispatcher(ch, &fakeHost{}, newTestState(t, true))

	d.HandleIncoming(context.Background(), bus.InboundEvent{Content: "allow", Callback: true})
	if got := ch.last(t); !strings.Contains(got, "no longer pending") {
		t.Errorf("reply %q", got)
	}
}

func TestUnknownCommand(t *testing.T) {
	ch := &fakeResponder{}
	d := NewDispatcher(ch, &fakeHost{}, newTestState(t, true))

	d.HandleIncoming(context.Background(), bus.InboundEvent{Content: "/frobnicate"})
	if got := ch.last(t); !strings.Contains(got, "Unknown command") {
		t.Errorf("reply %q", got)
	}
}

func TestRunDrainsBus(t *testing.T) {
	ch := &fakeResponder{}
	d := NewDispatcher(ch, &fakeHost{}, newTestState(t, true))

	msgBus := bus.NewMessageBus()
	msgBus.PublishInbound(bus.InboundEvent{Content: "/help"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx, msgBus)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for ch.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event never handled")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
