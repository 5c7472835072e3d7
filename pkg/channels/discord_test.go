package channels

import (
	"context"
	"testing"
	"time"

	"github.com/wangdong/clawguard/pkg/bus"
	"github.com/wangdong/clawguard/pkg/config"
)

// UpdateMessage must honor its context: with a cancelled ctx the edit call
// has to fail fast instead of hitting the network, and the correlation entry
// is dropped either way.
func TestDiscordUpdateMessageHonorsContext(t *testing.T) {
	ch, err := NewDiscordChannel(config.DiscordConfig{Token: "tok", ChannelID: "chan-1"}, bus.NewMessageBus())
	if err != nil {
		t.Fatalf("NewDiscordChannel: %v", err)
	}
	ch.Bind("req-1", "msg-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() {
		done <- ch.UpdateMessage(ctx, "msg-1", "finished")
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("edit failures are swallowed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("UpdateMessage ignored the cancelled context")
	}

	if ch.Correlated("req-1") {
		t.Error("correlation entry must be dropped after the edit attempt")
	}
}
