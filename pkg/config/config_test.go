package config

import (
	"strings"
	"testing"
	"time"
)

func setTelegramEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CLAWGUARD_TELEGRAM_TOKEN", "123:abc")
	t.Setenv("CLAWGUARD_TELEGRAM_CHAT_ID", "42")
}

func TestLoadDefaults(t *testing.T) {
	setTelegramEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Channel != "telegram" {
		t.Errorf("channel = %q", cfg.Channel)
	}
	if cfg.PermissionTimeout != 300*time.Second {
		t.Errorf("timeout = %v", cfg.PermissionTimeout)
	}
	if !cfg.RemoteEnabled {
		t.Error("remote must default on")
	}
	if cfg.HookListen != "127.0.0.1:8377" {
		t.Errorf("hook listen = %q", cfg.HookListen)
	}
	if strings.HasPrefix(cfg.StatePath, "~") {
		t.Errorf("home not expanded: %q", cfg.StatePath)
	}
}

func TestLoadTimeoutClamped(t *testing.T) {
	setTelegramEnv(t)

	t.Setenv("CLAWGUARD_PERMISSION_TIMEOUT", "2s")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PermissionTimeout != minPermissionTimeout {
		t.Errorf("low timeout not clamped: %v", cfg.PermissionTimeout)
	}

	t.Setenv("CLAWGUARD_PERMISSION_TIMEOUT", "48h")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PermissionTimeout != maxPermissionTimeout {
		t.Errorf("high timeout not clamped: %v", cfg.PermissionTimeout)
	}
}

func TestLoadMissingTelegramToken(t *testing.T) {
	t.Setenv("CLAWGUARD_TELEGRAM_TOKEN", "")
	t.Setenv("CLAWGUARD_TELEGRAM_CHAT_ID", "42")
	if _, err := Load(); err == nil {
		t.Fatal("missing token must fail validation")
	}
}

func TestLoadUnknownChannel(t *testing.T) {
	t.Setenv("CLAWGUARD_CHANNEL", "matrix")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "matrix") {
		t.Fatalf("unknown channel error = %v", err)
	}
}

func TestLoadDiscord(t *testing.T) {
	t.Setenv("CLAWGUARD_CHANNEL", "discord")
	t.Setenv("CLAWGUARD_DISCORD_TOKEN", "tok")
	t.Setenv("CLAWGUARD_DISCORD_CHANNEL_ID", "chan")
	t.Setenv("CLAWGUARD_DISCORD_ALLOW_FROM", "u1,u2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Discord.AllowFrom) != 2 || cfg.Discord.AllowFrom[0] != "u1" {
		t.Errorf("allow list = %v", cfg.Discord.AllowFrom)
	}
}

func TestLoadSlackNeedsBothTokens(t *testing.T) {
	t.Setenv("CLAWGUARD_CHANNEL", "slack")
	t.Setenv("CLAWGUARD_SLACK_BOT_TOKEN", "xoxb-1")
	t.Setenv("CLAWGUARD_SLACK_CHANNEL_ID", "C1")
	if _, err := Load(); err == nil {
		t.Fatal("slack without app token must fail")
	}

	t.Setenv("CLAWGUARD_SLACK_APP_TOKEN", "xapp-1")
	if _, err := Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
}
