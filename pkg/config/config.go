package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	minPermissionTimeout = 10 * time.Second
	maxPermissionTimeout = 3600 * time.Second
)

type Config struct {
	Channel  string `env:"CHANNEL" envDefault:"telegram"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Telegram TelegramConfig `envPrefix:"TELEGRAM_"`
	Discord  DiscordConfig  `envPrefix:"DISCORD_"`
	Slack    SlackConfig    `envPrefix:"SLACK_"`
	Notify   NotifyConfig   `envPrefix:"NOTIFY_"`

	// PermissionTimeout is how long a permission request stays awaitable
	// before it expires. Clamped to [10s, 3600s] by Load.
	PermissionTimeout time.Duration `env:"PERMISSION_TIMEOUT" envDefault:"300s"`

	RemoteEnabled bool   `env:"REMOTE_ENABLED" envDefault:"true"`
	StatePath     string `env:"STATE_PATH" envDefault:"~/.clawguard/state.json"`
	SessionsDir   string `env:"SESSIONS_DIR" envDefault:"~/.claude/projects"`
	PromptCommand string `env:"PROMPT_COMMAND" envDefault:"claude"`
	HookListen    string `env:"HOOK_LISTEN" envDefault:"127.0.0.1:8377"`
}

type TelegramConfig struct {
	Token     string   `env:"TOKEN"`
	ChatID    int64    `env:"CHAT_ID"`
	AllowFrom []string `env:"ALLOW_FROM" envSeparator:","`
}

type DiscordConfig struct {
	Token     string   `env:"TOKEN"`
	ChannelID string   `env:"CHANNEL_ID"`
	AllowFrom []string `env:"ALLOW_FROM" envSeparator:","`
}

type SlackConfig struct {
	BotToken  string   `env:"BOT_TOKEN"`
	AppToken  string   `env:"APP_TOKEN"`
	ChannelID string   `env:"CHANNEL_ID"`
	AllowFrom []string `env:"ALLOW_FROM" envSeparator:","`
}

type NotifyConfig struct {
	Complete bool `env:"COMPLETE" envDefault:"true"`
	Error    bool `env:"ERROR" envDefault:"true"`
	Idle     bool `env:"IDLE" envDefault:"true"`
}

// Load parses configuration from CLAWGUARD_-prefixed environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "CLAWGUARD_"}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.PermissionTimeout < minPermissionTimeout {
		cfg.PermissionTimeout = minPermissionTimeout
	}
	if cfg.PermissionTimeout > maxPermissionTimeout {
		cfg.PermissionTimeout = maxPermissionTimeout
	}

	cfg.StatePath = expandHome(cfg.StatePath)
	cfg.SessionsDir = expandHome(cfg.SessionsDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the selected channel has its required credentials.
// A failure here is fatal at startup; there is no partial operation.
func (c *Config) Validate() error {
	switch c.Channel {
	case "telegram":
		if c.Telegram.Token == "" {
			return fmt.Errorf("telegram channel selected but CLAWGUARD_TELEGRAM_TOKEN is not set")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram channel selected but CLAWGUARD_TELEGRAM_CHAT_ID is not set")
		}
	case "discord":
		if c.Discord.Token == "" {
			return fmt.Errorf("discord channel selected but CLAWGUARD_DISCORD_TOKEN is not set")
		}
		if c.Discord.ChannelID == "" {
			return fmt.Errorf("discord channel selected but CLAWGUARD_DISCORD_CHANNEL_ID is not set")
		}
	case "slack":
		if c.Slack.BotToken == "" || c.Slack.AppToken == "" {
			return fmt.Errorf("slack channel selected but bot/app tokens are not both set")
		}
		if c.Slack.ChannelID == "" {
			return fmt.Errorf("slack channel selected but CLAWGUARD_SLACK_CHANNEL_ID is not set")
		}
	default:
		return fmt.Errorf("unknown channel %q (expected telegram, discord or slack)", c.Channel)
	}
	return nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
