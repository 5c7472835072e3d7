package host

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/wangdong/clawguard/pkg/logger"
	"github.com/wangdong/clawguard/pkg/utils"
)

// Session is one host conversation, as seen from its transcript file.
type Session struct {
	ID        string
	Title     string
	UpdatedAt time.Time
}

// Client is the host collaborator boundary: listing sessions and submitting
// a prompt into one. All calls are fallible; callers report failures to the
// operator instead of crashing.
type Client interface {
	ListSessions(ctx context.Context) ([]Session, error)
	Prompt(ctx context.Context, sessionID, text string) error
}

const (
	maxTitleChars  = 60
	titleScanLines = 40
	promptTimeout  = 120 * time.Second
)

// CLIClient reads sessions from the host's transcript directory and submits
// prompts by resuming a session through the host binary.
type CLIClient struct {
	sessionsDir string
	promptCmd   string
}

func NewCLIClient(sessionsDir, promptCmd string) *CLIClient {
	return &CLIClient{sessionsDir: sessionsDir, promptCmd: promptCmd}
}

// ListSessions walks the transcript directory for JSONL files, one per
// session, and returns them most-recently-updated first.
func (c *CLIClient) ListSessions(ctx context.Context) ([]Session, error) {
	var sessions []Session

	err := filepath.WalkDir(c.sessionsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".jsonl") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		sessions = append(sessions, Session{
			ID:        strings.TrimSuffix(d.Name(), ".jsonl"),
			Title:     readTitle(path),
			UpdatedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions in %s: %w", c.sessionsDir, err)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

// Prompt resumes the session through the host CLI and submits text as a new
// prompt. The host runs the turn; we only care that submission succeeded.
func (c *CLIClient) Prompt(ctx context.Context, sessionID, text string) error {
	runCtx, cancel := context.WithTimeout(ctx, promptTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.promptCmd, "--resume", sessionID, "-p", text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger.InfoCF("host", "Submitting prompt", map[string]any{
		"session_id": sessionID,
		"preview":    utils.Truncate(text, 50),
	})

	if err := cmd.Run(); err != nil {
		detail := utils.Truncate(strings.TrimSpace(stderr.String()), 200)
		if detail != "" {
			return fmt.Errorf("prompt session %s: %w: %s", sessionID, err, detail)
		}
		return fmt.Errorf("prompt session %s: %w", sessionID, err)
	}
	return nil
}

// transcriptLine is the subset of a transcript record useful for titling.
type transcriptLine struct {
	Type    string `json:"type"`
	Summary string `json:"summary"`
	Message struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

// readTitle extracts a display title from the first summary or user message
// in the transcript. Best-effort: an unreadable file just has no title.
func readTitle(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for i := 0; i < titleScanLines && scanner.Scan(); i++ {
		var line transcriptLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.Summary != "" {
			return utils.Truncate(line.Summary, maxTitleChars)
		}
		if line.Type == "user" || line.Message.Role == "user" {
			if text := contentText(line.Message.Content); text != "" {
				return utils.Truncate(text, maxTitleChars)
			}
		}
	}
	return ""
}

// contentText handles both content shapes: a plain string, or a list of
// typed blocks with text parts.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		for _, b := range blocks {
			if b.Type == "text" && strings.TrimSpace(b.Text) != "" {
				return strings.TrimSpace(b.Text)
			}
		}
	}
	return ""
}
