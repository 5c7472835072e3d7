package permission

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Decision is the outcome of a permission request: allow, deny, or the
// operator's own free-text instructions passed through verbatim.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// Custom reports whether the decision is free-text guidance rather than a
// binary allow/deny.
func (d Decision) Custom() bool {
	return d != DecisionAllow && d != DecisionDeny
}

// Request identifies one permission ask from the host. Immutable once created.
type Request struct {
	ID        string
	SessionID string
	Tool      string
	Args      map[string]any
	CreatedAt time.Time
}

// NewRequest builds a request with a fresh process-unique id: a millisecond
// timestamp plus a random suffix, so concurrent requests never collide.
func NewRequest(tool string, args map[string]any, sessionID string) Request {
	now := time.Now()
	return Request{
		ID:        fmt.Sprintf("perm-%d-%s", now.UnixMilli(), uuid.NewString()[:8]),
		SessionID: sessionID,
		Tool:      tool,
		Args:      args,
		CreatedAt: now,
	}
}

// Normalize maps a human reply or button payload to a Decision. Matching is
// case-insensitive; anything that is not a recognized affirmative or negative
// passes through verbatim as custom guidance.
func Normalize(text string) Decision {
	trimmed := strings.TrimSpace(text)
	switch strings.ToLower(trimmed) {
	case "allow", "yes", "y", "✅", "👍":
		return DecisionAllow
	case "deny", "no", "n", "❌", "👎":
		return DecisionDeny
	default:
		return Decision(trimmed)
	}
}
