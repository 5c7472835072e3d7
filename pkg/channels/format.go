package channels

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wangdong/clawguard/pkg/permission"
	"github.com/wangdong/clawguard/pkg/utils"
)

const maxArgsChars = 800

// BuildPermissionMessage renders the outbound ask. Shared by every backend;
// formatting is a free function, not a base-class method.
func BuildPermissionMessage(req permission.Request) string {
	var sb strings.Builder
	sb.WriteString("🔐 Permission request\n")
	fmt.Fprintf(&sb, "Tool: %s\n", req.Tool)
	fmt.Fprintf(&sb, "Session: %s\n", utils.ShortID(req.SessionID))

	if args := formatArgs(req.Args); args != "" {
		sb.WriteString("\n")
		sb.WriteString(args)
		sb.WriteString("\n")
	}

	sb.WriteString("\nReply allow/deny, tap a button, or reply with custom instructions.")
	return sb.String()
}

func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	raw, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		return ""
	}
	return utils.Truncate(string(raw), maxArgsChars)
}
