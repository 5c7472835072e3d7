package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

var (
	mu     sync.Mutex
	level  = LevelInfo
	output io.Writer = os.Stderr
)

func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// SetOutput redirects log output, primarily for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func logf(l Level, component, msg string, fields map[string]any) {
	mu.Lock()
	defer mu.Unlock()
	if l < level {
		return
	}

	var sb strings.Builder
	sb.WriteString(time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&sb, " %-5s [%s] %s", levelNames[l], component, msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, " %s=%v", k, fields[k])
		}
	}
	sb.WriteString("\n")
	io.WriteString(output, sb.String())
}

func DebugC(component, msg string) { logf(LevelDebug, component, msg, nil) }
func InfoC(component, msg string)  { logf(LevelInfo, component, msg, nil) }
func WarnC(component, msg string)  { logf(LevelWarn, component, msg, nil) }
func ErrorC(component, msg string) { logf(LevelError, component, msg, nil) }

func DebugCF(component, msg string, fields map[string]any) { logf(LevelDebug, component, msg, fields) }
func InfoCF(component, msg string, fields map[string]any)  { logf(LevelInfo, component, msg, fields) }
func WarnCF(component, msg string, fields map[string]any)  { logf(LevelWarn, component, msg, fields) }
func ErrorCF(component, msg string, fields map[string]any) { logf(LevelError, component, msg, fields) }
