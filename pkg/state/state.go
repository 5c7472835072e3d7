package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Manager persists the small amount of durable runtime state this process
// owns: the active session id, per-channel update cursors, and the remote
// control flag. Writes go through a temp file and rename so a crash mid-write
// never corrupts the previous snapshot.
type Manager struct {
	mu     sync.Mutex
	path   string
	loaded bool
	data   stateData
}

type stateData struct {
	ActiveSession string           `json:"active_session,omitempty"`
	Cursors       map[string]int64 `json:"cursors,omitempty"`
	RemoteEnabled bool             `json:"remote_enabled"`
}

func NewManager(path string) (*Manager, error) {
	m := &Manager{
		path: path,
		data: stateData{Cursors: make(map[string]int64)},
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if err := json.Unmarshal(raw, &m.data); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}
	if m.data.Cursors == nil {
		m.data.Cursors = make(map[string]int64)
	}
	m.loaded = true
	return m, nil
}

// Loaded reports whether a state file existed on disk at startup.
func (m *Manager) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded
}

func (m *Manager) ActiveSession() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.ActiveSession
}

func (m *Manager) SetActiveSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.ActiveSession = id
	return m.save()
}

// Cursor returns the last checkpointed update offset for a channel, or 0.
func (m *Manager) Cursor(channel string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.Cursors[channel]
}

func (m *Manager) SetCursor(channel string, offset int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.Cursors[channel] = offset
	return m.save()
}

func (m *Manager) RemoteEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.RemoteEnabled
}

func (m *Manager) SetRemoteEnabled(enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.RemoteEnabled = enabled
	return m.save()
}

// save writes the snapshot atomically. Caller must hold m.mu.
func (m *Manager) save() error {
	raw, err := json.MarshalIndent(m.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
