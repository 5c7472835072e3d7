package state

import (
	"os"
	"path/filepath"
	"testing"
)

func TestManagerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if m.Loaded() {
		t.Error("fresh manager must not report loaded")
	}
	if m.ActiveSession() != "" || m.RemoteEnabled() {
		t.Error("fresh manager must start zeroed")
	}

	if err := m.SetActiveSession("sess-1"); err != nil {
		t.Fatalf("SetActiveSession: %v", err)
	}
	if err := m.SetCursor("telegram", 1234); err != nil {
		t.Fatalf("SetCursor: %v", err)
	}
	if err := m.SetRemoteEnabled(true); err != nil {
		t.Fatalf("SetRemoteEnabled: %v", err)
	}

	// A second manager on the same path sees everything.
	m2, err := NewManager(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !m2.Loaded() {
		t.Error("reloaded manager must report loaded")
	}
	if m2.ActiveSession() != "sess-1" {
		t.Errorf("active = %q", m2.ActiveSession())
	}
	if m2.Cursor("telegram") != 1234 {
		t.Errorf("cursor = %d", m2.Cursor("telegram"))
	}
	if m2.Cursor("discord") != 0 {
		t.Errorf("unset cursor = %d, want 0", m2.Cursor("discord"))
	}
	if !m2.RemoteEnabled() {
		t.Error("remote flag lost")
	}
}

func TestManagerCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "state.json")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m.SetCursor("telegram", 1); err != nil {
		t.Fatalf("save into missing dir: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("state file missing: %v", err)
	}
}

func TestManagerRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewManager(path); err == nil {
		t.Fatal("corrupt state file must fail loudly, not be silently replaced")
	}
}

func TestManagerNoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if err := m.SetCursor("telegram", int64(i)); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only state.json, found %d entries", len(entries))
	}
}
