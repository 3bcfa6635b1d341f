package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStoreLoadMissingFileReturnsEmptyActiveState(t *testing.T) {
	dir := t.TempDir()
	st := NewStore(filepath.Join(dir, "orch_manager_state.json"))

	s, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Active != DefaultProjectKey {
		t.Error("expected fresh state to be Active")
	}
	if s.ChatSessions == nil || s.Projects == nil {
		t.Error("expected fresh state to have initialized maps")
	}
}

func TestStoreLoadCorruptFileResetsToDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orch_manager_state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	st := NewStore(path)
	s, err := st.Load()
	if err != nil {
		t.Fatalf("Load on corrupt file should not error, got %v", err)
	}
	if s.Active != DefaultProjectKey {
		t.Error("corrupt file should reset to an active default state")
	}
}

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orch_manager_state.json")
	st := NewStore(path)

	err := st.WithLock(func(s *ManagerState) error {
		row := s.Session("12345")
		row.DefaultMode = ModeDispatch
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock: %v", err)
	}

	reloaded, err := st.Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.ChatSessions["12345"].DefaultMode != ModeDispatch {
		t.Fatalf("expected persisted default mode, got %+v", reloaded.ChatSessions["12345"])
	}
}

func TestStorePrunesEmptySessionsOnSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orch_manager_state.json")
	st := NewStore(path)

	now := time.Now()
	s := NewManagerState(now)
	row := s.Session("111")
	row.UpdatedAt = now // only timestamp set -> empty

	if err := st.Save(s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	reloaded, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := reloaded.ChatSessions["111"]; ok {
		t.Error("expected empty session row to be pruned on save")
	}
}
