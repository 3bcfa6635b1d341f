package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/kimyoungjin06/aoe-orch-control/internal/util"
)

// CurrentVersion is the on-disk schema version for ManagerState.
const CurrentVersion = 1

// ManagerState is the single JSON document backing the gateway's session
// and project/task registries: ".aoe-team/orch_manager_state.json".
type ManagerState struct {
	Version      int                     `json:"version"`
	Active       string                  `json:"active"` // active project key
	UpdatedAt    time.Time               `json:"updated_at"`
	ChatSessions map[string]*ChatSession `json:"chat_sessions"`
	Projects     map[string]*Project     `json:"projects"`
}

// DefaultProjectKey is the registry key for the project the gateway was
// started against, used whenever no explicit orch target is named.
const DefaultProjectKey = "default"

// NewManagerState returns an empty state document pointing at the
// default project.
func NewManagerState(now time.Time) *ManagerState {
	return &ManagerState{
		Version:      CurrentVersion,
		Active:       DefaultProjectKey,
		UpdatedAt:    now,
		ChatSessions: make(map[string]*ChatSession),
		Projects:     make(map[string]*Project),
	}
}

// Session returns the chat's session row, creating it lazily if absent.
func (s *ManagerState) Session(chatID string) *ChatSession {
	if s.ChatSessions == nil {
		s.ChatSessions = make(map[string]*ChatSession)
	}
	row, ok := s.ChatSessions[chatID]
	if !ok {
		row = &ChatSession{}
		s.ChatSessions[chatID] = row
	}
	return row
}

// PruneEmptySessions drops any chat-session row that has collapsed to
// nothing but its timestamp.
func (s *ManagerState) PruneEmptySessions() {
	for id, row := range s.ChatSessions {
		if row.IsEmpty() {
			delete(s.ChatSessions, id)
		}
	}
}

// Project returns the named project's registry, creating it lazily if
// absent. slug must already be normalized (lowercase).
func (s *ManagerState) Project(slug, projectRoot, teamDir string, now time.Time) *Project {
	if s.Projects == nil {
		s.Projects = make(map[string]*Project)
	}
	p, ok := s.Projects[slug]
	if !ok {
		p = NewProject(projectRoot, teamDir, now)
		s.Projects[slug] = p
	}
	return p
}

// Store reads and atomically writes a ManagerState document, serializing
// access across process invocations with an advisory file lock: load
// under lock, mutate in memory, atomically replace.
type Store struct {
	path     string
	lockPath string
}

// NewStore returns a Store rooted at path, using a sibling ".lock" file
// for cross-process serialization.
func NewStore(path string) *Store {
	return &Store{path: path, lockPath: path + ".lock"}
}

// Load reads the state document. A missing or unparsable file resets to
// an empty default document rather than failing; a corrupt state file
// should not wedge the gateway.
func (st *Store) Load() (*ManagerState, error) {
	data, err := os.ReadFile(st.path)
	if os.IsNotExist(err) {
		return NewManagerState(time.Now().UTC()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state file %s: %w", st.path, err)
	}

	var s ManagerState
	if err := json.Unmarshal(data, &s); err != nil {
		return NewManagerState(time.Now().UTC()), nil
	}
	if s.ChatSessions == nil {
		s.ChatSessions = make(map[string]*ChatSession)
	}
	if s.Projects == nil {
		s.Projects = make(map[string]*Project)
	}
	if s.Active == "" {
		s.Active = DefaultProjectKey
	}
	return &s, nil
}

// Save atomically writes the state document, bumping Version/UpdatedAt
// and pruning empty session rows first.
func (st *Store) Save(s *ManagerState) error {
	s.Version = CurrentVersion
	s.UpdatedAt = time.Now().UTC()
	s.PruneEmptySessions()
	if err := os.MkdirAll(filepath.Dir(st.path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	return util.EnsureDirAndWriteJSON(st.path, s)
}

// WithLock acquires the store's exclusive file lock, loads the current
// state, runs fn against it, and — if fn returns nil — saves the result
// before releasing the lock. This is the only entry point handlers should
// use for a read-modify-write cycle; it closes the race window between a
// bare Load and a later Save.
func (st *Store) WithLock(fn func(*ManagerState) error) error {
	if err := os.MkdirAll(filepath.Dir(st.lockPath), 0o755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}
	fl := flock.New(st.lockPath)
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("acquiring state lock: %w", err)
	}
	defer fl.Unlock() //nolint:errcheck

	s, err := st.Load()
	if err != nil {
		return err
	}
	if err := fn(s); err != nil {
		return err
	}
	return st.Save(s)
}
