package state

import "time"

const maxRecentTaskRefs = 50

// ConfirmAction is a pending high-risk confirmation token. It is redeemed
// by "/ok" within ConfirmTTL of RequestedAt, or cleared by "/cancel" or
// "mode off".
type ConfirmAction struct {
	Mode        Mode      `json:"mode"`
	Prompt      string    `json:"prompt"`
	Risk        string    `json:"risk"`
	RequestedAt time.Time `json:"requested_at"`
	Orch        string    `json:"orch,omitempty"`
}

// Expired reports whether the token is past its TTL as of now.
func (c *ConfirmAction) Expired(now time.Time, ttl time.Duration) bool {
	if c == nil {
		return true
	}
	return now.Sub(c.RequestedAt) > ttl
}

// ChatSession is the per-chat ephemeral routing state. It is created
// lazily on first use and deleted once it collapses to nothing but an
// UpdatedAt timestamp.
type ChatSession struct {
	DefaultMode Mode `json:"default_mode,omitempty"`
	PendingMode Mode `json:"pending_mode,omitempty"`

	ConfirmAction *ConfirmAction `json:"confirm_action,omitempty"`

	// RecentTaskRefs and SelectedTaskRefs are keyed by normalized project slug.
	RecentTaskRefs   map[string][]string `json:"recent_task_refs,omitempty"`
	SelectedTaskRefs map[string]string   `json:"selected_task_refs,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// IsEmpty reports whether the row carries nothing but its timestamp,
// the trigger for dropping it entirely.
func (s *ChatSession) IsEmpty() bool {
	if s == nil {
		return true
	}
	return s.DefaultMode == "" &&
		s.PendingMode == "" &&
		s.ConfirmAction == nil &&
		len(s.RecentTaskRefs) == 0 &&
		len(s.SelectedTaskRefs) == 0
}

// RememberTask pushes requestID to the front of the per-project recent
// list, deduplicating any prior occurrence (so re-selecting a task never
// grows the list) and capping it at 50 entries.
func (s *ChatSession) RememberTask(project, requestID string, now time.Time) {
	if s.RecentTaskRefs == nil {
		s.RecentTaskRefs = make(map[string][]string)
	}
	list := s.RecentTaskRefs[project]
	out := make([]string, 0, len(list)+1)
	out = append(out, requestID)
	for _, id := range list {
		if id == requestID {
			continue
		}
		out = append(out, id)
	}
	if len(out) > maxRecentTaskRefs {
		out = out[:maxRecentTaskRefs]
	}
	s.RecentTaskRefs[project] = out
	s.UpdatedAt = now
}

// SelectTask sets the focused task for a project.
func (s *ChatSession) SelectTask(project, requestID string, now time.Time) {
	if s.SelectedTaskRefs == nil {
		s.SelectedTaskRefs = make(map[string]string)
	}
	s.SelectedTaskRefs[project] = requestID
	s.UpdatedAt = now
}

// ClearPendingMode atomically consumes the one-shot pending mode override,
// returning it (empty if none was set).
func (s *ChatSession) ClearPendingMode(now time.Time) Mode {
	m := s.PendingMode
	s.PendingMode = ""
	if m != "" {
		s.UpdatedAt = now
	}
	return m
}

// ClearConfirm clears any pending confirmation token.
func (s *ChatSession) ClearConfirm(now time.Time) {
	if s.ConfirmAction != nil {
		s.ConfirmAction = nil
		s.UpdatedAt = now
	}
}
