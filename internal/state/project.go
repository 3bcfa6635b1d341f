package state

import (
	"sort"
	"time"
)

const maxTasksPerProject = 120

// Project is a per-project registry of task records, keyed by the
// normalized lowercase slug the chat commands address it by.
type Project struct {
	ProjectRoot string `json:"project_root"`
	TeamDir     string `json:"team_dir"`
	Overview    string `json:"overview,omitempty"`

	LastRequestID string `json:"last_request_id,omitempty"`
	TaskSeq       int    `json:"task_seq"`

	Tasks          map[string]*TaskRecord `json:"tasks"`
	TaskAliasIndex map[string]string      `json:"task_alias_index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewProject returns an empty project registry rooted at the given paths.
func NewProject(projectRoot, teamDir string, now time.Time) *Project {
	return &Project{
		ProjectRoot:    projectRoot,
		TeamDir:        teamDir,
		Tasks:          make(map[string]*TaskRecord),
		TaskAliasIndex: make(map[string]string),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// NextShortID returns "T-<seq>" for the next sequence number, which is the
// larger of the project's stored counter and one past the highest existing
// short id — so a corrupted/rolled-back counter can never reissue an id.
func (p *Project) NextShortID() string {
	seq := p.TaskSeq
	for _, t := range p.Tasks {
		if n, ok := parseShortIDSeq(t.ShortID); ok && n >= seq {
			seq = n + 1
		}
	}
	if seq <= p.TaskSeq {
		seq = p.TaskSeq + 1
	}
	p.TaskSeq = seq
	return formatShortID(seq)
}

// NewTask assigns a short id and a deduplicated alias for a fresh request
// and registers it in the project: derive the alias base from the prompt,
// then disambiguate against the existing alias index.
func (p *Project) NewTask(requestID string, mode Mode, prompt, initiatorChatID string, now time.Time) *TaskRecord {
	shortID := p.NextShortID()
	base := DeriveAliasBase(prompt)
	alias := p.UniqueAlias(base, requestID)
	t := NewTaskRecord(requestID, shortID, alias, mode, prompt, initiatorChatID, now)
	p.AddTask(t)
	return t
}

// AddTask registers a new task record, rebuilds the alias index, and
// evicts the oldest-by-UpdatedAt task if the project is over its cap.
func (p *Project) AddTask(t *TaskRecord) {
	if p.Tasks == nil {
		p.Tasks = make(map[string]*TaskRecord)
	}
	p.Tasks[t.RequestID] = t
	p.LastRequestID = t.RequestID
	p.evictOverCap()
	p.RebuildAliasIndex()
}

func (p *Project) evictOverCap() {
	for len(p.Tasks) > maxTasksPerProject {
		var oldestID string
		var oldestAt time.Time
		for id, t := range p.Tasks {
			if oldestID == "" || t.UpdatedAt.Before(oldestAt) {
				oldestID = id
				oldestAt = t.UpdatedAt
			}
		}
		if oldestID == "" {
			break
		}
		delete(p.Tasks, oldestID)
	}
}

// RebuildAliasIndex recomputes TaskAliasIndex from the current task set.
// Called after every mutation so it never drifts from Tasks.
func (p *Project) RebuildAliasIndex() {
	idx := make(map[string]string, len(p.Tasks))
	// Deterministic iteration order (by request id) so that if two tasks
	// somehow carry the same normalized alias key, the mapping is stable
	// across rebuilds rather than depending on map iteration order.
	ids := make([]string, 0, len(p.Tasks))
	for id := range p.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		t := p.Tasks[id]
		if t.Alias != "" {
			idx[normalizeAliasKey(t.Alias)] = id
		}
		idx[normalizeAliasKey(t.ShortID)] = id
	}
	p.TaskAliasIndex = idx
}
