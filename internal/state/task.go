package state

import "time"

// HistoryEvent is one append-only row in a TaskRecord's history. The
// history is bounded at 80 rows; oldest rows are dropped
// first when the cap is exceeded.
type HistoryEvent struct {
	At     time.Time   `json:"at"`
	Stage  Stage       `json:"stage"`
	Status StageStatus `json:"status"`
	Note   string      `json:"note,omitempty"`
}

const maxHistory = 80

// Subtask is one unit of work inside a dispatch Plan.
type Subtask struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Goal       string   `json:"goal"`
	OwnerRole  string   `json:"owner_role"`
	Acceptance []string `json:"acceptance"`
}

// Plan is the planner's output for a dispatch request.
type Plan struct {
	Summary  string    `json:"summary"`
	Subtasks []Subtask `json:"subtasks"`
}

// Critic is the critique call's verdict on a Plan.
type Critic struct {
	Approved        bool     `json:"approved"`
	Issues          []string `json:"issues,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// CriticSummary is the compact verdict recorded in a ReplanAttempt row.
type CriticSummary string

const (
	CriticApproved CriticSummary = "approved"
	CriticNeedsFix CriticSummary = "needs_fix"
)

// ReplanAttempt records one iteration of the planner's repair loop.
type ReplanAttempt struct {
	Attempt  int           `json:"attempt"`
	Critic   CriticSummary `json:"critic"`
	Subtasks []Subtask     `json:"subtasks"`
}

// TaskResult captures the orchestrator snapshot last reconciled into a task.
type TaskResult struct {
	Assignments  int      `json:"assignments"`
	Replies      int      `json:"replies"`
	Complete     bool     `json:"complete"`
	DoneRoles    []string `json:"done_roles,omitempty"`
	FailedRoles  []string `json:"failed_roles,omitempty"`
	PendingRoles []string `json:"pending_roles,omitempty"`
}

// TaskRecord is the full lifecycle record for one dispatched or direct
// request within a project.
type TaskRecord struct {
	RequestID string `json:"request_id"`
	ShortID   string `json:"short_id"` // "T-NNN"
	Alias     string `json:"alias"`

	Mode            Mode     `json:"mode"`
	Prompt          string   `json:"prompt"`
	Roles           []string `json:"roles,omitempty"`
	VerifierRoles   []string `json:"verifier_roles,omitempty"`
	RequireVerifier bool     `json:"require_verifier"`

	Stages  StageMap       `json:"stages"`
	Stage   Stage          `json:"stage"`
	History []HistoryEvent `json:"history"`
	Status  TaskStatus     `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Result TaskResult `json:"result"`

	Plan           *Plan           `json:"plan,omitempty"`
	PlanCritic     *Critic         `json:"plan_critic,omitempty"`
	PlanReplans    []ReplanAttempt `json:"plan_replans,omitempty"`
	PlanGatePassed bool            `json:"plan_gate_passed,omitempty"`

	SourceRequestID string      `json:"source_request_id,omitempty"`
	ControlMode     ControlMode `json:"control_mode,omitempty"`
	RetryChildren   []string    `json:"retry_children,omitempty"`
	ReplanChildren  []string    `json:"replan_children,omitempty"`

	InitiatorChatID string `json:"initiator_chat_id"`
	Cancelled       bool   `json:"cancelled,omitempty"`
	CancelNote      string `json:"cancel_note,omitempty"`
}

const maxLineageChildren = 20

// NewTaskRecord builds a fresh record in its initial (all-pending) state.
func NewTaskRecord(requestID, shortID, alias string, mode Mode, prompt, initiatorChatID string, now time.Time) *TaskRecord {
	return &TaskRecord{
		RequestID:       requestID,
		ShortID:         shortID,
		Alias:           alias,
		Mode:            mode,
		Prompt:          prompt,
		Stages:          NewStageMap(),
		Stage:           StageIntake,
		History:         nil,
		Status:          TaskPending,
		CreatedAt:       now,
		UpdatedAt:       now,
		InitiatorChatID: initiatorChatID,
	}
}

// SetStage writes a stage's status. It appends a history event only when
// the status actually changed or a note was supplied, matching the
// write-through contract in the lifecycle reconciler. It updates the
// record's "current stage" pointer and UpdatedAt unconditionally.
func (t *TaskRecord) SetStage(stage Stage, status StageStatus, note string, now time.Time) {
	changed := t.Stages.Set(stage, status)
	t.Stage = stage
	t.UpdatedAt = now
	if changed || note != "" {
		t.appendHistory(HistoryEvent{At: now, Stage: stage, Status: status, Note: note})
	}
}

func (t *TaskRecord) appendHistory(ev HistoryEvent) {
	t.History = append(t.History, ev)
	if len(t.History) > maxHistory {
		t.History = t.History[len(t.History)-maxHistory:]
	}
}

// AddRetryChild appends a retry child's request id, capped at 20 entries
// (oldest dropped first).
func (t *TaskRecord) AddRetryChild(requestID string) {
	t.RetryChildren = appendCapped(t.RetryChildren, requestID, maxLineageChildren)
}

// AddReplanChild appends a replan child's request id, capped at 20 entries.
func (t *TaskRecord) AddReplanChild(requestID string) {
	t.ReplanChildren = appendCapped(t.ReplanChildren, requestID, maxLineageChildren)
}

func appendCapped(list []string, v string, limit int) []string {
	list = append(list, v)
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list
}
