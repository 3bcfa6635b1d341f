// Package lifecycle derives a task's seven-stage status from an
// orchestrator snapshot, writing through to the task record's stage map
// and history exactly as the dispatch executor observes the world after
// invoking the orchestrator.
package lifecycle

import (
	"time"

	"github.com/kimyoungjin06/aoe-orch-control/internal/state"
)

// RoleStatus is one role's outcome as reported by the orchestrator.
type RoleStatus struct {
	Role      string
	Status    string
	MessageID string
}

// Snapshot is the orchestrator's JSON reply shape for a dispatched task.
type Snapshot struct {
	RequestID     string
	Roles         []RoleStatus
	Assignments   int
	Replies       int
	Complete      bool
	DoneRoles     []string
	FailedRoles   []string
	PendingRoles  []string
	ReplyBodies   []string
}

// Context carries the caller-supplied facts the reconciler needs beyond
// the raw snapshot.
type Context struct {
	RequireVerifier   bool
	VerifierRoles     []string // roles that count as "the verifier" for this task
}

func has(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func anyIn(list, set []string) bool {
	for _, v := range list {
		if has(set, v) {
			return true
		}
	}
	return false
}

func allIn(list, set []string) bool {
	if len(list) == 0 {
		return false
	}
	for _, v := range list {
		if !has(set, v) {
			return false
		}
	}
	return true
}

// Reconcile applies the seven derivation rules from the lifecycle
// design in order, writing each stage through to tr via SetStage.
func Reconcile(tr *state.TaskRecord, snap Snapshot, ctx Context, now time.Time) {
	tr.SetStage(state.StageIntake, state.StatusDone, "", now)
	tr.SetStage(state.StagePlanning, state.StatusDone, "", now)

	staffing := state.StatusPending
	switch {
	case snap.Assignments > 0:
		staffing = state.StatusDone
	case len(snap.Roles) > 0:
		staffing = state.StatusRunning
	}
	tr.SetStage(state.StageStaffing, staffing, "", now)

	execution := state.StatusPending
	switch {
	case len(snap.FailedRoles) > 0:
		execution = state.StatusFailed
	case snap.Complete && snap.Assignments > 0 && len(snap.PendingRoles) == 0:
		execution = state.StatusDone
	case snap.Assignments > 0:
		execution = state.StatusRunning
	}
	tr.SetStage(state.StageExecution, execution, "", now)

	verification, verificationNote := deriveVerification(snap, ctx, execution)
	tr.SetStage(state.StageVerification, verification, verificationNote, now)

	integration := state.StatusPending
	switch {
	case execution == state.StatusFailed || verification == state.StatusFailed:
		integration = state.StatusFailed
	case verification == state.StatusDone && (snap.Replies > 0 || snap.Complete):
		integration = state.StatusDone
	case execution == state.StatusRunning || verification == state.StatusRunning:
		integration = state.StatusRunning
	}
	tr.SetStage(state.StageIntegration, integration, "", now)

	closeStage := state.StatusPending
	switch {
	case integration == state.StatusFailed:
		closeStage = state.StatusFailed
	case integration == state.StatusDone && snap.Complete:
		closeStage = state.StatusDone
	case execution == state.StatusRunning || verification == state.StatusRunning:
		closeStage = state.StatusRunning
	}
	tr.SetStage(state.StageClose, closeStage, "", now)

	tr.Status = deriveOverallStatus(closeStage, verification, execution)
	tr.UpdatedAt = now
}

func deriveVerification(snap Snapshot, ctx Context, execution state.StageStatus) (state.StageStatus, string) {
	if ctx.RequireVerifier {
		switch {
		case len(ctx.VerifierRoles) == 0:
			return state.StatusFailed, "no verifier role assigned"
		case anyIn(ctx.VerifierRoles, snap.FailedRoles):
			return state.StatusFailed, "verifier role failed"
		case allIn(ctx.VerifierRoles, snap.DoneRoles):
			return state.StatusDone, ""
		case snap.Complete && execution == state.StatusDone:
			return state.StatusFailed, "verifier gate not satisfied"
		}
		switch execution {
		case state.StatusRunning, state.StatusDone:
			return state.StatusRunning, ""
		case state.StatusFailed:
			return state.StatusFailed, ""
		default:
			return state.StatusPending, ""
		}
	}
	// No verifier required: verification mirrors execution's terminal/active status.
	return execution, ""
}

func deriveOverallStatus(closeStage, verification, execution state.StageStatus) state.TaskStatus {
	switch {
	case closeStage == state.StatusFailed || verification == state.StatusFailed || execution == state.StatusFailed:
		return state.TaskFailed
	case closeStage == state.StatusDone:
		return state.TaskCompleted
	case closeStage == state.StatusRunning || execution == state.StatusRunning || verification == state.StatusRunning:
		return state.TaskRunning
	default:
		return state.TaskPending
	}
}
