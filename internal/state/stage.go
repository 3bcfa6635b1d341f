// Package state defines the gateway's persisted data model — chat
// sessions, per-project task registries, and task lifecycle records — and
// the atomic JSON store that reads and writes them. The store serializes
// cross-process writers with a gofrs/flock lock file beside the state file.
package state

// Stage names one of the seven fixed lifecycle phases a task moves
// through. The set is closed; TaskRecord.Stages always carries exactly
// these seven keys.
type Stage string

const (
	StageIntake        Stage = "intake"
	StagePlanning      Stage = "planning"
	StageStaffing      Stage = "staffing"
	StageExecution     Stage = "execution"
	StageVerification  Stage = "verification"
	StageIntegration   Stage = "integration"
	StageClose         Stage = "close"
)

// Stages lists the canonical stage order, intake-first.
func Stages() []Stage {
	return []Stage{
		StageIntake, StagePlanning, StageStaffing, StageExecution,
		StageVerification, StageIntegration, StageClose,
	}
}

// StageStatus is the status of a single stage; a task as a whole uses
// TaskStatus.
type StageStatus string

const (
	StatusPending  StageStatus = "pending"
	StatusRunning  StageStatus = "running"
	StatusDone     StageStatus = "done"
	StatusFailed   StageStatus = "failed"
	// StatusCompleted mirrors the task-level TaskCompleted value; no stage
	// is set to it (Stages values use StatusDone for the terminal success
	// state, and TaskRecord.Status is a TaskStatus).
	StatusCompleted StageStatus = "completed"
)

// StageMap holds per-stage status, keyed by the fixed seven stage names.
// A struct (rather than a map[Stage]StageStatus) is used so the "exactly
// seven keys" invariant is enforced by the type system, not by runtime
// bookkeeping.
type StageMap struct {
	Intake       StageStatus `json:"intake"`
	Planning     StageStatus `json:"planning"`
	Staffing     StageStatus `json:"staffing"`
	Execution    StageStatus `json:"execution"`
	Verification StageStatus `json:"verification"`
	Integration  StageStatus `json:"integration"`
	Close        StageStatus `json:"close"`
}

// NewStageMap returns a StageMap with every stage pending.
func NewStageMap() StageMap {
	return StageMap{
		Intake:       StatusPending,
		Planning:     StatusPending,
		Staffing:     StatusPending,
		Execution:    StatusPending,
		Verification: StatusPending,
		Integration:  StatusPending,
		Close:        StatusPending,
	}
}

// Get returns the status of the named stage.
func (m StageMap) Get(s Stage) StageStatus {
	switch s {
	case StageIntake:
		return m.Intake
	case StagePlanning:
		return m.Planning
	case StageStaffing:
		return m.Staffing
	case StageExecution:
		return m.Execution
	case StageVerification:
		return m.Verification
	case StageIntegration:
		return m.Integration
	case StageClose:
		return m.Close
	default:
		return ""
	}
}

// Set stores the status for the named stage and reports whether the value
// actually changed, so callers can decide whether a history event is warranted.
func (m *StageMap) Set(s Stage, status StageStatus) (changed bool) {
	prev := m.Get(s)
	switch s {
	case StageIntake:
		m.Intake = status
	case StagePlanning:
		m.Planning = status
	case StageStaffing:
		m.Staffing = status
	case StageExecution:
		m.Execution = status
	case StageVerification:
		m.Verification = status
	case StageIntegration:
		m.Integration = status
	case StageClose:
		m.Close = status
	}
	return prev != status
}
