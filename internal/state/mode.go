package state

// Mode governs how a plain-text message (one that didn't resolve to an
// explicit command) is routed for a chat.
type Mode string

const (
	ModeUnset    Mode = "unset"
	ModeDispatch Mode = "dispatch"
	ModeDirect   Mode = "direct"
	// ModeOff clears a pending or default mode; it is never itself stored
	// as DefaultMode — setting default_mode to "off" is represented as
	// an empty DefaultMode.
	ModeOff Mode = "off"
)

// TaskStatus is the overall status of a TaskRecord, distinct from the
// per-stage StageStatus values (it additionally has "completed").
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// ControlMode marks a task as a retry or replan child of a source task.
type ControlMode string

const (
	ControlRetry  ControlMode = "retry"
	ControlReplan ControlMode = "replan"
)
