package constants

// TaskStatus represents the state of a backlog task.
// Status values use snake_case for JSON serialization compatibility.
type TaskStatus string

// Task status constants define the valid states a task can be in.
//
//	Open → InProgress, Blocked, Closed
//	InProgress → Open, Blocked, Closed
//	Blocked → Open, InProgress, Closed
//	Closed → Open (reopen)
const (
	// TaskStatusOpen indicates a task waiting in the backlog.
	TaskStatusOpen TaskStatus = "open"

	// TaskStatusInProgress indicates a task an orchestrator session is driving.
	TaskStatusInProgress TaskStatus = "in_progress"

	// TaskStatusBlocked indicates a task parked by a failed heal or an
	// unsatisfied dependency.
	TaskStatusBlocked TaskStatus = "blocked"

	// TaskStatusClosed indicates a finished task. Closed tasks carry a
	// close reason and are archived, never deleted.
	TaskStatusClosed TaskStatus = "closed"
)

// String returns the string representation of the TaskStatus.
func (s TaskStatus) String() string {
	return string(s)
}

// IsValid reports whether the status is one of the closed set.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusOpen, TaskStatusInProgress, TaskStatusBlocked, TaskStatusClosed:
		return true
	default:
		return false
	}
}

// SubtaskStatus represents the state of an ephemeral subtask within a session.
type SubtaskStatus string

// Subtask status constants.
const (
	SubtaskStatusPending    SubtaskStatus = "pending"
	SubtaskStatusInProgress SubtaskStatus = "in_progress"
	SubtaskStatusCompleted  SubtaskStatus = "completed"
	SubtaskStatusFailed     SubtaskStatus = "failed"
)

// String returns the string representation of the SubtaskStatus.
func (s SubtaskStatus) String() string {
	return string(s)
}

// StepStatus represents the state of a trajectory step.
type StepStatus string

// Step status constants. Completed steps are immutable once persisted.
const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
)

// String returns the string representation of the StepStatus.
func (s StepStatus) String() string {
	return string(s)
}

// StepSource identifies who produced a trajectory step.
type StepSource string

// Step source constants.
const (
	StepSourceUser   StepSource = "user"
	StepSourceAgent  StepSource = "agent"
	StepSourceSystem StepSource = "system"
	StepSourceWorker StepSource = "worker"
	StepSourceHealer StepSource = "healer"
)

// String returns the string representation of the StepSource.
func (s StepSource) String() string {
	return string(s)
}
