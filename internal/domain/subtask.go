package domain

import (
	"time"

	"github.com/openagents/openagents/internal/constants"
)

// Subtask is an ephemeral decomposition of a task inside one orchestrator
// session. Subtasks are owned by the orchestrator and are discarded or
// summarized at session end; they are never persisted to the backlog.
type Subtask struct {
	// ID is scoped to the session (e.g. "s1", "s2").
	ID string `json:"id"`

	// TaskID is the backlog task this subtask decomposes.
	TaskID string `json:"task_id"`

	// Description is the instruction handed to the worker.
	Description string `json:"description"`

	// Status is the current subtask state.
	Status constants.SubtaskStatus `json:"status"`

	// FailureCount tracks consecutive worker failures for this subtask.
	// A successful run resets it to zero.
	FailureCount int `json:"failure_count"`

	// StartedAt is when the worker first picked up the subtask.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the subtask reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the subtask reached a terminal status.
func (s *Subtask) Terminal() bool {
	return s.Status == constants.SubtaskStatusCompleted ||
		s.Status == constants.SubtaskStatusFailed
}
