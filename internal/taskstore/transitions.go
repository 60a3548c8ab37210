package taskstore

import (
	"fmt"
	"time"

	"github.com/openagents/openagents/internal/constants"
	"github.com/openagents/openagents/internal/domain"
	oaerrors "github.com/openagents/openagents/internal/errors"
)

// ValidTransitions defines the allowed task status transitions.
// Any transition not listed here is rejected with ErrInvalidTransition.
//
//nolint:gochecknoglobals // shared transition table
var ValidTransitions = map[constants.TaskStatus][]constants.TaskStatus{
	constants.TaskStatusOpen: {
		constants.TaskStatusInProgress,
		constants.TaskStatusBlocked,
		constants.TaskStatusClosed,
	},
	constants.TaskStatusInProgress: {
		constants.TaskStatusOpen,
		constants.TaskStatusBlocked,
		constants.TaskStatusClosed,
	},
	constants.TaskStatusBlocked: {
		constants.TaskStatusOpen,
		constants.TaskStatusInProgress,
		constants.TaskStatusClosed,
	},
	constants.TaskStatusClosed: {
		constants.TaskStatusOpen,
	},
}

// CanTransition reports whether moving from one status to another is allowed.
// Self-transitions are treated as no-ops and allowed.
func CanTransition(from, to constants.TaskStatus) bool {
	if from == to {
		return true
	}
	for _, allowed := range ValidTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves the task to a new status and records the change in the
// task's audit trail. A self-transition records nothing and succeeds.
func Transition(t *domain.Task, to constants.TaskStatus, reason string, now time.Time) error {
	if !to.IsValid() {
		return fmt.Errorf("%w: unknown status %q", oaerrors.ErrInvalidTransition, to)
	}
	if t.Status == to {
		return nil
	}
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("%w: %s -> %s for task '%s'",
			oaerrors.ErrInvalidTransition, t.Status, to, t.ID)
	}

	t.Transitions = append(t.Transitions, domain.Transition{
		FromStatus: t.Status,
		ToStatus:   to,
		Timestamp:  now,
		Reason:     reason,
	})
	t.Status = to
	return nil
}
