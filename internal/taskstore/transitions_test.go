package taskstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openagents/openagents/internal/constants"
	"github.com/openagents/openagents/internal/domain"
	oaerrors "github.com/openagents/openagents/internal/errors"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from constants.TaskStatus
		to   constants.TaskStatus
		want bool
	}{
		{name: "open to in_progress", from: constants.TaskStatusOpen, to: constants.TaskStatusInProgress, want: true},
		{name: "open to blocked", from: constants.TaskStatusOpen, to: constants.TaskStatusBlocked, want: true},
		{name: "open to closed", from: constants.TaskStatusOpen, to: constants.TaskStatusClosed, want: true},
		{name: "in_progress back to open", from: constants.TaskStatusInProgress, to: constants.TaskStatusOpen, want: true},
		{name: "blocked to in_progress", from: constants.TaskStatusBlocked, to: constants.TaskStatusInProgress, want: true},
		{name: "closed reopens to open", from: constants.TaskStatusClosed, to: constants.TaskStatusOpen, want: true},
		{name: "closed to in_progress rejected", from: constants.TaskStatusClosed, to: constants.TaskStatusInProgress, want: false},
		{name: "closed to blocked rejected", from: constants.TaskStatusClosed, to: constants.TaskStatusBlocked, want: false},
		{name: "self transition allowed", from: constants.TaskStatusOpen, to: constants.TaskStatusOpen, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTransition(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("records audit entry", func(t *testing.T) {
		task := &domain.Task{ID: "oa-abc123", Status: constants.TaskStatusOpen}
		require.NoError(t, Transition(task, constants.TaskStatusInProgress, "picked up", now))

		assert.Equal(t, constants.TaskStatusInProgress, task.Status)
		require.Len(t, task.Transitions, 1)
		assert.Equal(t, constants.TaskStatusOpen, task.Transitions[0].FromStatus)
		assert.Equal(t, constants.TaskStatusInProgress, task.Transitions[0].ToStatus)
		assert.Equal(t, now, task.Transitions[0].Timestamp)
		assert.Equal(t, "picked up", task.Transitions[0].Reason)
	})

	t.Run("self transition is a no-op", func(t *testing.T) {
		task := &domain.Task{ID: "oa-abc123", Status: constants.TaskStatusOpen}
		require.NoError(t, Transition(task, constants.TaskStatusOpen, "", now))
		assert.Empty(t, task.Transitions)
	})

	t.Run("invalid transition leaves task untouched", func(t *testing.T) {
		task := &domain.Task{ID: "oa-abc123", Status: constants.TaskStatusClosed}
		err := Transition(task, constants.TaskStatusBlocked, "", now)
		require.ErrorIs(t, err, oaerrors.ErrInvalidTransition)
		assert.Equal(t, constants.TaskStatusClosed, task.Status)
		assert.Empty(t, task.Transitions)
	})

	t.Run("unknown status rejected", func(t *testing.T) {
		task := &domain.Task{ID: "oa-abc123", Status: constants.TaskStatusOpen}
		err := Transition(task, constants.TaskStatus("bogus"), "", now)
		require.ErrorIs(t, err, oaerrors.ErrInvalidTransition)
	})
}
