package taskstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openagents/openagents/internal/clock"
	"github.com/openagents/openagents/internal/constants"
	"github.com/openagents/openagents/internal/domain"
	oaerrors "github.com/openagents/openagents/internal/errors"
)

// newTestStore creates a FileStore over a temp directory with a fixed clock.
func newTestStore(t *testing.T) (*FileStore, *clock.Fixed) {
	t.Helper()
	dir := t.TempDir()
	clk := &clock.Fixed{T: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewFileStore(
		filepath.Join(dir, "tasks.jsonl"),
		filepath.Join(dir, "tasks.archive.jsonl"),
		clk,
		zerolog.Nop(),
	)
	return store, clk
}

func newTask(id, title string, priority int) *domain.Task {
	return &domain.Task{
		ID:       id,
		Title:    title,
		Status:   constants.TaskStatusOpen,
		Priority: priority,
	}
}

func TestFileStoreCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("creates and persists a task", func(t *testing.T) {
		store, clk := newTestStore(t)
		require.NoError(t, store.Create(ctx, newTask("oa-abc123", "first", 1)))

		got, err := store.Get(ctx, "oa-abc123")
		require.NoError(t, err)
		assert.Equal(t, "first", got.Title)
		assert.Equal(t, constants.TaskStatusOpen, got.Status)
		assert.Equal(t, clk.T, got.CreatedAt)
		assert.Equal(t, constants.TaskSchemaVersion, got.SchemaVersion)
	})

	t.Run("rejects duplicate ID", func(t *testing.T) {
		store, _ := newTestStore(t)
		require.NoError(t, store.Create(ctx, newTask("oa-abc123", "first", 1)))

		err := store.Create(ctx, newTask("oa-abc123", "again", 1))
		require.ErrorIs(t, err, oaerrors.ErrTaskExists)
	})

	t.Run("rejects malformed ID", func(t *testing.T) {
		store, _ := newTestStore(t)
		err := store.Create(ctx, newTask("not an id", "bad", 1))
		require.ErrorIs(t, err, oaerrors.ErrInvalidTaskID)
	})

	t.Run("rejects child without parent", func(t *testing.T) {
		store, _ := newTestStore(t)
		err := store.Create(ctx, newTask("oa-abc123.1", "orphan", 1))
		require.ErrorIs(t, err, oaerrors.ErrInvalidTaskID)
	})

	t.Run("accepts child with existing parent", func(t *testing.T) {
		store, _ := newTestStore(t)
		require.NoError(t, store.Create(ctx, newTask("oa-abc123", "parent", 1)))
		require.NoError(t, store.Create(ctx, newTask("oa-abc123.1", "child", 1)))
	})
}

func TestFileStoreGet(t *testing.T) {
	ctx := context.Background()

	t.Run("returns ErrTaskNotFound for unknown ID", func(t *testing.T) {
		store, _ := newTestStore(t)
		_, err := store.Get(ctx, "oa-zzzzzz")
		require.ErrorIs(t, err, oaerrors.ErrTaskNotFound)
	})

	t.Run("fails on corrupt line with line number", func(t *testing.T) {
		store, _ := newTestStore(t)
		require.NoError(t, store.Create(ctx, newTask("oa-abc123", "ok", 1)))

		f, err := os.OpenFile(store.path, os.O_APPEND|os.O_WRONLY, 0o600)
		require.NoError(t, err)
		_, err = f.WriteString("{not json\n")
		require.NoError(t, err)
		require.NoError(t, f.Close())

		_, err = store.Get(ctx, "oa-abc123")
		require.ErrorIs(t, err, oaerrors.ErrTaskParseFailed)
		assert.Contains(t, err.Error(), "line 2")
	})
}

func TestFileStoreReady(t *testing.T) {
	ctx := context.Background()

	t.Run("excludes tasks with open blocking deps", func(t *testing.T) {
		store, _ := newTestStore(t)
		require.NoError(t, store.Create(ctx, newTask("oa-aaaaaa", "dep", 1)))

		blocked := newTask("oa-bbbbbb", "blocked", 1)
		blocked.Deps = []domain.Dep{{ID: "oa-aaaaaa", Relation: domain.DepBlocks}}
		require.NoError(t, store.Create(ctx, blocked))

		ready, err := store.Ready(ctx, domain.TaskFilter{})
		require.NoError(t, err)
		require.Len(t, ready, 1)
		assert.Equal(t, "oa-aaaaaa", ready[0].ID)

		_, err = store.Close(ctx, "oa-aaaaaa", "done")
		require.NoError(t, err)

		ready, err = store.Ready(ctx, domain.TaskFilter{})
		require.NoError(t, err)
		require.Len(t, ready, 1)
		assert.Equal(t, "oa-bbbbbb", ready[0].ID)
	})

	t.Run("missing blocking dep is unsatisfied", func(t *testing.T) {
		store, _ := newTestStore(t)
		task := newTask("oa-aaaaaa", "dangling", 1)
		task.Deps = []domain.Dep{{ID: "oa-gone00", Relation: domain.DepBlocks}}
		require.NoError(t, store.Create(ctx, task))

		ready, err := store.Ready(ctx, domain.TaskFilter{})
		require.NoError(t, err)
		assert.Empty(t, ready)
	})

	t.Run("related deps do not block", func(t *testing.T) {
		store, _ := newTestStore(t)
		task := newTask("oa-aaaaaa", "loose", 1)
		task.Deps = []domain.Dep{{ID: "oa-gone00", Relation: domain.DepRelated}}
		require.NoError(t, store.Create(ctx, task))

		ready, err := store.Ready(ctx, domain.TaskFilter{})
		require.NoError(t, err)
		assert.Len(t, ready, 1)
	})
}

func TestFileStorePickNext(t *testing.T) {
	ctx := context.Background()

	t.Run("picks lowest priority number first", func(t *testing.T) {
		store, _ := newTestStore(t)
		require.NoError(t, store.Create(ctx, newTask("oa-aaaaaa", "later", 2)))
		require.NoError(t, store.Create(ctx, newTask("oa-bbbbbb", "urgent", 0)))

		next, err := store.PickNext(ctx, domain.TaskFilter{})
		require.NoError(t, err)
		assert.Equal(t, "oa-bbbbbb", next.ID)
	})

	t.Run("ties broken by oldest created_at", func(t *testing.T) {
		store, clk := newTestStore(t)
		require.NoError(t, store.Create(ctx, newTask("oa-aaaaaa", "older", 1)))
		clk.T = clk.T.Add(time.Minute)
		require.NoError(t, store.Create(ctx, newTask("oa-bbbbbb", "newer", 1)))

		next, err := store.PickNext(ctx, domain.TaskFilter{})
		require.NoError(t, err)
		assert.Equal(t, "oa-aaaaaa", next.ID)
	})

	t.Run("empty backlog returns ErrNoReadyTasks", func(t *testing.T) {
		store, _ := newTestStore(t)
		_, err := store.PickNext(ctx, domain.TaskFilter{})
		require.ErrorIs(t, err, oaerrors.ErrNoReadyTasks)
	})
}

func TestFileStoreUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("applies patch fields", func(t *testing.T) {
		store, clk := newTestStore(t)
		require.NoError(t, store.Create(ctx, newTask("oa-abc123", "old title", 2)))

		clk.T = clk.T.Add(time.Minute)
		title := "new title"
		priority := 0
		got, err := store.Update(ctx, "oa-abc123", domain.TaskPatch{
			Title:     &title,
			Priority:  &priority,
			AddLabels: []string{"healing"},
		})
		require.NoError(t, err)
		assert.Equal(t, "new title", got.Title)
		assert.Equal(t, 0, got.Priority)
		assert.Equal(t, []string{"healing"}, got.Labels)
		assert.Equal(t, clk.T, got.UpdatedAt)
	})

	t.Run("status change records audit trail", func(t *testing.T) {
		store, _ := newTestStore(t)
		require.NoError(t, store.Create(ctx, newTask("oa-abc123", "t", 1)))

		status := constants.TaskStatusInProgress
		got, err := store.Update(ctx, "oa-abc123", domain.TaskPatch{Status: &status, Reason: "picked"})
		require.NoError(t, err)
		require.Len(t, got.Transitions, 1)
		assert.Equal(t, constants.TaskStatusOpen, got.Transitions[0].FromStatus)
		assert.Equal(t, constants.TaskStatusInProgress, got.Transitions[0].ToStatus)
		assert.Equal(t, "picked", got.Transitions[0].Reason)
	})

	t.Run("rejects invalid transition", func(t *testing.T) {
		store, _ := newTestStore(t)
		require.NoError(t, store.Create(ctx, newTask("oa-abc123", "t", 1)))
		_, err := store.Close(ctx, "oa-abc123", "done")
		require.NoError(t, err)

		status := constants.TaskStatusBlocked
		_, err = store.Update(ctx, "oa-abc123", domain.TaskPatch{Status: &status})
		require.ErrorIs(t, err, oaerrors.ErrInvalidTransition)
	})

	t.Run("unknown task returns ErrTaskNotFound", func(t *testing.T) {
		store, _ := newTestStore(t)
		_, err := store.Update(ctx, "oa-zzzzzz", domain.TaskPatch{})
		require.ErrorIs(t, err, oaerrors.ErrTaskNotFound)
	})
}

func TestFileStoreUpdateMergesExternalEdit(t *testing.T) {
	ctx := context.Background()

	// externalEdit rewrites one task line on disk behind the store's back.
	externalEdit := func(t *testing.T, store *FileStore, mutate func(*domain.Task)) {
		t.Helper()
		data, err := os.ReadFile(store.path)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		var out []string
		for _, line := range lines {
			var task domain.Task
			require.NoError(t, json.Unmarshal([]byte(line), &task))
			mutate(&task)
			raw, err := json.Marshal(&task)
			require.NoError(t, err)
			out = append(out, string(raw))
		}
		require.NoError(t, os.WriteFile(store.path, []byte(strings.Join(out, "\n")+"\n"), 0o600))
	}

	t.Run("unions labels added on both sides", func(t *testing.T) {
		store, clk := newTestStore(t)
		require.NoError(t, store.Create(ctx, newTask("oa-abc123", "t", 1)))

		externalEdit(t, store, func(task *domain.Task) {
			task.Labels = append(task.Labels, "external")
			task.UpdatedAt = task.UpdatedAt.Add(time.Second)
		})

		clk.T = clk.T.Add(time.Minute)
		got, err := store.Update(ctx, "oa-abc123", domain.TaskPatch{AddLabels: []string{"local"}})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"external", "local"}, got.Labels)
	})

	t.Run("conflicting close reasons fail with ErrMergeConflict", func(t *testing.T) {
		store, clk := newTestStore(t)
		require.NoError(t, store.Create(ctx, newTask("oa-abc123", "t", 1)))

		externalEdit(t, store, func(task *domain.Task) {
			task.Status = constants.TaskStatusClosed
			task.CloseReason = "wontfix"
			now := task.UpdatedAt.Add(time.Second)
			task.ClosedAt = &now
			task.UpdatedAt = now
		})

		clk.T = clk.T.Add(time.Minute)
		status := constants.TaskStatusClosed
		_, err := store.Update(ctx, "oa-abc123", domain.TaskPatch{Status: &status, Reason: "done"})
		require.ErrorIs(t, err, oaerrors.ErrMergeConflict)
	})

	t.Run("scalar conflict resolved by later updated_at", func(t *testing.T) {
		store, clk := newTestStore(t)
		require.NoError(t, store.Create(ctx, newTask("oa-abc123", "base", 1)))

		externalEdit(t, store, func(task *domain.Task) {
			task.Title = "external title"
			task.UpdatedAt = task.UpdatedAt.Add(time.Second)
		})

		// Local patch timestamped a full minute later wins.
		clk.T = clk.T.Add(time.Minute)
		title := "local title"
		got, err := store.Update(ctx, "oa-abc123", domain.TaskPatch{Title: &title})
		require.NoError(t, err)
		assert.Equal(t, "local title", got.Title)
	})
}

func TestFileStoreCloseReopen(t *testing.T) {
	ctx := context.Background()

	t.Run("close stamps closed_at and reason", func(t *testing.T) {
		store, clk := newTestStore(t)
		require.NoError(t, store.Create(ctx, newTask("oa-abc123", "t", 1)))

		clk.T = clk.T.Add(time.Hour)
		got, err := store.Close(ctx, "oa-abc123", "verified green")
		require.NoError(t, err)
		assert.Equal(t, constants.TaskStatusClosed, got.Status)
		require.NotNil(t, got.ClosedAt)
		assert.Equal(t, clk.T, *got.ClosedAt)
		assert.Equal(t, "verified green", got.CloseReason)
	})

	t.Run("reopen clears close fields", func(t *testing.T) {
		store, _ := newTestStore(t)
		require.NoError(t, store.Create(ctx, newTask("oa-abc123", "t", 1)))
		_, err := store.Close(ctx, "oa-abc123", "done")
		require.NoError(t, err)

		got, err := store.Reopen(ctx, "oa-abc123")
		require.NoError(t, err)
		assert.Equal(t, constants.TaskStatusOpen, got.Status)
		assert.Nil(t, got.ClosedAt)
		assert.Empty(t, got.CloseReason)
		assert.Len(t, got.Transitions, 2)
	})
}

func TestFileStoreArchive(t *testing.T) {
	ctx := context.Background()

	t.Run("moves old closed tasks to archive", func(t *testing.T) {
		store, clk := newTestStore(t)
		require.NoError(t, store.Create(ctx, newTask("oa-aaaaaa", "old", 1)))
		require.NoError(t, store.Create(ctx, newTask("oa-bbbbbb", "kept", 1)))
		_, err := store.Close(ctx, "oa-aaaaaa", "done")
		require.NoError(t, err)

		cutoff := clk.T.Add(time.Hour)
		n, err := store.Archive(ctx, cutoff)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = store.Get(ctx, "oa-aaaaaa")
		require.ErrorIs(t, err, oaerrors.ErrTaskNotFound)

		data, err := os.ReadFile(store.archivePath)
		require.NoError(t, err)
		assert.Contains(t, string(data), "oa-aaaaaa")
	})

	t.Run("open tasks never archived", func(t *testing.T) {
		store, clk := newTestStore(t)
		require.NoError(t, store.Create(ctx, newTask("oa-aaaaaa", "open", 1)))

		n, err := store.Archive(ctx, clk.T.Add(time.Hour))
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestFileStoreContextCancellation(t *testing.T) {
	store, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.List(ctx, domain.TaskFilter{})
	require.ErrorIs(t, err, context.Canceled)

	err = store.Create(ctx, newTask("oa-abc123", "t", 1))
	require.ErrorIs(t, err, context.Canceled)
}
