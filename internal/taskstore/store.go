// Package taskstore provides persistence for the task backlog.
//
// Tasks live in <root>/.openagents/tasks.jsonl, one JSON task per line.
// All mutations are sequential: a process-local write lock plus an exclusive
// flock guard a read-merge-write cycle that rewrites the file atomically
// (tmpfile + rename). Tasks are never deleted; closed tasks are archived.
//
// Import rules:
//   - CAN import: internal/clock, internal/constants, internal/domain,
//     internal/errors, std lib
//   - MUST NOT import: internal/orchestrator, internal/healer, internal/cli
package taskstore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openagents/openagents/internal/clock"
	"github.com/openagents/openagents/internal/constants"
	"github.com/openagents/openagents/internal/domain"
	oaerrors "github.com/openagents/openagents/internal/errors"
	"github.com/openagents/openagents/internal/lock"
)

// Directory and file permission constants.
const (
	dirPerm  = 0o750
	filePerm = 0o600
)

// maxLineSize bounds a single task line when scanning the backlog.
const maxLineSize = 1 << 20 // 1 MiB

// Store defines the interface for backlog persistence operations.
type Store interface {
	// List returns all tasks matching the filter, newest first.
	List(ctx context.Context, filter domain.TaskFilter) ([]*domain.Task, error)

	// Get retrieves a single task by ID.
	// Returns ErrTaskNotFound if the task does not exist.
	Get(ctx context.Context, id string) (*domain.Task, error)

	// Ready returns tasks that are open with every blocks-dep closed,
	// matching the filter, ordered by priority then age.
	Ready(ctx context.Context, filter domain.TaskFilter) ([]*domain.Task, error)

	// PickNext returns the highest-priority ready task (lowest priority
	// number, tie-broken by oldest created_at).
	// Returns ErrNoReadyTasks when the backlog holds none.
	PickNext(ctx context.Context, filter domain.TaskFilter) (*domain.Task, error)

	// Create appends a new task. Returns ErrTaskExists on duplicate ID and
	// ErrInvalidTaskID when the ID is malformed or the parent is missing.
	Create(ctx context.Context, task *domain.Task) error

	// Update applies a patch to a task. External concurrent edits are
	// reconciled with a field-level three-way merge; only conflicting
	// close reasons fail with ErrMergeConflict.
	Update(ctx context.Context, id string, patch domain.TaskPatch) (*domain.Task, error)

	// Close transitions a task to closed, stamping closed_at and the reason.
	Close(ctx context.Context, id, reason string) (*domain.Task, error)

	// Reopen transitions a closed task back to open.
	Reopen(ctx context.Context, id string) (*domain.Task, error)

	// Archive moves tasks closed before the cutoff into the archive file.
	// Returns the number of tasks archived.
	Archive(ctx context.Context, before time.Time) (int, error)
}

// FileStore implements Store over a JSONL file.
type FileStore struct {
	path        string
	archivePath string
	clock       clock.Clock
	logger      zerolog.Logger

	// mu serializes all mutations within this process.
	mu sync.Mutex

	// baselines remembers the version last read per task ID, enabling
	// three-way merges when the file advanced under an external editor.
	baselines map[string]*domain.Task
}

// NewFileStore creates a FileStore over the given tasks file.
func NewFileStore(path, archivePath string, clk clock.Clock, logger zerolog.Logger) *FileStore {
	return &FileStore{
		path:        path,
		archivePath: archivePath,
		clock:       clk,
		logger:      logger,
		baselines:   make(map[string]*domain.Task),
	}
}

// List returns all tasks matching the filter, newest first.
func (s *FileStore) List(ctx context.Context, filter domain.TaskFilter) ([]*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load()
	if err != nil {
		return nil, err
	}

	out := make([]*domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if filter.Match(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Get retrieves a single task by ID.
func (s *FileStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load()
	if err != nil {
		return nil, err
	}
	t := findTask(tasks, id)
	if t == nil {
		return nil, fmt.Errorf("failed to get task '%s': %w", id, oaerrors.ErrTaskNotFound)
	}
	s.remember(t)
	return t, nil
}

// Ready returns open tasks whose blocks-deps are all closed.
func (s *FileStore) Ready(ctx context.Context, filter domain.TaskFilter) ([]*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load()
	if err != nil {
		return nil, err
	}

	byID := indexTasks(tasks)
	out := make([]*domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if !filter.Match(t) {
			continue
		}
		if isReady(t, byID) {
			out = append(out, t)
		}
	}
	sortByPriority(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// PickNext returns the highest-priority ready task.
func (s *FileStore) PickNext(ctx context.Context, filter domain.TaskFilter) (*domain.Task, error) {
	ready, err := s.Ready(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(ready) == 0 {
		return nil, oaerrors.ErrNoReadyTasks
	}
	s.mu.Lock()
	s.remember(ready[0])
	s.mu.Unlock()
	return ready[0], nil
}

// Create appends a new task to the backlog.
func (s *FileStore) Create(ctx context.Context, task *domain.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("failed to create task: task %w", oaerrors.ErrEmptyValue)
	}
	if !domain.ValidTaskID(task.ID) {
		return fmt.Errorf("%w: %q", oaerrors.ErrInvalidTaskID, task.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withFileLock(ctx, func() error {
		tasks, err := s.load()
		if err != nil {
			return err
		}
		if findTask(tasks, task.ID) != nil {
			return fmt.Errorf("failed to create task '%s': %w", task.ID, oaerrors.ErrTaskExists)
		}
		byID := indexTasks(tasks)
		if parent := domain.ParentID(task.ID); parent != "" {
			if _, ok := byID[parent]; !ok {
				return fmt.Errorf("%w: parent %q does not exist", oaerrors.ErrInvalidTaskID, parent)
			}
		}

		now := s.clock.Now().UTC()
		if task.CreatedAt.IsZero() {
			task.CreatedAt = now
		}
		task.UpdatedAt = now
		if task.Status == "" {
			task.Status = constants.TaskStatusOpen
		}
		task.SchemaVersion = constants.TaskSchemaVersion

		tasks = append(tasks, task)
		if err := s.save(tasks); err != nil {
			return err
		}
		s.remember(task)

		s.logger.Info().
			Str("task_id", task.ID).
			Str("status", task.Status.String()).
			Int("priority", task.Priority).
			Msg("task created")
		return nil
	})
}

// Update applies a patch to a task, merging with external edits.
func (s *FileStore) Update(ctx context.Context, id string, patch domain.TaskPatch) (*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var updated *domain.Task
	err := s.withFileLock(ctx, func() error {
		tasks, err := s.load()
		if err != nil {
			return err
		}
		disk := findTask(tasks, id)
		if disk == nil {
			return fmt.Errorf("failed to update task '%s': %w", id, oaerrors.ErrTaskNotFound)
		}

		now := s.clock.Now().UTC()
		base := s.baselines[id]

		var merged *domain.Task
		if base != nil && disk.UpdatedAt.After(base.UpdatedAt) {
			// Disk advanced under us: patch the base we read, then merge
			// field-by-field against the external edit.
			local, patchErr := applyPatch(cloneTask(base), patch, now)
			if patchErr != nil {
				return patchErr
			}
			local.UpdatedAt = now
			merged, err = merge(base, local, disk)
			if err != nil {
				return err
			}
		} else {
			merged, err = applyPatch(cloneTask(disk), patch, now)
			if err != nil {
				return err
			}
		}
		merged.UpdatedAt = now

		replaceTask(tasks, merged)
		if err := s.save(tasks); err != nil {
			return err
		}
		s.remember(merged)
		updated = merged

		s.logger.Debug().
			Str("task_id", id).
			Str("status", merged.Status.String()).
			Msg("task updated")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Close transitions the task to closed with the given reason.
func (s *FileStore) Close(ctx context.Context, id, reason string) (*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var closed *domain.Task
	err := s.withFileLock(ctx, func() error {
		tasks, err := s.load()
		if err != nil {
			return err
		}
		t := findTask(tasks, id)
		if t == nil {
			return fmt.Errorf("failed to close task '%s': %w", id, oaerrors.ErrTaskNotFound)
		}
		now := s.clock.Now().UTC()
		if err := Transition(t, constants.TaskStatusClosed, reason, now); err != nil {
			return err
		}
		t.ClosedAt = &now
		t.CloseReason = reason
		t.UpdatedAt = now

		if err := s.save(tasks); err != nil {
			return err
		}
		s.remember(t)
		closed = t

		s.logger.Info().
			Str("task_id", id).
			Str("reason", reason).
			Msg("task closed")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

// Reopen transitions a closed task back to open.
func (s *FileStore) Reopen(ctx context.Context, id string) (*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var reopened *domain.Task
	err := s.withFileLock(ctx, func() error {
		tasks, err := s.load()
		if err != nil {
			return err
		}
		t := findTask(tasks, id)
		if t == nil {
			return fmt.Errorf("failed to reopen task '%s': %w", id, oaerrors.ErrTaskNotFound)
		}
		now := s.clock.Now().UTC()
		if err := Transition(t, constants.TaskStatusOpen, "reopened", now); err != nil {
			return err
		}
		t.ClosedAt = nil
		t.CloseReason = ""
		t.UpdatedAt = now

		if err := s.save(tasks); err != nil {
			return err
		}
		s.remember(t)
		reopened = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reopened, nil
}

// Archive moves tasks closed before the cutoff to the archive file.
func (s *FileStore) Archive(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	archived := 0
	err := s.withFileLock(ctx, func() error {
		tasks, err := s.load()
		if err != nil {
			return err
		}

		keep := make([]*domain.Task, 0, len(tasks))
		var toArchive []*domain.Task
		for _, t := range tasks {
			if t.Status == constants.TaskStatusClosed && t.ClosedAt != nil && t.ClosedAt.Before(before) {
				toArchive = append(toArchive, t)
				continue
			}
			keep = append(keep, t)
		}
		if len(toArchive) == 0 {
			return nil
		}

		if err := s.appendArchive(toArchive); err != nil {
			return err
		}
		if err := s.save(keep); err != nil {
			return err
		}
		archived = len(toArchive)

		s.logger.Info().
			Int("archived", archived).
			Time("before", before).
			Msg("tasks archived")
		return nil
	})
	return archived, err
}

// load reads and parses the whole backlog file. A missing file is an empty
// backlog.
func (s *FileStore) load() ([]*domain.Task, error) {
	f, err := os.Open(s.path) //#nosec G304 -- path is constructed internally
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", oaerrors.ErrTaskReadFailed, err)
	}
	defer func() { _ = f.Close() }()

	var tasks []*domain.Task
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var t domain.Task
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", oaerrors.ErrTaskParseFailed, line, err)
		}
		tasks = append(tasks, &t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", oaerrors.ErrTaskReadFailed, err)
	}
	return tasks, nil
}

// save rewrites the whole backlog file atomically.
func (s *FileStore) save(tasks []*domain.Task) error {
	if err := os.MkdirAll(filepath.Dir(s.path), dirPerm); err != nil {
		return fmt.Errorf("%w: %v", oaerrors.ErrTaskWriteFailed, err)
	}
	var buf []byte
	for _, t := range tasks {
		line, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("%w: %v", oaerrors.ErrTaskWriteFailed, err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	if err := atomicWrite(s.path, buf); err != nil {
		return fmt.Errorf("%w: %v", oaerrors.ErrTaskWriteFailed, err)
	}
	return nil
}

// appendArchive appends archived task lines to the archive file.
func (s *FileStore) appendArchive(tasks []*domain.Task) error {
	f, err := os.OpenFile(s.archivePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm) //#nosec G304 -- path is constructed internally
	if err != nil {
		return fmt.Errorf("%w: %v", oaerrors.ErrTaskWriteFailed, err)
	}
	defer func() { _ = f.Close() }()

	for _, t := range tasks {
		line, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("%w: %v", oaerrors.ErrTaskWriteFailed, err)
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("%w: %v", oaerrors.ErrTaskWriteFailed, err)
		}
	}
	return f.Sync()
}

// withFileLock holds an exclusive flock on a sidecar lock file for the
// duration of fn, guarding against concurrent processes.
func (s *FileStore) withFileLock(ctx context.Context, fn func() error) error {
	lockPath := s.path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), dirPerm); err != nil {
		return fmt.Errorf("%w: %v", oaerrors.ErrTaskWriteFailed, err)
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, filePerm) //#nosec G304 -- path is constructed internally
	if err != nil {
		return fmt.Errorf("%w: %v", oaerrors.ErrTaskWriteFailed, err)
	}
	defer func() { _ = f.Close() }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := lock.Exclusive(f.Fd()); err == nil {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: flock timeout on %s", oaerrors.ErrTaskWriteFailed, lockPath)
		}
		time.Sleep(50 * time.Millisecond)
	}
	defer func() { _ = lock.Unlock(f.Fd()) }()

	return fn()
}

// remember stores a deep copy as the merge baseline for the task.
func (s *FileStore) remember(t *domain.Task) {
	s.baselines[t.ID] = cloneTask(t)
}

// atomicWrite writes data to path via tmpfile + fsync + rename.
func atomicWrite(path string, data []byte) error {
	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm) //#nosec G304 -- path is constructed internally
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

// findTask returns the task with the given ID, or nil.
func findTask(tasks []*domain.Task, id string) *domain.Task {
	for _, t := range tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// replaceTask swaps the task with a matching ID in place.
func replaceTask(tasks []*domain.Task, t *domain.Task) {
	for i, existing := range tasks {
		if existing.ID == t.ID {
			tasks[i] = t
			return
		}
	}
}

// indexTasks builds an ID index over the slice.
func indexTasks(tasks []*domain.Task) map[string]*domain.Task {
	byID := make(map[string]*domain.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	return byID
}

// isReady reports whether the task is open with every blocks-dep closed.
// A blocks-dep pointing at a missing task is treated as unsatisfied.
func isReady(t *domain.Task, byID map[string]*domain.Task) bool {
	if t.Status != constants.TaskStatusOpen {
		return false
	}
	for _, depID := range t.BlockingDeps() {
		dep, ok := byID[depID]
		if !ok || dep.Status != constants.TaskStatusClosed {
			return false
		}
	}
	return true
}

// sortByPriority orders by ascending priority number, ties by oldest first.
func sortByPriority(tasks []*domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority < tasks[j].Priority
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}

// cloneTask returns a deep copy of a task.
func cloneTask(t *domain.Task) *domain.Task {
	cp := *t
	cp.Labels = append([]string(nil), t.Labels...)
	cp.Deps = append([]domain.Dep(nil), t.Deps...)
	cp.Commits = append([]string(nil), t.Commits...)
	cp.Transitions = append([]domain.Transition(nil), t.Transitions...)
	if t.ClosedAt != nil {
		ts := *t.ClosedAt
		cp.ClosedAt = &ts
	}
	return &cp
}

// Ensure FileStore implements Store.
var _ Store = (*FileStore)(nil)
