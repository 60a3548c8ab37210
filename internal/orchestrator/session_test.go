package orchestrator

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openagents/openagents/internal/clock"
	"github.com/openagents/openagents/internal/config"
	"github.com/openagents/openagents/internal/constants"
	"github.com/openagents/openagents/internal/domain"
	oaerrors "github.com/openagents/openagents/internal/errors"
	"github.com/openagents/openagents/internal/git"
	"github.com/openagents/openagents/internal/health"
	"github.com/openagents/openagents/internal/progress"
	"github.com/openagents/openagents/internal/taskstore"
	"github.com/openagents/openagents/internal/trajectory"
	"github.com/openagents/openagents/internal/worker"
)

const testSessionID = "01ARZ3NDEKTSV4RRFFQ69G5FAV"

// scriptedGit answers git invocations from a map keyed by the joined args.
type scriptedGit struct {
	responses map[string]string
	errs      map[string]error
}

func (s *scriptedGit) Run(_ context.Context, _ string, args ...string) (string, error) {
	key := strings.Join(args, " ")
	if err := s.errs[key]; err != nil {
		return "", err
	}
	return s.responses[key], nil
}

func cleanTree() *scriptedGit {
	return &scriptedGit{
		responses: map[string]string{
			"rev-parse --is-inside-work-tree": "true",
			"rev-parse --abbrev-ref HEAD":     "main",
			"status --porcelain":              "",
			"log -1 --format=%H|%s":           "deadbeef|previous work",
		},
		errs: map[string]error{},
	}
}

func dirtyTreeCommitting(message, sha string) *scriptedGit {
	return &scriptedGit{
		responses: map[string]string{
			"rev-parse --is-inside-work-tree": "true",
			"rev-parse --abbrev-ref HEAD":     "main",
			"status --porcelain":              " M main.go",
			"add -A":                          "",
			"commit -m " + message:            "",
			"log -1 --format=%H|%s":           sha + "|" + message,
		},
		errs: map[string]error{},
	}
}

// fakeHealth pops an exit code per kind from a queue; an exhausted queue
// passes.
type fakeHealth struct {
	codes map[health.Kind][]int
	calls int
}

func (f *fakeHealth) Run(_ context.Context, kind health.Kind) ([]health.Result, error) {
	f.calls++
	code := 0
	if q := f.codes[kind]; len(q) > 0 {
		code = q[0]
		f.codes[kind] = q[1:]
	}
	result := health.Result{Kind: kind, Command: "scripted", ExitCode: code}
	if code != 0 {
		result.Stderr = "1 test failed"
	}
	return []health.Result{result}, nil
}

// fakeWorker pops a result per call from a queue; an exhausted queue
// completes successfully. Scripted wire events are replayed to the handler
// on every call.
type fakeWorker struct {
	results []worker.RunResult
	events  []worker.Event
	calls   int
}

func (f *fakeWorker) RunSubtask(_ context.Context, _ *domain.Subtask, _, _ string, handler worker.EventHandler) (worker.RunResult, error) {
	i := f.calls
	f.calls++

	if handler != nil {
		for _, ev := range f.events {
			if err := handler(ev); err != nil {
				return worker.RunResult{ExitCode: -1}, err
			}
		}
	}

	if i < len(f.results) {
		return f.results[i], nil
	}
	return worker.RunResult{ExitCode: 0, Completed: true}, nil
}

type sessionFixture struct {
	session *Session
	tasks   *taskstore.FileStore
	traj    *trajectory.Log
	dir     string
	clk     clock.Fixed
}

func newSessionFixture(t *testing.T, gitRunner git.Commander, w *fakeWorker, h *fakeHealth) *sessionFixture {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(config.StateDir(dir), 0o750))

	clk := clock.Fixed{T: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	tasks := taskstore.NewFileStore(
		config.TasksPath(dir),
		config.TasksArchivePath(dir),
		clk, zerolog.Nop(),
	)
	traj, err := trajectory.Open(
		config.TrajectoryPath(dir, testSessionID),
		testSessionID, "openagents", clk, zerolog.Nop(),
	)
	require.NoError(t, err)

	cfg := config.Project{
		ProjectID:     "test",
		RootDir:       dir,
		DefaultBranch: "main",
		Healer: config.Healer{
			Enabled:                  true,
			MaxInvocationsPerSession: 2,
			MaxInvocationsPerSubtask: 1,
			Mode:                     config.ModeConservative,
			StuckThresholdHours:      1,
			MinConsecutiveFailures:   3,
			GreenCommitSource:        config.GreenFromHealth,
			Scenarios: config.Scenarios{
				OnInitFailure:         true,
				OnVerificationFailure: true,
				OnSubtaskFailure:      true,
				OnRuntimeError:        true,
				OnStuckSubtask:        true,
			},
		},
	}

	session := NewSession(testSessionID, Deps{
		Config:     cfg,
		Tasks:      tasks,
		Trajectory: traj,
		Worker:     w,
		Health:     h,
		Repo:       git.NewRepo(dir, gitRunner, zerolog.Nop()),
		Memo:       progress.NewMemo(config.ProgressPath(dir), clk),
		Clock:      clk,
		Logger:     zerolog.Nop(),
	})
	return &sessionFixture{session: session, tasks: tasks, traj: traj, dir: dir, clk: clk}
}

func createTask(t *testing.T, fix *sessionFixture, task *domain.Task) {
	t.Helper()
	require.NoError(t, fix.tasks.Create(context.Background(), task))
}

func TestSessionRunHappyPath(t *testing.T) {
	ctx := context.Background()
	message := "task oa-abc123: Fix parser crash"

	w := &fakeWorker{
		results: []worker.RunResult{{
			ExitCode:  0,
			Completed: true,
			Metrics:   &domain.FinalMetrics{Tokens: 1200, CostUSD: 0.42, Turns: 7},
			Duration:  2 * time.Second,
		}},
		events: []worker.Event{
			{Type: worker.EventStarted},
			{Type: worker.EventToolCall, ID: "t1", Name: "edit_file", Args: map[string]any{"path": "main.go"}},
			{Type: worker.EventToolResult, SourceID: "t1", Content: "ok"},
			{Type: worker.EventMessage, Text: "done"},
			{Type: worker.EventExit, Reason: worker.ExitReasonCompleted},
		},
	}
	fix := newSessionFixture(t, dirtyTreeCommitting(message, "c0ffee12"), w, &fakeHealth{})
	createTask(t, fix, &domain.Task{ID: "oa-abc123", Title: "Fix parser crash", Priority: 1})

	require.NoError(t, fix.session.Run(ctx))

	task, err := fix.tasks.Get(ctx, "oa-abc123")
	require.NoError(t, err)
	assert.Equal(t, constants.TaskStatusClosed, task.Status)
	assert.Equal(t, "completed", task.CloseReason)
	assert.Equal(t, []string{"c0ffee12"}, task.Commits)

	green, err := os.ReadFile(config.GreenCommitPath(fix.dir))
	require.NoError(t, err)
	assert.Equal(t, "c0ffee12", strings.TrimSpace(string(green)))

	doc := fix.traj.Snapshot()
	require.NotNil(t, doc.FinalMetrics)
	assert.Equal(t, int64(1200), doc.FinalMetrics.Tokens)
	assert.Equal(t, 7, doc.FinalMetrics.Turns)
	require.NotEmpty(t, doc.Checkpoints)
	assert.Equal(t, "subtask s1 verified", doc.Checkpoints[0].Label)

	var sawToolCall, sawObservation bool
	for _, step := range doc.Steps {
		if len(step.ToolCalls) > 0 {
			sawToolCall = true
		}
		if step.Observation != nil {
			sawObservation = true
		}
	}
	assert.True(t, sawToolCall)
	assert.True(t, sawObservation)
	assert.Equal(t, "session complete: ok", doc.Steps[len(doc.Steps)-1].Message)
	assert.Equal(t, StateIdle, fix.session.State())
}

func TestSessionRunEmptyBacklog(t *testing.T) {
	fix := newSessionFixture(t, cleanTree(), &fakeWorker{}, &fakeHealth{})

	require.NoError(t, fix.session.Run(context.Background()))

	doc := fix.traj.Snapshot()
	require.NotEmpty(t, doc.Steps)
	assert.Equal(t, "session complete: ok", doc.Steps[len(doc.Steps)-1].Message)
}

func TestSessionVerificationFailureHealsAndRetries(t *testing.T) {
	ctx := context.Background()

	// Init passes both kinds, then the verification test run fails once.
	h := &fakeHealth{codes: map[health.Kind][]int{
		health.KindTest: {0, 1},
	}}
	fix := newSessionFixture(t, cleanTree(), &fakeWorker{}, h)
	createTask(t, fix, &domain.Task{ID: "oa-abc123", Title: "Fix flaky save", Priority: 1})

	require.NoError(t, fix.session.Run(ctx))

	task, err := fix.tasks.Get(ctx, "oa-abc123")
	require.NoError(t, err)
	assert.Equal(t, constants.TaskStatusClosed, task.Status)
	assert.Equal(t, "completed", task.CloseReason)

	counters := fix.session.Counters()
	assert.Equal(t, 1, counters.SessionInvocations)
	assert.Equal(t, 1, counters.SubtaskInvocations["s1"])
	assert.Equal(t, 1, counters.SpellsAttempted[domain.SpellRewindUncommitted])

	var healed bool
	for _, step := range fix.traj.Snapshot().Steps {
		if step.Source == constants.StepSourceHealer {
			healed = true
			assert.Contains(t, step.Message, "resolved")
		}
	}
	assert.True(t, healed)
}

func TestSessionRepeatedWorkerFailureBlocksWithFollowup(t *testing.T) {
	ctx := context.Background()

	// Every worker run ends without the completion marker.
	w := &fakeWorker{results: []worker.RunResult{
		{ExitCode: 0}, {ExitCode: 0}, {ExitCode: 0}, {ExitCode: 0},
		{ExitCode: 0}, {ExitCode: 0}, {ExitCode: 0}, {ExitCode: 0},
	}}
	// Keep the queue failing past any retry.
	w.results = append(w.results, w.results...)
	fix := newSessionFixture(t, cleanTree(), w, &fakeHealth{})
	createTask(t, fix, &domain.Task{ID: "oa-abc123", Title: "Impossible task", Priority: 1})

	require.NoError(t, fix.session.Run(ctx))

	// The original task blocks and the session walks the follow-up chain
	// until the child ID nesting limit stops it.
	for _, id := range []string{"oa-abc123", "oa-abc123.1", "oa-abc123.1.1", "oa-abc123.1.1.1"} {
		task, err := fix.tasks.Get(ctx, id)
		require.NoError(t, err, id)
		assert.Equal(t, constants.TaskStatusBlocked, task.Status, id)
	}
	_, err := fix.tasks.Get(ctx, "oa-abc123.1.1.1.1")
	require.ErrorIs(t, err, oaerrors.ErrTaskNotFound)

	// The session healing budget admits exactly two heals.
	assert.Equal(t, 2, fix.session.Counters().SessionInvocations)
}

func TestSessionInitFailureBlocksAndFollowupRecovers(t *testing.T) {
	ctx := context.Background()

	// Typecheck fails at init and again after the fixer spell's repair run,
	// then stays green for the follow-up task.
	h := &fakeHealth{codes: map[health.Kind][]int{
		health.KindTypecheck: {1, 1},
	}}
	fix := newSessionFixture(t, cleanTree(), &fakeWorker{}, h)
	createTask(t, fix, &domain.Task{ID: "oa-abc123", Title: "Upgrade toolchain", Priority: 1})

	require.NoError(t, fix.session.Run(ctx))

	task, err := fix.tasks.Get(ctx, "oa-abc123")
	require.NoError(t, err)
	assert.Equal(t, constants.TaskStatusBlocked, task.Status)

	followup, err := fix.tasks.Get(ctx, "oa-abc123.1")
	require.NoError(t, err)
	assert.True(t, followup.HasLabel(constants.HealerFollowupLabel))
	assert.Equal(t, constants.TaskStatusClosed, followup.Status)
	assert.Equal(t, "completed", followup.CloseReason)

	memo, err := os.ReadFile(config.ProgressPath(fix.dir))
	require.NoError(t, err)
	assert.Contains(t, string(memo), "healer guidance")

	assert.Equal(t, 1, fix.session.Counters().SessionInvocations)
}

func TestSessionCommitFailureHealsThenLeavesTaskInProgress(t *testing.T) {
	ctx := context.Background()

	// Subtask and verification pass, the tree is dirty, and every commit
	// attempt is rejected. Discarding changes does not clean the tree, so
	// the rewind spell fails and the heal folds to contained.
	message := "task oa-abc123: Release notes"
	g := &scriptedGit{
		responses: map[string]string{
			"rev-parse --is-inside-work-tree": "true",
			"rev-parse --abbrev-ref HEAD":     "main",
			"status --porcelain":              " M main.go",
			"add -A":                          "",
			"restore .":                       "",
			"clean -fd":                       "",
			"log -1 --format=%H|%s":           "deadbeef|previous work",
		},
		errs: map[string]error{
			"commit -m " + message: errors.New("pre-commit hook rejected the commit"),
		},
	}
	fix := newSessionFixture(t, g, &fakeWorker{}, &fakeHealth{})
	createTask(t, fix, &domain.Task{ID: "oa-abc123", Title: "Release notes", Priority: 1})

	require.NoError(t, fix.session.Run(ctx))

	// The task is neither closed nor blocked; the stuck detector owns it now.
	task, err := fix.tasks.Get(ctx, "oa-abc123")
	require.NoError(t, err)
	assert.Equal(t, constants.TaskStatusInProgress, task.Status)
	assert.Empty(t, task.Commits)
	_, err = fix.tasks.Get(ctx, "oa-abc123.1")
	require.ErrorIs(t, err, oaerrors.ErrTaskNotFound)
	assert.Equal(t, StateIdle, fix.session.State())

	counters := fix.session.Counters()
	assert.Equal(t, 1, counters.SessionInvocations)
	assert.Equal(t, 1, counters.SpellsAttempted[domain.SpellRewindUncommitted])
	assert.Equal(t, 1, counters.SpellsAttempted[domain.SpellUpdateProgress])
	assert.Zero(t, counters.SpellsAttempted[domain.SpellMarkBlockedFollowup])

	var sawError, sawHealer bool
	for _, step := range fix.traj.Snapshot().Steps {
		if step.Message == "runtime error" {
			sawError = true
			assert.Equal(t, constants.StepStatusFailed, step.Status)
		}
		if step.Source == constants.StepSourceHealer {
			sawHealer = true
			assert.Contains(t, step.Message, "RuntimeError")
			assert.Contains(t, step.Message, "contained")
		}
	}
	assert.True(t, sawError)
	assert.True(t, sawHealer)

	memo, err := os.ReadFile(config.ProgressPath(fix.dir))
	require.NoError(t, err)
	assert.Contains(t, string(memo), "healer guidance")
}

func TestSessionBlocksTaskWithNoDecomposition(t *testing.T) {
	ctx := context.Background()

	fix := newSessionFixture(t, cleanTree(), &fakeWorker{}, &fakeHealth{})
	createTask(t, fix, &domain.Task{ID: "oa-abc123", Priority: 1})

	require.NoError(t, fix.session.Run(ctx))

	task, err := fix.tasks.Get(ctx, "oa-abc123")
	require.NoError(t, err)
	assert.Equal(t, constants.TaskStatusBlocked, task.Status)
}

func TestSessionCancellation(t *testing.T) {
	fix := newSessionFixture(t, cleanTree(), &fakeWorker{}, &fakeHealth{})
	createTask(t, fix, &domain.Task{ID: "oa-abc123", Title: "Never started", Priority: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := fix.session.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	doc := fix.traj.Snapshot()
	require.NotEmpty(t, doc.Steps)
	assert.Equal(t, "session cancelled", doc.Steps[len(doc.Steps)-1].Message)
}

func TestSessionFatalBacklogCorruption(t *testing.T) {
	fix := newSessionFixture(t, cleanTree(), &fakeWorker{}, &fakeHealth{})
	require.NoError(t, os.WriteFile(config.TasksPath(fix.dir), []byte("{not json\n"), 0o600))

	err := fix.session.Run(context.Background())
	require.ErrorIs(t, err, oaerrors.ErrSessionAborted)

	doc := fix.traj.Snapshot()
	require.NotNil(t, doc.RecoveryInfo)
	require.NotEmpty(t, doc.Steps)
	last := doc.Steps[len(doc.Steps)-1]
	assert.Equal(t, "session complete: failed", last.Message)
	assert.Equal(t, constants.StepStatusFailed, last.Status)
}

func TestDecompose(t *testing.T) {
	t.Run("checklist items become subtasks", func(t *testing.T) {
		task := &domain.Task{
			ID:    "oa-abc123",
			Title: "Refactor storage",
			Description: "Plan:\n- [ ] extract the codec\n- [x] already done\n- [ ] add merge tests\n",
		}
		subs := Decompose(task)
		require.Len(t, subs, 2)
		assert.Equal(t, "s1", subs[0].ID)
		assert.Equal(t, "extract the codec", subs[0].Description)
		assert.Equal(t, "s2", subs[1].ID)
		assert.Equal(t, "add merge tests", subs[1].Description)
		assert.Equal(t, constants.SubtaskStatusPending, subs[0].Status)
	})

	t.Run("plain task runs as a single subtask", func(t *testing.T) {
		task := &domain.Task{ID: "oa-abc123", Title: "Fix crash", Description: "See stack trace."}
		subs := Decompose(task)
		require.Len(t, subs, 1)
		assert.Equal(t, "Fix crash\n\nSee stack trace.", subs[0].Description)
	})

	t.Run("empty task cannot be decomposed", func(t *testing.T) {
		assert.Nil(t, Decompose(&domain.Task{ID: "oa-abc123"}))
	})
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateIdle, StateTaskSelected, true},
		{StateTaskSelected, StateDecomposed, true},
		{StateExecutingSubtask, StateVerifying, true},
		{StateVerifying, StateHealing, true},
		{StateHealing, StateVerifying, true},
		{StateHealing, StateBlocking, true},
		{StateCommitting, StateIdle, true},
		{StateCommitting, StateHealing, true},
		{StateHealing, StateCommitting, true},
		{StateHealing, StateIdle, true},
		{StateIdle, StateCommitting, false},
		{StateBlocking, StateTaskSelected, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, canTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}
