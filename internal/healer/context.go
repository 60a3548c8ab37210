package healer

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openagents/openagents/internal/domain"
	"github.com/openagents/openagents/internal/git"
	"github.com/openagents/openagents/internal/progress"
)

// ContextBuilder assembles the immutable HealerContext handed to the spell
// engine. All probes are best-effort: an individual failure degrades into an
// empty field and never aborts construction.
type ContextBuilder struct {
	repo   *git.Repo
	memo   *progress.Memo
	logger zerolog.Logger
}

// NewContextBuilder creates a ContextBuilder over the project's git repo and
// progress memo.
func NewContextBuilder(repo *git.Repo, memo *progress.Memo, logger zerolog.Logger) *ContextBuilder {
	return &ContextBuilder{repo: repo, memo: memo, logger: logger}
}

// BuildInput carries the session-owned state the builder snapshots.
type BuildInput struct {
	ProjectRoot string
	SessionID   string
	Task        *domain.Task
	Subtask     *domain.Subtask
	Scenario    domain.Scenario
	Trigger     domain.Event
	Counters    *domain.Counters
}

// Build captures the world into a HealerContext. The counters snapshot is
// copied by value; nothing in the returned context aliases session state.
func (b *ContextBuilder) Build(ctx context.Context, in BuildInput) domain.HealerContext {
	hctx := domain.HealerContext{
		ProjectRoot: in.ProjectRoot,
		SessionID:   in.SessionID,
		Task:        in.Task,
		Subtask:     in.Subtask,
		Trigger:     in.Trigger,
		Counters:    in.Counters.Snapshot(),
	}

	gitStatus, err := b.repo.Status(ctx)
	if err != nil {
		b.logger.Debug().Err(err).Msg("git status probe failed, degrading to empty")
	} else {
		hctx.Git = gitStatus
	}

	memo, err := b.memo.Read()
	if err != nil {
		b.logger.Debug().Err(err).Msg("progress memo probe failed, degrading to empty")
	} else {
		hctx.ProgressMemo = memo
	}

	hctx.ErrorOutput = in.Trigger.ErrorPayload()

	var (
		failureCount int
		subtaskID    string
	)
	if in.Subtask != nil {
		failureCount = in.Subtask.FailureCount
		subtaskID = in.Subtask.ID
	}
	var taskID string
	if in.Task != nil {
		taskID = in.Task.ID
	}

	prefix := keyPrefix(taskID, subtaskID, in.Scenario)
	previousAttempts := 0
	for key := range hctx.Counters.HealingAttempts {
		if strings.HasPrefix(key, prefix) {
			previousAttempts++
		}
	}

	hctx.Heuristics = DeriveHeuristics(in.Scenario, hctx.ErrorOutput, failureCount, previousAttempts)
	hctx.HealingKey = HealingKey(taskID, subtaskID, in.Scenario, ErrorHash(hctx.ErrorOutput))
	return hctx
}
