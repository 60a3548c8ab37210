package healer

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openagents/openagents/internal/clock"
	"github.com/openagents/openagents/internal/config"
	"github.com/openagents/openagents/internal/constants"
	"github.com/openagents/openagents/internal/domain"
	"github.com/openagents/openagents/internal/git"
	"github.com/openagents/openagents/internal/health"
	"github.com/openagents/openagents/internal/progress"
	"github.com/openagents/openagents/internal/taskstore"
	"github.com/openagents/openagents/internal/worker"
)

// WorkerInvoker re-enters the worker for repair runs. The orchestrator's
// driver satisfies this; tests script it.
type WorkerInvoker interface {
	RunSubtask(ctx context.Context, subtask *domain.Subtask, workdir, instruction string, handler worker.EventHandler) (worker.RunResult, error)
}

// HealthChecker re-runs a health kind after a fixer spell. The health runner
// satisfies this.
type HealthChecker interface {
	Run(ctx context.Context, kind health.Kind) ([]health.Result, error)
}

// SpellDeps bundles everything spell handlers touch. All fields are shared
// with the session; handlers must go through the owning component's API.
type SpellDeps struct {
	Config config.Project
	Repo   *git.Repo
	Memo   *progress.Memo
	Tasks  taskstore.Store
	Health HealthChecker
	Worker WorkerInvoker
	Clock  clock.Clock
	Logger zerolog.Logger
}

// spellHandler executes one spell against the healer context. attempted
// lists the spells already tried in this sequence, for progress summaries.
type spellHandler func(ctx context.Context, deps *SpellDeps, hctx *domain.HealerContext, attempted []domain.Spell) domain.SpellResult

// handlers is the compile-time spell registry.
//
//nolint:gochecknoglobals // compile-time registry
var handlers = map[domain.Spell]spellHandler{
	domain.SpellRewindUncommitted:    rewindUncommitted,
	domain.SpellRewindToGreenCommit:  rewindToGreenCommit,
	domain.SpellMarkBlockedFollowup:  markBlockedWithFollowup,
	domain.SpellUpdateProgress:       updateProgressWithGuidance,
	domain.SpellRunDoctorChecks:      runDoctorChecks,
	domain.SpellFixTypecheckErrors:   fixTypecheckErrors,
	domain.SpellFixTestErrors:        fixTestErrors,
	domain.SpellRetryWithResume:      retryWithResume,
	domain.SpellRetryMinimalSubagent: retryMinimalSubagent,
}

func failure(spell domain.Spell, format string, args ...any) domain.SpellResult {
	return domain.SpellResult{
		Spell:   spell,
		Status:  domain.SpellFailure,
		Summary: fmt.Sprintf(format, args...),
	}
}

// rewindUncommitted discards working-tree modifications and untracked files,
// then re-queries status. Success iff the tree became clean.
func rewindUncommitted(ctx context.Context, deps *SpellDeps, _ *domain.HealerContext, _ []domain.Spell) domain.SpellResult {
	const spell = domain.SpellRewindUncommitted

	if err := deps.Repo.DiscardChanges(ctx); err != nil {
		return failure(spell, "discard failed: %v", err)
	}
	status, err := deps.Repo.Status(ctx)
	if err != nil {
		return failure(spell, "status probe after discard failed: %v", err)
	}
	if status.IsDirty {
		return failure(spell, "working tree still dirty after discard")
	}
	return domain.SpellResult{
		Spell:   spell,
		Status:  domain.SpellSuccess,
		Summary: "working tree rewound to HEAD",
		Effects: &domain.SpellEffects{Resolved: true},
	}
}

// rewindToGreenCommit hard-resets the working branch to the last known-good
// commit, sourced from the health bookkeeping file or the green tag per
// config. Refuses when the branch diverges from remote unless force push is
// allowed.
func rewindToGreenCommit(ctx context.Context, deps *SpellDeps, _ *domain.HealerContext, _ []domain.Spell) domain.SpellResult {
	const spell = domain.SpellRewindToGreenCommit

	sha, err := greenCommitSHA(ctx, deps)
	if err != nil {
		return failure(spell, "green commit lookup failed: %v", err)
	}
	if sha == "" {
		return domain.SpellResult{Spell: spell, Status: domain.SpellSkipped, Summary: "no green commit recorded"}
	}

	if !deps.Config.AllowForcePush {
		diverged, err := deps.Repo.DivergedFromRemote(ctx, deps.Config.DefaultBranch)
		if err != nil {
			return failure(spell, "divergence probe failed: %v", err)
		}
		if diverged {
			return failure(spell, "branch diverged from remote and force push is not allowed")
		}
	}

	if err := deps.Repo.ResetHard(ctx, sha); err != nil {
		return failure(spell, "reset failed: %v", err)
	}
	return domain.SpellResult{
		Spell:   spell,
		Status:  domain.SpellSuccess,
		Summary: "rewound to green commit " + sha,
		Effects: &domain.SpellEffects{Resolved: true},
	}
}

// greenCommitSHA resolves the rewind target per the configured source.
func greenCommitSHA(ctx context.Context, deps *SpellDeps) (string, error) {
	if deps.Config.Healer.GreenCommitSource == config.GreenFromTag {
		return deps.Repo.GreenTag(ctx, constants.GreenTag)
	}
	path := config.GreenCommitPath(deps.Config.RootDir)
	data, err := os.ReadFile(path) //#nosec G304 -- path is constructed internally
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// markBlockedWithFollowup moves the active task to blocked and creates a
// child task describing the failure. Succeeds unless the task store errors.
func markBlockedWithFollowup(ctx context.Context, deps *SpellDeps, hctx *domain.HealerContext, _ []domain.Spell) domain.SpellResult {
	const spell = domain.SpellMarkBlockedFollowup

	if hctx.Task == nil {
		return domain.SpellResult{Spell: spell, Status: domain.SpellSkipped, Summary: "no active task"}
	}

	blocked := constants.TaskStatusBlocked
	reason := fmt.Sprintf("healer: %s", hctx.Heuristics.Scenario)
	if _, err := deps.Tasks.Update(ctx, hctx.Task.ID, domain.TaskPatch{Status: &blocked, Reason: reason}); err != nil {
		return failure(spell, "blocking task failed: %v", err)
	}

	siblings, err := deps.Tasks.List(ctx, domain.TaskFilter{})
	if err != nil {
		return failure(spell, "listing tasks for child id failed: %v", err)
	}
	ids := make([]string, 0, len(siblings))
	for _, t := range siblings {
		ids = append(ids, t.ID)
	}

	childID := taskstore.NextChildID(hctx.Task.ID, ids)
	errSummary := hctx.ErrorOutput
	if len(errSummary) > 500 {
		errSummary = errSummary[:500]
	}
	followup := &domain.Task{
		ID:          childID,
		Title:       fmt.Sprintf("Investigate %s on %s", hctx.Heuristics.Scenario, hctx.Task.ID),
		Description: fmt.Sprintf("Automatic follow-up for a healing attempt that could not resolve the failure.\n\nError output:\n%s", errSummary),
		Status:      constants.TaskStatusOpen,
		Priority:    hctx.Task.Priority,
		Type:        "chore",
		Labels:      []string{constants.HealerFollowupLabel, string(hctx.Heuristics.Scenario)},
		Deps: []domain.Dep{
			{ID: hctx.Task.ID, Relation: domain.DepDiscoveredFrom},
		},
	}
	if err := deps.Tasks.Create(ctx, followup); err != nil {
		return failure(spell, "creating follow-up task failed: %v", err)
	}

	deps.Logger.Info().
		Str("task_id", hctx.Task.ID).
		Str("followup_id", childID).
		Msg("task blocked with follow-up")
	return domain.SpellResult{
		Spell:   spell,
		Status:  domain.SpellSuccess,
		Summary: "task blocked, follow-up " + childID + " created",
		Effects: &domain.SpellEffects{TaskBlocked: true, FollowupTaskID: childID},
	}
}

// updateProgressWithGuidance appends a dated memo block summarizing the
// scenario, detected patterns, and spells attempted so far.
func updateProgressWithGuidance(_ context.Context, deps *SpellDeps, hctx *domain.HealerContext, attempted []domain.Spell) domain.SpellResult {
	const spell = domain.SpellUpdateProgress

	lines := []string{
		fmt.Sprintf("scenario: %s", hctx.Heuristics.Scenario),
		fmt.Sprintf("failure count: %d", hctx.Heuristics.FailureCount),
	}
	if len(hctx.Heuristics.ErrorPatterns) > 0 {
		lines = append(lines, "error patterns: "+strings.Join(hctx.Heuristics.ErrorPatterns, ", "))
	}
	if len(attempted) > 0 {
		names := make([]string, len(attempted))
		for i, s := range attempted {
			names[i] = string(s)
		}
		lines = append(lines, "spells tried: "+strings.Join(names, ", "))
	}
	if hctx.ErrorOutput != "" {
		excerpt := hctx.ErrorOutput
		if len(excerpt) > 300 {
			excerpt = excerpt[:300]
		}
		lines = append(lines, "error excerpt: "+strings.Join(strings.Fields(excerpt), " "))
	}

	heading := fmt.Sprintf("healer guidance (%s)", hctx.Heuristics.Scenario)
	if err := deps.Memo.AppendBlock(heading, lines); err != nil {
		return failure(spell, "memo append failed: %v", err)
	}
	return domain.SpellResult{
		Spell:   spell,
		Status:  domain.SpellSuccess,
		Summary: "guidance appended to progress memo",
		Effects: &domain.SpellEffects{ProgressUpdated: true},
	}
}

// runDoctorChecks audits the project state: backlog parses, config
// validates, health commands are configured. The report lands in the memo.
func runDoctorChecks(ctx context.Context, deps *SpellDeps, _ *domain.HealerContext, _ []domain.Spell) domain.SpellResult {
	const spell = domain.SpellRunDoctorChecks

	var report []string
	healthy := true

	if _, err := deps.Tasks.List(ctx, domain.TaskFilter{}); err != nil {
		healthy = false
		report = append(report, "backlog: FAIL: "+err.Error())
	} else {
		report = append(report, "backlog: ok")
	}

	if err := config.Validate(&deps.Config); err != nil {
		healthy = false
		report = append(report, "config: FAIL: "+err.Error())
	} else {
		report = append(report, "config: ok")
	}

	if len(deps.Config.TypecheckCommands) == 0 && len(deps.Config.TestCommands) == 0 {
		report = append(report, "health commands: none configured")
	} else {
		report = append(report, fmt.Sprintf("health commands: %d typecheck, %d test",
			len(deps.Config.TypecheckCommands), len(deps.Config.TestCommands)))
	}

	if err := deps.Memo.AppendBlock("doctor report", report); err != nil {
		return failure(spell, "writing doctor report failed: %v", err)
	}
	if !healthy {
		return failure(spell, "doctor found problems: %s", strings.Join(report, "; "))
	}
	return domain.SpellResult{
		Spell:   spell,
		Status:  domain.SpellSuccess,
		Summary: "doctor checks passed",
		Effects: &domain.SpellEffects{ProgressUpdated: true},
	}
}

// fixTypecheckErrors re-enters the worker with a curated typecheck-repair
// instruction, then verifies with a fresh typecheck run.
func fixTypecheckErrors(ctx context.Context, deps *SpellDeps, hctx *domain.HealerContext, _ []domain.Spell) domain.SpellResult {
	return fixWithWorker(ctx, deps, hctx, domain.SpellFixTypecheckErrors, health.KindTypecheck,
		"Fix the typecheck errors below without changing behavior.")
}

// fixTestErrors re-enters the worker with a curated test-repair instruction,
// then verifies with a fresh test run.
func fixTestErrors(ctx context.Context, deps *SpellDeps, hctx *domain.HealerContext, _ []domain.Spell) domain.SpellResult {
	return fixWithWorker(ctx, deps, hctx, domain.SpellFixTestErrors, health.KindTest,
		"Fix the failing tests below. Prefer fixing the code under test over editing the tests.")
}

func fixWithWorker(ctx context.Context, deps *SpellDeps, hctx *domain.HealerContext, spell domain.Spell, kind health.Kind, prompt string) domain.SpellResult {
	errSummary := hctx.ErrorOutput
	if len(errSummary) > 2000 {
		errSummary = errSummary[:2000]
	}
	instruction := fmt.Sprintf("%s\n\n%s", prompt, errSummary)

	subtask := healingSubtask(hctx, string(spell))
	result, err := deps.Worker.RunSubtask(ctx, subtask, hctx.ProjectRoot, instruction, nil)
	if err != nil {
		return failure(spell, "repair worker failed: %v", err)
	}
	if result.Failed() {
		return failure(spell, "repair worker did not complete")
	}

	results, err := deps.Health.Run(ctx, kind)
	if err != nil {
		return failure(spell, "%s re-run failed: %v", kind, err)
	}
	if !health.Passed(results) {
		return failure(spell, "%s still failing after repair", kind)
	}
	return domain.SpellResult{
		Spell:   spell,
		Status:  domain.SpellSuccess,
		Summary: fmt.Sprintf("%s passing after repair", kind),
		Effects: &domain.SpellEffects{Resolved: true},
	}
}

// retryWithResume re-enters the worker with the resume profile so it picks
// up its previous conversation.
func retryWithResume(ctx context.Context, deps *SpellDeps, hctx *domain.HealerContext, _ []domain.Spell) domain.SpellResult {
	return retryWorker(ctx, deps, hctx, domain.SpellRetryWithResume, "resume")
}

// retryMinimalSubagent re-enters the worker with the minimal profile: a
// clean context and a narrow instruction.
func retryMinimalSubagent(ctx context.Context, deps *SpellDeps, hctx *domain.HealerContext, _ []domain.Spell) domain.SpellResult {
	return retryWorker(ctx, deps, hctx, domain.SpellRetryMinimalSubagent, "minimal")
}

func retryWorker(ctx context.Context, deps *SpellDeps, hctx *domain.HealerContext, spell domain.Spell, profile string) domain.SpellResult {
	if hctx.Subtask == nil {
		return domain.SpellResult{Spell: spell, Status: domain.SpellSkipped, Summary: "no active subtask"}
	}

	instruction := fmt.Sprintf("profile=%s\n%s", profile, hctx.Subtask.Description)
	result, err := deps.Worker.RunSubtask(ctx, hctx.Subtask, hctx.ProjectRoot, instruction, nil)
	if err != nil {
		return failure(spell, "retry worker failed: %v", err)
	}
	if result.Failed() {
		return failure(spell, "retry worker did not complete")
	}
	return domain.SpellResult{
		Spell:   spell,
		Status:  domain.SpellSuccess,
		Summary: "retry with " + profile + " profile completed",
		Effects: &domain.SpellEffects{Resolved: true},
	}
}

// healingSubtask builds the ephemeral subtask handed to repair workers.
func healingSubtask(hctx *domain.HealerContext, name string) *domain.Subtask {
	taskID := ""
	if hctx.Task != nil {
		taskID = hctx.Task.ID
	}
	return &domain.Subtask{
		ID:     "heal-" + name,
		TaskID: taskID,
		Status: constants.SubtaskStatusInProgress,
	}
}
