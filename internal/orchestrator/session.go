package orchestrator

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openagents/openagents/internal/clock"
	"github.com/openagents/openagents/internal/config"
	"github.com/openagents/openagents/internal/constants"
	"github.com/openagents/openagents/internal/domain"
	oaerrors "github.com/openagents/openagents/internal/errors"
	"github.com/openagents/openagents/internal/git"
	"github.com/openagents/openagents/internal/healer"
	"github.com/openagents/openagents/internal/health"
	"github.com/openagents/openagents/internal/progress"
	"github.com/openagents/openagents/internal/stuck"
	"github.com/openagents/openagents/internal/taskstore"
	"github.com/openagents/openagents/internal/trajectory"
	"github.com/openagents/openagents/internal/worker"
)

// Deps bundles the components a session drives. Worker and Health are
// interfaces so tests script them; everything else is concrete.
type Deps struct {
	Config     config.Project
	Tasks      taskstore.Store
	Trajectory *trajectory.Log
	Worker     healer.WorkerInvoker
	Health     healer.HealthChecker
	Repo       *git.Repo
	Memo       *progress.Memo
	Clock      clock.Clock
	Logger     zerolog.Logger
}

// Session executes one orchestration run over the backlog: pick a task,
// decompose, drive the worker per subtask, verify, heal, commit. A Session
// is single-use.
type Session struct {
	id   string
	deps Deps
	cfg  config.Project

	builder  *healer.ContextBuilder
	engine   *healer.Engine
	detector *stuck.Detector
	counters *domain.Counters

	clock  clock.Clock
	logger zerolog.Logger

	state      State
	stateTrail []StateChange

	task    *domain.Task
	subtask *domain.Subtask
	metrics domain.FinalMetrics
}

// NewSession wires a session around its dependencies. The healing counters,
// spell engine, and context builder are session-owned.
func NewSession(id string, deps Deps) *Session {
	logger := deps.Logger.With().Str("session_id", id).Logger()
	counters := domain.NewCounters()

	spellDeps := &healer.SpellDeps{
		Config: deps.Config,
		Repo:   deps.Repo,
		Memo:   deps.Memo,
		Tasks:  deps.Tasks,
		Health: deps.Health,
		Worker: deps.Worker,
		Clock:  deps.Clock,
		Logger: logger,
	}

	return &Session{
		id:       id,
		deps:     deps,
		cfg:      deps.Config,
		builder:  healer.NewContextBuilder(deps.Repo, deps.Memo, logger),
		engine:   healer.NewEngine(spellDeps, counters, logger),
		detector: stuck.NewDetector(deps.Clock, logger),
		counters: counters,
		clock:    deps.Clock,
		logger:   logger,
		state:    StateIdle,
	}
}

// State returns the current session state.
func (s *Session) State() State {
	return s.state
}

// StateTrail returns the recorded state transitions.
func (s *Session) StateTrail() []StateChange {
	return append([]StateChange(nil), s.stateTrail...)
}

// Counters exposes the session healing counters for inspection.
func (s *Session) Counters() *domain.Counters {
	return s.counters
}

// Run drives tasks from the backlog until none are ready, the context is
// cancelled, or persistence fails fatally. Blocked tasks do not stop the
// run; the loop moves on to the next ready task.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Info().Msg("session started")

	for {
		if err := ctx.Err(); err != nil {
			return s.cancelled(err)
		}

		task, err := s.deps.Tasks.PickNext(ctx, domain.TaskFilter{
			Status: []constants.TaskStatus{constants.TaskStatusOpen},
		})
		if stderrors.Is(err, oaerrors.ErrNoReadyTasks) {
			return s.complete(nil)
		}
		if err != nil {
			if ctx.Err() != nil {
				return s.cancelled(ctx.Err())
			}
			return s.fatal(err)
		}

		if err := s.runTask(ctx, task); err != nil {
			if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
				return s.cancelled(err)
			}
			return s.fatal(err)
		}
	}
}

// runTask drives one task through the full state machine. The returned error
// is always fatal; recoverable failures end with the task blocked and a nil
// return so the session moves on.
func (s *Session) runTask(ctx context.Context, task *domain.Task) error {
	s.task = task
	s.subtask = nil
	defer func() {
		s.task = nil
		s.subtask = nil
	}()

	if err := s.transition(StateTaskSelected, task.ID); err != nil {
		return err
	}

	inProgress := constants.TaskStatusInProgress
	updated, err := s.deps.Tasks.Update(ctx, task.ID, domain.TaskPatch{
		Status: &inProgress,
		Reason: "session " + s.id,
	})
	if err != nil {
		return err
	}
	s.task = updated

	if _, err := s.deps.Trajectory.AppendStep(trajectory.StepInput{
		Source:  constants.StepSourceSystem,
		Message: fmt.Sprintf("task %s selected: %s", updated.ID, updated.Title),
	}, trajectory.StepOptions{}); err != nil {
		return err
	}

	ok, err := s.runInit(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	subtasks := Decompose(updated)
	if err := s.transition(StateDecomposed, fmt.Sprintf("%d subtasks", len(subtasks))); err != nil {
		return err
	}
	if len(subtasks) == 0 {
		return s.block(ctx, domain.HealOutcome{}, "no decomposition possible")
	}
	if _, err := s.deps.Trajectory.AppendStep(trajectory.StepInput{
		Source:  constants.StepSourceSystem,
		Message: fmt.Sprintf("task %s decomposed into %d subtasks", updated.ID, len(subtasks)),
	}, trajectory.StepOptions{}); err != nil {
		return err
	}

	for _, sub := range subtasks {
		done, err := s.runSubtask(ctx, sub)
		if err != nil {
			return err
		}
		if !done {
			return nil
		}

		ok, err := s.scanStuck(ctx, subtasks)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	return s.commit(ctx)
}

// runInit runs the init checks, healing failures until either they pass, the
// policy gate refuses, or healing cannot resolve the failure. A false return
// means the task ended blocked.
func (s *Session) runInit(ctx context.Context) (bool, error) {
	for {
		event := s.initEvent(ctx)
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if event.Success {
			if _, err := s.appendEventStep(event); err != nil {
				return false, err
			}
			return true, nil
		}

		outcome, healed, err := s.handleEvent(ctx, event)
		if err != nil {
			return false, err
		}
		if healed && outcome.Status == domain.HealResolved {
			continue
		}
		reason := "init script failed: " + string(event.FailureType)
		if err := s.block(ctx, outcome, reason); err != nil {
			return false, err
		}
		return false, nil
	}
}

// initEvent runs typecheck then test and folds the result into one
// init_script_complete event. A command that cannot run at all is an
// environment failure.
func (s *Session) initEvent(ctx context.Context) domain.Event {
	event := domain.Event{
		Type:      domain.EventInitScriptComplete,
		Timestamp: s.clock.Now().UTC(),
		TaskID:    s.task.ID,
	}

	checks := []struct {
		kind    health.Kind
		failure domain.FailureType
	}{
		{health.KindTypecheck, domain.FailureTypecheck},
		{health.KindTest, domain.FailureTest},
	}
	for _, check := range checks {
		results, err := s.deps.Health.Run(ctx, check.kind)
		if f := health.FirstFailure(results); f != nil {
			event.FailureType = check.failure
			event.Output = f.Stdout
			event.Stderr = f.Stderr
			return event
		}
		if err != nil {
			event.FailureType = domain.FailureEnvironment
			event.Err = err.Error()
			return event
		}
	}

	event.Success = true
	return event
}

// runSubtask drives one subtask through execution and verification. A false
// return with nil error means the task ended blocked.
func (s *Session) runSubtask(ctx context.Context, sub *domain.Subtask) (bool, error) {
	s.subtask = sub
	defer func() { s.subtask = nil }()

	if err := s.transition(StateExecutingSubtask, sub.ID); err != nil {
		return false, err
	}

	now := s.clock.Now().UTC()
	sub.Status = constants.SubtaskStatusInProgress
	sub.StartedAt = &now

	for {
		result, runErr := s.deps.Worker.RunSubtask(ctx, sub, s.cfg.RootDir, sub.Description, s.workerStep)
		s.accumulate(result)

		if runErr != nil && isFatal(runErr) {
			return false, runErr
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}

		if runErr == nil && !result.Failed() {
			sub.FailureCount = 0
			break
		}

		sub.FailureCount++
		event := domain.Event{
			Type:      domain.EventSubtaskFailed,
			Timestamp: s.clock.Now().UTC(),
			TaskID:    s.task.ID,
			SubtaskID: sub.ID,
			Output:    result.Stderr,
		}
		if runErr != nil {
			event.Err = runErr.Error()
		}

		outcome, healed, err := s.handleEvent(ctx, event)
		if err != nil {
			return false, err
		}
		if healed && outcome.Status == domain.HealResolved {
			continue
		}

		sub.Status = constants.SubtaskStatusFailed
		if err := s.block(ctx, outcome, fmt.Sprintf("subtask %s failed", sub.ID)); err != nil {
			return false, err
		}
		return false, nil
	}

	if err := s.transition(StateVerifying, sub.ID); err != nil {
		return false, err
	}

	for {
		event := s.verifyEvent(ctx, sub)
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if event.Passed {
			if _, err := s.appendEventStep(event); err != nil {
				return false, err
			}
			break
		}

		outcome, healed, err := s.handleEvent(ctx, event)
		if err != nil {
			return false, err
		}
		if healed && outcome.Status == domain.HealResolved {
			continue
		}

		sub.Status = constants.SubtaskStatusFailed
		if err := s.block(ctx, outcome, fmt.Sprintf("verification failed for subtask %s", sub.ID)); err != nil {
			return false, err
		}
		return false, nil
	}

	completedAt := s.clock.Now().UTC()
	sub.Status = constants.SubtaskStatusCompleted
	sub.CompletedAt = &completedAt

	if _, err := s.deps.Trajectory.AppendCheckpoint("subtask " + sub.ID + " verified"); err != nil {
		return false, err
	}
	if err := s.transition(StateSubtaskComplete, sub.ID); err != nil {
		return false, err
	}
	return true, nil
}

// verifyEvent runs the verification checks and folds the result into one
// verification_complete event.
func (s *Session) verifyEvent(ctx context.Context, sub *domain.Subtask) domain.Event {
	event := domain.Event{
		Type:      domain.EventVerificationComplete,
		Timestamp: s.clock.Now().UTC(),
		TaskID:    s.task.ID,
		SubtaskID: sub.ID,
	}

	for _, kind := range []health.Kind{health.KindTypecheck, health.KindTest} {
		results, err := s.deps.Health.Run(ctx, kind)
		if f := health.FirstFailure(results); f != nil {
			event.Output = f.Stdout
			event.Stderr = f.Stderr
			return event
		}
		if err != nil {
			event.Err = err.Error()
			return event
		}
	}

	event.Passed = true
	return event
}

// commit records the task's work: commit a dirty tree, remember the commit
// as green, attach it to the task, and close the task as completed. A commit
// failure leaves the task in_progress for the stuck detector to surface.
func (s *Session) commit(ctx context.Context) error {
	if err := s.transition(StateCommitting, s.task.ID); err != nil {
		return err
	}

	status, statusErr := s.deps.Repo.Status(ctx)
	if statusErr != nil {
		s.logger.Warn().Err(statusErr).Msg("git status before commit failed")
	}

	if statusErr == nil && status.IsDirty {
		for {
			sha, commitErr := s.deps.Repo.CommitAll(ctx, fmt.Sprintf("task %s: %s", s.task.ID, s.task.Title))
			if commitErr == nil {
				s.recordGreen(sha)
				if _, err := s.deps.Tasks.Update(ctx, s.task.ID, domain.TaskPatch{AddCommits: []string{sha}}); err != nil {
					return err
				}
				if _, err := s.deps.Trajectory.AppendStep(trajectory.StepInput{
					Source:  constants.StepSourceSystem,
					Message: fmt.Sprintf("task %s committed as %s", s.task.ID, sha),
				}, trajectory.StepOptions{}); err != nil {
					return err
				}
				break
			}

			event := domain.Event{
				Type:      domain.EventError,
				Timestamp: s.clock.Now().UTC(),
				TaskID:    s.task.ID,
				Err:       commitErr.Error(),
			}
			outcome, healed, err := s.handleEvent(ctx, event)
			if err != nil {
				return err
			}
			if healed && outcome.Status == domain.HealResolved {
				continue
			}
			// The task stays in_progress; the stuck detector surfaces it
			// when the stagnation threshold passes.
			return s.transition(StateIdle, "commit failed")
		}
	}

	if _, err := s.deps.Tasks.Close(ctx, s.task.ID, "completed"); err != nil {
		return err
	}
	if _, err := s.deps.Trajectory.AppendStep(trajectory.StepInput{
		Source:  constants.StepSourceSystem,
		Message: fmt.Sprintf("task %s closed: completed", s.task.ID),
	}, trajectory.StepOptions{}); err != nil {
		return err
	}

	return s.transition(StateIdle, "task completed")
}

// block parks the active task. When a spell already blocked it the session
// only records the fact; otherwise the task is blocked here and a follow-up
// child is created to carry the failure forward.
func (s *Session) block(ctx context.Context, outcome domain.HealOutcome, reason string) error {
	if err := s.transition(StateBlocking, reason); err != nil {
		return err
	}

	followup := ""
	alreadyBlocked := false
	for _, r := range outcome.Results {
		if r.Effects != nil && r.Effects.TaskBlocked {
			alreadyBlocked = true
			followup = r.Effects.FollowupTaskID
		}
	}

	if !alreadyBlocked {
		blocked := constants.TaskStatusBlocked
		if _, err := s.deps.Tasks.Update(ctx, s.task.ID, domain.TaskPatch{
			Status: &blocked,
			Reason: reason,
		}); err != nil {
			return err
		}
		id, err := s.createFollowup(ctx, reason)
		if err != nil {
			return err
		}
		followup = id
	}

	msg := fmt.Sprintf("task %s blocked: %s", s.task.ID, reason)
	if followup != "" {
		msg += " (follow-up " + followup + ")"
	}
	if _, err := s.deps.Trajectory.AppendStep(trajectory.StepInput{
		Source:  constants.StepSourceSystem,
		Message: msg,
	}, trajectory.StepOptions{}); err != nil {
		return err
	}

	return s.transition(StateIdle, "task blocked")
}

// createFollowup creates the child task that tracks a blocked parent.
func (s *Session) createFollowup(ctx context.Context, reason string) (string, error) {
	siblings, err := s.deps.Tasks.List(ctx, domain.TaskFilter{})
	if err != nil {
		return "", err
	}
	ids := make([]string, 0, len(siblings))
	for _, t := range siblings {
		ids = append(ids, t.ID)
	}

	childID := taskstore.NextChildID(s.task.ID, ids)
	if !domain.ValidTaskID(childID) {
		// Child IDs nest at most three levels; beyond that the block is
		// recorded without a follow-up.
		s.logger.Warn().Str("task_id", s.task.ID).Msg("follow-up nesting limit reached")
		return "", nil
	}
	child := &domain.Task{
		ID:          childID,
		Title:       fmt.Sprintf("Unblock %s", s.task.ID),
		Description: "Automatic follow-up for a blocked task.\n\nReason: " + reason,
		Status:      constants.TaskStatusOpen,
		Priority:    s.task.Priority,
		Type:        "chore",
		Labels:      []string{constants.HealerFollowupLabel},
		Deps: []domain.Dep{
			{ID: s.task.ID, Relation: domain.DepDiscoveredFrom},
		},
	}
	if err := s.deps.Tasks.Create(ctx, child); err != nil {
		return "", err
	}

	s.logger.Info().
		Str("task_id", s.task.ID).
		Str("followup_id", childID).
		Msg("follow-up task created")
	return childID, nil
}

// handleEvent persists the event as a trajectory step, consults the policy
// gate, and runs the spell engine when healing is admitted. The session
// returns to the originating state only when the heal resolved the failure;
// otherwise it stays in Healing for the caller to block from.
func (s *Session) handleEvent(ctx context.Context, event domain.Event) (domain.HealOutcome, bool, error) {
	if _, err := s.appendEventStep(event); err != nil {
		return domain.HealOutcome{}, false, err
	}

	decision := healer.Decide(event, s.cfg.Healer, s.counters, event.SubtaskID)
	if !decision.Run {
		s.logger.Info().
			Str("event", string(event.Type)).
			Str("reason", decision.Reason).
			Msg("healing not admitted")
		return domain.HealOutcome{}, false, nil
	}

	prior := s.state
	if err := s.transition(StateHealing, string(decision.Scenario)); err != nil {
		return domain.HealOutcome{}, false, err
	}

	s.counters.SessionInvocations++
	if decision.Scenario.SubtaskScoped() && event.SubtaskID != "" {
		s.counters.SubtaskInvocations[event.SubtaskID]++
	}

	hctx := s.builder.Build(ctx, healer.BuildInput{
		ProjectRoot: s.cfg.RootDir,
		SessionID:   s.id,
		Task:        s.task,
		Subtask:     s.subtask,
		Scenario:    decision.Scenario,
		Trigger:     event,
		Counters:    s.counters,
	})
	plan := healer.Plan(decision.Scenario, s.cfg.Healer.Mode, s.cfg.Healer.Spells, healer.PlanOptions{})
	outcome := s.engine.Execute(ctx, &hctx, plan)

	if err := s.appendHealerStep(decision.Scenario, outcome); err != nil {
		return outcome, true, err
	}

	if outcome.Status == domain.HealResolved {
		if err := s.transition(prior, "healed"); err != nil {
			return outcome, true, err
		}
	}
	return outcome, true, nil
}

// scanStuck runs the stuck detector over the active task and its subtasks
// and routes findings through the same healing path as natural failures.
// A false return with nil error means the task ended blocked.
func (s *Session) scanStuck(ctx context.Context, subtasks []*domain.Subtask) (bool, error) {
	report := s.detector.Scan([]*domain.Task{s.task}, subtasks, stuck.Options{
		TaskThreshold:          s.cfg.Healer.StuckThreshold(),
		SubtaskThreshold:       s.cfg.Healer.StuckThreshold(),
		MinConsecutiveFailures: s.cfg.Healer.MinConsecutiveFailures,
	})

	for _, event := range report.Events() {
		outcome, healed, err := s.handleEvent(ctx, event)
		if err != nil {
			return false, err
		}
		if healed && outcome.Status != domain.HealResolved {
			if err := s.block(ctx, outcome, "stuck: "+event.Err); err != nil {
				return false, err
			}
			return false, nil
		}
	}
	return true, nil
}

// workerStep maps one worker wire event onto a trajectory step.
func (s *Session) workerStep(event worker.Event) error {
	input := trajectory.StepInput{Source: constants.StepSourceWorker}

	switch event.Type {
	case worker.EventStarted:
		input.Message = "worker started"
	case worker.EventToolCall:
		input.Message = "tool call " + event.Name
		input.ToolCalls = []domain.ToolCall{{ID: event.ID, Name: event.Name, Args: event.Args}}
	case worker.EventToolResult:
		input.Message = "tool result"
		input.Observation = &domain.Observation{SourceID: event.SourceID, Content: event.Content}
	case worker.EventMessage:
		input.Message = event.Text
	case worker.EventExit:
		input.Source = constants.StepSourceSystem
		input.Message = "worker exit: " + event.Reason
	case worker.EventFinalMetrics:
		// Folded into the run result and aggregated at session level.
		return nil
	default:
		return nil
	}

	_, err := s.deps.Trajectory.AppendStep(input, trajectory.StepOptions{})
	return err
}

// accumulate folds one worker run into the session metrics.
func (s *Session) accumulate(result worker.RunResult) {
	if result.Metrics != nil {
		s.metrics.Tokens += result.Metrics.Tokens
		s.metrics.CostUSD += result.Metrics.CostUSD
		s.metrics.Turns += result.Metrics.Turns
	}
	s.metrics.WallTimeMS += result.Duration.Milliseconds()
}

// recordGreen stores the commit that passed verification so
// rewind_to_last_green_commit has a target.
func (s *Session) recordGreen(sha string) {
	path := config.GreenCommitPath(s.cfg.RootDir)
	if err := os.WriteFile(path, []byte(sha+"\n"), 0o600); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("recording green commit failed")
	}
}

// appendEventStep persists an orchestrator event into the trajectory before
// any reaction to it.
func (s *Session) appendEventStep(event domain.Event) (domain.Step, error) {
	status := constants.StepStatusCompleted
	msg := string(event.Type)
	errMsg := ""

	switch event.Type {
	case domain.EventInitScriptComplete:
		if event.Success {
			msg = "init script passed"
		} else {
			msg = "init script failed: " + string(event.FailureType)
			status = constants.StepStatusFailed
			errMsg = event.ErrorPayload()
		}
	case domain.EventSubtaskFailed:
		msg = "subtask " + event.SubtaskID + " failed"
		status = constants.StepStatusFailed
		errMsg = event.ErrorPayload()
	case domain.EventVerificationComplete:
		if event.Passed {
			msg = "verification passed"
		} else {
			msg = "verification failed"
			status = constants.StepStatusFailed
			errMsg = event.ErrorPayload()
		}
	case domain.EventError:
		msg = "runtime error"
		status = constants.StepStatusFailed
		errMsg = event.ErrorPayload()
	case domain.EventSubtaskStuck:
		msg = "stuck: " + event.Err
		status = constants.StepStatusFailed
		errMsg = event.Err
	}

	return s.deps.Trajectory.AppendStep(trajectory.StepInput{
		Source:  constants.StepSourceSystem,
		Message: msg,
		Error:   errMsg,
	}, trajectory.StepOptions{Timestamp: event.Timestamp, Status: status})
}

// appendHealerStep persists the folded healing outcome.
func (s *Session) appendHealerStep(scenario domain.Scenario, outcome domain.HealOutcome) error {
	status := constants.StepStatusCompleted
	if outcome.Status == domain.HealUnresolved {
		status = constants.StepStatusFailed
	}

	_, err := s.deps.Trajectory.AppendStep(trajectory.StepInput{
		Source:  constants.StepSourceHealer,
		Message: fmt.Sprintf("healer %s: %s", scenario, outcome.Summary),
	}, trajectory.StepOptions{Status: status})
	return err
}

// complete closes out the trajectory and returns the session's result.
func (s *Session) complete(runErr error) error {
	if err := s.deps.Trajectory.SetFinalMetrics(s.metrics); err != nil {
		s.logger.Warn().Err(err).Msg("writing final metrics failed")
	}

	status := "ok"
	stepStatus := constants.StepStatusCompleted
	errMsg := ""
	if runErr != nil {
		status = "failed"
		stepStatus = constants.StepStatusFailed
		errMsg = runErr.Error()
	}

	if _, err := s.deps.Trajectory.AppendStep(trajectory.StepInput{
		Source:  constants.StepSourceSystem,
		Message: "session complete: " + status,
		Error:   errMsg,
	}, trajectory.StepOptions{Status: stepStatus}); err != nil {
		s.logger.Warn().Err(err).Msg("writing session completion step failed")
	}

	s.logger.Info().Str("status", status).Msg("session finished")
	return runErr
}

// fatal records recovery info so a later session can resume, then closes the
// trajectory as failed. Persistence here is best effort; the original error
// is what the caller needs.
func (s *Session) fatal(err error) error {
	s.logger.Error().Err(err).Msg("session aborting")

	if recErr := s.deps.Trajectory.RecordRecovery(err.Error()); recErr != nil {
		s.logger.Error().Err(recErr).Msg("recording recovery info failed")
	}
	if _, stepErr := s.deps.Trajectory.AppendStep(trajectory.StepInput{
		Source:  constants.StepSourceSystem,
		Message: "session aborted",
		Error:   err.Error(),
	}, trajectory.StepOptions{Status: constants.StepStatusFailed}); stepErr != nil {
		s.logger.Error().Err(stepErr).Msg("writing abort step failed")
	}

	return s.complete(fmt.Errorf("%w: %v", oaerrors.ErrSessionAborted, err))
}

// cancelled records external cancellation and surfaces the cause.
func (s *Session) cancelled(cause error) error {
	if _, err := s.deps.Trajectory.AppendStep(trajectory.StepInput{
		Source:  constants.StepSourceSystem,
		Message: "session cancelled",
		Error:   cause.Error(),
	}, trajectory.StepOptions{Status: constants.StepStatusFailed}); err != nil {
		s.logger.Warn().Err(err).Msg("writing cancellation step failed")
	}
	if err := s.deps.Trajectory.SetFinalMetrics(s.metrics); err != nil {
		s.logger.Warn().Err(err).Msg("writing final metrics failed")
	}

	s.logger.Info().Msg("session cancelled")
	return cause
}

// Decompose splits a task into ordered subtasks. Unchecked markdown
// checklist items in the description each become one subtask; otherwise the
// whole task runs as a single subtask. A task with no usable text cannot be
// decomposed.
func Decompose(task *domain.Task) []*domain.Subtask {
	var items []string
	for _, line := range strings.Split(task.Description, "\n") {
		trimmed := strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(trimmed, "- [ ] "); ok && strings.TrimSpace(rest) != "" {
			items = append(items, strings.TrimSpace(rest))
		}
	}

	if len(items) == 0 {
		text := strings.TrimSpace(task.Title)
		if desc := strings.TrimSpace(task.Description); desc != "" {
			if text != "" {
				text += "\n\n"
			}
			text += desc
		}
		if text == "" {
			return nil
		}
		items = []string{text}
	}

	subtasks := make([]*domain.Subtask, len(items))
	for i, item := range items {
		subtasks[i] = &domain.Subtask{
			ID:          fmt.Sprintf("s%d", i+1),
			TaskID:      task.ID,
			Description: item,
			Status:      constants.SubtaskStatusPending,
		}
	}
	return subtasks
}

// isFatal reports whether an error means session state can no longer be
// trusted and the run must abort.
func isFatal(err error) bool {
	return stderrors.Is(err, oaerrors.ErrTrajectoryIO) ||
		stderrors.Is(err, oaerrors.ErrTrajectoryCorrupt) ||
		stderrors.Is(err, oaerrors.ErrSchemaMismatch) ||
		stderrors.Is(err, oaerrors.ErrTaskReadFailed) ||
		stderrors.Is(err, oaerrors.ErrTaskWriteFailed) ||
		stderrors.Is(err, oaerrors.ErrTaskParseFailed) ||
		stderrors.Is(err, oaerrors.ErrMergeConflict)
}
