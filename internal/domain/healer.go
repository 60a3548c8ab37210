package domain

import "time"

// Scenario is a classified failure mode the policy gate recognizes.
// The set is closed; planning tables are keyed by it.
type Scenario string

// Scenario constants.
const (
	ScenarioInitTypecheckFailure   Scenario = "InitScriptTypecheckFailure"
	ScenarioInitTestFailure        Scenario = "InitScriptTestFailure"
	ScenarioInitEnvironmentFailure Scenario = "InitScriptEnvironmentFailure"
	ScenarioSubtaskFailed          Scenario = "SubtaskFailed"
	ScenarioVerificationFailed     Scenario = "VerificationFailed"
	ScenarioRuntimeError           Scenario = "RuntimeError"
	ScenarioSubtaskStuck           Scenario = "SubtaskStuck"
)

// Scenarios returns the closed scenario set in planning-table order.
func Scenarios() []Scenario {
	return []Scenario{
		ScenarioInitTypecheckFailure,
		ScenarioInitTestFailure,
		ScenarioInitEnvironmentFailure,
		ScenarioSubtaskFailed,
		ScenarioVerificationFailed,
		ScenarioRuntimeError,
		ScenarioSubtaskStuck,
	}
}

// IsValid reports whether the scenario is one of the closed set.
func (s Scenario) IsValid() bool {
	switch s {
	case ScenarioInitTypecheckFailure, ScenarioInitTestFailure,
		ScenarioInitEnvironmentFailure, ScenarioSubtaskFailed,
		ScenarioVerificationFailed, ScenarioRuntimeError, ScenarioSubtaskStuck:
		return true
	default:
		return false
	}
}

// SubtaskScoped reports whether the scenario is rate-limited per subtask
// in addition to per session.
func (s Scenario) SubtaskScoped() bool {
	switch s {
	case ScenarioSubtaskFailed, ScenarioVerificationFailed, ScenarioSubtaskStuck:
		return true
	default:
		return false
	}
}

// Spell is a named repair action with a specific side-effect contract.
// The set is closed; dynamic configurability is limited to allow/deny
// filtering.
type Spell string

// Spell constants.
const (
	SpellRewindUncommitted     Spell = "rewind_uncommitted_changes"
	SpellRewindToGreenCommit   Spell = "rewind_to_last_green_commit"
	SpellMarkBlockedFollowup   Spell = "mark_task_blocked_with_followup"
	SpellUpdateProgress        Spell = "update_progress_with_guidance"
	SpellRunDoctorChecks       Spell = "run_tasks_doctor_like_checks"
	SpellFixTypecheckErrors    Spell = "fix_typecheck_errors"
	SpellFixTestErrors         Spell = "fix_test_errors"
	SpellRetryWithResume       Spell = "retry_with_claude_code_resume"
	SpellRetryMinimalSubagent  Spell = "retry_with_minimal_subagent"
)

// Spells returns the closed spell set.
func Spells() []Spell {
	return []Spell{
		SpellRewindUncommitted,
		SpellRewindToGreenCommit,
		SpellMarkBlockedFollowup,
		SpellUpdateProgress,
		SpellRunDoctorChecks,
		SpellFixTypecheckErrors,
		SpellFixTestErrors,
		SpellRetryWithResume,
		SpellRetryMinimalSubagent,
	}
}

// IsValid reports whether the spell is one of the closed set.
func (s Spell) IsValid() bool {
	for _, v := range Spells() {
		if s == v {
			return true
		}
	}
	return false
}

// CallsLLM reports whether the spell re-enters an LLM-backed worker.
// Callers may exclude these with the NoLLM planning flag.
func (s Spell) CallsLLM() bool {
	switch s {
	case SpellFixTypecheckErrors, SpellFixTestErrors,
		SpellRetryWithResume, SpellRetryMinimalSubagent:
		return true
	default:
		return false
	}
}

// GitStatus is a snapshot of the project working tree.
type GitStatus struct {
	Branch         string   `json:"branch"`
	IsDirty        bool     `json:"is_dirty"`
	ModifiedFiles  []string `json:"modified_files,omitempty"`
	UntrackedFiles []string `json:"untracked_files,omitempty"`
	LastCommitSHA  string   `json:"last_commit_sha,omitempty"`
	LastCommitMsg  string   `json:"last_commit_msg,omitempty"`
}

// Heuristics classifies the failure payload for spell handlers.
type Heuristics struct {
	Scenario          Scenario `json:"scenario"`
	FailureCount      int      `json:"failure_count"`
	IsFlaky           bool     `json:"is_flaky"`
	HasMissingImports bool     `json:"has_missing_imports"`
	HasTypeErrors     bool     `json:"has_type_errors"`
	HasTestAssertions bool     `json:"has_test_assertions"`
	ErrorPatterns     []string `json:"error_patterns,omitempty"`
	PreviousAttempts  int      `json:"previous_attempts"`
}

// HealOutcomeStatus is the folded result of one spell sequence.
type HealOutcomeStatus string

// Heal outcome constants.
const (
	// HealResolved: at least one spell succeeded with effects.resolved.
	HealResolved HealOutcomeStatus = "resolved"

	// HealContained: a spell succeeded but only annotated or parked the
	// failure (marked blocked, wrote progress).
	HealContained HealOutcomeStatus = "contained"

	// HealUnresolved: all spells ran without success.
	HealUnresolved HealOutcomeStatus = "unresolved"

	// HealSkipped: no spell was runnable (all filtered or already tried).
	HealSkipped HealOutcomeStatus = "skipped"
)

// HealingAttempt is one row in the idempotency ledger, keyed by
// (taskID, subtaskID, scenario, errorHash).
type HealingAttempt struct {
	Key             string            `json:"key"`
	Timestamp       time.Time         `json:"timestamp"`
	Outcome         HealOutcomeStatus `json:"outcome"`
	SpellsTried     []Spell           `json:"spells_tried,omitempty"`
	SpellsSucceeded []Spell           `json:"spells_succeeded,omitempty"`
	Summary         string            `json:"summary,omitempty"`
}

// Counters holds per-session healing state. Counters are process-local and
// never persisted; cross-session rate limiting is explicitly a non-goal.
type Counters struct {
	SessionInvocations int                        `json:"session_invocations"`
	SubtaskInvocations map[string]int             `json:"subtask_invocations"`
	SpellsAttempted    map[Spell]int              `json:"spells_attempted"`
	HealingAttempts    map[string]*HealingAttempt `json:"healing_attempts"`
}

// NewCounters returns zeroed counters with initialized maps.
func NewCounters() *Counters {
	return &Counters{
		SubtaskInvocations: make(map[string]int),
		SpellsAttempted:    make(map[Spell]int),
		HealingAttempts:    make(map[string]*HealingAttempt),
	}
}

// Snapshot returns a by-value copy with no aliasing back into the session.
func (c *Counters) Snapshot() Counters {
	out := Counters{
		SessionInvocations: c.SessionInvocations,
		SubtaskInvocations: make(map[string]int, len(c.SubtaskInvocations)),
		SpellsAttempted:    make(map[Spell]int, len(c.SpellsAttempted)),
		HealingAttempts:    make(map[string]*HealingAttempt, len(c.HealingAttempts)),
	}
	for k, v := range c.SubtaskInvocations {
		out.SubtaskInvocations[k] = v
	}
	for k, v := range c.SpellsAttempted {
		out.SpellsAttempted[k] = v
	}
	for k, v := range c.HealingAttempts {
		cp := *v
		out.HealingAttempts[k] = &cp
	}
	return out
}

// HealerContext is the immutable snapshot handed to the spell engine.
// It is owned by the single engine invocation that consumes it.
type HealerContext struct {
	ProjectRoot  string      `json:"project_root"`
	SessionID    string      `json:"session_id"`
	Task         *Task       `json:"task,omitempty"`
	Subtask      *Subtask    `json:"subtask,omitempty"`
	Git          GitStatus   `json:"git"`
	ProgressMemo string      `json:"progress_memo,omitempty"`
	Trigger      Event       `json:"trigger"`
	ErrorOutput  string      `json:"error_output,omitempty"`
	Heuristics   Heuristics  `json:"heuristics"`
	Counters     Counters    `json:"counters"`
	HealingKey   string      `json:"healing_key"`
}

// SpellStatus is the result status of one spell invocation.
type SpellStatus string

// Spell status constants.
const (
	SpellSuccess SpellStatus = "success"
	SpellFailure SpellStatus = "failure"
	SpellSkipped SpellStatus = "skipped"
)

// SpellEffects describes the world-changing side effects of a spell.
type SpellEffects struct {
	// Resolved means the failure condition itself was fixed.
	Resolved bool `json:"resolved"`

	// TaskBlocked means the active task was moved to blocked.
	TaskBlocked bool `json:"task_blocked,omitempty"`

	// FollowupTaskID is the child task created to track the failure.
	FollowupTaskID string `json:"followup_task_id,omitempty"`

	// ProgressUpdated means a guidance block was appended to the memo.
	ProgressUpdated bool `json:"progress_updated,omitempty"`
}

// SpellResult is the outcome of one spell invocation.
type SpellResult struct {
	Spell   Spell         `json:"spell"`
	Status  SpellStatus   `json:"status"`
	Summary string        `json:"summary,omitempty"`
	Effects *SpellEffects `json:"effects,omitempty"`
}

// HealOutcome is the folded result of a spell sequence execution.
type HealOutcome struct {
	Status          HealOutcomeStatus `json:"status"`
	SpellsTried     []Spell           `json:"spells_tried,omitempty"`
	SpellsSucceeded []Spell           `json:"spells_succeeded,omitempty"`
	Results         []SpellResult     `json:"results,omitempty"`
	Summary         string            `json:"summary,omitempty"`
}
