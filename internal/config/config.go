// Package config provides configuration management for the OpenAgents core
// with layered precedence.
//
// Configuration sources are loaded in the following order (highest precedence
// first):
//  1. Environment variables (OPENAGENTS_* prefix)
//  2. Project config (<root>/.openagents/project.json)
//  3. User config (~/.openagents/config.yaml)
//  4. Built-in defaults
//
// IMPORTANT: This package may import internal/constants and internal/errors,
// but MUST NOT import internal/domain or other internal packages.
package config

import "time"

// Project is the root configuration for one project root.
type Project struct {
	// ProjectID identifies the project in logs and follow-up tasks.
	ProjectID string `json:"projectId" mapstructure:"projectId"`

	// RootDir is the absolute project root. Defaults to the directory
	// containing .openagents/.
	RootDir string `json:"rootDir" mapstructure:"rootDir"`

	// DefaultBranch is the branch sessions commit to. Default: "main".
	DefaultBranch string `json:"defaultBranch" mapstructure:"defaultBranch"`

	// TypecheckCommands run during init and typecheck verification.
	TypecheckCommands []string `json:"typecheckCommands" mapstructure:"typecheckCommands"`

	// TestCommands run during test verification.
	TestCommands []string `json:"testCommands" mapstructure:"testCommands"`

	// E2ECommands run during end-to-end verification.
	E2ECommands []string `json:"e2eCommands" mapstructure:"e2eCommands"`

	// AllowPush permits pushing the working branch to its remote.
	AllowPush bool `json:"allowPush" mapstructure:"allowPush"`

	// AllowForcePush permits history rewrites when rewinding to a green
	// commit that diverges from the remote.
	AllowForcePush bool `json:"allowForcePush" mapstructure:"allowForcePush"`

	// Healer configures the healing subsystem.
	Healer Healer `json:"healer" mapstructure:"healer"`

	// Worker configures worker subprocess supervision.
	Worker Worker `json:"worker" mapstructure:"worker"`

	// Health configures health command execution.
	Health Health `json:"health" mapstructure:"health"`

	// Session configures session-level behavior (locking).
	Session Session `json:"session" mapstructure:"session"`
}

// HealerMode selects how aggressively spells may mutate the working tree.
type HealerMode string

// Healer mode constants.
const (
	ModeConservative HealerMode = "conservative"
	ModeAggressive   HealerMode = "aggressive"
)

// GreenCommitSource selects where rewind_to_last_green_commit finds its
// target: the last commit recorded as passing health checks, or a tag.
type GreenCommitSource string

// Green commit source constants.
const (
	GreenFromHealth GreenCommitSource = "health"
	GreenFromTag    GreenCommitSource = "tag"
)

// Healer configures the policy gate and spell engine.
type Healer struct {
	// Enabled turns the healing subsystem on. Default: true.
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// MaxInvocationsPerSession caps admitted healings per session.
	// Default: 2.
	MaxInvocationsPerSession int `json:"maxInvocationsPerSession" mapstructure:"maxInvocationsPerSession"`

	// MaxInvocationsPerSubtask caps admitted healings per subtask.
	// Default: 1.
	MaxInvocationsPerSubtask int `json:"maxInvocationsPerSubtask" mapstructure:"maxInvocationsPerSubtask"`

	// Mode selects conservative or aggressive repair. Default: conservative.
	Mode HealerMode `json:"mode" mapstructure:"mode"`

	// StuckThresholdHours is the stagnation threshold for the stuck
	// detector, in hours. Default: 1.
	StuckThresholdHours float64 `json:"stuckThresholdHours" mapstructure:"stuckThresholdHours"`

	// MinConsecutiveFailures triggers a stuck event after this many
	// consecutive failures within one subtask. Default: 3.
	MinConsecutiveFailures int `json:"minConsecutiveFailures" mapstructure:"minConsecutiveFailures"`

	// Scenarios enables or disables healing per failure class.
	Scenarios Scenarios `json:"scenarios" mapstructure:"scenarios"`

	// Spells filters the planned spell sequences.
	Spells SpellFilter `json:"spells" mapstructure:"spells"`

	// GreenCommitSource selects the rewind target source. Default: health.
	GreenCommitSource GreenCommitSource `json:"greenCommitSource" mapstructure:"greenCommitSource"`
}

// Scenarios toggles healing admission per failure class.
type Scenarios struct {
	OnInitFailure         bool `json:"onInitFailure" mapstructure:"onInitFailure"`
	OnVerificationFailure bool `json:"onVerificationFailure" mapstructure:"onVerificationFailure"`
	OnSubtaskFailure      bool `json:"onSubtaskFailure" mapstructure:"onSubtaskFailure"`
	OnRuntimeError        bool `json:"onRuntimeError" mapstructure:"onRuntimeError"`
	OnStuckSubtask        bool `json:"onStuckSubtask" mapstructure:"onStuckSubtask"`
}

// SpellFilter restricts which spells the engine may execute.
// Entries are matched as doublestar globs, so "fix_*" covers both fixer
// spells. A non-empty allow list takes precedence over the forbidden list.
type SpellFilter struct {
	Allowed   []string `json:"allowed" mapstructure:"allowed"`
	Forbidden []string `json:"forbidden" mapstructure:"forbidden"`
}

// Worker configures subtask worker supervision.
type Worker struct {
	// Command is the worker executable invoked per subtask.
	// Default: "openagents-worker".
	Command string `json:"command" mapstructure:"command"`

	// Timeout is the per-subtask wall-clock deadline. Default: 30m.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// GracePeriod is the SIGTERM-to-SIGKILL window. Default: 10s.
	GracePeriod time.Duration `json:"gracePeriod" mapstructure:"gracePeriod"`
}

// Health configures health command execution.
type Health struct {
	// Timeout bounds each health command. Default: 5m.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// Session configures session-level behavior.
type Session struct {
	// LockStaleAfter marks a session lock stale by age. Default: 4h.
	LockStaleAfter time.Duration `json:"lockStaleAfter" mapstructure:"lockStaleAfter"`
}

// StuckThreshold returns the configured stagnation threshold as a duration.
func (h Healer) StuckThreshold() time.Duration {
	return time.Duration(h.StuckThresholdHours * float64(time.Hour))
}

// ScenarioEnabled reports whether healing is enabled for the scenario class
// named by the trigger. Unknown names are disabled.
func (s Scenarios) ScenarioEnabled(class string) bool {
	switch class {
	case "init":
		return s.OnInitFailure
	case "verification":
		return s.OnVerificationFailure
	case "subtask":
		return s.OnSubtaskFailure
	case "runtime":
		return s.OnRuntimeError
	case "stuck":
		return s.OnStuckSubtask
	default:
		return false
	}
}
