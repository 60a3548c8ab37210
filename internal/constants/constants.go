// Package constants defines shared constant values for the OpenAgents core.
//
// This package follows strict import rules:
//   - CAN import: standard library only
//   - MUST NOT import: any other internal packages
package constants

import "time"

// TrajectorySchemaVersion is the on-disk schema identifier for trajectory files.
const TrajectorySchemaVersion = "ATIF-v1.4"

// TaskSchemaVersion is the current schema version for task records.
const TaskSchemaVersion = 1

// OpenAgentsDir is the per-project state directory name.
const OpenAgentsDir = ".openagents"

// Relative paths under OpenAgentsDir. All project-scoped state lives here;
// the session lock serializes access across processes.
const (
	// ProjectConfigFile is the project configuration document.
	ProjectConfigFile = "project.json"

	// TasksFile is the JSONL task backlog (one task per line).
	TasksFile = "tasks.jsonl"

	// TasksArchiveFile receives archived task lines; tasks are never deleted.
	TasksArchiveFile = "tasks.archive.jsonl"

	// TrajectoriesDir holds one JSON trajectory file per session.
	TrajectoriesDir = "trajectories"

	// ProgressFile is the free-form append-only progress memo.
	ProgressFile = "progress.md"

	// SessionLockFile is the filesystem lock serializing sessions per root.
	SessionLockFile = "session.lock"

	// GreenCommitFile records the last commit known to pass health checks.
	GreenCommitFile = "green-commit"
)

// Healing rate-limit defaults applied when the project config omits them.
const (
	// DefaultSessionHealLimit caps healer invocations per session.
	DefaultSessionHealLimit = 2

	// DefaultSubtaskHealLimit caps healer invocations per subtask.
	DefaultSubtaskHealLimit = 1
)

// Subprocess supervision defaults.
const (
	// DefaultWorkerTimeout bounds a single worker subtask run.
	DefaultWorkerTimeout = 30 * time.Minute

	// DefaultHealthTimeout bounds a single health check command.
	DefaultHealthTimeout = 5 * time.Minute

	// DefaultGracePeriod is the SIGTERM-to-SIGKILL window on cancellation.
	DefaultGracePeriod = 10 * time.Second

	// DefaultLockStaleAfter marks a session lock stale by age even when the
	// holder pid cannot be probed.
	DefaultLockStaleAfter = 4 * time.Hour

	// DefaultStuckThreshold is the task/subtask stagnation threshold.
	DefaultStuckThreshold = 1 * time.Hour

	// DefaultMinConsecutiveFailures is the subtask failure-count stuck trigger.
	DefaultMinConsecutiveFailures = 3
)

// CaptureLimit bounds stdout/stderr capture per stream for health commands.
// Output beyond this is dropped and the result is flagged truncated.
const CaptureLimit = 10 << 20 // 10 MiB

// ErrorHashLimit bounds how much normalized error output feeds the healing
// idempotency hash. The bound keeps the hash deterministic for huge logs.
const ErrorHashLimit = 4 << 10 // 4 KiB

// CLI log file settings. The log lives under ~/.openagents/logs with
// rotation handled by lumberjack.
const (
	CLILogFile    = "openagents.log"
	LogMaxSizeMB  = 10
	LogMaxBackups = 3
	LogMaxAgeDays = 28
)

// GreenTag is the tag name consulted when the green commit source is "tag".
const GreenTag = "openagents-green"

// HealerFollowupLabel marks follow-up tasks created by the healer.
const HealerFollowupLabel = "healer-followup"
