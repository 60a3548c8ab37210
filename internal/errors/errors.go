// Package errors provides centralized error handling for OpenAgents.
//
// This package defines sentinel errors used for programmatic error categorization
// throughout the application. All error types can be checked using errors.Is().
//
// IMPORTANT: This package MUST NOT import any other internal packages.
// Only standard library imports are allowed.
package errors

import "errors"

// Sentinel errors for error categorization.
// These allow callers to check error types with errors.Is().
// All errors use lowercase descriptions per Go conventions.
var (
	// ErrTaskNotFound indicates the requested task does not exist in the store.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskExists indicates an attempt to create a task with an ID that
	// already exists in the store.
	ErrTaskExists = errors.New("task already exists")

	// ErrTaskReadFailed indicates the task file could not be read.
	ErrTaskReadFailed = errors.New("task store read failed")

	// ErrTaskParseFailed indicates a task line could not be parsed as JSON.
	ErrTaskParseFailed = errors.New("task store parse failed")

	// ErrTaskWriteFailed indicates the task file could not be written.
	ErrTaskWriteFailed = errors.New("task store write failed")

	// ErrMergeConflict indicates a three-way merge could not be resolved
	// because both sides closed the task with different reasons.
	ErrMergeConflict = errors.New("task merge conflict")

	// ErrInvalidTaskID indicates a task ID does not match the required
	// hierarchical format (prefix-xxxxxx with up to 3 child levels).
	ErrInvalidTaskID = errors.New("invalid task id")

	// ErrInvalidTransition indicates an attempted task status transition
	// that is not permitted by the state machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrTrajectoryIO indicates a trajectory file read or write failed.
	ErrTrajectoryIO = errors.New("trajectory io failed")

	// ErrTrajectoryCorrupt indicates the trajectory file contains invalid JSON.
	ErrTrajectoryCorrupt = errors.New("trajectory file corrupt")

	// ErrSchemaMismatch indicates a trajectory file with an unsupported
	// schema version.
	ErrSchemaMismatch = errors.New("trajectory schema mismatch")

	// ErrWorkerSpawn indicates the worker process could not be started.
	ErrWorkerSpawn = errors.New("worker spawn failed")

	// ErrWorkerTimeout indicates the worker exceeded its subtask deadline.
	ErrWorkerTimeout = errors.New("worker timeout")

	// ErrWorkerExit indicates the worker exited with a non-zero status.
	ErrWorkerExit = errors.New("worker exited non-zero")

	// ErrWorkerProtocol indicates the worker emitted an event that does not
	// match the expected NDJSON event shapes.
	ErrWorkerProtocol = errors.New("worker protocol violation")

	// ErrHealthCommandFailed indicates a health check command exited non-zero.
	ErrHealthCommandFailed = errors.New("health command failed")

	// ErrHealthTimeout indicates a health check command exceeded its timeout.
	ErrHealthTimeout = errors.New("health command timeout")

	// ErrPolicyDenied indicates the policy gate declined to admit a healing
	// scenario (disabled, or a rate limit was reached).
	ErrPolicyDenied = errors.New("healing policy denied")

	// ErrContextBuildFailed indicates the healer context could not be assembled.
	ErrContextBuildFailed = errors.New("healer context build failed")

	// ErrSpellFailed indicates a spell handler returned a failure.
	ErrSpellFailed = errors.New("spell failed")

	// ErrSpellCancelled indicates a spell was interrupted by cancellation.
	ErrSpellCancelled = errors.New("spell cancelled")

	// ErrUnknownScenario indicates a scenario value outside the closed set.
	ErrUnknownScenario = errors.New("unknown healing scenario")

	// ErrUnknownSpell indicates a spell value outside the closed set.
	ErrUnknownSpell = errors.New("unknown spell")

	// ErrLockContested indicates another live session holds the project lock.
	ErrLockContested = errors.New("session lock contested")

	// ErrLockStale indicates a stale lock file that could not be removed.
	ErrLockStale = errors.New("stale session lock not removable")

	// ErrGitOperation indicates that a git command failed during execution.
	ErrGitOperation = errors.New("git operation failed")

	// ErrNotGitRepo indicates the project root is not a git repository.
	ErrNotGitRepo = errors.New("not a git repository")

	// ErrBranchDiverged indicates the working branch diverged from its remote
	// and the operation refused to proceed without force.
	ErrBranchDiverged = errors.New("branch diverged from remote")

	// ErrConfigNotFound indicates the project configuration file was not found.
	ErrConfigNotFound = errors.New("project config not found")

	// ErrConfigInvalid indicates a configuration value failed validation.
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrEmptyValue indicates that a required value was empty.
	ErrEmptyValue = errors.New("value cannot be empty")

	// ErrValueOutOfRange indicates that a value is outside the allowed range.
	ErrValueOutOfRange = errors.New("value out of range")

	// ErrInvalidArgument indicates an argument that is structurally invalid.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidOutputFormat indicates an invalid output format was specified.
	ErrInvalidOutputFormat = errors.New("invalid output format")

	// ErrNoReadyTasks indicates the backlog holds no ready task to pick.
	ErrNoReadyTasks = errors.New("no ready tasks")

	// ErrSessionAborted indicates the session terminated on a fatal
	// storage or trajectory error.
	ErrSessionAborted = errors.New("session aborted")

	// ErrNotImplemented indicates a reserved command or operation that is
	// intentionally not implemented.
	ErrNotImplemented = errors.New("not implemented")

	// ErrStuckDetected indicates a stuck scan found stagnant tasks or
	// subtasks. Used by the CLI to exit non-zero.
	ErrStuckDetected = errors.New("stuck tasks detected")
)
