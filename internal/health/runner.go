// Package health executes the project-configured shell checks (typecheck,
// test, e2e) and classifies their outcomes for the orchestrator.
package health

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/openagents/openagents/internal/constants"
	oaerrors "github.com/openagents/openagents/internal/errors"
)

// Kind names a health check category. Commands come from project config.
type Kind string

// Health check kinds.
const (
	KindTypecheck Kind = "typecheck"
	KindTest      Kind = "test"
	KindE2E       Kind = "e2e"
)

// Result is the outcome of one health command.
type Result struct {
	Kind            Kind          `json:"kind"`
	Command         string        `json:"command"`
	ExitCode        int           `json:"exit_code"`
	Stdout          string        `json:"stdout,omitempty"`
	Stderr          string        `json:"stderr,omitempty"`
	StdoutTruncated bool          `json:"stdout_truncated,omitempty"`
	StderrTruncated bool          `json:"stderr_truncated,omitempty"`
	Duration        time.Duration `json:"duration"`
}

// Passed reports whether the command exited zero.
func (r Result) Passed() bool {
	return r.ExitCode == 0
}

// CommandRunner executes one shell command and returns its exit code and
// bounded output streams. Implementations are swapped out in tests.
type CommandRunner interface {
	Run(ctx context.Context, dir, command string) (exitCode int, stdout, stderr *BoundedBuffer, err error)
}

// ShellRunner executes commands through `sh -c` with the inherited
// environment.
type ShellRunner struct{}

// Run executes the command, capping each output stream at the capture limit.
func (ShellRunner) Run(ctx context.Context, dir, command string) (int, *BoundedBuffer, *BoundedBuffer, error) {
	stdout := NewBoundedBuffer(constants.CaptureLimit)
	stderr := NewBoundedBuffer(constants.CaptureLimit)

	cmd := exec.CommandContext(ctx, "sh", "-c", command) //#nosec G204 -- command comes from project config
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	if err == nil {
		return 0, stdout, stderr, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), stdout, stderr, nil
	}
	return -1, stdout, stderr, err
}

// Runner executes configured health commands for a working directory.
type Runner struct {
	workdir  string
	timeout  time.Duration
	commands map[Kind][]string
	runner   CommandRunner
	logger   zerolog.Logger
}

// NewRunner creates a health Runner. commands maps each kind to its ordered
// command list from project config; a zero timeout falls back to the default.
func NewRunner(workdir string, timeout time.Duration, commands map[Kind][]string, runner CommandRunner, logger zerolog.Logger) *Runner {
	if timeout <= 0 {
		timeout = constants.DefaultHealthTimeout
	}
	return &Runner{
		workdir:  workdir,
		timeout:  timeout,
		commands: commands,
		runner:   runner,
		logger:   logger,
	}
}

// Run executes every command configured for the kind, in order, stopping at
// the first failure. The returned results cover each command that ran.
// A command that cannot be spawned fails with ErrHealthCommandFailed; one
// that outlives the per-command timeout fails with ErrHealthTimeout.
func (r *Runner) Run(ctx context.Context, kind Kind) ([]Result, error) {
	cmds := r.commands[kind]
	if len(cmds) == 0 {
		return nil, nil
	}

	results := make([]Result, 0, len(cmds))
	for _, command := range cmds {
		result, err := r.runOne(ctx, kind, command)
		results = append(results, result)
		if err != nil {
			return results, err
		}
		if !result.Passed() {
			break
		}
	}
	return results, nil
}

// Passed reports whether every result in the slice exited zero.
func Passed(results []Result) bool {
	for _, r := range results {
		if !r.Passed() {
			return false
		}
	}
	return true
}

// FirstFailure returns the first failing result, or nil when all passed.
func FirstFailure(results []Result) *Result {
	for i := range results {
		if !results[i].Passed() {
			return &results[i]
		}
	}
	return nil
}

func (r *Runner) runOne(parent context.Context, kind Kind, command string) (Result, error) {
	ctx, cancel := context.WithTimeout(parent, r.timeout)
	defer cancel()

	start := time.Now()
	exitCode, stdout, stderr, err := r.runner.Run(ctx, r.workdir, command)
	result := Result{
		Kind:            kind,
		Command:         command,
		ExitCode:        exitCode,
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		StdoutTruncated: stdout.Truncated(),
		StderrTruncated: stderr.Truncated(),
		Duration:        time.Since(start),
	}

	switch {
	case ctx.Err() == context.DeadlineExceeded:
		r.logger.Warn().
			Str("kind", string(kind)).
			Str("command", command).
			Dur("timeout", r.timeout).
			Msg("health command timed out")
		return result, fmt.Errorf("%w: %s after %s", oaerrors.ErrHealthTimeout, command, r.timeout)
	case err != nil:
		return result, fmt.Errorf("%w: %s: %v", oaerrors.ErrHealthCommandFailed, command, err)
	}

	r.logger.Debug().
		Str("kind", string(kind)).
		Str("command", command).
		Int("exit_code", exitCode).
		Dur("duration", result.Duration).
		Msg("health command finished")
	return result, nil
}
