package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/openagents/openagents/internal/constants"
	"github.com/openagents/openagents/internal/domain"
	oaerrors "github.com/openagents/openagents/internal/errors"
	"github.com/openagents/openagents/internal/health"
)

// maxEventLine bounds a single NDJSON event line.
const maxEventLine = 1 << 20 // 1 MiB

// RunResult summarizes one worker invocation.
type RunResult struct {
	// RunID uniquely identifies the invocation.
	RunID string `json:"run_id"`

	// ExitCode is the process exit code (-1 when the process never ran or
	// was killed).
	ExitCode int `json:"exit_code"`

	// ExitReason is completed, timeout, cancelled, or error.
	ExitReason string `json:"exit_reason"`

	// Completed reports whether the worker emitted its completion marker
	// (a terminal exit event with reason "completed").
	Completed bool `json:"completed"`

	// Metrics carries the worker's finalMetrics event, if emitted.
	Metrics *domain.FinalMetrics `json:"metrics,omitempty"`

	// Stderr is the bounded stderr capture.
	Stderr string `json:"stderr,omitempty"`

	// StderrTruncated flags a capped stderr capture.
	StderrTruncated bool `json:"stderr_truncated,omitempty"`

	// Duration is the wall time of the run.
	Duration time.Duration `json:"duration"`
}

// Failed reports whether the run counts as a subtask failure: a non-zero
// exit or a missing completion marker. The driver never retries on its own.
func (r RunResult) Failed() bool {
	return r.ExitCode != 0 || !r.Completed
}

// EventHandler receives each decoded worker event as it arrives. Tool-call
// events are delivered before their matching tool-result events.
type EventHandler func(Event) error

// Driver launches worker processes.
type Driver struct {
	command string
	timeout time.Duration
	grace   time.Duration
	logger  zerolog.Logger
}

// NewDriver creates a Driver. Zero timeout and grace fall back to defaults.
func NewDriver(command string, timeout, grace time.Duration, logger zerolog.Logger) *Driver {
	if timeout <= 0 {
		timeout = constants.DefaultWorkerTimeout
	}
	if grace <= 0 {
		grace = constants.DefaultGracePeriod
	}
	return &Driver{command: command, timeout: timeout, grace: grace, logger: logger}
}

// RunSubtask launches the worker for one subtask and streams events to the
// handler until the process exits, the timeout fires, or ctx is cancelled.
// On timeout or cancellation the process gets SIGTERM, then SIGKILL after
// the grace period, and the handler still receives a synthetic terminal
// exit event so the trajectory closes cleanly.
func (d *Driver) RunSubtask(ctx context.Context, subtask *domain.Subtask, workdir, instruction string, handler EventHandler) (RunResult, error) {
	runID := uuid.NewString()
	result := RunResult{RunID: runID, ExitCode: -1, ExitReason: ExitReasonError}

	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	//#nosec G204 -- worker command comes from project config
	cmd := exec.CommandContext(runCtx, d.command,
		"--workdir", workdir,
		"--subtask", subtask.ID,
		"--instruction", instruction,
	)
	cmd.Dir = workdir
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = d.grace

	stderr := health.NewBoundedBuffer(constants.CaptureLimit)
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return result, fmt.Errorf("%w: %v", oaerrors.ErrWorkerSpawn, err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return result, fmt.Errorf("%w: %s: %v", oaerrors.ErrWorkerSpawn, d.command, err)
	}

	d.logger.Info().
		Str("run_id", runID).
		Str("subtask_id", subtask.ID).
		Str("command", d.command).
		Msg("worker started")

	var (
		sawCompleted bool
		metrics      *domain.FinalMetrics
		protocolErr  error
	)

	g := &errgroup.Group{}
	g.Go(func() error {
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), maxEventLine)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var event Event
			if err := json.Unmarshal(line, &event); err != nil {
				protocolErr = fmt.Errorf("%w: undecodable event line: %v", oaerrors.ErrWorkerProtocol, err)
				continue
			}
			switch event.Type {
			case EventExit:
				if event.Reason == ExitReasonCompleted {
					sawCompleted = true
				}
			case EventFinalMetrics:
				metrics = &domain.FinalMetrics{
					Tokens:  event.Tokens,
					CostUSD: event.CostUSD,
					Turns:   event.Turns,
				}
			}
			if handler != nil {
				if err := handler(event); err != nil {
					return err
				}
			}
		}
		return scanner.Err()
	})

	// Drain stdout before Wait: Wait closes the pipe once the process
	// exits, which would yank it out from under the scanner mid-burst.
	streamErr := g.Wait()
	waitErr := cmd.Wait()
	result.Duration = time.Since(start)
	result.Stderr = stderr.String()
	result.StderrTruncated = stderr.Truncated()
	result.Completed = sawCompleted
	result.Metrics = metrics

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		result.ExitReason = ExitReasonTimeout
		d.emitTerminal(handler, result.ExitCode, ExitReasonTimeout)
		return result, fmt.Errorf("%w: subtask %s after %s", oaerrors.ErrWorkerTimeout, subtask.ID, d.timeout)
	case ctx.Err() != nil:
		result.ExitReason = ExitReasonCancelled
		d.emitTerminal(handler, result.ExitCode, ExitReasonCancelled)
		return result, ctx.Err()
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			result.ExitReason = ExitReasonError
			return result, fmt.Errorf("%w: exit code %d", oaerrors.ErrWorkerExit, result.ExitCode)
		}
		return result, fmt.Errorf("%w: %v", oaerrors.ErrWorkerSpawn, waitErr)
	}
	if streamErr != nil {
		result.ExitCode = 0
		return result, streamErr
	}

	result.ExitCode = 0
	if protocolErr != nil {
		result.ExitReason = ExitReasonError
		return result, protocolErr
	}
	if sawCompleted {
		result.ExitReason = ExitReasonCompleted
	}

	d.logger.Info().
		Str("run_id", runID).
		Str("subtask_id", subtask.ID).
		Bool("completed", sawCompleted).
		Dur("duration", result.Duration).
		Msg("worker finished")
	return result, nil
}

// emitTerminal best-effort delivers a synthetic exit event after an abnormal
// termination.
func (d *Driver) emitTerminal(handler EventHandler, code int, reason string) {
	if handler == nil {
		return
	}
	if err := handler(Event{Type: EventExit, Code: code, Reason: reason}); err != nil {
		d.logger.Warn().Err(err).Msg("terminal exit event handler failed")
	}
}
