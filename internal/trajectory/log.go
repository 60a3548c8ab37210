// Package trajectory persists the ordered record of one orchestrator session.
//
// The trajectory is a single JSON document at
// <root>/.openagents/trajectories/<sessionId>.json, rewritten atomically
// (tmpfile + rename) on every append. Step IDs are assigned by the log and
// are always dense and 1-based; completed steps are never mutated.
package trajectory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openagents/openagents/internal/clock"
	"github.com/openagents/openagents/internal/constants"
	"github.com/openagents/openagents/internal/domain"
	oaerrors "github.com/openagents/openagents/internal/errors"
	"github.com/openagents/openagents/internal/logging"
)

const (
	dirPerm  = 0o750
	filePerm = 0o600
)

// Log is the append interface over one session's trajectory file.
// All methods are safe for use from a single session goroutine; a mutex
// guards against incidental cross-goroutine appends (worker event fan-in).
type Log struct {
	path   string
	clock  clock.Clock
	logger zerolog.Logger

	mu  sync.Mutex
	doc *domain.Trajectory
}

// StepInput is the caller-supplied portion of a new step.
type StepInput struct {
	Source      constants.StepSource
	Message     string
	ToolCalls   []domain.ToolCall
	Observation *domain.Observation
	Error       string
}

// StepOptions tunes defaults applied by AppendStep. A zero Timestamp takes
// the clock's now; an empty Status defaults to completed.
type StepOptions struct {
	Timestamp time.Time
	Status    constants.StepStatus
}

// Open loads or creates the trajectory file for a session. An existing file
// must carry the current schema version and dense step IDs; anything else is
// ErrSchemaMismatch or ErrTrajectoryCorrupt.
func Open(path, sessionID, agent string, clk clock.Clock, logger zerolog.Logger) (*Log, error) {
	l := &Log{path: path, clock: clk, logger: logger}

	data, err := os.ReadFile(path) //#nosec G304 -- path is constructed internally
	switch {
	case os.IsNotExist(err):
		l.doc = &domain.Trajectory{
			SchemaVersion: constants.TrajectorySchemaVersion,
			SessionID:     sessionID,
			Agent:         agent,
		}
		if err := l.flush(); err != nil {
			return nil, err
		}
		return l, nil
	case err != nil:
		return nil, fmt.Errorf("%w: %v", oaerrors.ErrTrajectoryIO, err)
	}

	var doc domain.Trajectory
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", oaerrors.ErrTrajectoryCorrupt, path, err)
	}
	if doc.SchemaVersion != constants.TrajectorySchemaVersion {
		return nil, fmt.Errorf("%w: got %q, want %q",
			oaerrors.ErrSchemaMismatch, doc.SchemaVersion, constants.TrajectorySchemaVersion)
	}
	if err := validateDensity(doc.Steps); err != nil {
		return nil, err
	}

	l.doc = &doc
	return l, nil
}

// AppendStep assigns the next step ID, applies defaults, and persists the
// updated trajectory. Worker output and error payloads pass through secret
// redaction before they touch disk. Returns the persisted step.
func (l *Log) AppendStep(input StepInput, opts StepOptions) (domain.Step, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := opts.Timestamp
	if ts.IsZero() {
		ts = l.clock.Now().UTC()
	}
	status := opts.Status
	if status == "" {
		status = constants.StepStatusCompleted
	}

	step := domain.Step{
		StepID:      len(l.doc.Steps) + 1,
		Timestamp:   ts,
		Source:      input.Source,
		Message:     logging.Redact(input.Message),
		ToolCalls:   input.ToolCalls,
		Status:      status,
		Error:       logging.Redact(input.Error),
	}
	if input.Observation != nil {
		obs := *input.Observation
		obs.Content = logging.Redact(obs.Content)
		step.Observation = &obs
	}
	l.doc.Steps = append(l.doc.Steps, step)
	if err := l.flush(); err != nil {
		l.doc.Steps = l.doc.Steps[:len(l.doc.Steps)-1]
		return domain.Step{}, err
	}
	return step, nil
}

// CompleteStep marks a previously appended non-completed step as completed
// or failed and persists the change.
func (l *Log) CompleteStep(stepID int, status constants.StepStatus, errMsg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if stepID < 1 || stepID > len(l.doc.Steps) {
		return fmt.Errorf("%w: step %d out of range", oaerrors.ErrTrajectoryCorrupt, stepID)
	}
	step := &l.doc.Steps[stepID-1]
	if step.Status == constants.StepStatusCompleted {
		return fmt.Errorf("%w: step %d already completed", oaerrors.ErrTrajectoryCorrupt, stepID)
	}
	step.Status = status
	step.Error = logging.Redact(errMsg)
	return l.flush()
}

// AppendCheckpoint anchors a recovery point at the latest step.
func (l *Log) AppendCheckpoint(label string) (domain.Checkpoint, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cp := domain.Checkpoint{
		StepID:    len(l.doc.Steps),
		Timestamp: l.clock.Now().UTC(),
		Label:     label,
	}
	l.doc.Checkpoints = append(l.doc.Checkpoints, cp)
	if err := l.flush(); err != nil {
		l.doc.Checkpoints = l.doc.Checkpoints[:len(l.doc.Checkpoints)-1]
		return domain.Checkpoint{}, err
	}
	return cp, nil
}

// RecordRecovery stamps recovery info into the trajectory. Used when a
// session aborts fatally.
func (l *Log) RecordRecovery(reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.doc.RecoveryInfo = &domain.RecoveryInfo{
		Timestamp: l.clock.Now().UTC(),
		Reason:    reason,
		LastStep:  len(l.doc.Steps),
	}
	return l.flush()
}

// SetFinalMetrics records aggregated worker usage for the session.
func (l *Log) SetFinalMetrics(m domain.FinalMetrics) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.doc.FinalMetrics = &m
	return l.flush()
}

// AppendNote appends a free-form line to the trajectory notes.
func (l *Log) AppendNote(note string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.doc.Notes != "" {
		l.doc.Notes += "\n"
	}
	l.doc.Notes += note
	return l.flush()
}

// PlanRecovery computes how to resume this trajectory: replay begins at the
// step after the latest checkpoint (or step 1), and covers every
// non-completed step from that point on.
func (l *Log) PlanRecovery() domain.RecoveryPlan {
	l.mu.Lock()
	defer l.mu.Unlock()

	plan := domain.RecoveryPlan{ResumeFromStepID: 1}

	for i := range l.doc.Checkpoints {
		cp := l.doc.Checkpoints[i]
		if plan.Checkpoint == nil || cp.StepID > plan.Checkpoint.StepID {
			latest := cp
			plan.Checkpoint = &latest
		}
	}
	if plan.Checkpoint != nil {
		plan.ResumeFromStepID = plan.Checkpoint.StepID + 1
	}

	for _, step := range l.doc.Steps {
		if step.Status == constants.StepStatusCompleted {
			plan.CompletedSteps = append(plan.CompletedSteps, step)
		} else if step.StepID >= plan.ResumeFromStepID {
			plan.StepsToReplay = append(plan.StepsToReplay, step)
		}
	}
	return plan
}

// Snapshot returns a deep copy of the current trajectory document.
func (l *Log) Snapshot() domain.Trajectory {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc := *l.doc
	doc.Steps = append([]domain.Step(nil), l.doc.Steps...)
	doc.Checkpoints = append([]domain.Checkpoint(nil), l.doc.Checkpoints...)
	if l.doc.RecoveryInfo != nil {
		ri := *l.doc.RecoveryInfo
		doc.RecoveryInfo = &ri
	}
	if l.doc.FinalMetrics != nil {
		fm := *l.doc.FinalMetrics
		doc.FinalMetrics = &fm
	}
	return doc
}

// StepCount returns the number of persisted steps.
func (l *Log) StepCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.doc.Steps)
}

// Path returns the trajectory file path.
func (l *Log) Path() string {
	return l.path
}

// flush rewrites the trajectory file atomically. Callers hold l.mu.
func (l *Log) flush() error {
	if err := os.MkdirAll(filepath.Dir(l.path), dirPerm); err != nil {
		return fmt.Errorf("%w: %v", oaerrors.ErrTrajectoryIO, err)
	}
	data, err := json.MarshalIndent(l.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", oaerrors.ErrTrajectoryIO, err)
	}

	tmpPath := l.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm) //#nosec G304 -- path is constructed internally
	if err != nil {
		return fmt.Errorf("%w: %v", oaerrors.ErrTrajectoryIO, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", oaerrors.ErrTrajectoryIO, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", oaerrors.ErrTrajectoryIO, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", oaerrors.ErrTrajectoryIO, err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", oaerrors.ErrTrajectoryIO, err)
	}
	return nil
}

// validateDensity checks that step IDs run 1..N without gaps.
func validateDensity(steps []domain.Step) error {
	for i, step := range steps {
		if step.StepID != i+1 {
			return fmt.Errorf("%w: step at index %d has id %d, want %d",
				oaerrors.ErrTrajectoryCorrupt, i, step.StepID, i+1)
		}
	}
	return nil
}
