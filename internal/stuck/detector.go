// Package stuck scans tasks and subtasks for stagnation and emits synthetic
// trigger events the orchestrator processes as if they were natural
// failures.
package stuck

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openagents/openagents/internal/clock"
	"github.com/openagents/openagents/internal/constants"
	"github.com/openagents/openagents/internal/domain"
)

// Options tunes a scan. Zero values fall back to defaults.
type Options struct {
	// TaskThreshold is the stagnation age for in_progress/blocked tasks.
	TaskThreshold time.Duration

	// SubtaskThreshold is the stagnation age for in_progress subtasks.
	SubtaskThreshold time.Duration

	// MinConsecutiveFailures triggers on a subtask's failure count even
	// before the time threshold. Counts consecutive failures within the
	// current subtask; a success resets the count.
	MinConsecutiveFailures int
}

func (o Options) withDefaults() Options {
	if o.TaskThreshold <= 0 {
		o.TaskThreshold = constants.DefaultStuckThreshold
	}
	if o.SubtaskThreshold <= 0 {
		o.SubtaskThreshold = constants.DefaultStuckThreshold
	}
	if o.MinConsecutiveFailures <= 0 {
		o.MinConsecutiveFailures = constants.DefaultMinConsecutiveFailures
	}
	return o
}

// Finding describes one stuck task or subtask.
type Finding struct {
	TaskID    string        `json:"task_id,omitempty" yaml:"task_id,omitempty"`
	SubtaskID string        `json:"subtask_id,omitempty" yaml:"subtask_id,omitempty"`
	Reason    string        `json:"reason" yaml:"reason"`
	Age       time.Duration `json:"age,omitempty" yaml:"age,omitempty"`
}

// Report is the result of one scan.
type Report struct {
	ScannedAt time.Time `json:"scanned_at" yaml:"scanned_at"`
	Findings  []Finding `json:"findings" yaml:"findings"`
}

// Stuck reports whether the scan found anything.
func (r Report) Stuck() bool {
	return len(r.Findings) > 0
}

// Detector scans for stagnation between orchestrator iterations or from the
// CLI.
type Detector struct {
	clock  clock.Clock
	logger zerolog.Logger
}

// NewDetector creates a Detector.
func NewDetector(clk clock.Clock, logger zerolog.Logger) *Detector {
	return &Detector{clock: clk, logger: logger}
}

// Scan inspects tasks and subtasks against the thresholds and returns a
// report of everything stagnant.
func (d *Detector) Scan(tasks []*domain.Task, subtasks []*domain.Subtask, opts Options) Report {
	opts = opts.withDefaults()
	now := d.clock.Now()
	report := Report{ScannedAt: now.UTC()}

	for _, t := range tasks {
		if t.Status != constants.TaskStatusInProgress && t.Status != constants.TaskStatusBlocked {
			continue
		}
		age := now.Sub(t.UpdatedAt)
		if age >= opts.TaskThreshold {
			report.Findings = append(report.Findings, Finding{
				TaskID: t.ID,
				Reason: fmt.Sprintf("task %s for %s without updates", t.Status, age.Round(time.Minute)),
				Age:    age,
			})
		}
	}

	for _, s := range subtasks {
		if f, ok := d.checkSubtask(s, now, opts); ok {
			report.Findings = append(report.Findings, f)
		}
	}

	if report.Stuck() {
		d.logger.Warn().Int("findings", len(report.Findings)).Msg("stuck scan found stagnation")
	}
	return report
}

// Events converts a report into synthetic trigger events.
func (r Report) Events() []domain.Event {
	events := make([]domain.Event, 0, len(r.Findings))
	for _, f := range r.Findings {
		events = append(events, domain.Event{
			Type:      domain.EventSubtaskStuck,
			Timestamp: r.ScannedAt,
			TaskID:    f.TaskID,
			SubtaskID: f.SubtaskID,
			Err:       f.Reason,
		})
	}
	return events
}

func (d *Detector) checkSubtask(s *domain.Subtask, now time.Time, opts Options) (Finding, bool) {
	if s.FailureCount >= opts.MinConsecutiveFailures {
		return Finding{
			TaskID:    s.TaskID,
			SubtaskID: s.ID,
			Reason:    fmt.Sprintf("subtask failed %d consecutive times", s.FailureCount),
		}, true
	}
	if s.Status != constants.SubtaskStatusInProgress || s.StartedAt == nil {
		return Finding{}, false
	}
	age := now.Sub(*s.StartedAt)
	if age < opts.SubtaskThreshold {
		return Finding{}, false
	}
	return Finding{
		TaskID:    s.TaskID,
		SubtaskID: s.ID,
		Reason:    fmt.Sprintf("subtask in_progress for %s", age.Round(time.Minute)),
		Age:       age,
	}, true
}
