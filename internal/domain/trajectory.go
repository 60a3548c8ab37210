package domain

import (
	"time"

	"github.com/openagents/openagents/internal/constants"
)

// Step is one entry in a session trajectory. Step IDs are 1-based, dense,
// and ordered; completed steps are immutable once persisted.
type Step struct {
	// StepID is the monotonically increasing 1-based identifier.
	StepID int `json:"step_id"`

	// Timestamp is when the step was recorded.
	Timestamp time.Time `json:"timestamp"`

	// Source identifies who produced the step.
	Source constants.StepSource `json:"source"`

	// Message is the human-readable step payload.
	Message string `json:"message"`

	// ToolCalls lists tool invocations attached to this step.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// Observation carries a tool result or other observed output.
	Observation *Observation `json:"observation,omitempty"`

	// Status is the step lifecycle state.
	Status constants.StepStatus `json:"status"`

	// Error carries the failure detail for failed steps.
	Error string `json:"error,omitempty"`
}

// ToolCall records a tool invocation emitted by the worker.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Observation records output observed for a prior tool call.
type Observation struct {
	// SourceID references the tool call this observation answers.
	SourceID string `json:"source_id,omitempty"`

	// Content is the observed output.
	Content string `json:"content"`
}

// Checkpoint is a recovery anchor inside a trajectory. Resume replays from
// the step after the latest checkpoint where the step is not yet completed.
type Checkpoint struct {
	// StepID is the step this checkpoint marks.
	StepID int `json:"step_id"`

	// Timestamp is when the checkpoint was written.
	Timestamp time.Time `json:"timestamp"`

	// Label is an opaque caller-supplied marker.
	Label string `json:"label,omitempty"`
}

// RecoveryInfo is stamped into a trajectory when a session aborts fatally.
type RecoveryInfo struct {
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
	LastStep  int       `json:"last_step"`
}

// FinalMetrics aggregates worker usage over a session.
type FinalMetrics struct {
	Tokens     int64   `json:"tokens"`
	CostUSD    float64 `json:"cost_usd"`
	Turns      int     `json:"turns"`
	WallTimeMS int64   `json:"wall_time_ms"`
}

// Trajectory is the durable, ordered record of one orchestrator session.
// The document is rewritten atomically on each append.
type Trajectory struct {
	SchemaVersion string        `json:"schema_version"`
	SessionID     string        `json:"session_id"`
	Agent         string        `json:"agent"`
	Steps         []Step        `json:"steps"`
	Checkpoints   []Checkpoint  `json:"checkpoints,omitempty"`
	RecoveryInfo  *RecoveryInfo `json:"recovery_info,omitempty"`
	Notes         string        `json:"notes,omitempty"`
	FinalMetrics  *FinalMetrics `json:"final_metrics,omitempty"`
}

// RecoveryPlan describes how to resume a crashed session.
type RecoveryPlan struct {
	// Checkpoint is the latest checkpoint by step ID (nil if none).
	Checkpoint *Checkpoint `json:"checkpoint,omitempty"`

	// ResumeFromStepID is checkpoint.StepID+1, or 1 with no checkpoint.
	ResumeFromStepID int `json:"resume_from_step_id"`

	// CompletedSteps are all steps with status completed.
	CompletedSteps []Step `json:"completed_steps"`

	// StepsToReplay are steps with id >= ResumeFromStepID and status
	// other than completed.
	StepsToReplay []Step `json:"steps_to_replay"`
}
