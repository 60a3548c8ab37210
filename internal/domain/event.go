package domain

import "time"

// EventType tags an orchestrator event. Events are plain values dispatched
// by a switch on the tag.
type EventType string

// Orchestrator event type constants.
const (
	// EventInitScriptComplete reports the outcome of the project init script
	// (environment setup, typecheck, baseline test run).
	EventInitScriptComplete EventType = "init_script_complete"

	// EventSubtaskFailed reports a worker failure for one subtask.
	EventSubtaskFailed EventType = "subtask_failed"

	// EventVerificationComplete reports a health verification outcome.
	EventVerificationComplete EventType = "verification_complete"

	// EventError reports an unexpected runtime error inside the session.
	EventError EventType = "error"

	// EventSubtaskStuck is the synthetic trigger emitted by the stuck
	// detector; the orchestrator processes it like a natural failure.
	EventSubtaskStuck EventType = "subtask_stuck"

	// EventSessionCancelled records external cancellation of the session.
	EventSessionCancelled EventType = "session_cancelled"

	// EventSessionComplete records session termination (status ok/failed).
	EventSessionComplete EventType = "session_complete"
)

// FailureType classifies an init-script failure.
type FailureType string

// Init-script failure type constants.
const (
	FailureTypecheck   FailureType = "typecheck_failed"
	FailureTest        FailureType = "test_failed"
	FailureEnvironment FailureType = "environment_failed"
)

// Event is an orchestrator event value. Only the fields relevant to the
// tagged type are populated.
type Event struct {
	// Type is the event tag.
	Type EventType `json:"type"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// TaskID is the backlog task in scope, if any.
	TaskID string `json:"task_id,omitempty"`

	// SubtaskID is the subtask in scope, if any.
	SubtaskID string `json:"subtask_id,omitempty"`

	// Success is set for init_script_complete.
	Success bool `json:"success,omitempty"`

	// FailureType is set for failed init_script_complete events.
	FailureType FailureType `json:"failure_type,omitempty"`

	// Passed is set for verification_complete.
	Passed bool `json:"passed,omitempty"`

	// Output carries captured stdout for the event, if any.
	Output string `json:"output,omitempty"`

	// Stderr carries captured stderr for the event, if any.
	Stderr string `json:"stderr,omitempty"`

	// Err carries an error string for error events.
	Err string `json:"error,omitempty"`
}

// ErrorPayload returns the first non-empty of stderr, stdout, and the error
// string. This is the payload heuristics classify and the healing hash
// normalizes.
func (e Event) ErrorPayload() string {
	if e.Stderr != "" {
		return e.Stderr
	}
	if e.Output != "" {
		return e.Output
	}
	return e.Err
}
