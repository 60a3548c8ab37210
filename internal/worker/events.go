// Package worker launches the external code-worker process for one subtask
// and streams its line-delimited JSON events back to the orchestrator.
package worker

// EventType tags a worker wire event.
type EventType string

// Worker wire event types, in the order a healthy run emits them.
const (
	EventStarted      EventType = "started"
	EventToolCall     EventType = "toolCall"
	EventToolResult   EventType = "toolResult"
	EventMessage      EventType = "message"
	EventFinalMetrics EventType = "finalMetrics"
	EventExit         EventType = "exit"
)

// Exit reasons carried on terminal events.
const (
	ExitReasonCompleted = "completed"
	ExitReasonTimeout   = "timeout"
	ExitReasonCancelled = "cancelled"
	ExitReasonError     = "error"
)

// Event is one line of the worker's NDJSON stdout protocol. Only the fields
// relevant to the tagged type are populated.
type Event struct {
	Type EventType `json:"type"`

	// toolCall fields.
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name,omitempty"`
	Args map[string]any `json:"args,omitempty"`

	// toolResult fields. SourceID references the matching toolCall ID.
	SourceID string `json:"source_id,omitempty"`
	Content  string `json:"content,omitempty"`

	// message field.
	Text string `json:"text,omitempty"`

	// finalMetrics fields.
	Tokens  int64   `json:"tokens,omitempty"`
	CostUSD float64 `json:"cost_usd,omitempty"`
	Turns   int     `json:"turns,omitempty"`

	// exit fields.
	Code   int    `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}
