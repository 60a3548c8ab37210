// Package orchestrator runs one session of the control plane: pick a task,
// decompose it, drive the worker per subtask, verify with health checks,
// heal failures through the policy gate and spell engine, and commit green
// results.
package orchestrator

import (
	"fmt"
	"time"

	oaerrors "github.com/openagents/openagents/internal/errors"
)

// State is one node of the session state machine.
type State string

// Session states.
const (
	StateIdle             State = "Idle"
	StateTaskSelected     State = "TaskSelected"
	StateDecomposed       State = "Decomposed"
	StateExecutingSubtask State = "ExecutingSubtask"
	StateVerifying        State = "Verifying"
	StateSubtaskComplete  State = "SubtaskComplete"
	StateHealing          State = "Healing"
	StateCommitting       State = "Committing"
	StateBlocking         State = "Blocking"
)

// ValidTransitions defines the allowed session state transitions.
//
//nolint:gochecknoglobals // shared transition table
var ValidTransitions = map[State][]State{
	StateIdle:             {StateTaskSelected},
	StateTaskSelected:     {StateDecomposed, StateHealing, StateBlocking},
	StateDecomposed:       {StateExecutingSubtask, StateCommitting, StateBlocking},
	StateExecutingSubtask: {StateVerifying, StateHealing, StateBlocking},
	StateVerifying:        {StateSubtaskComplete, StateHealing, StateBlocking},
	StateSubtaskComplete:  {StateExecutingSubtask, StateCommitting, StateHealing, StateBlocking},
	StateHealing:          {StateTaskSelected, StateExecutingSubtask, StateVerifying, StateSubtaskComplete, StateCommitting, StateBlocking, StateIdle},
	StateCommitting:       {StateHealing, StateIdle},
	StateBlocking:         {StateIdle},
}

// StateChange records one transition in the session audit trail.
type StateChange struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// canTransition reports whether moving between the two states is allowed.
func canTransition(from, to State) bool {
	for _, allowed := range ValidTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// transition moves the session to a new state, recording the change.
func (s *Session) transition(to State, reason string) error {
	if !canTransition(s.state, to) {
		return fmt.Errorf("%w: %s -> %s", oaerrors.ErrInvalidTransition, s.state, to)
	}
	change := StateChange{
		From:      s.state,
		To:        to,
		Timestamp: s.clock.Now().UTC(),
		Reason:    reason,
	}
	s.stateTrail = append(s.stateTrail, change)
	s.logger.Debug().
		Str("from", string(change.From)).
		Str("to", string(change.To)).
		Str("reason", reason).
		Msg("session state transition")
	s.state = to
	return nil
}
