package healer

import (
	"fmt"

	"github.com/openagents/openagents/internal/config"
	"github.com/openagents/openagents/internal/constants"
	"github.com/openagents/openagents/internal/domain"
)

// Decision is the policy gate's verdict on one event.
type Decision struct {
	// Run reports whether healing is admitted.
	Run bool `json:"run"`

	// Scenario is the classified failure mode, set when the event maps to
	// one even if Run is false.
	Scenario domain.Scenario `json:"scenario,omitempty"`

	// Reason explains the verdict.
	Reason string `json:"reason"`
}

// ScenarioForEvent maps an orchestrator event to a healing scenario by the
// fixed table. The second return is false when the event carries no
// scenario (e.g. successful completions).
func ScenarioForEvent(event domain.Event) (domain.Scenario, bool) {
	switch event.Type {
	case domain.EventInitScriptComplete:
		if event.Success {
			return "", false
		}
		switch event.FailureType {
		case domain.FailureTypecheck:
			return domain.ScenarioInitTypecheckFailure, true
		case domain.FailureTest:
			return domain.ScenarioInitTestFailure, true
		default:
			return domain.ScenarioInitEnvironmentFailure, true
		}
	case domain.EventSubtaskFailed:
		return domain.ScenarioSubtaskFailed, true
	case domain.EventVerificationComplete:
		if event.Passed {
			return "", false
		}
		return domain.ScenarioVerificationFailed, true
	case domain.EventError:
		return domain.ScenarioRuntimeError, true
	case domain.EventSubtaskStuck:
		return domain.ScenarioSubtaskStuck, true
	default:
		return "", false
	}
}

// scenarioClass names the config toggle covering a scenario.
func scenarioClass(s domain.Scenario) string {
	switch s {
	case domain.ScenarioInitTypecheckFailure, domain.ScenarioInitTestFailure, domain.ScenarioInitEnvironmentFailure:
		return "init"
	case domain.ScenarioVerificationFailed:
		return "verification"
	case domain.ScenarioSubtaskFailed:
		return "subtask"
	case domain.ScenarioRuntimeError:
		return "runtime"
	case domain.ScenarioSubtaskStuck:
		return "stuck"
	default:
		return ""
	}
}

// Decide is the pure policy function: it maps the event to a scenario and
// admits healing iff the healer is enabled, the scenario class is enabled,
// and neither the session nor the subtask rate limit is exhausted.
//
// A healing key already present in the ledger does not deny admission; new
// evidence is allowed, and the spell engine consults the same key to avoid
// re-running spells it already tried.
func Decide(event domain.Event, cfg config.Healer, counters *domain.Counters, subtaskID string) Decision {
	scenario, ok := ScenarioForEvent(event)
	if !ok {
		return Decision{Run: false, Reason: "no healing scenario for event"}
	}

	if !cfg.Enabled {
		return Decision{Run: false, Scenario: scenario, Reason: "healer disabled"}
	}
	if !cfg.Scenarios.ScenarioEnabled(scenarioClass(scenario)) {
		return Decision{Run: false, Scenario: scenario,
			Reason: fmt.Sprintf("scenario %s disabled", scenario)}
	}

	sessionLimit := cfg.MaxInvocationsPerSession
	if sessionLimit <= 0 {
		sessionLimit = constants.DefaultSessionHealLimit
	}
	if counters.SessionInvocations >= sessionLimit {
		return Decision{Run: false, Scenario: scenario,
			Reason: fmt.Sprintf("Session limit reached (%d/%d)", counters.SessionInvocations, sessionLimit)}
	}

	if scenario.SubtaskScoped() && subtaskID != "" {
		subtaskLimit := cfg.MaxInvocationsPerSubtask
		if subtaskLimit <= 0 {
			subtaskLimit = constants.DefaultSubtaskHealLimit
		}
		if counters.SubtaskInvocations[subtaskID] >= subtaskLimit {
			return Decision{Run: false, Scenario: scenario,
				Reason: fmt.Sprintf("Subtask limit reached (%d/%d)", counters.SubtaskInvocations[subtaskID], subtaskLimit)}
		}
	}

	return Decision{Run: true, Scenario: scenario, Reason: "admitted"}
}
