package healer

import (
	"github.com/bmatcuk/doublestar/v4"

	"github.com/openagents/openagents/internal/config"
	"github.com/openagents/openagents/internal/domain"
)

// spellSequences is the fixed scenario-to-spell planning table. Sequences
// run in order with stop-on-first-success.
//
//nolint:gochecknoglobals // compile-time planning table
var spellSequences = map[domain.Scenario][]domain.Spell{
	domain.ScenarioInitTypecheckFailure: {
		domain.SpellFixTypecheckErrors,
		domain.SpellUpdateProgress,
		domain.SpellMarkBlockedFollowup,
	},
	domain.ScenarioInitTestFailure: {
		domain.SpellFixTestErrors,
		domain.SpellUpdateProgress,
		domain.SpellMarkBlockedFollowup,
	},
	domain.ScenarioInitEnvironmentFailure: {
		domain.SpellUpdateProgress,
		domain.SpellMarkBlockedFollowup,
	},
	domain.ScenarioSubtaskFailed: {
		domain.SpellRewindUncommitted,
		domain.SpellUpdateProgress,
		domain.SpellMarkBlockedFollowup,
	},
	domain.ScenarioVerificationFailed: {
		domain.SpellRewindUncommitted,
		domain.SpellUpdateProgress,
	},
	domain.ScenarioRuntimeError: {
		domain.SpellRewindUncommitted,
		domain.SpellUpdateProgress,
		domain.SpellMarkBlockedFollowup,
	},
	domain.ScenarioSubtaskStuck: {
		domain.SpellUpdateProgress,
		domain.SpellMarkBlockedFollowup,
	},
}

// aggressiveExtras are appended to the base sequences in aggressive mode,
// inserted after the base rewind so the heavier recovery runs only when the
// cheap one did not stick.
//
//nolint:gochecknoglobals // compile-time planning table
var aggressiveExtras = map[domain.Scenario][]domain.Spell{
	domain.ScenarioInitEnvironmentFailure: {domain.SpellRunDoctorChecks},
	domain.ScenarioSubtaskFailed:          {domain.SpellRetryWithResume, domain.SpellRetryMinimalSubagent},
	domain.ScenarioVerificationFailed:     {domain.SpellRewindToGreenCommit},
	domain.ScenarioRuntimeError:           {domain.SpellRewindToGreenCommit},
}

// PlanOptions tunes planning.
type PlanOptions struct {
	// NoLLM excludes spells that re-enter an LLM-backed worker.
	NoLLM bool
}

// Plan returns the ordered spell sequence for the scenario, filtered against
// the config allow/deny lists. A non-empty allow list takes precedence over
// the forbidden list. Entries match as globs, so "fix_*" covers both fixers.
func Plan(scenario domain.Scenario, mode config.HealerMode, filter config.SpellFilter, opts PlanOptions) []domain.Spell {
	base := spellSequences[scenario]
	if len(base) == 0 {
		return nil
	}

	sequence := append([]domain.Spell(nil), base...)
	if mode == config.ModeAggressive {
		if extras := aggressiveExtras[scenario]; len(extras) > 0 {
			// Extras slot in after the leading spell, ahead of the
			// annotate-and-park tail.
			head, tail := sequence[:1], sequence[1:]
			sequence = append(append(append([]domain.Spell(nil), head...), extras...), tail...)
		}
	}

	out := make([]domain.Spell, 0, len(sequence))
	for _, spell := range sequence {
		if opts.NoLLM && spell.CallsLLM() {
			continue
		}
		if len(filter.Allowed) > 0 {
			if matchAny(filter.Allowed, string(spell)) {
				out = append(out, spell)
			}
			continue
		}
		if matchAny(filter.Forbidden, string(spell)) {
			continue
		}
		out = append(out, spell)
	}
	return out
}

// matchAny reports whether the name matches any of the glob patterns.
// Malformed patterns never match.
func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}
