package healer

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openagents/openagents/internal/domain"
)

// Engine executes planned spell sequences and folds their results into a
// healing outcome. One Engine serves one session; it owns no state beyond
// the shared counters it records into.
type Engine struct {
	deps     *SpellDeps
	counters *domain.Counters
	logger   zerolog.Logger
}

// NewEngine creates an Engine recording into the session counters.
func NewEngine(deps *SpellDeps, counters *domain.Counters, logger zerolog.Logger) *Engine {
	return &Engine{deps: deps, counters: counters, logger: logger}
}

// Execute runs the plan in order with stop-on-first-success. Spells already
// tried for this healing key are skipped (idempotency); every dispatch is
// recorded in the counters before the handler runs. Cancellation marks the
// current spell as failed and stops the sequence.
func (e *Engine) Execute(ctx context.Context, hctx *domain.HealerContext, plan []domain.Spell) domain.HealOutcome {
	outcome := domain.HealOutcome{Status: domain.HealSkipped}
	previouslyTried := e.triedSpells(hctx.HealingKey)

	for _, spell := range plan {
		if previouslyTried[spell] {
			e.logger.Debug().
				Str("spell", string(spell)).
				Str("healing_key", hctx.HealingKey).
				Msg("spell already tried for this healing key, skipping")
			continue
		}

		if ctx.Err() != nil {
			result := domain.SpellResult{
				Spell:   spell,
				Status:  domain.SpellFailure,
				Summary: "cancelled",
			}
			outcome.Results = append(outcome.Results, result)
			outcome.SpellsTried = append(outcome.SpellsTried, spell)
			break
		}

		// Counter increments happen strictly before dispatch; the handler
		// sees the post-increment snapshot of its own invocation.
		e.counters.SpellsAttempted[spell]++
		outcome.SpellsTried = append(outcome.SpellsTried, spell)

		result := e.dispatch(ctx, spell, hctx, outcome.SpellsTried[:len(outcome.SpellsTried)-1])
		outcome.Results = append(outcome.Results, result)

		e.logger.Info().
			Str("spell", string(spell)).
			Str("status", string(result.Status)).
			Str("summary", result.Summary).
			Msg("spell finished")

		if result.Status == domain.SpellSuccess {
			outcome.SpellsSucceeded = append(outcome.SpellsSucceeded, spell)
			break
		}
	}

	e.fold(&outcome)
	e.record(hctx, &outcome)
	return outcome
}

// dispatch invokes one spell handler, converting panics into failures.
func (e *Engine) dispatch(ctx context.Context, spell domain.Spell, hctx *domain.HealerContext, attempted []domain.Spell) (result domain.SpellResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str("spell", string(spell)).
				Interface("panic", r).
				Msg("spell handler panicked")
			result = failure(spell, "spell panicked: %v", r)
		}
	}()

	handler, ok := handlers[spell]
	if !ok {
		return failure(spell, "unknown spell")
	}
	return handler(ctx, e.deps, hctx, attempted)
}

// fold derives the overall status from the individual results.
func (e *Engine) fold(outcome *domain.HealOutcome) {
	if len(outcome.SpellsTried) == 0 {
		outcome.Status = domain.HealSkipped
		outcome.Summary = "no spells runnable"
		return
	}

	resolved := false
	contained := false
	for _, r := range outcome.Results {
		if r.Status != domain.SpellSuccess {
			continue
		}
		if r.Effects != nil && r.Effects.Resolved {
			resolved = true
		} else {
			contained = true
		}
	}

	switch {
	case resolved:
		outcome.Status = domain.HealResolved
	case contained:
		outcome.Status = domain.HealContained
	default:
		outcome.Status = domain.HealUnresolved
	}

	names := make([]string, len(outcome.SpellsSucceeded))
	for i, s := range outcome.SpellsSucceeded {
		names[i] = string(s)
	}
	outcome.Summary = fmt.Sprintf("%s after %d spells", outcome.Status, len(outcome.SpellsTried))
	if len(names) > 0 {
		outcome.Summary += " (succeeded: " + strings.Join(names, ", ") + ")"
	}
}

// record merges this execution into the idempotency ledger under the
// healing key.
func (e *Engine) record(hctx *domain.HealerContext, outcome *domain.HealOutcome) {
	attempt := e.counters.HealingAttempts[hctx.HealingKey]
	if attempt == nil {
		attempt = &domain.HealingAttempt{Key: hctx.HealingKey}
		e.counters.HealingAttempts[hctx.HealingKey] = attempt
	}
	attempt.Timestamp = e.deps.Clock.Now().UTC()
	attempt.Outcome = outcome.Status
	attempt.SpellsTried = append(attempt.SpellsTried, outcome.SpellsTried...)
	attempt.SpellsSucceeded = append(attempt.SpellsSucceeded, outcome.SpellsSucceeded...)
	attempt.Summary = outcome.Summary
}

// triedSpells returns the set of spells already attempted for a healing key.
func (e *Engine) triedSpells(key string) map[domain.Spell]bool {
	tried := make(map[domain.Spell]bool)
	if attempt := e.counters.HealingAttempts[key]; attempt != nil {
		for _, s := range attempt.SpellsTried {
			tried[s] = true
		}
	}
	return tried
}
