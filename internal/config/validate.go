package config

import (
	"fmt"

	"github.com/openagents/openagents/internal/errors"
)

// Validate checks all configuration values for consistency.
// It returns the first validation failure wrapped with ErrConfigInvalid.
func Validate(cfg *Project) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", errors.ErrConfigInvalid)
	}
	if cfg.ProjectID == "" {
		return fmt.Errorf("%w: projectId %w", errors.ErrConfigInvalid, errors.ErrEmptyValue)
	}
	if cfg.DefaultBranch == "" {
		return fmt.Errorf("%w: defaultBranch %w", errors.ErrConfigInvalid, errors.ErrEmptyValue)
	}
	if err := validateHealer(&cfg.Healer); err != nil {
		return err
	}
	if cfg.Worker.Timeout <= 0 {
		return fmt.Errorf("%w: worker.timeout must be positive", errors.ErrConfigInvalid)
	}
	if cfg.Worker.GracePeriod < 0 {
		return fmt.Errorf("%w: worker.gracePeriod %w", errors.ErrConfigInvalid, errors.ErrValueOutOfRange)
	}
	if cfg.Health.Timeout <= 0 {
		return fmt.Errorf("%w: health.timeout must be positive", errors.ErrConfigInvalid)
	}
	if cfg.Session.LockStaleAfter <= 0 {
		return fmt.Errorf("%w: session.lockStaleAfter must be positive", errors.ErrConfigInvalid)
	}
	return nil
}

func validateHealer(h *Healer) error {
	switch h.Mode {
	case ModeConservative, ModeAggressive:
	default:
		return fmt.Errorf("%w: healer.mode %q must be conservative or aggressive",
			errors.ErrConfigInvalid, h.Mode)
	}
	switch h.GreenCommitSource {
	case GreenFromHealth, GreenFromTag:
	default:
		return fmt.Errorf("%w: healer.greenCommitSource %q must be health or tag",
			errors.ErrConfigInvalid, h.GreenCommitSource)
	}
	if h.MaxInvocationsPerSession < 0 {
		return fmt.Errorf("%w: healer.maxInvocationsPerSession %w",
			errors.ErrConfigInvalid, errors.ErrValueOutOfRange)
	}
	if h.MaxInvocationsPerSubtask < 0 {
		return fmt.Errorf("%w: healer.maxInvocationsPerSubtask %w",
			errors.ErrConfigInvalid, errors.ErrValueOutOfRange)
	}
	if h.StuckThresholdHours < 0 {
		return fmt.Errorf("%w: healer.stuckThresholdHours %w",
			errors.ErrConfigInvalid, errors.ErrValueOutOfRange)
	}
	if h.MinConsecutiveFailures < 1 {
		return fmt.Errorf("%w: healer.minConsecutiveFailures must be at least 1",
			errors.ErrConfigInvalid)
	}
	return nil
}
