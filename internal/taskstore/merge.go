package taskstore

import (
	"fmt"
	"time"

	"github.com/openagents/openagents/internal/constants"
	"github.com/openagents/openagents/internal/domain"
	oaerrors "github.com/openagents/openagents/internal/errors"
)

// applyPatch mutates t according to the patch and returns it. Nil fields are
// left unchanged, slice fields are set-unioned into the existing values, and
// status changes go through Transition so the audit trail stays complete.
func applyPatch(t *domain.Task, patch domain.TaskPatch, now time.Time) (*domain.Task, error) {
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Priority != nil {
		t.Priority = *patch.Priority
	}
	if patch.Type != nil {
		t.Type = *patch.Type
	}
	if patch.Status != nil {
		if err := Transition(t, *patch.Status, patch.Reason, now); err != nil {
			return nil, err
		}
		if *patch.Status == constants.TaskStatusClosed {
			ts := now
			t.ClosedAt = &ts
			t.CloseReason = patch.Reason
		} else {
			t.ClosedAt = nil
			t.CloseReason = ""
		}
	}
	t.Labels = unionStrings(t.Labels, patch.AddLabels)
	t.Deps = unionDeps(t.Deps, patch.AddDeps)
	t.Commits = unionStrings(t.Commits, patch.AddCommits)
	return t, nil
}

// merge reconciles a local edit with a concurrent external edit against their
// common ancestor. Array fields are set-unioned across both sides. Scalar
// fields changed on only one side take that side's value; changed on both,
// the side with the later updated_at wins. The single hard conflict is both
// sides closing the task with different reasons, which returns
// ErrMergeConflict.
func merge(base, local, disk *domain.Task) (*domain.Task, error) {
	bothClosed := local.Status == constants.TaskStatusClosed &&
		disk.Status == constants.TaskStatusClosed
	if bothClosed && local.CloseReason != disk.CloseReason {
		return nil, fmt.Errorf("%w: task '%s' closed with %q locally and %q externally",
			oaerrors.ErrMergeConflict, base.ID, local.CloseReason, disk.CloseReason)
	}

	localWins := local.UpdatedAt.After(disk.UpdatedAt)
	out := cloneTask(base)

	out.Title = pick(base.Title, local.Title, disk.Title, localWins)
	out.Description = pick(base.Description, local.Description, disk.Description, localWins)
	out.Priority = pick(base.Priority, local.Priority, disk.Priority, localWins)
	out.Type = pick(base.Type, local.Type, disk.Type, localWins)
	out.Status = pick(base.Status, local.Status, disk.Status, localWins)
	out.CloseReason = pick(base.CloseReason, local.CloseReason, disk.CloseReason, localWins)

	switch {
	case out.Status != constants.TaskStatusClosed:
		out.ClosedAt = nil
		out.CloseReason = ""
	case local.ClosedAt != nil && out.Status == local.Status:
		ts := *local.ClosedAt
		out.ClosedAt = &ts
	case disk.ClosedAt != nil:
		ts := *disk.ClosedAt
		out.ClosedAt = &ts
	}

	out.Labels = unionStrings(local.Labels, disk.Labels)
	out.Deps = unionDeps(local.Deps, disk.Deps)
	out.Commits = unionStrings(local.Commits, disk.Commits)
	out.Transitions = unionTransitions(local.Transitions, disk.Transitions)

	return out, nil
}

// pick resolves a scalar field three ways: a side that kept the base value
// yields to the other side; when both sides changed it, localWins decides.
func pick[T comparable](base, local, disk T, localWins bool) T {
	switch {
	case local == base:
		return disk
	case disk == base:
		return local
	case localWins:
		return local
	default:
		return disk
	}
}

// unionStrings appends entries from add not already present, preserving order.
func unionStrings(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, s := range existing {
		seen[s] = true
	}
	out := existing
	for _, s := range add {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// unionDeps appends dependency edges from add not already present, keyed by
// (id, relation).
func unionDeps(existing, add []domain.Dep) []domain.Dep {
	seen := make(map[domain.Dep]bool, len(existing))
	for _, d := range existing {
		seen[d] = true
	}
	out := existing
	for _, d := range add {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}

// unionTransitions appends audit entries from add not already present, keyed
// by the full record.
func unionTransitions(existing, add []domain.Transition) []domain.Transition {
	seen := make(map[domain.Transition]bool, len(existing))
	for _, tr := range existing {
		seen[tr] = true
	}
	out := existing
	for _, tr := range add {
		if !seen[tr] {
			seen[tr] = true
			out = append(out, tr)
		}
	}
	return out
}
