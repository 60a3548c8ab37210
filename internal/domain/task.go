// Package domain provides shared domain types for the OpenAgents control plane.
// These types are used across all internal packages to ensure consistent data
// structures.
//
// This package follows strict import rules:
//   - CAN import: internal/constants, internal/errors, standard library
//   - MUST NOT import: any other internal packages
//
// All JSON field names use snake_case per architecture requirements.
package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/openagents/openagents/internal/constants"
)

// taskIDPattern matches hierarchical task IDs: a root of the form
// prefix-xxxxxx plus up to three numeric child levels, e.g. "oa-abc123.2.1".
var taskIDPattern = regexp.MustCompile(`^[a-z]+-[a-z0-9]{6}(\.\d+){0,3}$`)

// DepRelation classifies a dependency edge between tasks.
type DepRelation string

// Dependency relation constants. Only "blocks" participates in readiness;
// the rest are informational.
const (
	DepBlocks         DepRelation = "blocks"
	DepRelated        DepRelation = "related"
	DepParentChild    DepRelation = "parent-child"
	DepDiscoveredFrom DepRelation = "discovered-from"
)

// Dep is a dependency edge from a task to another task.
type Dep struct {
	// ID is the task this dependency points at.
	ID string `json:"id"`

	// Relation classifies the edge.
	Relation DepRelation `json:"relation"`
}

// Task represents a durable unit of work in the backlog.
//
// Example JSON representation (one line of tasks.jsonl):
//
//	{"id":"oa-abc123","title":"Fix parser crash","status":"open","priority":1,...}
type Task struct {
	// ID is the hierarchical task identifier (prefix-xxxxxx[.n[.n[.n]]]).
	ID string `json:"id"`

	// Title is a short human-readable summary.
	Title string `json:"title"`

	// Description elaborates on the work to be done.
	Description string `json:"description,omitempty"`

	// Status is the current lifecycle state.
	Status constants.TaskStatus `json:"status"`

	// Priority orders ready tasks; lower numbers are picked first.
	Priority int `json:"priority"`

	// Type classifies the task (bug, feature, chore, ...). Free-form.
	Type string `json:"type,omitempty"`

	// Labels is a set of free-form labels.
	Labels []string `json:"labels,omitempty"`

	// Deps are dependency edges to other tasks.
	Deps []Dep `json:"deps,omitempty"`

	// Commits lists git commit SHAs attributed to this task.
	Commits []string `json:"commits,omitempty"`

	// Transitions is the audit trail of status changes.
	Transitions []Transition `json:"transitions,omitempty"`

	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the task was last modified. Every mutation bumps it.
	UpdatedAt time.Time `json:"updated_at"`

	// ClosedAt is when the task was closed (nil while not closed).
	ClosedAt *time.Time `json:"closed_at,omitempty"`

	// CloseReason explains why the task was closed.
	CloseReason string `json:"close_reason,omitempty"`

	// SchemaVersion enables forward-compatible schema migrations.
	SchemaVersion int `json:"schema_version"`
}

// Transition records one status change in a task's audit trail.
type Transition struct {
	FromStatus constants.TaskStatus `json:"from_status"`
	ToStatus   constants.TaskStatus `json:"to_status"`
	Timestamp  time.Time            `json:"timestamp"`
	Reason     string               `json:"reason,omitempty"`
}

// ValidTaskID reports whether id matches the hierarchical task ID format.
func ValidTaskID(id string) bool {
	return taskIDPattern.MatchString(id)
}

// ParentID returns the parent task ID for a child task, or "" for a root.
// "oa-abc123.2.1" → "oa-abc123.2"; "oa-abc123" → "".
func ParentID(id string) string {
	idx := strings.LastIndex(id, ".")
	if idx < 0 {
		return ""
	}
	return id[:idx]
}

// HasLabel reports whether the task carries the given label.
func (t *Task) HasLabel(label string) bool {
	for _, l := range t.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// BlockingDeps returns the IDs of all deps with the blocks relation.
func (t *Task) BlockingDeps() []string {
	var ids []string
	for _, d := range t.Deps {
		if d.Relation == DepBlocks {
			ids = append(ids, d.ID)
		}
	}
	return ids
}

// TaskFilter specifies criteria for listing backlog tasks.
type TaskFilter struct {
	// Status restricts to tasks in any of these statuses. Empty = all.
	Status []constants.TaskStatus

	// Labels restricts to tasks carrying every listed label.
	Labels []string

	// Type restricts to a single task type. Empty = all.
	Type string

	// Limit caps the number of results. 0 = unlimited.
	Limit int
}

// Match reports whether the task satisfies the filter criteria.
func (f TaskFilter) Match(t *Task) bool {
	if len(f.Status) > 0 {
		ok := false
		for _, s := range f.Status {
			if t.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for _, l := range f.Labels {
		if !t.HasLabel(l) {
			return false
		}
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	return true
}

// TaskPatch describes a partial task mutation applied by the store.
// Nil fields are left unchanged; slice fields are set-unioned into the
// existing values.
type TaskPatch struct {
	Title       *string               `json:"title,omitempty"`
	Description *string               `json:"description,omitempty"`
	Status      *constants.TaskStatus `json:"status,omitempty"`
	Priority    *int                  `json:"priority,omitempty"`
	Type        *string               `json:"type,omitempty"`
	AddLabels   []string              `json:"add_labels,omitempty"`
	AddDeps     []Dep                 `json:"add_deps,omitempty"`
	AddCommits  []string              `json:"add_commits,omitempty"`
	Reason      string                `json:"reason,omitempty"`
}
