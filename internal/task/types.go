package task

import (
	"time"
)

// Definition is the stable identity of a task, derived from a vault
// document. The reconciliation engine only reads definitions; the vault
// owns their lifecycle (create/edit/rename/delete).
type Definition struct {
	// ID is stable across renames. Populated from front matter when the
	// document carries an explicit id, otherwise falls back to the path.
	ID string `json:"id"`

	// Path is the document's current location key inside the vault.
	Path string `json:"path"`

	// Name is the task's base name (file name without extension).
	Name string `json:"name"`

	// DisplayTitle overrides Name in rendered views when non-empty.
	DisplayTitle string `json:"display_title,omitempty"`

	// Routine marks a recurring task. A routine without a Rule is never due.
	Routine bool `json:"routine"`

	// Rule is the recurrence rule for routines. Nil for one-shot tasks.
	Rule *Rule `json:"rule,omitempty"`

	// Scheduled is the default start time ("HH:MM"), used to derive the
	// default slot. Empty means no slot assignment.
	Scheduled string `json:"scheduled,omitempty"`

	// CreatedAt is the document creation instant. One-shot tasks are
	// visible only on their creation date (or a moved target date).
	CreatedAt time.Time `json:"created_at"`

	// MovedTo is a legacy one-off override of the task's anchor date.
	// Nil when no override is recorded.
	MovedTo *time.Time `json:"moved_to,omitempty"`
}

// Title returns the name shown to the user.
func (d Definition) Title() string {
	if d.DisplayTitle != "" {
		return d.DisplayTitle
	}
	return d.Name
}

// Identity returns the preferred stable key for this definition: the
// explicit ID when one exists, otherwise the path.
func (d Definition) Identity() string {
	if d.ID != "" {
		return d.ID
	}
	return d.Path
}

// State is the lifecycle state of an instance.
type State int

const (
	// Idle is a materialized, not yet started occurrence.
	Idle State = iota
	// Running is an occurrence with a start time and no stop time.
	// The pipeline never emits Running; it is re-attached from the
	// running snapshot after reconciliation.
	Running
	// Done is an occurrence backed by an execution log entry.
	Done
)

// String returns the lowercase state name used in logs and CLI output.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// NoSlot is the slot key for instances with no slot assigned.
const NoSlot = "none"

// Instance is one date-scoped materialization of a Definition.
//
// Instances are ephemeral: the pipeline recomputes them on every pass.
// INVARIANT: re-running the pipeline with unchanged inputs reproduces the
// same ID for every instance that existed before, so a Running instance
// is never orphaned by a reload.
type Instance struct {
	ID   string     `json:"id"`
	Def  Definition `json:"def"`
	Date DateKey    `json:"date"`

	State State   `json:"state"`
	Slot  string  `json:"slot"`
	Order float64 `json:"order"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`

	// OriginalSlot records the slot before a move, for duplicates and
	// cross-date migration. Empty when the instance was never moved.
	OriginalSlot string `json:"original_slot,omitempty"`

	// Duplicate marks an instance backed by a duplicated overlay record
	// rather than the base occurrence of its definition.
	Duplicate bool `json:"duplicate"`
}

// NormalizedState collapses paused-like running states and ranks states
// for ordering: Done < Running < Idle. Instances are ordered first by
// this rank, then by Order, within a slot.
func (i Instance) NormalizedState() int {
	switch i.State {
	case Done:
		return 0
	case Running:
		return 1
	default:
		return 2
	}
}
