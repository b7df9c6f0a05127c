// Package overlay holds the per-date exception layer: hidden routines,
// deleted occurrences, user-created duplicates, and slot/order
// overrides. Exactly one DayState is authoritative per date key; the
// Store caches them lazily and invalidates wholesale when an external
// write is detected.
package overlay

import "time"

// HiddenEntry suppresses a routine occurrence. An empty InstanceID
// suppresses the base path-identified occurrence; a non-empty one
// suppresses only that duplicate.
type HiddenEntry struct {
	Path       string `json:"path"`
	InstanceID string `json:"instanceId,omitempty"`
}

// DeletionEntry records a deleted occurrence. Exactly one of the three
// keys is meaningful per entry: InstanceID (instance-scoped), TaskID
// (identity-scoped, always permanent), or Path (legacy path-scoped,
// promoted to TaskID once the identity is observed).
type DeletionEntry struct {
	InstanceID string `json:"instanceId,omitempty"`
	Path       string `json:"path,omitempty"`
	TaskID     string `json:"taskId,omitempty"`
	Permanent  bool   `json:"permanent,omitempty"`
	DeletedAt  string `json:"deletedAt,omitempty"` // RFC 3339
}

// deletedAtTime parses the deletion instant; ok=false when absent or
// unparseable.
func (e DeletionEntry) deletedAtTime() (time.Time, bool) {
	if e.DeletedAt == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, e.DeletedAt)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// DuplicateEntry records a user-created extra occurrence of a
// definition on this date.
type DuplicateEntry struct {
	InstanceID      string `json:"instanceId"`
	OriginalPath    string `json:"originalPath"`
	OriginalTaskID  string `json:"originalTaskId,omitempty"`
	SlotKey         string `json:"slotKey"`
	OriginalSlotKey string `json:"originalSlotKey,omitempty"`
	CreatedAt       string `json:"createdAt,omitempty"` // RFC 3339
}

// DayState is the overlay record for one date key. Field names are wire
// format shared with existing deployments.
type DayState struct {
	HiddenRoutines      []HiddenEntry      `json:"hiddenRoutines"`
	DeletedInstances    []DeletionEntry    `json:"deletedInstances"`
	DuplicatedInstances []DuplicateEntry   `json:"duplicatedInstances"`
	SlotOverrides       map[string]string  `json:"slotOverrides"`
	Orders              map[string]float64 `json:"orders"`
}

// NewDayState returns an empty record with allocated maps.
func NewDayState() *DayState {
	return &DayState{
		SlotOverrides: make(map[string]string),
		Orders:        make(map[string]float64),
	}
}

// normalize repairs nil maps after JSON decoding.
func (d *DayState) normalize() {
	if d.SlotOverrides == nil {
		d.SlotOverrides = make(map[string]string)
	}
	if d.Orders == nil {
		d.Orders = make(map[string]float64)
	}
}

// HiddenQuery describes the occurrence being checked for suppression.
type HiddenQuery struct {
	InstanceID string
	Path       string
	Duplicate  bool
}

// IsHidden reports whether the queried occurrence is suppressed.
// Instance-keyed entries match only their instance; path-keyed entries
// (empty InstanceID) match the base occurrence at that path, never its
// duplicates.
func (d *DayState) IsHidden(q HiddenQuery) bool {
	for _, h := range d.HiddenRoutines {
		if h.InstanceID != "" {
			if q.InstanceID != "" && h.InstanceID == q.InstanceID {
				return true
			}
			continue
		}
		if h.Path == q.Path && !q.Duplicate {
			return true
		}
	}
	return false
}

// DeletionQuery describes the occurrence being checked for deletion.
type DeletionQuery struct {
	InstanceID string
	Path       string
	TaskID     string
	Routine    bool
	Duplicate  bool
}

// IsDeleted applies the deletion-match precedence, first match wins:
//
//  1. exact InstanceID match
//  2. Permanent entries keyed by TaskID
//  3. Permanent entries keyed by legacy Path (no TaskID yet)
//  4. Temporary entries keyed by Path, applying to routine occurrences
//     only when the entry carries no InstanceID, since a duplicate's
//     temporary deletion must not suppress siblings at the same path
func (d *DayState) IsDeleted(q DeletionQuery) bool {
	for _, e := range d.DeletedInstances {
		if e.InstanceID != "" && q.InstanceID != "" && e.InstanceID == q.InstanceID {
			return true
		}
	}
	for _, e := range d.DeletedInstances {
		if e.Permanent && e.TaskID != "" && q.TaskID != "" && e.TaskID == q.TaskID {
			return true
		}
	}
	for _, e := range d.DeletedInstances {
		if e.Permanent && e.TaskID == "" && e.Path != "" && e.Path == q.Path {
			return true
		}
	}
	if q.Routine {
		for _, e := range d.DeletedInstances {
			if !e.Permanent && e.InstanceID == "" && e.Path != "" && e.Path == q.Path {
				return true
			}
		}
	}
	return false
}

// PromoteLegacy rewrites path-keyed permanent deletions to identity
// keys using the observed path-to-identity mapping, then de-duplicates
// identity-keyed entries. Returns true when anything changed.
func (d *DayState) PromoteLegacy(identities map[string]string) bool {
	changed := false
	for i := range d.DeletedInstances {
		e := &d.DeletedInstances[i]
		if !e.Permanent || e.TaskID != "" || e.Path == "" {
			continue
		}
		if id, ok := identities[e.Path]; ok && id != "" {
			e.TaskID = id
			changed = true
		}
	}
	if !changed {
		return false
	}

	seen := make(map[string]bool)
	kept := d.DeletedInstances[:0:0]
	for _, e := range d.DeletedInstances {
		if e.Permanent && e.TaskID != "" {
			if seen[e.TaskID] {
				continue
			}
			seen[e.TaskID] = true
		}
		kept = append(kept, e)
	}
	d.DeletedInstances = kept
	return true
}

// DuplicateByID returns the duplicated record with the given instance
// id, if any.
func (d *DayState) DuplicateByID(instanceID string) (DuplicateEntry, bool) {
	for _, dup := range d.DuplicatedInstances {
		if dup.InstanceID == instanceID {
			return dup, true
		}
	}
	return DuplicateEntry{}, false
}
