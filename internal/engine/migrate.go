package engine

import (
	"log/slog"
	"time"

	"github.com/daymark/daymark/internal/execlog"
	"github.com/daymark/daymark/internal/overlay"
	"github.com/daymark/daymark/internal/task"
)

// MigrateRunning carries every instance still running across a date
// boundary into the new date, then retargets the engine. Each carried
// instance is migrated as a two-phase transaction: detach its
// duplicated record from the old date's overlay, attach it to the new
// date's. A crash between the phases leaves at most one copy of the
// record, recoverable by replaying both overlays.
//
// Any Permanent deletion recorded on the new date for the same
// definition identity is cleared, so a task deleted "for tomorrow"
// does not swallow an occurrence the user kept running past midnight.
func (e *Engine) MigrateRunning(to task.DateKey) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !to.Valid() {
		return &RuntimeError{Code: ErrCodeInvalidDate, Message: "invalid target date", Path: string(to)}
	}
	from := e.date
	if to == from {
		return nil
	}

	var carried []*task.Instance
	for _, inst := range e.instances {
		if inst.State == task.Running {
			carried = append(carried, inst)
		}
	}
	for _, inst := range carried {
		if err := e.migrateInstanceLocked(inst, from, to); err != nil {
			return err
		}
	}
	if err := e.mergeRunningSnapshotLocked(carried, to); err != nil {
		return err
	}
	if len(carried) > 0 {
		slog.Info("running instances migrated", "from", from, "to", to, "count", len(carried))
	}
	return nil
}

func (e *Engine) migrateInstanceLocked(inst *task.Instance, from, to task.DateKey) error {
	// Phase one: detach the duplicated record from the old date.
	var moved *overlay.DuplicateEntry
	if inst.Duplicate {
		if err := e.overlay.Update(from, func(st *overlay.DayState) {
			kept := st.DuplicatedInstances[:0:0]
			for _, d := range st.DuplicatedInstances {
				if d.InstanceID == inst.ID {
					rec := d
					moved = &rec
					continue
				}
				kept = append(kept, d)
			}
			st.DuplicatedInstances = kept
		}); err != nil {
			return persistError(inst.ID, err)
		}
	}

	// Phase two: attach to the new date and clear any permanent
	// deletion for the same identity.
	identity := inst.Def.Identity()
	if err := e.overlay.Update(to, func(st *overlay.DayState) {
		if moved != nil {
			st.DuplicatedInstances = append(st.DuplicatedInstances, *moved)
		}
		kept := st.DeletedInstances[:0:0]
		for _, d := range st.DeletedInstances {
			if d.Permanent && (d.TaskID == identity || (d.Path != "" && d.Path == inst.Def.Path)) {
				continue
			}
			kept = append(kept, d)
		}
		st.DeletedInstances = kept
	}); err != nil {
		return persistError(inst.ID, err)
	}
	return nil
}

// mergeRunningSnapshotLocked rewrites the running snapshot as the
// union of the carried instances, stamped with the new date, and every
// record already present for other instances.
func (e *Engine) mergeRunningSnapshotLocked(carried []*task.Instance, to task.DateKey) error {
	carriedIDs := make(map[string]bool, len(carried))
	for _, inst := range carried {
		carriedIDs[inst.ID] = true
	}

	var merged []execlog.RunningRecord
	for _, rec := range e.log.ReadRunning() {
		if !carriedIDs[rec.InstanceID] {
			merged = append(merged, rec)
		}
	}
	for _, inst := range carried {
		rec := execlog.RunningRecord{
			Date:       string(to),
			TaskTitle:  inst.Def.Title(),
			TaskPath:   inst.Def.Path,
			SlotKey:    inst.Slot,
			InstanceID: inst.ID,
			IsRoutine:  inst.Def.Routine,
			TaskID:     inst.Def.ID,
		}
		if inst.StartedAt != nil {
			rec.StartTime = inst.StartedAt.Format(time.RFC3339)
		}
		if inst.OriginalSlot != "" {
			rec.OriginalSlotKey = inst.OriginalSlot
		}
		merged = append(merged, rec)
	}
	return e.log.WriteRunning(merged)
}
