package engine

import (
	"log/slog"
	"time"

	"github.com/daymark/daymark/internal/execlog"
	"github.com/daymark/daymark/internal/overlay"
	"github.com/daymark/daymark/internal/task"
)

// Notice keys returned to the rendering collaborator alongside each
// mutation's result.
const (
	NoticeStarted    = "task-started"
	NoticeStopped    = "task-stopped"
	NoticeReset      = "task-reset"
	NoticeDuplicated = "task-duplicated"
	NoticeDeleted    = "task-deleted"
	NoticeHidden     = "routine-hidden"
	NoticeMoved      = "task-moved"
	NoticeFailed     = "operation-failed"
)

// Start transitions an Idle instance to Running and persists the
// running snapshot.
func (e *Engine) Start(instanceID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inst := e.findLocked(instanceID)
	if inst == nil {
		return NoticeFailed, unknownInstanceError(instanceID)
	}
	if inst.State != task.Idle {
		return NoticeFailed, transitionError(instanceID, "only an idle instance can start")
	}

	now := e.now()
	inst.State = task.Running
	inst.StartedAt = &now
	inst.StoppedAt = nil

	if err := e.persistRunningLocked(); err != nil {
		// The optimistic transition stands; the snapshot is recovery
		// state, not the source of truth for a live session.
		return NoticeFailed, persistError(instanceID, err)
	}
	slog.Info("instance started", "instance_id", instanceID, "path", inst.Def.Path)
	return NoticeStarted, nil
}

// Stop transitions a Running instance to Done, writes the execution
// log entry, and updates the running snapshot.
func (e *Engine) Stop(instanceID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inst := e.findLocked(instanceID)
	if inst == nil {
		return NoticeFailed, unknownInstanceError(instanceID)
	}
	if inst.State != task.Running {
		return NoticeFailed, transitionError(instanceID, "only a running instance can stop")
	}

	now := e.now()
	inst.State = task.Done
	inst.StoppedAt = &now

	entry := execlog.Entry{
		TaskTitle:  inst.Def.Title(),
		TaskPath:   inst.Def.Path,
		InstanceID: inst.ID,
		SlotKey:    inst.Slot,
		StopTime:   now.Format(time.RFC3339),
	}
	if inst.StartedAt != nil {
		entry.StartTime = inst.StartedAt.Format(time.RFC3339)
	}
	if err := e.log.Append(e.date, entry); err != nil {
		return NoticeFailed, persistError(instanceID, err)
	}
	if err := e.persistRunningLocked(); err != nil {
		return NoticeFailed, persistError(instanceID, err)
	}
	slog.Info("instance stopped", "instance_id", instanceID, "path", inst.Def.Path)
	return NoticeStopped, nil
}

// Reset returns a Running or Done instance to Idle, removing its
// execution log entry. Done only re-enters Running via Reset then
// Start.
func (e *Engine) Reset(instanceID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inst := e.findLocked(instanceID)
	if inst == nil {
		return NoticeFailed, unknownInstanceError(instanceID)
	}
	if inst.State == task.Idle {
		return NoticeFailed, transitionError(instanceID, "instance is already idle")
	}

	wasDone := inst.State == task.Done
	inst.State = task.Idle
	inst.StartedAt = nil
	inst.StoppedAt = nil

	if wasDone {
		if err := e.log.Remove(e.date, func(en execlog.Entry) bool {
			if en.InstanceID != "" {
				return en.InstanceID == inst.ID
			}
			return en.TaskPath == inst.Def.Path && normTitle(en.TaskTitle) == normTitle(inst.Def.Title())
		}); err != nil {
			return NoticeFailed, persistError(instanceID, err)
		}
	}
	if err := e.persistRunningLocked(); err != nil {
		return NoticeFailed, persistError(instanceID, err)
	}
	slog.Info("instance reset", "instance_id", instanceID, "path", inst.Def.Path)
	return NoticeReset, nil
}

// Duplicate creates a new Idle occurrence of an instance's definition.
// With no slot requested the duplicate lands in the original's slot,
// ordered immediately after it among same-slot same-state peers; with a
// different slot it is appended last. The duplicated overlay record is
// persisted best-effort: a failed write is reported, not rolled back.
func (e *Engine) Duplicate(instanceID, slot string) (task.Instance, string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	orig := e.findLocked(instanceID)
	if orig == nil {
		return task.Instance{}, NoticeFailed, unknownInstanceError(instanceID)
	}
	if slot == "" {
		slot = orig.Slot
	}
	if !e.bucketer.IsValid(slot) {
		return task.Instance{}, NoticeFailed, &RuntimeError{Code: ErrCodeInvalidSlot, Message: "unknown slot key", InstanceID: instanceID}
	}

	dup := &task.Instance{
		ID:        e.ids.Generate(),
		Def:       orig.Def,
		Date:      e.date,
		State:     task.Idle,
		Slot:      slot,
		Duplicate: true,
	}
	if slot == orig.Slot {
		dup.Order = e.orderAfterLocked(orig)
	} else {
		dup.Order = e.orderLastLocked(slot, dup.NormalizedState())
		dup.OriginalSlot = orig.Slot
	}
	e.instances = append(e.instances, dup)

	rec := overlay.DuplicateEntry{
		InstanceID:     dup.ID,
		OriginalPath:   orig.Def.Path,
		OriginalTaskID: orig.Def.Identity(),
		SlotKey:        dup.Slot,
		CreatedAt:      e.now().Format(time.RFC3339),
	}
	if dup.OriginalSlot != "" {
		rec.OriginalSlotKey = dup.OriginalSlot
	}
	if err := e.overlay.Update(e.date, func(st *overlay.DayState) {
		st.DuplicatedInstances = append(st.DuplicatedInstances, rec)
		st.Orders[orderKey(dup)] = dup.Order
	}); err != nil {
		slog.Error("duplicate record persist failed", "instance_id", dup.ID, "error", err)
		return *dup, NoticeFailed, persistError(dup.ID, err)
	}
	slog.Info("instance duplicated", "original", instanceID, "duplicate", dup.ID, "slot", dup.Slot)
	return *dup, NoticeDuplicated, nil
}

// Delete removes an occurrence. Classification decides the record
// written: a recorded duplicate gets a temporary instance-keyed
// deletion and its duplicated record removed; a one-shot task gets a
// permanent identity-keyed deletion (and its document deleted when this
// was the last live instance referencing it); a routine delegates to
// HideRoutine.
//
// The in-memory instance is removed eagerly, before the overlay write,
// so repeated rapid deletes cannot double-process it. A failed write is
// reported but the removal stands; the next reconciliation pass
// restores the instance if the record never landed.
func (e *Engine) Delete(instanceID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inst := e.findLocked(instanceID)
	if inst == nil {
		return NoticeFailed, unknownInstanceError(instanceID)
	}

	switch {
	case inst.Duplicate:
		e.removeLocked(instanceID)
		if err := e.overlay.Update(e.date, func(st *overlay.DayState) {
			st.DeletedInstances = append(st.DeletedInstances, overlay.DeletionEntry{
				InstanceID: inst.ID,
				DeletedAt:  e.now().Format(time.RFC3339),
			})
			kept := st.DuplicatedInstances[:0:0]
			for _, d := range st.DuplicatedInstances {
				if d.InstanceID != inst.ID {
					kept = append(kept, d)
				}
			}
			st.DuplicatedInstances = kept
		}); err != nil {
			return NoticeFailed, persistError(instanceID, err)
		}

	case !inst.Def.Routine && inst.Def.Path != "":
		e.removeLocked(instanceID)
		lastAtPath := true
		for _, other := range e.instances {
			if other.Def.Path == inst.Def.Path {
				lastAtPath = false
				break
			}
		}
		if err := e.overlay.Update(e.date, func(st *overlay.DayState) {
			st.DeletedInstances = append(st.DeletedInstances, overlay.DeletionEntry{
				TaskID:    inst.Def.Identity(),
				Path:      inst.Def.Path,
				Permanent: true,
				DeletedAt: e.now().Format(time.RFC3339),
			})
		}); err != nil {
			return NoticeFailed, persistError(instanceID, err)
		}
		if lastAtPath && e.vault.Exists(inst.Def.Path) {
			if err := e.vault.Delete(inst.Def.Path); err != nil {
				slog.Error("backing document delete failed", "path", inst.Def.Path, "error", err)
				return NoticeFailed, persistError(instanceID, err)
			}
		}

	default:
		return e.hideRoutineLocked(inst)
	}

	slog.Info("instance deleted", "instance_id", instanceID, "path", inst.Def.Path)
	return NoticeDeleted, nil
}

// HideRoutine suppresses a routine occurrence for the day: the base
// occurrence when inst is the path-identified one, only the duplicate
// otherwise.
func (e *Engine) HideRoutine(instanceID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inst := e.findLocked(instanceID)
	if inst == nil {
		return NoticeFailed, unknownInstanceError(instanceID)
	}
	return e.hideRoutineLocked(inst)
}

func (e *Engine) hideRoutineLocked(inst *task.Instance) (string, error) {
	entry := overlay.HiddenEntry{Path: inst.Def.Path}
	if inst.Duplicate {
		entry.InstanceID = inst.ID
	}

	e.removeLocked(inst.ID)
	if err := e.overlay.Update(e.date, func(st *overlay.DayState) {
		for _, h := range st.HiddenRoutines {
			if h == entry {
				return // an equivalent entry already exists
			}
		}
		st.HiddenRoutines = append(st.HiddenRoutines, entry)
	}); err != nil {
		return NoticeFailed, persistError(inst.ID, err)
	}
	slog.Info("routine hidden", "instance_id", inst.ID, "path", inst.Def.Path)
	return NoticeHidden, nil
}

// MoveToSlot moves an instance to a slot, recomputing its order among
// peers sharing (slot, normalized state). The persisted slot override
// is cleared when it matches the schedule-derived default, so a stale
// override cannot mask future schedule edits. On persistence failure
// the slot and order roll back to their pre-mutation values.
func (e *Engine) MoveToSlot(instanceID, slot string, index int) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inst := e.findLocked(instanceID)
	if inst == nil {
		return NoticeFailed, unknownInstanceError(instanceID)
	}
	if !e.bucketer.IsValid(slot) {
		return NoticeFailed, &RuntimeError{Code: ErrCodeInvalidSlot, Message: "unknown slot key", InstanceID: instanceID}
	}

	prevSlot, prevOrder, prevOriginal := inst.Slot, inst.Order, inst.OriginalSlot
	prevKey := orderKey(inst)

	if inst.OriginalSlot == "" && slot != prevSlot {
		inst.OriginalSlot = prevSlot
	}
	inst.Slot = slot
	inst.Order = e.orderAtLocked(inst, slot, index)

	owner := inst.Def.Identity()
	if inst.Duplicate {
		owner = inst.ID
	}
	defaultSlot := e.scheduleSlot(inst.Def)

	if err := e.overlay.Update(e.date, func(st *overlay.DayState) {
		if slot == defaultSlot && !inst.Duplicate {
			delete(st.SlotOverrides, owner)
			delete(st.SlotOverrides, inst.Def.Path)
		} else {
			st.SlotOverrides[owner] = slot
		}
		delete(st.Orders, prevKey)
		st.Orders[orderKey(inst)] = inst.Order
		if inst.Duplicate {
			for i := range st.DuplicatedInstances {
				if st.DuplicatedInstances[i].InstanceID == inst.ID {
					st.DuplicatedInstances[i].SlotKey = slot
				}
			}
		}
	}); err != nil {
		inst.Slot, inst.Order, inst.OriginalSlot = prevSlot, prevOrder, prevOriginal
		return NoticeFailed, persistError(instanceID, err)
	}
	slog.Info("instance moved", "instance_id", instanceID, "slot", slot, "order", inst.Order)
	return NoticeMoved, nil
}

// orderAfterLocked computes an order placing a new instance directly
// after orig among peers sharing its slot and normalized state.
func (e *Engine) orderAfterLocked(orig *task.Instance) float64 {
	next := 0.0
	found := false
	for _, other := range e.instances {
		if other == orig || other.Slot != orig.Slot || other.NormalizedState() != orig.NormalizedState() {
			continue
		}
		if other.Order > orig.Order && (!found || other.Order < next) {
			next = other.Order
			found = true
		}
	}
	if !found {
		return orig.Order + 1
	}
	return (orig.Order + next) / 2
}

// orderLastLocked computes an order after every peer in (slot, state).
func (e *Engine) orderLastLocked(slot string, normState int) float64 {
	max := 0.0
	for _, other := range e.instances {
		if other.Slot == slot && other.NormalizedState() == normState && other.Order > max {
			max = other.Order
		}
	}
	return max + 1
}

// orderAtLocked computes an order for inst inserted at index among its
// new peers; a negative index appends last.
func (e *Engine) orderAtLocked(inst *task.Instance, slot string, index int) float64 {
	var peers []*task.Instance
	for _, other := range e.instances {
		if other == inst || other.Slot != slot || other.NormalizedState() != inst.NormalizedState() {
			continue
		}
		peers = append(peers, other)
	}
	if index < 0 || index >= len(peers) {
		return e.orderLastLocked(slot, inst.NormalizedState())
	}

	// Sort peers by order to find the neighbors of the target position.
	for i := 1; i < len(peers); i++ {
		for j := i; j > 0 && peers[j-1].Order > peers[j].Order; j-- {
			peers[j-1], peers[j] = peers[j], peers[j-1]
		}
	}
	if index == 0 {
		return peers[0].Order / 2
	}
	return (peers[index-1].Order + peers[index].Order) / 2
}
