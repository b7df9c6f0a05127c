package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/daymark/daymark/internal/execlog"
	"github.com/daymark/daymark/internal/overlay"
	"github.com/daymark/daymark/internal/recur"
	"github.com/daymark/daymark/internal/task"
	"github.com/daymark/daymark/internal/vault"
)

// Reconcile materializes the instance set for a date and makes it the
// engine's live set. The pass is idempotent: with unchanged inputs the
// produced ids are identical to the previous pass, so an occurrence in
// progress is never lost or duplicated by a reload.
//
// After the pure pipeline, Running state is re-attached from the
// running snapshot; the pipeline itself never emits Running.
func (e *Engine) Reconcile(date task.DateKey) ([]task.Instance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	day, err := task.ParseDateKey(date)
	if err != nil {
		return nil, err
	}

	defs, err := e.loadDefinitions()
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", date, err)
	}

	instances := e.materialize(date, day, defs)
	e.attachRunning(date, instances)

	e.date = date
	e.instances = instances
	return e.sortedSnapshotLocked(), nil
}

// loadDefinitions enumerates the task notes and derives definitions.
// Non-task notes are skipped; a broken note never aborts the pass.
func (e *Engine) loadDefinitions() ([]task.Definition, error) {
	notes, err := e.vault.Enumerate(e.tasksDir)
	if err != nil {
		return nil, err
	}
	var defs []task.Definition
	for _, n := range notes {
		if !n.IsTask(e.taskTag) {
			continue
		}
		defs = append(defs, vault.DefinitionOf(n))
	}
	return defs, nil
}

// materialize runs the four pipeline steps over immutable snapshots of
// the definitions, log, and overlay. Only the overlay cache (legacy
// promotion, stale-deletion pruning) is written during a pass.
func (e *Engine) materialize(date task.DateKey, day time.Time, defs []task.Definition) []*task.Instance {
	// Promote legacy path-keyed deletions before any predicate runs.
	identities := make(map[string]string, len(defs))
	for _, d := range defs {
		identities[d.Path] = d.Identity()
	}
	if err := e.overlay.PromoteLegacy(date, identities); err != nil {
		slog.Warn("legacy overlay promotion failed", "date", date, "error", err)
	}

	var instances []*task.Instance
	materialized := make(map[string]bool) // locations already backed by an instance

	instances = e.materializeExecutions(date, defs, materialized, instances)
	instances = e.materializeDefinitions(date, day, defs, materialized, instances)
	instances = e.materializeDuplicates(date, defs, instances)
	instances = e.filterInstances(date, instances)

	e.applyOrders(date, instances)
	return instances
}

// materializeExecutions is step 1: the execution log is authoritative
// for Done instances. Entries are grouped by normalized title; each
// entry yields one Done instance unless suppressed by the overlay.
func (e *Engine) materializeExecutions(date task.DateKey, defs []task.Definition, materialized map[string]bool, instances []*task.Instance) []*task.Instance {
	entries := e.log.EntriesFor(date)
	st := e.overlay.Ensure(date)

	seq := make(map[string]int) // per-title sequence for generated ids
	for _, entry := range entries {
		def, ok := resolveDefinition(defs, entry.TaskPath, entry.TaskTitle)
		if !ok {
			// The backing document is gone; keep the history visible
			// through a placeholder definition.
			def = placeholderDefinition(entry.TaskPath, entry.TaskTitle, "")
		}

		id := entry.InstanceID
		if id == "" {
			n := seq[entry.TaskTitle]
			seq[entry.TaskTitle] = n + 1
			id = stableID(string(date), entry.TaskPath, normTitle(entry.TaskTitle), fmt.Sprint(n))
		}

		_, isDup := st.DuplicateByID(id)
		if e.suppressed(date, id, def, isDup) {
			continue
		}

		inst := &task.Instance{
			ID:        id,
			Def:       def,
			Date:      date,
			State:     task.Done,
			Slot:      entry.SlotKey,
			Duplicate: isDup,
		}
		if t, err := time.Parse(time.RFC3339, entry.StartTime); err == nil {
			lt := t.Local()
			inst.StartedAt = &lt
		}
		if t, err := time.Parse(time.RFC3339, entry.StopTime); err == nil {
			lt := t.Local()
			inst.StoppedAt = &lt
		}
		if inst.Slot == "" {
			inst.Slot = task.NoSlot
		}
		instances = append(instances, inst)
		materialized[entry.TaskPath] = true
		if ok {
			// Title resolution can land on a renamed document; mark the
			// resolved location too so step 2 does not materialize a
			// second base occurrence of the same definition.
			materialized[def.Path] = true
		}
	}
	return instances
}

// materializeDefinitions is step 2: every definition not already backed
// by an execution materializes at most one Idle base occurrence.
func (e *Engine) materializeDefinitions(date task.DateKey, day time.Time, defs []task.Definition, materialized map[string]bool, instances []*task.Instance) []*task.Instance {
	for _, def := range defs {
		if materialized[def.Path] {
			continue
		}

		if def.Routine {
			if def.Rule == nil || !recur.IsDue(day, *def.Rule, def.MovedTo) {
				continue
			}
		} else {
			survives, err := e.overlay.SurvivesDeletion(date, def)
			if err != nil {
				slog.Warn("survivor check failed", "path", def.Path, "error", err)
			}
			if !survives {
				continue
			}
			visible := task.SameDay(def.CreatedAt, day)
			if def.MovedTo != nil {
				visible = task.SameDay(*def.MovedTo, day)
			}
			if !visible {
				continue
			}
		}

		id := stableID(string(date), def.Identity(), "base")
		if e.suppressed(date, id, def, false) {
			continue
		}

		instances = append(instances, &task.Instance{
			ID:    id,
			Def:   def,
			Date:  date,
			State: task.Idle,
			Slot:  e.defaultSlot(date, def),
		})
	}
	return instances
}

// materializeDuplicates is step 3: duplicated overlay records not yet
// represented among the instances materialize as Idle occurrences at
// their stored slot, with a placeholder definition when the original
// document is gone.
func (e *Engine) materializeDuplicates(date task.DateKey, defs []task.Definition, instances []*task.Instance) []*task.Instance {
	st := e.overlay.Ensure(date)

	present := make(map[string]bool, len(instances))
	for _, inst := range instances {
		present[inst.ID] = true
	}

	for _, dup := range st.DuplicatedInstances {
		if present[dup.InstanceID] {
			continue
		}
		def, ok := resolveDefinition(defs, dup.OriginalPath, "")
		if !ok {
			def = placeholderDefinition(dup.OriginalPath, "", dup.OriginalTaskID)
		}
		if e.suppressed(date, dup.InstanceID, def, true) {
			continue
		}

		slot := dup.SlotKey
		if slot == "" || !e.bucketer.IsValid(slot) {
			slot = task.NoSlot
		}
		instances = append(instances, &task.Instance{
			ID:           dup.InstanceID,
			Def:          def,
			Date:         date,
			State:        task.Idle,
			Slot:         slot,
			OriginalSlot: dup.OriginalSlotKey,
			Duplicate:    true,
		})
	}
	return instances
}

// filterInstances is step 4, defense in depth: every materialized
// instance is re-checked against the overlay before being returned.
// Steps 1-3 already filter, but duplicates synthesized from stale
// records must be re-validated; instances with no definition identity
// at all are an invariant violation and dropped.
func (e *Engine) filterInstances(date task.DateKey, instances []*task.Instance) []*task.Instance {
	kept := instances[:0:0]
	for _, inst := range instances {
		if inst.Def.Path == "" && inst.Def.Name == "" && inst.Def.ID == "" {
			slog.Warn("dropping instance with no resolvable definition",
				"date", date, "instance_id", inst.ID, "code", ErrCodeNoDefinition)
			continue
		}
		if e.suppressed(date, inst.ID, inst.Def, inst.Duplicate) {
			continue
		}
		kept = append(kept, inst)
	}
	return kept
}

// suppressed applies both overlay predicates to one occurrence.
func (e *Engine) suppressed(date task.DateKey, id string, def task.Definition, duplicate bool) bool {
	if e.overlay.IsDeleted(date, overlay.DeletionQuery{
		InstanceID: id,
		Path:       def.Path,
		TaskID:     def.Identity(),
		Routine:    def.Routine,
		Duplicate:  duplicate,
	}) {
		return true
	}
	return e.overlay.IsHidden(date, overlay.HiddenQuery{
		InstanceID: id,
		Path:       def.Path,
		Duplicate:  duplicate,
	})
}

// defaultSlot derives an instance's slot: stored override first, then
// the scheduled time bucketed, then no slot.
func (e *Engine) defaultSlot(date task.DateKey, def task.Definition) string {
	st := e.overlay.Ensure(date)
	if slot, ok := st.SlotOverrides[def.Identity()]; ok && e.bucketer.IsValid(slot) {
		return slot
	}
	if slot, ok := st.SlotOverrides[def.Path]; ok && e.bucketer.IsValid(slot) {
		return slot
	}
	return e.scheduleSlot(def)
}

// scheduleSlot derives the slot from the definition's schedule alone,
// ignoring overrides. Used to decide when an override is redundant.
func (e *Engine) scheduleSlot(def task.Definition) string {
	if def.Scheduled == "" {
		return task.NoSlot
	}
	return e.bucketer.SlotFor(def.Scheduled)
}

// applyOrders assigns display orders: a default sequence in
// materialization order, overridden by persisted order values.
func (e *Engine) applyOrders(date task.DateKey, instances []*task.Instance) {
	st := e.overlay.Ensure(date)
	for i, inst := range instances {
		inst.Order = float64(i + 1)
		if o, ok := st.Orders[orderKey(inst)]; ok {
			inst.Order = o
		}
	}
}

// orderKey is the composite "<owner>::<slot>" key persisted in the
// overlay's orders map. Duplicates own their order by instance id, base
// occurrences by definition identity.
func orderKey(inst *task.Instance) string {
	owner := inst.Def.Identity()
	if inst.Duplicate {
		owner = inst.ID
	}
	return owner + "::" + inst.Slot
}

// attachRunning re-attaches Running state from the snapshot to
// instances the pipeline marked Idle. Matching is by instance id first,
// then by path for legacy records without one.
func (e *Engine) attachRunning(date task.DateKey, instances []*task.Instance) {
	for _, rec := range e.log.ReadRunning() {
		if rec.Date != string(date) {
			continue
		}
		inst := matchRunning(instances, rec)
		if inst == nil {
			slog.Warn("running record matches no instance", "date", date, "path", rec.TaskPath, "instance_id", rec.InstanceID)
			continue
		}
		if inst.State == task.Done {
			continue // the log already settled this occurrence
		}
		inst.State = task.Running
		if t, err := time.Parse(time.RFC3339, rec.StartTime); err == nil {
			lt := t.Local()
			inst.StartedAt = &lt
		}
		if rec.SlotKey != "" && e.bucketer.IsValid(rec.SlotKey) {
			inst.Slot = rec.SlotKey
		}
		if rec.OriginalSlotKey != "" {
			inst.OriginalSlot = rec.OriginalSlotKey
		}
	}
}

func matchRunning(instances []*task.Instance, rec execlog.RunningRecord) *task.Instance {
	if rec.InstanceID != "" {
		for _, inst := range instances {
			if inst.ID == rec.InstanceID {
				return inst
			}
		}
		return nil
	}
	for _, inst := range instances {
		if inst.Def.Path == rec.TaskPath && !inst.Duplicate {
			return inst
		}
	}
	return nil
}

// resolveDefinition finds a definition by location match first, then by
// normalized name match.
func resolveDefinition(defs []task.Definition, path, title string) (task.Definition, bool) {
	for _, d := range defs {
		if d.Path == path {
			return d, true
		}
	}
	if title != "" {
		want := normTitle(title)
		for _, d := range defs {
			if normTitle(d.Title()) == want {
				return d, true
			}
		}
	}
	return task.Definition{}, false
}

// placeholderDefinition stands in for a definition whose document is
// gone; the instance keeps rendering from what the record preserved.
func placeholderDefinition(path, title, taskID string) task.Definition {
	name := title
	if name == "" {
		name = pathBase(path)
	}
	return task.Definition{
		ID:   taskID,
		Path: path,
		Name: name,
	}
}

func pathBase(path string) string {
	base := path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			base = path[i+1:]
			break
		}
	}
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '.' {
			return base[:i]
		}
	}
	return base
}
