// Package engine reconciles the authoritative set of task occurrences
// for a calendar date from three overlapping sources (task definitions
// in the vault, the execution log, the per-date overlay) and keeps
// that set consistent under user mutations.
package engine

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/daymark/daymark/internal/execlog"
	"github.com/daymark/daymark/internal/overlay"
	"github.com/daymark/daymark/internal/task"
	"github.com/daymark/daymark/internal/timeslot"
	"github.com/daymark/daymark/internal/vault"
)

// Engine is the single writer over one day's instance set.
//
// All reconciliation passes and mutation transactions for the same
// date key run under one mutex: a mutation always resolves the current
// overlay record before modifying it, and no two passes interleave
// partial effects.
type Engine struct {
	vault    *vault.Vault
	overlay  *overlay.Store
	log      *execlog.Log
	bucketer *timeslot.Bucketer
	ids      IDGenerator
	now      func() time.Time

	tasksDir string
	taskTag  string

	mu        sync.Mutex
	date      task.DateKey
	instances []*task.Instance
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock. Used by tests and by the
// boundary timer harness.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithTasksDir sets the vault folder enumerated for task definitions.
// Default "tasks".
func WithTasksDir(dir string) Option {
	return func(e *Engine) { e.tasksDir = dir }
}

// WithTaskTag sets the marker tag that makes a note a task.
// Default "task".
func WithTaskTag(tag string) Option {
	return func(e *Engine) { e.taskTag = tag }
}

// New creates an Engine over the given collaborators.
func New(v *vault.Vault, ov *overlay.Store, lg *execlog.Log, b *timeslot.Bucketer, ids IDGenerator, opts ...Option) *Engine {
	e := &Engine{
		vault:    v,
		overlay:  ov,
		log:      lg,
		bucketer: b,
		ids:      ids,
		now:      time.Now,
		tasksDir: "tasks",
		taskTag:  "task",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Date returns the currently reconciled date key.
func (e *Engine) Date() task.DateKey {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.date
}

// Instances returns a snapshot of the current instance set, sorted for
// display: slot buckets in boundary order with the "none" bucket
// first, then Done < Running < Idle, then Order.
func (e *Engine) Instances() []task.Instance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sortedSnapshotLocked()
}

func (e *Engine) sortedSnapshotLocked() []task.Instance {
	out := make([]task.Instance, len(e.instances))
	for i, inst := range e.instances {
		out[i] = *inst
	}
	rank := e.slotRank()
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := rank(out[i].Slot), rank(out[j].Slot)
		if ri != rj {
			return ri < rj
		}
		if out[i].NormalizedState() != out[j].NormalizedState() {
			return out[i].NormalizedState() < out[j].NormalizedState()
		}
		return out[i].Order < out[j].Order
	})
	return out
}

// slotRank maps a slot key to its display position: "none" first, then
// boundary order, unknown keys last.
func (e *Engine) slotRank() func(string) int {
	keys := e.bucketer.Keys()
	pos := make(map[string]int, len(keys)+1)
	pos[task.NoSlot] = 0
	for i, k := range keys {
		pos[k] = i + 1
	}
	return func(slot string) int {
		if r, ok := pos[slot]; ok {
			return r
		}
		return len(keys) + 1
	}
}

// SlotGroup is one rendered bucket of the day view.
type SlotGroup struct {
	Slot      string
	Instances []task.Instance
}

// GroupBySlot returns the instance set grouped for the renderer: an
// explicit "none" bucket first, then every configured slot in boundary
// order, including empty ones.
func (e *Engine) GroupBySlot() []SlotGroup {
	snapshot := e.Instances()
	groups := []SlotGroup{{Slot: task.NoSlot}}
	for _, k := range e.bucketer.Keys() {
		groups = append(groups, SlotGroup{Slot: k})
	}
	index := make(map[string]int, len(groups))
	for i, g := range groups {
		index[g.Slot] = i
	}
	for _, inst := range snapshot {
		i, ok := index[inst.Slot]
		if !ok {
			i = 0 // unknown slot keys render in the no-slot bucket
		}
		groups[i].Instances = append(groups[i].Instances, inst)
	}
	return groups
}

// find returns the live instance with the given id.
func (e *Engine) findLocked(instanceID string) *task.Instance {
	for _, inst := range e.instances {
		if inst.ID == instanceID {
			return inst
		}
	}
	return nil
}

func (e *Engine) removeLocked(instanceID string) {
	kept := e.instances[:0]
	for _, inst := range e.instances {
		if inst.ID != instanceID {
			kept = append(kept, inst)
		}
	}
	// Nil out the freed tail so dropped instances can be collected.
	for i := len(kept); i < len(e.instances); i++ {
		e.instances[i] = nil
	}
	e.instances = kept
}

// persistRunningLocked rewrites the running snapshot as the union of
// this engine's Running instances and every record for an instance it
// does not own. The snapshot spans dates, so records belonging to
// other days must survive a state change here.
func (e *Engine) persistRunningLocked() error {
	owned := make(map[string]bool, len(e.instances))
	for _, inst := range e.instances {
		owned[inst.ID] = true
	}

	var records []execlog.RunningRecord
	for _, rec := range e.log.ReadRunning() {
		if !owned[rec.InstanceID] {
			records = append(records, rec)
		}
	}
	for _, inst := range e.instances {
		if inst.State != task.Running {
			continue
		}
		rec := execlog.RunningRecord{
			Date:       string(e.date),
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
		records = append(records, rec)
	}
	return e.log.WriteRunning(records)
}

// normTitle NFC-normalizes a title for comparison, so execution-log
// entries written by other tools still match their definitions.
func normTitle(s string) string {
	return norm.NFC.String(s)
}
