package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daymark/daymark/internal/execlog"
	"github.com/daymark/daymark/internal/overlay"
	"github.com/daymark/daymark/internal/task"
	"github.com/daymark/daymark/internal/testutil"
	"github.com/daymark/daymark/internal/timeslot"
	"github.com/daymark/daymark/internal/vault"
)

// 2025-03-10 is a Monday.
const today = task.DateKey("2025-03-10")

type fixture struct {
	dir     string
	vault   *vault.Vault
	overlay *overlay.Store
	log     *execlog.Log
	clock   *testutil.FakeClock
	engine  *Engine
}

func newFixture(t *testing.T, ids IDGenerator) *fixture {
	t.Helper()
	dir := t.TempDir()
	v, err := vault.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { v.Close() })

	if ids == nil {
		ids = UUIDv7Generator{}
	}
	clock := testutil.NewFakeClock(time.Date(2025, 3, 10, 9, 0, 0, 0, time.Local))
	ov := overlay.NewStore(v, "overlays")
	lg := execlog.New(v, "logs")
	e := New(v, ov, lg, timeslot.Default(), ids, WithClock(clock.Now))
	return &fixture{dir: dir, vault: v, overlay: ov, log: lg, clock: clock, engine: e}
}

func (f *fixture) addTask(t *testing.T, path string, meta vault.Meta) {
	t.Helper()
	meta.Tags = append(meta.Tags, "task")
	require.NoError(t, f.vault.Create(path, meta, ""))
}

// blockOverlay makes overlay persistence for a date fail by occupying
// its document path with a directory.
func (f *fixture) blockOverlay(t *testing.T, date task.DateKey) {
	t.Helper()
	p := filepath.Join(f.dir, "overlays", string(date)+".json")
	require.NoError(t, os.MkdirAll(p, 0o755))
}

func (f *fixture) reconcile(t *testing.T, date task.DateKey) []task.Instance {
	t.Helper()
	instances, err := f.engine.Reconcile(date)
	require.NoError(t, err)
	return instances
}

func findByPath(instances []task.Instance, path string) (task.Instance, bool) {
	for _, inst := range instances {
		if inst.Def.Path == path && !inst.Duplicate {
			return inst, true
		}
	}
	return task.Instance{}, false
}

func TestReconcile_OneShotOnCreationDateOnly(t *testing.T) {
	f := newFixture(t, nil)
	f.addTask(t, "tasks/write-report.md", vault.Meta{Created: "2025-03-10", Scheduled: "13:00"})

	instances := f.reconcile(t, today)
	inst, ok := findByPath(instances, "tasks/write-report.md")
	require.True(t, ok, "one-shot created today should materialize")
	assert.Equal(t, task.Idle, inst.State)
	assert.Equal(t, "12:00-16:00", inst.Slot, "scheduled time buckets the slot")

	instances = f.reconcile(t, "2025-03-11")
	_, ok = findByPath(instances, "tasks/write-report.md")
	assert.False(t, ok, "one-shot must not appear on other dates")
}

func TestReconcile_OneShotMovedDate(t *testing.T) {
	f := newFixture(t, nil)
	f.addTask(t, "tasks/errand.md", vault.Meta{Created: "2025-03-08", Moved: "2025-03-10"})

	instances := f.reconcile(t, today)
	_, ok := findByPath(instances, "tasks/errand.md")
	assert.True(t, ok, "moved one-shot appears on the override date")

	instances = f.reconcile(t, "2025-03-08")
	_, ok = findByPath(instances, "tasks/errand.md")
	assert.False(t, ok, "moved one-shot no longer appears on its creation date")
}

func TestReconcile_RoutineDueByRule(t *testing.T) {
	f := newFixture(t, nil)
	f.addTask(t, "tasks/stretch.md", vault.Meta{
		Recurrence: &vault.RuleMeta{Kind: "daily"},
	})
	wednesday := 3
	f.addTask(t, "tasks/review.md", vault.Meta{
		Recurrence: &vault.RuleMeta{Kind: "weekly", Weekday: &wednesday},
	})

	instances := f.reconcile(t, today)
	_, ok := findByPath(instances, "tasks/stretch.md")
	assert.True(t, ok, "daily routine is due every day")
	_, ok = findByPath(instances, "tasks/review.md")
	assert.False(t, ok, "Wednesday routine is not due on a Monday")

	instances = f.reconcile(t, "2025-03-12")
	_, ok = findByPath(instances, "tasks/review.md")
	assert.True(t, ok, "Wednesday routine is due on a Wednesday")
}

func TestReconcile_NonTaskNotesIgnored(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.vault.Create("tasks/journal.md", vault.Meta{Created: "2025-03-10"}, "no marker here"))
	f.addTask(t, "tasks/real.md", vault.Meta{Created: "2025-03-10"})

	instances := f.reconcile(t, today)
	_, ok := findByPath(instances, "tasks/journal.md")
	assert.False(t, ok)
	_, ok = findByPath(instances, "tasks/real.md")
	assert.True(t, ok)
}

func TestReconcile_ExecutionsFirst(t *testing.T) {
	f := newFixture(t, nil)
	f.addTask(t, "tasks/stretch.md", vault.Meta{
		Recurrence: &vault.RuleMeta{Kind: "daily"},
	})
	require.NoError(t, f.log.Append(today, execlog.Entry{
		TaskTitle: "stretch",
		TaskPath:  "tasks/stretch.md",
		SlotKey:   "8:00-12:00",
		StartTime: "2025-03-10T08:10:00Z",
		StopTime:  "2025-03-10T08:25:00Z",
	}))

	instances := f.reconcile(t, today)
	inst, ok := findByPath(instances, "tasks/stretch.md")
	require.True(t, ok)
	assert.Equal(t, task.Done, inst.State, "a logged execution settles the occurrence as Done")
	assert.Equal(t, "8:00-12:00", inst.Slot)
	require.NotNil(t, inst.StartedAt)
	require.NotNil(t, inst.StoppedAt)

	count := 0
	for _, in := range instances {
		if in.Def.Path == "tasks/stretch.md" {
			count++
		}
	}
	assert.Equal(t, 1, count, "a materialized execution blocks the base Idle occurrence")
}

func TestReconcile_ExecutionUnderOldPathResolvesByTitle(t *testing.T) {
	f := newFixture(t, nil)
	f.addTask(t, "tasks/report.md", vault.Meta{Created: "2025-03-10"})
	require.NoError(t, f.log.Append(today, execlog.Entry{
		TaskTitle: "report",
		TaskPath:  "tasks/old-report.md",
		StartTime: "2025-03-10T08:10:00Z",
		StopTime:  "2025-03-10T08:25:00Z",
	}))

	instances := f.reconcile(t, today)
	inst, ok := findByPath(instances, "tasks/report.md")
	require.True(t, ok)
	assert.Equal(t, task.Done, inst.State)

	count := 0
	for _, in := range instances {
		if in.Def.Path == "tasks/report.md" {
			count++
		}
	}
	assert.Equal(t, 1, count, "a title-resolved execution blocks the base Idle occurrence")
}

func TestReconcile_ExecutionKeepsHistoryWhenDocumentGone(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.log.Append(today, execlog.Entry{
		TaskTitle: "old chore",
		TaskPath:  "tasks/old-chore.md",
		SlotKey:   "0:00-8:00",
		StartTime: "2025-03-10T06:00:00Z",
		StopTime:  "2025-03-10T06:30:00Z",
	}))

	instances := f.reconcile(t, today)
	inst, ok := findByPath(instances, "tasks/old-chore.md")
	require.True(t, ok, "history stays visible through a placeholder definition")
	assert.Equal(t, task.Done, inst.State)
	assert.Equal(t, "old chore", inst.Def.Title())
}

func TestReconcile_Idempotence(t *testing.T) {
	f := newFixture(t, nil)
	f.addTask(t, "tasks/one-shot.md", vault.Meta{Created: "2025-03-10"})
	f.addTask(t, "tasks/stretch.md", vault.Meta{
		Recurrence: &vault.RuleMeta{Kind: "daily"},
	})
	require.NoError(t, f.log.Append(today, execlog.Entry{
		TaskTitle: "done thing",
		TaskPath:  "tasks/done-thing.md",
		SlotKey:   "0:00-8:00",
		StartTime: "2025-03-10T06:00:00Z",
		StopTime:  "2025-03-10T06:30:00Z",
	}))

	first := f.reconcile(t, today)
	second := f.reconcile(t, today)

	ids := func(instances []task.Instance) map[string]task.State {
		m := make(map[string]task.State)
		for _, inst := range instances {
			m[inst.ID] = inst.State
		}
		return m
	}
	assert.Equal(t, ids(first), ids(second), "unchanged inputs must reproduce identical instance ids")
}

func TestReconcile_AttachesRunningFromSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	f.addTask(t, "tasks/deep-work.md", vault.Meta{Created: "2025-03-10"})

	instances := f.reconcile(t, today)
	inst, ok := findByPath(instances, "tasks/deep-work.md")
	require.True(t, ok)

	_, err := f.engine.Start(inst.ID)
	require.NoError(t, err)

	// A fresh engine over the same vault simulates a reload.
	e2 := New(f.vault, overlay.NewStore(f.vault, "overlays"), f.log, timeslot.Default(), UUIDv7Generator{}, WithClock(f.clock.Now))
	instances, err = e2.Reconcile(today)
	require.NoError(t, err)
	reloaded, ok := findByPath(instances, "tasks/deep-work.md")
	require.True(t, ok)
	assert.Equal(t, task.Running, reloaded.State, "running state survives a reload via the snapshot")
	assert.Equal(t, inst.ID, reloaded.ID, "the reloaded instance keeps its id")
	assert.NotNil(t, reloaded.StartedAt)
}

func TestReconcile_InvalidDate(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.engine.Reconcile("not-a-date")
	assert.Error(t, err)
}

func TestGroupBySlot_NoSlotBucketFirst(t *testing.T) {
	f := newFixture(t, nil)
	f.addTask(t, "tasks/unscheduled.md", vault.Meta{Created: "2025-03-10"})
	f.addTask(t, "tasks/morning.md", vault.Meta{Created: "2025-03-10", Scheduled: "9:00"})
	f.reconcile(t, today)

	groups := f.engine.GroupBySlot()
	require.Len(t, groups, 5, "no-slot bucket plus four default slots")
	assert.Equal(t, task.NoSlot, groups[0].Slot)

	var unscheduledIn, morningIn string
	for _, g := range groups {
		for _, inst := range g.Instances {
			switch inst.Def.Path {
			case "tasks/unscheduled.md":
				unscheduledIn = g.Slot
			case "tasks/morning.md":
				morningIn = g.Slot
			}
		}
	}
	assert.Equal(t, task.NoSlot, unscheduledIn)
	assert.Equal(t, "8:00-12:00", morningIn)
}

func TestStableID_Deterministic(t *testing.T) {
	a := stableID("2025-03-10", "tasks/x.md", "base")
	b := stableID("2025-03-10", "tasks/x.md", "base")
	c := stableID("2025-03-11", "tasks/x.md", "base")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestFixedGenerator_ReturnsInOrder(t *testing.T) {
	gen := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", gen.Generate())
	assert.Equal(t, "b", gen.Generate())
	assert.Panics(t, func() { gen.Generate() })
}
