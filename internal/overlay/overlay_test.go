package overlay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daymark/daymark/internal/task"
	"github.com/daymark/daymark/internal/vault"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	v, err := vault.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	return NewStore(v, "overlay")
}

func TestIsDeleted_Precedence(t *testing.T) {
	st := NewDayState()
	st.DeletedInstances = []DeletionEntry{
		{InstanceID: "i-dup", Permanent: false},
		{TaskID: "t-1", Permanent: true},
		{Path: "tasks/legacy.md", Permanent: true},
		{Path: "tasks/routine.md", Permanent: false},
	}

	testCases := []struct {
		name string
		q    DeletionQuery
		want bool
	}{
		{"exact instance match", DeletionQuery{InstanceID: "i-dup", Path: "tasks/a.md"}, true},
		{"permanent by task id", DeletionQuery{InstanceID: "i-x", TaskID: "t-1", Path: "tasks/a.md"}, true},
		{"permanent by legacy path", DeletionQuery{InstanceID: "i-y", Path: "tasks/legacy.md"}, true},
		{"temporary path applies to routine", DeletionQuery{InstanceID: "i-z", Path: "tasks/routine.md", Routine: true}, true},
		{"temporary path ignores non-routine", DeletionQuery{InstanceID: "i-z", Path: "tasks/routine.md"}, false},
		{"unrelated untouched", DeletionQuery{InstanceID: "i-q", Path: "tasks/other.md", TaskID: "t-9"}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, st.IsDeleted(tc.q))
		})
	}
}

func TestIsDeleted_TemporaryInstanceScopedDoesNotSuppressSiblings(t *testing.T) {
	st := NewDayState()
	st.DeletedInstances = []DeletionEntry{
		{InstanceID: "i-a", Path: "tasks/shared.md", Permanent: false},
	}

	assert.True(t, st.IsDeleted(DeletionQuery{InstanceID: "i-a", Path: "tasks/shared.md", Routine: true}))
	assert.False(t, st.IsDeleted(DeletionQuery{InstanceID: "i-b", Path: "tasks/shared.md", Routine: true}),
		"a sibling at the same path must not be suppressed by an instance-keyed temporary deletion")
}

func TestIsHidden(t *testing.T) {
	st := NewDayState()
	st.HiddenRoutines = []HiddenEntry{
		{Path: "tasks/base.md"},
		{Path: "tasks/other.md", InstanceID: "i-dup"},
	}

	assert.True(t, st.IsHidden(HiddenQuery{Path: "tasks/base.md", InstanceID: "i-base"}),
		"path-keyed entry hides the base occurrence")
	assert.False(t, st.IsHidden(HiddenQuery{Path: "tasks/base.md", InstanceID: "i-d", Duplicate: true}),
		"path-keyed entry does not hide duplicates")
	assert.True(t, st.IsHidden(HiddenQuery{Path: "tasks/other.md", InstanceID: "i-dup", Duplicate: true}))
	assert.False(t, st.IsHidden(HiddenQuery{Path: "tasks/other.md", InstanceID: "i-other", Duplicate: true}))
}

func TestPromoteLegacy(t *testing.T) {
	st := NewDayState()
	st.DeletedInstances = []DeletionEntry{
		{Path: "tasks/a.md", Permanent: true},
		{TaskID: "t-a", Permanent: true},
		{Path: "tasks/b.md", Permanent: true},
		{InstanceID: "i-1"},
	}

	changed := st.PromoteLegacy(map[string]string{"tasks/a.md": "t-a"})
	require.True(t, changed)

	// tasks/a.md promoted to t-a and de-duplicated against the existing
	// t-a entry; tasks/b.md stays path-keyed; instance entry untouched.
	require.Len(t, st.DeletedInstances, 3)
	assert.Equal(t, "t-a", st.DeletedInstances[0].TaskID)
	assert.Equal(t, "tasks/b.md", st.DeletedInstances[1].Path)
	assert.Equal(t, "i-1", st.DeletedInstances[2].InstanceID)

	assert.False(t, st.PromoteLegacy(map[string]string{"tasks/a.md": "t-a"}), "idempotent")
}

func TestEnsure_CachesAndInvalidates(t *testing.T) {
	s := testStore(t)
	date := task.DateKey("2025-01-15")

	first := s.Ensure(date)
	assert.Same(t, first, s.Ensure(date), "second access hits the cache")

	require.NoError(t, s.Update(date, func(st *DayState) {
		st.HiddenRoutines = append(st.HiddenRoutines, HiddenEntry{Path: "tasks/a.md"})
	}))

	s.InvalidateAll()
	reloaded := s.Ensure(date)
	assert.NotSame(t, first, reloaded)
	require.Len(t, reloaded.HiddenRoutines, 1, "persisted state survives invalidation")
	assert.Equal(t, "tasks/a.md", reloaded.HiddenRoutines[0].Path)
}

func TestEnsure_MalformedDocumentIsEmpty(t *testing.T) {
	v, err := vault.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	s := NewStore(v, "overlay")

	require.NoError(t, v.WriteRaw("overlay/2025-01-15.json", []byte("{broken")))
	st := s.Ensure(task.DateKey("2025-01-15"))
	assert.Empty(t, st.DeletedInstances)
	assert.NotNil(t, st.SlotOverrides)
}

func TestSurvivesDeletion(t *testing.T) {
	s := testStore(t)
	date := task.DateKey("2025-01-15")

	deletedAt := time.Date(2025, 1, 10, 12, 0, 0, 0, time.Local)
	require.NoError(t, s.Update(date, func(st *DayState) {
		st.DeletedInstances = []DeletionEntry{{
			Path:      "tasks/once.md",
			Permanent: true,
			DeletedAt: deletedAt.Format(time.RFC3339),
		}}
	}))

	older := task.Definition{Path: "tasks/once.md", CreatedAt: deletedAt.Add(-time.Hour)}
	ok, err := s.SurvivesDeletion(date, older)
	require.NoError(t, err)
	assert.False(t, ok, "document created before the deletion stays suppressed")

	newer := task.Definition{Path: "tasks/once.md", CreatedAt: deletedAt.Add(time.Hour)}
	ok, err = s.SurvivesDeletion(date, newer)
	require.NoError(t, err)
	assert.True(t, ok, "document recreated after the deletion survives")

	// The stale entry was pruned for good.
	assert.Empty(t, s.Ensure(date).DeletedInstances)
}
