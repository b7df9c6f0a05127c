package vault

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daymark/daymark/internal/task"
)

func openTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	return v
}

func TestSplitFrontMatter(t *testing.T) {
	testCases := []struct {
		name     string
		content  string
		wantMeta string
		wantBody string
	}{
		{
			name:     "with front matter",
			content:  "---\nid: t1\n---\nbody text\n",
			wantMeta: "id: t1",
			wantBody: "body text\n",
		},
		{
			name:     "no front matter",
			content:  "just a body\n",
			wantMeta: "",
			wantBody: "just a body\n",
		},
		{
			name:     "unterminated fence",
			content:  "---\nid: t1\nbody text\n",
			wantMeta: "",
			wantBody: "---\nid: t1\nbody text\n",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			meta, body := splitFrontMatter(tc.content)
			assert.Equal(t, tc.wantMeta, meta)
			assert.Equal(t, tc.wantBody, body)
		})
	}
}

func TestReadNote_ParsesFrontMatter(t *testing.T) {
	v := openTestVault(t)

	require.NoError(t, v.Create("tasks/review.md", Meta{
		ID:        "t-review",
		Tags:      []string{"task"},
		Routine:   true,
		Scheduled: "09:00",
		Recurrence: &RuleMeta{
			Kind:     "weekly",
			Weekdays: []int{1, 3},
		},
	}, "Weekly review.\n"))

	n, err := v.ReadNote("tasks/review.md")
	require.NoError(t, err)
	assert.Equal(t, "review", n.Name)
	assert.Equal(t, "t-review", n.Meta.ID)
	assert.True(t, n.IsTask("task"))
	require.NotNil(t, n.Meta.Recurrence)
	assert.Equal(t, []int{1, 3}, n.Meta.Recurrence.Weekdays)
}

func TestReadNote_MalformedFrontMatterIsEmpty(t *testing.T) {
	v := openTestVault(t)
	require.NoError(t, v.WriteRaw("tasks/bad.md", []byte("---\n: [unbalanced\n---\nbody\n")))

	n, err := v.ReadNote("tasks/bad.md")
	require.NoError(t, err, "malformed front matter must not fail the read")
	assert.Equal(t, Meta{}, n.Meta)
}

func TestIsTask_InlineTag(t *testing.T) {
	v := openTestVault(t)
	require.NoError(t, v.WriteRaw("tasks/inline.md", []byte("Do the thing #task\n")))

	n, err := v.ReadNote("tasks/inline.md")
	require.NoError(t, err)
	assert.True(t, n.IsTask("task"))
	assert.False(t, n.IsTask("project"))
}

func TestEnumerate_SortedAndFiltered(t *testing.T) {
	v := openTestVault(t)
	require.NoError(t, v.WriteRaw("tasks/b.md", []byte("#task b\n")))
	require.NoError(t, v.WriteRaw("tasks/a.md", []byte("#task a\n")))
	require.NoError(t, v.WriteRaw("tasks/notes.txt", []byte("not markdown\n")))

	notes, err := v.Enumerate("tasks")
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, "tasks/a.md", notes[0].Path)
	assert.Equal(t, "tasks/b.md", notes[1].Path)
}

func TestEnumerate_MissingFolderIsEmpty(t *testing.T) {
	v := openTestVault(t)
	notes, err := v.Enumerate("nope")
	require.NoError(t, err)
	assert.Empty(t, notes)
}

func TestRename_KeepsIndexCreation(t *testing.T) {
	v := openTestVault(t)
	require.NoError(t, v.WriteRaw("tasks/old.md", []byte("#task\n")))

	created, ok := v.index.CreatedAt("tasks/old.md")
	require.True(t, ok)

	require.NoError(t, v.Rename("tasks/old.md", "tasks/new.md"))
	assert.False(t, v.Exists("tasks/old.md"))
	assert.True(t, v.Exists("tasks/new.md"))

	moved, ok := v.index.CreatedAt("tasks/new.md")
	require.True(t, ok)
	assert.Equal(t, created, moved)
}

func TestScan_DetectsExternalChangesOnly(t *testing.T) {
	v := openTestVault(t)
	events := v.Subscribe()

	// A local write is tagged and must not notify.
	require.NoError(t, v.WriteRaw("tasks/local.md", []byte("#task\n")))
	v.Scan()
	select {
	case ev := <-events:
		t.Fatalf("unexpected event for local write: %+v", ev)
	default:
	}
}

func TestDefinitionOf(t *testing.T) {
	enabled := false
	week := WeekValue(-1)
	n := &Note{
		Path: "tasks/standup.md",
		Name: "standup",
		Meta: Meta{
			ID:        "t-standup",
			Title:     "Daily standup",
			Scheduled: "09:30",
			Moved:     "2025-02-10",
			Recurrence: &RuleMeta{
				Kind:          "monthly",
				Interval:      0, // defaults to 1
				Enabled:       &enabled,
				Week:          &week,
				MonthWeekdays: []int{5},
			},
		},
		Created: time.Date(2025, 1, 1, 0, 0, 0, 0, time.Local),
	}

	def := DefinitionOf(n)
	assert.Equal(t, "t-standup", def.ID)
	assert.Equal(t, "Daily standup", def.Title())
	assert.True(t, def.Routine, "a recurrence rule implies routine")
	require.NotNil(t, def.Rule)
	assert.Equal(t, task.Monthly, def.Rule.Kind)
	assert.Equal(t, 1, def.Rule.Interval)
	assert.False(t, def.Rule.Enabled)
	assert.Equal(t, []int{task.WeekLast}, def.Rule.WeekSet())
	require.NotNil(t, def.MovedTo)
	assert.Equal(t, time.Date(2025, 2, 10, 0, 0, 0, 0, time.Local), *def.MovedTo)
}

func TestWeekValue_Unmarshal(t *testing.T) {
	meta, err := parseMeta("recurrence:\n  kind: monthly\n  weeks: [2, last, bogus]\n")
	require.NoError(t, err)
	require.NotNil(t, meta.Recurrence)
	assert.Equal(t, []WeekValue{2, -1, 0}, meta.Recurrence.Weeks)
}
