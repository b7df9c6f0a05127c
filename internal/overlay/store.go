package overlay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/daymark/daymark/internal/task"
	"github.com/daymark/daymark/internal/vault"
)

// Store owns the per-date overlay cache and its persistence. All
// mutation goes through Update so a date's record is always resolved
// before it is modified.
type Store struct {
	vault *vault.Vault
	dir   string

	mu    sync.Mutex
	cache map[task.DateKey]*DayState
}

// NewStore creates a Store persisting overlay documents under dir
// inside the vault, one JSON document per date key.
func NewStore(v *vault.Vault, dir string) *Store {
	return &Store{
		vault: v,
		dir:   dir,
		cache: make(map[task.DateKey]*DayState),
	}
}

func (s *Store) docPath(date task.DateKey) string {
	return s.dir + "/" + string(date) + ".json"
}

// Ensure returns the authoritative DayState for a date, loading it on
// first access and caching it. A missing document is an empty state; a
// malformed one is treated as empty and logged, never fatal.
func (s *Store) Ensure(date task.DateKey) *DayState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.cache[date]; ok {
		return st
	}
	st := s.load(date)
	s.cache[date] = st
	return st
}

func (s *Store) load(date task.DateKey) *DayState {
	data, err := s.vault.ReadRaw(s.docPath(date))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("overlay document unreadable, treating as empty", "date", date, "error", err)
		}
		return NewDayState()
	}
	st := NewDayState()
	if err := json.Unmarshal(data, st); err != nil {
		slog.Warn("overlay document malformed, treating as empty", "date", date, "error", err)
		return NewDayState()
	}
	st.normalize()
	return st
}

// Invalidate drops one cached date.
func (s *Store) Invalidate(date task.DateKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, date)
}

// InvalidateAll drops the whole cache. Called when an external write is
// detected: deliberately coarse, forcing a full reload of any date on
// next access.
func (s *Store) InvalidateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[task.DateKey]*DayState)
}

// Update resolves a date's record, applies fn to it, and persists the
// result atomically with respect to other Update calls.
func (s *Store) Update(date task.DateKey, fn func(*DayState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.cache[date]
	if !ok {
		st = s.load(date)
		s.cache[date] = st
	}
	fn(st)
	return s.persistLocked(date, st)
}

func (s *Store) persistLocked(date task.DateKey, st *DayState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal overlay %s: %w", date, err)
	}
	if err := s.vault.WriteRaw(s.docPath(date), data); err != nil {
		return fmt.Errorf("persist overlay %s: %w", date, err)
	}
	return nil
}

// IsHidden checks the queried occurrence against one date's hidden
// entries.
func (s *Store) IsHidden(date task.DateKey, q HiddenQuery) bool {
	return s.Ensure(date).IsHidden(q)
}

// IsDeleted checks the queried occurrence against one date's deletion
// entries.
func (s *Store) IsDeleted(date task.DateKey, q DeletionQuery) bool {
	return s.Ensure(date).IsDeleted(q)
}

// SetHidden atomically replaces and persists one date's hidden list.
func (s *Store) SetHidden(date task.DateKey, entries []HiddenEntry) error {
	return s.Update(date, func(st *DayState) {
		st.HiddenRoutines = entries
	})
}

// SetDeleted atomically replaces and persists one date's deletion list.
func (s *Store) SetDeleted(date task.DateKey, entries []DeletionEntry) error {
	return s.Update(date, func(st *DayState) {
		st.DeletedInstances = entries
	})
}

// PromoteLegacy promotes legacy path-keyed permanent deletions to
// identity keys for one date and persists when anything changed.
func (s *Store) PromoteLegacy(date task.DateKey, identities map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.cache[date]
	if !ok {
		st = s.load(date)
		s.cache[date] = st
	}
	if !st.PromoteLegacy(identities) {
		return nil
	}
	return s.persistLocked(date, st)
}

// SurvivesDeletion applies the recreated-document survivor rule for a
// one-shot definition with a permanent location- or identity-scoped
// deletion: a document recreated after the deletion instant survives,
// and the stale entry is pruned. Returns true when the definition may
// materialize.
func (s *Store) SurvivesDeletion(date task.DateKey, def task.Definition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.cache[date]
	if !ok {
		st = s.load(date)
		s.cache[date] = st
	}

	suppressed := false
	pruned := false
	kept := st.DeletedInstances[:0:0]
	for _, e := range st.DeletedInstances {
		if !e.Permanent || !matchesDefinition(e, def) {
			kept = append(kept, e)
			continue
		}
		if at, ok := e.deletedAtTime(); ok && def.CreatedAt.After(at) {
			// Recreated after the deletion: the entry is stale.
			pruned = true
			continue
		}
		suppressed = true
		kept = append(kept, e)
	}
	if !pruned {
		return !suppressed, nil
	}

	st.DeletedInstances = kept
	if err := s.persistLocked(date, st); err != nil {
		return !suppressed, fmt.Errorf("prune stale deletion: %w", err)
	}
	slog.Debug("pruned stale permanent deletion", "date", date, "path", def.Path)
	return !suppressed, nil
}

func matchesDefinition(e DeletionEntry, def task.Definition) bool {
	if e.TaskID != "" {
		return e.TaskID == def.Identity()
	}
	return e.Path != "" && e.Path == def.Path
}

// Now returns the current instant formatted the way overlay timestamps
// are stored.
func Now() string {
	return time.Now().Format(time.RFC3339)
}
