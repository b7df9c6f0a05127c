package vault

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// EventKind classifies a document change notification.
type EventKind int

const (
	EventCreated EventKind = iota + 1
	EventModified
	EventDeleted
)

// String returns the lowercase kind name used in logs.
func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventModified:
		return "modified"
	case EventDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event is one external document change.
type Event struct {
	Kind EventKind
	Path string
}

// selfWriteWindow is how long a local write suppresses its own change
// notification. Long enough to cover the next scan, short enough that a
// genuine external edit shortly after is still seen.
const selfWriteWindow = 2 * time.Second

func (v *Vault) markSelfWrite(path string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.recentWrites[path] = time.Now()
}

func (v *Vault) isSelfWrite(path string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	at, ok := v.recentWrites[path]
	if !ok {
		return false
	}
	if time.Since(at) > selfWriteWindow {
		delete(v.recentWrites, path)
		return false
	}
	return true
}

// Subscribe registers a change listener. Events are dropped rather than
// blocking when the subscriber falls behind; the consumer treats any
// event as "something changed" and reconciles wholesale anyway.
func (v *Vault) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	v.mu.Lock()
	v.subs = append(v.subs, ch)
	v.mu.Unlock()
	return ch
}

func (v *Vault) publish(ev Event) {
	v.mu.Lock()
	subs := v.subs
	v.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Watch polls the filesystem against the index at the given interval,
// publishing create/modify/delete events for external changes until the
// context is cancelled. Local writes are filtered out so the vault's
// own persistence does not feed back into invalidation.
func (v *Vault) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.scan()
		}
	}
}

// Scan runs one change-detection pass immediately. Exposed for tests
// and for a manual refresh command.
func (v *Vault) Scan() { v.scan() }

func (v *Vault) scan() {
	seen := make(map[string]bool)

	err := filepath.WalkDir(v.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree: skip, keep scanning
		}
		if d.IsDir() {
			if d.Name() == ".daymark" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(v.root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !strings.HasSuffix(rel, ".md") && !strings.HasSuffix(rel, ".json") {
			return nil
		}
		seen[rel] = true

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}

		prev, known := v.index.Mtime(rel)
		switch {
		case !known:
			if err := v.index.Touch(rel, d.Name(), info.ModTime()); err != nil {
				slog.Warn("index touch failed", "path", rel, "error", err)
			}
			if !v.isSelfWrite(rel) {
				v.publish(Event{Kind: EventCreated, Path: rel})
			}
		case !info.ModTime().Equal(prev):
			if err := v.index.Touch(rel, d.Name(), info.ModTime()); err != nil {
				slog.Warn("index touch failed", "path", rel, "error", err)
			}
			if !v.isSelfWrite(rel) {
				v.publish(Event{Kind: EventModified, Path: rel})
			}
		}
		return nil
	})
	if err != nil {
		slog.Warn("vault scan failed", "error", err)
		return
	}

	// Anything indexed but no longer on disk was deleted.
	paths, err := v.index.Paths()
	if err != nil {
		slog.Warn("vault scan: list index", "error", err)
		return
	}
	for _, p := range paths {
		if seen[p] {
			continue
		}
		if err := v.index.Forget(p); err != nil {
			slog.Warn("index forget failed", "path", p, "error", err)
		}
		if !v.isSelfWrite(p) {
			v.publish(Event{Kind: EventDeleted, Path: p})
		}
	}
}
