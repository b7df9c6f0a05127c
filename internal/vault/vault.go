// Package vault is the document store: markdown notes with YAML front
// matter under a root directory, plus raw JSON documents for overlay
// state. A sqlite index caches enumeration metadata and drives external
// change detection.
package vault

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Note is one parsed markdown document.
type Note struct {
	Path     string // relative to the vault root
	Name     string // file name without extension
	Meta     Meta
	Body     string
	Created  time.Time
	Modified time.Time
}

// IsTask reports whether the note carries the task marker: the tag in
// front matter, or an inline "#<tag>" in the body.
func (n *Note) IsTask(tag string) bool {
	for _, t := range n.Meta.Tags {
		if strings.EqualFold(strings.TrimPrefix(t, "#"), tag) {
			return true
		}
	}
	return strings.Contains(n.Body, "#"+tag)
}

// Vault is a filesystem-backed document store rooted at a directory.
//
// Write operations tag themselves in recentWrites so the change watcher
// does not re-trigger a reconciliation for the vault's own persistence
// (see watch.go).
type Vault struct {
	root  string
	index *Index

	mu           sync.Mutex
	recentWrites map[string]time.Time
	subs         []chan Event
}

// Open opens a vault rooted at dir, creating it and its index database
// (".daymark/index.db") if needed.
func Open(dir string) (*Vault, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create vault root: %w", err)
	}
	stateDir := filepath.Join(dir, ".daymark")
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create vault state dir: %w", err)
	}
	idx, err := OpenIndex(filepath.Join(stateDir, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("open vault index: %w", err)
	}
	return &Vault{
		root:         dir,
		index:        idx,
		recentWrites: make(map[string]time.Time),
	}, nil
}

// Close closes the vault's index database.
func (v *Vault) Close() error {
	return v.index.Close()
}

// Root returns the vault root directory.
func (v *Vault) Root() string { return v.root }

func (v *Vault) abs(rel string) string {
	return filepath.Join(v.root, filepath.FromSlash(rel))
}

// ReadNote reads and parses one markdown note. Malformed front matter
// is logged and treated as empty rather than failing the read.
func (v *Vault) ReadNote(path string) (*Note, error) {
	raw, err := os.ReadFile(v.abs(path))
	if err != nil {
		return nil, fmt.Errorf("read note %s: %w", path, err)
	}
	info, err := os.Stat(v.abs(path))
	if err != nil {
		return nil, fmt.Errorf("stat note %s: %w", path, err)
	}

	block, body := splitFrontMatter(string(raw))
	meta, err := parseMeta(block)
	if err != nil {
		slog.Warn("malformed front matter, treating as empty", "path", path, "error", err)
		meta = Meta{}
	}

	n := &Note{
		Path:     path,
		Name:     strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Meta:     meta,
		Body:     body,
		Modified: info.ModTime(),
	}
	n.Created = v.createdAt(n, info.ModTime())
	return n, nil
}

// createdAt resolves a note's creation instant: explicit front matter
// date first, then the index's first-seen time, then file mtime.
func (v *Vault) createdAt(n *Note, mtime time.Time) time.Time {
	if n.Meta.Created != "" {
		if t, err := time.ParseInLocation("2006-01-02", n.Meta.Created, time.Local); err == nil {
			return t
		}
		if t, err := time.Parse(time.RFC3339, n.Meta.Created); err == nil {
			return t.Local()
		}
		slog.Warn("unparseable created date in front matter", "path", n.Path, "created", n.Meta.Created)
	}
	if t, ok := v.index.CreatedAt(n.Path); ok {
		return t
	}
	return mtime
}

// Enumerate lists the markdown notes under a folder (relative to the
// vault root), parsed and sorted by path. Notes that fail to read are
// skipped with a log entry so one broken file cannot hide the rest.
func (v *Vault) Enumerate(folder string) ([]*Note, error) {
	dir := v.abs(folder)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("enumerate %s: %w", folder, err)
	}

	var notes []*Note
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		rel := filepath.ToSlash(filepath.Join(folder, e.Name()))
		n, err := v.ReadNote(rel)
		if err != nil {
			slog.Warn("skipping unreadable note", "path", rel, "error", err)
			continue
		}
		notes = append(notes, n)
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].Path < notes[j].Path })
	return notes, nil
}

// Create writes a new note with the given front matter and body.
func (v *Vault) Create(path string, meta Meta, body string) error {
	content, err := renderNote(meta, body)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	return v.WriteRaw(path, []byte(content))
}

// Modify rewrites a note's front matter and body in place.
func (v *Vault) Modify(path string, meta Meta, body string) error {
	content, err := renderNote(meta, body)
	if err != nil {
		return fmt.Errorf("modify %s: %w", path, err)
	}
	return v.WriteRaw(path, []byte(content))
}

// Rename moves a document. The index entry follows so the creation
// instant survives the move.
func (v *Vault) Rename(oldPath, newPath string) error {
	if err := os.MkdirAll(filepath.Dir(v.abs(newPath)), 0o755); err != nil {
		return fmt.Errorf("rename %s: %w", oldPath, err)
	}
	if err := os.Rename(v.abs(oldPath), v.abs(newPath)); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", oldPath, newPath, err)
	}
	v.markSelfWrite(oldPath)
	v.markSelfWrite(newPath)
	if err := v.index.Rename(oldPath, newPath); err != nil {
		slog.Warn("index rename failed", "old", oldPath, "new", newPath, "error", err)
	}
	return nil
}

// Delete removes a document and its index entry.
func (v *Vault) Delete(path string) error {
	if err := os.Remove(v.abs(path)); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	v.markSelfWrite(path)
	if err := v.index.Forget(path); err != nil {
		slog.Warn("index forget failed", "path", path, "error", err)
	}
	return nil
}

// ReadRaw reads a document verbatim. Used for overlay JSON documents.
func (v *Vault) ReadRaw(path string) ([]byte, error) {
	data, err := os.ReadFile(v.abs(path))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// WriteRaw writes a document verbatim, creating parent directories and
// tagging the write as local.
func (v *Vault) WriteRaw(path string, data []byte) error {
	abs := v.abs(path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	v.markSelfWrite(path)
	mtime := time.Now()
	if info, statErr := os.Stat(abs); statErr == nil {
		mtime = info.ModTime()
	}
	if err := v.index.Touch(path, filepath.Base(path), mtime); err != nil {
		slog.Warn("index touch failed", "path", path, "error", err)
	}
	return nil
}

// Exists reports whether a document is present.
func (v *Vault) Exists(path string) bool {
	_, err := os.Stat(v.abs(path))
	return err == nil
}

// CreatedAt returns a document's creation instant (front matter date,
// index first-seen, or mtime).
func (v *Vault) CreatedAt(path string) (time.Time, error) {
	n, err := v.ReadNote(path)
	if err != nil {
		return time.Time{}, err
	}
	return n.Created, nil
}
