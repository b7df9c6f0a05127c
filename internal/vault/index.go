package vault

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const indexSchema = `
CREATE TABLE IF NOT EXISTS docs (
	path    TEXT PRIMARY KEY,
	name    TEXT NOT NULL,
	mtime   INTEGER NOT NULL,
	created INTEGER NOT NULL
);
`

// Schema version tracking:
// 0 - pre-versioned databases
// 1 - initial docs table
const indexSchemaVersion = 1

// Index is a sqlite cache of document metadata: path, name, last seen
// mtime, and first-seen creation instant. It serves two purposes: fast
// enumeration without re-parsing every note, and external-change
// detection by mtime comparison.
type Index struct {
	db *sql.DB
}

// OpenIndex creates or opens the index database at path. Applies WAL
// mode, pragmas, and schema migrations; idempotent.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to index database: %w", err)
	}

	// SQLite supports one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply index schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", indexSchemaVersion)); err != nil {
		db.Close()
		return nil, fmt.Errorf("set index schema version: %w", err)
	}

	return &Index{db: db}, nil
}

// Close closes the index database.
func (ix *Index) Close() error {
	if ix.db == nil {
		return nil
	}
	return ix.db.Close()
}

// Touch upserts a document's entry, preserving the first-seen creation
// instant on conflict.
func (ix *Index) Touch(path, name string, mtime time.Time) error {
	_, err := ix.db.Exec(`
		INSERT INTO docs (path, name, mtime, created)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET name = excluded.name, mtime = excluded.mtime
	`, path, name, mtime.UnixNano(), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("index touch %s: %w", path, err)
	}
	return nil
}

// Mtime returns the recorded mtime for a path.
func (ix *Index) Mtime(path string) (time.Time, bool) {
	var ns int64
	err := ix.db.QueryRow(`SELECT mtime FROM docs WHERE path = ?`, path).Scan(&ns)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

// CreatedAt returns the first-seen creation instant for a path.
func (ix *Index) CreatedAt(path string) (time.Time, bool) {
	var ns int64
	err := ix.db.QueryRow(`SELECT created FROM docs WHERE path = ?`, path).Scan(&ns)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

// Rename moves an entry to a new path, keeping its creation instant.
func (ix *Index) Rename(oldPath, newPath string) error {
	_, err := ix.db.Exec(`UPDATE docs SET path = ? WHERE path = ?`, newPath, oldPath)
	if err != nil {
		return fmt.Errorf("index rename %s -> %s: %w", oldPath, newPath, err)
	}
	return nil
}

// Forget drops an entry.
func (ix *Index) Forget(path string) error {
	_, err := ix.db.Exec(`DELETE FROM docs WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("index forget %s: %w", path, err)
	}
	return nil
}

// Paths returns every indexed path.
func (ix *Index) Paths() ([]string, error) {
	rows, err := ix.db.Query(`SELECT path FROM docs ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("index paths: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("index paths: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
