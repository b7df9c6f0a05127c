// Package execlog persists completed and running occurrences. Two wire
// formats, both fixed for compatibility with existing deployments: a
// monthly JSON file mapping date strings to execution entries, and a
// single JSON snapshot of currently running instances.
package execlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/daymark/daymark/internal/task"
	"github.com/daymark/daymark/internal/vault"
)

// Entry is one completed occurrence. Field names are wire format.
type Entry struct {
	TaskTitle  string `json:"taskTitle"`
	TaskPath   string `json:"taskPath"`
	InstanceID string `json:"instanceId,omitempty"`
	SlotKey    string `json:"slotKey"`
	StartTime  string `json:"startTime"`
	StopTime   string `json:"stopTime"`
}

// RunningRecord is the crash/reload-recovery projection of one Running
// instance. Field names are wire format.
type RunningRecord struct {
	Date            string `json:"date"`
	TaskTitle       string `json:"taskTitle"`
	TaskPath        string `json:"taskPath"`
	StartTime       string `json:"startTime"`
	SlotKey         string `json:"slotKey,omitempty"`
	OriginalSlotKey string `json:"originalSlotKey,omitempty"`
	InstanceID      string `json:"instanceId,omitempty"`
	IsRoutine       bool   `json:"isRoutine,omitempty"`
	TaskID          string `json:"taskId,omitempty"`
}

// monthLog is the monthly file shape: date key -> entries.
type monthLog map[string][]Entry

// Log reads and writes execution records under one vault directory.
type Log struct {
	vault *vault.Vault
	dir   string
}

// New creates a Log storing its files under dir inside the vault.
func New(v *vault.Vault, dir string) *Log {
	return &Log{vault: v, dir: dir}
}

func (l *Log) monthPath(date task.DateKey) string {
	// "2025-01-15" -> "log-2025-01.json"
	return l.dir + "/log-" + string(date)[:7] + ".json"
}

func (l *Log) runningPath() string {
	return l.dir + "/running.json"
}

// readMonth loads the monthly file covering date. A missing file is an
// empty log; a malformed file is treated as empty and logged, never
// fatal to the caller's pass.
func (l *Log) readMonth(date task.DateKey) monthLog {
	data, err := l.vault.ReadRaw(l.monthPath(date))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("execution log unreadable, treating as empty", "path", l.monthPath(date), "error", err)
		}
		return monthLog{}
	}
	var m monthLog
	if err := json.Unmarshal(data, &m); err != nil {
		slog.Warn("execution log malformed, treating as empty", "path", l.monthPath(date), "error", err)
		return monthLog{}
	}
	if m == nil {
		m = monthLog{}
	}
	return m
}

func (l *Log) writeMonth(date task.DateKey, m monthLog) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal execution log: %w", err)
	}
	if err := l.vault.WriteRaw(l.monthPath(date), data); err != nil {
		return fmt.Errorf("write execution log: %w", err)
	}
	return nil
}

// EntriesFor returns the execution entries recorded for one date.
func (l *Log) EntriesFor(date task.DateKey) []Entry {
	return l.readMonth(date)[string(date)]
}

// Append records a completed occurrence.
func (l *Log) Append(date task.DateKey, e Entry) error {
	m := l.readMonth(date)
	m[string(date)] = append(m[string(date)], e)
	return l.writeMonth(date, m)
}

// Remove deletes entries matching the predicate from one date's group.
// Removing the last entry keeps an empty group out of the file.
func (l *Log) Remove(date task.DateKey, match func(Entry) bool) error {
	m := l.readMonth(date)
	entries := m[string(date)]
	kept := entries[:0:0]
	for _, e := range entries {
		if !match(e) {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(entries) {
		return nil
	}
	if len(kept) == 0 {
		delete(m, string(date))
	} else {
		m[string(date)] = kept
	}
	return l.writeMonth(date, m)
}

// ReadRunning loads the running snapshot. Missing or malformed files
// yield an empty snapshot, logged.
func (l *Log) ReadRunning() []RunningRecord {
	data, err := l.vault.ReadRaw(l.runningPath())
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("running snapshot unreadable, treating as empty", "error", err)
		}
		return nil
	}
	var records []RunningRecord
	if err := json.Unmarshal(data, &records); err != nil {
		slog.Warn("running snapshot malformed, treating as empty", "error", err)
		return nil
	}
	return records
}

// WriteRunning replaces the running snapshot.
func (l *Log) WriteRunning(records []RunningRecord) error {
	if records == nil {
		records = []RunningRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal running snapshot: %w", err)
	}
	if err := l.vault.WriteRaw(l.runningPath(), data); err != nil {
		return fmt.Errorf("write running snapshot: %w", err)
	}
	return nil
}
