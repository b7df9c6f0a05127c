package engine

import (
	"sync"

	"github.com/google/uuid"
)

// IDGenerator generates instance ids for freshly created occurrences
// (duplicates, log entries without a stored id). Implemented by
// UUIDv7Generator (production) and FixedGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 instance ids.
//
// Thread-safety: stateless, safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined ids for deterministic tests.
// Panics when all ids are consumed, to fail fast on misconfiguration.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// instanceNamespace scopes the content-derived ids below. Never change:
// ids computed under it are persisted in running snapshots and logs.
var instanceNamespace = uuid.MustParse("9a3c52e2-05cf-43a6-b1d4-8f6f6d2c5e10")

// stableID derives a deterministic instance id from the occurrence's
// identity. Base occurrences carry no randomness so that re-running the
// pipeline with unchanged inputs reproduces the same id; a Running
// instance must never be orphaned by a reload.
func stableID(parts ...string) string {
	data := make([]byte, 0, 64)
	for i, p := range parts {
		if i > 0 {
			data = append(data, 0)
		}
		data = append(data, p...)
	}
	return uuid.NewSHA1(instanceNamespace, data).String()
}
