package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/daymark/daymark/internal/vault"
)

func TestWatchVault_ReconcilesAfterDebounce(t *testing.T) {
	f := newFixture(t, nil)
	f.addTask(t, "tasks/first.md", vault.Meta{Created: "2025-03-10"})
	f.reconcile(t, today)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan vault.Event, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.engine.WatchVault(ctx, events, 20*time.Millisecond)
	}()

	// An external writer adds a task; a burst of notifications follows.
	f.addTask(t, "tasks/second.md", vault.Meta{Created: "2025-03-10"})
	events <- vault.Event{Kind: vault.EventCreated, Path: "tasks/second.md"}
	events <- vault.Event{Kind: vault.EventModified, Path: "tasks/second.md"}

	assert.Eventually(t, func() bool {
		_, ok := findByPath(f.engine.Instances(), "tasks/second.md")
		return ok
	}, 2*time.Second, 10*time.Millisecond, "the burst coalesces into one reconciliation")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop on context cancellation")
	}
}

func TestWatchVault_StopsWhenChannelCloses(t *testing.T) {
	f := newFixture(t, nil)
	f.reconcile(t, today)

	events := make(chan vault.Event)
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.engine.WatchVault(context.Background(), events, 20*time.Millisecond)
	}()

	close(events)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop when the event channel closed")
	}
}
