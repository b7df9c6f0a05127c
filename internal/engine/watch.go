package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/daymark/daymark/internal/vault"
)

// DefaultDebounce coalesces bursts of external change notifications
// into a single reconciliation pass.
const DefaultDebounce = 500 * time.Millisecond

// WatchVault consumes document change notifications until ctx is
// cancelled. Each burst of events, once quiet for the debounce window,
// drops every cached overlay and reconciles the current date: external
// writers are tolerated by coarse invalidation, not merged.
func (e *Engine) WatchVault(ctx context.Context, events <-chan vault.Event, debounce time.Duration) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	var pending int
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case ev, ok := <-events:
			if !ok {
				timer.Stop()
				return
			}
			pending++
			slog.Debug("vault change observed", "kind", ev.Kind.String(), "path", ev.Path)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(debounce)
		case <-timer.C:
			if pending == 0 {
				continue
			}
			slog.Info("external changes detected, reconciling", "events", pending)
			pending = 0
			e.overlay.InvalidateAll()
			if _, err := e.Reconcile(e.Date()); err != nil {
				slog.Error("reconciliation after external change failed", "error", err)
			}
		}
	}
}
