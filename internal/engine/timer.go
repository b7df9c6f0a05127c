package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/daymark/daymark/internal/task"
)

// BoundaryTimer fires at each configured slot boundary. A firing first
// handles a date rollover (migrating still-running instances and
// reconciling the new date), then promotes elapsed Idle instances, then
// reschedules itself for the next boundary. Rescheduling always clears
// the previous handle first, so the last writer wins.
type BoundaryTimer struct {
	engine *Engine
	now    func() time.Time

	mu    sync.Mutex
	timer *time.Timer
}

// NewBoundaryTimer creates a timer bound to the engine's clock.
func NewBoundaryTimer(e *Engine) *BoundaryTimer {
	return &BoundaryTimer{engine: e, now: e.now}
}

// Start schedules the first firing. Safe to call again to force a
// reschedule.
func (t *BoundaryTimer) Start() {
	t.scheduleNext()
}

// Stop cancels the pending firing, if any.
func (t *BoundaryTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *BoundaryTimer) scheduleNext() {
	now := t.now()
	next := t.engine.NextBoundary(now)
	d := next.Sub(now)
	if d < time.Second {
		d = time.Second
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(d, t.fire)
	slog.Debug("boundary timer scheduled", "at", next.Format(time.RFC3339))
}

func (t *BoundaryTimer) fire() {
	now := t.now()
	today := task.KeyOf(now)
	if today != t.engine.Date() {
		if err := t.engine.MigrateRunning(today); err != nil {
			slog.Error("cross-date migration failed", "error", err)
		}
		if _, err := t.engine.Reconcile(today); err != nil {
			slog.Error("rollover reconciliation failed", "error", err)
		}
	}
	t.engine.PromoteElapsed(now)
	t.scheduleNext()
}

// NextBoundary returns the first slot boundary instant after now,
// falling back to next midnight when now is already in the last slot.
func (e *Engine) NextBoundary(now time.Time) time.Time {
	key := e.bucketer.SlotForTime(now)
	if end, ok := e.bucketer.SlotEnd(now, key); ok && end.After(now) {
		return end
	}
	return task.DayStart(now).AddDate(0, 0, 1)
}

// PromoteElapsed moves every Idle instance whose slot has fully
// elapsed into the current slot, through the normal move mutation.
// Running and Done instances are never touched.
func (e *Engine) PromoteElapsed(now time.Time) {
	current := e.bucketer.SlotForTime(now)

	e.mu.Lock()
	var stale []string
	for _, inst := range e.instances {
		if inst.State != task.Idle || inst.Slot == task.NoSlot || inst.Slot == current {
			continue
		}
		end, ok := e.bucketer.SlotEnd(now, inst.Slot)
		if ok && !end.After(now) {
			stale = append(stale, inst.ID)
		}
	}
	e.mu.Unlock()

	for _, id := range stale {
		if _, err := e.MoveToSlot(id, current, -1); err != nil {
			slog.Warn("elapsed-slot promotion failed", "instance_id", id, "error", err)
		}
	}
	if len(stale) > 0 {
		slog.Info("elapsed instances promoted", "slot", current, "count", len(stale))
	}
}

// ElapsedUpdate is one running instance's recomputed duration display.
type ElapsedUpdate struct {
	InstanceID string
	Elapsed    string
}

// ElapsedTicker periodically recomputes elapsed-duration strings for
// Running instances and hands them to a callback. It performs no
// persisted mutation and cancels itself once nothing is running.
type ElapsedTicker struct {
	engine   *Engine
	interval time.Duration
	notify   func([]ElapsedUpdate)

	mu     sync.Mutex
	ticker *time.Ticker
	done   chan struct{}
}

// NewElapsedTicker creates a ticker delivering updates to notify.
func NewElapsedTicker(e *Engine, interval time.Duration, notify func([]ElapsedUpdate)) *ElapsedTicker {
	if interval <= 0 {
		interval = time.Second
	}
	return &ElapsedTicker{engine: e, interval: interval, notify: notify}
}

// Start begins ticking; a second call while running is a no-op.
func (t *ElapsedTicker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ticker != nil {
		return
	}
	t.ticker = time.NewTicker(t.interval)
	t.done = make(chan struct{})
	go t.run(t.ticker, t.done)
}

// Stop cancels the ticker.
func (t *ElapsedTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *ElapsedTicker) stopLocked() {
	if t.ticker == nil {
		return
	}
	t.ticker.Stop()
	close(t.done)
	t.ticker = nil
	t.done = nil
}

func (t *ElapsedTicker) run(ticker *time.Ticker, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			updates := t.engine.elapsedUpdates()
			if len(updates) == 0 {
				t.mu.Lock()
				if t.ticker == ticker {
					t.stopLocked()
				}
				t.mu.Unlock()
				return
			}
			t.notify(updates)
		}
	}
}

func (e *Engine) elapsedUpdates() []ElapsedUpdate {
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()
	var updates []ElapsedUpdate
	for _, inst := range e.instances {
		if inst.State != task.Running || inst.StartedAt == nil {
			continue
		}
		updates = append(updates, ElapsedUpdate{
			InstanceID: inst.ID,
			Elapsed:    FormatElapsed(now.Sub(*inst.StartedAt)),
		})
	}
	return updates
}

// FormatElapsed renders a duration as "H:MM:SS".
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int(d.Seconds())
	return fmt.Sprintf("%d:%02d:%02d", s/3600, (s/60)%60, s%60)
}
