// Package syncstate implements Component D, the Sync State Coordinator:
// tracks the global sync-in-progress lifecycle, pending/processed
// counters, and emits lifecycle events (spec.md section 4.D). It never
// talks to the network -- its sole purpose is to expose a single
// coherent lifecycle to multiple sync drivers (memos and shelf), which
// may each report progress and contribute to the same cycle.
package syncstate

import (
	"context"
	"sync"
	"time"

	"github.com/Park-Yena00/reading-tracker-web/events"
)

// Coordinator tracks one sync cycle at a time.
type Coordinator struct {
	bus *events.Bus

	mu             sync.Mutex
	isSyncing      bool
	pendingCount   int
	processedCount int
	syncStartTime  time.Time

	waiters []chan struct{}
}

// New builds a Coordinator that publishes lifecycle events on bus.
func New(bus *events.Bus) *Coordinator {
	return &Coordinator{bus: bus}
}

// Start transitions to active with the given pending count. Idempotent:
// only the first call (while not already syncing) performs the
// transition and emits sync:start; subsequent calls while a cycle is
// active are no-ops, matching spec.md section 4.D's "idempotent: only
// first call transitions to active".
func (c *Coordinator) Start(pending int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isSyncing {
		return
	}
	c.isSyncing = true
	c.pendingCount = pending
	c.processedCount = 0
	c.syncStartTime = time.Now()
	c.bus.Publish(events.SyncStart, events.SyncProgressPayload{PendingCount: pending})
}

// UpdateProgress accumulates processedCount by delta and sets the
// remaining pending count, then publishes sync:progress.
func (c *Coordinator) UpdateProgress(delta, remaining int) {
	c.mu.Lock()
	c.processedCount += delta
	c.pendingCount = remaining
	payload := events.SyncProgressPayload{PendingCount: remaining, ProcessedCount: c.processedCount}
	c.mu.Unlock()
	c.bus.Publish(events.SyncProgress, payload)
}

// PendingCounter is injected so CheckComplete can inspect the Outbox
// without this package importing the outbox package directly -- this
// keeps the Coordinator a pure lifecycle tracker, per spec.md section
// 4.D ("This component never talks to the network").
type PendingCounter func(ctx context.Context) (int, error)

// CheckComplete inspects the Outbox PENDING count via count; if it is
// zero, transitions to complete and emits sync:complete exactly once per
// cycle.
func (c *Coordinator) CheckComplete(ctx context.Context, count PendingCounter) error {
	n, err := count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	c.mu.Lock()
	if !c.isSyncing {
		c.mu.Unlock()
		return nil
	}
	c.isSyncing = false
	processed := c.processedCount
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	c.bus.Publish(events.SyncComplete, events.SyncCompletePayload{ProcessedCount: processed})
	for _, w := range waiters {
		close(w)
	}
	return nil
}

// IsSyncing reports whether a cycle is currently active.
func (c *Coordinator) IsSyncing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isSyncing
}

// Snapshot returns the current counters for diagnostics/UI.
func (c *Coordinator) Snapshot() (pending, processed int, syncing bool, startedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingCount, c.processedCount, c.isSyncing, c.syncStartTime
}

// WaitForComplete blocks until sync:complete fires and returns true; it
// returns true at once when no cycle is active, and false when timeout
// elapses or ctx is done first. A timeout "resolves false" per spec.md
// section 5 and is never an error.
func (c *Coordinator) WaitForComplete(ctx context.Context, timeout time.Duration) (completed bool) {
	c.mu.Lock()
	if !c.isSyncing {
		c.mu.Unlock()
		return true
	}
	ch := make(chan struct{})
	c.waiters = append(c.waiters, ch)
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
