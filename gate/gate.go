// Package gate implements Component E, the Request Gate: a FIFO of
// deferred user operations that drains when the Sync State Coordinator
// emits sync:complete (spec.md section 4.E). The Gate is a pure
// scheduling layer: it never reorders, batches, or coalesces.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/Park-Yena00/reading-tracker-web/events"
)

// ErrCancelled is returned to any operation still queued when Clear is called.
var ErrCancelled = errors.New("gate: cleared")

// Operation is a deferred user mutation. It receives the ctx the caller
// originally supplied.
type Operation func(ctx context.Context) (any, error)

type ticket struct {
	ctx context.Context
	op  Operation
	res chan result
}

type result struct {
	value any
	err   error
}

// Gate defers Operations while a sync pass is active and drains them
// FIFO once it completes.
type Gate struct {
	logger *slog.Logger

	mu       sync.Mutex
	queue    []*ticket
	draining bool
}

// New builds a Gate and subscribes it to bus's sync:complete topic.
func New(bus *events.Bus, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{logger: logger}
	bus.Subscribe(events.SyncComplete, func(payload any) {
		go g.drain()
	})
	return g
}

// Defer hands op to the Gate and blocks until it has run (or the Gate is
// cleared), returning op's eventual result. This is the promise-returning
// behaviour of spec.md section 4.E translated to Go's blocking idiom:
// callers that want non-blocking behaviour should call Defer from their
// own goroutine.
func (g *Gate) Defer(ctx context.Context, op Operation) (any, error) {
	t := &ticket{ctx: ctx, op: op, res: make(chan result, 1)}
	g.mu.Lock()
	g.queue = append(g.queue, t)
	g.mu.Unlock()

	select {
	case r := <-t.res:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// drain sequentially runs every queued operation in arrival order. If a
// new sync cycle starts mid-drain (the caller re-enters Start on the
// Coordinator, which will call Defer again for new operations queued
// behind the ones already draining), draining still proceeds to the end
// of the snapshot it took; operations queued after the snapshot began
// wait for the next sync:complete, preserving FIFO.
func (g *Gate) drain() {
	g.mu.Lock()
	if g.draining {
		g.mu.Unlock()
		return
	}
	g.draining = true
	batch := g.queue
	g.queue = nil
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.draining = false
		g.mu.Unlock()
	}()

	for _, t := range batch {
		func(t *ticket) {
			defer func() {
				if r := recover(); r != nil {
					g.logger.Error("gate: deferred operation panicked", "panic", r)
					t.res <- result{err: errors.New("gate: deferred operation panicked")}
				}
			}()
			value, err := t.op(t.ctx)
			t.res <- result{value: value, err: err}
		}(t)
	}
}

// Clear rejects all queued operations with ErrCancelled.
func (g *Gate) Clear() {
	g.mu.Lock()
	batch := g.queue
	g.queue = nil
	g.mu.Unlock()
	for _, t := range batch {
		t.res <- result{err: ErrCancelled}
	}
}

// Len reports how many operations are currently queued (diagnostics).
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}
