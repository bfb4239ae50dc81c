// Package facade implements Component G, the Public Service Facade: the
// read/write entry points UI code consumes, implementing the hybrid
// network-aware policy of spec.md section 4.G and section 9's "one
// policy table" design note (operation x online-state x syncing-state).
// It is grounded on the teacher's oversqlite.Client as the thing UI code
// calls instead of the Outbox/Store directly, generalized with the
// server-first-when-online-and-idle / store-first-when-offline branching,
// with writes deferred through the Request Gate while a sync is running.
package facade

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Park-Yena00/reading-tracker-web/engine"
	"github.com/Park-Yena00/reading-tracker-web/errkind"
	"github.com/Park-Yena00/reading-tracker-web/gate"
	"github.com/Park-Yena00/reading-tracker-web/netprobe"
	"github.com/Park-Yena00/reading-tracker-web/remote"
	"github.com/Park-Yena00/reading-tracker-web/store"
	"github.com/Park-Yena00/reading-tracker-web/syncstate"
)

// Facade is Component G.
type Facade struct {
	store  *store.Store
	engine *engine.Engine
	remote *remote.Client
	probe  *netprobe.Prober
	coord  *syncstate.Coordinator
	gate   *gate.Gate
	logger *slog.Logger
}

// New builds a Facade wired to its collaborators (spec.md section 9's
// composition-root design note: every dependency is explicit).
func New(st *store.Store, eng *engine.Engine, rc *remote.Client, probe *netprobe.Prober, coord *syncstate.Coordinator, g *gate.Gate, logger *slog.Logger) *Facade {
	if logger == nil {
		logger = slog.Default()
	}
	return &Facade{store: st, engine: eng, remote: rc, probe: probe, coord: coord, gate: g, logger: logger}
}

func (f *Facade) isOnline() bool {
	return f.probe == nil || f.probe.IsOnline()
}

func (f *Facade) isSyncing() bool {
	return f.coord != nil && f.coord.IsSyncing()
}

// networkClassFailure matches spec.md section 4.G's definition: transport
// failures and server 5xx fall back to the offline path; other errors
// (validation, auth, not-found) surface to the caller unchanged.
func networkClassFailure(err error) bool {
	if err == nil {
		return false
	}
	k := errkind.KindOf(err)
	return k == errkind.NetworkTransient || k == errkind.Server5xx
}

// triggerSyncIfIdle fires the Sync Engine in the background when online
// and not already syncing, matching spec.md section 2's data-flow note
// ("On mutation ... if online and not syncing) triggers Sync Engine").
// This is an explicit fire-and-forget task whose error is always logged
// (spec.md section 9 design notes), never swallowed silently.
func (f *Facade) triggerSyncIfIdle() {
	if !f.isOnline() || f.isSyncing() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := f.engine.RunOnce(ctx); err != nil {
			f.logger.Error("background-triggered sync pass failed", "error", err)
		}
	}()
}

// cacheAsync writes fn's result into the Store best-effort and never
// blocks the caller's read (spec.md section 4.G: "cache the returned
// documents into the Store asynchronously (best-effort, never blocks)").
func (f *Facade) cacheAsync(fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			f.logger.Warn("best-effort cache write failed", "error", err)
		}
	}()
}

func newIdempotencyKey() string { return uuid.NewString() }

// isNotFound reports whether err is classified not-found, the kind
// spec.md section 7 treats as success-equivalent on DELETE.
func isNotFound(err error) bool {
	return errkind.KindOf(err) == errkind.NotFound
}
