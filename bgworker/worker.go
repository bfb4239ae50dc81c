// Package bgworker implements spec.md section 5's background sync
// worker: a service-worker-equivalent that runs in a second isolated
// event loop against the same Durable Store schema, re-implementing only
// steps 1-3 of the Sync Engine's algorithm (spec.md section 4.F) and
// sharing no in-memory state with the foreground. It is grounded on the
// teacher's oversqlite uploaderLoop/downloaderLoop pair: a driver loop
// with exponential backoff on error and a calmer pace on a quiet pass.
package bgworker

import (
	"context"
	"log/slog"
	"time"

	"github.com/Park-Yena00/reading-tracker-web/config"
	"github.com/Park-Yena00/reading-tracker-web/engine"
	"github.com/Park-Yena00/reading-tracker-web/events"
	"github.com/Park-Yena00/reading-tracker-web/outbox"
	"github.com/Park-Yena00/reading-tracker-web/remote"
	"github.com/Park-Yena00/reading-tracker-web/store"
)

// Online is consulted by the worker's loop before each pass. It is a
// function rather than a shared flag because the background worker must
// not reach into the foreground Network Probe's in-memory state (spec.md
// section 5); a real deployment wires this to the browser's own
// navigator.onLine-equivalent signal inside the worker's isolated
// context, or simply always returns true for a server-side deployment
// that is never "offline".
type Online func() bool

// Worker drives RunBackgroundPass on an interval with the teacher's
// exponential-backoff-on-error, steady-pace-on-success loop shape.
type Worker struct {
	engine *engine.Engine
	online Online
	logger *slog.Logger
	cfg    *config.Config
}

// New builds a Worker with its own Engine instance (coordinator nil,
// bus a dedicated one the caller need not share with the foreground).
func New(st *store.Store, ob *outbox.Queue, rc *remote.Client, cfg *config.Config, logger *slog.Logger, online Online) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if online == nil {
		online = func() bool { return true }
	}
	eng := engine.New(st, ob, rc, nil, events.New(), cfg, logger)
	return &Worker{engine: eng, online: online, logger: logger, cfg: cfg}
}

// Run loops RunBackgroundPass until ctx is cancelled, following the
// teacher's uploaderLoop shape: exponential backoff on error, capped at
// BackoffBase*8, and a steady pause between quiet passes.
func (w *Worker) Run(ctx context.Context) {
	backoff := w.cfg.BackoffBase
	maxBackoff := w.cfg.BackoffBase * 8

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !w.online() {
			time.Sleep(backoff)
			continue
		}

		processed, err := w.engine.RunBackgroundPass(ctx)
		if err != nil {
			w.logger.Error("background sync pass failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = w.cfg.BackoffBase
		if processed == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}
	}
}
