package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/Park-Yena00/reading-tracker-web/model"
)

// SweepIdleMemos implements spec.md section 3's periodic half of hybrid
// retention: "synced-and-idle memos older than 30 days are swept
// periodically." Unlike applyMemoRetention (which only ever fires right
// after a successful CREATE/UPDATE), this sweep catches memos that were
// already synced and simply aged out while idle.
func (e *Engine) SweepIdleMemos(ctx context.Context) (swept int, err error) {
	cutoff := time.Now().UTC().Add(-e.cfg.SweepAge)
	aged, err := e.store.ListMemosOlderThan(ctx, cutoff, model.StatusSynced)
	if err != nil {
		return 0, fmt.Errorf("failed to list aged memos for sweep: %w", err)
	}
	for _, m := range aged {
		if err := e.store.DeleteMemo(ctx, m.LocalID); err != nil {
			return swept, fmt.Errorf("failed to sweep memo %s: %w", m.LocalID, err)
		}
		swept++
	}
	return swept, nil
}

// RunSweepLoop runs SweepIdleMemos on interval until ctx is cancelled,
// logging (never swallowing) any sweep error -- the fire-and-forget task
// pattern spec.md section 9's design notes call for. Callers launch this
// in its own goroutine at composition-root wiring time.
func (e *Engine) RunSweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := e.SweepIdleMemos(ctx)
			if err != nil {
				e.logger.Error("retention sweep failed", "error", err)
				continue
			}
			if n > 0 {
				e.logger.Info("retention sweep removed idle memos", "count", n)
			}
		}
	}
}
