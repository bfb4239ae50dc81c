// Package engine implements Component F, the Sync Engine: the core
// algorithm that promotes WAITING items, claims PENDING items in
// arrival order, replays them against the remote boundary, reconciles
// the Durable Store, and drives the Sync State Coordinator (spec.md
// section 4.F). It is grounded on the teacher's oversqlite.uploadBatch /
// downloadBatch pair: a driver loop that claims work, calls out to the
// network, and reconciles local state inside the same pass.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Park-Yena00/reading-tracker-web/config"
	"github.com/Park-Yena00/reading-tracker-web/errkind"
	"github.com/Park-Yena00/reading-tracker-web/events"
	"github.com/Park-Yena00/reading-tracker-web/model"
	"github.com/Park-Yena00/reading-tracker-web/outbox"
	"github.com/Park-Yena00/reading-tracker-web/remote"
	"github.com/Park-Yena00/reading-tracker-web/store"
	"github.com/Park-Yena00/reading-tracker-web/syncstate"
)

// Engine is Component F.
type Engine struct {
	store       *store.Store
	outbox      *outbox.Queue
	remote      *remote.Client
	coordinator *syncstate.Coordinator
	bus         *events.Bus
	cfg         *config.Config
	logger      *slog.Logger
}

// New builds an Engine wired to its collaborators, following the
// composition-root design note in spec.md section 9: every dependency
// is passed explicitly, none are module-level singletons. coord may be
// nil -- the background worker (spec.md section 5) runs the same
// process* logic without a Coordinator, since it shares no in-memory
// state with the foreground.
func New(st *store.Store, ob *outbox.Queue, rc *remote.Client, coord *syncstate.Coordinator, bus *events.Bus, cfg *config.Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return &Engine{store: st, outbox: ob, remote: rc, coordinator: coord, bus: bus, cfg: cfg, logger: logger}
}

// RunOnce executes one full pass of spec.md section 4.F steps 1-5,
// including the Coordinator lifecycle calls. This is what the foreground
// Facade drives whenever isOnline && !isSyncing.
func (e *Engine) RunOnce(ctx context.Context) error {
	if _, err := e.claimAndProcessPending(ctx, true); err != nil {
		return err
	}
	if e.coordinator != nil {
		if err := e.coordinator.CheckComplete(ctx, e.countPending); err != nil {
			return fmt.Errorf("failed to check sync completion: %w", err)
		}
	}
	return nil
}

// RunBackgroundPass executes only steps 1-3 of spec.md section 4.F --
// promote WAITING items, collect and claim PENDING items, process them --
// without any Coordinator lifecycle calls. This is spec.md section 5's
// background sync worker: a second isolated driver against the same
// Outbox table that shares no in-memory state with the foreground.
func (e *Engine) RunBackgroundPass(ctx context.Context) (processed int, err error) {
	return e.claimAndProcessPending(ctx, false)
}

// claimAndProcessPending runs steps 1-3 and, when reportProgress is true
// and a Coordinator is wired, step 2's Coordinator.Start plus progress
// reporting as each item is claimed.
func (e *Engine) claimAndProcessPending(ctx context.Context, reportProgress bool) (int, error) {
	if err := e.retryFailed(ctx); err != nil {
		return 0, fmt.Errorf("failed to retry backed-off items: %w", err)
	}
	if err := e.promoteWaiting(ctx); err != nil {
		return 0, fmt.Errorf("failed to promote waiting items: %w", err)
	}

	pending, err := e.outbox.GetPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to collect pending items: %w", err)
	}
	if reportProgress && e.coordinator != nil && len(pending) > 0 {
		e.coordinator.Start(len(pending))
	}

	processed := 0
	for _, item := range pending {
		claimed, err := e.outbox.TryUpdateStatus(ctx, item.ID, model.OutboxPending, model.OutboxSyncing)
		if err != nil {
			e.logger.Error("failed to claim outbox item", "id", item.ID, "error", err)
			continue
		}
		if !claimed {
			continue // another driver already owns it
		}

		if err := e.processItem(ctx, item); err != nil {
			e.handleFailure(ctx, item, err)
		}
		processed++
		if reportProgress && e.coordinator != nil {
			remaining := len(pending) - processed
			if remaining < 0 {
				remaining = 0
			}
			e.coordinator.UpdateProgress(1, remaining)
		}
	}
	return processed, nil
}

// retryFailed rearms FAILED items whose exponential backoff window has
// elapsed and which haven't yet hit the retry cap, implementing spec.md
// section 4.F's "absorbed via outbox backoff" policy: a transient
// failure doesn't surface to the caller, it just waits its turn to be
// claimed again, the same way the teacher's uploaderLoop retries after a
// delay rather than failing the whole sync.
func (e *Engine) retryFailed(ctx context.Context) error {
	failed, err := e.outbox.GetFailed(ctx)
	if err != nil {
		return fmt.Errorf("failed to list failed items: %w", err)
	}
	now := time.Now().UTC()
	for _, item := range failed {
		if item.RetryCount >= e.cfg.MaxRetries {
			continue
		}
		if item.LastRetryAt == nil || now.Sub(*item.LastRetryAt) < backoffDelay(e.cfg.BackoffBase, item.RetryCount) {
			continue
		}
		// Only the status flips back to PENDING; retryCount keeps counting
		// toward the cap. outbox.Rearm, which clears it, is the manual re-arm.
		if err := e.outbox.UpdateStatus(ctx, item.ID, model.OutboxPending); err != nil {
			e.logger.Error("failed to rearm backed-off item", "id", item.ID, "error", err)
		}
	}
	return nil
}

// backoffDelay computes base * 2^(retryCount-1), the exponential backoff
// schedule spec.md section 6 assigns to each retry attempt.
func backoffDelay(base time.Duration, retryCount int) time.Duration {
	if retryCount <= 0 {
		return base
	}
	return base << (retryCount - 1)
}

func (e *Engine) countPending(ctx context.Context) (int, error) {
	items, err := e.outbox.GetPending(ctx)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// processItem re-fetches the item (its payload may have been mutated by
// coalescing between claim and now) and dispatches by entity kind and
// mutation kind.
func (e *Engine) processItem(ctx context.Context, claimed *model.OutboxItem) error {
	item, err := e.outbox.Get(ctx, claimed.ID)
	if err != nil {
		return fmt.Errorf("failed to re-read claimed item %s: %w", claimed.ID, err)
	}

	switch item.EntityKind {
	case model.EntityMemo:
		return e.processMemoItem(ctx, item)
	case model.EntityShelf:
		return e.processShelfItem(ctx, item)
	default:
		return errkind.Newf(errkind.InvariantViolation, 0, "unknown entity kind %q on outbox item %s", item.EntityKind, item.ID)
	}
}

func (e *Engine) processMemoItem(ctx context.Context, item *model.OutboxItem) error {
	switch item.Kind {
	case model.KindCreate:
		return e.processCreateMemo(ctx, item)
	case model.KindUpdate:
		return e.processUpdateMemo(ctx, item)
	case model.KindDelete:
		return e.processDeleteMemo(ctx, item)
	default:
		return errkind.Newf(errkind.InvariantViolation, 0, "unknown outbox kind %q on item %s", item.Kind, item.ID)
	}
}

func (e *Engine) processShelfItem(ctx context.Context, item *model.OutboxItem) error {
	switch item.Kind {
	case model.KindCreate:
		return e.processCreateShelf(ctx, item)
	case model.KindUpdate:
		return e.processUpdateShelf(ctx, item)
	case model.KindDelete:
		return e.processDeleteShelf(ctx, item)
	default:
		return errkind.Newf(errkind.InvariantViolation, 0, "unknown outbox kind %q on item %s", item.Kind, item.ID)
	}
}

// handleFailure implements spec.md section 7's propagation policy:
// network-transient and server-5xx are absorbed via outbox backoff;
// not-found on DELETE is success-equivalent and handled inline by the
// process* functions before ever reaching here; auth-expired is logged at
// Warn level and every other kind (conflict on CREATE included, as well
// as validation and invariant-violation, which indicate code bugs per
// spec.md section 7) at Error level, and all of them are left FAILED at
// the retry cap, so retryFailed never rearms them.
func (e *Engine) handleFailure(ctx context.Context, item *model.OutboxItem, cause error) {
	kind := errkind.KindOf(cause)
	switch kind {
	case errkind.NetworkTransient, errkind.Server5xx:
		e.logger.Warn("outbox item failed transiently, scheduling backoff", "id", item.ID, "kind", item.Kind, "error", cause)
		if err := e.outbox.MarkFailed(ctx, item.ID, cause); err != nil {
			e.logger.Error("failed to record transient failure", "id", item.ID, "error", err)
		}
	case errkind.AuthExpired:
		e.logger.Warn("outbox item failed: auth expired, surfacing signed-out condition", "id", item.ID, "error", cause)
		e.failTerminal(ctx, item, cause)
	default:
		e.logger.Error("outbox item failed non-transiently", "id", item.ID, "kind", item.Kind, "error", cause)
		e.failTerminal(ctx, item, cause)
	}
}

func (e *Engine) failTerminal(ctx context.Context, item *model.OutboxItem, cause error) {
	item.Status = model.OutboxFailed
	item.LastError = cause.Error()
	if item.RetryCount < e.cfg.MaxRetries {
		item.RetryCount = e.cfg.MaxRetries
	}
	now := time.Now().UTC()
	item.LastRetryAt = &now
	if err := e.outbox.Update(ctx, item); err != nil {
		e.logger.Error("failed to persist terminal failure", "id", item.ID, "error", err)
	}
	if err := e.setEntityFailed(ctx, item); err != nil {
		e.logger.Error("failed to mark entity failed", "id", item.ID, "error", err)
	}
}

func (e *Engine) setEntityFailed(ctx context.Context, item *model.OutboxItem) error {
	switch item.EntityKind {
	case model.EntityMemo:
		m, err := e.store.GetMemoByLocalID(ctx, item.LocalRef)
		if err != nil {
			if err == store.ErrNotFound {
				return nil
			}
			return err
		}
		m.SyncStatus = model.StatusFailed
		m.UpdatedAt = time.Now().UTC()
		return e.store.PutMemo(ctx, m)
	case model.EntityShelf:
		s, err := e.store.GetShelfEntryByLocalID(ctx, item.LocalRef)
		if err != nil {
			if err == store.ErrNotFound {
				return nil
			}
			return err
		}
		s.SyncStatus = model.StatusFailed
		return e.store.PutShelfEntry(ctx, s)
	}
	return nil
}

// marshalJSON is a small convenience wrapper so process*/enqueue code
// doesn't repeat the fmt.Errorf wrapping for every json.Marshal call.
func marshalJSON(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return data, nil
}
