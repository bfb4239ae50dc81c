package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Park-Yena00/reading-tracker-web/errkind"
	"github.com/Park-Yena00/reading-tracker-web/model"
	"github.com/Park-Yena00/reading-tracker-web/remote"
)

// ensureIdempotencyKey generates and persists a key on item if one is
// somehow missing (spec.md section 4.F step 3, CREATE bullet). In normal
// operation outbox.Enqueue already assigns one; this is defensive.
func (e *Engine) ensureIdempotencyKey(ctx context.Context, item *model.OutboxItem) error {
	if item.IdempotencyKey != "" {
		return nil
	}
	item.IdempotencyKey = uuid.NewString()
	return e.outbox.Update(ctx, item)
}

// finishSuccess marks item SUCCESS and removes it, matching the
// teacher's pattern of deleting an applied row from _sync_pending once
// it has been acknowledged (spec.md section 3: "SUCCESS (removable)").
func (e *Engine) finishSuccess(ctx context.Context, item *model.OutboxItem) {
	if err := e.outbox.MarkSuccess(ctx, item.ID); err != nil {
		e.logger.Error("failed to mark outbox item SUCCESS", "id", item.ID, "error", err)
		return
	}
	if err := e.outbox.Remove(ctx, item.ID); err != nil {
		e.logger.Error("failed to remove acknowledged outbox item", "id", item.ID, "error", err)
	}
}

// applyMemoRetention implements spec.md section 3's hybrid retention: a
// memo older than the retention window is dropped from the local store
// right after a successful CREATE or UPDATE -- it lives only on the
// server from then on and is fetched on demand (spec.md section 4.F:
// "Apply retention after CREATE and UPDATE (memos only)").
func (e *Engine) applyMemoRetention(ctx context.Context, m *model.Memo) error {
	if !m.IsOlderThan(time.Now().UTC(), e.cfg.RetentionWindow) {
		return nil
	}
	if err := e.store.DeleteMemo(ctx, m.LocalID); err != nil {
		return fmt.Errorf("failed to apply retention to memo %s: %w", m.LocalID, err)
	}
	return nil
}

func (e *Engine) processCreateMemo(ctx context.Context, item *model.OutboxItem) error {
	m, err := e.store.GetMemoByLocalID(ctx, item.LocalRef)
	if err != nil {
		return fmt.Errorf("failed to load memo %s for create: %w", item.LocalRef, err)
	}
	m.SyncStatus = model.StatusSyncingCreate
	if err := e.store.PutMemo(ctx, m); err != nil {
		return err
	}

	if err := e.ensureIdempotencyKey(ctx, item); err != nil {
		return fmt.Errorf("failed to ensure idempotency key for %s: %w", item.ID, err)
	}

	var payload remote.MemoPayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return errkind.New(errkind.InvariantViolation, 0, fmt.Errorf("failed to decode memo create payload: %w", err))
	}

	resp, err := e.remote.CreateMemo(ctx, payload, item.IdempotencyKey)
	if err != nil {
		return err
	}

	serverID := resp.ID
	m, err = e.store.GetMemoByLocalID(ctx, item.LocalRef)
	if err != nil {
		return fmt.Errorf("failed to reload memo %s after create: %w", item.LocalRef, err)
	}
	m.ServerID = &serverID
	m.SyncStatus = model.StatusSynced
	m.UpdatedAt = time.Now().UTC()
	m.SyncQueueID = nil
	if err := e.store.PutMemo(ctx, m); err != nil {
		return err
	}

	if err := e.cascadeServerRef(ctx, item.LocalRef, serverID); err != nil {
		return err
	}
	if err := e.applyMemoRetention(ctx, m); err != nil {
		return err
	}

	e.finishSuccess(ctx, item)
	return nil
}

func (e *Engine) processUpdateMemo(ctx context.Context, item *model.OutboxItem) error {
	if item.ServerRef == nil {
		return errkind.Newf(errkind.InvariantViolation, 0, "UPDATE outbox item %s has no serverRef", item.ID)
	}

	m, err := e.store.GetMemoByLocalID(ctx, item.LocalRef)
	if err != nil {
		return fmt.Errorf("failed to load memo %s for update: %w", item.LocalRef, err)
	}
	m.SyncStatus = model.StatusSyncingUpdate
	if err := e.store.PutMemo(ctx, m); err != nil {
		return err
	}

	var payload remote.MemoPayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return errkind.New(errkind.InvariantViolation, 0, fmt.Errorf("failed to decode memo update payload: %w", err))
	}

	if _, err := e.remote.UpdateMemo(ctx, *item.ServerRef, payload); err != nil {
		return err
	}

	m, err = e.store.GetMemoByLocalID(ctx, item.LocalRef)
	if err != nil {
		return fmt.Errorf("failed to reload memo %s after update: %w", item.LocalRef, err)
	}
	m.SyncStatus = model.StatusSynced
	m.UpdatedAt = time.Now().UTC()
	m.SyncQueueID = nil
	if err := e.store.PutMemo(ctx, m); err != nil {
		return err
	}
	if err := e.applyMemoRetention(ctx, m); err != nil {
		return err
	}

	e.finishSuccess(ctx, item)
	return nil
}

func (e *Engine) processDeleteMemo(ctx context.Context, item *model.OutboxItem) error {
	if item.ServerRef == nil {
		return errkind.Newf(errkind.InvariantViolation, 0, "DELETE outbox item %s has no serverRef", item.ID)
	}

	m, err := e.store.GetMemoByLocalID(ctx, item.LocalRef)
	if err != nil {
		return fmt.Errorf("failed to load memo %s for delete: %w", item.LocalRef, err)
	}
	m.SyncStatus = model.StatusSyncingDelete
	if err := e.store.PutMemo(ctx, m); err != nil {
		return err
	}

	if err := e.remote.DeleteMemo(ctx, *item.ServerRef); err != nil {
		if errkind.KindOf(err) != errkind.NotFound {
			return err
		}
		e.logger.Debug("delete target already absent server-side, treating as success", "id", item.ID)
	}

	if err := e.store.DeleteMemo(ctx, item.LocalRef); err != nil {
		return fmt.Errorf("failed to remove memo %s after delete: %w", item.LocalRef, err)
	}

	e.finishSuccess(ctx, item)
	return nil
}
