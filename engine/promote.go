package engine

import (
	"context"
	"fmt"

	"github.com/Park-Yena00/reading-tracker-web/model"
	"github.com/Park-Yena00/reading-tracker-web/outbox"
)

// promoteWaiting is step 1 of spec.md section 4.F: scan WAITING items;
// for each, look up its originalQueueId. If that item is SUCCESS (or has
// already been removed after succeeding -- SUCCESS items are
// "removable", spec.md section 3), flip the WAITING item to PENDING.
// This resolves the "delete during in-flight create/update" race
// (spec.md scenario S2).
func (e *Engine) promoteWaiting(ctx context.Context) error {
	waiting, err := e.outbox.GetWaiting(ctx)
	if err != nil {
		return fmt.Errorf("failed to list waiting items: %w", err)
	}
	for _, item := range waiting {
		if item.OriginalQueueID == nil {
			e.logger.Error("waiting item has no originalQueueId, promoting defensively", "id", item.ID)
			if err := e.outbox.UpdateStatus(ctx, item.ID, model.OutboxPending); err != nil {
				e.logger.Error("failed to promote malformed waiting item", "id", item.ID, "error", err)
			}
			continue
		}

		original, err := e.outbox.Get(ctx, *item.OriginalQueueID)
		if err != nil && err != outbox.ErrNotFound {
			return fmt.Errorf("failed to look up original item %s: %w", *item.OriginalQueueID, err)
		}

		succeeded := err == outbox.ErrNotFound || (original != nil && original.Status == model.OutboxSuccess)
		if !succeeded {
			continue
		}

		if err := e.outbox.UpdateStatus(ctx, item.ID, model.OutboxPending); err != nil {
			e.logger.Error("failed to promote waiting item", "id", item.ID, "error", err)
		}
	}
	return nil
}

// cascadeServerRef implements spec.md section 4.F's CREATE cascade: once
// a CREATE assigns a server id, every outbox item for the same localRef
// with kind UPDATE/DELETE and a missing serverRef gets it backfilled
// before it can be claimed (spec.md section 8, testable property 3).
func (e *Engine) cascadeServerRef(ctx context.Context, localRef string, serverID int64) error {
	items, err := e.outbox.GetByLocalRef(ctx, localRef)
	if err != nil {
		return fmt.Errorf("failed to list outbox items for cascade on %s: %w", localRef, err)
	}
	for _, item := range items {
		if (item.Kind != model.KindUpdate && item.Kind != model.KindDelete) || item.ServerRef != nil {
			continue
		}
		item.ServerRef = &serverID
		if err := e.outbox.Update(ctx, item); err != nil {
			return fmt.Errorf("failed to cascade serverRef into %s: %w", item.ID, err)
		}
	}
	return nil
}
