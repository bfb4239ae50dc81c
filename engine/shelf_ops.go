package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Park-Yena00/reading-tracker-web/errkind"
	"github.com/Park-Yena00/reading-tracker-web/model"
	"github.com/Park-Yena00/reading-tracker-web/remote"
)

func shelfRemotePayload(e *model.ShelfEntry) remote.ShelfPayload {
	return remote.ShelfPayload{
		UserBookID:          e.ServerID,
		BookID:              e.BookID,
		ISBN:                e.ISBN,
		Title:               e.Title,
		Author:              e.Author,
		Publisher:           e.Publisher,
		PubDate:             e.PubDate,
		Description:         e.Description,
		CoverURL:            e.CoverURL,
		TotalPages:          e.TotalPages,
		MainGenre:           e.MainGenre,
		Category:            string(e.Category),
		Expectation:         e.Expectation,
		LastReadPage:        e.LastReadPage,
		LastReadAt:          e.LastReadAt,
		ReadingFinishedDate: e.ReadingFinishedDate,
		PurchaseType:        e.PurchaseType,
		Rating:              e.Rating,
		Review:              e.Review,
	}
}

func (e *Engine) processCreateShelf(ctx context.Context, item *model.OutboxItem) error {
	entry, err := e.store.GetShelfEntryByLocalID(ctx, item.LocalRef)
	if err != nil {
		return fmt.Errorf("failed to load shelf entry %s for create: %w", item.LocalRef, err)
	}
	entry.SyncStatus = model.StatusSyncingCreate
	if err := e.store.PutShelfEntry(ctx, entry); err != nil {
		return err
	}

	if err := e.ensureIdempotencyKey(ctx, item); err != nil {
		return fmt.Errorf("failed to ensure idempotency key for %s: %w", item.ID, err)
	}

	var payload remote.ShelfPayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return errkind.New(errkind.InvariantViolation, 0, fmt.Errorf("failed to decode shelf create payload: %w", err))
	}

	resp, err := e.remote.CreateShelfEntry(ctx, payload, item.IdempotencyKey)
	if err != nil {
		return err
	}
	if resp.UserBookID == nil {
		return errkind.Newf(errkind.Validation, 0, "remote create response for shelf entry %s has no userBookId", item.LocalRef)
	}
	serverID := *resp.UserBookID

	entry, err = e.store.GetShelfEntryByLocalID(ctx, item.LocalRef)
	if err != nil {
		return fmt.Errorf("failed to reload shelf entry %s after create: %w", item.LocalRef, err)
	}
	entry.ServerID = &serverID
	entry.SyncStatus = model.StatusSynced
	entry.SyncQueueID = nil
	if err := e.store.PutShelfEntry(ctx, entry); err != nil {
		return err
	}

	if err := e.cascadeServerRef(ctx, item.LocalRef, serverID); err != nil {
		return err
	}

	e.finishSuccess(ctx, item)
	return nil
}

func (e *Engine) processUpdateShelf(ctx context.Context, item *model.OutboxItem) error {
	if item.ServerRef == nil {
		return errkind.Newf(errkind.InvariantViolation, 0, "UPDATE outbox item %s has no serverRef", item.ID)
	}

	entry, err := e.store.GetShelfEntryByLocalID(ctx, item.LocalRef)
	if err != nil {
		return fmt.Errorf("failed to load shelf entry %s for update: %w", item.LocalRef, err)
	}
	entry.SyncStatus = model.StatusSyncingUpdate
	if err := e.store.PutShelfEntry(ctx, entry); err != nil {
		return err
	}

	var partial map[string]any
	if err := json.Unmarshal(item.Payload, &partial); err != nil {
		return errkind.New(errkind.InvariantViolation, 0, fmt.Errorf("failed to decode shelf update payload: %w", err))
	}

	if err := e.remote.UpdateShelfEntry(ctx, *item.ServerRef, partial); err != nil {
		return err
	}

	entry, err = e.store.GetShelfEntryByLocalID(ctx, item.LocalRef)
	if err != nil {
		return fmt.Errorf("failed to reload shelf entry %s after update: %w", item.LocalRef, err)
	}
	entry.SyncStatus = model.StatusSynced
	entry.SyncQueueID = nil
	if err := e.store.PutShelfEntry(ctx, entry); err != nil {
		return err
	}

	e.finishSuccess(ctx, item)
	return nil
}

func (e *Engine) processDeleteShelf(ctx context.Context, item *model.OutboxItem) error {
	if item.ServerRef == nil {
		return errkind.Newf(errkind.InvariantViolation, 0, "DELETE outbox item %s has no serverRef", item.ID)
	}

	entry, err := e.store.GetShelfEntryByLocalID(ctx, item.LocalRef)
	if err != nil {
		return fmt.Errorf("failed to load shelf entry %s for delete: %w", item.LocalRef, err)
	}
	entry.SyncStatus = model.StatusSyncingDelete
	if err := e.store.PutShelfEntry(ctx, entry); err != nil {
		return err
	}

	if err := e.remote.DeleteShelfEntry(ctx, *item.ServerRef); err != nil {
		if errkind.KindOf(err) != errkind.NotFound {
			return err
		}
		e.logger.Debug("delete target already absent server-side, treating as success", "id", item.ID)
	}

	if err := e.store.DeleteShelfEntry(ctx, item.LocalRef); err != nil {
		return fmt.Errorf("failed to remove shelf entry %s after delete: %w", item.LocalRef, err)
	}

	e.finishSuccess(ctx, item)
	return nil
}

// StartReadingNow is an online-only convenience path for spec.md section
// 6's dedicated start-reading endpoint: unlike the generic UPDATE path,
// it is never queued -- a caller without connectivity falls back to
// EnqueueUpdateShelf with the same fields via the Facade instead.
func (e *Engine) StartReadingNow(ctx context.Context, entry *model.ShelfEntry, readingStartDate time.Time, progress int) error {
	if entry.ServerID == nil {
		return errkind.Newf(errkind.InvariantViolation, 0, "shelf entry %s has no serverId for start-reading", entry.LocalID)
	}
	if err := e.remote.StartReading(ctx, *entry.ServerID, remote.StartReadingRequest{
		ReadingStartDate: readingStartDate,
		ReadingProgress:  progress,
		PurchaseType:     entry.PurchaseType,
	}); err != nil {
		return err
	}
	entry.Category = model.CategoryReading
	entry.LastReadPage = progress
	now := readingStartDate
	entry.LastReadAt = &now
	entry.SyncStatus = model.StatusSynced
	return e.store.PutShelfEntry(ctx, entry)
}
