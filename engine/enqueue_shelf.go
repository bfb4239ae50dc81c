package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/Park-Yena00/reading-tracker-web/model"
)

// EnqueueCreateShelf stores e as pending and enqueues a CREATE item.
func (e *Engine) EnqueueCreateShelf(ctx context.Context, entry *model.ShelfEntry) (*model.OutboxItem, error) {
	now := time.Now().UTC()
	if entry.AddedAt.IsZero() {
		entry.AddedAt = now
	}
	entry.SyncStatus = model.StatusPending

	payload, err := marshalJSON(shelfPayloadOf(entry))
	if err != nil {
		return nil, err
	}
	item, err := e.outbox.Enqueue(ctx, model.OutboxItem{
		Kind:       model.KindCreate,
		EntityKind: model.EntityShelf,
		LocalRef:   entry.LocalID,
		Payload:    payload,
		Status:     model.OutboxPending,
	})
	if err != nil {
		return nil, err
	}
	entry.SyncQueueID = &item.ID
	if err := e.store.PutShelfEntry(ctx, entry); err != nil {
		return nil, err
	}
	return item, nil
}

// EnqueueUpdateShelf mirrors EnqueueUpdateMemo's invariant-3 and
// coalescing behaviour for shelf entries (spec.md scenario S6).
func (e *Engine) EnqueueUpdateShelf(ctx context.Context, entry *model.ShelfEntry) (*model.OutboxItem, error) {
	if entry.ServerID == nil {
		createItem, err := e.inFlightCreate(ctx, entry.LocalID)
		if err != nil {
			return nil, err
		}
		if createItem == nil {
			return nil, fmt.Errorf("invariant violation: shelf entry %s has no serverId and no in-flight CREATE", entry.LocalID)
		}
		payload, err := marshalJSON(shelfPayloadOf(entry))
		if err != nil {
			return nil, err
		}
		createItem.Payload = payload
		if err := e.outbox.Update(ctx, createItem); err != nil {
			return nil, fmt.Errorf("failed to coalesce update into in-flight create %s: %w", createItem.ID, err)
		}
		if err := e.store.PutShelfEntry(ctx, entry); err != nil {
			return nil, err
		}
		return createItem, nil
	}

	payload, err := marshalJSON(shelfPayloadOf(entry))
	if err != nil {
		return nil, err
	}
	item, err := e.admitMutation(ctx, model.EntityShelf, entry.LocalID, model.KindUpdate, payload)
	if err != nil {
		return nil, err
	}
	if item.ServerRef == nil {
		item.ServerRef = entry.ServerID
		if err := e.outbox.Update(ctx, item); err != nil {
			return nil, err
		}
	}
	entry.SyncStatus = model.StatusPending
	entry.SyncQueueID = &item.ID
	if err := e.store.PutShelfEntry(ctx, entry); err != nil {
		return nil, err
	}
	return item, nil
}

// EnqueueDeleteShelf mirrors EnqueueDeleteMemo's dependency and
// supersession rules.
func (e *Engine) EnqueueDeleteShelf(ctx context.Context, localID string) (*model.OutboxItem, error) {
	entry, err := e.store.GetShelfEntryByLocalID(ctx, localID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up shelf entry %s for delete: %w", localID, err)
	}

	if entry.ServerID == nil {
		createItem, err := e.inFlightCreate(ctx, localID)
		if err != nil {
			return nil, err
		}
		if createItem == nil || createItem.Status == model.OutboxPending {
			if createItem != nil {
				if err := e.outbox.Remove(ctx, createItem.ID); err != nil {
					return nil, fmt.Errorf("failed to remove superseded create %s: %w", createItem.ID, err)
				}
			}
			if err := e.store.DeleteShelfEntry(ctx, localID); err != nil {
				return nil, err
			}
			return nil, nil
		}
		originalID := createItem.ID
		entry.SyncStatus = model.StatusWaiting
		if err := e.store.PutShelfEntry(ctx, entry); err != nil {
			return nil, err
		}
		return e.outbox.Enqueue(ctx, model.OutboxItem{
			Kind:            model.KindDelete,
			EntityKind:      model.EntityShelf,
			LocalRef:        localID,
			Status:          model.OutboxWaiting,
			OriginalQueueID: &originalID,
		})
	}

	item, err := e.admitMutation(ctx, model.EntityShelf, localID, model.KindDelete, nil)
	if err != nil {
		return nil, err
	}
	if item.ServerRef == nil {
		item.ServerRef = entry.ServerID
		if err := e.outbox.Update(ctx, item); err != nil {
			return nil, err
		}
	}
	if item.Status == model.OutboxWaiting {
		entry.SyncStatus = model.StatusWaiting
	} else {
		entry.SyncStatus = model.StatusPending
	}
	entry.SyncQueueID = &item.ID
	if err := e.store.PutShelfEntry(ctx, entry); err != nil {
		return nil, err
	}
	return item, nil
}

func shelfPayloadOf(e *model.ShelfEntry) map[string]any {
	return map[string]any{
		"bookId":              e.BookID,
		"isbn":                e.ISBN,
		"title":               e.Title,
		"author":              e.Author,
		"publisher":           e.Publisher,
		"pubDate":             e.PubDate,
		"description":         e.Description,
		"coverUrl":            e.CoverURL,
		"totalPages":          e.TotalPages,
		"mainGenre":           e.MainGenre,
		"category":            e.Category,
		"expectation":         e.Expectation,
		"lastReadPage":        e.LastReadPage,
		"lastReadAt":          e.LastReadAt,
		"readingFinishedDate": e.ReadingFinishedDate,
		"purchaseType":        e.PurchaseType,
		"rating":              e.Rating,
		"review":              e.Review,
	}
}
