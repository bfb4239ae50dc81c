package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Park-Yena00/reading-tracker-web/model"
)

// admitMutation implements spec.md section 3 invariant 2 at enqueue time:
// a new mutation either replaces the current PENDING item for localRef
// (coalesce) or is enqueued as WAITING if the current one is SYNCING.
// CREATE never reaches this path (spec.md section 4.F: "CREATE is never
// coalesced"); callers pass kind UPDATE or DELETE.
func (e *Engine) admitMutation(ctx context.Context, entityKind model.EntityKind, localRef string, kind model.OutboxKind, payload json.RawMessage) (*model.OutboxItem, error) {
	existing, err := e.outbox.GetByLocalRef(ctx, localRef)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect outbox for %s: %w", localRef, err)
	}

	var pendingItem, syncingItem *model.OutboxItem
	for _, it := range existing {
		switch it.Status {
		case model.OutboxPending:
			pendingItem = it
		case model.OutboxSyncing:
			syncingItem = it
		}
	}

	if pendingItem != nil {
		if err := e.outbox.Remove(ctx, pendingItem.ID); err != nil {
			return nil, fmt.Errorf("failed to remove superseded pending item %s: %w", pendingItem.ID, err)
		}
		return e.outbox.Enqueue(ctx, model.OutboxItem{
			Kind:       kind,
			EntityKind: entityKind,
			LocalRef:   localRef,
			ServerRef:  pendingItem.ServerRef,
			Payload:    payload,
			Status:     model.OutboxPending,
		})
	}

	if syncingItem != nil {
		originalID := syncingItem.ID
		return e.outbox.Enqueue(ctx, model.OutboxItem{
			Kind:            kind,
			EntityKind:      entityKind,
			LocalRef:        localRef,
			ServerRef:       syncingItem.ServerRef,
			Payload:         payload,
			Status:          model.OutboxWaiting,
			OriginalQueueID: &originalID,
		})
	}

	return e.outbox.Enqueue(ctx, model.OutboxItem{
		Kind:       kind,
		EntityKind: entityKind,
		LocalRef:   localRef,
		Payload:    payload,
		Status:     model.OutboxPending,
	})
}

// inFlightCreate returns the CREATE outbox item for localRef if one is
// currently PENDING or SYNCING, implementing invariant 3: CREATE must
// run before any UPDATE/DELETE referencing the same localRef.
func (e *Engine) inFlightCreate(ctx context.Context, localRef string) (*model.OutboxItem, error) {
	existing, err := e.outbox.GetByLocalRef(ctx, localRef)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect outbox for %s: %w", localRef, err)
	}
	for _, it := range existing {
		if it.Kind == model.KindCreate && it.InFlight() {
			return it, nil
		}
	}
	return nil, nil
}

// EnqueueCreateMemo stores m as pending and enqueues a CREATE item.
func (e *Engine) EnqueueCreateMemo(ctx context.Context, m *model.Memo) (*model.OutboxItem, error) {
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	m.SyncStatus = model.StatusPending

	payload, err := marshalJSON(memoPayloadOf(m))
	if err != nil {
		return nil, err
	}
	item, err := e.outbox.Enqueue(ctx, model.OutboxItem{
		Kind:       model.KindCreate,
		EntityKind: model.EntityMemo,
		LocalRef:   m.LocalID,
		Payload:    payload,
		Status:     model.OutboxPending,
	})
	if err != nil {
		return nil, err
	}
	m.SyncQueueID = &item.ID
	if err := e.store.PutMemo(ctx, m); err != nil {
		return nil, err
	}
	return item, nil
}

// EnqueueUpdateMemo implements invariant 3's CREATE-before-UPDATE
// ordering and the coalescing rules of spec.md section 4.F. When the
// memo has no serverId yet, its CREATE is necessarily still in flight
// (invariant 3); the update is folded into that CREATE item's payload
// instead of producing a second outbox item -- this resolves spec.md
// section 9's open question the "safe" way it names: merge into the
// pending/in-flight CREATE's payload rather than racing a second write
// ahead of it.
func (e *Engine) EnqueueUpdateMemo(ctx context.Context, m *model.Memo) (*model.OutboxItem, error) {
	m.UpdatedAt = time.Now().UTC()

	if m.ServerID == nil {
		createItem, err := e.inFlightCreate(ctx, m.LocalID)
		if err != nil {
			return nil, err
		}
		if createItem == nil {
			return nil, fmt.Errorf("invariant violation: memo %s has no serverId and no in-flight CREATE", m.LocalID)
		}
		payload, err := marshalJSON(memoPayloadOf(m))
		if err != nil {
			return nil, err
		}
		createItem.Payload = payload
		if err := e.outbox.Update(ctx, createItem); err != nil {
			return nil, fmt.Errorf("failed to coalesce update into in-flight create %s: %w", createItem.ID, err)
		}
		if err := e.store.PutMemo(ctx, m); err != nil {
			return nil, err
		}
		return createItem, nil
	}

	payload, err := marshalJSON(memoPayloadOf(m))
	if err != nil {
		return nil, err
	}
	item, err := e.admitMutation(ctx, model.EntityMemo, m.LocalID, model.KindUpdate, payload)
	if err != nil {
		return nil, err
	}
	if item.ServerRef == nil {
		item.ServerRef = m.ServerID
		if err := e.outbox.Update(ctx, item); err != nil {
			return nil, err
		}
	}
	m.SyncStatus = model.StatusPending
	m.SyncQueueID = &item.ID
	if err := e.store.PutMemo(ctx, m); err != nil {
		return nil, err
	}
	return item, nil
}

// EnqueueDeleteMemo implements spec.md section 4.F's DELETE dependency
// and supersession rules:
//   - local-only draft (no serverId) with CREATE still PENDING: cancel
//     locally, no network call is ever issued.
//   - local-only draft with CREATE already SYNCING: enqueue a WAITING
//     DELETE pointing at the in-flight CREATE (spec.md scenario S2).
//   - entity with a serverId: admit through the normal coalesce/wait path.
func (e *Engine) EnqueueDeleteMemo(ctx context.Context, localID string) (*model.OutboxItem, error) {
	m, err := e.store.GetMemoByLocalID(ctx, localID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up memo %s for delete: %w", localID, err)
	}

	if m.ServerID == nil {
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
			if err := e.store.DeleteMemo(ctx, localID); err != nil {
				return nil, err
			}
			return nil, nil
		}
		// CREATE is SYNCING: cannot cancel safely, wait for it.
		originalID := createItem.ID
		m.SyncStatus = model.StatusWaiting
		if err := e.store.PutMemo(ctx, m); err != nil {
			return nil, err
		}
		return e.outbox.Enqueue(ctx, model.OutboxItem{
			Kind:            model.KindDelete,
			EntityKind:      model.EntityMemo,
			LocalRef:        localID,
			Status:          model.OutboxWaiting,
			OriginalQueueID: &originalID,
		})
	}

	item, err := e.admitMutation(ctx, model.EntityMemo, localID, model.KindDelete, nil)
	if err != nil {
		return nil, err
	}
	if item.ServerRef == nil {
		item.ServerRef = m.ServerID
		if err := e.outbox.Update(ctx, item); err != nil {
			return nil, err
		}
	}
	if item.Status == model.OutboxWaiting {
		m.SyncStatus = model.StatusWaiting
	} else {
		m.SyncStatus = model.StatusPending
	}
	m.SyncQueueID = &item.ID
	if err := e.store.PutMemo(ctx, m); err != nil {
		return nil, err
	}
	return item, nil
}

func memoPayloadOf(m *model.Memo) map[string]any {
	return map[string]any{
		"userBookId":    m.UserBookID,
		"pageNumber":    m.PageNumber,
		"content":       m.Content,
		"tags":          m.Tags,
		"memoStartTime": m.MemoStartTime,
	}
}
