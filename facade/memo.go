package facade

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Park-Yena00/reading-tracker-web/model"
	"github.com/Park-Yena00/reading-tracker-web/remote"
)

// MemoInput is the UI-facing shape for creating a memo.
type MemoInput struct {
	UserBookID    int64
	PageNumber    int
	Content       string
	Tags          []string
	MemoStartTime time.Time
}

// MemoPatch is the UI-facing shape for updating a memo; every field
// replaces the stored value, zero values included, so callers keep a
// field unchanged by constructing the patch from the current Memo first.
type MemoPatch struct {
	PageNumber    int
	Content       string
	Tags          []string
	MemoStartTime time.Time
}

func newMemo(in MemoInput) *model.Memo {
	now := time.Now().UTC()
	return &model.Memo{
		LocalID:       uuid.NewString(),
		UserBookID:    in.UserBookID,
		PageNumber:    in.PageNumber,
		Content:       in.Content,
		Tags:          append([]string(nil), in.Tags...),
		MemoStartTime: in.MemoStartTime,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func memoRemotePayload(m *model.Memo) remote.MemoPayload {
	return remote.MemoPayload{
		UserBookID:    m.UserBookID,
		PageNumber:    m.PageNumber,
		Content:       m.Content,
		Tags:          m.Tags,
		MemoStartTime: m.MemoStartTime,
	}
}

// CreateMemo implements spec.md section 4.G's write policy for memo
// creation.
func (f *Facade) CreateMemo(ctx context.Context, in MemoInput) (*model.Memo, error) {
	m := newMemo(in)

	if !f.isOnline() {
		return f.storeFirstCreateMemo(ctx, m)
	}
	if f.isSyncing() {
		res, err := f.gate.Defer(ctx, func(ctx context.Context) (any, error) {
			return f.serverFirstCreateMemo(ctx, m)
		})
		if err != nil {
			return nil, err
		}
		return res.(*model.Memo), nil
	}
	return f.serverFirstCreateMemo(ctx, m)
}

func (f *Facade) serverFirstCreateMemo(ctx context.Context, m *model.Memo) (*model.Memo, error) {
	resp, err := f.remote.CreateMemo(ctx, memoRemotePayload(m), newIdempotencyKey())
	if err != nil {
		if networkClassFailure(err) {
			f.logger.Warn("server-first memo create fell back to offline path", "localId", m.LocalID, "error", err)
			return f.storeFirstCreateMemo(ctx, m)
		}
		return nil, err
	}
	sid := resp.ID
	m.ServerID = &sid
	m.SyncStatus = model.StatusSynced
	if err := f.store.PutMemo(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to reconcile store after server-first create: %w", err)
	}
	return m, nil
}

func (f *Facade) storeFirstCreateMemo(ctx context.Context, m *model.Memo) (*model.Memo, error) {
	if _, err := f.engine.EnqueueCreateMemo(ctx, m); err != nil {
		return nil, err
	}
	f.triggerSyncIfIdle()
	return m, nil
}

// UpdateMemo implements spec.md section 4.G's write policy for memo
// updates. A memo with no serverId yet must always route through the
// Outbox (invariant 3, the CREATE-before-UPDATE ordering rule), even
// when online and idle, since there is no server resource to PUT yet.
func (f *Facade) UpdateMemo(ctx context.Context, localID string, patch MemoPatch) (*model.Memo, error) {
	m, err := f.store.GetMemoByLocalID(ctx, localID)
	if err != nil {
		return nil, fmt.Errorf("failed to load memo %s for update: %w", localID, err)
	}
	m.PageNumber = patch.PageNumber
	m.Content = patch.Content
	m.Tags = patch.Tags
	m.MemoStartTime = patch.MemoStartTime

	if m.ServerID == nil {
		return f.storeFirstUpdateMemo(ctx, m)
	}
	if !f.isOnline() {
		return f.storeFirstUpdateMemo(ctx, m)
	}
	if f.isSyncing() {
		res, err := f.gate.Defer(ctx, func(ctx context.Context) (any, error) {
			return f.serverFirstUpdateMemo(ctx, m)
		})
		if err != nil {
			return nil, err
		}
		return res.(*model.Memo), nil
	}
	return f.serverFirstUpdateMemo(ctx, m)
}

func (f *Facade) serverFirstUpdateMemo(ctx context.Context, m *model.Memo) (*model.Memo, error) {
	if _, err := f.remote.UpdateMemo(ctx, *m.ServerID, memoRemotePayload(m)); err != nil {
		if networkClassFailure(err) {
			f.logger.Warn("server-first memo update fell back to offline path", "localId", m.LocalID, "error", err)
			return f.storeFirstUpdateMemo(ctx, m)
		}
		return nil, err
	}
	m.SyncStatus = model.StatusSynced
	m.UpdatedAt = time.Now().UTC()
	if err := f.store.PutMemo(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to reconcile store after server-first update: %w", err)
	}
	return m, nil
}

func (f *Facade) storeFirstUpdateMemo(ctx context.Context, m *model.Memo) (*model.Memo, error) {
	if _, err := f.engine.EnqueueUpdateMemo(ctx, m); err != nil {
		return nil, err
	}
	f.triggerSyncIfIdle()
	return m, nil
}

// DeleteMemo implements spec.md section 4.G's write policy for memo
// deletion.
func (f *Facade) DeleteMemo(ctx context.Context, localID string) error {
	m, err := f.store.GetMemoByLocalID(ctx, localID)
	if err != nil {
		return fmt.Errorf("failed to load memo %s for delete: %w", localID, err)
	}

	if m.ServerID == nil || !f.isOnline() {
		_, err := f.engine.EnqueueDeleteMemo(ctx, localID)
		f.triggerSyncIfIdle()
		return err
	}
	if f.isSyncing() {
		_, err := f.gate.Defer(ctx, func(ctx context.Context) (any, error) {
			return nil, f.serverFirstDeleteMemo(ctx, m)
		})
		return err
	}
	return f.serverFirstDeleteMemo(ctx, m)
}

func (f *Facade) serverFirstDeleteMemo(ctx context.Context, m *model.Memo) error {
	if err := f.remote.DeleteMemo(ctx, *m.ServerID); err != nil {
		if networkClassFailure(err) {
			f.logger.Warn("server-first memo delete fell back to offline path", "localId", m.LocalID, "error", err)
			_, err := f.engine.EnqueueDeleteMemo(ctx, m.LocalID)
			f.triggerSyncIfIdle()
			return err
		}
		// not-found is success-equivalent per spec.md section 7.
		if !isNotFound(err) {
			return err
		}
	}
	return f.store.DeleteMemo(ctx, m.LocalID)
}
