package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Park-Yena00/reading-tracker-web/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Init(context.Background()))
	t.Cleanup(func() { st.Close() })
	return st
}

func TestPutAndGetMemoByLocalID(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	m := &model.Memo{
		LocalID:       "local-1",
		UserBookID:    10,
		Content:       "great chapter",
		Tags:          []string{"fiction", "favorite"},
		MemoStartTime: now,
		CreatedAt:     now,
		UpdatedAt:     now,
		SyncStatus:    model.StatusPending,
	}
	require.NoError(t, st.PutMemo(ctx, m))

	got, err := st.GetMemoByLocalID(ctx, "local-1")
	require.NoError(t, err)
	require.Equal(t, m.Content, got.Content)
	require.Equal(t, m.Tags, got.Tags)
	require.True(t, m.MemoStartTime.Equal(got.MemoStartTime))
}

func TestGetMemoByLocalIDNotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.GetMemoByLocalID(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetMemoByServerIDNullableSafe(t *testing.T) {
	st := newTestStore(t)
	got, err := st.GetMemoByServerID(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestGetMemoByServerIDReturnsNilWhenAbsent(t *testing.T) {
	st := newTestStore(t)
	missing := int64(999)
	got, err := st.GetMemoByServerID(context.Background(), &missing)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestPutMemoUpsertsOnConflict(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	m := &model.Memo{LocalID: "local-1", UserBookID: 1, Content: "v1", MemoStartTime: now, CreatedAt: now, UpdatedAt: now, SyncStatus: model.StatusPending}
	require.NoError(t, st.PutMemo(ctx, m))

	m.Content = "v2"
	m.SyncStatus = model.StatusSynced
	require.NoError(t, st.PutMemo(ctx, m))

	got, err := st.GetMemoByLocalID(ctx, "local-1")
	require.NoError(t, err)
	require.Equal(t, "v2", got.Content)
	require.Equal(t, model.StatusSynced, got.SyncStatus)
}

func TestDeleteMemo(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	m := &model.Memo{LocalID: "local-1", UserBookID: 1, MemoStartTime: now, CreatedAt: now, UpdatedAt: now, SyncStatus: model.StatusSynced}
	require.NoError(t, st.PutMemo(ctx, m))

	require.NoError(t, st.DeleteMemo(ctx, "local-1"))
	_, err := st.GetMemoByLocalID(ctx, "local-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListMemosByUserBookOrdersByMemoStartTime(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, offset := range []int{2, 0, 1} {
		m := &model.Memo{
			LocalID: fmt.Sprintf("local-%d", i), UserBookID: 5,
			MemoStartTime: base.Add(time.Duration(offset) * 24 * time.Hour),
			CreatedAt:     base, UpdatedAt: base, SyncStatus: model.StatusSynced,
		}
		require.NoError(t, st.PutMemo(ctx, m))
	}

	list, err := st.ListMemosByUserBook(ctx, 5)
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.True(t, list[0].MemoStartTime.Before(list[1].MemoStartTime))
	require.True(t, list[1].MemoStartTime.Before(list[2].MemoStartTime))
}

func TestListMemosOlderThanFiltersByStatusAndTime(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := &model.Memo{LocalID: "old", UserBookID: 1, MemoStartTime: now.Add(-40 * 24 * time.Hour), CreatedAt: now, UpdatedAt: now, SyncStatus: model.StatusSynced}
	recent := &model.Memo{LocalID: "recent", UserBookID: 1, MemoStartTime: now, CreatedAt: now, UpdatedAt: now, SyncStatus: model.StatusSynced}
	oldPending := &model.Memo{LocalID: "old-pending", UserBookID: 1, MemoStartTime: now.Add(-40 * 24 * time.Hour), CreatedAt: now, UpdatedAt: now, SyncStatus: model.StatusPending}
	require.NoError(t, st.PutMemo(ctx, old))
	require.NoError(t, st.PutMemo(ctx, recent))
	require.NoError(t, st.PutMemo(ctx, oldPending))

	cutoff := now.Add(-30 * 24 * time.Hour)
	aged, err := st.ListMemosOlderThan(ctx, cutoff, model.StatusSynced)
	require.NoError(t, err)
	require.Len(t, aged, 1)
	require.Equal(t, "old", aged[0].LocalID)
}

func TestShelfEntryRoundTripWithNullableFields(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	e := &model.ShelfEntry{
		LocalID: "shelf-1", BookID: 3, Title: "Dune", Category: model.CategoryToRead,
		AddedAt: now, SyncStatus: model.StatusPending,
	}
	require.NoError(t, st.PutShelfEntry(ctx, e))

	got, err := st.GetShelfEntryByLocalID(ctx, "shelf-1")
	require.NoError(t, err)
	require.Nil(t, got.LastReadAt)
	require.Nil(t, got.ReadingFinishedDate)
	require.Equal(t, "Dune", got.Title)

	readAt := now.Add(time.Hour)
	got.LastReadAt = &readAt
	got.Category = model.CategoryReading
	require.NoError(t, st.PutShelfEntry(ctx, got))

	reloaded, err := st.GetShelfEntryByLocalID(ctx, "shelf-1")
	require.NoError(t, err)
	require.NotNil(t, reloaded.LastReadAt)
	require.True(t, readAt.Equal(*reloaded.LastReadAt))
	require.Equal(t, model.CategoryReading, reloaded.Category)
}

func TestGetShelfEntryByServerIDNullableSafe(t *testing.T) {
	st := newTestStore(t)
	got, err := st.GetShelfEntryByServerID(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestInitIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Init(context.Background()))
	require.NoError(t, st.Init(context.Background()))
}
