package outbox

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/Park-Yena00/reading-tracker-web/model"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE sync_queue (
			id                TEXT PRIMARY KEY,
			kind              TEXT NOT NULL,
			entity_kind       TEXT NOT NULL,
			local_ref         TEXT NOT NULL,
			server_ref        INTEGER,
			payload           TEXT,
			idempotency_key   TEXT NOT NULL,
			status            TEXT NOT NULL,
			retry_count       INTEGER NOT NULL DEFAULT 0,
			last_error        TEXT NOT NULL DEFAULT '',
			original_queue_id TEXT,
			created_at        TEXT NOT NULL,
			updated_at        TEXT NOT NULL,
			last_retry_at     TEXT
		)
	`)
	require.NoError(t, err)
	return New(db)
}

func TestEnqueueAssignsIDAndDefaults(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	item, err := q.Enqueue(ctx, model.OutboxItem{
		Kind:       model.KindCreate,
		EntityKind: model.EntityMemo,
		LocalRef:   "local-1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, item.ID)
	require.Equal(t, model.OutboxPending, item.Status)
	require.NotEmpty(t, item.IdempotencyKey)
}

func TestGetNotFound(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Get(context.Background(), "missing")
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestTryUpdateStatusOnlySucceedsWhenExpectedMatches(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	item, err := q.Enqueue(ctx, model.OutboxItem{Kind: model.KindCreate, EntityKind: model.EntityMemo, LocalRef: "l1"})
	require.NoError(t, err)

	ok, err := q.TryUpdateStatus(ctx, item.ID, model.OutboxWaiting, model.OutboxSyncing)
	require.NoError(t, err)
	require.False(t, ok, "CAS must fail when expected status doesn't match")

	ok, err = q.TryUpdateStatus(ctx, item.ID, model.OutboxPending, model.OutboxSyncing)
	require.NoError(t, err)
	require.True(t, ok)

	refreshed, err := q.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, model.OutboxSyncing, refreshed.Status)
}

func TestTryUpdateStatusIsExclusiveUnderConcurrentClaim(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	item, err := q.Enqueue(ctx, model.OutboxItem{Kind: model.KindCreate, EntityKind: model.EntityMemo, LocalRef: "l1"})
	require.NoError(t, err)

	type result struct{ ok bool }
	results := make(chan result, 2)
	claim := func() {
		ok, err := q.TryUpdateStatus(ctx, item.ID, model.OutboxPending, model.OutboxSyncing)
		require.NoError(t, err)
		results <- result{ok: ok}
	}
	go claim()
	go claim()

	first := <-results
	second := <-results
	require.True(t, first.ok != second.ok, "exactly one claimant should win the CAS")
}

func TestGetByLocalRefOrdersByCreatedAt(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	_, err := q.Enqueue(ctx, model.OutboxItem{Kind: model.KindCreate, EntityKind: model.EntityMemo, LocalRef: "l1"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, model.OutboxItem{Kind: model.KindUpdate, EntityKind: model.EntityMemo, LocalRef: "l1"})
	require.NoError(t, err)

	items, err := q.GetByLocalRef(ctx, "l1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, model.KindCreate, items[0].Kind)
	require.Equal(t, model.KindUpdate, items[1].Kind)
}

func TestRemoveDeletesItem(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	item, err := q.Enqueue(ctx, model.OutboxItem{Kind: model.KindCreate, EntityKind: model.EntityMemo, LocalRef: "l1"})
	require.NoError(t, err)

	require.NoError(t, q.Remove(ctx, item.ID))
	_, err = q.Get(ctx, item.ID)
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestMarkFailedRecordsFailureUnderRetryCap(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	item, err := q.Enqueue(ctx, model.OutboxItem{Kind: model.KindCreate, EntityKind: model.EntityMemo, LocalRef: "l1"})
	require.NoError(t, err)

	require.NoError(t, q.MarkFailed(ctx, item.ID, errors.New("transient")))

	refreshed, err := q.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, model.OutboxFailed, refreshed.Status)
	require.Equal(t, 1, refreshed.RetryCount)
	require.Equal(t, "transient", refreshed.LastError)
}

func TestMarkFailedAtRetryCapLeavesItemFailedWithoutRearm(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	item, err := q.Enqueue(ctx, model.OutboxItem{Kind: model.KindCreate, EntityKind: model.EntityMemo, LocalRef: "l1"})
	require.NoError(t, err)

	for i := 0; i < MaxRetries; i++ {
		require.NoError(t, q.MarkFailed(ctx, item.ID, errors.New("transient")))
	}

	refreshed, err := q.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, model.OutboxFailed, refreshed.Status)
	require.Equal(t, MaxRetries, refreshed.RetryCount)
}

func TestRearmResetsRetryCountAndReopens(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	item, err := q.Enqueue(ctx, model.OutboxItem{Kind: model.KindCreate, EntityKind: model.EntityMemo, LocalRef: "l1"})
	require.NoError(t, err)
	require.NoError(t, q.MarkFailed(ctx, item.ID, errors.New("transient")))

	require.NoError(t, q.Rearm(ctx, item.ID))

	refreshed, err := q.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, model.OutboxPending, refreshed.Status)
	require.Equal(t, 0, refreshed.RetryCount)
	require.Empty(t, refreshed.LastError)
}
