package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Park-Yena00/reading-tracker-web/config"
	"github.com/Park-Yena00/reading-tracker-web/events"
	"github.com/Park-Yena00/reading-tracker-web/model"
	"github.com/Park-Yena00/reading-tracker-web/outbox"
	"github.com/Park-Yena00/reading-tracker-web/remote"
	"github.com/Park-Yena00/reading-tracker-web/store"
	"github.com/Park-Yena00/reading-tracker-web/syncstate"
)

// fakeServer is a minimal memo API double built on httptest.Server,
// mirroring the teacher's examples/nethttp_server/server test harness.
type fakeServer struct {
	*httptest.Server
	nextID       int64
	createStatus int32 // atomic http.StatusXXX override; 0 means 201/200
	deleteStatus int32
	createCalls  int32
	updateCalls  int32
	deleteCalls  int32
}

func newFakeServer() *fakeServer {
	fs := &fakeServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/memos", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		atomic.AddInt32(&fs.createCalls, 1)
		if status := atomic.LoadInt32(&fs.createStatus); status != 0 {
			w.WriteHeader(int(status))
			return
		}
		id := atomic.AddInt64(&fs.nextID, 1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(remote.CreateMemoResponse{ID: id})
	})
	mux.HandleFunc("/api/v1/memos/", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			atomic.AddInt32(&fs.updateCalls, 1)
			var payload remote.MemoPayload
			json.NewDecoder(r.Body).Decode(&payload)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(payload)
		case http.MethodDelete:
			atomic.AddInt32(&fs.deleteCalls, 1)
			if status := atomic.LoadInt32(&fs.deleteStatus); status != 0 {
				w.WriteHeader(int(status))
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	fs.Server = httptest.NewServer(mux)
	return fs
}

func newTestEngine(t *testing.T, rc *remote.Client) (*Engine, *store.Store, *outbox.Queue, *syncstate.Coordinator) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Init(context.Background()))
	t.Cleanup(func() { st.Close() })

	ob := outbox.New(st.DB())
	bus := events.New()
	coord := syncstate.New(bus)
	cfg := config.Default()
	eng := New(st, ob, rc, coord, bus, cfg, nil)
	return eng, st, ob, coord
}

func TestProcessCreateMemoSuccessAssignsServerIDAndRemovesItem(t *testing.T) {
	fs := newFakeServer()
	defer fs.Close()
	rc := remote.New(fs.URL, nil, time.Second)
	eng, st, ob, _ := newTestEngine(t, rc)
	ctx := context.Background()

	m := &model.Memo{LocalID: "local-1", UserBookID: 5, Content: "first", MemoStartTime: time.Now().UTC()}
	item, err := eng.EnqueueCreateMemo(ctx, m)
	require.NoError(t, err)
	require.NotNil(t, item)

	require.NoError(t, eng.processCreateMemo(ctx, item))

	got, err := st.GetMemoByLocalID(ctx, "local-1")
	require.NoError(t, err)
	require.NotNil(t, got.ServerID)
	require.Equal(t, model.StatusSynced, got.SyncStatus)

	_, err = ob.Get(ctx, item.ID)
	require.ErrorIs(t, err, outbox.ErrNotFound)
	require.Equal(t, int32(1), fs.createCalls)
}

func TestEnqueueUpdateCoalescesIntoInFlightCreate(t *testing.T) {
	fs := newFakeServer()
	defer fs.Close()
	rc := remote.New(fs.URL, nil, time.Second)
	eng, st, ob, _ := newTestEngine(t, rc)
	ctx := context.Background()

	m := &model.Memo{LocalID: "local-1", UserBookID: 5, Content: "first draft", MemoStartTime: time.Now().UTC()}
	createItem, err := eng.EnqueueCreateMemo(ctx, m)
	require.NoError(t, err)

	m.Content = "edited before sync"
	updateItem, err := eng.EnqueueUpdateMemo(ctx, m)
	require.NoError(t, err)
	require.Equal(t, createItem.ID, updateItem.ID, "update must coalesce into the same CREATE item, not a new one")

	all, err := ob.GetByLocalRef(ctx, "local-1")
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, eng.processCreateMemo(ctx, updateItem))
	got, err := st.GetMemoByLocalID(ctx, "local-1")
	require.NoError(t, err)
	require.Equal(t, "edited before sync", got.Content)
}

func TestCascadeServerRefBackfillsWaitingDeleteAfterCreateSucceeds(t *testing.T) {
	fs := newFakeServer()
	defer fs.Close()
	rc := remote.New(fs.URL, nil, time.Second)
	eng, st, ob, _ := newTestEngine(t, rc)
	ctx := context.Background()

	m := &model.Memo{LocalID: "local-1", UserBookID: 5, Content: "v1", MemoStartTime: time.Now().UTC()}
	createItem, err := eng.EnqueueCreateMemo(ctx, m)
	require.NoError(t, err)

	// Claim the CREATE (SYNCING) so a delete arriving now cannot cancel it
	// locally and must instead wait for it, per EnqueueDeleteMemo.
	ok, err := ob.TryUpdateStatus(ctx, createItem.ID, model.OutboxPending, model.OutboxSyncing)
	require.NoError(t, err)
	require.True(t, ok)

	deleteItem, err := eng.EnqueueDeleteMemo(ctx, "local-1")
	require.NoError(t, err)
	require.Equal(t, model.OutboxWaiting, deleteItem.Status)
	require.Nil(t, deleteItem.ServerRef)

	require.NoError(t, eng.processCreateMemo(ctx, createItem))

	backfilled, err := ob.Get(ctx, deleteItem.ID)
	require.NoError(t, err)
	require.NotNil(t, backfilled.ServerRef, "cascade must backfill the serverRef into the waiting delete")

	require.NoError(t, eng.promoteWaiting(ctx))
	promoted, err := ob.Get(ctx, deleteItem.ID)
	require.NoError(t, err)
	require.Equal(t, model.OutboxPending, promoted.Status)

	got, err := st.GetMemoByLocalID(ctx, "local-1")
	require.NoError(t, err)
	require.NotNil(t, got.ServerID)
}

func TestPromoteWaitingFlipsToPendingOnceOriginalSucceeds(t *testing.T) {
	fs := newFakeServer()
	defer fs.Close()
	rc := remote.New(fs.URL, nil, time.Second)
	eng, _, ob, _ := newTestEngine(t, rc)
	ctx := context.Background()

	original, err := ob.Enqueue(ctx, model.OutboxItem{Kind: model.KindCreate, EntityKind: model.EntityMemo, LocalRef: "local-1", Status: model.OutboxSyncing})
	require.NoError(t, err)

	originalID := original.ID
	waiting, err := ob.Enqueue(ctx, model.OutboxItem{
		Kind: model.KindDelete, EntityKind: model.EntityMemo, LocalRef: "local-1",
		Status: model.OutboxWaiting, OriginalQueueID: &originalID,
	})
	require.NoError(t, err)

	require.NoError(t, eng.promoteWaiting(ctx))
	stillWaiting, err := ob.Get(ctx, waiting.ID)
	require.NoError(t, err)
	require.Equal(t, model.OutboxWaiting, stillWaiting.Status, "must stay WAITING while original has not succeeded")

	require.NoError(t, ob.MarkSuccess(ctx, original.ID))
	require.NoError(t, ob.Remove(ctx, original.ID))

	require.NoError(t, eng.promoteWaiting(ctx))
	promoted, err := ob.Get(ctx, waiting.ID)
	require.NoError(t, err)
	require.Equal(t, model.OutboxPending, promoted.Status)
}

func TestDeleteTreatsNotFoundAsSuccess(t *testing.T) {
	fs := newFakeServer()
	defer fs.Close()
	atomic.StoreInt32(&fs.deleteStatus, http.StatusNotFound)
	defer fs.Close()
	rc := remote.New(fs.URL, nil, time.Second)
	eng, st, ob, _ := newTestEngine(t, rc)
	ctx := context.Background()

	serverID := int64(42)
	m := &model.Memo{LocalID: "local-1", ServerID: &serverID, UserBookID: 5, MemoStartTime: time.Now().UTC(), SyncStatus: model.StatusSynced}
	require.NoError(t, st.PutMemo(ctx, m))

	item, err := ob.Enqueue(ctx, model.OutboxItem{Kind: model.KindDelete, EntityKind: model.EntityMemo, LocalRef: "local-1", ServerRef: &serverID, Status: model.OutboxSyncing})
	require.NoError(t, err)

	require.NoError(t, eng.processDeleteMemo(ctx, item))

	_, err = st.GetMemoByLocalID(ctx, "local-1")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = ob.Get(ctx, item.ID)
	require.ErrorIs(t, err, outbox.ErrNotFound)
}

func TestHandleFailureOnServerErrorMarksFailedWithoutSurfacingToCaller(t *testing.T) {
	fs := newFakeServer()
	atomic.StoreInt32(&fs.createStatus, http.StatusInternalServerError)
	defer fs.Close()
	rc := remote.New(fs.URL, nil, time.Second)
	eng, st, ob, _ := newTestEngine(t, rc)
	ctx := context.Background()

	m := &model.Memo{LocalID: "local-1", UserBookID: 5, MemoStartTime: time.Now().UTC()}
	item, err := eng.EnqueueCreateMemo(ctx, m)
	require.NoError(t, err)

	processErr := eng.processCreateMemo(ctx, item)
	require.Error(t, processErr)
	eng.handleFailure(ctx, item, processErr)

	refreshed, err := ob.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, model.OutboxFailed, refreshed.Status)
	require.Equal(t, 1, refreshed.RetryCount)

	gotMemo, err := st.GetMemoByLocalID(ctx, "local-1")
	require.NoError(t, err)
	require.Equal(t, model.StatusSyncingCreate, gotMemo.SyncStatus, "setEntityFailed only runs from failTerminal, not the transient branch")
}

func TestRunOnceDrivesCoordinatorLifecycle(t *testing.T) {
	fs := newFakeServer()
	defer fs.Close()
	rc := remote.New(fs.URL, nil, time.Second)
	eng, _, _, coord := newTestEngine(t, rc)
	ctx := context.Background()

	m := &model.Memo{LocalID: "local-1", UserBookID: 5, MemoStartTime: time.Now().UTC()}
	_, err := eng.EnqueueCreateMemo(ctx, m)
	require.NoError(t, err)

	require.NoError(t, eng.RunOnce(ctx))
	require.False(t, coord.IsSyncing(), "cycle must auto-complete once the outbox drains")

	_, processed, syncing, _ := coord.Snapshot()
	_ = fmt.Sprint(processed, syncing)
}

func TestRetryFailedRearmsOnlyAfterBackoffWindowElapses(t *testing.T) {
	fs := newFakeServer()
	defer fs.Close()
	rc := remote.New(fs.URL, nil, time.Second)
	eng, _, ob, _ := newTestEngine(t, rc)
	ctx := context.Background()
	eng.cfg.BackoffBase = time.Hour // long enough that "just failed" never qualifies

	item, err := ob.Enqueue(ctx, model.OutboxItem{Kind: model.KindCreate, EntityKind: model.EntityMemo, LocalRef: "local-1"})
	require.NoError(t, err)
	require.NoError(t, ob.MarkFailed(ctx, item.ID, fmt.Errorf("boom")))

	require.NoError(t, eng.retryFailed(ctx))
	stillFailed, err := ob.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, model.OutboxFailed, stillFailed.Status, "must not rearm before its backoff window elapses")

	stale := time.Now().UTC().Add(-2 * time.Hour)
	stillFailed.LastRetryAt = &stale
	require.NoError(t, ob.Update(ctx, stillFailed))

	require.NoError(t, eng.retryFailed(ctx))
	rearmed, err := ob.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, model.OutboxPending, rearmed.Status)
	require.Equal(t, 1, rearmed.RetryCount)
}

func TestRetryFailedLeavesItemsAtRetryCapAlone(t *testing.T) {
	fs := newFakeServer()
	defer fs.Close()
	rc := remote.New(fs.URL, nil, time.Second)
	eng, _, ob, _ := newTestEngine(t, rc)
	ctx := context.Background()

	item, err := ob.Enqueue(ctx, model.OutboxItem{Kind: model.KindCreate, EntityKind: model.EntityMemo, LocalRef: "local-1"})
	require.NoError(t, err)
	for i := 0; i < eng.cfg.MaxRetries; i++ {
		require.NoError(t, ob.MarkFailed(ctx, item.ID, fmt.Errorf("boom")))
	}
	stale := time.Now().UTC().Add(-24 * time.Hour)
	atCap, err := ob.Get(ctx, item.ID)
	require.NoError(t, err)
	atCap.LastRetryAt = &stale
	require.NoError(t, ob.Update(ctx, atCap))

	require.NoError(t, eng.retryFailed(ctx))
	final, err := ob.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, model.OutboxFailed, final.Status, "an item at the retry cap must stay failed permanently")
}

func TestRunBackgroundPassDoesNotTouchCoordinator(t *testing.T) {
	fs := newFakeServer()
	defer fs.Close()
	rc := remote.New(fs.URL, nil, time.Second)
	eng, _, _, coord := newTestEngine(t, rc)
	ctx := context.Background()

	m := &model.Memo{LocalID: "local-1", UserBookID: 5, MemoStartTime: time.Now().UTC()}
	_, err := eng.EnqueueCreateMemo(ctx, m)
	require.NoError(t, err)

	processed, err := eng.RunBackgroundPass(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, processed)
	require.False(t, coord.IsSyncing())
}
