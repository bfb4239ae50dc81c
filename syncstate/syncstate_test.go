package syncstate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Park-Yena00/reading-tracker-web/events"
)

func TestStartIsIdempotentWhileAlreadySyncing(t *testing.T) {
	bus := events.New()
	var starts int
	var mu sync.Mutex
	bus.Subscribe(events.SyncStart, func(payload any) {
		mu.Lock()
		starts++
		mu.Unlock()
	})

	c := New(bus)
	c.Start(5)
	c.Start(9) // must be a no-op: a cycle is already active

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, starts)

	pending, _, syncing, _ := c.Snapshot()
	require.Equal(t, 5, pending)
	require.True(t, syncing)
}

func TestUpdateProgressAccumulatesAndPublishes(t *testing.T) {
	bus := events.New()
	var payloads []events.SyncProgressPayload
	bus.Subscribe(events.SyncProgress, func(payload any) {
		payloads = append(payloads, payload.(events.SyncProgressPayload))
	})

	c := New(bus)
	c.Start(3)
	c.UpdateProgress(1, 2)
	c.UpdateProgress(1, 1)

	require.Len(t, payloads, 2)
	require.Equal(t, 1, payloads[0].ProcessedCount)
	require.Equal(t, 2, payloads[1].ProcessedCount)

	_, processed, _, _ := c.Snapshot()
	require.Equal(t, 2, processed)
}

func TestCheckCompleteFiresSyncCompleteExactlyOncePerCycle(t *testing.T) {
	bus := events.New()
	var completions int
	bus.Subscribe(events.SyncComplete, func(payload any) {
		completions++
	})

	c := New(bus)
	c.Start(1)

	zero := func(ctx context.Context) (int, error) { return 0, nil }
	require.NoError(t, c.CheckComplete(context.Background(), zero))
	require.NoError(t, c.CheckComplete(context.Background(), zero))

	require.Equal(t, 1, completions, "sync:complete must fire exactly once per cycle")
	require.False(t, c.IsSyncing())
}

func TestCheckCompleteStaysActiveWhilePendingRemains(t *testing.T) {
	bus := events.New()
	c := New(bus)
	c.Start(2)

	nonzero := func(ctx context.Context) (int, error) { return 2, nil }
	require.NoError(t, c.CheckComplete(context.Background(), nonzero))
	require.True(t, c.IsSyncing())
}

func TestWaitForCompleteReturnsTrueWhenNotSyncing(t *testing.T) {
	bus := events.New()
	c := New(bus)
	require.True(t, c.WaitForComplete(context.Background(), time.Second))
}

func TestWaitForCompleteResolvesOnSyncComplete(t *testing.T) {
	bus := events.New()
	c := New(bus)
	c.Start(1)

	done := make(chan bool, 1)
	go func() {
		done <- c.WaitForComplete(context.Background(), time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	zero := func(ctx context.Context) (int, error) { return 0, nil }
	require.NoError(t, c.CheckComplete(context.Background(), zero))

	select {
	case completed := <-done:
		require.True(t, completed)
	case <-time.After(time.Second):
		t.Fatal("WaitForComplete never resolved")
	}
}

func TestWaitForCompleteTimesOutWhenCycleNeverCompletes(t *testing.T) {
	bus := events.New()
	c := New(bus)
	c.Start(1)

	completed := c.WaitForComplete(context.Background(), 30*time.Millisecond)
	require.False(t, completed)
}
