package netprobe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Park-Yena00/reading-tracker-web/events"
)

func newTestServer(localStatus, externalStatus *int32) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(atomic.LoadInt32(localStatus)))
	})
	mux.HandleFunc("/api/v1/health/aladin", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(atomic.LoadInt32(externalStatus)))
	})
	return httptest.NewServer(mux)
}

func TestHandleBrowserOnlinePublishesOnlineWhenBothChecksSucceed(t *testing.T) {
	local := int32(http.StatusOK)
	external := int32(http.StatusOK)
	srv := newTestServer(&local, &external)
	defer srv.Close()

	bus := events.New()
	var payloads []events.NetworkPayload
	bus.Subscribe(events.NetworkOnline, func(p any) { payloads = append(payloads, p.(events.NetworkPayload)) })

	p := New(bus, Config{
		BaseURL: srv.URL, ExternalPath: "/api/v1/health/aladin",
		LocalTimeout: time.Second, ExternalTimeout: time.Second, Stabilisation: time.Millisecond,
	})
	p.HandleBrowserOnline(context.Background())

	require.Len(t, payloads, 1)
	require.True(t, payloads[0].IsOnline)
	require.True(t, payloads[0].IsLocalReachable)
	require.True(t, payloads[0].IsExternalReachable)
	require.True(t, p.IsOnline())
}

func TestExternalCheckFailureDegradesWithoutBlockingOnline(t *testing.T) {
	local := int32(http.StatusOK)
	external := int32(http.StatusServiceUnavailable)
	srv := newTestServer(&local, &external)
	defer srv.Close()

	bus := events.New()
	var payloads []events.NetworkPayload
	bus.Subscribe(events.NetworkOnline, func(p any) { payloads = append(payloads, p.(events.NetworkPayload)) })

	p := New(bus, Config{
		BaseURL: srv.URL, ExternalPath: "/api/v1/health/aladin",
		LocalTimeout: time.Second, ExternalTimeout: time.Second, Stabilisation: time.Millisecond,
	})
	p.HandleBrowserOnline(context.Background())

	require.Len(t, payloads, 1)
	require.True(t, payloads[0].IsLocalReachable)
	require.False(t, payloads[0].IsExternalReachable, "external dependency outage must degrade, not block, online state")
	require.True(t, p.IsOnline())
	require.False(t, p.IsExternalReachable())
}

func TestLocalCheckFailureRetriesOnceThenPublishesOffline(t *testing.T) {
	local := int32(http.StatusServiceUnavailable)
	external := int32(http.StatusOK)
	srv := newTestServer(&local, &external)
	defer srv.Close()

	bus := events.New()
	var offlinePayloads []events.NetworkPayload
	bus.Subscribe(events.NetworkOffline, func(p any) { offlinePayloads = append(offlinePayloads, p.(events.NetworkPayload)) })

	p := New(bus, Config{
		BaseURL: srv.URL, ExternalPath: "/api/v1/health/aladin",
		LocalTimeout: time.Second, ExternalTimeout: time.Second,
		Stabilisation: time.Millisecond, RetryDelay: 10 * time.Millisecond,
	})
	p.HandleBrowserOnline(context.Background())

	require.Len(t, offlinePayloads, 1)
	require.False(t, p.IsOnline())
	require.False(t, p.IsLocalReachable())
}

func TestHandleBrowserOfflineImmediatelyClearsAllReachability(t *testing.T) {
	bus := events.New()
	var offlineCount int
	bus.Subscribe(events.NetworkOfflineStart, func(p any) { offlineCount++ })
	bus.Subscribe(events.NetworkOffline, func(p any) { offlineCount++ })

	p := New(bus, Config{BaseURL: "http://unused.invalid"})
	p.HandleBrowserOffline(context.Background())

	require.Equal(t, 2, offlineCount)
	require.False(t, p.IsOnline())
	require.False(t, p.IsLocalReachable())
	require.False(t, p.IsExternalReachable())
}
