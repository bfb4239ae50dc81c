// Package netprobe implements Component C, the Network Probe: a
// two-stage reachability detector for the local API and an external
// dependency, emitting state transitions on the typed event bus
// (spec.md section 4.C).
package netprobe

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Park-Yena00/reading-tracker-web/events"
)

// Prober performs the two-stage reachability check.
type Prober struct {
	baseURL         string
	externalPath    string
	httpClient      *http.Client
	bus             *events.Bus
	logger          *slog.Logger
	localTimeout    time.Duration
	externalTimeout time.Duration
	stabilisation   time.Duration
	retryDelay      time.Duration

	online             int32 // atomic bool: browser-level online/offline signal
	mu                 sync.RWMutex
	isOnline           bool
	isLocalReachable   bool
	isExternalReachable bool
}

// Config configures a Prober.
type Config struct {
	BaseURL         string        // local API base, e.g. "http://localhost:8080"
	ExternalPath    string        // e.g. "/api/v1/health/aladin"
	HTTPClient      *http.Client
	Logger          *slog.Logger
	LocalTimeout    time.Duration // default 3s
	ExternalTimeout time.Duration // default 5s
	Stabilisation   time.Duration // default 1s
	RetryDelay      time.Duration // default 5s
}

// New builds a Prober from cfg, publishing onto bus -- the same shared
// hub every other component is wired to at the composition root (spec.md
// section 9's "no implicit module-level state" design note), filling in
// defaults the way the teacher's DefaultConfig constructors do.
func New(bus *events.Bus, cfg Config) *Prober {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LocalTimeout == 0 {
		cfg.LocalTimeout = 3 * time.Second
	}
	if cfg.ExternalTimeout == 0 {
		cfg.ExternalTimeout = 5 * time.Second
	}
	if cfg.Stabilisation == 0 {
		cfg.Stabilisation = 1 * time.Second
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	return &Prober{
		baseURL:         cfg.BaseURL,
		externalPath:    cfg.ExternalPath,
		httpClient:      cfg.HTTPClient,
		bus:             bus,
		logger:          cfg.Logger,
		localTimeout:    cfg.LocalTimeout,
		externalTimeout: cfg.ExternalTimeout,
		stabilisation:   cfg.Stabilisation,
		retryDelay:      cfg.RetryDelay,
	}
}

// IsOnline, IsLocalReachable, IsExternalReachable report the three
// booleans from spec.md section 4.C.
func (p *Prober) IsOnline() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isOnline
}

func (p *Prober) IsLocalReachable() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isLocalReachable
}

func (p *Prober) IsExternalReachable() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isExternalReachable
}

// HandleBrowserOnline seeds the probe from a browser-level "online"
// event: it waits for the stabilisation delay and runs the two-stage
// check, emitting network:online:start immediately and network:online
// once the check completes (spec.md section 4.C).
func (p *Prober) HandleBrowserOnline(ctx context.Context) {
	atomic.StoreInt32(&p.online, 1)
	p.bus.Publish(events.NetworkOnlineStart, events.NetworkPayload{IsOnline: true})

	select {
	case <-time.After(p.stabilisation):
	case <-ctx.Done():
		return
	}
	p.runCheck(ctx)
}

// HandleBrowserOffline seeds the probe from a browser-level "offline"
// event, emitting network:offline:start then network:offline.
func (p *Prober) HandleBrowserOffline(ctx context.Context) {
	atomic.StoreInt32(&p.online, 0)
	p.bus.Publish(events.NetworkOfflineStart, events.NetworkPayload{IsOnline: false})

	p.mu.Lock()
	p.isOnline = false
	p.isLocalReachable = false
	p.isExternalReachable = false
	payload := events.NetworkPayload{}
	p.mu.Unlock()

	p.bus.Publish(events.NetworkOffline, payload)
}

// runCheck performs stage (1) HEAD /health with localTimeout, retrying
// once after retryDelay on failure, then stage (2) GET the external
// dependency path with externalTimeout. Stage (2) failing degrades the
// state (isExternalReachable=false) but does not block sync -- only
// search-like UI features are expected to disable themselves (spec.md
// section 4.C).
func (p *Prober) runCheck(ctx context.Context) {
	localOK := p.checkLocal(ctx)
	if !localOK {
		select {
		case <-time.After(p.retryDelay):
		case <-ctx.Done():
			return
		}
		localOK = p.checkLocal(ctx)
	}

	externalOK := false
	if localOK {
		externalOK = p.checkExternal(ctx)
	}

	p.mu.Lock()
	p.isOnline = localOK
	p.isLocalReachable = localOK
	p.isExternalReachable = externalOK
	payload := events.NetworkPayload{
		IsOnline:            localOK,
		IsLocalReachable:    localOK,
		IsExternalReachable: externalOK,
	}
	p.mu.Unlock()

	if localOK {
		p.bus.Publish(events.NetworkOnline, payload)
	} else {
		p.bus.Publish(events.NetworkOffline, payload)
	}
}

func (p *Prober) checkLocal(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.localTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.baseURL+"/api/v1/health", nil)
	if err != nil {
		p.logger.Error("failed to build local health request", "error", err)
		return false
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Debug("local health check failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (p *Prober) checkExternal(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.externalTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+p.externalPath, nil)
	if err != nil {
		p.logger.Error("failed to build external dependency health request", "error", err)
		return false
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Debug("external dependency health check failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
