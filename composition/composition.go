// Package composition is the composition root spec.md section 9 calls
// for: every component is constructed here and wired together through
// explicit constructor arguments, with no module-level singletons
// anywhere in the dependency graph. It is grounded on the teacher's
// examples/mobile_flow/main.go, which plays the same role for
// oversqlite.Client/oversync wiring.
package composition

import (
	"context"
	"log/slog"
	"time"

	"github.com/Park-Yena00/reading-tracker-web/bgworker"
	"github.com/Park-Yena00/reading-tracker-web/config"
	"github.com/Park-Yena00/reading-tracker-web/engine"
	"github.com/Park-Yena00/reading-tracker-web/events"
	"github.com/Park-Yena00/reading-tracker-web/facade"
	"github.com/Park-Yena00/reading-tracker-web/gate"
	"github.com/Park-Yena00/reading-tracker-web/netprobe"
	"github.com/Park-Yena00/reading-tracker-web/outbox"
	"github.com/Park-Yena00/reading-tracker-web/remote"
	"github.com/Park-Yena00/reading-tracker-web/store"
	"github.com/Park-Yena00/reading-tracker-web/syncstate"
)

// App owns the fully wired graph for one local user session: the
// Durable Store (owning the physical SQLite file) plus the seven
// components built on top of it, and the background tasks (bgworker
// and the retention sweep) that run for the lifetime of the session.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Store       *store.Store
	Outbox      *outbox.Queue
	Remote      *remote.Client
	Probe       *netprobe.Prober
	Coordinator *syncstate.Coordinator
	Gate        *gate.Gate
	Bus         *events.Bus
	Engine      *engine.Engine
	Facade      *facade.Facade
	BGWorker    *bgworker.Worker

	cancelBackground context.CancelFunc
}

// Params gathers everything New needs that cannot be derived from cfg
// alone: the local database file, the remote API's credential supplier,
// and an optional override of the background worker's online signal
// (spec.md section 5 -- nil means "always online", correct for a
// server-side deployment; a browser embedding wires this to its own
// connectivity signal instead of reaching into the foreground Prober).
type Params struct {
	DBPath           string
	Token            func(ctx context.Context) (string, error)
	BackgroundOnline bgworker.Online
	Logger           *slog.Logger
}

// New opens the Durable Store, runs its migration, and constructs every
// component, wiring each one to the shared event bus per spec.md
// section 9's "no implicit module-level state" design note. It does not
// start any background goroutine; call Start for that.
func New(ctx context.Context, cfg *config.Config, params Params) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.Open(params.DBPath)
	if err != nil {
		return nil, err
	}
	if err := st.Init(ctx); err != nil {
		st.Close()
		return nil, err
	}

	ob := outbox.New(st.DB())
	rc := remote.New(cfg.BaseURL, params.Token, cfg.RequestTimeout)
	bus := events.New()
	coord := syncstate.New(bus)
	g := gate.New(bus, logger)
	probe := netprobe.New(bus, netprobe.Config{
		BaseURL:         cfg.BaseURL,
		ExternalPath:    "/api/v1/health/aladin",
		Logger:          logger,
		LocalTimeout:    cfg.LocalHealthTimeout,
		ExternalTimeout: cfg.ExternalHealthTimeout,
		Stabilisation:   cfg.ProbeStabilisationDelay,
		RetryDelay:      cfg.ProbeRetryDelay,
	})
	eng := engine.New(st, ob, rc, coord, bus, cfg, logger)
	fc := facade.New(st, eng, rc, probe, coord, g, logger)
	bg := bgworker.New(st, ob, rc, cfg, logger, params.BackgroundOnline)

	return &App{
		Config: cfg, Logger: logger,
		Store: st, Outbox: ob, Remote: rc, Probe: probe, Coordinator: coord,
		Gate: g, Bus: bus, Engine: eng, Facade: fc, BGWorker: bg,
	}, nil
}

// Start launches the background worker and the retention sweep loop,
// following spec.md section 9's fire-and-forget background task
// pattern. It returns immediately; both tasks run until ctx is
// cancelled or Stop is called.
func (a *App) Start(ctx context.Context) {
	bgCtx, cancel := context.WithCancel(ctx)
	a.cancelBackground = cancel
	go a.BGWorker.Run(bgCtx)
	go a.Engine.RunSweepLoop(bgCtx, 6*time.Hour)
}

// Stop cancels the background tasks started by Start. It does not close
// the Store -- call Close for that once the session is truly ending.
func (a *App) Stop() {
	if a.cancelBackground != nil {
		a.cancelBackground()
	}
}

// Close stops background tasks and closes the underlying database
// connection.
func (a *App) Close() error {
	a.Stop()
	return a.Store.Close()
}
