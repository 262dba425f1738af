// Package launchpad is the embeddable launcher: a store of entries, a
// single-instance launch coordinator and an HTTP API, wired from a Config.
package launchpad

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/launchpad/internal/config"
	"github.com/loykin/launchpad/internal/history"
	histfactory "github.com/loykin/launchpad/internal/history/factory"
	"github.com/loykin/launchpad/internal/launcher"
	"github.com/loykin/launchpad/internal/logger"
	"github.com/loykin/launchpad/internal/metrics"
	"github.com/loykin/launchpad/internal/pathguard"
	"github.com/loykin/launchpad/internal/process"
	"github.com/loykin/launchpad/internal/registry"
	"github.com/loykin/launchpad/internal/server"
	"github.com/loykin/launchpad/internal/service"
	"github.com/loykin/launchpad/internal/store"
	storefactory "github.com/loykin/launchpad/internal/store/factory"
	tlsx "github.com/loykin/launchpad/internal/tls"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.
type (
	Config    = config.Config
	Entry     = store.Entry
	EntryView = service.EntryView
	Request   = launcher.Request
	Result    = launcher.Result
	Outcome   = launcher.Outcome
	ExitEvent = launcher.ExitEvent
	Observer  = launcher.Observer
	Tracked   = registry.Tracked
	Event     = history.Event
	Spawner   = process.Spawner
)

type ObserverFunc = launcher.ObserverFunc

const (
	OutcomeSuccess          = launcher.OutcomeSuccess
	OutcomeAlreadyRunning   = launcher.OutcomeAlreadyRunning
	OutcomeValidationFailed = launcher.OutcomeValidationFailed
	OutcomeSpawnFailed      = launcher.OutcomeSpawnFailed
)

var (
	ErrNotFound     = store.ErrNotFound
	ErrInvalidEntry = store.ErrInvalidEntry
	ErrEntryRunning = service.ErrEntryRunning
)

// LoadConfig reads a TOML config; an empty path returns defaults plus
// LAUNCHPAD_* environment overrides.
func LoadConfig(path string) (Config, error) { return config.Load(path) }

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config { return config.Default() }

// IsValidExecutablePath reports whether path would pass launch validation
// with the default allow-list.
func IsValidExecutablePath(path string) bool { return pathguard.IsValidExecutablePath(path) }

// IsValidWorkingDirectory reports whether path is usable as a working directory.
func IsValidWorkingDirectory(path string) bool { return pathguard.IsValidWorkingDirectory(path) }

// SanitizeArguments splits a raw argument string into shell-inert tokens.
func SanitizeArguments(raw string) []string { return pathguard.SanitizeArguments(raw) }

// Launchpad owns the store, history sinks, launcher and service built from a Config.
type Launchpad struct {
	cfg       Config
	log       *slog.Logger
	logCloser io.Closer

	store     store.Store
	sinks     []history.Sink
	launcher  *launcher.Launcher
	svc       *service.Service
	resources *metrics.ResourceCollector
}

type options struct {
	log     *slog.Logger
	spawner process.Spawner
	clock   clockwork.Clock
	store   store.Store
}

type Option func(*options)

// WithLogger uses l instead of building a logger from Config.Log.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.log = l } }

// WithSpawner replaces the OS spawner.
func WithSpawner(s Spawner) Option { return func(o *options) { o.spawner = s } }

// WithClock replaces the real clock.
func WithClock(c clockwork.Clock) Option { return func(o *options) { o.clock = c } }

// WithStore uses st instead of opening Config.Store.DSN. Close still closes it.
func WithStore(st store.Store) Option { return func(o *options) { o.store = st } }

// New opens the store and history sinks named by cfg and wires the launcher.
func New(cfg Config, opts ...Option) (*Launchpad, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	lp := &Launchpad{cfg: cfg, log: o.log, logCloser: nopCloser{}}
	if lp.log == nil {
		lp.log, lp.logCloser = logger.New(cfg.Log)
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}

	lp.store = o.store
	if lp.store == nil {
		st, err := storefactory.NewFromDSN(cfg.Store.DSN)
		if err != nil {
			_ = lp.logCloser.Close()
			return nil, fmt.Errorf("open store: %w", err)
		}
		lp.store = st
	}
	if err := lp.store.EnsureSchema(context.Background()); err != nil {
		_ = lp.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	sinks, err := histfactory.NewSinks(cfg.History.Sinks)
	if err != nil {
		_ = lp.Close()
		return nil, fmt.Errorf("open history sinks: %w", err)
	}
	lp.sinks = sinks
	for _, s := range sinks {
		if t, ok := s.(interface{ EnsureTable(context.Context) error }); ok {
			if err := t.EnsureTable(context.Background()); err != nil {
				lp.log.Warn("history table setup failed", "error", err)
			}
		}
	}

	icons, err := cfg.IconExtractor()
	if err != nil {
		_ = lp.Close()
		return nil, fmt.Errorf("icon extractor: %w", err)
	}

	lopts := []launcher.Option{
		launcher.WithGuard(pathguard.New(cfg.GuardOptions()...)),
		launcher.WithClock(o.clock),
		launcher.WithLogger(lp.log),
		launcher.WithProbeDelay(cfg.Launch.StartupProbe),
		launcher.WithHistory(sinks...),
	}
	if o.spawner != nil {
		lopts = append(lopts, launcher.WithSpawner(o.spawner))
	}
	lp.launcher = launcher.New(lopts...)

	sopts := []service.Option{service.WithIcons(icons), service.WithClock(o.clock), service.WithLogger(lp.log)}
	for _, s := range sinks {
		if r, ok := s.(history.Reader); ok {
			sopts = append(sopts, service.WithHistoryReader(r))
			break
		}
	}
	lp.svc = service.New(lp.store, lp.launcher, sopts...)

	lp.resources = metrics.NewResourceCollector(cfg.Metrics.Resources)
	lp.resources.SetClock(o.clock)
	return lp, nil
}

func (lp *Launchpad) Service() *service.Service { return lp.svc }

func (lp *Launchpad) Logger() *slog.Logger { return lp.log }

func (lp *Launchpad) CreateEntry(ctx context.Context, e Entry) (Entry, error) {
	return lp.svc.CreateEntry(ctx, e)
}

func (lp *Launchpad) UpdateEntry(ctx context.Context, e Entry) (Entry, error) {
	return lp.svc.UpdateEntry(ctx, e)
}

func (lp *Launchpad) GetEntry(ctx context.Context, id string) (EntryView, error) {
	return lp.svc.GetEntry(ctx, id)
}

func (lp *Launchpad) ListEntries(ctx context.Context) ([]EntryView, error) {
	return lp.svc.ListEntries(ctx)
}

func (lp *Launchpad) DeleteEntry(ctx context.Context, id string) error {
	return lp.svc.DeleteEntry(ctx, id)
}

func (lp *Launchpad) LaunchEntry(ctx context.Context, id string) (Result, error) {
	return lp.svc.LaunchEntry(ctx, id)
}

// Launch runs an ad-hoc request that is not backed by a stored entry.
func (lp *Launchpad) Launch(ctx context.Context, req Request) Result {
	return lp.launcher.Launch(ctx, req)
}

func (lp *Launchpad) Running() []Tracked { return lp.svc.Running() }

func (lp *Launchpad) IsRunning(id string) (Tracked, bool) { return lp.svc.IsRunning(id) }

func (lp *Launchpad) Subscribe(o Observer) func() { return lp.svc.Subscribe(o) }

// EnableMetrics registers the launcher collectors (and the resource gauges
// when enabled) with r.
func (lp *Launchpad) EnableMetrics(r prometheus.Registerer) error {
	if err := metrics.Register(r); err != nil {
		return err
	}
	return lp.resources.RegisterMetrics(r)
}

// Router returns the HTTP API router. The caller must Close it.
func (lp *Launchpad) Router() *server.Router {
	opts := []server.RouterOption{
		server.WithLogger(lp.log),
		server.WithResources(lp.resources),
		server.WithAuth(lp.cfg.Server.Auth),
	}
	if lp.cfg.Metrics.Enabled {
		opts = append(opts, server.WithMetricsHandler(metrics.Handler()))
	}
	return server.NewRouter(lp.svc, lp.cfg.Server.BasePath, opts...)
}

// Serve runs the HTTP API on Config.Server.Listen until ctx is done, then
// shuts the server down. Launched children keep running.
func (lp *Launchpad) Serve(ctx context.Context) error {
	if lp.cfg.Metrics.Enabled {
		if err := lp.EnableMetrics(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}
	ln, err := lp.listen()
	if err != nil {
		return err
	}
	return lp.serve(ctx, ln)
}

// listen opens Config.Server.Listen, wrapped in TLS when server.tls is enabled.
func (lp *Launchpad) listen() (net.Listener, error) {
	tc, err := tlsx.Setup(lp.cfg.Server.TLS)
	if err != nil {
		return nil, fmt.Errorf("server tls: %w", err)
	}
	ln, err := net.Listen("tcp", lp.cfg.Server.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", lp.cfg.Server.Listen, err)
	}
	if tc != nil {
		return tls.NewListener(ln, tc), nil
	}
	return ln, nil
}

func (lp *Launchpad) serve(ctx context.Context, ln net.Listener) error {
	router := lp.Router()
	defer func() { _ = router.Close() }()

	lp.resources.Start(ctx, lp.runningPIDs)
	defer lp.resources.Stop()

	srv := &http.Server{
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	lp.log.Info("serving API", "addr", ln.Addr().String(), "base_path", lp.cfg.Server.BasePath)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	// websocket clients are hijacked connections Shutdown does not wait for
	_ = router.Close()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (lp *Launchpad) runningPIDs() map[string]int {
	tracked := lp.svc.Running()
	out := make(map[string]int, len(tracked))
	for _, t := range tracked {
		out[t.EntryID] = t.PID
	}
	return out
}

// Close stops watching children and releases the store and sinks. Children
// that are still running are left alone.
func (lp *Launchpad) Close() error {
	if lp.launcher != nil {
		lp.launcher.Close()
	}
	var errs []error
	histfactory.Close(lp.sinks)
	if lp.store != nil {
		errs = append(errs, lp.store.Close())
	}
	errs = append(errs, lp.logCloser.Close())
	return errors.Join(errs...)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
