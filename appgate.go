// Package appgate supervises a desktop application's backend process: it
// locates the backend, launches it, gates readiness behind HTTP probes and
// streams startup progress to the presentation layer.
package appgate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/loykin/appgate/internal/config"
	"github.com/loykin/appgate/internal/history"
	"github.com/loykin/appgate/internal/metrics"
	"github.com/loykin/appgate/internal/progress"
	"github.com/loykin/appgate/internal/server"
	"github.com/loykin/appgate/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-exported types forming the public surface.
type (
	Config = config.Config
	Status = supervisor.Status
	Event  = progress.Event
	Sink   = progress.Sink
	Record = history.Record
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config { return config.Default() }

// LoadConfig reads a TOML configuration file over the defaults; an empty
// path yields the defaults.
func LoadConfig(path string) (Config, error) { return config.Load(path) }

// Option customizes an App.
type Option func(*options)

type options struct {
	sink    progress.Sink
	onReady func()
}

// WithSink adds an extra progress sink next to the built-in log and SSE
// sinks.
func WithSink(s progress.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithOnReady sets the callback invoked once the backend is fully ready.
func WithOnReady(fn func()) Option {
	return func(o *options) { o.onReady = fn }
}

// App wires the supervisor, history store and status server together.
type App struct {
	cfg       Config
	log       *slog.Logger
	logCloser io.Closer
	sup       *supervisor.Supervisor
	hist      *history.Store
	srv       *http.Server
}

// New builds an App from cfg. Close must be called to release the history
// store, the status server and the log writer.
func New(cfg Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	log, logCloser := cfg.Log.New("appgate")

	var hist *history.Store
	if cfg.History.Enabled {
		var err error
		hist, err = history.Open(cfg.History.Path)
		if err != nil {
			_ = logCloser.Close()
			return nil, fmt.Errorf("open launch history: %w", err)
		}
	}

	sinks := []progress.Sink{progress.SlogSink{Logger: log}}
	if o.sink != nil {
		sinks = append(sinks, o.sink)
	}

	rs := &routerStatus{}
	var srv *http.Server
	if cfg.Server.Enabled {
		if cfg.Server.Metrics {
			if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
				log.Warn("metrics registration", "error", err)
			}
		}
		hub := server.NewHub()
		sinks = append(sinks, hub)
		var runs server.RunSource
		if hist != nil {
			runs = hist
		}
		router := server.NewRouter(rs, runs, hub, cfg.Server.BasePath, cfg.Server.Metrics)
		srv = server.NewServer(cfg.Server.Listen, router.Handler())
	}

	a := &App{
		cfg:       cfg,
		log:       log,
		logCloser: logCloser,
		hist:      hist,
		srv:       srv,
	}
	a.sup = supervisor.New(supervisor.Options{
		Config:  cfg,
		Sink:    progress.Multi(sinks...),
		Logger:  log,
		History: hist,
		OnReady: o.onReady,
	})
	rs.set(a.sup)
	return a, nil
}

// routerStatus defers the status source until the supervisor is built; the
// router needs a StatusSource before supervisor.New has run.
type routerStatus struct {
	mu  sync.Mutex
	sup *supervisor.Supervisor
}

func (r *routerStatus) set(s *supervisor.Supervisor) {
	r.mu.Lock()
	r.sup = s
	r.mu.Unlock()
}

func (r *routerStatus) Snapshot() supervisor.Status {
	r.mu.Lock()
	s := r.sup
	r.mu.Unlock()
	if s == nil {
		return supervisor.Status{Phase: supervisor.PhaseIdle}
	}
	return s.Snapshot()
}

// Run executes the supervised startup and blocks until the backend exits or
// ctx is cancelled.
func (a *App) Run(ctx context.Context) error { return a.sup.Run(ctx) }

// Shutdown terminates the backend if it is running. Idempotent.
func (a *App) Shutdown() { a.sup.Shutdown() }

// Status returns the current supervisor snapshot.
func (a *App) Status() Status { return a.sup.Snapshot() }

// History returns recent launch records, newest first. It returns nil when
// history is disabled.
func (a *App) History(ctx context.Context, limit int) ([]Record, error) {
	if a.hist == nil {
		return nil, nil
	}
	return a.hist.Recent(ctx, limit)
}

// Close releases the status server, history store and log writer. The
// backend itself is stopped via Shutdown, not Close.
func (a *App) Close() error {
	var first error
	if a.srv != nil {
		if err := a.srv.Close(); err != nil && first == nil {
			first = err
		}
	}
	if a.hist != nil {
		if err := a.hist.Close(); err != nil && first == nil {
			first = err
		}
	}
	if err := a.logCloser.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
