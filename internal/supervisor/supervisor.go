package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/loykin/appgate/internal/config"
	"github.com/loykin/appgate/internal/detector"
	"github.com/loykin/appgate/internal/env"
	"github.com/loykin/appgate/internal/history"
	"github.com/loykin/appgate/internal/launcher"
	"github.com/loykin/appgate/internal/metrics"
	"github.com/loykin/appgate/internal/probe"
	"github.com/loykin/appgate/internal/progress"
	"github.com/loykin/appgate/internal/resolver"
)

// Phase of the supervised run as exposed to the status API.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseResolving Phase = "resolving"
	PhaseLaunching Phase = "launching"
	PhaseSpawned   Phase = "spawned"
	PhaseLive      Phase = "live"
	PhaseReady     Phase = "ready"
	PhaseFailed    Phase = "failed"
	PhaseStopped   Phase = "stopped"
)

// Progress percentages for each startup stage. Readiness attempts advance
// from readinessBase in readinessStep increments, capped at readinessCap.
const (
	pctStarting     = 10
	pctSpawned      = 20
	pctInitializing = 30
	readinessBase   = 30
	readinessStep   = 6
	readinessCap    = 90
	pctLoading      = 95
	pctReady        = 100
	defaultErrGrace = 10 * time.Second
	defaultGrace    = 5 * time.Second
)

// Status is a point-in-time copy of the supervisor state.
type Status struct {
	Phase     Phase      `json:"phase"`
	PID       int        `json:"pid,omitempty"`
	WorkDir   string     `json:"workdir,omitempty"`
	LogPath   string     `json:"log_path,omitempty"`
	Progress  float64    `json:"progress"`
	Error     string     `json:"error,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// Options configures a Supervisor. Only Config is required.
type Options struct {
	Config  config.Config
	Sink    progress.Sink
	Logger  *slog.Logger
	History *history.Store
	// OnReady runs once when the backend is fully ready, before the final
	// progress event. The presentation layer uses it to swap the splash
	// screen for the main window.
	OnReady func()
}

// Supervisor drives one backend run: resolve the backend directory, spawn
// the process, gate on liveness then readiness, and keep the child handle
// for shutdown. All state is behind a mutex; the mutex is never held across
// blocking calls.
type Supervisor struct {
	cfg     config.Config
	rep     *progress.Reporter
	log     *slog.Logger
	hist    *history.Store
	onReady func()

	mu        sync.Mutex
	phase     Phase
	workdir   string
	logPath   string
	handle    *launcher.Handle
	startedAt time.Time
	lastErr   error
	runID     int64
}

func New(opts Options) *Supervisor {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		cfg:     opts.Config,
		rep:     progress.NewReporter(opts.Sink),
		log:     log,
		hist:    opts.History,
		onReady: opts.OnReady,
		phase:   PhaseIdle,
	}
}

// Run executes a full supervised startup and then blocks until the backend
// exits or ctx is cancelled. Cancellation shuts the backend down and returns
// nil; an unexpected child exit or a failed startup returns an error.
func (s *Supervisor) Run(ctx context.Context) error {
	start := time.Now()
	s.mu.Lock()
	s.startedAt = start
	s.mu.Unlock()

	h, err := s.startBackend(ctx)
	if err != nil {
		// cancellation mid-startup is a user-initiated stop, not a failure
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.Shutdown()
			return nil
		}
		return s.fail(ctx, err)
	}

	s.setPhase(PhaseReady)
	metrics.IncRun("ready")
	metrics.ObserveStartupDuration(time.Since(start).Seconds())
	s.finishHistory(history.OutcomeReady, "")
	if s.onReady != nil {
		s.onReady()
	}
	s.rep.Stage("Application ready", pctReady)
	s.log.Info("backend ready", "pid", h.PID(), "elapsed", time.Since(start))

	select {
	case <-ctx.Done():
		s.Shutdown()
		return nil
	case <-h.Exited():
		// Shutdown takes the handle slot before terminating; an exit with
		// the slot already empty is an intentional stop, not a crash.
		s.mu.Lock()
		owned := s.handle == h
		s.handle = nil
		s.mu.Unlock()
		if !owned {
			return nil
		}
		detector.RemovePIDFile(s.cfg.Backend.PIDFile)
		exitErr := h.ExitErr()
		wrapped := fmt.Errorf("backend exited unexpectedly")
		if exitErr != nil {
			wrapped = fmt.Errorf("backend exited unexpectedly: %w", exitErr)
		}
		s.setError(wrapped)
		s.setPhase(PhaseFailed)
		metrics.IncRun("crashed")
		s.finishHistory(history.OutcomeCrashed, detailOf(exitErr, h.Output()))
		return wrapped
	}
}

// startBackend runs resolve, launch and both probe stages, reporting
// progress throughout. It returns the live handle on success.
func (s *Supervisor) startBackend(ctx context.Context) (*launcher.Handle, error) {
	b := s.cfg.Backend

	s.setPhase(PhaseResolving)
	s.rep.Stage("Starting backend service...", pctStarting)
	workdir, err := resolver.New(b.Entry, b.ResourceDir).Resolve()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.workdir = workdir
	s.mu.Unlock()
	s.log.Info("backend directory resolved", "dir", workdir)

	merged, err := env.New().
		UseOSIf(s.cfg.UseOSEnv).
		AddFiles(s.cfg.EnvFiles).
		SetKV(s.cfg.Env).
		Merge()
	if err != nil {
		return nil, fmt.Errorf("merge backend environment: %w", err)
	}

	if b.PIDFile != "" {
		d := detector.PIDFileDetector{Path: b.PIDFile}
		if alive, err := d.Alive(); err == nil && alive {
			return nil, fmt.Errorf("backend already running (%s)", d.Describe())
		}
	}

	s.setPhase(PhaseLaunching)
	logCfg := s.cfg.Log
	if logCfg.Dir == "" {
		logCfg.Dir = filepath.Join(workdir, "logs")
	}
	s.mu.Lock()
	s.logPath = filepath.Join(logCfg.Dir, "backend.log")
	s.mu.Unlock()

	l := launcher.New(launcher.Config{
		WorkDir:     workdir,
		Entry:       b.Entry,
		Script:      b.LaunchScript,
		Env:         merged,
		PIDFile:     b.PIDFile,
		Log:         logCfg,
		SettleDelay: b.SettleDelay,
	}, s.log)
	h, err := l.Launch()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
	s.recordStart(h.PID(), workdir)

	s.setPhase(PhaseSpawned)
	s.rep.Stage("Backend process started", pctSpawned)

	p := probe.New(probe.Config{
		BaseURL:           b.BaseURL,
		HealthPath:        b.HealthPath,
		ReadyPath:         b.ReadyPath,
		LivenessAttempts:  b.LivenessAttempts,
		LivenessInterval:  b.LivenessInterval,
		ReadinessAttempts: b.ReadinessAttempts,
		ReadinessInterval: b.ReadinessInterval,
	})
	p.OnAttempt(func(stage string, n int, a probe.Attempt) {
		if stage != probe.StageReadiness {
			return
		}
		pct := float64(readinessBase + readinessStep*n)
		if pct > readinessCap {
			pct = readinessCap
		}
		s.rep.Stage("Waiting for backend to become ready...", pct)
	})

	s.rep.Stage("Initializing backend service...", pctInitializing)
	if err := p.WaitLive(ctx); err != nil {
		return nil, err
	}
	s.setPhase(PhaseLive)

	if err := p.WaitReady(ctx); err != nil {
		return nil, err
	}
	s.rep.Stage("Loading application...", pctLoading)
	return h, nil
}

// fail reports the failure, keeps the process around for the error grace
// window so the splash can display the message, then tears everything down.
func (s *Supervisor) fail(ctx context.Context, err error) error {
	s.setError(err)
	s.setPhase(PhaseFailed)
	s.rep.Error(err.Error())
	s.log.Error("backend startup failed", "error", err)
	metrics.IncRun("failed")
	s.finishHistory(history.OutcomeFailed, err.Error())

	grace := s.cfg.Backend.ErrorGrace
	if grace <= 0 {
		grace = defaultErrGrace
	}
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
	s.Shutdown()
	return err
}

// Shutdown terminates the backend if it is still owned. At most one caller
// performs the termination; the handle slot is cleared under the lock so a
// concurrent Shutdown sees an empty slot and returns immediately.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.mu.Unlock()
	if h == nil {
		return
	}
	grace := s.cfg.Backend.GracePeriod
	if grace <= 0 {
		grace = defaultGrace
	}
	if err := h.Terminate(grace); err != nil {
		s.log.Warn("backend termination", "error", err)
	}
	s.mu.Lock()
	if s.phase != PhaseFailed {
		s.phase = PhaseStopped
	}
	ph := s.phase
	s.mu.Unlock()
	metrics.SetPhase(string(ph))
	if ph == PhaseStopped {
		s.finishHistory(history.OutcomeStopped, "")
	}
	s.log.Info("backend stopped")
}

// Snapshot returns a copy of the current state for the status API.
func (s *Supervisor) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Phase:    s.phase,
		WorkDir:  s.workdir,
		LogPath:  s.logPath,
		Progress: s.rep.Last(),
	}
	if s.handle != nil {
		st.PID = s.handle.PID()
	}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	if !s.startedAt.IsZero() {
		t := s.startedAt
		st.StartedAt = &t
	}
	return st
}

func (s *Supervisor) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
	metrics.SetPhase(string(p))
}

func (s *Supervisor) setError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// History writes are best-effort: a broken history database must never take
// down a supervised run.
func (s *Supervisor) recordStart(pid int, workdir string) {
	if s.hist == nil {
		return
	}
	id, err := s.hist.RecordStart(context.Background(), time.Now(), pid, workdir)
	if err != nil {
		s.log.Warn("history record start", "error", err)
		return
	}
	s.mu.Lock()
	s.runID = id
	s.mu.Unlock()
}

func (s *Supervisor) finishHistory(outcome, detail string) {
	if s.hist == nil {
		return
	}
	s.mu.Lock()
	id := s.runID
	s.mu.Unlock()
	if id == 0 {
		return
	}
	if err := s.hist.RecordFinish(context.Background(), id, time.Now(), outcome, detail); err != nil {
		s.log.Warn("history record finish", "error", err)
	}
}

func detailOf(err error, output string) string {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if output != "" {
		if msg != "" {
			msg += ": "
		}
		msg += output
	}
	return msg
}
