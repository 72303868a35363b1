package launcher

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/loykin/appgate/internal/detector"
	"github.com/loykin/appgate/internal/logger"
)

const (
	// DefaultSettleDelay is how long a freshly spawned backend must stay up
	// before Launch returns successfully. Crashes inside this window are
	// reported with their captured output.
	DefaultSettleDelay = 5 * time.Second

	// DefaultCaptureBytes bounds the in-memory tail of combined output kept
	// for crash reports.
	DefaultCaptureBytes = 64 * 1024

	DefaultGracePeriod = 5 * time.Second
)

// LaunchError reports a backend that exited during the settle window, with
// the tail of its combined output attached for diagnosis.
type LaunchError struct {
	ExitCode int
	Output   string
	Err      error
}

func (e *LaunchError) Error() string {
	msg := fmt.Sprintf("backend exited during startup (exit code %d)", e.ExitCode)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *LaunchError) Unwrap() error { return e.Err }

type Config struct {
	// WorkDir is the resolved backend directory; the child runs with this as
	// its working directory.
	WorkDir string
	// Entry is the backend entry script inside WorkDir, e.g. app.py.
	Entry string
	// Args are extra arguments appended after Entry.
	Args []string
	// Script overrides the default wrapper script name
	// (launch_server.sh / launch_server.bat).
	Script string
	// Env is the fully merged child environment; nil inherits the parent's.
	Env []string
	// PIDFile, when set, records the child PID with its start time so a
	// later run can detect a stale or reused PID.
	PIDFile string
	// Log configures rotated capture of the child's combined output.
	Log logger.Config
	// SettleDelay overrides DefaultSettleDelay when positive.
	SettleDelay time.Duration
	// CaptureBytes overrides DefaultCaptureBytes when positive.
	CaptureBytes int
}

// Launcher spawns the backend process and hands back a Handle that owns its
// whole lifecycle. One Launcher may be reused across runs; each Launch
// produces an independent Handle.
type Launcher struct {
	cfg Config
	log *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Launcher {
	if log == nil {
		log = slog.Default()
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.CaptureBytes <= 0 {
		cfg.CaptureBytes = DefaultCaptureBytes
	}
	return &Launcher{cfg: cfg, log: log}
}

// Handle is the single capability for interacting with a spawned backend.
// Terminate may be called any number of times; the first call wins.
type Handle struct {
	mu        sync.Mutex
	cmd       *exec.Cmd
	waitDone  chan struct{} // closed by the monitor when cmd.Wait returns
	exitErr   error
	exited    bool
	capture   *tailBuffer
	logCloser io.Closer
	pidFile   string

	termOnce sync.Once
	termErr  error
}

// Launch builds the backend command, spawns it in its own process group and
// watches it through the settle window. The returned Handle is live; the
// caller must Terminate it eventually.
func (l *Launcher) Launch() (*Handle, error) {
	cmd, err := l.buildCommand()
	if err != nil {
		return nil, err
	}

	h := &Handle{
		waitDone: make(chan struct{}),
		capture:  newTailBuffer(l.cfg.CaptureBytes),
		pidFile:  l.cfg.PIDFile,
	}

	var sink io.Writer = h.capture
	if l.cfg.Log.Dir != "" {
		if err := os.MkdirAll(l.cfg.Log.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		w := l.cfg.Log.Writer(filepath.Join(l.cfg.Log.Dir, "backend.log"))
		h.logCloser = w
		sink = io.MultiWriter(w, h.capture)
	}
	cmd.Stdout = sink
	cmd.Stderr = sink

	configureSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		if h.logCloser != nil {
			_ = h.logCloser.Close()
		}
		return nil, fmt.Errorf("spawn backend: %w", err)
	}
	h.cmd = cmd
	l.log.Info("backend spawned", "pid", cmd.Process.Pid, "dir", l.cfg.WorkDir)

	if l.cfg.PIDFile != "" {
		if err := detector.WritePIDFile(l.cfg.PIDFile, cmd.Process.Pid); err != nil {
			l.log.Warn("pid file write failed", "path", l.cfg.PIDFile, "error", err)
		}
	}

	// Single waiter: all other paths observe exit via waitDone.
	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		h.exitErr = err
		h.exited = true
		h.mu.Unlock()
		close(h.waitDone)
		if h.logCloser != nil {
			_ = h.logCloser.Close()
		}
	}()

	// Settle window: an immediate crash surfaces here instead of as a
	// confusing probe timeout later.
	select {
	case <-h.waitDone:
		detector.RemovePIDFile(l.cfg.PIDFile)
		return nil, &LaunchError{
			ExitCode: exitCode(h.ExitErr()),
			Output:   h.Output(),
			Err:      h.ExitErr(),
		}
	case <-time.After(l.cfg.SettleDelay):
	}
	return h, nil
}

// buildCommand picks how to start the backend: a launch wrapper script when
// the backend ships one, otherwise the interpreter nearest to the backend
// (bundled virtualenv first, system interpreter last).
func (l *Launcher) buildCommand() (*exec.Cmd, error) {
	if script := l.wrapperScript(); script != "" {
		cmd := shellCommand(script)
		cmd.Dir = l.cfg.WorkDir
		cmd.Env = l.cfg.Env
		return cmd, nil
	}

	entry := filepath.Join(l.cfg.WorkDir, l.cfg.Entry)
	if _, err := os.Stat(entry); err != nil {
		return nil, fmt.Errorf("backend entry %s: %w", entry, err)
	}
	interp, err := l.interpreter()
	if err != nil {
		return nil, err
	}
	args := append([]string{entry}, l.cfg.Args...)
	// #nosec G204
	cmd := exec.Command(interp, args...)
	cmd.Dir = l.cfg.WorkDir
	cmd.Env = l.cfg.Env
	return cmd, nil
}

func (l *Launcher) wrapperScript() string {
	name := l.cfg.Script
	if name == "" {
		name = "launch_server.sh"
		if runtime.GOOS == "windows" {
			name = "launch_server.bat"
		}
	}
	p := filepath.Join(l.cfg.WorkDir, name)
	if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
		return p
	}
	return ""
}

func (l *Launcher) interpreter() (string, error) {
	sub := filepath.Join("bin", "python")
	if runtime.GOOS == "windows" {
		sub = filepath.Join("Scripts", "python.exe")
	}
	for _, venv := range []string{"venv", ".venv"} {
		p := filepath.Join(l.cfg.WorkDir, venv, sub)
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p, nil
		}
	}
	for _, name := range []string{"python3", "python"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no python interpreter found for %s", l.cfg.WorkDir)
}

// PID returns the child's process id, or 0 before start.
func (h *Handle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Exited returns a channel closed when the child has been reaped.
func (h *Handle) Exited() <-chan struct{} { return h.waitDone }

// HasExited reports whether the child has been reaped.
func (h *Handle) HasExited() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exited
}

// ExitErr returns the error from cmd.Wait, valid once Exited is closed.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// Output returns the retained tail of the child's combined output.
func (h *Handle) Output() string {
	return strings.TrimSpace(h.capture.String())
}

// Terminate stops the backend and its whole process tree, escalating after
// grace. Idempotent; every call returns the first call's result.
func (h *Handle) Terminate(grace time.Duration) error {
	h.termOnce.Do(func() {
		if grace <= 0 {
			grace = DefaultGracePeriod
		}
		h.termErr = h.terminate(grace)
		detector.RemovePIDFile(h.pidFile)
	})
	return h.termErr
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
