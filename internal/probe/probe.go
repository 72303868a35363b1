package probe

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/loykin/appgate/internal/metrics"
)

// Phase is the probe state machine state. Transitions are strictly
// Spawned -> Live -> Ready, with Failed terminal from either loop.
type Phase string

const (
	PhaseSpawned Phase = "spawned"
	PhaseLive    Phase = "live"
	PhaseReady   Phase = "ready"
	PhaseFailed  Phase = "failed"
)

// Probe stages, used in errors, metrics and attempt callbacks.
const (
	StageLiveness  = "liveness"
	StageReadiness = "readiness"
)

// Default budgets mirror the launcher's startup contract: worst case wait is
// attempts x interval per stage.
const (
	DefaultLivenessAttempts  = 20
	DefaultLivenessInterval  = 2 * time.Second
	DefaultReadinessAttempts = 10
	DefaultReadinessInterval = time.Second
	DefaultRequestTimeout    = 10 * time.Second

	DefaultHealthPath = "/api/health"
	DefaultReadyPath  = "/login"
)

// Attempt is the ephemeral record of one HTTP check. It only informs the
// next retry decision and the attempt callback; it is never persisted.
type Attempt struct {
	Endpoint string
	Status   int // 0 on transport error
	Err      error
	At       time.Time
}

// TimeoutError reports an exhausted attempt budget for one stage.
type TimeoutError struct {
	Stage    string
	Attempts int
	BaseURL  string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("backend %s check failed after %d attempts against %s", e.Stage, e.Attempts, e.BaseURL)
}

type Config struct {
	BaseURL           string // e.g. http://127.0.0.1:8000
	HealthPath        string
	ReadyPath         string
	LivenessAttempts  int
	LivenessInterval  time.Duration
	ReadinessAttempts int
	ReadinessInterval time.Duration
	RequestTimeout    time.Duration
}

func (c *Config) applyDefaults() {
	if c.HealthPath == "" {
		c.HealthPath = DefaultHealthPath
	}
	if c.ReadyPath == "" {
		c.ReadyPath = DefaultReadyPath
	}
	if c.LivenessAttempts <= 0 {
		c.LivenessAttempts = DefaultLivenessAttempts
	}
	if c.LivenessInterval <= 0 {
		c.LivenessInterval = DefaultLivenessInterval
	}
	if c.ReadinessAttempts <= 0 {
		c.ReadinessAttempts = DefaultReadinessAttempts
	}
	if c.ReadinessInterval <= 0 {
		c.ReadinessInterval = DefaultReadinessInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
}

// Prober polls the backend's HTTP endpoints until it is live, then fully
// ready. Liveness and readiness are separate loops because a process can
// accept TCP connections well before its routes are registered.
type Prober struct {
	cfg    Config
	client *http.Client

	mu        sync.Mutex
	phase     Phase
	onAttempt func(stage string, n int, a Attempt)
}

func New(cfg Config) *Prober {
	cfg.applyDefaults()
	return &Prober{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
		phase:  PhaseSpawned,
	}
}

// OnAttempt installs a callback invoked after every probe attempt with the
// stage, the 1-based attempt number and the attempt outcome.
func (p *Prober) OnAttempt(fn func(stage string, n int, a Attempt)) {
	p.mu.Lock()
	p.onAttempt = fn
	p.mu.Unlock()
}

func (p *Prober) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

func (p *Prober) setPhase(ph Phase) {
	p.mu.Lock()
	p.phase = ph
	p.mu.Unlock()
}

// WaitLive polls the health endpoint until the backend accepts connections.
// On transport errors the root path is tried as an alternate liveness
// signal. Exhausting the budget transitions to Failed.
func (p *Prober) WaitLive(ctx context.Context) error {
	attempts := p.cfg.LivenessAttempts
	for i := 1; i <= attempts; i++ {
		a := p.get(p.cfg.HealthPath)
		p.notify(StageLiveness, i, a)
		if a.ok2xx() {
			p.setPhase(PhaseLive)
			return nil
		}
		if a.Err != nil {
			// health endpoint unreachable; a responding root still proves
			// the process is listening
			root := p.get("/")
			p.notify(StageLiveness, i, root)
			if root.ok2xx() {
				p.setPhase(PhaseLive)
				return nil
			}
		}
		if i < attempts {
			if err := sleepCtx(ctx, p.cfg.LivenessInterval); err != nil {
				return err
			}
		}
	}
	p.setPhase(PhaseFailed)
	return &TimeoutError{Stage: StageLiveness, Attempts: attempts, BaseURL: p.cfg.BaseURL}
}

// WaitReady polls the primary application route until the backend can serve
// it. The root-path fallback also accepts 401 since an auth challenge still
// proves routing works. WaitReady must never run before WaitLive succeeded.
func (p *Prober) WaitReady(ctx context.Context) error {
	if ph := p.Phase(); ph != PhaseLive {
		return fmt.Errorf("readiness probe requires live backend, current phase %s", ph)
	}
	attempts := p.cfg.ReadinessAttempts
	for i := 1; i <= attempts; i++ {
		a := p.get(p.cfg.ReadyPath)
		p.notify(StageReadiness, i, a)
		if a.ok2xx() {
			p.setPhase(PhaseReady)
			return nil
		}
		root := p.get("/")
		p.notify(StageReadiness, i, root)
		if root.ok2xx() || root.Status == http.StatusUnauthorized {
			p.setPhase(PhaseReady)
			return nil
		}
		if i < attempts {
			if err := sleepCtx(ctx, p.cfg.ReadinessInterval); err != nil {
				return err
			}
		}
	}
	p.setPhase(PhaseFailed)
	return &TimeoutError{Stage: StageReadiness, Attempts: attempts, BaseURL: p.cfg.BaseURL}
}

func (p *Prober) get(path string) Attempt {
	url := strings.TrimRight(p.cfg.BaseURL, "/") + path
	a := Attempt{Endpoint: url, At: time.Now()}
	resp, err := p.client.Get(url)
	if err != nil {
		a.Err = err
		return a
	}
	_ = resp.Body.Close()
	a.Status = resp.StatusCode
	return a
}

func (p *Prober) notify(stage string, n int, a Attempt) {
	metrics.IncProbeAttempt(stage, a.outcome())
	p.mu.Lock()
	fn := p.onAttempt
	p.mu.Unlock()
	if fn != nil {
		fn(stage, n, a)
	}
}

func (a Attempt) ok2xx() bool {
	return a.Err == nil && a.Status >= 200 && a.Status < 300
}

func (a Attempt) outcome() string {
	switch {
	case a.Err != nil:
		return "transport_error"
	case a.Status >= 200 && a.Status < 300:
		return "success"
	default:
		return "http_error"
	}
}

// sleepCtx sleeps for d or until ctx is cancelled, so a window close during
// startup interrupts the polling loop instead of waiting out the interval.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
