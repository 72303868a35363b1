package progress

import (
	"log/slog"
	"sync"
)

// Event is a single startup progress update delivered to the presentation
// layer. Progress is nil when no percentage applies; error events always
// carry a nil Progress so the UI stops animating.
type Event struct {
	Message  string   `json:"message"`
	Progress *float64 `json:"progress"`
	Err      bool     `json:"error"`
}

// Sink consumes progress events. Reporting is fire-and-forget: a Sink must
// not block the caller and must swallow its own delivery failures.
type Sink interface {
	Report(ev Event)
}

// Discard is a Sink that drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Report(Event) {}

// Multi fans one event out to several sinks in order.
func Multi(sinks ...Sink) Sink { return multi(sinks) }

type multi []Sink

func (m multi) Report(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Report(ev)
		}
	}
}

// SlogSink logs each event through a slog logger.
type SlogSink struct{ Logger *slog.Logger }

func (s SlogSink) Report(ev Event) {
	if s.Logger == nil {
		return
	}
	if ev.Err {
		s.Logger.Error("startup failed", "message", ev.Message)
		return
	}
	if ev.Progress != nil {
		s.Logger.Info("startup progress", "message", ev.Message, "progress", *ev.Progress)
	} else {
		s.Logger.Info("startup progress", "message", ev.Message)
	}
}

// Reporter translates supervisor transitions into Events with a
// monotonically non-decreasing percentage. It is safe for concurrent use.
type Reporter struct {
	mu   sync.Mutex
	sink Sink
	last float64
}

func NewReporter(sink Sink) *Reporter {
	if sink == nil {
		sink = Discard
	}
	return &Reporter{sink: sink}
}

// Stage reports a non-error transition. Percentages never go backwards:
// a pct lower than the last reported one is clamped up to it.
func (r *Reporter) Stage(msg string, pct float64) {
	r.mu.Lock()
	if pct < r.last {
		pct = r.last
	}
	if pct > 100 {
		pct = 100
	}
	r.last = pct
	sink := r.sink
	r.mu.Unlock()
	p := pct
	sink.Report(Event{Message: msg, Progress: &p})
}

// Error reports a terminal failure. Progress is nil by contract.
func (r *Reporter) Error(msg string) {
	r.mu.Lock()
	sink := r.sink
	r.mu.Unlock()
	sink.Report(Event{Message: msg, Err: true})
}

// Last returns the highest percentage reported so far.
func (r *Reporter) Last() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
