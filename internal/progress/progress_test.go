package progress

import (
	"sync"
	"testing"
)

type recordSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordSink) Report(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func TestReporterMonotonicProgress(t *testing.T) {
	sink := &recordSink{}
	r := NewReporter(sink)

	r.Stage("a", 10)
	r.Stage("b", 30)
	r.Stage("c", 20) // must be clamped up to 30
	r.Stage("d", 95)

	evs := sink.all()
	if len(evs) != 4 {
		t.Fatalf("expected 4 events, got %d", len(evs))
	}
	var prev float64
	for i, ev := range evs {
		if ev.Progress == nil {
			t.Fatalf("event %d has nil progress", i)
		}
		if *ev.Progress < prev {
			t.Fatalf("progress went backwards at event %d: %v < %v", i, *ev.Progress, prev)
		}
		prev = *ev.Progress
	}
	if *evs[2].Progress != 30 {
		t.Fatalf("expected clamp to 30, got %v", *evs[2].Progress)
	}
}

func TestReporterErrorEvent(t *testing.T) {
	sink := &recordSink{}
	r := NewReporter(sink)
	r.Stage("starting", 10)
	r.Error("backend not responding")

	evs := sink.all()
	last := evs[len(evs)-1]
	if !last.Err {
		t.Fatalf("expected error flag set")
	}
	if last.Progress != nil {
		t.Fatalf("error event must carry nil progress, got %v", *last.Progress)
	}
}

func TestReporterClampsOver100(t *testing.T) {
	sink := &recordSink{}
	r := NewReporter(sink)
	r.Stage("done", 120)
	evs := sink.all()
	if *evs[0].Progress != 100 {
		t.Fatalf("expected 100, got %v", *evs[0].Progress)
	}
}

func TestMultiFanout(t *testing.T) {
	a := &recordSink{}
	b := &recordSink{}
	m := Multi(a, nil, b)
	m.Report(Event{Message: "hi"})
	if len(a.all()) != 1 || len(b.all()) != 1 {
		t.Fatalf("expected both sinks to receive the event")
	}
}

func TestNilSinkDefaultsToDiscard(t *testing.T) {
	r := NewReporter(nil)
	r.Stage("ok", 50) // must not panic
	if r.Last() != 50 {
		t.Fatalf("expected last=50, got %v", r.Last())
	}
}
