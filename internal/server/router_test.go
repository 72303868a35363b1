package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loykin/appgate/internal/history"
	"github.com/loykin/appgate/internal/progress"
	"github.com/loykin/appgate/internal/supervisor"
)

type fakeStatus struct{ st supervisor.Status }

func (f fakeStatus) Snapshot() supervisor.Status { return f.st }

type fakeRuns struct {
	recs []history.Record
	err  error
}

func (f fakeRuns) Recent(_ context.Context, limit int) ([]history.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.recs) {
		return f.recs[:limit], nil
	}
	return f.recs, nil
}

func TestHealthz(t *testing.T) {
	r := NewRouter(nil, nil, nil, "", false)
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	st := supervisor.Status{Phase: supervisor.PhaseLive, PID: 42, WorkDir: "/opt/backend", Progress: 30}
	r := NewRouter(fakeStatus{st}, nil, nil, "/launcher", false)
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/launcher/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var got supervisor.Status
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Phase != supervisor.PhaseLive || got.PID != 42 {
		t.Fatalf("unexpected status: %+v", got)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	runs := fakeRuns{recs: []history.Record{
		{ID: 2, StartedAt: now, Outcome: history.OutcomeReady},
		{ID: 1, StartedAt: now.Add(-time.Hour), Outcome: history.OutcomeFailed},
	}}
	r := NewRouter(nil, runs, nil, "", false)
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/history?limit=1")
	if err != nil {
		t.Fatalf("GET /history: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var got []history.Record
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].ID != 2 {
		t.Fatalf("unexpected records: %+v", got)
	}

	bad, err := http.Get(srv.URL + "/history?limit=zero")
	if err != nil {
		t.Fatal(err)
	}
	_ = bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid limit should 400, got %d", bad.StatusCode)
	}
}

func TestHistoryDisabled(t *testing.T) {
	r := NewRouter(nil, nil, nil, "", false)
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/history")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("disabled history should 404, got %d", resp.StatusCode)
	}
}

func TestEventsStream(t *testing.T) {
	hub := NewHub()
	r := NewRouter(nil, nil, hub, "", false)
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	// event published before the client connects is replayed
	p := 20.0
	hub.Report(progress.Event{Message: "Backend process started", Progress: &p})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	readEvent := func() progress.Event {
		t.Helper()
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read stream: %v", err)
			}
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev progress.Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				t.Fatalf("unmarshal event: %v", err)
			}
			return ev
		}
	}

	first := readEvent()
	if first.Message != "Backend process started" || first.Progress == nil || *first.Progress != 20 {
		t.Fatalf("replayed event wrong: %+v", first)
	}

	// live event after subscription
	go func() {
		for i := 0; i < 50; i++ {
			if hub.Subscribers() > 0 {
				hub.Report(progress.Event{Message: "startup failed", Err: true})
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()
	second := readEvent()
	if !second.Err || second.Progress != nil {
		t.Fatalf("live error event wrong: %+v", second)
	}
}

func TestHubDropsSlowSubscribers(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe()
	for i := 0; i < subscriberBuffer+10; i++ {
		pct := float64(i)
		hub.Report(progress.Event{Message: "tick", Progress: &pct})
	}
	// buffer full events were dropped, publisher never blocked
	if len(ch) != subscriberBuffer {
		t.Fatalf("channel len = %d, want %d", len(ch), subscriberBuffer)
	}
	cancel()
	if hub.Subscribers() != 0 {
		t.Fatalf("subscriber not removed")
	}
}

func TestSanitizeBase(t *testing.T) {
	cases := map[string]string{
		"":           "",
		"/":          "",
		"launcher":   "/launcher",
		"/launcher/": "/launcher",
		" /a ":       "/a",
	}
	for in, want := range cases {
		if got := sanitizeBase(in); got != want {
			t.Fatalf("sanitizeBase(%q) = %q, want %q", in, got, want)
		}
	}
}
