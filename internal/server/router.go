package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/appgate/internal/history"
	"github.com/loykin/appgate/internal/metrics"
	"github.com/loykin/appgate/internal/supervisor"
)

// StatusSource exposes the supervisor state to the HTTP layer.
type StatusSource interface {
	Snapshot() supervisor.Status
}

// RunSource exposes recorded launch history.
type RunSource interface {
	Recent(ctx context.Context, limit int) ([]history.Record, error)
}

// Router serves the local status API the presentation layer talks to.
// Endpoints under basePath:
//
//	GET {base}/healthz  launcher liveness
//	GET {base}/status   supervisor snapshot
//	GET {base}/events   SSE stream of progress events
//	GET {base}/history  recent launch records (404 when history is off)
//	GET {base}/metrics  Prometheus metrics (optional)
type Router struct {
	status   StatusSource
	runs     RunSource
	hub      *Hub
	basePath string
	metrics  bool
}

func NewRouter(status StatusSource, runs RunSource, hub *Hub, basePath string, withMetrics bool) *Router {
	if hub == nil {
		hub = NewHub()
	}
	return &Router{
		status:   status,
		runs:     runs,
		hub:      hub,
		basePath: sanitizeBase(basePath),
		metrics:  withMetrics,
	}
}

// Hub returns the progress sink the supervisor should report into.
func (r *Router) Hub() *Hub { return r.hub }

func (r *Router) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/healthz", r.handleHealthz)
	group.GET("/status", r.handleStatus)
	group.GET("/events", r.handleEvents)
	group.GET("/history", r.handleHistory)
	if r.metrics {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer starts the status server on addr. WriteTimeout stays zero
// because /events holds its response open for the whole startup.
func NewServer(addr string, handler http.Handler) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

type errorResp struct {
	Error string `json:"error"`
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

func (r *Router) handleStatus(c *gin.Context) {
	if r.status == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "supervisor not running"})
		return
	}
	writeJSON(c, http.StatusOK, r.status.Snapshot())
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.runs == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "history disabled"})
		return
	}
	limit := 20
	if q := c.Query("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid limit"})
			return
		}
		limit = n
	}
	recs, err := r.runs.Recent(c.Request.Context(), limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if recs == nil {
		recs = []history.Record{}
	}
	writeJSON(c, http.StatusOK, recs)
}

// handleEvents streams progress events as server-sent events until the
// client disconnects.
func (r *Router) handleEvents(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: "streaming unsupported"})
		return
	}
	ch, cancel := r.hub.Subscribe()
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	flusher.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			b, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := c.Writer.Write([]byte("data: " + string(b) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
