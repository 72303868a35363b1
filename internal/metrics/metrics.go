package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Supervisor phases used for the current_phase gauge.
var Phases = []string{"idle", "resolving", "launching", "spawned", "live", "ready", "failed", "stopped"}

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	probeAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "appgate",
			Subsystem: "probe",
			Name:      "attempts_total",
			Help:      "Health probe attempts by phase and outcome.",
		}, []string{"phase", "outcome"},
	)
	launches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "appgate",
			Subsystem: "launcher",
			Name:      "runs_total",
			Help:      "Supervised runs by final outcome.",
		}, []string{"outcome"},
	)
	startupDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "appgate",
			Subsystem: "launcher",
			Name:      "startup_duration_seconds",
			Help:      "Time from spawn request to full readiness.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
	)
	currentPhase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "appgate",
			Subsystem: "supervisor",
			Name:      "current_phase",
			Help:      "Current supervisor phase (1 = active, 0 = inactive).",
		}, []string{"phase"},
	)
)

// Register registers all metrics with the provided registerer. Safe to call
// multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{probeAttempts, launches, startupDuration, currentPhase}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncProbeAttempt(phase, outcome string) {
	if regOK.Load() {
		probeAttempts.WithLabelValues(phase, outcome).Inc()
	}
}

func IncRun(outcome string) {
	if regOK.Load() {
		launches.WithLabelValues(outcome).Inc()
	}
}

func ObserveStartupDuration(seconds float64) {
	if regOK.Load() {
		startupDuration.Observe(seconds)
	}
}

func SetPhase(phase string) {
	if !regOK.Load() {
		return
	}
	for _, p := range Phases {
		v := 0.0
		if p == phase {
			v = 1.0
		}
		currentPhase.WithLabelValues(p).Set(v)
	}
}
