package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	launches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "launchpad",
			Name:      "launch_total",
			Help:      "Launch attempts by outcome.",
		}, []string{"outcome"},
	)
	rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "launchpad",
			Name:      "launch_rejections_total",
			Help:      "Launches refused by path validation, by reason.",
		}, []string{"reason"},
	)
	exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "launchpad",
			Name:      "exit_total",
			Help:      "Observed child exits, by kind (exited or signaled).",
		}, []string{"kind"},
	)
	running = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "launchpad",
			Name:      "running_entries",
			Help:      "Entries that currently have a live child process.",
		},
	)
	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "launchpad",
			Name:      "run_duration_seconds",
			Help:      "Wall time between spawn and observed exit.",
			Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 14400},
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{launches, rejections, exits, running, runDuration}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
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

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncLaunch(outcome string) {
	if regOK.Load() {
		launches.WithLabelValues(outcome).Inc()
	}
}

func IncRejection(reason string) {
	if regOK.Load() {
		rejections.WithLabelValues(reason).Inc()
	}
}

func IncExit(signaled bool) {
	if !regOK.Load() {
		return
	}
	kind := "exited"
	if signaled {
		kind = "signaled"
	}
	exits.WithLabelValues(kind).Inc()
}

func SetRunning(n int) {
	if regOK.Load() {
		running.Set(float64(n))
	}
}

func ObserveRunDuration(seconds float64) {
	if regOK.Load() {
		runDuration.Observe(seconds)
	}
}
