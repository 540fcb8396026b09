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

	serverStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "previewd",
			Subsystem: "server",
			Name:      "starts_total",
			Help:      "Dev server start attempts by result (ok, wrong_cwd, no_command, spawn_failed).",
		}, []string{"result"},
	)
	serverStops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "previewd",
			Subsystem: "server",
			Name:      "stops_total",
			Help:      "Number of dev server children terminated by stop or replacement.",
		},
	)
	spawnFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "previewd",
			Subsystem: "server",
			Name:      "spawn_failures_total",
			Help:      "Number of times the OS refused to spawn a dev server command.",
		},
	)
	trackedServers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "previewd",
			Subsystem: "server",
			Name:      "tracked",
			Help:      "Projects that currently own a live child process.",
		},
	)
	diagnoses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "previewd",
			Subsystem: "diagnosis",
			Name:      "total",
			Help:      "Diagnostics produced, by reason code.",
		}, []string{"reason"},
	)
	probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "previewd",
			Subsystem: "probe",
			Name:      "duration_seconds",
			Help:      "TCP reachability probe latency.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .2, .4, .8},
		}, []string{"reachable"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{serverStarts, serverStops, spawnFailures, trackedServers, diagnoses, probeDuration}
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

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register succeeds.

func IncStart(result string) {
	if regOK.Load() {
		serverStarts.WithLabelValues(result).Inc()
	}
}

func IncStop() {
	if regOK.Load() {
		serverStops.Inc()
	}
}

func IncSpawnFailure() {
	if regOK.Load() {
		spawnFailures.Inc()
	}
}

func SetTracked(n int) {
	if regOK.Load() {
		trackedServers.Set(float64(n))
	}
}

func IncDiagnosis(reason string) {
	if regOK.Load() && reason != "" {
		diagnoses.WithLabelValues(reason).Inc()
	}
}

func ObserveProbe(seconds float64, reachable bool) {
	if regOK.Load() {
		label := "false"
		if reachable {
			label = "true"
		}
		probeDuration.WithLabelValues(label).Observe(seconds)
	}
}
