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

	roleStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "veild",
			Subsystem: "role",
			Name:      "starts_total",
			Help:      "Number of successful role launches.",
		}, []string{"role"},
	)
	roleRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "veild",
			Subsystem: "role",
			Name:      "restarts_total",
			Help:      "Number of automatic relaunches after process death.",
		}, []string{"role"},
	)
	roleStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "veild",
			Subsystem: "role",
			Name:      "stops_total",
			Help:      "Number of stops (graceful or kill).",
		}, []string{"role"},
	)
	probeResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "veild",
			Subsystem: "probe",
			Name:      "results_total",
			Help:      "Readiness probe loop results per role and probe kind.",
		}, []string{"role", "kind", "result"},
	)
	bootPhase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "veild",
			Subsystem: "bootstrap",
			Name:      "phase",
			Help:      "Bootstrap phases (1 = current phase, 0 = not current).",
		}, []string{"phase"},
	)
	serviceReady = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "veild",
			Subsystem: "readiness",
			Name:      "service_ready",
			Help:      "Per-service readiness as computed by the gate (1 ready, 0 not).",
		}, []string{"service"},
	)
	reseedEndpoints = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "veild",
			Subsystem: "reseed",
			Name:      "working_endpoints",
			Help:      "Reachable reseed endpoints found by the last discovery run.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{roleStarts, roleRestarts, roleStops, probeResults, bootPhase, serviceReady, reseedEndpoints}
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

// Handler returns an http.Handler serving the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Lightweight helpers used by internal packages. They no-op until Register
// has been called.

func IncStart(role string) {
	if regOK.Load() {
		roleStarts.WithLabelValues(role).Inc()
	}
}

func IncRestart(role string) {
	if regOK.Load() {
		roleRestarts.WithLabelValues(role).Inc()
	}
}

func IncStop(role string) {
	if regOK.Load() {
		roleStops.WithLabelValues(role).Inc()
	}
}

func RecordProbeResult(role, kind, result string) {
	if regOK.Load() {
		probeResults.WithLabelValues(role, kind, result).Inc()
	}
}

func SetBootPhase(current string, all []string) {
	if !regOK.Load() {
		return
	}
	for _, p := range all {
		v := 0.0
		if p == current {
			v = 1
		}
		bootPhase.WithLabelValues(p).Set(v)
	}
}

func SetServiceReady(service string, ready bool) {
	if regOK.Load() {
		v := 0.0
		if ready {
			v = 1
		}
		serviceReady.WithLabelValues(service).Set(v)
	}
}

func SetReseedEndpoints(n int) {
	if regOK.Load() {
		reseedEndpoints.Set(float64(n))
	}
}
