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
			Namespace: "cubeward",
			Subsystem: "lifecycle",
			Name:      "starts_total",
			Help:      "Number of successful process starts per role.",
		}, []string{"role"},
	)
	roleStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cubeward",
			Subsystem: "lifecycle",
			Name:      "stops_total",
			Help:      "Number of stops per role (graceful or kill).",
		}, []string{"role"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cubeward",
			Subsystem: "lifecycle",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between role states.",
		}, []string{"role", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cubeward",
			Subsystem: "lifecycle",
			Name:      "current_state",
			Help:      "Current state of roles (1 = active state, 0 = inactive).",
		}, []string{"role", "state"},
	)
	probeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cubeward",
			Subsystem: "monitor",
			Name:      "probe_failures_total",
			Help:      "Number of unreachable activity probe samples.",
		}, []string{"profile"},
	)
	inactivityShutdowns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cubeward",
			Subsystem: "monitor",
			Name:      "inactivity_shutdowns_total",
			Help:      "Number of shutdown sequences triggered by inactivity.",
		}, []string{"profile"},
	)
	stopEscalations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cubeward",
			Subsystem: "lifecycle",
			Name:      "stop_escalations_total",
			Help:      "Number of graceful stops escalated to a forced kill.",
		}, []string{"role"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{roleStarts, roleStops, stateTransitions, currentStates, probeFailures, inactivityShutdowns, stopEscalations}
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

// Handler returns an http.Handler serving Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncStart(role string) {
	if regOK.Load() {
		roleStarts.WithLabelValues(role).Inc()
	}
}

func IncStop(role string) {
	if regOK.Load() {
		roleStops.WithLabelValues(role).Inc()
	}
}

func RecordStateTransition(role, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(role, from, to).Inc()
	}
}

func SetCurrentState(role, state string, active bool) {
	if regOK.Load() {
		var value float64
		if active {
			value = 1
		}
		currentStates.WithLabelValues(role, state).Set(value)
	}
}

func IncProbeFailure(profile string) {
	if regOK.Load() {
		probeFailures.WithLabelValues(profile).Inc()
	}
}

func IncInactivityShutdown(profile string) {
	if regOK.Load() {
		inactivityShutdowns.WithLabelValues(profile).Inc()
	}
}

func IncStopEscalation(role string) {
	if regOK.Load() {
		stopEscalations.WithLabelValues(role).Inc()
	}
}
