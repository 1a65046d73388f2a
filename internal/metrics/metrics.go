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

	probes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "accelguard",
			Subsystem: "watchdog",
			Name:      "probes_total",
			Help:      "Health probes by outcome (healthy/hung/absent).",
		}, []string{"target", "outcome"},
	)
	recoveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "accelguard",
			Subsystem: "watchdog",
			Name:      "recovery_attempts_total",
			Help:      "Recovery attempts by tier and outcome.",
		}, []string{"target", "tier", "outcome"},
	)
	containerRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "accelguard",
			Subsystem: "watchdog",
			Name:      "container_restarts_total",
			Help:      "Restarts issued for stopped (not hung) containers.",
		}, []string{"target"},
	)
	escalationState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "accelguard",
			Subsystem: "watchdog",
			Name:      "escalation_state",
			Help:      "Current escalation state (1 = active state, 0 = inactive).",
		}, []string{"target", "state"},
	)
	probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "accelguard",
			Subsystem: "watchdog",
			Name:      "probe_duration_seconds",
			Help:      "Wall time of the bounded diagnostic command.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"target"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{probes, recoveryAttempts, containerRestarts, escalationState, probeDuration}
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

// Handler serves Prometheus metrics for the DefaultGatherer. The caller
// wires the route.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncProbe(target, outcome string) {
	if regOK.Load() {
		probes.WithLabelValues(target, outcome).Inc()
	}
}

func IncRecoveryAttempt(target, tier, outcome string) {
	if regOK.Load() {
		recoveryAttempts.WithLabelValues(target, tier, outcome).Inc()
	}
}

func IncContainerRestart(target string) {
	if regOK.Load() {
		containerRestarts.WithLabelValues(target).Inc()
	}
}

// SetEscalationState marks exactly one state active for the target.
func SetEscalationState(target, active string, all []string) {
	if !regOK.Load() {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == active {
			v = 1.0
		}
		escalationState.WithLabelValues(target, s).Set(v)
	}
}

func ObserveProbeDuration(target string, seconds float64) {
	if regOK.Load() {
		probeDuration.WithLabelValues(target).Observe(seconds)
	}
}
