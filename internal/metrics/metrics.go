// Package metrics holds the prometheus collectors for acquisition cycles,
// strategy attempts and the mounted indicator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Cycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "friendsbar_cycles_total",
			Help: "Acquisition cycles by outcome",
		},
		[]string{"outcome"}, // success, empty, error, canceled
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "friendsbar_cycle_duration_seconds",
			Help:    "Acquisition cycle duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
		},
	)

	Attempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "friendsbar_strategy_attempts_total",
			Help: "Strategy attempts by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	Online = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "friendsbar_online_friends",
			Help: "Online friends found by the last successful cycle",
		},
	)

	Displayed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "friendsbar_displayed_friends",
			Help: "Friends currently rendered as individual nodes",
		},
	)

	MountMode = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "friendsbar_mount_mode",
			Help: "Current mount mode: 0 none, 1 anchored, 2 fallback",
		},
	)

	ProbeTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "friendsbar_probe_timeouts_total",
			Help: "Cross-context probes that timed out or returned nothing",
		},
	)
)

// ObserveCycle records one finished cycle.
func ObserveCycle(outcome string, d time.Duration) {
	Cycles.WithLabelValues(outcome).Inc()
	CycleDuration.Observe(d.Seconds())
}
