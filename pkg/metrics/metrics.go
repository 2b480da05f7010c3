// Package metrics exposes the engine's Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TickDuration tracks how long each engine loop tick takes.
var TickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "gridhabit",
	Name:      "tick_duration_seconds",
	Help:      "Engine loop tick duration in seconds.",
	Buckets:   prometheus.DefBuckets,
}, []string{"loop"})

// TickFailures tracks engine loop ticks that returned an error or panicked.
var TickFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gridhabit",
	Name:      "tick_failures_total",
	Help:      "Total failed engine loop ticks.",
}, []string{"loop"})

// TriggersObserved counts device transitions seen by the miner.
var TriggersObserved = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "gridhabit",
	Name:      "triggers_observed_total",
	Help:      "Total device transitions observed by the miner.",
})

// ActionsExecuted counts automated device actions by outcome.
var ActionsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gridhabit",
	Name:      "actions_executed_total",
	Help:      "Total automated device actions.",
}, []string{"outcome"})
