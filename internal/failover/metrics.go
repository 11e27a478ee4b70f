package failover

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GroupFailoversTotal counts group failovers by outcome.
	GroupFailoversTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venuecoord_group_failovers_total",
		Help: "Total number of group failovers by outcome (relocated, paused)",
	}, []string{"exchange", "outcome"})

	// StopFailuresTotal counts best-effort stops that failed during failover.
	StopFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venuecoord_failover_stop_failures_total",
		Help: "Total number of strategy stops that failed during failover",
	}, []string{"exchange"})

	// FailoverDurationSeconds tracks one HandleExchangeFailover call.
	FailoverDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "venuecoord_failover_duration_seconds",
		Help:    "Time taken to fail over every group of an exchange",
		Buckets: prometheus.DefBuckets,
	})
)
