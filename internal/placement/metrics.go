package placement

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CoordinationsTotal counts CoordinateStrategies calls by result.
	CoordinationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venuecoord_coordinations_total",
		Help: "Total number of strategy coordination requests by result",
	}, []string{"result"})

	// DeploysTotal counts strategy deploys by exchange and result.
	DeploysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venuecoord_strategy_deploys_total",
		Help: "Total number of strategy deploys by exchange and result",
	}, []string{"exchange", "result"})

	// RollbacksTotal counts compensating stops issued after a failed batch.
	RollbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venuecoord_placement_rollbacks_total",
		Help: "Total number of compensating stops issued after a failed placement, by result",
	}, []string{"result"})

	// CoordinationDurationSeconds tracks how long a coordination request takes.
	CoordinationDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "venuecoord_coordination_duration_seconds",
		Help:    "Time taken to place a strategy batch",
		Buckets: prometheus.DefBuckets,
	})
)
