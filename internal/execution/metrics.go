package execution

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExecutionsTotal tracks arbitrage executions by result.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venuecoord_execution_arbitrage_total",
			Help: "Total number of arbitrage execution attempts by result",
		},
		[]string{"result"},
	)

	// ExpectedProfitPercent tracks the re-validated profit of executed opportunities.
	ExpectedProfitPercent = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "venuecoord_execution_expected_profit_percent",
		Help:    "Re-validated gross profit of executed arbitrage opportunities",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	// ExecutionDurationSeconds tracks execution latency.
	ExecutionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "venuecoord_execution_duration_seconds",
		Help:    "Duration of arbitrage execution including re-validation",
		Buckets: prometheus.DefBuckets,
	})

	// CompensationsTotal tracks legs stopped because the other leg failed.
	CompensationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venuecoord_execution_compensations_total",
			Help: "Total number of legs stopped after the opposite leg failed",
		},
		[]string{"result"},
	)
)
