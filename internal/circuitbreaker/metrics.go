package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CircuitBreakerEnabled indicates whether the circuit breaker allows trade execution.
	CircuitBreakerEnabled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "venuecoord_circuit_breaker_enabled",
		Help: "Whether circuit breaker allows trade execution (1=enabled, 0=disabled)",
	})

	// CircuitBreakerBalance tracks the lowest checked balance.
	CircuitBreakerBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "venuecoord_circuit_breaker_balance",
		Help: "Lowest quote balance across arbitrage exchanges at the last check",
	})

	// CircuitBreakerDisableThreshold tracks the current threshold for disabling execution.
	CircuitBreakerDisableThreshold = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "venuecoord_circuit_breaker_disable_threshold",
		Help: "Balance below which auto-execution is disabled",
	})

	// CircuitBreakerEnableThreshold tracks the current threshold for re-enabling execution.
	CircuitBreakerEnableThreshold = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "venuecoord_circuit_breaker_enable_threshold",
		Help: "Balance at which auto-execution is re-enabled",
	})

	// CircuitBreakerAvgTradeSize tracks the rolling average trade size.
	CircuitBreakerAvgTradeSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "venuecoord_circuit_breaker_avg_trade_size",
		Help: "Rolling average notional of recent executions",
	})

	// CircuitBreakerStateChanges tracks the number of times the circuit breaker changed state.
	CircuitBreakerStateChanges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "venuecoord_circuit_breaker_state_changes_total",
		Help: "Total number of times circuit breaker changed state (enabled/disabled)",
	})

	// CircuitBreakerCheckDuration tracks the time taken to check balance.
	CircuitBreakerCheckDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "venuecoord_circuit_breaker_check_duration_seconds",
		Help:    "Time taken to read balances on every arbitrage exchange",
		Buckets: prometheus.DefBuckets,
	})
)
