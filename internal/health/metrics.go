package health

import (
	"github.com/mselser95/venuecoord/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExchangeHealthState is the current health state per exchange
	// (0=unknown, 1=healthy, 2=degraded, 3=failed).
	ExchangeHealthState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "venuecoord_exchange_health_state",
		Help: "Current exchange health state (0=unknown, 1=healthy, 2=degraded, 3=failed)",
	}, []string{"exchange"})

	// PingDurationSeconds tracks exchange ping round trips.
	PingDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "venuecoord_exchange_ping_duration_seconds",
		Help:    "Exchange ping round trip time",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"exchange"})

	// TransitionsTotal counts health state transitions.
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venuecoord_exchange_transitions_total",
		Help: "Total number of exchange health state transitions",
	}, []string{"exchange", "to"})

	// RecoveryAttemptsTotal counts recovery probes of failed exchanges.
	RecoveryAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venuecoord_exchange_recovery_attempts_total",
		Help: "Total number of recovery probes of failed exchanges",
	}, []string{"exchange", "result"})

	// FailoverTriggersTotal counts failover triggers, including those suppressed by cooldown.
	FailoverTriggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venuecoord_failover_triggers_total",
		Help: "Total number of failover triggers by result (triggered, cooldown)",
	}, []string{"exchange", "result"})
)

func stateValue(s types.HealthState) float64 {
	switch s {
	case types.HealthHealthy:
		return 1
	case types.HealthDegraded:
		return 2
	case types.HealthFailed:
		return 3
	default:
		return 0
	}
}
