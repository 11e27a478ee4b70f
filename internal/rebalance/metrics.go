package rebalance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AllocationShare is the last observed share of the monitored asset per exchange.
	AllocationShare = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "venuecoord_rebalance_allocation_share",
		Help: "Current share of the monitored asset held on each exchange (0-1)",
	}, []string{"exchange"})

	// AllocationDrift is the last observed share minus target per exchange.
	AllocationDrift = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "venuecoord_rebalance_allocation_drift",
		Help: "Current allocation minus target allocation per exchange",
	}, []string{"exchange"})

	// ProposalsTotal counts rebalance proposals emitted.
	ProposalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "venuecoord_rebalance_proposals_total",
		Help: "Total number of rebalance proposals emitted",
	})

	// BalanceFetchErrorsTotal counts failed balance queries.
	BalanceFetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venuecoord_rebalance_balance_fetch_errors_total",
		Help: "Total number of failed balance queries",
	}, []string{"exchange"})
)
