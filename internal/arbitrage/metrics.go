package arbitrage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OpportunitiesDetectedTotal tracks arbitrage opportunities detected.
	OpportunitiesDetectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venuecoord_arb_opportunities_detected_total",
		Help: "Total number of arbitrage opportunities detected",
	}, []string{"pair"})

	// OpportunityProfitBPS tracks gross profit in basis points.
	OpportunityProfitBPS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "venuecoord_arb_opportunity_profit_bps",
		Help:    "Arbitrage opportunity gross profit in basis points",
		Buckets: []float64{10, 25, 50, 100, 200, 500, 1000, 2000, 5000},
	})

	// DetectionDurationSeconds tracks one detection pass.
	DetectionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "venuecoord_arb_detection_duration_seconds",
		Help:    "Duration of one arbitrage detection pass",
		Buckets: prometheus.DefBuckets,
	})

	// PriceFetchErrorsTotal tracks failed price fetches by exchange.
	PriceFetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venuecoord_arb_price_fetch_errors_total",
		Help: "Total number of failed or unusable price fetches during detection",
	}, []string{"exchange", "reason"})

	// OpportunitiesDroppedTotal tracks opportunities not delivered because the channel was full.
	OpportunitiesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "venuecoord_arb_opportunities_dropped_total",
		Help: "Total number of detected opportunities dropped on a full channel",
	})
)
