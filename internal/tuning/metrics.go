package tuning

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SpreadUpdatesTotal counts spread updates issued by the tuner.
	SpreadUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venuecoord_tuner_spread_updates_total",
		Help: "Total number of spread updates issued by the adaptive tuner, by result",
	}, []string{"result"})

	// MarketQueryErrorsTotal counts failed market condition queries.
	MarketQueryErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venuecoord_tuner_market_query_errors_total",
		Help: "Total number of failed market condition queries",
	}, []string{"exchange"})

	// ObservedVolatility is the last volatility read per pair and exchange.
	ObservedVolatility = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "venuecoord_tuner_observed_volatility",
		Help: "Last observed volatility per pair and exchange",
	}, []string{"pair", "exchange"})
)
