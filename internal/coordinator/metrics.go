package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveGroups is the number of non-stopped groups in coordination state.
	ActiveGroups = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "venuecoord_active_groups",
		Help: "Number of strategy groups currently held in coordination state",
	})

	// GroupStopsTotal counts explicit group stops by result.
	GroupStopsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venuecoord_group_stops_total",
		Help: "Total number of explicit group stops, by result",
	}, []string{"result"})
)
