package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsEmittedTotal counts emitted events by kind.
	EventsEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venuecoord_events_emitted_total",
		Help: "Total number of coordinator events emitted",
	}, []string{"kind"})

	// EventsDroppedTotal counts events dropped by full channel observers.
	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venuecoord_events_dropped_total",
		Help: "Total number of events dropped because an observer buffer was full",
	}, []string{"kind"})
)
