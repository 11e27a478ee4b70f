package backend

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDurationSeconds tracks backend call latency by operation.
	RequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "venuecoord_backend_request_duration_seconds",
			Help:    "Duration of execution backend requests",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"op"},
	)

	// RequestsTotal counts backend calls by operation and result.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venuecoord_backend_requests_total",
			Help: "Total number of execution backend requests",
		},
		[]string{"op", "result"},
	)

	// InstanceCacheTotal counts instance lookups served from cache or backend.
	InstanceCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venuecoord_backend_instance_cache_total",
			Help: "Instance discovery lookups by cache result",
		},
		[]string{"result"},
	)
)
