package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// CacheOperationsTotal counts cache operations by cache name, operation and result.
	CacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venuecoord_cache_operations_total",
			Help: "Total number of cache operations",
		},
		[]string{"cache", "op", "result"},
	)
)
