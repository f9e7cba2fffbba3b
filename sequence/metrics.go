package sequence

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Allocation outcomes: issued, fallback, daily_limit, exhausted, format_error
	allocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sequence_allocations_total",
			Help: "Reference identifier allocations partitioned by prefix and result",
		},
		[]string{"prefix", "result"},
	)

	allocationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sequence_allocation_duration_seconds",
			Help:    "Time spent inside the counter store transaction",
			Buckets: prometheus.DefBuckets,
		},
	)
)
