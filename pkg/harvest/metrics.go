package harvest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for harvest operations.
var (
	partitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_partitions_total",
		Help: "Total partitions processed by final status",
	}, []string{"status"})

	rowsWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_rows_written_total",
		Help: "Total records written to checkpoint files",
	})

	degradationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_page_size_degradations_total",
		Help: "Total page size reductions after capacity failures",
	})

	partitionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvester_partition_duration_seconds",
		Help:    "Time spent harvesting one partition",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
	})

	activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvester_active_workers",
		Help: "Partitions currently being harvested",
	})
)
