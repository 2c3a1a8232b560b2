package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_cache_hits_total",
		Help: "Query results served from Redis",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_cache_misses_total",
		Help: "Query results not found in Redis or expired",
	})

	cacheBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_cache_bytes_total",
		Help: "Encoded bytes moved through the cache by direction",
	}, []string{"direction"})

	cacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_cache_errors_total",
		Help: "Cache operation errors by operation",
	}, []string{"operation"})
)
