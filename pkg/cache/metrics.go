package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by store (redis, memory)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resulta_cache_hits_total",
			Help: "Total number of response cache hits",
		},
		[]string{"store"},
	)

	// CacheMisses tracks cache misses by store
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resulta_cache_misses_total",
			Help: "Total number of response cache misses",
		},
		[]string{"store"},
	)

	// CacheSize tracks bytes written by store
	CacheSize = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resulta_cache_written_bytes_total",
			Help: "Total bytes written to the response cache",
		},
		[]string{"store"},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resulta_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
