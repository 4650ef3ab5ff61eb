package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Query cache metrics
	CacheReads         *prometheus.CounterVec
	CacheFetches       *prometheus.CounterVec
	CacheFetchLatency  *prometheus.HistogramVec
	CacheEntries       prometheus.Gauge
	CacheEvictions     prometheus.Counter
	CacheInvalidations *prometheus.CounterVec

	// Mutation metrics
	Mutations       *prometheus.CounterVec
	MutationRetries *prometheus.CounterVec

	// Gateway metrics
	GatewayOperations *prometheus.CounterVec
	GatewayLatency    *prometheus.HistogramVec
	GatewayUp         prometheus.Gauge

	// Redis metrics
	RedisOperations *prometheus.CounterVec
}

// NewMetrics creates and registers all application metrics on reg. Passing
// prometheus.DefaultRegisterer exposes them on /metrics; tests pass a fresh
// registry so repeated construction does not collide.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CacheReads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "reads_total",
			Help:      "Cache reads by entity kind and result (hit, stale, miss)",
		}, []string{"kind", "result"}),
		CacheFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "fetches_total",
			Help:      "Gateway fetches issued by the cache",
		}, []string{"kind", "status"}),
		CacheFetchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "fetch_duration_seconds",
			Help:      "Time spent fetching a cache key from the gateway",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"kind"}),
		CacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "entries",
			Help:      "Current number of cache entries",
		}),
		CacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "evictions_total",
			Help:      "Entries removed after their gc window",
		}),
		CacheInvalidations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "invalidations_total",
			Help:      "Invalidations by entity kind and origin",
		}, []string{"kind", "origin"}),

		Mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "mutations_total",
			Help:      "Mutations by name and outcome (settled, rolled_back, rejected)",
		}, []string{"mutation", "outcome"}),
		MutationRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "retry_attempts_total",
			Help:      "Retry attempts for queries and mutations",
		}, []string{"operation"}),

		GatewayOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "operations_total",
			Help:      "Total number of gateway operations",
		}, []string{"operation", "status"}),
		GatewayLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "operation_duration_seconds",
			Help:      "Duration of gateway operations",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),
		GatewayUp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "up",
			Help:      "1 when the last gateway ping succeeded",
		}),

		RedisOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "operations_total",
			Help:      "Total number of Redis operations",
		}, []string{"operation", "status"}),
	}
}

// New returns metrics bound to a private registry.
func New(namespace string) *Metrics {
	return NewMetrics(namespace, prometheus.NewRegistry())
}
