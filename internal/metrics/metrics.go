// Package metrics declares the prometheus collectors of the tile cache.
//
// Collectors register with the default registry on import; serve them with
// promhttp.Handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "terra"

var (
	TilesGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tiles_generated_total",
		Help:      "Generator invocations, by generator.",
	}, []string{"generator"})

	GenerationDeferred = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "generation_deferred_total",
		Help:      "Candidate nodes left for a later frame by the frame budget.",
	})

	StreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_requests_total",
		Help:      "Tiles requested from storage, by layer.",
	}, []string{"layer"})

	StreamResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_results_total",
		Help:      "Streamed tiles drained by the frame loop, by layer.",
	}, []string{"layer"})

	StreamInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stream_in_flight",
		Help:      "Streaming requests not yet drained.",
	})

	ReadbackBuffers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "readback_buffers",
		Help:      "Readback buffers allocated.",
	})

	ReadbackCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "readback_completed_total",
		Help:      "Finished heightmap downloads, by outcome.",
	}, []string{"outcome"})

	Evictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "evictions_total",
		Help:      "Nodes evicted from the cache, by level.",
	}, []string{"level"})

	Resident = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "resident_nodes",
		Help:      "Resident nodes, by level.",
	}, []string{"level"})

	GeneratorRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "generator_refreshes_total",
		Help:      "Shader reloads picked up, by generator.",
	}, []string{"generator"})

	FrameDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "frame_duration_seconds",
		Help:      "Time spent in TileCache.Frame.",
		Buckets:   []float64{.0005, .001, .002, .004, .008, .016, .033, .066, .133},
	})

	StoreCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_cache_lookups_total",
		Help:      "Tile reads served by the in-memory store cache, by result.",
	}, []string{"result"})

	StorageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "storage_op_duration_seconds",
		Help:      "Latency of tile store operations, by operation.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})
)
