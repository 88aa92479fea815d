package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache Metrics
var (
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cea",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total number of cache reads that found a value",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cea",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total number of cache reads that found nothing",
	})

	CacheErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cea",
		Subsystem: "cache",
		Name:      "errors_total",
		Help:      "Total number of absorbed store errors",
	})
)

// Relay Metrics
var (
	RelayRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cea",
		Subsystem: "relay",
		Name:      "requests_total",
		Help:      "Total number of chat requests relayed to the agent backend",
	})

	RelayActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cea",
		Subsystem: "relay",
		Name:      "active_streams",
		Help:      "Number of currently open SSE relay streams",
	})

	RelayEventsForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cea",
		Subsystem: "relay",
		Name:      "events_forwarded_total",
		Help:      "Total number of stream events forwarded to clients",
	})

	RelayErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cea",
		Subsystem: "relay",
		Name:      "errors_total",
		Help:      "Total number of relay failures by classified reason",
	}, []string{"reason"})

	RelayUpstreamLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cea",
		Subsystem: "relay",
		Name:      "upstream_latency_seconds",
		Help:      "Latency of buffered (non-streaming) backend calls",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})
)

// Session Metrics
var (
	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cea",
		Subsystem: "session",
		Name:      "rate_limited_total",
		Help:      "Total number of requests rejected by the rate limiter",
	})

	ChatCompactions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cea",
		Subsystem: "session",
		Name:      "chat_compactions_total",
		Help:      "Total number of chat history compaction passes",
	})
)
