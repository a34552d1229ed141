package security

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// StoreLatency can be used by store implementations to record operation latency.
	StoreLatency *prometheus.HistogramVec

	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	// DBPoolOpenConnections tracks the number of currently open database connections.
	DBPoolOpenConnections prometheus.Gauge

	// DBPoolMaxConnections tracks the configured maximum database connections.
	DBPoolMaxConnections prometheus.Gauge

	// IndexFanoutLatency tracks per-space index add/remove/search latency.
	IndexFanoutLatency *prometheus.HistogramVec
	// IndexPartialFailuresTotal counts coordinator Add calls that rolled back
	// one or more spaces.
	IndexPartialFailuresTotal prometheus.Counter
	// RetrievalLatency tracks full-pipeline search latency by strategy.
	RetrievalLatency *prometheus.HistogramVec
	// RetrievalSpacesDroppedTotal counts per-space searches dropped by
	// timeout or error during a retrieval run.
	RetrievalSpacesDroppedTotal *prometheus.CounterVec
	// PurposeDiscoveryRuns counts discovery runs by outcome ("ok", "insufficient_data", "error").
	PurposeDiscoveryRuns *prometheus.CounterVec
	// PurposeCount gauges the size of the current surviving purpose set.
	PurposeCount prometheus.Gauge
)

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseMetricsLabels parses a comma-separated list of key=value pairs into
// Prometheus labels. Values support ${VAR} / $VAR environment variable expansion.
// Label values may not contain commas. Returns nil for an empty string.
func ParseMetricsLabels(s string) (prometheus.Labels, error) {
	s = os.Expand(s, os.Getenv)
	if s == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		k, v := pair[:idx], pair[idx+1:]
		if !validLabelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match [a-zA-Z_][a-zA-Z0-9_]*", k)
		}
		labels[k] = v
	}
	return labels, nil
}

var initMetricsOnce sync.Once

// InitMetrics registers all Prometheus metrics with the given constant labels.
// Must be called before starting the HTTP server or any store/cache initialization
// that records metrics. Safe to call multiple times; only the first call registers.
func InitMetrics(constLabels prometheus.Labels) {
	initMetricsOnce.Do(func() {
		initMetricsInner(constLabels)
	})
}

func initMetricsInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memory_service_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memory_service_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	StoreLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memory_service_store_latency_seconds",
			Help:    "Store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	CacheHitsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "memory_service_cache_hits_total",
		Help: "Total cache hits",
	})

	CacheMissesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "memory_service_cache_misses_total",
		Help: "Total cache misses",
	})

	DBPoolOpenConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "memory_service_db_pool_open_connections",
		Help: "Number of open database connections",
	})

	DBPoolMaxConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "memory_service_db_pool_max_connections",
		Help: "Maximum number of database connections",
	})

	IndexFanoutLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memory_service_index_fanout_latency_seconds",
			Help:    "Index coordinator fan-out latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	IndexPartialFailuresTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "memory_service_index_partial_failures_total",
		Help: "Total index coordinator Add calls that rolled back one or more spaces",
	})

	RetrievalLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memory_service_retrieval_latency_seconds",
			Help:    "Retrieval pipeline latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	RetrievalSpacesDroppedTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memory_service_retrieval_spaces_dropped_total",
			Help: "Total per-space searches dropped by timeout or error during retrieval",
		},
		[]string{"space"},
	)

	PurposeDiscoveryRuns = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memory_service_purpose_discovery_runs_total",
			Help: "Total purpose discovery runs by outcome",
		},
		[]string{"outcome"},
	)

	PurposeCount = f.NewGauge(prometheus.GaugeOpts{
		Name: "memory_service_purpose_count",
		Help: "Number of purposes in the current surviving set",
	})
}

// MetricsMiddleware records HTTP request metrics for Prometheus.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if httpRequestsTotal == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		httpRequestsTotal.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method).Observe(duration.Seconds())
	}
}
