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

	toolInvocationsTotal *prometheus.CounterVec
	toolDuration         *prometheus.HistogramVec

	embeddingCacheHitsTotal   prometheus.Counter
	embeddingCacheMissesTotal prometheus.Counter

	moduleFanoutErrorsTotal *prometheus.CounterVec

	// DBPoolOpenConnections tracks the number of currently open database connections.
	DBPoolOpenConnections prometheus.Gauge

	// DBPoolMaxConnections tracks the configured maximum database connections.
	DBPoolMaxConnections prometheus.Gauge
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
// Must be called before starting the HTTP server. Safe to call multiple times;
// only the first call registers.
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
			Name: "federated_memory_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "federated_memory_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	toolInvocationsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "federated_memory_tool_invocations_total",
			Help: "Total number of MCP tool invocations",
		},
		[]string{"tool", "outcome"},
	)

	toolDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "federated_memory_tool_duration_seconds",
			Help:    "MCP tool invocation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	embeddingCacheHitsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "federated_memory_embedding_cache_hits_total",
		Help: "Embedding cache hits",
	})

	embeddingCacheMissesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "federated_memory_embedding_cache_misses_total",
		Help: "Embedding cache misses",
	})

	moduleFanoutErrorsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "federated_memory_module_fanout_errors_total",
			Help: "Module search failures contained during cross-module fan-out",
		},
		[]string{"module"},
	)

	DBPoolOpenConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "federated_memory_db_pool_open_connections",
		Help: "Currently open database connections",
	})

	DBPoolMaxConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "federated_memory_db_pool_max_connections",
		Help: "Configured maximum database connections",
	})
}

// MetricsMiddleware records request counts and latencies.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if httpRequestsTotal == nil {
			return
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

// ObserveTool records one tool invocation.
func ObserveTool(tool, outcome string, elapsed time.Duration) {
	if toolInvocationsTotal == nil {
		return
	}
	toolInvocationsTotal.WithLabelValues(tool, outcome).Inc()
	toolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// ObserveEmbeddingCache records one embedding cache lookup.
func ObserveEmbeddingCache(hit bool) {
	if embeddingCacheHitsTotal == nil {
		return
	}
	if hit {
		embeddingCacheHitsTotal.Inc()
	} else {
		embeddingCacheMissesTotal.Inc()
	}
}

// ObserveModuleFanoutError records a contained per-module search failure.
func ObserveModuleFanoutError(module string) {
	if moduleFanoutErrorsTotal == nil {
		return
	}
	moduleFanoutErrorsTotal.WithLabelValues(module).Inc()
}
