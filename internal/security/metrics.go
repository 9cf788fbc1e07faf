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

	linksTotal           *prometheus.CounterVec
	mergedMessages       prometheus.Histogram
	malformedRecords     prometheus.Counter
	migratedStateEntries *prometheus.CounterVec
	sweptKeys            prometheus.Counter

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
// Safe to call multiple times; only the first call registers. Until it runs
// every Record* helper is a no-op.
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
			Name: "conversation_identity_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conversation_identity_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	StoreLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conversation_identity_store_latency_seconds",
			Help:    "Store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	linksTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_identity_links_total",
			Help: "Channel identity link operations by channel kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	mergedMessages = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "conversation_identity_merged_messages",
		Help:    "Number of messages in the target log after a merge",
		Buckets: []float64{0, 1, 5, 10, 25, 50, 75, 100},
	})

	malformedRecords = f.NewCounter(prometheus.CounterOpts{
		Name: "conversation_identity_malformed_records_total",
		Help: "Stored message records skipped during merge",
	})

	migratedStateEntries = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_identity_migrated_state_total",
			Help: "State entries moved from a provisional to a canonical conversation",
		},
		[]string{"suffix"},
	)

	sweptKeys = f.NewCounter(prometheus.CounterOpts{
		Name: "conversation_identity_swept_keys_total",
		Help: "Expired keys purged by the background sweeper",
	})

	DBPoolOpenConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "conversation_identity_db_pool_open_connections",
		Help: "Number of open database connections",
	})

	DBPoolMaxConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "conversation_identity_db_pool_max_connections",
		Help: "Maximum number of database connections",
	})
}

// RecordLink counts one link attempt.
func RecordLink(kind, outcome string) {
	if linksTotal != nil {
		linksTotal.WithLabelValues(kind, outcome).Inc()
	}
}

// RecordMerge observes the size of a merged log.
func RecordMerge(messages int) {
	if mergedMessages != nil {
		mergedMessages.Observe(float64(messages))
	}
}

// RecordMalformed counts skipped records.
func RecordMalformed(n int) {
	if malformedRecords != nil && n > 0 {
		malformedRecords.Add(float64(n))
	}
}

// RecordMigrated counts one moved state entry.
func RecordMigrated(suffix string) {
	if migratedStateEntries != nil {
		migratedStateEntries.WithLabelValues(suffix).Inc()
	}
}

// RecordSwept counts keys purged by the sweeper.
func RecordSwept(n int) {
	if sweptKeys != nil && n > 0 {
		sweptKeys.Add(float64(n))
	}
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
