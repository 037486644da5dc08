package reposcache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ensureCurrentLatency *prometheus.HistogramVec
	ensureCurrentCount   *prometheus.CounterVec
	lastRefreshTimestamp *prometheus.GaugeVec
	publishedGeneration  *prometheus.GaugeVec
)

// EnableMetrics registers the cache's prometheus metrics under
// metricsNamespace. Calling it is optional; an unregistered cache simply
// doesn't record anything.
//
//   - repo_mount_ensure_current_latency_seconds (tags: repo) - time spent
//     per ensure_current call, including TTL-satisfied fast paths.
//   - repo_mount_ensure_current_count (tags: repo, result) - count of
//     ensure_current calls by outcome (fresh, refreshed, stale-served, error).
//   - repo_mount_last_refresh_timestamp (tags: repo) - unix timestamp of
//     the last successful fetch.
//   - repo_mount_published_generation (tags: repo) - the currently
//     published generation number.
func EnableMetrics(metricsNamespace string, registerer prometheus.Registerer) {
	ensureCurrentLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "ensure_current_latency_seconds",
		Help:      "Latency of ensure_current calls",
		Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30, 60},
	}, []string{"repo"})

	ensureCurrentCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "ensure_current_count",
		Help:      "Count of ensure_current calls by outcome",
	}, []string{"repo", "result"})

	lastRefreshTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "last_refresh_timestamp",
		Help:      "Timestamp of the last successful fetch",
	}, []string{"repo"})

	publishedGeneration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "published_generation",
		Help:      "Currently published generation number",
	}, []string{"repo"})

	registerer.MustRegister(ensureCurrentLatency, ensureCurrentCount, lastRefreshTimestamp, publishedGeneration)
}

func recordEnsureCurrent(repo, result string, start time.Time) {
	if ensureCurrentCount == nil {
		return
	}
	ensureCurrentCount.WithLabelValues(repo, result).Inc()
	ensureCurrentLatency.WithLabelValues(repo).Observe(time.Since(start).Seconds())
}

func recordRefresh(repo string, gen uint32) {
	if lastRefreshTimestamp == nil {
		return
	}
	lastRefreshTimestamp.WithLabelValues(repo).Set(float64(time.Now().Unix()))
	publishedGeneration.WithLabelValues(repo).Set(float64(gen))
}
