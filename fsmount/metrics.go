package fsmount

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var opErrors *prometheus.CounterVec

// EnableMetrics registers the filesystem surface's prometheus metrics
// under metricsNamespace.
//
//   - repo_mount_fs_errno_total (tags: errno) - count of non-zero errno
//     returns, to spot a chatty client or a systemic cache failure from
//     the FUSE side without tailing logs.
func EnableMetrics(metricsNamespace string, registerer prometheus.Registerer) {
	opErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "fs_errno_total",
		Help:      "Count of non-zero errno returns from the mounted filesystem",
	}, []string{"errno"})
	registerer.MustRegister(opErrors)
}

func recordErrno(name string) {
	if opErrors == nil {
		return
	}
	opErrors.WithLabelValues(name).Inc()
}
