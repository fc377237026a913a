// Package metrics provides Prometheus metrics for the redirector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "autoproxy"

var (
	// ConnectionsTotal counts finished connections by path and result.
	// result is "ok" or the stage that failed.
	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of finished connections",
		},
		[]string{"path", "result"},
	)

	// BytesTotal counts relayed bytes by direction.
	BytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Total number of relayed bytes",
		},
		[]string{"direction"},
	)

	// DirectFallbacks counts direct attempts that timed out and fell back to
	// the proxy.
	DirectFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "direct_fallbacks_total",
			Help:      "Total number of direct connection attempts that timed out",
		},
	)

	// ActiveConnections tracks connections currently being routed or relayed.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of connections in progress",
		},
	)
)

// RecordConnection records a finished connection.
func RecordConnection(path, result string, clientToUpstream, upstreamToClient int64) {
	ConnectionsTotal.WithLabelValues(path, result).Inc()
	BytesTotal.WithLabelValues("client_to_upstream").Add(float64(clientToUpstream))
	BytesTotal.WithLabelValues("upstream_to_client").Add(float64(upstreamToClient))
}

// RegisterCacheSize exposes the destination cache size, read from size at
// scrape time.
func RegisterCacheSize(reg prometheus.Registerer, size func() int) error {
	return reg.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Number of destinations known to need the proxy",
		},
		func() float64 { return float64(size()) },
	))
}
