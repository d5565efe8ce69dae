package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	connectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stagerelay",
			Subsystem: "relay",
			Name:      "connections_total",
			Help:      "Accepted relay connections.",
		},
		[]string{"listener"},
	)
	activeConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "stagerelay",
			Subsystem: "relay",
			Name:      "active_connections",
			Help:      "Currently open relay connections.",
		},
		[]string{"listener"},
	)
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stagerelay",
			Subsystem: "relay",
			Name:      "frames_total",
			Help:      "Frames moved through the relay.",
		},
		[]string{"listener", "direction"},
	)
	bytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stagerelay",
			Subsystem: "relay",
			Name:      "bytes_total",
			Help:      "Payload bytes moved through the relay.",
		},
		[]string{"listener", "direction"},
	)
	bufferGrows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stagerelay",
			Subsystem: "staging",
			Name:      "buffer_grows_total",
			Help:      "Staging buffer growth reallocations.",
		},
		[]string{"listener", "direction"},
	)
	bufferCompactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stagerelay",
			Subsystem: "staging",
			Name:      "buffer_compactions_total",
			Help:      "Staging buffer in-place compactions.",
		},
		[]string{"listener", "direction"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stagerelay",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"server", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stagerelay",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"server", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			connectionsTotal, activeConnections,
			framesTotal, bytesTotal,
			bufferGrows, bufferCompactions,
			httpRequests, httpDuration,
		)
	})
}

func RecordConnectionOpened(listener string) {
	RegisterMetrics()
	connectionsTotal.WithLabelValues(listener).Inc()
	activeConnections.WithLabelValues(listener).Inc()
}

func RecordConnectionClosed(listener string) {
	RegisterMetrics()
	activeConnections.WithLabelValues(listener).Dec()
}

func RecordFrame(listener, direction string, payloadBytes int) {
	RegisterMetrics()
	framesTotal.WithLabelValues(listener, direction).Inc()
	bytesTotal.WithLabelValues(listener, direction).Add(float64(payloadBytes))
}

// RecordBufferStats publishes the delta between two staging buffer snapshots.
func RecordBufferStats(listener, direction string, grows, compactions uint64) {
	RegisterMetrics()
	if grows > 0 {
		bufferGrows.WithLabelValues(listener, direction).Add(float64(grows))
	}
	if compactions > 0 {
		bufferCompactions.WithLabelValues(listener, direction).Add(float64(compactions))
	}
}

func RecordHTTPRequest(server, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(server, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(server, method, path, statusLabel).Observe(duration.Seconds())
}
