package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ddsctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ddsctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	connections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ddsctl",
			Subsystem: "transport",
			Name:      "connections_total",
			Help:      "Upload connections by admission result.",
		},
		[]string{"node", "result"},
	)
	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ddsctl",
			Subsystem: "session",
			Name:      "results_total",
			Help:      "Terminal upload results by response code.",
		},
		[]string{"node", "code"},
	)
	frameBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ddsctl",
			Subsystem: "session",
			Name:      "received_bytes",
			Help:      "Bytes buffered when an upload ended.",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 10),
		},
		[]string{"node", "code"},
	)
	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ddsctl",
			Subsystem: "backend",
			Name:      "notifications_total",
			Help:      "Backend notifications by kind and delivery.",
		},
		[]string{"node", "kind", "delivered"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, connections, frames, frameBytes, notifications)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordConnection counts an upload connection; result is "accepted" or "busy".
func RecordConnection(node, result string) {
	RegisterMetrics()
	connections.WithLabelValues(node, result).Inc()
}

func RecordResult(node, code string, received int) {
	RegisterMetrics()
	frames.WithLabelValues(node, code).Inc()
	frameBytes.WithLabelValues(node, code).Observe(float64(received))
}

func RecordNotification(node, kind string, delivered bool) {
	RegisterMetrics()
	notifications.WithLabelValues(node, kind, strconv.FormatBool(delivered)).Inc()
}

// RecordDroppedNotifications adds n undelivered notifications.
func RecordDroppedNotifications(node string, n uint64) {
	if n == 0 {
		return
	}
	RegisterMetrics()
	notifications.WithLabelValues(node, "any", "false").Add(float64(n))
}
