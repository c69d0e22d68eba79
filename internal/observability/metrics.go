package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Message directions.
const (
	DirectionRx = "rx"
	DirectionTx = "tx"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pructl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pructl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	rpmsgMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pructl",
			Subsystem: "rpmsg",
			Name:      "messages_total",
			Help:      "Messages read from or sent to an endpoint.",
		},
		[]string{"endpoint", "shape", "direction"},
	)
	rpmsgBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pructl",
			Subsystem: "rpmsg",
			Name:      "bytes_total",
			Help:      "Payload bytes read from or sent to an endpoint.",
		},
		[]string{"endpoint", "shape", "direction"},
	)
	rpmsgTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pructl",
			Subsystem: "rpmsg",
			Name:      "read_timeouts_total",
			Help:      "Timed reads that expired without a message.",
		},
		[]string{"endpoint"},
	)
	rpmsgErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pructl",
			Subsystem: "rpmsg",
			Name:      "errors_total",
			Help:      "Read or send failures.",
		},
		[]string{"endpoint", "direction"},
	)
	rpmsgWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pructl",
			Subsystem: "rpmsg",
			Name:      "read_wait_seconds",
			Help:      "Time spent waiting for a message.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 2, 5, 10},
		},
		[]string{"endpoint"},
	)
	remoteprocActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pructl",
			Subsystem: "remoteproc",
			Name:      "actions_total",
			Help:      "Lifecycle writes to remote processors.",
		},
		[]string{"proc", "action", "success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			rpmsgMessages, rpmsgBytes, rpmsgTimeouts, rpmsgErrors, rpmsgWait,
			remoteprocActions,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordMessage(endpoint, shape, direction string, size int) {
	RegisterMetrics()
	rpmsgMessages.WithLabelValues(endpoint, shape, direction).Inc()
	rpmsgBytes.WithLabelValues(endpoint, shape, direction).Add(float64(size))
}

func RecordReadWait(endpoint string, waited time.Duration, timedOut bool) {
	RegisterMetrics()
	rpmsgWait.WithLabelValues(endpoint).Observe(waited.Seconds())
	if timedOut {
		rpmsgTimeouts.WithLabelValues(endpoint).Inc()
	}
}

func RecordMessageError(endpoint, direction string) {
	RegisterMetrics()
	rpmsgErrors.WithLabelValues(endpoint, direction).Inc()
}

func RecordRemoteprocAction(proc, action string, success bool) {
	RegisterMetrics()
	remoteprocActions.WithLabelValues(proc, action, strconv.FormatBool(success)).Inc()
}
