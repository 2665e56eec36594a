package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ghostwire"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	queueItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "queue_items_total",
			Help:      "Worker queue items by origin.",
		},
		[]string{"origin"},
	)
	queueDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "queue_dropped_total",
			Help:      "Inbound messages dropped at the queue high-water mark.",
		},
	)
	replies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "replies_total",
			Help:      "Replies sent by answer token.",
		},
		[]string{"answer"},
	)
	repliesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "replies_dropped_total",
			Help:      "Replies dropped because the outbox was full or the send failed.",
		},
		[]string{"answer", "reason"},
	)
	liveTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "live_tasks",
			Help:      "Spawned tasks not yet reaped.",
		},
	)
	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "task_duration_seconds",
			Help:      "Wall time from spawn to reap.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 4, 8),
		},
		[]string{"exit_code"},
	)
	outputBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "output_bytes_total",
			Help:      "Command output bytes streamed back.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			queueItems, queueDropped,
			replies, repliesDropped, liveTasks, taskDuration, outputBytes,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordQueueItem(origin string) {
	RegisterMetrics()
	queueItems.WithLabelValues(origin).Inc()
}

func RecordQueueDrop() {
	RegisterMetrics()
	queueDropped.Inc()
}

func RecordReply(answer string) {
	RegisterMetrics()
	replies.WithLabelValues(answer).Inc()
}

// RecordReplyDrop counts a reply that never left the agent. reason is
// "full" or "send".
func RecordReplyDrop(answer, reason string) {
	RegisterMetrics()
	repliesDropped.WithLabelValues(answer, reason).Inc()
}

func SetLiveTasks(n int) {
	RegisterMetrics()
	liveTasks.Set(float64(n))
}

func RecordTaskExit(exitCode int, duration time.Duration) {
	RegisterMetrics()
	taskDuration.WithLabelValues(strconv.Itoa(exitCode)).Observe(duration.Seconds())
}

func RecordOutputBytes(n int) {
	RegisterMetrics()
	outputBytes.Add(float64(n))
}
