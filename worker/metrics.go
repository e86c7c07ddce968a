package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instrumentation for a worker's dispatch loop:
// how long each task takes and how often it succeeds or fails. A step
// missing from the task registry is counted as a failure ("error" status).
type Metrics struct {
	TaskDuration *prometheus.HistogramVec
	TaskTotal    *prometheus.CounterVec
}

// NewMetrics registers the worker's metrics under namespace (empty defaults
// to "clarinet_worker"). Calling it twice with the same namespace panics,
// matching promauto's registration semantics — callers should build one
// Metrics per process.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "clarinet_worker"
	}
	return &Metrics{
		TaskDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Duration of a single task handler invocation.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"task_name", "queue", "status"},
		),
		TaskTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_total",
				Help:      "Total number of task handler invocations.",
			},
			[]string{"task_name", "queue", "status"},
		),
	}
}

func (m *Metrics) observe(taskName, queue string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.TaskDuration.WithLabelValues(taskName, queue, status).Observe(duration.Seconds())
	m.TaskTotal.WithLabelValues(taskName, queue, status).Inc()
}
