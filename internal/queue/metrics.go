package queue

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Number of pending tasks per queue",
		},
		[]string{"queue"},
	)
	QueueEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_enqueued_total",
			Help: "Tasks submitted grouped by type and result",
		},
		[]string{"type", "result"},
	)
	QueueArchivedSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_archived_size",
			Help: "Number of tasks that exhausted their retries",
		},
		[]string{"queue"},
	)
)

func init() {
	prometheus.MustRegister(QueueDepth, QueueEnqueuedTotal, QueueArchivedSize)
}

func countEnqueue(taskType, result string) {
	QueueEnqueuedTotal.WithLabelValues(taskType, result).Inc()
}

// ReportDepth refreshes the queue gauges from the inspector.
func ReportDepth(_ context.Context, inspector *asynq.Inspector, queueName string) error {
	info, err := inspector.GetQueueInfo(queueName)
	if err != nil {
		return err
	}
	QueueDepth.WithLabelValues(queueName).Set(float64(info.Pending + info.Scheduled + info.Retry))
	QueueArchivedSize.WithLabelValues(queueName).Set(float64(info.Archived))
	return nil
}
