package engine

import (
	"time"

	"qms/queue-dashboard/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qms",
		Name:      "engine_operations_total",
		Help:      "Engine operations by result kind.",
	}, []string{"operation", "result"})
	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "qms",
		Name:      "engine_operation_duration_seconds",
		Help:      "Engine operation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qms",
		Name:      "engine_notifications_total",
		Help:      "Notifications handed to the notifier.",
	}, []string{"kind", "result"})
)

func observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = store.KindOf(err).String()
	}
	operationsTotal.WithLabelValues(op, result).Inc()
	operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
