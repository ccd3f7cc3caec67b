package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	notificationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kanban_notifications_created_total",
		Help: "Notifications created by kind",
	}, []string{"kind"})

	notificationsRemoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kanban_notifications_removed_total",
		Help: "Notifications removed by kind",
	}, []string{"kind"})

	deadlineScanSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kanban_deadline_scan_seconds",
		Help:    "Time spent recomputing deadline notifications for one team",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
)
