package sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calenote_sync",
			Name:      "cycles_total",
			Help:      "Completed sync cycles by type and result.",
		},
		[]string{"type", "result"},
	)

	itemsAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "calenote_sync",
			Name:      "items_applied_total",
			Help:      "Items applied during pull, by action taken.",
		},
		[]string{"action"},
	)

	conflictsDetectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "calenote_sync",
			Name:      "conflicts_detected_total",
			Help:      "Divergent records flagged for manual resolution.",
		},
	)

	remoteRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "calenote_sync",
			Name:      "remote_retries_total",
			Help:      "Remote calls retried after a recoverable failure.",
		},
	)

	backoffWaitSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "calenote_sync",
			Name:      "backoff_wait_seconds_total",
			Help:      "Cumulative time spent sleeping in retry backoff.",
		},
	)
)
