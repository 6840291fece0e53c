package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsConsumedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_events_consumed_total",
		Help: "Total telemetry events read from the broker.",
	})

	eventsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_events_rejected_total",
		Help: "Total events dropped before persistence, by reason.",
	}, []string{"reason"})

	snapshotsPersistedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_snapshots_persisted_total",
		Help: "Total telemetry snapshots written to the report store.",
	})

	verdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_verdicts_total",
		Help: "Total inference outcomes by result.",
	}, []string{"result"})

	deadLetteredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_dead_lettered_total",
		Help: "Total events routed to the dead-letter topic, by stage.",
	}, []string{"stage"})
)
