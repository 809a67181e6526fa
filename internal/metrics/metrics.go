// Package metrics exposes prometheus counters for the substrate's
// publish/consume/retry/dead-letter/task outcomes. Shaped after
// email-service/app/metrics/metrics.go: promauto-registered CounterVecs,
// one Record* function per observable event.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	eventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "substrate_events_published_total",
			Help: "Total number of events published to the event exchange",
		},
		[]string{"kind", "entity"},
	)

	publishFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "substrate_publish_failed_total",
			Help: "Total number of publish attempts that failed (nack or mandatory return)",
		},
		[]string{"kind", "entity"},
	)

	eventsConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "substrate_events_consumed_total",
			Help: "Total number of event messages handled by the consumer",
		},
		[]string{"kind", "entity", "outcome"},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "substrate_retries_total",
			Help: "Total number of messages reinjected into the attempt ladder",
		},
		[]string{"kind", "entity"},
	)

	deadLetteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "substrate_dead_lettered_total",
			Help: "Total number of messages that exhausted retries and were dead-lettered",
		},
		[]string{"kind", "entity"},
	)

	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "substrate_tasks_total",
			Help: "Total number of tasks handled, by final status",
		},
		[]string{"task_name", "status"},
	)
)

// Outcome labels for RecordEventConsumed.
const (
	OutcomeAck     = "ack"
	OutcomeRetry   = "retry"
	OutcomeDead    = "dead"
	OutcomeUnknown = "unknown"
)

func RecordEventPublished(kind, entity string) {
	eventsPublishedTotal.WithLabelValues(kind, entity).Inc()
}

func RecordPublishFailed(kind, entity string) {
	publishFailedTotal.WithLabelValues(kind, entity).Inc()
}

func RecordEventConsumed(kind, entity, outcome string) {
	eventsConsumedTotal.WithLabelValues(kind, entity, outcome).Inc()
}

func RecordRetry(kind, entity string) {
	retriesTotal.WithLabelValues(kind, entity).Inc()
}

func RecordDeadLettered(kind, entity string) {
	deadLetteredTotal.WithLabelValues(kind, entity).Inc()
}

func RecordTask(taskName, status string) {
	tasksTotal.WithLabelValues(taskName, status).Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
