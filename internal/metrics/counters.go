package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Domain counters incremented by the core services.
var (
	EventsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_events_ingested_total",
		Help: "Events persisted and scheduled for delivery",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_events_dropped_total",
		Help: "Events persisted but not scheduled due to organization rate limiting",
	})

	EventsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_events_delivered_total",
		Help: "Event records marked delivered after dispatcher matching",
	})

	RunsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_runs_started_total",
		Help: "Runs that transitioned to STARTED",
	})

	RunsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_runs_completed_total",
		Help: "Runs that reached a terminal status",
	}, []string{"status"})

	ExecutionRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_execution_retries_total",
		Help: "Execution attempts re-enqueued after a retryable failure",
	})
)
