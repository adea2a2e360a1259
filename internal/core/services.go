package core

import (
	"github.com/rs/zerolog"
)

// Services bundles every core service behind a single constructor so the API
// server and worker wire identical graphs.
type Services struct {
	EventIngest   *EventIngestService
	EventDelivery *EventDeliveryService
	Dispatcher    *DispatcherService
	Run           *RunService
	Execution     *ExecutionService
	Task          *TaskService
	Queue         *QueueService
	Schedule      *ScheduleService
	Connection    *ConnectionService
	Endpoint      *EndpointService
}

func NewServices(db TxBeginner, q Enqueuer, ec EndpointClient, limiter RateLimiter, logger zerolog.Logger) *Services {
	connections := NewConnectionService(db, q)
	ingest := NewEventIngestService(db, q, limiter, logger)
	runs := NewRunService(db, q, connections, ingest)

	return &Services{
		EventIngest:   ingest,
		EventDelivery: NewEventDeliveryService(db, q),
		Dispatcher:    NewDispatcherService(db, q, ec, runs),
		Run:           runs,
		Execution:     NewExecutionService(db, q, ec, connections),
		Task:          NewTaskService(db, q),
		Queue:         NewQueueService(db, q),
		Schedule:      NewScheduleService(db, q),
		Connection:    connections,
		Endpoint:      NewEndpointService(db, ec),
	}
}
