package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/halvard/relay/internal/core"
)

// Server pulls jobs from the durable queue and routes them to the core
// services. Delivery is at-least-once; every handler is idempotent through
// the services' status guards.
type Server struct {
	srv *asynq.Server
	mux *asynq.ServeMux
}

func NewServer(redisOpt asynq.RedisClientOpt, concurrency int, services *core.Services, logger zerolog.Logger) *Server {
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueDefault: concurrency,
			QueueSerial:  1,
		},
	})

	mux := asynq.NewServeMux()
	mux.Use(jobLogger(logger))

	mux.HandleFunc(core.JobDeliverEvent, byID(services.EventDelivery.Deliver))
	mux.HandleFunc(core.JobStartRun, byID(services.Run.Start))
	mux.HandleFunc(core.JobExecuteRun, byID(services.Execution.Execute))
	mux.HandleFunc(core.JobResumeTask, byID(services.Task.Resume))
	mux.HandleFunc(core.JobRunFinished, byID(services.Run.Finished))
	mux.HandleFunc(core.JobStartQueuedRuns, byID(services.Queue.StartQueuedRuns))
	mux.HandleFunc(core.JobNextScheduledEvent, byID(services.Schedule.NextScheduledEvent))
	mux.HandleFunc(core.JobDeliverScheduledEvent, byID(services.Schedule.DeliverScheduledEvent))

	mux.HandleFunc(core.JobDeliverEventBatch, func(ctx context.Context, t *asynq.Task) error {
		var p core.DeliverBatchPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", t.Type(), err)
		}
		return services.EventDelivery.DeliverBatch(ctx, p.EventRecordIDs)
	})

	mux.HandleFunc(core.JobInvokeDispatcher, func(ctx context.Context, t *asynq.Task) error {
		var p core.InvokeDispatcherPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", t.Type(), err)
		}
		return services.Dispatcher.Invoke(ctx, p.DispatcherID, p.EventRecordIDs)
	})

	return &Server{srv: srv, mux: mux}
}

// Run blocks processing jobs until Shutdown.
func (s *Server) Run() error {
	return s.srv.Run(s.mux)
}

func (s *Server) Shutdown() {
	s.srv.Shutdown()
}

// byID adapts a service method addressed by row id to an asynq handler.
func byID(fn func(ctx context.Context, id string) error) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p core.IDPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", t.Type(), err)
		}
		return fn(ctx, p.ID)
	}
}

func jobLogger(logger zerolog.Logger) asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
			start := time.Now()
			err := next.ProcessTask(ctx, t)
			evt := logger.Info()
			if err != nil {
				evt = logger.Error().Err(err)
			}
			evt.Str("job", t.Type()).Dur("duration", time.Since(start)).Msg("job processed")
			return err
		})
	}
}
