package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/halvard/relay/internal/model"
)

type QueueService struct {
	db TxBeginner
	q  Enqueuer
}

func NewQueueService(db TxBeginner, q Enqueuer) *QueueService {
	return &QueueService{db: db, q: q}
}

// Ensure returns the environment's queue with the given name, creating it
// at the given capacity on first use.
func (s *QueueService) Ensure(ctx context.Context, environmentID, name string, maxJobs int) (*model.JobQueue, error) {
	var q model.JobQueue
	err := s.db.QueryRow(ctx,
		`INSERT INTO job_queues (id, environment_id, name, job_count, max_jobs, created_at, updated_at)
		 VALUES ($1, $2, $3, 0, $4, now(), now())
		 ON CONFLICT (environment_id, name) DO UPDATE SET updated_at = now()
		 RETURNING id, environment_id, name, job_count, max_jobs, created_at, updated_at`,
		uuid.NewString(), environmentID, name, maxJobs,
	).Scan(&q.ID, &q.EnvironmentID, &q.Name, &q.JobCount, &q.MaxJobs, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensure queue %s for environment %s: %w", name, environmentID, err)
	}
	return &q, nil
}

// StartQueuedRuns promotes at most one queued run when the queue has spare
// capacity. Callers enqueue this under the queue-scoped worker queue name so
// two promotions never race on the same slot.
func (s *QueueService) StartQueuedRuns(ctx context.Context, queueID string) error {
	var runID string
	err := WithTx(ctx, s.db, func(tx DB) error {
		var jobCount, maxJobs int
		err := tx.QueryRow(ctx,
			"SELECT job_count, max_jobs FROM job_queues WHERE id = $1 FOR UPDATE", queueID,
		).Scan(&jobCount, &maxJobs)
		if err != nil {
			return fmt.Errorf("load queue %s: %w", queueID, err)
		}
		if jobCount >= maxJobs {
			return nil
		}

		err = tx.QueryRow(ctx,
			`SELECT id FROM runs WHERE queue_id = $1 AND status = $2 ORDER BY queued_at LIMIT 1`,
			queueID, model.RunStatusQueued,
		).Scan(&runID)
		if err != nil {
			if isNoRows(err) {
				return nil
			}
			return fmt.Errorf("load queued run for queue %s: %w", queueID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if runID == "" {
		return nil
	}

	err = s.q.Enqueue(ctx, JobStartRun, IDPayload{ID: runID}, JobOptions{
		Queue: runQueueName(queueID),
	})
	if err != nil {
		return fmt.Errorf("enqueue promotion of run %s: %w", runID, err)
	}
	return nil
}
