package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/halvard/relay/internal/core"
)

// Asynq queue names. Jobs carrying a serialized queue name in their options
// are funneled into the single-worker serial queue so their enqueue order is
// their processing order; everything else runs concurrently on default.
const (
	QueueDefault = "default"
	QueueSerial  = "serial"
)

// Enqueuer implements core.Enqueuer on asynq. Job keys map to asynq task
// ids; replacing a keyed job is delete-then-enqueue.
type Enqueuer struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

func NewEnqueuer(redisOpt asynq.RedisClientOpt) *Enqueuer {
	return &Enqueuer{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
	}
}

func (e *Enqueuer) Enqueue(ctx context.Context, job string, payload any, opts core.JobOptions) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", job, err)
	}

	queue := QueueDefault
	if opts.Queue != "" {
		queue = QueueSerial
	}

	aopts := []asynq.Option{asynq.Queue(queue)}
	if !opts.RunAt.IsZero() {
		aopts = append(aopts, asynq.ProcessAt(opts.RunAt))
	}
	if opts.MaxAttempts > 0 {
		aopts = append(aopts, asynq.MaxRetry(opts.MaxAttempts-1))
	}
	if opts.JobKey != "" {
		aopts = append(aopts, asynq.TaskID(opts.JobKey))
		// Replace semantics: drop any still-pending job under the same key
		// so the new schedule wins.
		if err := e.deleteTask(queue, opts.JobKey); err != nil {
			return err
		}
	}

	_, err = e.client.EnqueueContext(ctx, asynq.NewTask(job, body), aopts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			// Lost the delete/enqueue race against a concurrent enqueue
			// under the same key, or the key's task is being processed.
			// Either way a job for this key is accounted for.
			return nil
		}
		return fmt.Errorf("enqueue %s: %w", job, err)
	}
	return nil
}

func (e *Enqueuer) Dequeue(ctx context.Context, jobKey string) error {
	return e.deleteTask(QueueDefault, jobKey)
}

func (e *Enqueuer) deleteTask(queue, taskID string) error {
	err := e.inspector.DeleteTask(queue, taskID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, asynq.ErrTaskNotFound), errors.Is(err, asynq.ErrQueueNotFound):
		return nil
	case isTaskActive(err):
		// The task under this id is being processed right now. It cannot be
		// removed mid-flight, and it does not need to be: an active task has
		// already left the pending/scheduled sets, so there is nothing to
		// replace or cancel.
		return nil
	}
	return fmt.Errorf("delete task %s: %w", taskID, err)
}

// isTaskActive reports whether a DeleteTask error means the task is currently
// being processed. asynq exposes no sentinel for this state, only the
// FAILED_PRECONDITION code in the error text.
func isTaskActive(err error) bool {
	return strings.Contains(err.Error(), "FAILED_PRECONDITION")
}

func (e *Enqueuer) Close() error {
	return e.client.Close()
}
