package core

import (
	"context"
	"fmt"

	"github.com/halvard/relay/internal/model"
)

type TaskService struct {
	db TxBeginner
	q  Enqueuer
}

func NewTaskService(db TxBeginner, q Enqueuer) *TaskService {
	return &TaskService{db: db, q: q}
}

// Resume re-enters the execute-job protocol after a durable wait. The task
// moves to COMPLETED (or RUNNING when its output is still pending and it is
// not a no-op) and a fresh EXECUTE_JOB execution bound to the task is opened
// so the endpoint replays with the accumulated task cache.
func (s *TaskService) Resume(ctx context.Context, taskID string) error {
	var executionID string
	err := WithTx(ctx, s.db, func(tx DB) error {
		task, err := getTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.Status == model.TaskStatusCompleted || task.Status == model.TaskStatusErrored {
			return nil
		}

		run, err := getRunForUpdate(ctx, tx, task.RunID)
		if err != nil {
			return err
		}
		if run.Status != model.RunStatusStarted {
			return nil
		}

		status := model.TaskStatusCompleted
		if len(task.Output) == 0 && !task.Noop {
			status = model.TaskStatusRunning
		}
		_, err = tx.Exec(ctx,
			"UPDATE tasks SET status = $1, updated_at = now() WHERE id = $2",
			status, task.ID,
		)
		if err != nil {
			return fmt.Errorf("resume task %s: %w", task.ID, err)
		}

		exec, err := insertExecution(ctx, tx, run.ID, model.ExecutionReasonExecuteJob, &task.ID)
		if err != nil {
			return err
		}
		executionID = exec.ID
		return nil
	})
	if err != nil {
		return err
	}
	if executionID == "" {
		return nil
	}

	err = s.q.Enqueue(ctx, JobExecuteRun, IDPayload{ID: executionID}, JobOptions{
		JobKey: executionJobKey(executionID),
	})
	if err != nil {
		return fmt.Errorf("enqueue execution %s for task %s: %w", executionID, taskID, err)
	}
	return nil
}

// Complete records a task's output once its side effect finished, marking it
// COMPLETED so replays serve it from the cache.
func (s *TaskService) Complete(ctx context.Context, taskID string, output []byte) error {
	_, err := s.db.Exec(ctx,
		"UPDATE tasks SET status = $1, output = $2, updated_at = now() WHERE id = $3",
		model.TaskStatusCompleted, normalizeJSON(output), taskID,
	)
	if err != nil {
		return fmt.Errorf("complete task %s: %w", taskID, err)
	}
	return nil
}

func getTask(ctx context.Context, db DB, id string) (*model.Task, error) {
	var t model.Task
	err := db.QueryRow(ctx,
		`SELECT id, run_id, status, noop, output, delay_until, created_at, updated_at FROM tasks WHERE id = $1`, id,
	).Scan(&t.ID, &t.RunID, &t.Status, &t.Noop, &t.Output, &t.DelayUntil, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return &t, nil
}
