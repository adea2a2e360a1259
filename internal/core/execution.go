package core

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/halvard/relay/internal/endpoint"
	"github.com/halvard/relay/internal/metrics"
	"github.com/halvard/relay/internal/model"
)

// ExecuteJobRetryLimit caps transport-failure retries per execution attempt.
// Exceeding it converts a retryable failure into a terminal one.
const ExecuteJobRetryLimit = 10

// retryDelay computes the backoff before retry number retryCount:
// round(500 * 1.5^(retryCount-1)) milliseconds, strictly increasing.
func retryDelay(retryCount int) time.Duration {
	ms := math.Round(500 * math.Pow(1.5, float64(retryCount-1)))
	return time.Duration(ms) * time.Millisecond
}

type ExecutionService struct {
	db          TxBeginner
	q           Enqueuer
	ec          EndpointClient
	connections *ConnectionService
	now         func() time.Time
}

func NewExecutionService(db TxBeginner, q Enqueuer, ec EndpointClient, connections *ConnectionService) *ExecutionService {
	return &ExecutionService{db: db, q: q, ec: ec, connections: connections, now: time.Now}
}

// Execute performs one protocol phase against the run's endpoint. Transport
// failures are retried with exponential backoff up to the execution's retry
// limit; protocol failures and explicit errors are terminal. Idempotent
// under at-least-once delivery: terminal executions and terminal runs no-op.
func (s *ExecutionService) Execute(ctx context.Context, executionID string) error {
	exec, err := getExecution(ctx, s.db, executionID)
	if err != nil {
		return err
	}
	if exec.Status == model.ExecutionStatusSuccess || exec.Status == model.ExecutionStatusFailure {
		return nil
	}

	run, err := getRun(ctx, s.db, exec.RunID)
	if err != nil {
		return err
	}
	if run.CompletedAt != nil {
		return nil
	}

	version, err := getJobVersion(ctx, s.db, run.VersionID)
	if err != nil {
		return err
	}

	var endpointURL string
	err = s.db.QueryRow(ctx, "SELECT url FROM endpoints WHERE id = $1", version.EndpointID).Scan(&endpointURL)
	if err != nil {
		return fmt.Errorf("get endpoint %s: %w", version.EndpointID, err)
	}

	record, err := getEventRecord(ctx, s.db, run.EventID)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx,
		"UPDATE executions SET status = $1, updated_at = now() WHERE id = $2",
		model.ExecutionStatusStarted, exec.ID,
	)
	if err != nil {
		return fmt.Errorf("mark execution %s started: %w", exec.ID, err)
	}

	switch exec.Reason {
	case model.ExecutionReasonPreprocess:
		return s.preprocess(ctx, exec, run, version, record, endpointURL)
	case model.ExecutionReasonExecuteJob:
		return s.executeJob(ctx, exec, run, version, record, endpointURL)
	default:
		return fmt.Errorf("execution %s has unknown reason %q", exec.ID, exec.Reason)
	}
}

func (s *ExecutionService) preprocess(ctx context.Context, exec *model.Execution, run *model.Run, version *model.JobVersion, record *model.EventRecord, url string) error {
	resp, err := s.ec.PreprocessRun(ctx, url, endpoint.PreprocessRunRequest{
		Event: eventPayloadFromRecord(record),
		Job:   endpoint.JobIdentity{ID: version.JobID, Version: version.Version},
		Run:   runContext(run),
	})
	if err != nil {
		return s.handleCallFailure(ctx, exec, run, err)
	}

	if resp.Abort {
		// Preprocessing rejected the run: terminal, but distinct from an
		// ordinary failure for observability.
		output, _ := json.Marshal(model.RunError{Message: "run aborted during preprocessing"})
		return s.finishRun(ctx, exec, run, model.RunStatusAborted, output)
	}

	// Preprocess passed: close this attempt and open the EXECUTE_JOB phase.
	var nextID string
	err = WithTx(ctx, s.db, func(tx DB) error {
		if err := closeExecution(ctx, tx, exec.ID, model.ExecutionStatusSuccess, nil); err != nil {
			return err
		}
		next, err := insertExecution(ctx, tx, run.ID, model.ExecutionReasonExecuteJob, nil)
		if err != nil {
			return err
		}
		nextID = next.ID
		return nil
	})
	if err != nil {
		return err
	}
	return s.q.Enqueue(ctx, JobExecuteRun, IDPayload{ID: nextID}, JobOptions{
		JobKey: executionJobKey(nextID),
	})
}

func (s *ExecutionService) executeJob(ctx context.Context, exec *model.Execution, run *model.Run, version *model.JobVersion, record *model.EventRecord, url string) error {
	// Connections were resolved at start time; re-resolve so credentials are
	// fresh. A connection revoked mid-run fails the attempt outright.
	resolved, missing, err := s.connections.Resolve(ctx, s.db, version, run.ExternalAccountID)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("execution %s: %d connections unresolved at execute time", exec.ID, len(missing))
	}

	cached, err := completedTasks(ctx, s.db, run.ID)
	if err != nil {
		return err
	}

	resp, err := s.ec.ExecuteJob(ctx, url, endpoint.ExecuteJobRequest{
		Event:       eventPayloadFromRecord(record),
		Job:         endpoint.JobIdentity{ID: version.JobID, Version: version.Version},
		Run:         runContext(run),
		Connections: resolved,
		Tasks:       cached,
	})
	if err != nil {
		return s.handleCallFailure(ctx, exec, run, err)
	}

	switch resp.Status {
	case endpoint.StatusSuccess:
		return s.finishRun(ctx, exec, run, model.RunStatusSuccess, normalizeJSON(resp.Output))

	case endpoint.StatusResumeWithTask:
		if resp.Task == nil {
			msg := "RESUME_WITH_TASK response without a task"
			output, _ := json.Marshal(model.RunError{Message: msg})
			return s.finishRun(ctx, exec, run, model.RunStatusFailure, output)
		}
		return s.parkOnTask(ctx, exec, run, resp.Task)

	case endpoint.StatusError:
		runErr := resp.Error
		if runErr == nil {
			runErr = &model.RunError{Message: "job returned ERROR without detail"}
		}
		output, _ := json.Marshal(runErr)
		return s.finishRun(ctx, exec, run, model.RunStatusFailure, output)

	default:
		output, _ := json.Marshal(model.RunError{Message: fmt.Sprintf("unknown response status %q", resp.Status)})
		return s.finishRun(ctx, exec, run, model.RunStatusFailure, output)
	}
}

// parkOnTask records the durable checkpoint and schedules the resumption,
// honoring the task's delay_until so long sleeps never occupy a worker.
func (s *ExecutionService) parkOnTask(ctx context.Context, exec *model.Execution, run *model.Run, spec *endpoint.TaskSpec) error {
	err := WithTx(ctx, s.db, func(tx DB) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO tasks (id, run_id, status, noop, output, delay_until, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, now(), now())
			 ON CONFLICT (id) DO NOTHING`,
			spec.ID, run.ID, model.TaskStatusPending, spec.Noop, spec.Output, spec.DelayUntil,
		)
		if err != nil {
			return fmt.Errorf("insert task %s: %w", spec.ID, err)
		}
		return closeExecution(ctx, tx, exec.ID, model.ExecutionStatusSuccess, &spec.ID)
	})
	if err != nil {
		return err
	}

	opts := JobOptions{JobKey: fmt.Sprintf("task:%s", spec.ID)}
	if spec.DelayUntil != nil {
		opts.RunAt = *spec.DelayUntil
	}
	if err := s.q.Enqueue(ctx, JobResumeTask, IDPayload{ID: spec.ID}, opts); err != nil {
		return fmt.Errorf("enqueue resume for task %s: %w", spec.ID, err)
	}
	return nil
}

// handleCallFailure routes an endpoint-call error: transport failures retry
// with backoff until the limit, protocol failures are terminal immediately.
func (s *ExecutionService) handleCallFailure(ctx context.Context, exec *model.Execution, run *model.Run, callErr error) error {
	if !endpoint.IsTransport(callErr) {
		output, _ := json.Marshal(model.RunError{Message: callErr.Error()})
		return s.finishRun(ctx, exec, run, model.RunStatusFailure, output)
	}

	retryCount := exec.RetryCount + 1
	if retryCount > exec.RetryLimit {
		output, _ := json.Marshal(model.RunError{
			Message: fmt.Sprintf("endpoint unreachable after %d attempts: %v", exec.RetryCount, callErr),
		})
		return s.finishRun(ctx, exec, run, model.RunStatusFailure, output)
	}

	delay := retryDelay(retryCount)
	errMsg := callErr.Error()
	_, err := s.db.Exec(ctx,
		`UPDATE executions SET status = $1, retry_count = $2, retry_delay_ms = $3, error = $4, updated_at = now() WHERE id = $5`,
		model.ExecutionStatusPending, retryCount, int(delay/time.Millisecond), errMsg, exec.ID,
	)
	if err != nil {
		return fmt.Errorf("record retry for execution %s: %w", exec.ID, err)
	}

	// This enqueue runs inside the execution's own job, which still holds
	// the execution's job key; a keyed replacement here would collide with
	// it. The retry goes in unkeyed and relies on the terminal-status guard
	// at the top of Execute for dedup.
	err = s.q.Enqueue(ctx, JobExecuteRun, IDPayload{ID: exec.ID}, JobOptions{
		RunAt: s.now().Add(delay),
	})
	if err != nil {
		return fmt.Errorf("re-enqueue execution %s: %w", exec.ID, err)
	}
	metrics.ExecutionRetries.Inc()
	return nil
}

// finishRun closes the attempt and the run together, releases the queue slot
// in the same transaction, and triggers the finished follow-up.
func (s *ExecutionService) finishRun(ctx context.Context, exec *model.Execution, run *model.Run, status string, output json.RawMessage) error {
	execStatus := model.ExecutionStatusSuccess
	if status != model.RunStatusSuccess {
		execStatus = model.ExecutionStatusFailure
	}

	err := WithTx(ctx, s.db, func(tx DB) error {
		if err := closeExecution(ctx, tx, exec.ID, execStatus, nil); err != nil {
			return err
		}
		if err := touchRunTerminal(ctx, tx, run.ID, status, output); err != nil {
			return err
		}
		return decrementQueue(ctx, tx, run.QueueID)
	})
	if err != nil {
		return err
	}

	if err := s.q.Enqueue(ctx, JobRunFinished, IDPayload{ID: run.ID}, JobOptions{}); err != nil {
		return fmt.Errorf("enqueue finished for run %s: %w", run.ID, err)
	}
	return nil
}

func runContext(run *model.Run) endpoint.RunContext {
	rc := endpoint.RunContext{
		ID:        run.ID,
		IsTest:    run.IsTest,
		StartedAt: run.StartedAt,
	}
	if run.ExternalAccountID != nil {
		rc.ExternalAccountID = *run.ExternalAccountID
	}
	return rc
}

func insertExecution(ctx context.Context, db DB, runID, reason string, resumeTaskID *string) (*model.Execution, error) {
	exec := &model.Execution{
		ID:           uuid.NewString(),
		RunID:        runID,
		Reason:       reason,
		Status:       model.ExecutionStatusPending,
		RetryLimit:   ExecuteJobRetryLimit,
		ResumeTaskID: resumeTaskID,
	}
	_, err := db.Exec(ctx,
		`INSERT INTO executions (id, run_id, reason, status, retry_count, retry_limit, retry_delay_ms, resume_task_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 0, $5, 0, $6, now(), now())`,
		exec.ID, exec.RunID, exec.Reason, exec.Status, exec.RetryLimit, exec.ResumeTaskID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert execution for run %s: %w", runID, err)
	}
	return exec, nil
}

func closeExecution(ctx context.Context, db DB, id, status string, resumeTaskID *string) error {
	_, err := db.Exec(ctx,
		`UPDATE executions SET status = $1, resume_task_id = COALESCE($2, resume_task_id), completed_at = now(), updated_at = now() WHERE id = $3`,
		status, resumeTaskID, id,
	)
	if err != nil {
		return fmt.Errorf("close execution %s: %w", id, err)
	}
	return nil
}

func getExecution(ctx context.Context, db DB, id string) (*model.Execution, error) {
	var e model.Execution
	err := db.QueryRow(ctx,
		`SELECT id, run_id, reason, status, retry_count, retry_limit, retry_delay_ms, resume_task_id, error, created_at, updated_at, completed_at
		 FROM executions WHERE id = $1`, id,
	).Scan(&e.ID, &e.RunID, &e.Reason, &e.Status, &e.RetryCount, &e.RetryLimit, &e.RetryDelayMS,
		&e.ResumeTaskID, &e.Error, &e.CreatedAt, &e.UpdatedAt, &e.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("get execution %s: %w", id, err)
	}
	return &e, nil
}

func completedTasks(ctx context.Context, db DB, runID string) ([]model.CachedTask, error) {
	rows, err := db.Query(ctx,
		`SELECT id, status, noop, output FROM tasks WHERE run_id = $1 AND status = $2 ORDER BY created_at`,
		runID, model.TaskStatusCompleted,
	)
	if err != nil {
		return nil, fmt.Errorf("load completed tasks for run %s: %w", runID, err)
	}
	defer rows.Close()

	var tasks []model.CachedTask
	for rows.Next() {
		var t model.CachedTask
		if err := rows.Scan(&t.ID, &t.Status, &t.Noop, &t.Output); err != nil {
			return nil, fmt.Errorf("scan cached task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cached tasks: %w", err)
	}
	return tasks, nil
}
