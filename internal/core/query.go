package core

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/halvard/relay/internal/model"
)

// Read-side queries backing the HTTP API. Cursor pagination returns one
// extra row to detect a further page, mirroring the list endpoints' shape.

func (s *RunService) GetByID(ctx context.Context, id string) (*model.Run, error) {
	return getRun(ctx, s.db, id)
}

// RunDetail is a run with its execution and task history.
type RunDetail struct {
	model.Run
	Executions []model.Execution `json:"executions"`
	Tasks      []model.Task      `json:"tasks"`
}

// Detail fetches a run together with its executions and tasks. The three
// queries run in parallel.
func (s *RunService) Detail(ctx context.Context, id string) (*RunDetail, error) {
	var detail RunDetail
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		run, err := getRun(ctx, s.db, id)
		if err != nil {
			return err
		}
		detail.Run = *run
		return nil
	})

	g.Go(func() error {
		execs, err := s.Executions(ctx, id)
		if err != nil {
			return err
		}
		detail.Executions = execs
		return nil
	})

	g.Go(func() error {
		rows, err := s.db.Query(ctx,
			`SELECT id, run_id, status, noop, output, delay_until, created_at, updated_at
			 FROM tasks WHERE run_id = $1 ORDER BY created_at`, id,
		)
		if err != nil {
			return fmt.Errorf("list tasks for run %s: %w", id, err)
		}
		defer rows.Close()

		for rows.Next() {
			var task model.Task
			if err := rows.Scan(&task.ID, &task.RunID, &task.Status, &task.Noop, &task.Output,
				&task.DelayUntil, &task.CreatedAt, &task.UpdatedAt); err != nil {
				return fmt.Errorf("scan task: %w", err)
			}
			detail.Tasks = append(detail.Tasks, task)
		}
		return rows.Err()
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &detail, nil
}

func (s *RunService) ListByEnvironment(ctx context.Context, environmentID string, limit int, cursor string) ([]model.Run, bool, error) {
	query := "SELECT " + runColumns + " FROM runs WHERE environment_id = $1"
	args := []any{environmentID}
	if cursor != "" {
		query += " AND id > $2"
		args = append(args, cursor)
	}
	query += fmt.Sprintf(" ORDER BY id LIMIT $%d", len(args)+1)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list runs for environment %s: %w", environmentID, err)
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, false, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate runs: %w", err)
	}

	hasMore := len(runs) > limit
	if hasMore {
		runs = runs[:limit]
	}
	return runs, hasMore, nil
}

// Executions lists a run's attempts oldest first.
func (s *RunService) Executions(ctx context.Context, runID string) ([]model.Execution, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, run_id, reason, status, retry_count, retry_limit, retry_delay_ms, resume_task_id, error, created_at, updated_at, completed_at
		 FROM executions WHERE run_id = $1 ORDER BY created_at`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list executions for run %s: %w", runID, err)
	}
	defer rows.Close()

	var execs []model.Execution
	for rows.Next() {
		var e model.Execution
		if err := rows.Scan(&e.ID, &e.RunID, &e.Reason, &e.Status, &e.RetryCount, &e.RetryLimit,
			&e.RetryDelayMS, &e.ResumeTaskID, &e.Error, &e.CreatedAt, &e.UpdatedAt, &e.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		execs = append(execs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return execs, nil
}

func (s *DispatcherService) ListByEnvironment(ctx context.Context, environmentID string, limit int, cursor string) ([]model.EventDispatcher, bool, error) {
	query := `SELECT id, environment_id, event_names, source, payload_filter, context_filter, external_account_id, manual, enabled, batch, dispatchable, created_at, updated_at
		 FROM event_dispatchers WHERE environment_id = $1`
	args := []any{environmentID}
	if cursor != "" {
		query += " AND id > $2"
		args = append(args, cursor)
	}
	query += fmt.Sprintf(" ORDER BY id LIMIT $%d", len(args)+1)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list dispatchers for environment %s: %w", environmentID, err)
	}
	defer rows.Close()

	var dispatchers []model.EventDispatcher
	for rows.Next() {
		var d model.EventDispatcher
		if err := rows.Scan(&d.ID, &d.EnvironmentID, &d.EventNames, &d.Source, &d.PayloadFilter,
			&d.ContextFilter, &d.ExternalAccountID, &d.Manual, &d.Enabled, &d.Batch,
			&d.Dispatchable, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, false, fmt.Errorf("scan dispatcher: %w", err)
		}
		dispatchers = append(dispatchers, d)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate dispatchers: %w", err)
	}

	hasMore := len(dispatchers) > limit
	if hasMore {
		dispatchers = dispatchers[:limit]
	}
	return dispatchers, hasMore, nil
}

func (s *EventIngestService) GetByID(ctx context.Context, id string) (*model.EventRecord, error) {
	return getEventRecord(ctx, s.db, id)
}

func (s *EventIngestService) ListByEnvironment(ctx context.Context, environmentID string, limit int, cursor string) ([]model.EventRecord, bool, error) {
	query := `SELECT id, event_id, environment_id, name, source, payload, context, external_account_id, deliver_at, delivered_at, is_test, created_at, updated_at
		 FROM event_records WHERE environment_id = $1`
	args := []any{environmentID}
	if cursor != "" {
		query += " AND id > $2"
		args = append(args, cursor)
	}
	query += fmt.Sprintf(" ORDER BY id LIMIT $%d", len(args)+1)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list events for environment %s: %w", environmentID, err)
	}
	defer rows.Close()

	var records []model.EventRecord
	for rows.Next() {
		var rec model.EventRecord
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.EnvironmentID, &rec.Name, &rec.Source,
			&rec.Payload, &rec.Context, &rec.ExternalAccountID, &rec.DeliverAt, &rec.DeliveredAt,
			&rec.IsTest, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, false, fmt.Errorf("scan event record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate event records: %w", err)
	}

	hasMore := len(records) > limit
	if hasMore {
		records = records[:limit]
	}
	return records, hasMore, nil
}
