package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/halvard/relay/internal/metrics"
	"github.com/halvard/relay/internal/model"
)

// MissingConnectionEventName is the internal event ingested when a run is
// the first to suspend on a given unresolved connection.
const MissingConnectionEventName = "trigger.internal.missing_connection"

type RunService struct {
	db          TxBeginner
	q           Enqueuer
	connections *ConnectionService
	ingest      *EventIngestService
}

func NewRunService(db TxBeginner, q Enqueuer, connections *ConnectionService, ingest *EventIngestService) *RunService {
	return &RunService{db: db, q: q, connections: connections, ingest: ingest}
}

// Create inserts a PENDING run for a job version and triggering event, then
// enqueues its start.
func (s *RunService) Create(ctx context.Context, versionID string, record *model.EventRecord) (*model.Run, error) {
	version, err := getJobVersion(ctx, s.db, versionID)
	if err != nil {
		return nil, err
	}

	run := &model.Run{
		ID:                uuid.NewString(),
		EnvironmentID:     version.EnvironmentID,
		VersionID:         version.ID,
		EventID:           record.ID,
		QueueID:           version.QueueID,
		Status:            model.RunStatusPending,
		ExternalAccountID: record.ExternalAccountID,
		IsTest:            record.IsTest,
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO runs (id, environment_id, version_id, event_id, queue_id, status, external_account_id, is_test, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())`,
		run.ID, run.EnvironmentID, run.VersionID, run.EventID, run.QueueID, run.Status, run.ExternalAccountID, run.IsTest,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run for version %s: %w", versionID, err)
	}

	if err := s.q.Enqueue(ctx, JobStartRun, IDPayload{ID: run.ID}, JobOptions{}); err != nil {
		return nil, fmt.Errorf("enqueue start for run %s: %w", run.ID, err)
	}
	return run, nil
}

// Start drives a run from a startable status toward STARTED: queue admission
// first, then connection resolution, then the opening execution attempt.
// Duplicate start triggers are expected under at-least-once delivery and
// no-op on the status guard.
func (s *RunService) Start(ctx context.Context, runID string) error {
	var (
		executionID   string
		notifyMissing []model.MissingConnection
		notifyEnvID   string
	)

	err := WithTx(ctx, s.db, func(tx DB) error {
		run, err := getRunForUpdate(ctx, tx, runID)
		if err != nil {
			return err
		}
		if !runStartable(run.Status) {
			return nil
		}

		version, err := getJobVersion(ctx, tx, run.VersionID)
		if err != nil {
			return err
		}

		var jobCount, maxJobs int
		err = tx.QueryRow(ctx,
			"SELECT job_count, max_jobs FROM job_queues WHERE id = $1 FOR UPDATE", run.QueueID,
		).Scan(&jobCount, &maxJobs)
		if err != nil {
			return fmt.Errorf("load queue %s: %w", run.QueueID, err)
		}

		if jobCount >= maxJobs {
			_, err := tx.Exec(ctx,
				`UPDATE runs SET status = $1, queued_at = COALESCE(queued_at, now()), updated_at = now() WHERE id = $2`,
				model.RunStatusQueued, run.ID,
			)
			if err != nil {
				return fmt.Errorf("park run %s in queue: %w", run.ID, err)
			}
			return nil
		}

		_, missing, err := s.connections.Resolve(ctx, tx, version, run.ExternalAccountID)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			_, err := tx.Exec(ctx,
				"UPDATE runs SET status = $1, updated_at = now() WHERE id = $2",
				model.RunStatusWaitingOnConnections, run.ID,
			)
			if err != nil {
				return fmt.Errorf("suspend run %s on connections: %w", run.ID, err)
			}
			for _, req := range missing {
				mc, created, err := s.connections.RecordMissing(ctx, tx, run.ID, req, run.ExternalAccountID)
				if err != nil {
					return err
				}
				if created {
					notifyMissing = append(notifyMissing, *mc)
					notifyEnvID = run.EnvironmentID
				}
			}
			return nil
		}

		_, err = tx.Exec(ctx,
			"UPDATE job_queues SET job_count = job_count + 1, updated_at = now() WHERE id = $1", run.QueueID,
		)
		if err != nil {
			return fmt.Errorf("admit run %s to queue %s: %w", run.ID, run.QueueID, err)
		}

		_, err = tx.Exec(ctx,
			"UPDATE runs SET status = $1, started_at = now(), updated_at = now() WHERE id = $2",
			model.RunStatusStarted, run.ID,
		)
		if err != nil {
			return fmt.Errorf("start run %s: %w", run.ID, err)
		}

		reason := model.ExecutionReasonExecuteJob
		if version.Preprocess {
			reason = model.ExecutionReasonPreprocess
		}
		exec, err := insertExecution(ctx, tx, run.ID, reason, nil)
		if err != nil {
			return err
		}
		executionID = exec.ID
		return nil
	})
	if err != nil {
		return err
	}

	if executionID != "" {
		err := s.q.Enqueue(ctx, JobExecuteRun, IDPayload{ID: executionID}, JobOptions{
			JobKey: executionJobKey(executionID),
		})
		if err != nil {
			return fmt.Errorf("enqueue execution %s: %w", executionID, err)
		}
		metrics.RunsStarted.Inc()
	}

	for _, mc := range notifyMissing {
		if err := s.notifyMissingConnection(ctx, notifyEnvID, mc); err != nil {
			return err
		}
	}
	return nil
}

// Finished recycles the run's queue slot and re-ingests any follow-up events
// a successful run emitted through its output. It runs for every terminal
// outcome.
func (s *RunService) Finished(ctx context.Context, runID string) error {
	run, err := getRun(ctx, s.db, runID)
	if err != nil {
		return err
	}

	// Promotion passes are serialized per queue. Each finish enqueues its
	// own unkeyed pass: a pass observing a stale job_count is harmless, and
	// a keyed enqueue could collide with a pass already running for the
	// same queue and get swallowed.
	err = s.q.Enqueue(ctx, JobStartQueuedRuns, IDPayload{ID: run.QueueID}, JobOptions{
		Queue: runQueueName(run.QueueID),
	})
	if err != nil {
		return fmt.Errorf("enqueue queue promotion for %s: %w", run.QueueID, err)
	}

	metrics.RunsCompleted.WithLabelValues(run.Status).Inc()

	if run.Status != model.RunStatusSuccess || len(run.Output) == 0 {
		return nil
	}

	var chained struct {
		Events []model.RawEvent `json:"events"`
	}
	if err := json.Unmarshal(run.Output, &chained); err != nil || len(chained.Events) == 0 {
		return nil
	}

	env, err := getEnvironment(ctx, s.db, run.EnvironmentID)
	if err != nil {
		return err
	}
	for _, ev := range chained.Events {
		if _, err := s.ingest.Ingest(ctx, env, ev, IngestOptions{}); err != nil {
			return fmt.Errorf("ingest chained event %s from run %s: %w", ev.ID, run.ID, err)
		}
	}
	return nil
}

func (s *RunService) notifyMissingConnection(ctx context.Context, environmentID string, mc model.MissingConnection) error {
	env, err := getEnvironment(ctx, s.db, environmentID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(mc)
	if err != nil {
		return fmt.Errorf("marshal missing connection payload: %w", err)
	}
	eventID := fmt.Sprintf("missing-connection:%s:%s", mc.ClientID, mc.ConnectionType)
	if mc.ExternalAccountID != nil {
		eventID += ":" + *mc.ExternalAccountID
	}
	_, err = s.ingest.Ingest(ctx, env, model.RawEvent{
		ID:      eventID,
		Name:    MissingConnectionEventName,
		Payload: payload,
	}, IngestOptions{})
	if err != nil {
		return fmt.Errorf("ingest missing connection event: %w", err)
	}
	return nil
}

func runStartable(status string) bool {
	for _, s := range model.StartableRunStatuses {
		if status == s {
			return true
		}
	}
	return false
}

func executionJobKey(executionID string) string {
	return fmt.Sprintf("execution:%s", executionID)
}

const runColumns = `id, environment_id, version_id, event_id, queue_id, status, external_account_id, queued_at, started_at, completed_at, output, is_test, created_at, updated_at`

func scanRun(row interface{ Scan(dest ...any) error }) (*model.Run, error) {
	var r model.Run
	err := row.Scan(&r.ID, &r.EnvironmentID, &r.VersionID, &r.EventID, &r.QueueID, &r.Status,
		&r.ExternalAccountID, &r.QueuedAt, &r.StartedAt, &r.CompletedAt, &r.Output, &r.IsTest,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func getRun(ctx context.Context, db DB, id string) (*model.Run, error) {
	run, err := scanRun(db.QueryRow(ctx, "SELECT "+runColumns+" FROM runs WHERE id = $1", id))
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

func getRunForUpdate(ctx context.Context, db DB, id string) (*model.Run, error) {
	run, err := scanRun(db.QueryRow(ctx, "SELECT "+runColumns+" FROM runs WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

func getJobVersion(ctx context.Context, db DB, id string) (*model.JobVersion, error) {
	var v model.JobVersion
	err := db.QueryRow(ctx,
		`SELECT id, job_id, environment_id, version, event_name, event_source, preprocess, queue_id, endpoint_id, connections, created_at, updated_at
		 FROM job_versions WHERE id = $1`, id,
	).Scan(&v.ID, &v.JobID, &v.EnvironmentID, &v.Version, &v.EventName, &v.EventSource,
		&v.Preprocess, &v.QueueID, &v.EndpointID, &v.Connections, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get job version %s: %w", id, err)
	}
	return &v, nil
}

func getEnvironment(ctx context.Context, db DB, id string) (*model.Environment, error) {
	var env model.Environment
	err := db.QueryRow(ctx,
		"SELECT id, organization_id, slug, created_at, updated_at FROM environments WHERE id = $1", id,
	).Scan(&env.ID, &env.OrganizationID, &env.Slug, &env.CreatedAt, &env.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get environment %s: %w", id, err)
	}
	return &env, nil
}

func touchRunTerminal(ctx context.Context, db DB, runID, status string, output json.RawMessage) error {
	_, err := db.Exec(ctx,
		`UPDATE runs SET status = $1, output = $2, completed_at = now(), updated_at = now() WHERE id = $3`,
		status, output, runID,
	)
	if err != nil {
		return fmt.Errorf("complete run %s as %s: %w", runID, status, err)
	}
	return nil
}

func decrementQueue(ctx context.Context, db DB, queueID string) error {
	_, err := db.Exec(ctx,
		"UPDATE job_queues SET job_count = GREATEST(job_count - 1, 0), updated_at = now() WHERE id = $1", queueID,
	)
	if err != nil {
		return fmt.Errorf("release queue slot %s: %w", queueID, err)
	}
	return nil
}
