package core

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/halvard/relay/internal/model"
)

func newRunService(db *mockDB, q *mockEnqueuer) *RunService {
	connections := NewConnectionService(db, q)
	ingest := NewEventIngestService(db, q, &mockLimiter{allow: true}, zerolog.Nop())
	return NewRunService(db, q, connections, ingest)
}

func runScanFunc(r *model.Run) func(dest ...any) error {
	return func(dest ...any) error {
		*(dest[0].(*string)) = r.ID
		*(dest[1].(*string)) = r.EnvironmentID
		*(dest[2].(*string)) = r.VersionID
		*(dest[3].(*string)) = r.EventID
		*(dest[4].(*string)) = r.QueueID
		*(dest[5].(*string)) = r.Status
		*(dest[6].(**string)) = r.ExternalAccountID
		*(dest[7].(**time.Time)) = r.QueuedAt
		*(dest[8].(**time.Time)) = r.StartedAt
		*(dest[9].(**time.Time)) = r.CompletedAt
		*(dest[10].(*json.RawMessage)) = r.Output
		*(dest[11].(*bool)) = r.IsTest
		*(dest[12].(*time.Time)) = r.CreatedAt
		*(dest[13].(*time.Time)) = r.UpdatedAt
		return nil
	}
}

func expectRun(db *mockDB, r *model.Run, forUpdate bool) {
	sql := "FROM runs WHERE id = $1"
	if forUpdate {
		sql += " FOR UPDATE"
	}
	db.On("QueryRow", mock.Anything, sqlContains(sql), mock.Anything).Return(&mockRow{scanFunc: runScanFunc(r)})
}

func expectJobVersion(db *mockDB, v *model.JobVersion) {
	db.On("QueryRow", mock.Anything, sqlContains("FROM job_versions"), mock.Anything).Return(&mockRow{
		scanFunc: func(dest ...any) error {
			*(dest[0].(*string)) = v.ID
			*(dest[1].(*string)) = v.JobID
			*(dest[2].(*string)) = v.EnvironmentID
			*(dest[3].(*string)) = v.Version
			*(dest[4].(*string)) = v.EventName
			*(dest[5].(*string)) = v.EventSource
			*(dest[6].(*bool)) = v.Preprocess
			*(dest[7].(*string)) = v.QueueID
			*(dest[8].(*string)) = v.EndpointID
			*(dest[9].(*json.RawMessage)) = v.Connections
			*(dest[10].(*time.Time)) = v.CreatedAt
			*(dest[11].(*time.Time)) = v.UpdatedAt
			return nil
		},
	})
}

func expectQueueCounts(db *mockDB, jobCount, maxJobs int) {
	db.On("QueryRow", mock.Anything, sqlContains("FROM job_queues WHERE id = $1 FOR UPDATE"), mock.Anything).
		Return(&mockRow{scanFunc: func(dest ...any) error {
			*(dest[0].(*int)) = jobCount
			*(dest[1].(*int)) = maxJobs
			return nil
		}})
}

func testJobVersion() *model.JobVersion {
	return &model.JobVersion{
		ID:            "ver-1",
		JobID:         "job-1",
		EnvironmentID: "env-1",
		Version:       "1.0.0",
		EventName:     "user.created",
		EventSource:   "trigger.dev",
		QueueID:       "queue-1",
		EndpointID:    "ep-1",
	}
}

func pendingRun() *model.Run {
	return &model.Run{
		ID:            "run-1",
		EnvironmentID: "env-1",
		VersionID:     "ver-1",
		EventID:       "rec-1",
		QueueID:       "queue-1",
		Status:        model.RunStatusPending,
	}
}

// ---------- Create ----------

func TestRunService_Create(t *testing.T) {
	db := &mockDB{}
	q := &mockEnqueuer{}
	svc := newRunService(db, q)
	ctx := context.Background()

	expectJobVersion(db, testJobVersion())
	db.On("Exec", mock.Anything, sqlContains("INSERT INTO runs"), mock.Anything).
		Return(pgconn.CommandTag{}, nil)

	record := &model.EventRecord{ID: "rec-1", EnvironmentID: "env-1", IsTest: true}
	run, err := svc.Create(ctx, "ver-1", record)
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusPending, run.Status)
	assert.Equal(t, "queue-1", run.QueueID)
	assert.True(t, run.IsTest)

	require.Len(t, q.jobs, 1)
	assert.Equal(t, JobStartRun, q.jobs[0].Job)
	assert.Equal(t, IDPayload{ID: run.ID}, q.jobs[0].Payload)
	db.AssertExpectations(t)
}

// ---------- Start ----------

func TestRunService_Start_AdmitsAndOpensExecution(t *testing.T) {
	db := &mockDB{}
	q := &mockEnqueuer{}
	svc := newRunService(db, q)
	ctx := context.Background()

	expectRun(db, pendingRun(), true)
	expectJobVersion(db, testJobVersion())
	expectQueueCounts(db, 0, 1)
	db.On("Exec", mock.Anything, sqlContains("job_count = job_count + 1"), mock.Anything).
		Return(pgconn.CommandTag{}, nil)
	db.On("Exec", mock.Anything, sqlContains("started_at = now()"), mock.Anything).
		Return(pgconn.CommandTag{}, nil)
	db.On("Exec", mock.Anything, sqlContains("INSERT INTO executions"), mock.Anything).
		Return(pgconn.CommandTag{}, nil)

	err := svc.Start(ctx, "run-1")
	require.NoError(t, err)

	require.Len(t, q.jobs, 1)
	assert.Equal(t, JobExecuteRun, q.jobs[0].Job)
	assert.Contains(t, q.jobs[0].Opts.JobKey, "execution:")
	db.AssertExpectations(t)
}

func TestRunService_Start_QueueFullParksRun(t *testing.T) {
	db := &mockDB{}
	q := &mockEnqueuer{}
	svc := newRunService(db, q)
	ctx := context.Background()

	expectRun(db, pendingRun(), true)
	expectJobVersion(db, testJobVersion())
	expectQueueCounts(db, 1, 1)
	db.On("Exec", mock.Anything, sqlContains("queued_at = COALESCE(queued_at, now())"), mock.Anything).
		Return(pgconn.CommandTag{}, nil)

	err := svc.Start(ctx, "run-1")
	require.NoError(t, err)

	// Parked, not started: no execution opened, no job enqueued.
	assert.Empty(t, q.jobs)
	db.AssertExpectations(t)
}

func TestRunService_Start_NotStartableIsNoop(t *testing.T) {
	db := &mockDB{}
	q := &mockEnqueuer{}
	svc := newRunService(db, q)
	ctx := context.Background()

	run := pendingRun()
	run.Status = model.RunStatusSuccess
	expectRun(db, run, true)

	err := svc.Start(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, q.jobs)
	db.AssertExpectations(t)
}

func TestRunService_Start_MissingConnectionsSuspends(t *testing.T) {
	db := &mockDB{}
	q := &mockEnqueuer{}
	svc := newRunService(db, q)
	ctx := context.Background()

	version := testJobVersion()
	version.Connections = json.RawMessage(`[{"key":"slack","client_id":"client-1","connection_type":"DEVELOPER"}]`)

	expectRun(db, pendingRun(), true)
	expectJobVersion(db, version)
	expectQueueCounts(db, 0, 10)
	// No stored credential for the slot.
	db.On("QueryRow", mock.Anything, sqlContains("FROM api_connections"), mock.Anything).
		Return(&mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }})
	db.On("Exec", mock.Anything, sqlContains("UPDATE runs SET status = $1, updated_at"), mock.Anything).
		Return(pgconn.CommandTag{}, nil)
	// First run to hit this slot creates the missing-connection row.
	db.On("QueryRow", mock.Anything, sqlContains("SELECT id FROM missing_connections"), mock.Anything).
		Return(&mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }})
	db.On("Exec", mock.Anything, sqlContains("INSERT INTO missing_connections"), mock.Anything).
		Return(pgconn.CommandTag{}, nil)
	db.On("Exec", mock.Anything, sqlContains("INSERT INTO run_missing_connections"), mock.Anything).
		Return(pgconn.CommandTag{}, nil)

	// The notification event goes through the regular ingest path.
	db.On("QueryRow", mock.Anything, sqlContains("FROM environments"), mock.Anything).
		Return(&mockRow{scanFunc: func(dest ...any) error {
			*(dest[0].(*string)) = "env-1"
			*(dest[1].(*string)) = "org-1"
			*(dest[2].(*string)) = "prod"
			return nil
		}})
	db.On("QueryRow", mock.Anything, sqlContains("runs_enabled"), mock.Anything).
		Return(&mockRow{scanFunc: func(dest ...any) error {
			*(dest[0].(*bool)) = true
			return nil
		}})
	db.On("QueryRow", mock.Anything, sqlContains("WHERE event_id ="), mock.Anything).
		Return(&mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }})
	db.On("Exec", mock.Anything, sqlContains("INSERT INTO event_records"), mock.Anything).
		Return(pgconn.CommandTag{}, nil)

	err := svc.Start(ctx, "run-1")
	require.NoError(t, err)

	// The only enqueued job is the notification event's delivery; no
	// execution was opened.
	require.Len(t, q.jobs, 1)
	assert.Equal(t, JobDeliverEvent, q.jobs[0].Job)
	db.AssertExpectations(t)
}

// ---------- Finished ----------

func TestRunService_Finished_PromotesQueue(t *testing.T) {
	db := &mockDB{}
	q := &mockEnqueuer{}
	svc := newRunService(db, q)
	ctx := context.Background()

	run := pendingRun()
	run.Status = model.RunStatusFailure
	expectRun(db, run, false)

	err := svc.Finished(ctx, "run-1")
	require.NoError(t, err)

	// The pass rides the queue's serial lane and carries no dedup key: a
	// keyed enqueue could collide with a pass already running for the queue.
	require.Len(t, q.jobs, 1)
	assert.Equal(t, JobStartQueuedRuns, q.jobs[0].Job)
	assert.Equal(t, "job-queue:queue-1", q.jobs[0].Opts.Queue)
	assert.Empty(t, q.jobs[0].Opts.JobKey)
	assert.Equal(t, IDPayload{ID: "queue-1"}, q.jobs[0].Payload)
	db.AssertExpectations(t)
}

func TestRunService_Finished_IngestsChainedEvents(t *testing.T) {
	db := &mockDB{}
	q := &mockEnqueuer{}
	svc := newRunService(db, q)
	ctx := context.Background()

	run := pendingRun()
	run.Status = model.RunStatusSuccess
	run.Output = json.RawMessage(`{"events":[{"id":"chained-1","name":"follow.up"}]}`)
	expectRun(db, run, false)

	db.On("QueryRow", mock.Anything, sqlContains("FROM environments"), mock.Anything).
		Return(&mockRow{scanFunc: func(dest ...any) error {
			*(dest[0].(*string)) = "env-1"
			*(dest[1].(*string)) = "org-1"
			*(dest[2].(*string)) = "prod"
			return nil
		}})
	db.On("QueryRow", mock.Anything, sqlContains("runs_enabled"), mock.Anything).
		Return(&mockRow{scanFunc: func(dest ...any) error {
			*(dest[0].(*bool)) = true
			return nil
		}})
	db.On("QueryRow", mock.Anything, sqlContains("WHERE event_id ="), mock.Anything).
		Return(&mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }})
	db.On("Exec", mock.Anything, sqlContains("INSERT INTO event_records"), mock.Anything).
		Return(pgconn.CommandTag{}, nil)

	err := svc.Finished(ctx, "run-1")
	require.NoError(t, err)

	names := q.jobNames()
	require.Len(t, names, 2)
	assert.Equal(t, JobStartQueuedRuns, names[0])
	assert.Equal(t, JobDeliverEvent, names[1])
	db.AssertExpectations(t)
}

func TestRunService_Finished_NonSuccessSkipsOutput(t *testing.T) {
	db := &mockDB{}
	q := &mockEnqueuer{}
	svc := newRunService(db, q)
	ctx := context.Background()

	run := pendingRun()
	run.Status = model.RunStatusAborted
	run.Output = json.RawMessage(`{"events":[{"id":"chained-1","name":"follow.up"}]}`)
	expectRun(db, run, false)

	err := svc.Finished(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{JobStartQueuedRuns}, q.jobNames())
}
