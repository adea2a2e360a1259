package core

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ---------- Ensure ----------

func TestQueueService_Ensure(t *testing.T) {
	db := &mockDB{}
	q := &mockEnqueuer{}
	svc := NewQueueService(db, q)
	ctx := context.Background()

	now := time.Now().Truncate(time.Microsecond)
	db.On("QueryRow", mock.Anything, sqlContains("INSERT INTO job_queues"), mock.Anything).
		Return(&mockRow{scanFunc: func(dest ...any) error {
			*(dest[0].(*string)) = "queue-1"
			*(dest[1].(*string)) = "env-1"
			*(dest[2].(*string)) = "default"
			*(dest[3].(*int)) = 0
			*(dest[4].(*int)) = 100
			*(dest[5].(*time.Time)) = now
			*(dest[6].(*time.Time)) = now
			return nil
		}})

	queue, err := svc.Ensure(ctx, "env-1", "default", 100)
	require.NoError(t, err)
	assert.Equal(t, "queue-1", queue.ID)
	assert.Equal(t, 100, queue.MaxJobs)
	db.AssertExpectations(t)
}

// ---------- StartQueuedRuns ----------

func TestQueueService_StartQueuedRuns_PromotesOldest(t *testing.T) {
	db := &mockDB{}
	q := &mockEnqueuer{}
	svc := NewQueueService(db, q)
	ctx := context.Background()

	expectQueueCounts(db, 0, 1)
	db.On("QueryRow", mock.Anything, sqlContains("ORDER BY queued_at LIMIT 1"), mock.Anything).
		Return(&mockRow{scanFunc: func(dest ...any) error {
			*(dest[0].(*string)) = "run-9"
			return nil
		}})

	err := svc.StartQueuedRuns(ctx, "queue-1")
	require.NoError(t, err)

	require.Len(t, q.jobs, 1)
	assert.Equal(t, JobStartRun, q.jobs[0].Job)
	assert.Equal(t, IDPayload{ID: "run-9"}, q.jobs[0].Payload)
	assert.Equal(t, "job-queue:queue-1", q.jobs[0].Opts.Queue)
	db.AssertExpectations(t)
}

func TestQueueService_StartQueuedRuns_QueueFull(t *testing.T) {
	db := &mockDB{}
	q := &mockEnqueuer{}
	svc := NewQueueService(db, q)

	expectQueueCounts(db, 1, 1)

	err := svc.StartQueuedRuns(context.Background(), "queue-1")
	require.NoError(t, err)
	assert.Empty(t, q.jobs)
	db.AssertExpectations(t)
}

func TestQueueService_StartQueuedRuns_NothingQueued(t *testing.T) {
	db := &mockDB{}
	q := &mockEnqueuer{}
	svc := NewQueueService(db, q)

	expectQueueCounts(db, 0, 1)
	db.On("QueryRow", mock.Anything, sqlContains("ORDER BY queued_at LIMIT 1"), mock.Anything).
		Return(&mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }})

	err := svc.StartQueuedRuns(context.Background(), "queue-1")
	require.NoError(t, err)
	assert.Empty(t, q.jobs)
	db.AssertExpectations(t)
}
