package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halvard/relay/internal/core"
)

func newTestEnqueuer(t *testing.T) (*Enqueuer, *asynq.Inspector) {
	t.Helper()

	mr := miniredis.RunT(t)
	redisOpt := asynq.RedisClientOpt{Addr: mr.Addr()}
	e := NewEnqueuer(redisOpt)
	t.Cleanup(func() { e.Close() })
	return e, asynq.NewInspector(redisOpt)
}

func pendingTaskIDs(t *testing.T, insp *asynq.Inspector, queue string) []string {
	t.Helper()

	tasks, err := insp.ListPendingTasks(queue)
	if err != nil {
		require.ErrorIs(t, err, asynq.ErrQueueNotFound)
		return nil
	}
	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	return ids
}

func TestEnqueueDefaultQueue(t *testing.T) {
	e, insp := newTestEnqueuer(t)

	err := e.Enqueue(context.Background(), "event.deliver", map[string]string{"id": "rec-1"}, core.JobOptions{})
	require.NoError(t, err)

	tasks, err := insp.ListPendingTasks(QueueDefault)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "event.deliver", tasks[0].Type)
	assert.JSONEq(t, `{"id":"rec-1"}`, string(tasks[0].Payload))
}

func TestEnqueueSerializedQueue(t *testing.T) {
	e, insp := newTestEnqueuer(t)

	err := e.Enqueue(context.Background(), "event.invokeDispatcher", nil, core.JobOptions{
		Queue: "dispatcher:disp-1",
	})
	require.NoError(t, err)

	tasks, err := insp.ListPendingTasks(QueueSerial)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Empty(t, pendingTaskIDs(t, insp, QueueDefault))
}

func TestEnqueueScheduled(t *testing.T) {
	e, insp := newTestEnqueuer(t)

	runAt := time.Now().Add(time.Hour)
	err := e.Enqueue(context.Background(), "event.deliver", nil, core.JobOptions{RunAt: runAt})
	require.NoError(t, err)

	tasks, err := insp.ListScheduledTasks(QueueDefault)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.WithinDuration(t, runAt, tasks[0].NextProcessAt, time.Second)
}

func TestEnqueueKeyedJobReplaces(t *testing.T) {
	e, insp := newTestEnqueuer(t)
	ctx := context.Background()

	err := e.Enqueue(ctx, "event.deliver", map[string]string{"attempt": "first"}, core.JobOptions{JobKey: "event:rec-1"})
	require.NoError(t, err)
	err = e.Enqueue(ctx, "event.deliver", map[string]string{"attempt": "second"}, core.JobOptions{JobKey: "event:rec-1"})
	require.NoError(t, err)

	tasks, err := insp.ListPendingTasks(QueueDefault)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "event:rec-1", tasks[0].ID)
	assert.JSONEq(t, `{"attempt":"second"}`, string(tasks[0].Payload))
}

func TestEnqueueFromRunningKeyedTask(t *testing.T) {
	mr := miniredis.RunT(t)
	redisOpt := asynq.RedisClientOpt{Addr: mr.Addr()}
	e := NewEnqueuer(redisOpt)
	t.Cleanup(func() { e.Close() })
	ctx := context.Background()

	err := e.Enqueue(ctx, "schedule.deliverEvent", map[string]string{"id": "src-1"}, core.JobOptions{
		JobKey: "schedule:src-1:100",
	})
	require.NoError(t, err)

	// The fire's handler cancels its own recorded key and arms the next fire
	// while its task is still active. Neither call may fail, and the new
	// fire must survive.
	done := make(chan error, 1)
	mux := asynq.NewServeMux()
	mux.HandleFunc("schedule.deliverEvent", func(ctx context.Context, _ *asynq.Task) error {
		if err := e.Dequeue(ctx, "schedule:src-1:100"); err != nil {
			done <- err
			return nil
		}
		done <- e.Enqueue(ctx, "schedule.deliverEvent", map[string]string{"id": "src-1"}, core.JobOptions{
			RunAt:  time.Now().Add(time.Hour),
			JobKey: "schedule:src-1:200",
		})
		return nil
	})

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 1,
		Queues:      map[string]int{QueueDefault: 1},
	})
	require.NoError(t, srv.Start(mux))
	t.Cleanup(srv.Shutdown)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("fire was never processed")
	}

	insp := asynq.NewInspector(redisOpt)
	tasks, err := insp.ListScheduledTasks(QueueDefault)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "schedule:src-1:200", tasks[0].ID)
}

func TestDequeue(t *testing.T) {
	e, insp := newTestEnqueuer(t)
	ctx := context.Background()

	err := e.Enqueue(ctx, "event.deliver", nil, core.JobOptions{JobKey: "event:rec-1"})
	require.NoError(t, err)

	require.NoError(t, e.Dequeue(ctx, "event:rec-1"))
	assert.Empty(t, pendingTaskIDs(t, insp, QueueDefault))

	// Dequeueing a job that was never enqueued is not an error.
	assert.NoError(t, e.Dequeue(ctx, "event:rec-404"))
}
