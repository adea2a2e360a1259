package core

import (
	"context"
	"fmt"
	"time"
)

// Worker job names. Every cross-run operation is expressed as one of these
// enqueued on the external durable queue, never as an in-process wait.
const (
	JobDeliverEvent          = "event.deliver"
	JobDeliverEventBatch     = "event.deliverBatch"
	JobInvokeDispatcher      = "event.invokeDispatcher"
	JobStartRun              = "run.start"
	JobExecuteRun            = "run.execute"
	JobResumeTask            = "task.resume"
	JobRunFinished           = "run.finished"
	JobStartQueuedRuns       = "queue.startQueuedRuns"
	JobNextScheduledEvent    = "schedule.nextEvent"
	JobDeliverScheduledEvent = "schedule.deliverEvent"
)

// JobOptions controls placement of an enqueued job. The zero value means
// run immediately on the default queue with the queue's default retry
// policy and no dedup key.
type JobOptions struct {
	// RunAt delays processing until the given time.
	RunAt time.Time
	// Queue names a serialized worker queue. Jobs sharing a queue name are
	// processed one at a time in enqueue order.
	Queue string
	// JobKey deduplicates: re-enqueuing with the same key replaces the
	// previously scheduled job.
	JobKey string
	// MaxAttempts caps queue-level redelivery of the job itself.
	MaxAttempts int
}

// Enqueuer is the external job-queue capability. Delivery is at-least-once;
// handlers defend with status guards.
type Enqueuer interface {
	Enqueue(ctx context.Context, job string, payload any, opts JobOptions) error
	Dequeue(ctx context.Context, jobKey string) error
}

// eventDeliveryJobKey builds the dedup key for an event's delivery job.
func eventDeliveryJobKey(eventRecordID string) string {
	return fmt.Sprintf("event:%s", eventRecordID)
}

// runQueueName serializes queued-run promotion per job queue.
func runQueueName(queueID string) string {
	return fmt.Sprintf("job-queue:%s", queueID)
}

// IDPayload is the payload for jobs addressed by a single row id.
type IDPayload struct {
	ID string `json:"id"`
}

// InvokeDispatcherPayload addresses a dispatcher with the event records to
// hand it. Non-batch dispatchers receive exactly one id per invocation.
type InvokeDispatcherPayload struct {
	DispatcherID   string   `json:"dispatcher_id"`
	EventRecordIDs []string `json:"event_record_ids"`
}

// DeliverBatchPayload carries the event records of one batched delivery pass.
type DeliverBatchPayload struct {
	EventRecordIDs []string `json:"event_record_ids"`
}
