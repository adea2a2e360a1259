package model

import "time"

// Schedule types.
const (
	ScheduleTypeInterval = "interval"
	ScheduleTypeCron     = "cron"
)

// ScheduleSource is a cron or interval definition bound to a dispatcher.
// Each fire creates an EventRecord; delivery_job_key records the pending
// delivery job so deactivation can dequeue it.
type ScheduleSource struct {
	ID            string     `json:"id"`
	EnvironmentID string     `json:"environment_id"`
	DispatcherID  string     `json:"dispatcher_id"`
	Key           string     `json:"key"`
	ScheduleType  string     `json:"schedule_type"`
	// ScheduleExpr is a cron expression for cron sources, or the interval in
	// seconds (decimal string) for interval sources.
	ScheduleExpr   string     `json:"schedule_expr"`
	LastEventAt    *time.Time `json:"last_event_at,omitempty"`
	Active         bool       `json:"active"`
	DeliveryJobKey *string    `json:"delivery_job_key,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
