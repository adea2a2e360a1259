package request

import (
	"encoding/json"
	"time"
)

// SendEvent is the body of POST /events.
type SendEvent struct {
	ID      string          `json:"id" validate:"required"`
	Name    string          `json:"name" validate:"required,eventname"`
	Source  string          `json:"source,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Context json.RawMessage `json:"context,omitempty"`
	// DeliverAt schedules delivery at an absolute time.
	DeliverAt *time.Time `json:"deliver_at,omitempty"`
	// DeliverAfter schedules delivery after a relative number of seconds.
	DeliverAfter *int `json:"deliver_after,omitempty" validate:"omitempty,min=0"`
}

// SendEventBatch is the body of POST /events/batch. All events in the batch
// share the delivery timing options.
type SendEventBatch struct {
	Events []SendEvent `json:"events" validate:"required,min=1,max=100,dive"`
	// DeliverAt schedules delivery of the whole batch at an absolute time.
	DeliverAt *time.Time `json:"deliver_at,omitempty"`
	// DeliverAfter schedules delivery after a relative number of seconds.
	DeliverAfter *int `json:"deliver_after,omitempty" validate:"omitempty,min=0"`
}

// RegisterDispatcher is the body of POST /dispatchers.
type RegisterDispatcher struct {
	EventNames        []string        `json:"event_names" validate:"required,min=1,dive,eventname"`
	Source            string          `json:"source" validate:"required"`
	PayloadFilter     json.RawMessage `json:"payload_filter,omitempty"`
	ContextFilter     json.RawMessage `json:"context_filter,omitempty"`
	ExternalAccountID *string         `json:"external_account_id,omitempty"`
	Manual            bool            `json:"manual"`
	Batch             bool            `json:"batch"`
	Dispatchable      struct {
		Type             string `json:"type" validate:"required,oneof=JOB_VERSION DYNAMIC_TRIGGER EPHEMERAL"`
		VersionID        string `json:"version_id,omitempty"`
		DynamicTriggerID string `json:"dynamic_trigger_id,omitempty"`
		EndpointID       string `json:"endpoint_id,omitempty"`
	} `json:"dispatchable"`
}

// RegisterSchedule is the body of POST /schedules.
type RegisterSchedule struct {
	DispatcherID string `json:"dispatcher_id" validate:"required"`
	Key          string `json:"key" validate:"required"`
	ScheduleType string `json:"schedule_type" validate:"required,oneof=interval cron"`
	ScheduleExpr string `json:"schedule_expr" validate:"required"`
}

// CreateConnection is the body of POST /connections.
type CreateConnection struct {
	ClientID          string          `json:"client_id" validate:"required"`
	ConnectionType    string          `json:"connection_type" validate:"required,oneof=DEVELOPER EXTERNAL"`
	ExternalAccountID *string         `json:"external_account_id,omitempty"`
	Credentials       json.RawMessage `json:"credentials" validate:"required"`
}

// RegisterEndpoint is the body of POST /endpoints.
type RegisterEndpoint struct {
	Slug string `json:"slug" validate:"required"`
	URL  string `json:"url" validate:"required,url"`
}

// CompleteTask is the body of POST /tasks/{taskID}/complete.
type CompleteTask struct {
	Output json.RawMessage `json:"output,omitempty"`
}
