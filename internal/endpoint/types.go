package endpoint

import (
	"encoding/json"
	"time"

	"github.com/halvard/relay/internal/model"
)

// ActionHeader carries the protocol action on every request to an endpoint.
const ActionHeader = "x-trigger-action"

// Protocol actions.
const (
	ActionPing                     = "PING"
	ActionExecuteJob               = "EXECUTE_JOB"
	ActionPreprocessRun            = "PREPROCESS_RUN"
	ActionDeliverEvent             = "DELIVER_EVENT"
	ActionInitializeTrigger        = "INITIALIZE_TRIGGER"
	ActionDeliverHTTPSourceRequest = "DELIVER_HTTP_SOURCE_REQUEST"
)

// Run response statuses returned by user code.
const (
	StatusSuccess        = "SUCCESS"
	StatusResumeWithTask = "RESUME_WITH_TASK"
	StatusError          = "ERROR"
	StatusAborted        = "ABORTED"
)

// JobIdentity names the job version being executed.
type JobIdentity struct {
	ID      string `json:"id" validate:"required"`
	Version string `json:"version" validate:"required"`
}

// RunContext is the run metadata sent with every execution request.
type RunContext struct {
	ID                string     `json:"id" validate:"required"`
	IsTest            bool       `json:"is_test"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	ExternalAccountID string     `json:"external_account_id,omitempty"`
}

// EventPayload is the triggering event as the endpoint sees it.
type EventPayload struct {
	ID        string          `json:"id" validate:"required"`
	Name      string          `json:"name" validate:"required"`
	Source    string          `json:"source"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Context   json.RawMessage `json:"context,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ExecuteJobRequest is the EXECUTE_JOB request body. Tasks carries the
// completed-task cache so user code can skip side effects on replay.
type ExecuteJobRequest struct {
	Event       EventPayload                        `json:"event"`
	Job         JobIdentity                         `json:"job"`
	Run         RunContext                          `json:"run"`
	Connections map[string]model.ResolvedConnection `json:"connections,omitempty"`
	Tasks       []model.CachedTask                  `json:"tasks,omitempty"`
}

// TaskSpec describes the durable checkpoint a run parked on.
type TaskSpec struct {
	ID         string          `json:"id" validate:"required"`
	Noop       bool            `json:"noop"`
	Output     json.RawMessage `json:"output,omitempty"`
	DelayUntil *time.Time      `json:"delay_until,omitempty"`
}

// RunResponse is the EXECUTE_JOB response body.
type RunResponse struct {
	Status string          `json:"status" validate:"required,oneof=SUCCESS RESUME_WITH_TASK ERROR"`
	Output json.RawMessage `json:"output,omitempty"`
	Task   *TaskSpec       `json:"task,omitempty"`
	Error  *model.RunError `json:"error,omitempty"`
}

// PreprocessRunRequest is the PREPROCESS_RUN request body.
type PreprocessRunRequest struct {
	Event EventPayload `json:"event"`
	Job   JobIdentity  `json:"job"`
	Run   RunContext   `json:"run"`
}

// PreprocessRunResponse is the PREPROCESS_RUN response body. Abort rejects
// the run during preprocessing; the run finishes as ABORTED.
type PreprocessRunResponse struct {
	Abort      bool            `json:"abort"`
	Properties json.RawMessage `json:"properties,omitempty"`
}

// PingResponse is the PING response body.
type PingResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
