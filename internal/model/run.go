package model

import (
	"encoding/json"
	"time"
)

// Run is one execution of a job version against a triggering event. Once
// completed_at is set the row is immutable apart from appended executions.
type Run struct {
	ID                string          `json:"id"`
	EnvironmentID     string          `json:"environment_id"`
	VersionID         string          `json:"version_id"`
	EventID           string          `json:"event_id"`
	QueueID           string          `json:"queue_id"`
	Status            string          `json:"status"`
	ExternalAccountID *string         `json:"external_account_id,omitempty"`
	QueuedAt          *time.Time      `json:"queued_at,omitempty"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	Output            json.RawMessage `json:"output,omitempty"`
	IsTest            bool            `json:"is_test"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// RunError is the terminal output shape for failed runs.
type RunError struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}
