package model

import (
	"encoding/json"
	"time"
)

// Task is a durable checkpoint emitted by user code mid-run. A run parked on
// a task is resumed later by replaying the accumulated completed task outputs
// to the endpoint.
type Task struct {
	ID         string          `json:"id"`
	RunID      string          `json:"run_id"`
	Status     string          `json:"status"`
	Noop       bool            `json:"noop"`
	Output     json.RawMessage `json:"output,omitempty"`
	DelayUntil *time.Time      `json:"delay_until,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// CachedTask is the replay representation of a completed task sent back to
// the endpoint so user code can skip already-executed side effects.
type CachedTask struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Noop   bool            `json:"noop"`
	Output json.RawMessage `json:"output,omitempty"`
}
