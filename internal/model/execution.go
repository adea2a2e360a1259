package model

import "time"

// Execution is one attempt at advancing a run through a protocol phase,
// either PREPROCESS or EXECUTE_JOB. A run has at most one non-terminal
// execution at a time.
type Execution struct {
	ID           string     `json:"id"`
	RunID        string     `json:"run_id"`
	Reason       string     `json:"reason"`
	Status       string     `json:"status"`
	RetryCount   int        `json:"retry_count"`
	RetryLimit   int        `json:"retry_limit"`
	RetryDelayMS int        `json:"retry_delay_ms"`
	ResumeTaskID *string    `json:"resume_task_id,omitempty"`
	Error        *string    `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}
