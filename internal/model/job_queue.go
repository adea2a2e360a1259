package model

import "time"

// JobQueue is a per-environment concurrency-limited admission gate for runs.
// job_count is mutated only inside the same transaction as the run state
// transition that justifies it.
type JobQueue struct {
	ID            string    `json:"id"`
	EnvironmentID string    `json:"environment_id"`
	Name          string    `json:"name"`
	JobCount      int       `json:"job_count"`
	MaxJobs       int       `json:"max_jobs"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
