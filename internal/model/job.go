package model

import (
	"encoding/json"
	"time"
)

// Job is a named unit of user code reachable through an endpoint.
type Job struct {
	ID            string    `json:"id"`
	EnvironmentID string    `json:"environment_id"`
	Identifier    string    `json:"identifier"`
	Title         string    `json:"title"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// JobVersion pins one registered version of a job: which event triggers it,
// which endpoint executes it, which queue admits it, and whether the run
// goes through a PREPROCESS phase first.
type JobVersion struct {
	ID            string          `json:"id"`
	JobID         string          `json:"job_id"`
	EnvironmentID string          `json:"environment_id"`
	Version       string          `json:"version"`
	EventName     string          `json:"event_name"`
	EventSource   string          `json:"event_source"`
	Preprocess    bool            `json:"preprocess"`
	QueueID       string          `json:"queue_id"`
	EndpointID    string          `json:"endpoint_id"`
	Connections   json.RawMessage `json:"connections,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ConnectionRequirements decodes the version's declared connection slots.
func (v *JobVersion) ConnectionRequirements() ([]ConnectionRequirement, error) {
	if len(v.Connections) == 0 {
		return nil, nil
	}
	var reqs []ConnectionRequirement
	if err := json.Unmarshal(v.Connections, &reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}
