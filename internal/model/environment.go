package model

import "time"

// Organization owns environments. Organizations with runs disabled have
// their event ingestion short-circuited.
type Organization struct {
	ID          string    `json:"id"`
	Slug        string    `json:"slug"`
	RunsEnabled bool      `json:"runs_enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Environment is an isolated event/run namespace (dev, staging, prod)
// authenticated by its API key.
type Environment struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Slug           string    `json:"slug"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Endpoint is the user's deployed HTTP service that runs job code.
type Endpoint struct {
	ID            string    `json:"id"`
	EnvironmentID string    `json:"environment_id"`
	Slug          string    `json:"slug"`
	URL           string    `json:"url"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
