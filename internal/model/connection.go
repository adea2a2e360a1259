package model

import (
	"encoding/json"
	"time"
)

// APIConnection is a stored third-party credential. DEVELOPER connections
// are shared per environment; EXTERNAL connections are keyed by the end
// user's external account id.
type APIConnection struct {
	ID                string          `json:"id"`
	EnvironmentID     string          `json:"environment_id"`
	ClientID          string          `json:"client_id"`
	ConnectionType    string          `json:"connection_type"`
	ExternalAccountID *string         `json:"external_account_id,omitempty"`
	Credentials       json.RawMessage `json:"credentials"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// ResolvedConnection is the live credential object handed to the endpoint.
type ResolvedConnection struct {
	Key         string          `json:"key"`
	ClientID    string          `json:"client_id"`
	Credentials json.RawMessage `json:"credentials"`
}

// MissingConnection records a connection a run needed but could not resolve.
// Deduplicated by (client_id, connection_type, external_account_id); the run
// that creates the row triggers a missing-connection notification event.
type MissingConnection struct {
	ID                string    `json:"id"`
	ClientID          string    `json:"client_id"`
	ConnectionType    string    `json:"connection_type"`
	ExternalAccountID *string   `json:"external_account_id,omitempty"`
	Resolved          bool      `json:"resolved"`
	CreatedAt         time.Time `json:"created_at"`
}

// ConnectionRequirement is a job version's declared connection slot.
type ConnectionRequirement struct {
	Key            string `json:"key"`
	ClientID       string `json:"client_id"`
	ConnectionType string `json:"connection_type"`
}
