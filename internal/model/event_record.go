package model

import (
	"encoding/json"
	"time"
)

// EventRecord is an ingested event. (event_id, environment_id) is unique;
// re-sending before delivery updates the row in place, after delivery it is
// a no-op returning the existing record.
type EventRecord struct {
	ID                string          `json:"id"`
	EventID           string          `json:"event_id"`
	EnvironmentID     string          `json:"environment_id"`
	Name              string          `json:"name"`
	Source            string          `json:"source"`
	Payload           json.RawMessage `json:"payload,omitempty"`
	Context           json.RawMessage `json:"context,omitempty"`
	ExternalAccountID *string         `json:"external_account_id,omitempty"`
	DeliverAt         time.Time       `json:"deliver_at"`
	DeliveredAt       *time.Time      `json:"delivered_at,omitempty"`
	IsTest            bool            `json:"is_test"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// RawEvent is the wire shape of an event at ingestion time, and the shape a
// finished run may return under {"events": [...]} to emit follow-up events.
type RawEvent struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Source  string          `json:"source,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Context json.RawMessage `json:"context,omitempty"`
}
