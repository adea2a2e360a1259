package model

import "time"

// DynamicTrigger is a runtime-registered trigger slot on an endpoint.
// Dispatchers targeting it hand matched events to the endpoint for the
// endpoint to route to whichever jobs registered against the slot.
type DynamicTrigger struct {
	ID            string    `json:"id"`
	EnvironmentID string    `json:"environment_id"`
	EndpointID    string    `json:"endpoint_id"`
	Slug          string    `json:"slug"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
