package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Dispatchable type tags.
const (
	DispatchableJobVersion     = "JOB_VERSION"
	DispatchableDynamicTrigger = "DYNAMIC_TRIGGER"
	DispatchableEphemeral      = "EPHEMERAL"
)

// EventDispatcher is a standing subscription matching events by name and
// source, with optional deep-subset payload/context filters. Dispatchers are
// disabled rather than deleted on removal.
type EventDispatcher struct {
	ID                string          `json:"id"`
	EnvironmentID     string          `json:"environment_id"`
	EventNames        []string        `json:"event_names"`
	Source            string          `json:"source"`
	PayloadFilter     json.RawMessage `json:"payload_filter,omitempty"`
	ContextFilter     json.RawMessage `json:"context_filter,omitempty"`
	ExternalAccountID *string         `json:"external_account_id,omitempty"`
	Manual            bool            `json:"manual"`
	Enabled           bool            `json:"enabled"`
	Batch             bool            `json:"batch"`
	Dispatchable      Dispatchable    `json:"dispatchable"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Dispatchable is the tagged union of dispatch targets. Exactly one of the
// id fields is meaningful, selected by Type.
type Dispatchable struct {
	Type             string `json:"type"`
	VersionID        string `json:"version_id,omitempty"`
	DynamicTriggerID string `json:"dynamic_trigger_id,omitempty"`
	EndpointID       string `json:"endpoint_id,omitempty"`
}

// Validate checks the tag and that the matching id field is set.
func (d Dispatchable) Validate() error {
	switch d.Type {
	case DispatchableJobVersion:
		if d.VersionID == "" {
			return fmt.Errorf("dispatchable %s requires version_id", d.Type)
		}
	case DispatchableDynamicTrigger:
		if d.DynamicTriggerID == "" {
			return fmt.Errorf("dispatchable %s requires dynamic_trigger_id", d.Type)
		}
	case DispatchableEphemeral:
		if d.EndpointID == "" {
			return fmt.Errorf("dispatchable %s requires endpoint_id", d.Type)
		}
	default:
		return fmt.Errorf("unknown dispatchable type %q", d.Type)
	}
	return nil
}
