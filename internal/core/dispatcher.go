package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/halvard/relay/internal/endpoint"
	"github.com/halvard/relay/internal/model"
)

// EndpointClient speaks the typed protocol to user-deployed endpoints.
// *endpoint.Client satisfies it.
type EndpointClient interface {
	Ping(ctx context.Context, url string) error
	ExecuteJob(ctx context.Context, url string, req endpoint.ExecuteJobRequest) (*endpoint.RunResponse, error)
	PreprocessRun(ctx context.Context, url string, req endpoint.PreprocessRunRequest) (*endpoint.PreprocessRunResponse, error)
	DeliverEvent(ctx context.Context, url string, event endpoint.EventPayload) error
}

type DispatcherService struct {
	db   TxBeginner
	q    Enqueuer
	ec   EndpointClient
	runs *RunService
}

func NewDispatcherService(db TxBeginner, q Enqueuer, ec EndpointClient, runs *RunService) *DispatcherService {
	return &DispatcherService{db: db, q: q, ec: ec, runs: runs}
}

// Register creates or re-enables a dispatcher for a subscription key. Job
// registration calls this on every endpoint sync.
func (s *DispatcherService) Register(ctx context.Context, d *model.EventDispatcher) error {
	if err := d.Dispatchable.Validate(); err != nil {
		return fmt.Errorf("register dispatcher: %w", err)
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO event_dispatchers (id, environment_id, event_names, source, payload_filter, context_filter, external_account_id, manual, enabled, batch, dispatchable, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
		 ON CONFLICT (id) DO UPDATE SET event_names = EXCLUDED.event_names, source = EXCLUDED.source,
		   payload_filter = EXCLUDED.payload_filter, context_filter = EXCLUDED.context_filter,
		   enabled = EXCLUDED.enabled, batch = EXCLUDED.batch, dispatchable = EXCLUDED.dispatchable,
		   updated_at = now()`,
		d.ID, d.EnvironmentID, d.EventNames, d.Source, normalizeJSON(d.PayloadFilter),
		normalizeJSON(d.ContextFilter), d.ExternalAccountID, d.Manual, d.Enabled, d.Batch, d.Dispatchable,
	)
	if err != nil {
		return fmt.Errorf("register dispatcher %s: %w", d.ID, err)
	}
	return nil
}

// Disable turns a dispatcher off without deleting it.
func (s *DispatcherService) Disable(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx,
		"UPDATE event_dispatchers SET enabled = false, updated_at = now() WHERE id = $1", id,
	)
	if err != nil {
		return fmt.Errorf("disable dispatcher %s: %w", id, err)
	}
	return nil
}

// Invoke acts on a matched dispatcher for the given event records: creating
// runs for job-version targets, or handing the events to the endpoint for
// dynamic and ephemeral targets. Disabled dispatchers no-op so a dangling
// invocation job cannot resurrect a removed subscription.
func (s *DispatcherService) Invoke(ctx context.Context, dispatcherID string, eventRecordIDs []string) error {
	d, err := s.getDispatcher(ctx, dispatcherID)
	if err != nil {
		return err
	}
	if !d.Enabled {
		return nil
	}

	switch d.Dispatchable.Type {
	case model.DispatchableJobVersion:
		for _, eventID := range eventRecordIDs {
			record, err := getEventRecord(ctx, s.db, eventID)
			if err != nil {
				return err
			}
			if _, err := s.runs.Create(ctx, d.Dispatchable.VersionID, record); err != nil {
				return fmt.Errorf("create run for dispatcher %s: %w", dispatcherID, err)
			}
		}
		return nil

	case model.DispatchableDynamicTrigger:
		var endpointURL string
		err := s.db.QueryRow(ctx,
			`SELECT e.url FROM dynamic_triggers dt JOIN endpoints e ON e.id = dt.endpoint_id WHERE dt.id = $1`,
			d.Dispatchable.DynamicTriggerID,
		).Scan(&endpointURL)
		if err != nil {
			return fmt.Errorf("resolve dynamic trigger %s: %w", d.Dispatchable.DynamicTriggerID, err)
		}
		return s.deliverToEndpoint(ctx, endpointURL, eventRecordIDs)

	case model.DispatchableEphemeral:
		var endpointURL string
		err := s.db.QueryRow(ctx,
			"SELECT url FROM endpoints WHERE id = $1", d.Dispatchable.EndpointID,
		).Scan(&endpointURL)
		if err != nil {
			return fmt.Errorf("resolve endpoint %s: %w", d.Dispatchable.EndpointID, err)
		}
		return s.deliverToEndpoint(ctx, endpointURL, eventRecordIDs)

	default:
		return fmt.Errorf("dispatcher %s has unknown dispatchable type %q", dispatcherID, d.Dispatchable.Type)
	}
}

func (s *DispatcherService) deliverToEndpoint(ctx context.Context, url string, eventRecordIDs []string) error {
	for _, eventID := range eventRecordIDs {
		record, err := getEventRecord(ctx, s.db, eventID)
		if err != nil {
			return err
		}
		if err := s.ec.DeliverEvent(ctx, url, eventPayloadFromRecord(record)); err != nil {
			return fmt.Errorf("deliver event %s to endpoint: %w", eventID, err)
		}
	}
	return nil
}

func (s *DispatcherService) getDispatcher(ctx context.Context, id string) (*model.EventDispatcher, error) {
	var d model.EventDispatcher
	err := s.db.QueryRow(ctx,
		`SELECT id, environment_id, event_names, source, payload_filter, context_filter, external_account_id, manual, enabled, batch, dispatchable, created_at, updated_at
		 FROM event_dispatchers WHERE id = $1`, id,
	).Scan(&d.ID, &d.EnvironmentID, &d.EventNames, &d.Source, &d.PayloadFilter, &d.ContextFilter,
		&d.ExternalAccountID, &d.Manual, &d.Enabled, &d.Batch, &d.Dispatchable, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get dispatcher %s: %w", id, err)
	}
	return &d, nil
}

func eventPayloadFromRecord(record *model.EventRecord) endpoint.EventPayload {
	return endpoint.EventPayload{
		ID:        record.EventID,
		Name:      record.Name,
		Source:    record.Source,
		Payload:   record.Payload,
		Context:   record.Context,
		Timestamp: record.CreatedAt,
	}
}
