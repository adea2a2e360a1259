package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/halvard/relay/internal/metrics"
	"github.com/halvard/relay/internal/model"
)

// ingestUpdateThreshold bounds in-place deliver_at updates: a duplicate send
// may only pull delivery earlier when the new deliver_at lands within this
// window, so near-simultaneous duplicates cannot thrash the schedule.
const ingestUpdateThreshold = 5 * time.Second

// RateLimiter gates event delivery scheduling per organization.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// IngestOptions controls delivery timing for an ingested event.
type IngestOptions struct {
	// DeliverAt is an absolute delivery time.
	DeliverAt *time.Time
	// DeliverAfter is a relative delay in seconds, used when DeliverAt is unset.
	DeliverAfter *int
}

type EventIngestService struct {
	db      TxBeginner
	q       Enqueuer
	limiter RateLimiter
	logger  zerolog.Logger
	now     func() time.Time
}

func NewEventIngestService(db TxBeginner, q Enqueuer, limiter RateLimiter, logger zerolog.Logger) *EventIngestService {
	return &EventIngestService{db: db, q: q, limiter: limiter, logger: logger, now: time.Now}
}

// Ingest persists a named event for an environment and schedules its
// delivery. Idempotent per (event_id, environment_id): an undelivered
// duplicate updates the stored record, a delivered duplicate returns the
// existing record unchanged. Organizations with runs disabled produce no
// record at all.
func (s *EventIngestService) Ingest(ctx context.Context, env *model.Environment, event model.RawEvent, opts IngestOptions) (*model.EventRecord, error) {
	var runsEnabled bool
	err := s.db.QueryRow(ctx,
		"SELECT runs_enabled FROM organizations WHERE id = $1", env.OrganizationID,
	).Scan(&runsEnabled)
	if err != nil {
		return nil, fmt.Errorf("load organization %s: %w", env.OrganizationID, err)
	}
	if !runsEnabled {
		s.logger.Debug().Str("organization_id", env.OrganizationID).Str("event", event.Name).
			Msg("runs disabled, skipping event ingestion")
		return nil, nil
	}

	now := s.now().UTC()
	deliverAt := now
	if opts.DeliverAt != nil {
		deliverAt = opts.DeliverAt.UTC()
	} else if opts.DeliverAfter != nil {
		deliverAt = now.Add(time.Duration(*opts.DeliverAfter) * time.Second)
	}

	var record *model.EventRecord
	schedule := false
	err = WithTx(ctx, s.db, func(tx DB) error {
		var perr error
		record, schedule, perr = s.persistEvent(ctx, tx, env, event, deliverAt, now)
		return perr
	})
	if err != nil {
		return nil, err
	}
	if record == nil || !schedule {
		return record, nil
	}

	allowed, err := s.limiter.Allow(ctx, env.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("rate limit check for org %s: %w", env.OrganizationID, err)
	}
	if !allowed {
		// Lossy backpressure: the record is persisted but delivery is never
		// scheduled. See DESIGN.md.
		metrics.EventsDropped.Inc()
		s.logger.Warn().Str("organization_id", env.OrganizationID).
			Str("event_record_id", record.ID).Str("event", record.Name).
			Msg("organization over event rate limit, delivery not scheduled")
		return record, nil
	}

	err = s.q.Enqueue(ctx, JobDeliverEvent, IDPayload{ID: record.ID}, JobOptions{
		RunAt:  record.DeliverAt,
		JobKey: eventDeliveryJobKey(record.ID),
	})
	if err != nil {
		return nil, fmt.Errorf("schedule delivery for event %s: %w", record.ID, err)
	}

	metrics.EventsIngested.Inc()
	return record, nil
}

// IngestBatch persists a set of events for one environment and schedules a
// single batched delivery pass over them. Delivery timing applies to the
// whole batch, which also consumes one rate-limit token.
func (s *EventIngestService) IngestBatch(ctx context.Context, env *model.Environment, events []model.RawEvent, opts IngestOptions) ([]*model.EventRecord, error) {
	var runsEnabled bool
	err := s.db.QueryRow(ctx,
		"SELECT runs_enabled FROM organizations WHERE id = $1", env.OrganizationID,
	).Scan(&runsEnabled)
	if err != nil {
		return nil, fmt.Errorf("load organization %s: %w", env.OrganizationID, err)
	}
	if !runsEnabled {
		s.logger.Debug().Str("organization_id", env.OrganizationID).Int("events", len(events)).
			Msg("runs disabled, skipping event ingestion")
		return nil, nil
	}

	now := s.now().UTC()
	deliverAt := now
	if opts.DeliverAt != nil {
		deliverAt = opts.DeliverAt.UTC()
	} else if opts.DeliverAfter != nil {
		deliverAt = now.Add(time.Duration(*opts.DeliverAfter) * time.Second)
	}

	records := make([]*model.EventRecord, 0, len(events))
	var deliverIDs []string
	err = WithTx(ctx, s.db, func(tx DB) error {
		records = records[:0]
		deliverIDs = nil
		for _, event := range events {
			rec, schedule, err := s.persistEvent(ctx, tx, env, event, deliverAt, now)
			if err != nil {
				return err
			}
			records = append(records, rec)
			if schedule {
				deliverIDs = append(deliverIDs, rec.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(deliverIDs) == 0 {
		return records, nil
	}

	allowed, err := s.limiter.Allow(ctx, env.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("rate limit check for org %s: %w", env.OrganizationID, err)
	}
	if !allowed {
		metrics.EventsDropped.Add(float64(len(deliverIDs)))
		s.logger.Warn().Str("organization_id", env.OrganizationID).Int("events", len(deliverIDs)).
			Msg("organization over event rate limit, batch delivery not scheduled")
		return records, nil
	}

	err = s.q.Enqueue(ctx, JobDeliverEventBatch, DeliverBatchPayload{EventRecordIDs: deliverIDs}, JobOptions{
		RunAt: deliverAt,
	})
	if err != nil {
		return nil, fmt.Errorf("schedule batch delivery of %d events: %w", len(deliverIDs), err)
	}

	metrics.EventsIngested.Add(float64(len(deliverIDs)))
	return records, nil
}

// persistEvent upserts one event record inside an ingestion transaction and
// reports whether its delivery should be (re)scheduled.
func (s *EventIngestService) persistEvent(ctx context.Context, tx DB, env *model.Environment, event model.RawEvent, deliverAt, now time.Time) (*model.EventRecord, bool, error) {
	existing, err := getEventRecordByEventID(ctx, tx, event.ID, env.ID)
	if err != nil {
		return nil, false, err
	}

	switch {
	case existing != nil && existing.DeliveredAt != nil:
		// Already delivered: idempotent no-op.
		return existing, false, nil

	case existing != nil:
		// Undelivered duplicate: payload and context always follow the
		// latest send; deliver_at only moves when the new time is inside
		// the update threshold.
		updateDeliverAt := deliverAt.Before(now.Add(ingestUpdateThreshold))
		if !updateDeliverAt {
			deliverAt = existing.DeliverAt
		}
		_, err := tx.Exec(ctx,
			`UPDATE event_records SET payload = $1, context = $2, deliver_at = $3, is_test = $4, updated_at = now()
			 WHERE id = $5`,
			normalizeJSON(event.Payload), normalizeJSON(event.Context), deliverAt, existing.IsTest, existing.ID,
		)
		if err != nil {
			return nil, false, fmt.Errorf("update event record %s: %w", existing.ID, err)
		}
		existing.Payload = normalizeJSON(event.Payload)
		existing.Context = normalizeJSON(event.Context)
		existing.DeliverAt = deliverAt
		return existing, updateDeliverAt, nil

	default:
		source := event.Source
		if source == "" {
			source = "trigger.dev"
		}
		rec := &model.EventRecord{
			ID:            uuid.NewString(),
			EventID:       event.ID,
			EnvironmentID: env.ID,
			Name:          event.Name,
			Source:        source,
			Payload:       normalizeJSON(event.Payload),
			Context:       normalizeJSON(event.Context),
			DeliverAt:     deliverAt,
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO event_records (id, event_id, environment_id, name, source, payload, context, deliver_at, is_test, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())`,
			rec.ID, rec.EventID, rec.EnvironmentID, rec.Name, rec.Source, rec.Payload, rec.Context, rec.DeliverAt, rec.IsTest,
		)
		if err != nil {
			return nil, false, fmt.Errorf("insert event record %s: %w", event.ID, err)
		}
		return rec, true, nil
	}
}

// CancelDelayedEvent dequeues a not-yet-delivered event's delivery job.
// Already-delivered events are left untouched.
func (s *EventIngestService) CancelDelayedEvent(ctx context.Context, eventRecordID string) error {
	var deliveredAt *time.Time
	err := s.db.QueryRow(ctx,
		"SELECT delivered_at FROM event_records WHERE id = $1", eventRecordID,
	).Scan(&deliveredAt)
	if err != nil {
		return fmt.Errorf("load event record %s: %w", eventRecordID, err)
	}
	if deliveredAt != nil {
		return fmt.Errorf("event record %s already delivered", eventRecordID)
	}
	if err := s.q.Dequeue(ctx, eventDeliveryJobKey(eventRecordID)); err != nil {
		return fmt.Errorf("dequeue delivery for event %s: %w", eventRecordID, err)
	}
	return nil
}

func getEventRecordByEventID(ctx context.Context, db DB, eventID, environmentID string) (*model.EventRecord, error) {
	var rec model.EventRecord
	err := db.QueryRow(ctx,
		`SELECT id, event_id, environment_id, name, source, payload, context, external_account_id, deliver_at, delivered_at, is_test, created_at, updated_at
		 FROM event_records WHERE event_id = $1 AND environment_id = $2`,
		eventID, environmentID,
	).Scan(&rec.ID, &rec.EventID, &rec.EnvironmentID, &rec.Name, &rec.Source, &rec.Payload, &rec.Context,
		&rec.ExternalAccountID, &rec.DeliverAt, &rec.DeliveredAt, &rec.IsTest, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get event record %s: %w", eventID, err)
	}
	return &rec, nil
}
