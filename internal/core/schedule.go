package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/halvard/relay/internal/model"
)

// ScheduledEventName is the name of events created by schedule sources.
const ScheduledEventName = "trigger.scheduled"

type ScheduleService struct {
	db  TxBeginner
	q   Enqueuer
	now func() time.Time
}

func NewScheduleService(db TxBeginner, q Enqueuer) *ScheduleService {
	return &ScheduleService{db: db, q: q, now: time.Now}
}

// Register stores a schedule source and arms its first fire.
func (s *ScheduleService) Register(ctx context.Context, source *model.ScheduleSource) error {
	if source.ID == "" {
		source.ID = uuid.NewString()
	}
	if _, err := s.nextFireTime(source, s.now().UTC()); err != nil {
		return fmt.Errorf("register schedule %s: %w", source.Key, err)
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO schedule_sources (id, environment_id, dispatcher_id, key, schedule_type, schedule_expr, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, true, now(), now())
		 ON CONFLICT (environment_id, key) DO UPDATE SET schedule_type = EXCLUDED.schedule_type,
		   schedule_expr = EXCLUDED.schedule_expr, dispatcher_id = EXCLUDED.dispatcher_id,
		   active = true, updated_at = now()`,
		source.ID, source.EnvironmentID, source.DispatcherID, source.Key, source.ScheduleType, source.ScheduleExpr,
	)
	if err != nil {
		return fmt.Errorf("register schedule %s: %w", source.Key, err)
	}
	return s.NextScheduledEvent(ctx, source.ID)
}

// Deactivate stops a schedule source and cancels its pending fire by the
// recorded job key. This is the only explicit cancellation path in the
// system.
func (s *ScheduleService) Deactivate(ctx context.Context, sourceID string) error {
	var jobKey *string
	err := s.db.QueryRow(ctx,
		"UPDATE schedule_sources SET active = false, updated_at = now() WHERE id = $1 RETURNING delivery_job_key",
		sourceID,
	).Scan(&jobKey)
	if err != nil {
		return fmt.Errorf("deactivate schedule %s: %w", sourceID, err)
	}
	if jobKey != nil {
		if err := s.q.Dequeue(ctx, *jobKey); err != nil {
			return fmt.Errorf("dequeue schedule %s: %w", sourceID, err)
		}
	}
	return nil
}

// NextScheduledEvent computes the source's next fire time and enqueues the
// fire there. Candidates are advanced until strictly in the future, so a
// source whose last fire is days stale (worker downtime) produces one future
// fire instead of a backlog of past-due ones.
func (s *ScheduleService) NextScheduledEvent(ctx context.Context, sourceID string) error {
	source, err := getScheduleSource(ctx, s.db, sourceID)
	if err != nil {
		return err
	}
	if !source.Active {
		return nil
	}

	now := s.now().UTC()
	base := now
	if source.LastEventAt != nil {
		base = source.LastEventAt.UTC()
	}

	next, err := s.nextFireTime(source, base)
	if err != nil {
		return err
	}
	for !next.After(now) {
		next, err = s.nextFireTime(source, next)
		if err != nil {
			return err
		}
	}

	// Fire keys carry the fire time, so the re-arm that runs inside a fire's
	// own job targets a fresh key instead of the one currently held by that
	// job. Any earlier fire still pending under the recorded key is replaced
	// explicitly before the new one is armed.
	if source.DeliveryJobKey != nil {
		if err := s.q.Dequeue(ctx, *source.DeliveryJobKey); err != nil {
			return fmt.Errorf("dequeue stale fire for schedule %s: %w", source.ID, err)
		}
	}

	jobKey := scheduleJobKey(source.ID, next)
	err = s.q.Enqueue(ctx, JobDeliverScheduledEvent, IDPayload{ID: source.ID}, JobOptions{
		RunAt:  next,
		JobKey: jobKey,
	})
	if err != nil {
		return fmt.Errorf("arm schedule %s: %w", source.ID, err)
	}

	_, err = s.db.Exec(ctx,
		"UPDATE schedule_sources SET delivery_job_key = $1, updated_at = now() WHERE id = $2",
		jobKey, source.ID,
	)
	if err != nil {
		return fmt.Errorf("record job key for schedule %s: %w", source.ID, err)
	}
	return nil
}

// DeliverScheduledEvent fires a schedule: it creates the scheduled event
// record, hands it straight to the bound dispatcher, and re-arms the source.
func (s *ScheduleService) DeliverScheduledEvent(ctx context.Context, sourceID string) error {
	source, err := getScheduleSource(ctx, s.db, sourceID)
	if err != nil {
		return err
	}
	if !source.Active {
		return nil
	}

	now := s.now().UTC()
	payload, err := json.Marshal(map[string]any{
		"timestamp":      now,
		"last_timestamp": source.LastEventAt,
	})
	if err != nil {
		return fmt.Errorf("marshal scheduled payload: %w", err)
	}

	recordID := uuid.NewString()
	err = WithTx(ctx, s.db, func(tx DB) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO event_records (id, event_id, environment_id, name, source, payload, context, deliver_at, delivered_at, is_test, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, '{}', $7, $7, false, now(), now())`,
			recordID, fmt.Sprintf("scheduled:%s:%d", source.Key, now.Unix()),
			source.EnvironmentID, ScheduledEventName, "trigger.dev", payload, now,
		)
		if err != nil {
			return fmt.Errorf("insert scheduled event for %s: %w", source.Key, err)
		}
		_, err = tx.Exec(ctx,
			"UPDATE schedule_sources SET last_event_at = $1, updated_at = now() WHERE id = $2",
			now, source.ID,
		)
		if err != nil {
			return fmt.Errorf("record fire time for schedule %s: %w", source.ID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Scheduled events bypass matching: they go straight to the dispatcher
	// the source is bound to.
	err = s.q.Enqueue(ctx, JobInvokeDispatcher, InvokeDispatcherPayload{
		DispatcherID:   source.DispatcherID,
		EventRecordIDs: []string{recordID},
	}, JobOptions{Queue: dispatcherQueueName(source.DispatcherID)})
	if err != nil {
		return fmt.Errorf("enqueue dispatcher for schedule %s: %w", source.ID, err)
	}

	return s.NextScheduledEvent(ctx, source.ID)
}

func (s *ScheduleService) nextFireTime(source *model.ScheduleSource, after time.Time) (time.Time, error) {
	switch source.ScheduleType {
	case model.ScheduleTypeInterval:
		seconds, err := strconv.Atoi(source.ScheduleExpr)
		if err != nil || seconds <= 0 {
			return time.Time{}, fmt.Errorf("schedule %s has invalid interval %q", source.Key, source.ScheduleExpr)
		}
		return after.Add(time.Duration(seconds) * time.Second), nil
	case model.ScheduleTypeCron:
		spec, err := cron.ParseStandard(source.ScheduleExpr)
		if err != nil {
			return time.Time{}, fmt.Errorf("schedule %s has invalid cron expression %q: %w", source.Key, source.ScheduleExpr, err)
		}
		return spec.Next(after), nil
	default:
		return time.Time{}, fmt.Errorf("schedule %s has unknown type %q", source.Key, source.ScheduleType)
	}
}

func scheduleJobKey(sourceID string, fireAt time.Time) string {
	return fmt.Sprintf("schedule:%s:%d", sourceID, fireAt.Unix())
}

func getScheduleSource(ctx context.Context, db DB, id string) (*model.ScheduleSource, error) {
	var src model.ScheduleSource
	err := db.QueryRow(ctx,
		`SELECT id, environment_id, dispatcher_id, key, schedule_type, schedule_expr, last_event_at, active, delivery_job_key, created_at, updated_at
		 FROM schedule_sources WHERE id = $1`, id,
	).Scan(&src.ID, &src.EnvironmentID, &src.DispatcherID, &src.Key, &src.ScheduleType, &src.ScheduleExpr,
		&src.LastEventAt, &src.Active, &src.DeliveryJobKey, &src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get schedule source %s: %w", id, err)
	}
	return &src, nil
}
