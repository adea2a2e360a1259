package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/halvard/relay/internal/metrics"
	"github.com/halvard/relay/internal/model"
)

type EventDeliveryService struct {
	db TxBeginner
	q  Enqueuer
}

func NewEventDeliveryService(db TxBeginner, q Enqueuer) *EventDeliveryService {
	return &EventDeliveryService{db: db, q: q}
}

// Deliver matches one event record against the environment's dispatchers and
// enqueues their invocation. The delivered_at claim is an optimistic
// single-row update: the loser of a duplicate delivery race observes zero
// affected rows and invokes nothing, so each event gets at most one dispatch
// pass.
func (s *EventDeliveryService) Deliver(ctx context.Context, eventRecordID string) error {
	record, err := getEventRecord(ctx, s.db, eventRecordID)
	if err != nil {
		return err
	}
	if record.DeliveredAt != nil {
		return nil
	}

	dispatchers, err := s.matchDispatchers(ctx, record)
	if err != nil {
		return err
	}

	claimed, err := s.claimDelivery(ctx, record.ID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	for _, d := range dispatchers {
		err := s.q.Enqueue(ctx, JobInvokeDispatcher, InvokeDispatcherPayload{
			DispatcherID:   d.ID,
			EventRecordIDs: []string{record.ID},
		}, JobOptions{Queue: dispatcherQueueName(d.ID)})
		if err != nil {
			// Give the claim back, otherwise the redelivery that follows
			// this error no-ops on the delivered guard and the remaining
			// dispatchers are never invoked.
			enqErr := fmt.Errorf("enqueue dispatcher %s for event %s: %w", d.ID, record.ID, err)
			if uerr := s.unclaimDelivery(ctx, record.ID); uerr != nil {
				return errors.Join(enqErr, uerr)
			}
			return enqErr
		}
	}

	metrics.EventsDelivered.Inc()
	return nil
}

// DeliverBatch performs the same matching across a set of event records
// sharing one environment. Batch dispatchers are invoked once with every
// matching event id; non-batch dispatchers are invoked per event in arrival
// order, trading throughput for ordering.
func (s *EventDeliveryService) DeliverBatch(ctx context.Context, eventRecordIDs []string) error {
	type match struct {
		dispatcher model.EventDispatcher
		eventIDs   []string
	}
	matches := map[string]*match{}
	var order []string
	var claimedIDs []string

	// An incomplete enqueue pass reopens every record claimed here so the
	// whole batch can be redelivered.
	unclaimAll := func(cause error) error {
		for _, id := range claimedIDs {
			if uerr := s.unclaimDelivery(ctx, id); uerr != nil {
				cause = errors.Join(cause, uerr)
			}
		}
		return cause
	}

	for _, id := range eventRecordIDs {
		record, err := getEventRecord(ctx, s.db, id)
		if err != nil {
			return err
		}
		if record.DeliveredAt != nil {
			continue
		}

		dispatchers, err := s.matchDispatchers(ctx, record)
		if err != nil {
			return err
		}

		claimed, err := s.claimDelivery(ctx, record.ID)
		if err != nil {
			return err
		}
		if !claimed {
			continue
		}
		claimedIDs = append(claimedIDs, record.ID)

		for _, d := range dispatchers {
			m, ok := matches[d.ID]
			if !ok {
				m = &match{dispatcher: d}
				matches[d.ID] = m
				order = append(order, d.ID)
			}
			m.eventIDs = append(m.eventIDs, record.ID)
		}
		metrics.EventsDelivered.Inc()
	}

	for _, dispatcherID := range order {
		m := matches[dispatcherID]
		if m.dispatcher.Batch {
			err := s.q.Enqueue(ctx, JobInvokeDispatcher, InvokeDispatcherPayload{
				DispatcherID:   dispatcherID,
				EventRecordIDs: m.eventIDs,
			}, JobOptions{Queue: dispatcherQueueName(dispatcherID)})
			if err != nil {
				return unclaimAll(fmt.Errorf("enqueue batch dispatcher %s: %w", dispatcherID, err))
			}
			continue
		}
		for _, eventID := range m.eventIDs {
			err := s.q.Enqueue(ctx, JobInvokeDispatcher, InvokeDispatcherPayload{
				DispatcherID:   dispatcherID,
				EventRecordIDs: []string{eventID},
			}, JobOptions{Queue: dispatcherQueueName(dispatcherID)})
			if err != nil {
				return unclaimAll(fmt.Errorf("enqueue dispatcher %s for event %s: %w", dispatcherID, eventID, err))
			}
		}
	}
	return nil
}

// claimDelivery marks the record delivered iff nobody else has.
func (s *EventDeliveryService) claimDelivery(ctx context.Context, eventRecordID string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		"UPDATE event_records SET delivered_at = now(), updated_at = now() WHERE id = $1 AND delivered_at IS NULL",
		eventRecordID,
	)
	if err != nil {
		return false, fmt.Errorf("claim delivery of event %s: %w", eventRecordID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// unclaimDelivery reopens a claimed record after an incomplete dispatch pass
// so redelivery can run the pass again.
func (s *EventDeliveryService) unclaimDelivery(ctx context.Context, eventRecordID string) error {
	_, err := s.db.Exec(ctx,
		"UPDATE event_records SET delivered_at = NULL, updated_at = now() WHERE id = $1",
		eventRecordID,
	)
	if err != nil {
		return fmt.Errorf("unclaim delivery of event %s: %w", eventRecordID, err)
	}
	return nil
}

// matchDispatchers loads the environment's enabled non-manual dispatchers
// subscribed to the record's (name, source) and applies external-account and
// payload/context filters.
func (s *EventDeliveryService) matchDispatchers(ctx context.Context, record *model.EventRecord) ([]model.EventDispatcher, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, environment_id, event_names, source, payload_filter, context_filter, external_account_id, manual, enabled, batch, dispatchable, created_at, updated_at
		 FROM event_dispatchers
		 WHERE environment_id = $1 AND enabled AND NOT manual AND source = $2 AND $3 = ANY(event_names)
		 ORDER BY created_at`,
		record.EnvironmentID, record.Source, record.Name,
	)
	if err != nil {
		return nil, fmt.Errorf("load dispatchers for event %s: %w", record.ID, err)
	}
	defer rows.Close()

	var matched []model.EventDispatcher
	for rows.Next() {
		var d model.EventDispatcher
		if err := rows.Scan(&d.ID, &d.EnvironmentID, &d.EventNames, &d.Source, &d.PayloadFilter,
			&d.ContextFilter, &d.ExternalAccountID, &d.Manual, &d.Enabled, &d.Batch,
			&d.Dispatchable, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan dispatcher: %w", err)
		}

		if d.ExternalAccountID != nil {
			if record.ExternalAccountID == nil || *d.ExternalAccountID != *record.ExternalAccountID {
				continue
			}
		}
		if !MatchFilter(d.PayloadFilter, record.Payload) {
			continue
		}
		if !MatchFilter(d.ContextFilter, record.Context) {
			continue
		}
		matched = append(matched, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dispatchers: %w", err)
	}
	return matched, nil
}

func dispatcherQueueName(dispatcherID string) string {
	return fmt.Sprintf("dispatcher:%s", dispatcherID)
}

func getEventRecord(ctx context.Context, db DB, id string) (*model.EventRecord, error) {
	var rec model.EventRecord
	err := db.QueryRow(ctx,
		`SELECT id, event_id, environment_id, name, source, payload, context, external_account_id, deliver_at, delivered_at, is_test, created_at, updated_at
		 FROM event_records WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.EventID, &rec.EnvironmentID, &rec.Name, &rec.Source, &rec.Payload, &rec.Context,
		&rec.ExternalAccountID, &rec.DeliverAt, &rec.DeliveredAt, &rec.IsTest, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get event record %s: %w", id, err)
	}
	return &rec, nil
}
