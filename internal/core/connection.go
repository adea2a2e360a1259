package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/halvard/relay/internal/model"
)

type ConnectionService struct {
	db TxBeginner
	q  Enqueuer
}

func NewConnectionService(db TxBeginner, q Enqueuer) *ConnectionService {
	return &ConnectionService{db: db, q: q}
}

// Resolve maps a job version's declared connection slots to live credential
// objects. DEVELOPER slots resolve per environment; EXTERNAL slots are keyed
// by the run's external account id. Slots that cannot be resolved are
// returned as missing; the caller decides whether that suspends or fails.
func (s *ConnectionService) Resolve(ctx context.Context, db DB, version *model.JobVersion, externalAccountID *string) (map[string]model.ResolvedConnection, []model.ConnectionRequirement, error) {
	reqs, err := version.ConnectionRequirements()
	if err != nil {
		return nil, nil, fmt.Errorf("decode connection requirements for version %s: %w", version.ID, err)
	}
	if len(reqs) == 0 {
		return nil, nil, nil
	}

	resolved := make(map[string]model.ResolvedConnection, len(reqs))
	var missing []model.ConnectionRequirement
	for _, req := range reqs {
		conn, err := s.lookup(ctx, db, version.EnvironmentID, req, externalAccountID)
		if err != nil {
			return nil, nil, err
		}
		if conn == nil {
			missing = append(missing, req)
			continue
		}
		resolved[req.Key] = model.ResolvedConnection{
			Key:         req.Key,
			ClientID:    conn.ClientID,
			Credentials: conn.Credentials,
		}
	}
	return resolved, missing, nil
}

func (s *ConnectionService) lookup(ctx context.Context, db DB, environmentID string, req model.ConnectionRequirement, externalAccountID *string) (*model.APIConnection, error) {
	var (
		conn model.APIConnection
		err  error
	)
	switch req.ConnectionType {
	case model.ConnectionTypeExternal:
		if externalAccountID == nil {
			return nil, nil
		}
		err = db.QueryRow(ctx,
			`SELECT id, environment_id, client_id, connection_type, external_account_id, credentials, created_at, updated_at
			 FROM api_connections
			 WHERE environment_id = $1 AND client_id = $2 AND connection_type = $3 AND external_account_id = $4`,
			environmentID, req.ClientID, req.ConnectionType, *externalAccountID,
		).Scan(&conn.ID, &conn.EnvironmentID, &conn.ClientID, &conn.ConnectionType,
			&conn.ExternalAccountID, &conn.Credentials, &conn.CreatedAt, &conn.UpdatedAt)
	case model.ConnectionTypeDeveloper:
		err = db.QueryRow(ctx,
			`SELECT id, environment_id, client_id, connection_type, external_account_id, credentials, created_at, updated_at
			 FROM api_connections
			 WHERE environment_id = $1 AND client_id = $2 AND connection_type = $3`,
			environmentID, req.ClientID, req.ConnectionType,
		).Scan(&conn.ID, &conn.EnvironmentID, &conn.ClientID, &conn.ConnectionType,
			&conn.ExternalAccountID, &conn.Credentials, &conn.CreatedAt, &conn.UpdatedAt)
	default:
		return nil, fmt.Errorf("unknown connection type %q for client %s", req.ConnectionType, req.ClientID)
	}
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup connection %s/%s: %w", req.ClientID, req.ConnectionType, err)
	}
	return &conn, nil
}

// RecordMissing upserts the MissingConnection row for a run, deduplicated by
// (client_id, connection_type, external_account_id). It reports whether this
// run created the row; only the creator triggers the notification event.
func (s *ConnectionService) RecordMissing(ctx context.Context, db DB, runID string, req model.ConnectionRequirement, externalAccountID *string) (*model.MissingConnection, bool, error) {
	mc := &model.MissingConnection{
		ClientID:          req.ClientID,
		ConnectionType:    req.ConnectionType,
		ExternalAccountID: externalAccountID,
	}
	created := false
	err := db.QueryRow(ctx,
		`SELECT id FROM missing_connections
		 WHERE client_id = $1 AND connection_type = $2 AND external_account_id IS NOT DISTINCT FROM $3 AND NOT resolved`,
		req.ClientID, req.ConnectionType, externalAccountID,
	).Scan(&mc.ID)
	if err != nil {
		if !isNoRows(err) {
			return nil, false, fmt.Errorf("lookup missing connection %s: %w", req.ClientID, err)
		}
		mc.ID = uuid.NewString()
		_, err = db.Exec(ctx,
			`INSERT INTO missing_connections (id, client_id, connection_type, external_account_id, resolved, created_at)
			 VALUES ($1, $2, $3, $4, false, now())`,
			mc.ID, mc.ClientID, mc.ConnectionType, mc.ExternalAccountID,
		)
		if err != nil {
			return nil, false, fmt.Errorf("insert missing connection %s: %w", req.ClientID, err)
		}
		created = true
	}

	_, err = db.Exec(ctx,
		`INSERT INTO run_missing_connections (run_id, missing_connection_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		runID, mc.ID,
	)
	if err != nil {
		return nil, false, fmt.Errorf("link run %s to missing connection %s: %w", runID, mc.ID, err)
	}
	return mc, created, nil
}

// Created stores a new connection and wakes every run suspended on a
// matching missing-connection row by re-enqueuing its start.
func (s *ConnectionService) Created(ctx context.Context, conn *model.APIConnection) error {
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}

	var waitingRunIDs []string
	err := WithTx(ctx, s.db, func(tx DB) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO api_connections (id, environment_id, client_id, connection_type, external_account_id, credentials, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, now(), now())`,
			conn.ID, conn.EnvironmentID, conn.ClientID, conn.ConnectionType, conn.ExternalAccountID, conn.Credentials,
		)
		if err != nil {
			return fmt.Errorf("insert connection %s: %w", conn.ClientID, err)
		}

		rows, err := tx.Query(ctx,
			`UPDATE missing_connections SET resolved = true
			 WHERE client_id = $1 AND connection_type = $2 AND external_account_id IS NOT DISTINCT FROM $3 AND NOT resolved
			 RETURNING id`,
			conn.ClientID, conn.ConnectionType, conn.ExternalAccountID,
		)
		if err != nil {
			return fmt.Errorf("resolve missing connections for %s: %w", conn.ClientID, err)
		}
		defer rows.Close()

		var resolvedIDs []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("scan missing connection id: %w", err)
			}
			resolvedIDs = append(resolvedIDs, id)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate missing connections: %w", err)
		}

		for _, mcID := range resolvedIDs {
			runRows, err := tx.Query(ctx,
				`SELECT r.id FROM runs r
				 JOIN run_missing_connections rmc ON rmc.run_id = r.id
				 WHERE rmc.missing_connection_id = $1 AND r.status = $2`,
				mcID, model.RunStatusWaitingOnConnections,
			)
			if err != nil {
				return fmt.Errorf("load runs waiting on connection %s: %w", mcID, err)
			}
			for runRows.Next() {
				var runID string
				if err := runRows.Scan(&runID); err != nil {
					runRows.Close()
					return fmt.Errorf("scan waiting run id: %w", err)
				}
				waitingRunIDs = append(waitingRunIDs, runID)
			}
			if err := runRows.Err(); err != nil {
				runRows.Close()
				return fmt.Errorf("iterate waiting runs: %w", err)
			}
			runRows.Close()
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, runID := range waitingRunIDs {
		if err := s.q.Enqueue(ctx, JobStartRun, IDPayload{ID: runID}, JobOptions{}); err != nil {
			return fmt.Errorf("re-enqueue start for run %s: %w", runID, err)
		}
	}
	return nil
}
