package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/halvard/relay/internal/model"
)

// EndpointService registers the user's deployed endpoints.
type EndpointService struct {
	db DB
	ec EndpointClient
}

func NewEndpointService(db DB, ec EndpointClient) *EndpointService {
	return &EndpointService{db: db, ec: ec}
}

// Register pings the endpoint URL and upserts it under (environment, slug).
// An unreachable endpoint is rejected rather than stored.
func (s *EndpointService) Register(ctx context.Context, environmentID, slug, url string) (*model.Endpoint, error) {
	if err := s.ec.Ping(ctx, url); err != nil {
		return nil, fmt.Errorf("ping endpoint %s: %w", url, err)
	}

	ep := &model.Endpoint{ID: uuid.NewString(), EnvironmentID: environmentID, Slug: slug, URL: url}
	err := s.db.QueryRow(ctx,
		`INSERT INTO endpoints (id, environment_id, slug, url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, now(), now())
		 ON CONFLICT (environment_id, slug) DO UPDATE SET url = EXCLUDED.url, updated_at = now()
		 RETURNING id, created_at, updated_at`,
		ep.ID, environmentID, slug, url,
	).Scan(&ep.ID, &ep.CreatedAt, &ep.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("register endpoint %s: %w", slug, err)
	}
	return ep, nil
}
