package supplier

import (
	"context"

	"sourcingflow/db"
)

// ProfileReader abstracts repository operations for the service.
type ProfileReader interface {
	GetByID(ctx context.Context, q db.Querier, tenantID, id string) (Profile, error)
	List(ctx context.Context, q db.Querier, tenantID string, limit int) ([]Profile, error)
}

// Service exposes supplier read operations.
type Service struct {
	pool db.Querier
	repo ProfileReader
}

// NewService builds a Service using the provided repository.
func NewService(pool db.Querier, repo ProfileReader) *Service {
	return &Service{pool: pool, repo: repo}
}

// GetByID returns the supplier profile for the given identifier.
func (s *Service) GetByID(ctx context.Context, tenantID, id string) (Profile, error) {
	return s.repo.GetByID(ctx, s.pool, tenantID, id)
}

// List returns up to limit supplier profiles.
func (s *Service) List(ctx context.Context, tenantID string, limit int) ([]Profile, error) {
	return s.repo.List(ctx, s.pool, tenantID, limit)
}
