package customer

import (
	"context"

	"sourcingflow/db"
)

// Reader is the read side of the repository.
type Reader interface {
	GetByID(ctx context.Context, q db.Querier, tenantID, id string) (Customer, error)
}

// Service exposes the customer's running statistics.
type Service struct {
	pool db.Querier
	repo Reader
}

func NewService(pool db.Querier, repo Reader) *Service {
	return &Service{pool: pool, repo: repo}
}

func (s *Service) GetByID(ctx context.Context, tenantID, id string) (Customer, error) {
	return s.repo.GetByID(ctx, s.pool, tenantID, id)
}
