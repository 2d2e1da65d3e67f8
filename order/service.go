package order

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"sourcingflow/apperr"
	"sourcingflow/db"
)

// Store is the persistence surface the service needs.
type Store interface {
	Get(ctx context.Context, q db.Querier, tenantID, id string) (Order, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID, id string) (Order, error)
	List(ctx context.Context, q db.Querier, tenantID string, filter ListFilter) ([]Order, error)
	Rate(ctx context.Context, tx pgx.Tx, tenantID, id string, rating int, at time.Time) (Order, error)
}

// RatingRecorder folds a satisfaction rating into supplier quality.
type RatingRecorder interface {
	RecordRating(ctx context.Context, tx pgx.Tx, tenantID, id string, rating int) error
}

// OutboxWriter enqueues integration events inside the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, tenantID, topic, key string, payload map[string]any) error
}

type Service struct {
	pool      db.Pool
	repo      Store
	suppliers RatingRecorder
	outbox    OutboxWriter
	now       func() time.Time
}

func NewService(pool db.Pool, repo Store, suppliers RatingRecorder, outbox OutboxWriter) *Service {
	return &Service{pool: pool, repo: repo, suppliers: suppliers, outbox: outbox, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Get returns the order if the viewer is a party to it.
func (s *Service) Get(ctx context.Context, tenantID string, viewer Viewer, id string) (Order, error) {
	o, err := s.repo.Get(ctx, s.pool, tenantID, id)
	if err != nil {
		return Order{}, err
	}
	if !viewer.Sees(o) {
		return Order{}, ErrNotFound
	}
	return o, nil
}

// List returns the viewer's orders.
func (s *Service) List(ctx context.Context, tenantID string, filter ListFilter) ([]Order, error) {
	return s.repo.List(ctx, s.pool, tenantID, filter)
}

// Rate records the customer's 1-5 satisfaction with a completed order.
func (s *Service) Rate(ctx context.Context, params RateParams) (Order, error) {
	if params.Rating < 1 || params.Rating > 5 {
		return Order{}, fmt.Errorf("order: %w: rating must be between 1 and 5", apperr.ErrValidation)
	}

	var rated Order
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := s.repo.GetForUpdate(ctx, tx, params.TenantID, params.ID)
		if err != nil {
			return err
		}
		if params.CustomerID != "" && current.CustomerID != params.CustomerID {
			return ErrNotFound
		}
		if current.Status != StatusCompleted {
			return fmt.Errorf("order: %s is %s: %w", current.Number, current.Status, apperr.ErrInvalidTransition)
		}
		rated, err = s.repo.Rate(ctx, tx, params.TenantID, params.ID, params.Rating, s.now().UTC())
		if err != nil {
			return err
		}
		if err := s.suppliers.RecordRating(ctx, tx, params.TenantID, rated.SupplierID, params.Rating); err != nil {
			return err
		}
		return s.outbox.Enqueue(ctx, tx, params.TenantID, "order.rated", rated.ID, map[string]any{
			"order_id":    rated.ID,
			"supplier_id": rated.SupplierID,
			"rating":      params.Rating,
		})
	})
	if err != nil {
		return Order{}, err
	}
	return rated, nil
}
