// Package dispute tracks disagreements about an order's fulfilment and moves
// the order in and out of DISPUTED.
package dispute

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"sourcingflow/apperr"
	"sourcingflow/db"
	"sourcingflow/order"
)

// Store is the dispute persistence the service needs.
type Store interface {
	Insert(ctx context.Context, tx pgx.Tx, d Dispute) (Dispute, error)
	Get(ctx context.Context, q db.Querier, tenantID, id string) (Dispute, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID, id string) (Dispute, error)
	ListForOrder(ctx context.Context, q db.Querier, tenantID, orderID string) ([]Dispute, error)
	Resolve(ctx context.Context, tx pgx.Tx, tenantID, id, resolution string, at time.Time) (Dispute, error)
}

// OrderStore locks orders and changes their status conditionally.
type OrderStore interface {
	Get(ctx context.Context, q db.Querier, tenantID, id string) (order.Order, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID, id string) (order.Order, error)
	SetStatus(ctx context.Context, tx pgx.Tx, tenantID, id string, from []order.Status, to order.Status, clearCandidate bool, at time.Time) (order.Order, error)
}

// DisputeRecorder counts disputes against suppliers.
type DisputeRecorder interface {
	RecordDispute(ctx context.Context, tx pgx.Tx, tenantID, id string) error
}

// OutboxWriter enqueues integration events inside the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, tenantID, topic, key string, payload map[string]any) error
}

type Service struct {
	pool      db.Pool
	repo      Store
	orders    OrderStore
	suppliers DisputeRecorder
	outbox    OutboxWriter
	now       func() time.Time
}

func NewService(pool db.Pool, repo Store, orders OrderStore, suppliers DisputeRecorder, outbox OutboxWriter) *Service {
	return &Service{pool: pool, repo: repo, orders: orders, suppliers: suppliers, outbox: outbox, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

var disputable = []order.Status{order.StatusConfirmed, order.StatusInProgress, order.StatusCompleted}

// Open moves the order to DISPUTED and counts the dispute against its
// supplier.
func (s *Service) Open(ctx context.Context, params OpenParams) (Dispute, error) {
	reason := strings.TrimSpace(params.Reason)
	if params.TenantID == "" || params.OrderID == "" {
		return Dispute{}, fmt.Errorf("dispute: %w: tenant and order are required", apperr.ErrValidation)
	}
	if reason == "" {
		return Dispute{}, fmt.Errorf("dispute: %w: reason is required", apperr.ErrValidation)
	}
	now := s.now().UTC()

	var created Dispute
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		o, err := s.orders.GetForUpdate(ctx, tx, params.TenantID, params.OrderID)
		if err != nil {
			return err
		}
		if !params.Viewer.Sees(o) {
			return order.ErrNotFound
		}
		switch o.Status {
		case order.StatusDisputed:
			return ErrOpenExists
		case order.StatusConfirmed, order.StatusInProgress, order.StatusCompleted:
		default:
			return fmt.Errorf("dispute: order %s is %s: %w", o.Number, o.Status, apperr.ErrInvalidTransition)
		}

		created, err = s.repo.Insert(ctx, tx, Dispute{
			TenantID:       params.TenantID,
			OrderID:        o.ID,
			OpenedBy:       params.OpenedBy,
			Reason:         reason,
			PreviousStatus: o.Status,
		})
		if err != nil {
			return err
		}
		if _, err := s.orders.SetStatus(ctx, tx, params.TenantID, o.ID, disputable, order.StatusDisputed, true, now); err != nil {
			return err
		}
		if err := s.suppliers.RecordDispute(ctx, tx, params.TenantID, o.SupplierID); err != nil {
			return err
		}
		return s.outbox.Enqueue(ctx, tx, params.TenantID, "order.disputed", o.ID, map[string]any{
			"order_id":    o.ID,
			"dispute_id":  created.ID,
			"supplier_id": o.SupplierID,
			"reason":      reason,
		})
	})
	if err != nil {
		return Dispute{}, err
	}
	return created, nil
}

// Resolve closes the dispute. The order returns to COMPLETED when it had
// been delivered, otherwise to IN_PROGRESS.
func (s *Service) Resolve(ctx context.Context, params ResolveParams) (Dispute, order.Order, error) {
	resolution := strings.TrimSpace(params.Resolution)
	if params.TenantID == "" || params.ID == "" {
		return Dispute{}, order.Order{}, fmt.Errorf("dispute: %w: tenant and dispute are required", apperr.ErrValidation)
	}
	if resolution == "" {
		return Dispute{}, order.Order{}, fmt.Errorf("dispute: %w: resolution is required", apperr.ErrValidation)
	}
	now := s.now().UTC()

	// The order is locked before the dispute, matching Open.
	current, err := s.repo.Get(ctx, s.pool, params.TenantID, params.ID)
	if err != nil {
		return Dispute{}, order.Order{}, err
	}

	var (
		resolved Dispute
		updated  order.Order
	)
	err = db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		o, err := s.orders.GetForUpdate(ctx, tx, params.TenantID, current.OrderID)
		if err != nil {
			return err
		}
		if !params.Viewer.Sees(o) {
			return ErrNotFound
		}
		d, err := s.repo.GetForUpdate(ctx, tx, params.TenantID, params.ID)
		if err != nil {
			return err
		}
		if d.Status != StatusOpen {
			return fmt.Errorf("dispute: already %s: %w", d.Status, apperr.ErrInvalidTransition)
		}

		resolved, err = s.repo.Resolve(ctx, tx, params.TenantID, d.ID, resolution, now)
		if err != nil {
			return err
		}
		target := order.StatusInProgress
		if o.CompletedAt != nil {
			target = order.StatusCompleted
		}
		updated, err = s.orders.SetStatus(ctx, tx, params.TenantID, o.ID, []order.Status{order.StatusDisputed}, target, false, now)
		if err != nil {
			return err
		}
		return s.outbox.Enqueue(ctx, tx, params.TenantID, "dispute.resolved", o.ID, map[string]any{
			"order_id":   o.ID,
			"dispute_id": d.ID,
			"status":     string(updated.Status),
		})
	})
	if err != nil {
		return Dispute{}, order.Order{}, err
	}
	return resolved, updated, nil
}

// List returns the disputes of an order visible to the viewer.
func (s *Service) List(ctx context.Context, tenantID string, viewer order.Viewer, orderID string) ([]Dispute, error) {
	o, err := s.orders.Get(ctx, s.pool, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	if !viewer.Sees(o) {
		return nil, order.ErrNotFound
	}
	return s.repo.ListForOrder(ctx, s.pool, tenantID, o.ID)
}
