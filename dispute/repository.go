package dispute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"sourcingflow/apperr"
	"sourcingflow/db"
)

var (
	ErrNotFound = fmt.Errorf("dispute: %w", apperr.ErrNotFound)
	// ErrOpenExists is returned when the order already has an open dispute.
	ErrOpenExists = fmt.Errorf("dispute: order already disputed: %w", apperr.ErrInvalidTransition)
	ErrBadStatus  = fmt.Errorf("dispute: %w", apperr.ErrInvalidTransition)
)

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

const selectColumns = `
	id, tenant_id, order_id, opened_by, reason, status, resolution, previous_status,
	created_at, updated_at, resolved_at
`

func scanDispute(row pgx.Row) (Dispute, error) {
	var d Dispute
	err := row.Scan(
		&d.ID, &d.TenantID, &d.OrderID, &d.OpenedBy, &d.Reason, &d.Status, &d.Resolution, &d.PreviousStatus,
		&d.CreatedAt, &d.UpdatedAt, &d.ResolvedAt,
	)
	return d, err
}

// Insert opens a dispute. The partial unique index keeps one open dispute
// per order.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, d Dispute) (Dispute, error) {
	query := `
		INSERT INTO disputes (tenant_id, order_id, opened_by, reason, status, previous_status)
		VALUES ($1, $2, $3, $4, 'open', $5)
		RETURNING ` + selectColumns

	created, err := scanDispute(tx.QueryRow(ctx, query, d.TenantID, d.OrderID, d.OpenedBy, d.Reason, string(d.PreviousStatus)))
	if err != nil {
		if db.IsUniqueViolation(err, "disputes_one_open_per_order") {
			return Dispute{}, ErrOpenExists
		}
		return Dispute{}, fmt.Errorf("dispute: insert: %w", err)
	}
	return created, nil
}

func (r *Repository) Get(ctx context.Context, q db.Querier, tenantID, id string) (Dispute, error) {
	return r.get(ctx, q, tenantID, id, "")
}

func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID, id string) (Dispute, error) {
	return r.get(ctx, tx, tenantID, id, " FOR UPDATE")
}

func (r *Repository) get(ctx context.Context, q db.Querier, tenantID, id, lock string) (Dispute, error) {
	query := `SELECT ` + selectColumns + ` FROM disputes WHERE id = $1 AND tenant_id = $2` + lock

	d, err := scanDispute(q.QueryRow(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: query by id: %w", err)
	}
	return d, nil
}

// ListForOrder returns the order's disputes, newest first.
func (r *Repository) ListForOrder(ctx context.Context, q db.Querier, tenantID, orderID string) ([]Dispute, error) {
	query := `SELECT ` + selectColumns + ` FROM disputes WHERE tenant_id = $1 AND order_id = $2 ORDER BY created_at DESC`

	rows, err := q.Query(ctx, query, tenantID, orderID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Dispute, 0, 4)
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

// Resolve closes an open dispute.
func (r *Repository) Resolve(ctx context.Context, tx pgx.Tx, tenantID, id, resolution string, at time.Time) (Dispute, error) {
	query := `
		UPDATE disputes
		SET status = 'resolved', resolution = $3, resolved_at = $4, updated_at = $4
		WHERE id = $1 AND tenant_id = $2 AND status = 'open'
		RETURNING ` + selectColumns

	d, err := scanDispute(tx.QueryRow(ctx, query, id, tenantID, resolution, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrBadStatus
		}
		return Dispute{}, fmt.Errorf("dispute: resolve: %w", err)
	}
	return d, nil
}
