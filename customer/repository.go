package customer

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"sourcingflow/apperr"
	"sourcingflow/db"
)

// ErrNotFound signals the customer does not exist in the tenant.
var ErrNotFound = fmt.Errorf("customer: %w", apperr.ErrNotFound)

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// GetByID fetches a customer within the tenant.
func (r *Repository) GetByID(ctx context.Context, q db.Querier, tenantID, id string) (Customer, error) {
	const query = `
		SELECT id, tenant_id, name, total_requests, total_orders, total_spend, created_at, updated_at
		FROM customers
		WHERE id = $1 AND tenant_id = $2
	`
	var c Customer
	err := q.QueryRow(ctx, query, id, tenantID).Scan(
		&c.ID, &c.TenantID, &c.Name, &c.TotalRequests, &c.TotalOrders, &c.TotalSpend, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Customer{}, ErrNotFound
		}
		return Customer{}, fmt.Errorf("customer: query by id: %w", err)
	}
	return c, nil
}

// RecordRequest counts a new request for the customer.
func (r *Repository) RecordRequest(ctx context.Context, tx pgx.Tx, tenantID, id string) error {
	const query = `
		UPDATE customers
		SET total_requests = total_requests + 1, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`
	return r.exec(ctx, tx, "record request", query, id, tenantID)
}

// RecordOrder counts an awarded order and its spend.
func (r *Repository) RecordOrder(ctx context.Context, tx pgx.Tx, tenantID, id string, amount decimal.Decimal) error {
	const query = `
		UPDATE customers
		SET total_orders = total_orders + 1,
		    total_spend = total_spend + $3::numeric,
		    updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`
	return r.exec(ctx, tx, "record order", query, id, tenantID, amount)
}

func (r *Repository) exec(ctx context.Context, tx pgx.Tx, op, query string, args ...any) error {
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("customer: %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
