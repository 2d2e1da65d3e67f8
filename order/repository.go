package order

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
	// ErrNotFound is returned when the order does not exist in the tenant.
	ErrNotFound = fmt.Errorf("order: %w", apperr.ErrNotFound)
	// ErrDuplicateNumber reports a numbering collision; callers retry.
	ErrDuplicateNumber = errors.New("order: duplicate number")
	// ErrExists is returned when the RFQ or quote already produced an order.
	ErrExists = fmt.Errorf("order: %w", apperr.ErrAlreadyAwarded)
)

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

const selectColumns = `
	id, tenant_id, number, request_id, rfq_id, quote_id, supplier_id, customer_id,
	vertical, lane, agreed_price, currency, status, promised_at, expected_duration_seconds,
	milestone, progress, last_event_type, last_event_at, predicted_next_event, predicted_next_at,
	delay_risk, dispute_candidate, route_efficiency, performance_rating, satisfaction_rating,
	completed_at, created_at, updated_at
`

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o        Order
		expected int64
	)
	err := row.Scan(
		&o.ID, &o.TenantID, &o.Number, &o.RequestID, &o.RFQID, &o.QuoteID, &o.SupplierID, &o.CustomerID,
		&o.Vertical, &o.Lane, &o.AgreedPrice, &o.Currency, &o.Status, &o.PromisedAt, &expected,
		&o.Milestone, &o.Progress, &o.LastEventType, &o.LastEventAt, &o.PredictedNextEvent, &o.PredictedNextAt,
		&o.DelayRisk, &o.DisputeCandidate, &o.RouteEfficiency, &o.PerformanceRating, &o.SatisfactionRating,
		&o.CompletedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	o.ExpectedDuration = time.Duration(expected) * time.Second
	return o, err
}

// Insert creates a PENDING order. The unique keys on rfq_id and quote_id turn
// a second order for the same award into ErrExists.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, o Order) (Order, error) {
	query := `
		INSERT INTO orders (tenant_id, number, request_id, rfq_id, quote_id, supplier_id, customer_id,
		                    vertical, lane, agreed_price, currency, status, promised_at, expected_duration_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::numeric, $11, $12, $13, $14)
		ON CONFLICT (tenant_id, number) DO NOTHING
		RETURNING ` + selectColumns

	out, err := scanOrder(tx.QueryRow(ctx, query,
		o.TenantID, o.Number, o.RequestID, o.RFQID, o.QuoteID, o.SupplierID, o.CustomerID,
		o.Vertical, o.Lane, o.AgreedPrice, o.Currency, o.Status, o.PromisedAt, int64(o.ExpectedDuration/time.Second),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrDuplicateNumber
		}
		if db.IsUniqueViolation(err, "orders_rfq_key", "orders_quote_key") {
			return Order{}, ErrExists
		}
		return Order{}, fmt.Errorf("order: insert: %w", err)
	}
	return out, nil
}

// Get reads an order without locking.
func (r *Repository) Get(ctx context.Context, q db.Querier, tenantID, id string) (Order, error) {
	return r.get(ctx, q, tenantID, id, "")
}

// GetForUpdate locks the order row. Tracking and disputes serialize on it.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID, id string) (Order, error) {
	return r.get(ctx, tx, tenantID, id, " FOR UPDATE")
}

func (r *Repository) get(ctx context.Context, q db.Querier, tenantID, id, lock string) (Order, error) {
	query := `SELECT ` + selectColumns + ` FROM orders WHERE id = $1 AND tenant_id = $2` + lock
	o, err := scanOrder(q.QueryRow(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("order: get: %w", err)
	}
	return o, nil
}

// List returns orders newest first.
func (r *Repository) List(ctx context.Context, q db.Querier, tenantID string, filter ListFilter) ([]Order, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := `
		SELECT ` + selectColumns + `
		FROM orders
		WHERE tenant_id = $1
		  AND ($2 = '' OR customer_id::text = $2)
		  AND ($3 = '' OR supplier_id::text = $3)
		  AND ($4 = '' OR status = $4)
		ORDER BY created_at DESC
		LIMIT $5
	`
	rows, err := q.Query(ctx, query, tenantID, filter.CustomerID, filter.SupplierID, string(filter.Status), limit)
	if err != nil {
		return nil, fmt.Errorf("order: list: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("order: scan: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order: iterate: %w", err)
	}
	return out, nil
}

// ApplyTracking writes the state derived from an accepted tracking event.
func (r *Repository) ApplyTracking(ctx context.Context, tx pgx.Tx, tenantID, id string, t Tracking, at time.Time) (Order, error) {
	query := `
		UPDATE orders
		SET status = $3, milestone = $4, progress = $5, last_event_type = $6, last_event_at = $7,
		    predicted_next_event = $8, predicted_next_at = $9, delay_risk = $10,
		    dispute_candidate = $11,
		    route_efficiency = COALESCE($12, route_efficiency),
		    performance_rating = COALESCE($13, performance_rating),
		    completed_at = COALESCE(completed_at, $14),
		    updated_at = $15
		WHERE id = $1 AND tenant_id = $2
		RETURNING ` + selectColumns

	o, err := scanOrder(tx.QueryRow(ctx, query, id, tenantID,
		t.Status, t.Milestone, t.Progress, t.LastEventType, t.LastEventAt,
		t.PredictedNextEvent, t.PredictedNextAt, t.DelayRisk,
		t.DisputeCandidate, t.RouteEfficiency, t.PerformanceRating, t.CompletedAt, at,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("order: apply tracking: %w", err)
	}
	return o, nil
}

// SetStatus moves the order to `to` when it is still in one of `from`.
func (r *Repository) SetStatus(ctx context.Context, tx pgx.Tx, tenantID, id string, from []Status, to Status, clearCandidate bool, at time.Time) (Order, error) {
	fromText := make([]string, len(from))
	for i, s := range from {
		fromText[i] = string(s)
	}
	query := `
		UPDATE orders
		SET status = $3,
		    dispute_candidate = CASE WHEN $4 THEN false ELSE dispute_candidate END,
		    updated_at = $5
		WHERE id = $1 AND tenant_id = $2 AND status = ANY($6::text[])
		RETURNING ` + selectColumns

	o, err := scanOrder(tx.QueryRow(ctx, query, id, tenantID, string(to), clearCandidate, at, fromText))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, fmt.Errorf("order: move to %s: %w", to, apperr.ErrInvalidTransition)
		}
		return Order{}, fmt.Errorf("order: set status: %w", err)
	}
	return o, nil
}

// Rate stores the customer's one-time satisfaction rating of a completed order.
func (r *Repository) Rate(ctx context.Context, tx pgx.Tx, tenantID, id string, rating int, at time.Time) (Order, error) {
	query := `
		UPDATE orders
		SET satisfaction_rating = $3, updated_at = $4
		WHERE id = $1 AND tenant_id = $2 AND status = 'COMPLETED' AND satisfaction_rating IS NULL
		RETURNING ` + selectColumns

	o, err := scanOrder(tx.QueryRow(ctx, query, id, tenantID, rating, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, fmt.Errorf("order: rate: %w", apperr.ErrInvalidTransition)
		}
		return Order{}, fmt.Errorf("order: rate: %w", err)
	}
	return o, nil
}
