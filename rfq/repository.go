package rfq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"sourcingflow/apperr"
	"sourcingflow/db"
)

var (
	// ErrNotFound is returned when the RFQ does not exist in the tenant.
	ErrNotFound = fmt.Errorf("rfq: %w", apperr.ErrNotFound)
	// ErrDuplicateNumber reports a numbering collision; callers retry.
	ErrDuplicateNumber = errors.New("rfq: duplicate number")
	// ErrOpenForRequest is returned when the request already has a live RFQ.
	ErrOpenForRequest = fmt.Errorf("rfq: request already has an open rfq: %w", apperr.ErrInvalidTransition)
)

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

const selectColumns = `
	id, tenant_id, number, request_id, vertical, criteria, target_suppliers::text[],
	budget, currency, status, deadline, extended_deadline, cancel_reason,
	winning_quote_id::text, published_at, awarded_at, created_at, updated_at
`

func scanRFQ(row pgx.Row) (RFQ, error) {
	var r RFQ
	err := row.Scan(
		&r.ID, &r.TenantID, &r.Number, &r.RequestID, &r.Vertical, &r.Criteria, &r.TargetSuppliers,
		&r.Budget, &r.Currency, &r.Status, &r.Deadline, &r.ExtendedDeadline, &r.CancelReason,
		&r.WinningQuoteID, &r.PublishedAt, &r.AwardedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}

// Insert stores a new RFQ. A numbering collision yields ErrDuplicateNumber;
// a second live RFQ for the same request yields ErrOpenForRequest.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, rec RFQ) (RFQ, error) {
	criteria, err := json.Marshal(rec.Criteria)
	if err != nil {
		return RFQ{}, fmt.Errorf("rfq: marshal criteria: %w", err)
	}
	targets := rec.TargetSuppliers
	if targets == nil {
		targets = []string{}
	}

	query := `
		INSERT INTO rfqs (tenant_id, number, request_id, vertical, criteria, target_suppliers,
		                  budget, currency, status, deadline, published_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6::uuid[], $7::numeric, $8, $9, $10, $11)
		ON CONFLICT (tenant_id, number) DO NOTHING
		RETURNING ` + selectColumns

	out, err := scanRFQ(tx.QueryRow(ctx, query,
		rec.TenantID, rec.Number, rec.RequestID, rec.Vertical, criteria, targets,
		rec.Budget, rec.Currency, rec.Status, rec.Deadline, rec.PublishedAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RFQ{}, ErrDuplicateNumber
		}
		if db.IsUniqueViolation(err, "rfqs_one_open_per_request") {
			return RFQ{}, ErrOpenForRequest
		}
		return RFQ{}, fmt.Errorf("rfq: insert: %w", err)
	}
	return out, nil
}

// Get reads an RFQ without locking.
func (r *Repository) Get(ctx context.Context, q db.Querier, tenantID, id string) (RFQ, error) {
	return r.get(ctx, q, tenantID, id, "")
}

// GetForUpdate locks the RFQ row exclusively. Award, scoring and every
// status change serialize on this lock.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID, id string) (RFQ, error) {
	return r.get(ctx, tx, tenantID, id, " FOR UPDATE")
}

// GetForShare locks the RFQ row against status changes while still letting
// concurrent quote submissions proceed.
func (r *Repository) GetForShare(ctx context.Context, tx pgx.Tx, tenantID, id string) (RFQ, error) {
	return r.get(ctx, tx, tenantID, id, " FOR SHARE")
}

func (r *Repository) get(ctx context.Context, q db.Querier, tenantID, id, lock string) (RFQ, error) {
	query := `SELECT ` + selectColumns + ` FROM rfqs WHERE id = $1 AND tenant_id = $2` + lock
	rec, err := scanRFQ(q.QueryRow(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RFQ{}, ErrNotFound
		}
		return RFQ{}, fmt.Errorf("rfq: get: %w", err)
	}
	return rec, nil
}

// HasOpenForRequest reports whether the request already has a live RFQ.
func (r *Repository) HasOpenForRequest(ctx context.Context, tx pgx.Tx, tenantID, requestID string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM rfqs
			WHERE tenant_id = $1 AND request_id = $2
			  AND status IN ('DRAFT','PUBLISHED','UNDER_EVALUATION','AWARDED')
		)
	`
	var exists bool
	if err := tx.QueryRow(ctx, query, tenantID, requestID).Scan(&exists); err != nil {
		return false, fmt.Errorf("rfq: check open: %w", err)
	}
	return exists, nil
}

// UpdateStatus moves the RFQ to `to` when it is still in one of `from`.
func (r *Repository) UpdateStatus(ctx context.Context, tx pgx.Tx, tenantID, id string, from []Status, to Status, at time.Time) (RFQ, error) {
	query := `
		UPDATE rfqs
		SET status = $3, updated_at = $4
		WHERE id = $1 AND tenant_id = $2 AND status = ANY($5::text[])
		RETURNING ` + selectColumns

	rec, err := scanRFQ(tx.QueryRow(ctx, query, id, tenantID, to, at, statusStrings(from)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RFQ{}, fmt.Errorf("rfq: move to %s: %w", to, apperr.ErrInvalidTransition)
		}
		return RFQ{}, fmt.Errorf("rfq: update status: %w", err)
	}
	return rec, nil
}

// Extend sets a later quote deadline.
func (r *Repository) Extend(ctx context.Context, tx pgx.Tx, tenantID, id string, deadline, at time.Time) (RFQ, error) {
	query := `
		UPDATE rfqs
		SET extended_deadline = $3, updated_at = $4
		WHERE id = $1 AND tenant_id = $2
		  AND status IN ('PUBLISHED','UNDER_EVALUATION')
		  AND $3 > COALESCE(extended_deadline, deadline)
		RETURNING ` + selectColumns

	rec, err := scanRFQ(tx.QueryRow(ctx, query, id, tenantID, deadline, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RFQ{}, fmt.Errorf("rfq: extend: %w", apperr.ErrInvalidTransition)
		}
		return RFQ{}, fmt.Errorf("rfq: extend: %w", err)
	}
	return rec, nil
}

// Cancel closes the RFQ with a reason.
func (r *Repository) Cancel(ctx context.Context, tx pgx.Tx, tenantID, id, reason string, at time.Time) (RFQ, error) {
	query := `
		UPDATE rfqs
		SET status = 'CANCELLED', cancel_reason = $3, updated_at = $4
		WHERE id = $1 AND tenant_id = $2
		  AND status IN ('DRAFT','PUBLISHED','UNDER_EVALUATION')
		RETURNING ` + selectColumns

	rec, err := scanRFQ(tx.QueryRow(ctx, query, id, tenantID, reason, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RFQ{}, fmt.Errorf("rfq: cancel: %w", apperr.ErrInvalidTransition)
		}
		return RFQ{}, fmt.Errorf("rfq: cancel: %w", err)
	}
	return rec, nil
}

// MarkExpired persists lazy expiry for a single PUBLISHED RFQ.
func (r *Repository) MarkExpired(ctx context.Context, tx pgx.Tx, tenantID, id string, at time.Time) error {
	const query = `
		UPDATE rfqs
		SET status = 'EXPIRED', updated_at = $3
		WHERE id = $1 AND tenant_id = $2 AND status = 'PUBLISHED'
	`
	if _, err := tx.Exec(ctx, query, id, tenantID, at); err != nil {
		return fmt.Errorf("rfq: mark expired: %w", err)
	}
	return nil
}

// MarkAwarded records the winner. The status and winner guards make a second
// award a no-op that reports ErrInvalidTransition.
func (r *Repository) MarkAwarded(ctx context.Context, tx pgx.Tx, tenantID, id, quoteID string, at time.Time) (RFQ, error) {
	query := `
		UPDATE rfqs
		SET status = 'AWARDED', winning_quote_id = $3, awarded_at = $4, updated_at = $4
		WHERE id = $1 AND tenant_id = $2
		  AND status IN ('PUBLISHED','UNDER_EVALUATION')
		  AND winning_quote_id IS NULL
		RETURNING ` + selectColumns

	rec, err := scanRFQ(tx.QueryRow(ctx, query, id, tenantID, quoteID, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RFQ{}, fmt.Errorf("rfq: award: %w", apperr.ErrInvalidTransition)
		}
		return RFQ{}, fmt.Errorf("rfq: award: %w", err)
	}
	return rec, nil
}

// ExpireDue persists EXPIRED for up to limit PUBLISHED RFQs past their
// deadline across all tenants. Rows locked by a concurrent award are skipped.
func (r *Repository) ExpireDue(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]RFQ, error) {
	query := `
		UPDATE rfqs
		SET status = 'EXPIRED', updated_at = $1
		WHERE id IN (
			SELECT id FROM rfqs
			WHERE status = 'PUBLISHED' AND COALESCE(extended_deadline, deadline) <= $1
			ORDER BY COALESCE(extended_deadline, deadline)
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + selectColumns

	rows, err := tx.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("rfq: expire due: %w", err)
	}
	defer rows.Close()

	var out []RFQ
	for rows.Next() {
		rec, err := scanRFQ(rows)
		if err != nil {
			return nil, fmt.Errorf("rfq: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rfq: iterate: %w", err)
	}
	return out, nil
}

// AllowSubmittedRequests returns the tenant override of the publication
// policy, or fallback when the tenant has no row.
func (r *Repository) AllowSubmittedRequests(ctx context.Context, q db.Querier, tenantID string, fallback bool) (bool, error) {
	const query = `
		SELECT COALESCE((SELECT allow_submitted_requests FROM tenants WHERE id = $1), $2)
	`
	var allow bool
	if err := q.QueryRow(ctx, query, tenantID, fallback).Scan(&allow); err != nil {
		return false, fmt.Errorf("rfq: tenant policy: %w", err)
	}
	return allow, nil
}

func statusStrings(in []Status) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
