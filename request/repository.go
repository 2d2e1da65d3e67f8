package request

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
	// ErrNotFound is returned when no request exists for the identifier in the tenant.
	ErrNotFound = fmt.Errorf("request: %w", apperr.ErrNotFound)
	// ErrDuplicateNumber reports a numbering collision; callers retry with a new number.
	ErrDuplicateNumber = errors.New("request: duplicate number")
)

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

const selectColumns = `
	id, tenant_id, number, customer_id, vertical, title, description,
	origin, destination, service_type, requirements, budget, currency,
	deadline, priority, status, review_note, reviewed_by,
	submitted_at, archived_at, created_at, updated_at
`

func scanRequest(row pgx.Row) (Request, error) {
	var r Request
	err := row.Scan(
		&r.ID, &r.TenantID, &r.Number, &r.CustomerID, &r.Vertical, &r.Title, &r.Description,
		&r.Origin, &r.Destination, &r.ServiceType, &r.Requirements, &r.Budget, &r.Currency,
		&r.Deadline, &r.Priority, &r.Status, &r.ReviewNote, &r.ReviewedBy,
		&r.SubmittedAt, &r.ArchivedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}

// Insert stores a new DRAFT request. A numbering collision yields
// ErrDuplicateNumber without aborting the surrounding transaction.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, req Request) (Request, error) {
	requirements, err := json.Marshal(req.Requirements)
	if err != nil {
		return Request{}, fmt.Errorf("request: marshal requirements: %w", err)
	}

	query := `
		INSERT INTO requests (tenant_id, number, customer_id, vertical, title, description,
		                      origin, destination, service_type, requirements, budget, currency,
		                      deadline, priority, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11::numeric, $12, $13, $14, $15)
		ON CONFLICT (tenant_id, number) DO NOTHING
		RETURNING ` + selectColumns

	rec, err := scanRequest(tx.QueryRow(ctx, query,
		req.TenantID, req.Number, req.CustomerID, req.Vertical, req.Title, req.Description,
		req.Origin, req.Destination, req.ServiceType, requirements, req.Budget, req.Currency,
		req.Deadline, req.Priority, req.Status,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrDuplicateNumber
		}
		return Request{}, fmt.Errorf("request: insert: %w", err)
	}
	return rec, nil
}

// Get reads a request without locking.
func (r *Repository) Get(ctx context.Context, q db.Querier, tenantID, id string) (Request, error) {
	return r.get(ctx, q, tenantID, id, "")
}

// GetForUpdate reads and row-locks a request inside tx.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID, id string) (Request, error) {
	return r.get(ctx, tx, tenantID, id, " FOR UPDATE")
}

func (r *Repository) get(ctx context.Context, q db.Querier, tenantID, id, lock string) (Request, error) {
	query := `SELECT ` + selectColumns + ` FROM requests WHERE id = $1 AND tenant_id = $2` + lock
	rec, err := scanRequest(q.QueryRow(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("request: get: %w", err)
	}
	return rec, nil
}

// UpdateStatus applies a transition guarded on the expected prior status.
// It returns pgx.ErrNoRows wrapped as an invalid transition when the row moved
// underneath the caller.
func (r *Repository) UpdateStatus(ctx context.Context, tx pgx.Tx, tenantID, id string, from, to Status, actor, note string, at time.Time) (Request, error) {
	query := `
		UPDATE requests
		SET status = $4,
		    reviewed_by = CASE WHEN $5 <> '' THEN $5 ELSE reviewed_by END,
		    review_note = CASE WHEN $6 <> '' THEN $6 ELSE review_note END,
		    submitted_at = CASE WHEN $4 = 'SUBMITTED' THEN $7 ELSE submitted_at END,
		    updated_at = $7
		WHERE id = $1 AND tenant_id = $2 AND status = $3 AND archived_at IS NULL
		RETURNING ` + selectColumns

	rec, err := scanRequest(tx.QueryRow(ctx, query, id, tenantID, from, to, actor, note, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, fmt.Errorf("request: %s -> %s: %w", from, to, apperr.ErrInvalidTransition)
		}
		return Request{}, fmt.Errorf("request: update status: %w", err)
	}
	return rec, nil
}

// Archive marks a request archived. Requests are never deleted.
func (r *Repository) Archive(ctx context.Context, tx pgx.Tx, tenantID, id string, at time.Time) (Request, error) {
	query := `
		UPDATE requests
		SET archived_at = $3, updated_at = $3
		WHERE id = $1 AND tenant_id = $2 AND archived_at IS NULL
		RETURNING ` + selectColumns

	rec, err := scanRequest(tx.QueryRow(ctx, query, id, tenantID, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, fmt.Errorf("request: already archived: %w", apperr.ErrInvalidTransition)
		}
		return Request{}, fmt.Errorf("request: archive: %w", err)
	}
	return rec, nil
}

// List returns non-archived requests newest first. DRAFT requests are only
// included when filtering by their owner.
func (r *Repository) List(ctx context.Context, q db.Querier, tenantID string, filter ListFilter) ([]Request, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := `
		SELECT ` + selectColumns + `
		FROM requests
		WHERE tenant_id = $1
		  AND archived_at IS NULL
		  AND ($2 = '' OR customer_id::text = $2)
		  AND ($3 = '' OR status = $3)
		  AND (status <> 'DRAFT' OR ($2 <> '' AND customer_id::text = $2))
		ORDER BY created_at DESC
		LIMIT $4
	`
	rows, err := q.Query(ctx, query, tenantID, filter.CustomerID, string(filter.Status), limit)
	if err != nil {
		return nil, fmt.Errorf("request: list: %w", err)
	}
	defer rows.Close()

	out := make([]Request, 0, limit)
	for rows.Next() {
		rec, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("request: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("request: iterate: %w", err)
	}
	return out, nil
}
