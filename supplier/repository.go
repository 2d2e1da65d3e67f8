package supplier

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"sourcingflow/apperr"
	"sourcingflow/db"
)

// ErrNotFound signals the requested supplier does not exist in the tenant.
var ErrNotFound = fmt.Errorf("supplier: %w", apperr.ErrNotFound)

// Repository reads supplier profiles and applies counter increments.
type Repository struct{}

// NewRepository returns the PostgreSQL-backed repository.
func NewRepository() *Repository {
	return &Repository{}
}

const selectColumns = `
	id, tenant_id, name, capabilities, certifications,
	total_quotes, total_wins, total_orders, total_revenue, avg_response_seconds,
	reliability_score, quality_score, performance_score, rated_orders,
	completed_deliveries, on_time_deliveries, dispute_count, created_at, updated_at
`

func scanProfile(row pgx.Row) (Profile, error) {
	var p Profile
	err := row.Scan(
		&p.ID, &p.TenantID, &p.Name, &p.Capabilities, &p.Certifications,
		&p.TotalQuotes, &p.TotalWins, &p.TotalOrders, &p.TotalRevenue, &p.AvgResponseSeconds,
		&p.ReliabilityScore, &p.QualityScore, &p.PerformanceScore, &p.RatedOrders,
		&p.CompletedDeliveries, &p.OnTimeDeliveries, &p.DisputeCount, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

// GetByID fetches a supplier profile by its primary key within the tenant.
func (r *Repository) GetByID(ctx context.Context, q db.Querier, tenantID, id string) (Profile, error) {
	query := `SELECT ` + selectColumns + ` FROM suppliers WHERE id = $1 AND tenant_id = $2`

	p, err := scanProfile(q.QueryRow(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("supplier: query by id: %w", err)
	}
	return p, nil
}

// List fetches up to limit supplier profiles ordered by name.
func (r *Repository) List(ctx context.Context, q db.Querier, tenantID string, limit int) ([]Profile, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	query := `SELECT ` + selectColumns + ` FROM suppliers WHERE tenant_id = $1 ORDER BY name ASC LIMIT $2`
	return r.collect(ctx, q, query, tenantID, limit)
}

// GetMany loads the supplier profiles for ids, keyed by id.
func (r *Repository) GetMany(ctx context.Context, q db.Querier, tenantID string, ids []string) (map[string]Profile, error) {
	if len(ids) == 0 {
		return map[string]Profile{}, nil
	}
	query := `SELECT ` + selectColumns + ` FROM suppliers WHERE tenant_id = $1 AND id = ANY($2::uuid[])`
	profiles, err := r.collect(ctx, q, query, tenantID, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Profile, len(profiles))
	for _, p := range profiles {
		out[p.ID] = p
	}
	return out, nil
}

// CountExisting returns how many of ids are suppliers of the tenant.
func (r *Repository) CountExisting(ctx context.Context, q db.Querier, tenantID string, ids []string) (int, error) {
	var n int
	const query = `SELECT COUNT(*) FROM suppliers WHERE tenant_id = $1 AND id = ANY($2::uuid[])`
	if err := q.QueryRow(ctx, query, tenantID, ids).Scan(&n); err != nil {
		return 0, fmt.Errorf("supplier: count existing: %w", err)
	}
	return n, nil
}

func (r *Repository) collect(ctx context.Context, q db.Querier, query string, args ...any) ([]Profile, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("supplier: list: %w", err)
	}
	defer rows.Close()

	profiles := make([]Profile, 0, 16)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("supplier: scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("supplier: iterate profiles: %w", err)
	}
	return profiles, nil
}

func (r *Repository) execCounter(ctx context.Context, tx pgx.Tx, op, query string, args ...any) error {
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("supplier: %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordQuote counts a submitted quote and folds its response time into the
// running average.
func (r *Repository) RecordQuote(ctx context.Context, tx pgx.Tx, tenantID, id string, responseSeconds float64) error {
	const query = `
		UPDATE suppliers
		SET avg_response_seconds = (avg_response_seconds * total_quotes + $3) / (total_quotes + 1),
		    total_quotes = total_quotes + 1,
		    updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`
	return r.execCounter(ctx, tx, "record quote", query, id, tenantID, responseSeconds)
}

// RecordAward credits an order win to the supplier.
func (r *Repository) RecordAward(ctx context.Context, tx pgx.Tx, tenantID, id string, amount decimal.Decimal) error {
	const query = `
		UPDATE suppliers
		SET total_orders = total_orders + 1,
		    total_wins = total_wins + 1,
		    total_revenue = total_revenue + $3::numeric,
		    updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`
	return r.execCounter(ctx, tx, "record award", query, id, tenantID, amount)
}

// RecordDelivery folds a completed order into performance and reliability.
// Performance is the running mean of route efficiency on a 0-100 scale and
// reliability the share of on-time deliveries.
func (r *Repository) RecordDelivery(ctx context.Context, tx pgx.Tx, tenantID, id string, d Delivery) error {
	efficiency := d.Efficiency * 100
	if efficiency > 100 {
		efficiency = 100
	}
	if efficiency < 0 {
		efficiency = 0
	}
	onTime := 0
	if d.OnTime {
		onTime = 1
	}
	const query = `
		UPDATE suppliers
		SET performance_score = (performance_score * completed_deliveries + $3) / (completed_deliveries + 1),
		    reliability_score = 100.0 * (on_time_deliveries + $4) / (completed_deliveries + 1),
		    on_time_deliveries = on_time_deliveries + $4,
		    completed_deliveries = completed_deliveries + 1,
		    updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`
	return r.execCounter(ctx, tx, "record delivery", query, id, tenantID, efficiency, onTime)
}

// RecordRating folds a 1-5 satisfaction rating into the quality score.
func (r *Repository) RecordRating(ctx context.Context, tx pgx.Tx, tenantID, id string, rating int) error {
	const query = `
		UPDATE suppliers
		SET quality_score = (quality_score * rated_orders + $3 * 20.0) / (rated_orders + 1),
		    rated_orders = rated_orders + 1,
		    updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`
	return r.execCounter(ctx, tx, "record rating", query, id, tenantID, rating)
}

// RecordDispute counts a dispute against the supplier.
func (r *Repository) RecordDispute(ctx context.Context, tx pgx.Tx, tenantID, id string) error {
	const query = `
		UPDATE suppliers
		SET dispute_count = dispute_count + 1,
		    updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`
	return r.execCounter(ctx, tx, "record dispute", query, id, tenantID)
}
