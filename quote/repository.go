package quote

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
	// ErrNotFound is returned when the quote does not exist in the tenant.
	ErrNotFound = fmt.Errorf("quote: %w", apperr.ErrNotFound)
	// ErrDuplicateNumber reports a numbering collision; callers retry.
	ErrDuplicateNumber = errors.New("quote: duplicate number")
	// ErrDuplicate is returned when the supplier already has an active quote on the RFQ.
	ErrDuplicate = fmt.Errorf("quote: %w", apperr.ErrDuplicateQuote)
	// ErrWinnerExists is returned when another quote of the RFQ already won.
	ErrWinnerExists = fmt.Errorf("quote: %w", apperr.ErrAlreadyAwarded)
)

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

const selectColumns = `
	id, tenant_id, number, rfq_id, supplier_id, base_price, line_items, total_price,
	currency, lead_time_days, valid_until, notes, status,
	score, rank, recommendation, score_breakdown, rationale, scored_at,
	advisory_label, advisory_confidence, advisory_rationale,
	is_winning, submitted_at, created_at, updated_at
`

func scanQuote(row pgx.Row) (Quote, error) {
	var q Quote
	err := row.Scan(
		&q.ID, &q.TenantID, &q.Number, &q.RFQID, &q.SupplierID, &q.BasePrice, &q.LineItems, &q.TotalPrice,
		&q.Currency, &q.LeadTimeDays, &q.ValidUntil, &q.Notes, &q.Status,
		&q.Score, &q.Rank, &q.Recommendation, &q.Breakdown, &q.Rationale, &q.ScoredAt,
		&q.AdvisoryLabel, &q.AdvisoryConfidence, &q.AdvisoryRationale,
		&q.IsWinning, &q.SubmittedAt, &q.CreatedAt, &q.UpdatedAt,
	)
	return q, err
}

func collect(rows pgx.Rows) ([]Quote, error) {
	defer rows.Close()
	var out []Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, fmt.Errorf("quote: scan: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("quote: iterate: %w", err)
	}
	return out, nil
}

// Insert stores a SUBMITTED quote. The partial unique index on
// (rfq_id, supplier_id) backs the duplicate check done under the RFQ lock.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, q Quote) (Quote, error) {
	items := q.LineItems
	if items == nil {
		items = []LineItem{}
	}
	lineItems, err := json.Marshal(items)
	if err != nil {
		return Quote{}, fmt.Errorf("quote: marshal line items: %w", err)
	}

	query := `
		INSERT INTO quotes (tenant_id, number, rfq_id, supplier_id, base_price, line_items,
		                    total_price, currency, lead_time_days, valid_until, notes, status, submitted_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::jsonb, $7::numeric, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (tenant_id, number) DO NOTHING
		RETURNING ` + selectColumns

	out, err := scanQuote(tx.QueryRow(ctx, query,
		q.TenantID, q.Number, q.RFQID, q.SupplierID, q.BasePrice, lineItems,
		q.TotalPrice, q.Currency, q.LeadTimeDays, q.ValidUntil, q.Notes, q.Status, q.SubmittedAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quote{}, ErrDuplicateNumber
		}
		if db.IsUniqueViolation(err, "quotes_one_active_per_supplier") {
			return Quote{}, ErrDuplicate
		}
		return Quote{}, fmt.Errorf("quote: insert: %w", err)
	}
	return out, nil
}

// HasActive reports whether the supplier already holds a non-withdrawn quote
// on the RFQ.
func (r *Repository) HasActive(ctx context.Context, tx pgx.Tx, tenantID, rfqID, supplierID string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM quotes
			WHERE tenant_id = $1 AND rfq_id = $2 AND supplier_id = $3 AND status <> 'WITHDRAWN'
		)
	`
	var exists bool
	if err := tx.QueryRow(ctx, query, tenantID, rfqID, supplierID).Scan(&exists); err != nil {
		return false, fmt.Errorf("quote: check active: %w", err)
	}
	return exists, nil
}

// Get reads a quote without locking.
func (r *Repository) Get(ctx context.Context, q db.Querier, tenantID, id string) (Quote, error) {
	return r.get(ctx, q, tenantID, id, "")
}

// GetForUpdate locks the quote row.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID, id string) (Quote, error) {
	return r.get(ctx, tx, tenantID, id, " FOR UPDATE")
}

func (r *Repository) get(ctx context.Context, q db.Querier, tenantID, id, lock string) (Quote, error) {
	query := `SELECT ` + selectColumns + ` FROM quotes WHERE id = $1 AND tenant_id = $2` + lock
	rec, err := scanQuote(q.QueryRow(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quote{}, ErrNotFound
		}
		return Quote{}, fmt.Errorf("quote: get: %w", err)
	}
	return rec, nil
}

// ListForRFQ returns the RFQ's quotes by rank, unranked last, then by
// submission time. A non-empty supplierID restricts the list to that supplier.
func (r *Repository) ListForRFQ(ctx context.Context, q db.Querier, tenantID, rfqID, supplierID string) ([]Quote, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM quotes
		WHERE tenant_id = $1 AND rfq_id = $2 AND ($3 = '' OR supplier_id::text = $3)
		ORDER BY rank ASC NULLS LAST, submitted_at ASC, id ASC
	`
	rows, err := q.Query(ctx, query, tenantID, rfqID, supplierID)
	if err != nil {
		return nil, fmt.Errorf("quote: list: %w", err)
	}
	return collect(rows)
}

// ListForRFQForUpdate locks every quote of the RFQ.
func (r *Repository) ListForRFQForUpdate(ctx context.Context, tx pgx.Tx, tenantID, rfqID string) ([]Quote, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM quotes
		WHERE tenant_id = $1 AND rfq_id = $2
		ORDER BY submitted_at ASC, id ASC
		FOR UPDATE
	`
	rows, err := tx.Query(ctx, query, tenantID, rfqID)
	if err != nil {
		return nil, fmt.Errorf("quote: list for update: %w", err)
	}
	return collect(rows)
}

// MarkExpired moves active quotes whose validity elapsed to EXPIRED and clears
// their rank.
func (r *Repository) MarkExpired(ctx context.Context, tx pgx.Tx, tenantID string, ids []string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	const query = `
		UPDATE quotes
		SET status = 'EXPIRED', rank = NULL, updated_at = $3
		WHERE tenant_id = $1 AND id = ANY($2::uuid[]) AND status IN ('SUBMITTED','UNDER_REVIEW')
	`
	tag, err := tx.Exec(ctx, query, tenantID, ids, at)
	if err != nil {
		return 0, fmt.Errorf("quote: mark expired: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SaveAnalysis persists score, rank, tier and rationale. A SUBMITTED quote
// moves to UNDER_REVIEW once scored. Advice from an earlier run is cleared so
// it never sits next to a score it was not given for.
func (r *Repository) SaveAnalysis(ctx context.Context, tx pgx.Tx, tenantID string, a Analysis, at time.Time) error {
	breakdown, err := json.Marshal(a.Breakdown)
	if err != nil {
		return fmt.Errorf("quote: marshal breakdown: %w", err)
	}
	const query = `
		UPDATE quotes
		SET score = $3, rank = $4, recommendation = $5, score_breakdown = $6::jsonb,
		    rationale = $7, scored_at = $8, updated_at = $8,
		    advisory_label = NULL, advisory_confidence = NULL, advisory_rationale = NULL,
		    status = CASE WHEN status = 'SUBMITTED' THEN 'UNDER_REVIEW' ELSE status END
		WHERE id = $1 AND tenant_id = $2
	`
	tag, err := tx.Exec(ctx, query, a.QuoteID, tenantID, a.Score, a.Rank, a.Recommendation, breakdown, a.Rationale, at)
	if err != nil {
		return fmt.Errorf("quote: save analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveAdvisory stores external reasoning output. It runs outside the scoring
// transaction and touches no authoritative column.
func (r *Repository) SaveAdvisory(ctx context.Context, q db.Querier, tenantID string, a Advisory) error {
	const query = `
		UPDATE quotes
		SET advisory_label = $3, advisory_confidence = $4, advisory_rationale = $5, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`
	if _, err := q.Exec(ctx, query, a.QuoteID, tenantID, a.Label, a.Confidence, a.Rationale); err != nil {
		return fmt.Errorf("quote: save advisory: %w", err)
	}
	return nil
}

// MarkWinner selects the quote. The partial unique index on winning quotes
// turns a concurrent second winner into ErrWinnerExists.
func (r *Repository) MarkWinner(ctx context.Context, tx pgx.Tx, tenantID, id string, at time.Time) (Quote, error) {
	query := `
		UPDATE quotes
		SET status = 'SELECTED', is_winning = true, updated_at = $3
		WHERE id = $1 AND tenant_id = $2 AND status IN ('SUBMITTED','UNDER_REVIEW') AND NOT is_winning
		RETURNING ` + selectColumns

	rec, err := scanQuote(tx.QueryRow(ctx, query, id, tenantID, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quote{}, fmt.Errorf("quote: select winner: %w", apperr.ErrInvalidTransition)
		}
		if db.IsUniqueViolation(err, "quotes_one_winner_per_rfq") {
			return Quote{}, ErrWinnerExists
		}
		return Quote{}, fmt.Errorf("quote: select winner: %w", err)
	}
	return rec, nil
}

// RejectSiblings rejects every other active quote of the RFQ.
func (r *Repository) RejectSiblings(ctx context.Context, tx pgx.Tx, tenantID, rfqID, winnerID string, at time.Time) (int64, error) {
	const query = `
		UPDATE quotes
		SET status = 'REJECTED', updated_at = $4
		WHERE tenant_id = $1 AND rfq_id = $2 AND id <> $3 AND status IN ('DRAFT','SUBMITTED','UNDER_REVIEW')
	`
	tag, err := tx.Exec(ctx, query, tenantID, rfqID, winnerID, at)
	if err != nil {
		return 0, fmt.Errorf("quote: reject siblings: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RejectActive rejects every active quote of a cancelled RFQ.
func (r *Repository) RejectActive(ctx context.Context, tx pgx.Tx, tenantID, rfqID string, at time.Time) (int64, error) {
	return r.settleActive(ctx, tx, "REJECTED", tenantID, rfqID, at)
}

// ExpireActive expires every active quote of an expired RFQ.
func (r *Repository) ExpireActive(ctx context.Context, tx pgx.Tx, tenantID, rfqID string, at time.Time) (int64, error) {
	return r.settleActive(ctx, tx, "EXPIRED", tenantID, rfqID, at)
}

func (r *Repository) settleActive(ctx context.Context, tx pgx.Tx, to, tenantID, rfqID string, at time.Time) (int64, error) {
	const query = `
		UPDATE quotes
		SET status = $3, updated_at = $4
		WHERE tenant_id = $1 AND rfq_id = $2 AND status IN ('DRAFT','SUBMITTED','UNDER_REVIEW')
	`
	tag, err := tx.Exec(ctx, query, tenantID, rfqID, to, at)
	if err != nil {
		return 0, fmt.Errorf("quote: settle active: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Withdraw retracts an active quote.
func (r *Repository) Withdraw(ctx context.Context, tx pgx.Tx, tenantID, id string, at time.Time) (Quote, error) {
	query := `
		UPDATE quotes
		SET status = 'WITHDRAWN', rank = NULL, updated_at = $3
		WHERE id = $1 AND tenant_id = $2 AND status IN ('SUBMITTED','UNDER_REVIEW')
		RETURNING ` + selectColumns

	rec, err := scanQuote(tx.QueryRow(ctx, query, id, tenantID, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quote{}, fmt.Errorf("quote: withdraw: %w", apperr.ErrInvalidTransition)
		}
		return Quote{}, fmt.Errorf("quote: withdraw: %w", err)
	}
	return rec, nil
}
