// Package outbox stores integration events in the same transaction as the
// state change that produced them and relays them to the broker afterwards.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Enqueue inserts a pending message inside the caller's transaction.
func (r *Repository) Enqueue(ctx context.Context, tx pgx.Tx, tenantID, topic, key string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}
	const query = `INSERT INTO outbox (tenant_id, topic, key, payload) VALUES ($1, $2, $3, $4::jsonb)`
	if _, err := tx.Exec(ctx, query, tenantID, topic, key, body); err != nil {
		return fmt.Errorf("outbox: enqueue %s: %w", topic, err)
	}
	return nil
}

// ClaimPending locks up to limit pending messages, oldest first. Rows held
// by another relay are skipped.
func (r *Repository) ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error) {
	const query = `
		SELECT id, tenant_id, topic, key, payload, status, attempts, last_error, created_at, processed_at
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at ASC, id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	rows, err := tx.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: claim: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.TenantID, &m.Topic, &m.Key, &m.Payload, &m.Status, &m.Attempts, &m.LastError, &m.CreatedAt, &m.ProcessedAt); err != nil {
			return nil, fmt.Errorf("outbox: scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: iterate: %w", err)
	}
	return out, nil
}

// MarkProcessed records a successful publish.
func (r *Repository) MarkProcessed(ctx context.Context, tx pgx.Tx, id string, at time.Time) error {
	const query = `UPDATE outbox SET status = 'processed', processed_at = $2 WHERE id = $1`
	if _, err := tx.Exec(ctx, query, id, at); err != nil {
		return fmt.Errorf("outbox: mark processed: %w", err)
	}
	return nil
}

// MarkFailed counts a failed attempt. The message is parked as dead once it
// reaches maxAttempts.
func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, id, reason string, maxAttempts int) (Status, error) {
	const query = `
		UPDATE outbox
		SET attempts = attempts + 1,
		    last_error = $2,
		    status = CASE WHEN attempts + 1 >= $3 THEN 'dead' ELSE 'pending' END
		WHERE id = $1
		RETURNING status
	`
	var status Status
	if err := tx.QueryRow(ctx, query, id, reason, maxAttempts).Scan(&status); err != nil {
		return "", fmt.Errorf("outbox: mark failed: %w", err)
	}
	return status, nil
}
