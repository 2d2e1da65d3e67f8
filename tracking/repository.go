package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"sourcingflow/apperr"
	"sourcingflow/db"
	"sourcingflow/profile"
)

var (
	// ErrNotFound is returned when an event does not exist.
	ErrNotFound = fmt.Errorf("tracking: %w", apperr.ErrNotFound)
	// ErrDuplicateEvent reports an already recorded (order, event key) pair.
	ErrDuplicateEvent = errors.New("tracking: duplicate event")
)

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

const eventColumns = `
	id, tenant_id, order_id, event_key, event_type, occurred_at, location, description,
	reported_by, predicted_next_event, predicted_next_at, delay_risk, created_at
`

func scanEvent(row pgx.Row) (Event, error) {
	var e Event
	err := row.Scan(
		&e.ID, &e.TenantID, &e.OrderID, &e.EventKey, &e.Type, &e.OccurredAt, &e.Location, &e.Description,
		&e.ReportedBy, &e.PredictedNextEvent, &e.PredictedNextAt, &e.DelayRisk, &e.CreatedAt,
	)
	return e, err
}

// InsertEvent appends e. A second insert with the same order and event key
// writes nothing and returns ErrDuplicateEvent.
func (r *Repository) InsertEvent(ctx context.Context, tx pgx.Tx, e Event) (Event, error) {
	query := `
		INSERT INTO tracking_events (tenant_id, order_id, event_key, event_type, occurred_at, location,
		                             description, reported_by, predicted_next_event, predicted_next_at, delay_risk)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (order_id, event_key) DO NOTHING
		RETURNING ` + eventColumns

	created, err := scanEvent(tx.QueryRow(ctx, query,
		e.TenantID, e.OrderID, e.EventKey, string(e.Type), e.OccurredAt, e.Location,
		e.Description, e.ReportedBy, e.PredictedNextEvent, e.PredictedNextAt, e.DelayRisk,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Event{}, ErrDuplicateEvent
		}
		return Event{}, fmt.Errorf("tracking: insert event: %w", err)
	}
	return created, nil
}

// GetByKey returns the event recorded under key for the order.
func (r *Repository) GetByKey(ctx context.Context, q db.Querier, tenantID, orderID, key string) (Event, error) {
	query := `SELECT ` + eventColumns + ` FROM tracking_events WHERE tenant_id = $1 AND order_id = $2 AND event_key = $3`

	e, err := scanEvent(q.QueryRow(ctx, query, tenantID, orderID, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Event{}, ErrNotFound
		}
		return Event{}, fmt.Errorf("tracking: query by key: %w", err)
	}
	return e, nil
}

// List returns the order's events ordered by occurrence.
func (r *Repository) List(ctx context.Context, q db.Querier, tenantID, orderID string) ([]Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM tracking_events
		WHERE tenant_id = $1 AND order_id = $2
		ORDER BY occurred_at ASC, created_at ASC, id ASC
	`
	rows, err := q.Query(ctx, query, tenantID, orderID)
	if err != nil {
		return nil, fmt.Errorf("tracking: list: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, 8)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("tracking: scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tracking: iterate events: %w", err)
	}
	return events, nil
}

// ObserveLane folds one observed interval into the lane's running mean.
func (r *Repository) ObserveLane(ctx context.Context, tx pgx.Tx, tenantID, vertical, lane string, from, to profile.EventType, elapsed time.Duration) error {
	const query = `
		INSERT INTO lane_stats (tenant_id, vertical, lane, from_event, to_event, avg_seconds, samples, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, now())
		ON CONFLICT (tenant_id, vertical, lane, from_event, to_event) DO UPDATE
		SET avg_seconds = (lane_stats.avg_seconds * lane_stats.samples + EXCLUDED.avg_seconds) / (lane_stats.samples + 1),
		    samples = lane_stats.samples + 1,
		    updated_at = now()
	`
	if _, err := tx.Exec(ctx, query, tenantID, vertical, lane, string(from), string(to), elapsed.Seconds()); err != nil {
		return fmt.Errorf("tracking: observe lane: %w", err)
	}
	return nil
}

// LaneNorms returns the observed mean interval leading into each step of the
// lane. Steps without history are absent.
func (r *Repository) LaneNorms(ctx context.Context, q db.Querier, tenantID, vertical, lane string) (map[profile.EventType]time.Duration, error) {
	const query = `
		SELECT to_event, SUM(avg_seconds * samples) / SUM(samples)
		FROM lane_stats
		WHERE tenant_id = $1 AND vertical = $2 AND lane = $3
		GROUP BY to_event
	`
	rows, err := q.Query(ctx, query, tenantID, vertical, lane)
	if err != nil {
		return nil, fmt.Errorf("tracking: lane norms: %w", err)
	}
	defer rows.Close()

	norms := make(map[profile.EventType]time.Duration)
	for rows.Next() {
		var (
			step    string
			seconds float64
		)
		if err := rows.Scan(&step, &seconds); err != nil {
			return nil, fmt.Errorf("tracking: scan lane norm: %w", err)
		}
		norms[profile.EventType(step)] = time.Duration(seconds * float64(time.Second))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tracking: iterate lane norms: %w", err)
	}
	return norms, nil
}
