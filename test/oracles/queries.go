package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Oracle is a query that must return no rows while the engine is consistent.
type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_winner",
			SQL: `SELECT rfq_id, COUNT(*) FROM quotes
                  WHERE is_winning
                  GROUP BY rfq_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_winner_matches_rfq",
			SQL: `SELECT r.id, r.status, r.winning_quote_id FROM rfqs r
                  LEFT JOIN quotes q ON q.id = r.winning_quote_id
                  WHERE r.status = 'AWARDED'
                    AND (q.id IS NULL OR NOT q.is_winning OR q.rfq_id <> r.id OR q.status <> 'SELECTED')`,
		},
		{
			Name: "O3_one_order_per_award",
			SQL: `SELECT r.id, r.status, o.id FROM rfqs r
                  LEFT JOIN orders o ON o.rfq_id = r.id
                  WHERE (r.status = 'AWARDED') <> (o.id IS NOT NULL)
                     OR (o.id IS NOT NULL AND o.quote_id <> r.winning_quote_id)`,
		},
		{
			Name: "O4_party_counters",
			SQL: `SELECT 'supplier' AS party, s.id, s.total_orders, s.total_wins, COUNT(o.id) FROM suppliers s
                  LEFT JOIN orders o ON o.supplier_id = s.id
                  GROUP BY s.id
                  HAVING s.total_orders <> COUNT(o.id) OR s.total_wins <> COUNT(o.id)
                  UNION ALL
                  SELECT 'customer', c.id, c.total_orders, c.total_orders, COUNT(o.id) FROM customers c
                  LEFT JOIN orders o ON o.customer_id = c.id
                  GROUP BY c.id
                  HAVING c.total_orders <> COUNT(o.id)`,
		},
		{
			Name: "O5_siblings_settled",
			SQL: `SELECT q.id, q.status, r.status FROM quotes q
                  JOIN rfqs r ON r.id = q.rfq_id
                  WHERE r.status IN ('AWARDED','EXPIRED','CANCELLED')
                    AND q.status IN ('SUBMITTED','UNDER_REVIEW')`,
		},
		{
			Name: "O6_completed_without_delivery",
			SQL: `SELECT o.id FROM orders o
                  WHERE o.status = 'COMPLETED'
                    AND NOT EXISTS (SELECT 1 FROM tracking_events e
                                    WHERE e.order_id = o.id AND e.event_type = 'DELIVERED')`,
		},
		{
			Name: "O7_dispute_order_state",
			SQL: `SELECT o.id, o.status, COUNT(d.id) FILTER (WHERE d.status = 'open') FROM orders o
                  LEFT JOIN disputes d ON d.order_id = o.id
                  GROUP BY o.id
                  HAVING (o.status = 'DISPUTED') <> (COUNT(d.id) FILTER (WHERE d.status = 'open') = 1)`,
		},
		{
			Name: "O8_outbox_stale",
			SQL: `SELECT id, topic, attempts FROM outbox
                  WHERE status = 'pending'
                    AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
