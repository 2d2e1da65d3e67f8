package infra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Fixture is the tenant, customer and supplier set a run works with.
type Fixture struct {
	TenantID    string
	CustomerID  string
	SupplierIDs []string
}

// Seed inserts a tenant with one customer and n freight suppliers.
func Seed(ctx context.Context, pool *pgxpool.Pool, tenantID string, n int) (Fixture, error) {
	f := Fixture{TenantID: tenantID}
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO tenants (id, name) VALUES ($1, $2)`, tenantID, "Tenant "+tenantID); err != nil {
			return fmt.Errorf("seed tenant: %w", err)
		}
		if err := tx.QueryRow(ctx,
			`INSERT INTO customers (tenant_id, name) VALUES ($1, $2) RETURNING id`,
			tenantID, "Acme Imports",
		).Scan(&f.CustomerID); err != nil {
			return fmt.Errorf("seed customer: %w", err)
		}
		for i := 0; i < n; i++ {
			var id string
			if err := tx.QueryRow(ctx,
				`INSERT INTO suppliers (tenant_id, name, capabilities, certifications)
				 VALUES ($1, $2, $3, $4) RETURNING id`,
				tenantID, fmt.Sprintf("Carrier %d", i+1), []string{"ftl", "refrigerated"}, []string{"iso9001"},
			).Scan(&id); err != nil {
				return fmt.Errorf("seed supplier %d: %w", i, err)
			}
			f.SupplierIDs = append(f.SupplierIDs, id)
		}
		return nil
	})
	return f, err
}
