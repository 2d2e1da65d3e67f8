package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ApplicationName tags every harness connection so chaos only kills ours.
const ApplicationName = "sourcingflow-harness"

// ErrNoDatabase is returned when no DSN, Docker daemon or local Postgres is
// available. Callers skip rather than fail.
var ErrNoDatabase = errors.New("infra: no postgres available")

// Harness owns the database a test run works against and the migrated pool.
type Harness struct {
	container *PGContainer
	pool      *pgxpool.Pool
	teardown  func(context.Context) error
	dsn       string
}

// NewHarness resolves a database in order: dsn, STRESS_TEST_PG_DSN,
// DATABASE_URL, a Docker container, a local Postgres. Shared databases get an
// isolated schema.
func NewHarness(ctx context.Context, dsn string) (*Harness, error) {
	h := &Harness{container: &PGContainer{}}
	shared := true

	switch {
	case dsn != "":
	case os.Getenv("STRESS_TEST_PG_DSN") != "":
		dsn = os.Getenv("STRESS_TEST_PG_DSN")
	case os.Getenv("DATABASE_URL") != "":
		dsn = os.Getenv("DATABASE_URL")
	case dockerAvailable(ctx):
		c, containerDSN, err := StartPostgres16(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("start postgres: %w", err)
		}
		h.container, dsn, shared = c, containerDSN, false
	default:
		local, err := InitLocalDatabase(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoDatabase, err)
		}
		dsn, shared = local, false
	}
	h.dsn = dsn

	pool, teardown, err := ApplyMigrations(ctx, dsn, shared)
	if err != nil {
		_ = h.container.Terminate(ctx)
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	h.pool, h.teardown = pool, teardown
	return h, nil
}

// Pool exposes the migrated pgx pool.
func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

// DSN returns the connection string for direct connections.
func (h *Harness) DSN() string {
	return h.dsn
}

// Close drops the isolated schema if any and tears down resources.
func (h *Harness) Close(ctx context.Context) error {
	var errs []error
	if h.pool != nil {
		h.pool.Close()
	}
	if h.teardown != nil {
		errs = append(errs, h.teardown(ctx))
	}
	errs = append(errs, h.container.Terminate(ctx))
	return errors.Join(errs...)
}

// Reset truncates every mutable table to give the next test a clean slate.
func (h *Harness) Reset(ctx context.Context) error {
	tables := []string{
		"outbox",
		"disputes",
		"lane_stats",
		"tracking_events",
		"orders",
		"quotes",
		"rfqs",
		"requests",
		"users",
		"suppliers",
		"customers",
		"tenants",
	}
	idents := make([]string, len(tables))
	for i, t := range tables {
		idents[i] = pgx.Identifier{t}.Sanitize()
	}
	// The append-only trigger on tracking_events does not fire for TRUNCATE.
	if _, err := h.pool.Exec(ctx, "TRUNCATE "+strings.Join(idents, ", ")+" CASCADE"); err != nil {
		return fmt.Errorf("reset tables: %w", err)
	}
	return nil
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}
