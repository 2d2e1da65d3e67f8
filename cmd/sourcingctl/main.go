// Command sourcingctl runs the operational side of the sourcing engine:
// migrations, the RFQ expiry sweep, the outbox relay and dev credentials.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sourcingflow/config"
	"sourcingflow/db"
	"sourcingflow/logger"
)

// app is what every subcommand shares once the root pre-run has loaded it.
type app struct {
	cfg *config.Config
	log *zap.Logger
}

func main() {
	a := &app{}
	if err := newRootCmd(a).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "sourcingctl",
		Short:         "Operate the sourcing engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load("sourcingctl")
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.LogLevel, cfg.Server.Env, cfg.ServiceName)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			logger.SetDefault(log)
			a.cfg = cfg
			a.log = log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	root.AddCommand(
		newMigrateCmd(a),
		newSweepCmd(a),
		newRelayCmd(a),
		newTokenCmd(a),
		newUserCmd(a),
	)
	return root
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func (a *app) pool(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := db.NewPool(ctx, a.cfg.DB.URL, db.PoolConfig{
		MaxConns:        int32(a.cfg.DB.MaxConns),
		MaxConnIdleTime: a.cfg.DB.MaxConnIdleTime,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap database pool: %w", err)
	}
	return pool, nil
}
