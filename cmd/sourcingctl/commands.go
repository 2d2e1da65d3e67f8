package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sourcingflow/auth"
	"sourcingflow/db"
	"sourcingflow/messaging"
	"sourcingflow/messaging/kafka"
	"sourcingflow/outbox"
	"sourcingflow/profile"
	"sourcingflow/quote"
	"sourcingflow/request"
	"sourcingflow/rfq"
	"sourcingflow/supplier"
)

func newMigrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply every pending migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				pool, err := a.pool(cmd.Context())
				if err != nil {
					return err
				}
				defer pool.Close()
				if err := db.Migrate(cmd.Context(), pool); err != nil {
					return err
				}
				a.log.Info("migrations applied")
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show which migrations are applied",
			RunE: func(cmd *cobra.Command, args []string) error {
				pool, err := a.pool(cmd.Context())
				if err != nil {
					return err
				}
				defer pool.Close()
				return db.MigrationStatus(cmd.Context(), pool)
			},
		},
	)
	return cmd
}

func newSweepCmd(a *app) *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Persist EXPIRED on published RFQs past their deadline",
		Long: "Reads already treat an elapsed RFQ as expired; the sweep makes it durable and\n" +
			"settles the RFQ's open quotes. With --every it repeats until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			pool, err := a.pool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := rfq.NewService(pool, rfq.NewRepository(), request.NewRepository(), supplier.NewRepository(),
				quote.NewRepository(), outbox.NewRepository(), profile.DefaultRegistry())

			for {
				n, err := svc.SweepExpired(ctx)
				if err != nil && !errors.Is(err, ctx.Err()) {
					return fmt.Errorf("sweep: %w", err)
				}
				a.log.Info("expiry sweep finished", zap.Int("expired", n))
				if every <= 0 {
					return nil
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(every):
				}
			}
		},
	}
	cmd.Flags().DurationVar(&every, "every", 0, "repeat the sweep at this interval")
	return cmd
}

func newRelayCmd(a *app) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Publish pending outbox messages until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			pool, err := a.pool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			var publisher messaging.Publisher
			if len(a.cfg.Kafka.Brokers) > 0 {
				kp := kafka.NewPublisher(a.cfg.Kafka.Brokers, a.cfg.Kafka.TopicPrefix)
				defer func() {
					if err := kp.Close(); err != nil {
						a.log.Warn("close kafka writer", zap.Error(err))
					}
				}()
				publisher = kp
				a.log.Info("publishing to kafka", zap.Strings("brokers", a.cfg.Kafka.Brokers))
			} else {
				publisher = messaging.NewLogPublisher(a.log)
				a.log.Warn("no kafka brokers configured, outbox messages are only logged")
			}

			relay := outbox.NewRelay(pool, outbox.NewRepository(), publisher, outbox.RelayConfig{
				BatchSize: a.cfg.Kafka.RelayBatch,
				Interval:  a.cfg.Kafka.RelayInterval,
				Retries:   3,
			}, a.log)

			if once {
				n, err := relay.RunOnce(ctx)
				if err != nil {
					return err
				}
				a.log.Info("relay pass finished", zap.Int("messages", n))
				return nil
			}
			if err := relay.Run(ctx); err != nil && !errors.Is(err, ctx.Err()) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single relay pass and exit")
	return cmd
}

func newTokenCmd(a *app) *cobra.Command {
	var p auth.Principal
	var role string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			if p.TenantID == "" || p.UserID == "" {
				return fmt.Errorf("token: --tenant and --user are required")
			}
			p.Role = auth.Role(role)
			svc := auth.NewService(nil, a.cfg.JWT.Secret).WithTTL(a.cfg.JWT.TTL)
			token, expires, err := svc.IssueToken(p)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			a.log.Info("token issued", zap.String("role", role), zap.Time("expires_at", expires))
			return nil
		},
	}
	cmd.Flags().StringVar(&p.TenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&p.UserID, "user", "", "user id")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleBuyer), "customer, supplier, buyer, carrier or admin")
	cmd.Flags().StringVar(&p.PartyID, "party", "", "customer or supplier id linked to the user")
	return cmd
}

func newUserCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage login accounts",
	}

	var req auth.RegisterRequest
	var role string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a user that can log in through /auth/login",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := a.pool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			req.Role = auth.Role(role)
			svc := auth.NewService(auth.NewRepository(pool), a.cfg.JWT.Secret)
			user, err := svc.Register(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), user.ID)
			return nil
		},
	}
	add.Flags().StringVar(&req.TenantID, "tenant", "", "tenant id")
	add.Flags().StringVar(&req.Email, "email", "", "login email")
	add.Flags().StringVar(&req.Password, "password", "", "initial password")
	add.Flags().StringVar(&req.FullName, "name", "", "display name")
	add.Flags().StringVar(&role, "role", string(auth.RoleBuyer), "customer, supplier, buyer, carrier or admin")
	add.Flags().StringVar(&req.PartyID, "party", "", "customer or supplier id linked to the user")

	cmd.AddCommand(add)
	return cmd
}
