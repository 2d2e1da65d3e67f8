package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sourcingflow/auth"
	"sourcingflow/award"
	"sourcingflow/config"
	"sourcingflow/customer"
	"sourcingflow/db"
	"sourcingflow/dispute"
	"sourcingflow/logger"
	"sourcingflow/metrics"
	"sourcingflow/order"
	"sourcingflow/outbox"
	"sourcingflow/profile"
	"sourcingflow/quote"
	"sourcingflow/reasoning"
	"sourcingflow/request"
	"sourcingflow/rfq"
	"sourcingflow/scoring"
	"sourcingflow/supplier"
	"sourcingflow/tracking"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sourcingflow api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("sourcingflow-api")
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogLevel, cfg.Server.Env, cfg.ServiceName)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)
	log.Info("starting", cfg.LogFields()...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DB.URL, db.PoolConfig{
		MaxConns:        int32(cfg.DB.MaxConns),
		MaxConnIdleTime: cfg.DB.MaxConnIdleTime,
		MaxConnLifetime: cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("bootstrap database pool: %w", err)
	}
	defer pool.Close()

	if cfg.DB.MigrateOnStart {
		if err := db.Migrate(ctx, pool); err != nil {
			return err
		}
		log.Info("migrations applied")
	}

	m := metrics.New("sourcingflow")
	srv, closeCache := newServer(ctx, cfg, pool, m, log)
	defer closeCache()

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newServer wires repositories and services around one pool. The returned
// func releases the optional Redis client and must run after the HTTP server
// has stopped.
func newServer(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, m *metrics.Metrics, log *zap.Logger) (*Server, func()) {
	profiles := profile.DefaultRegistry()

	outboxRepo := outbox.NewRepository()
	requestRepo := request.NewRepository()
	rfqRepo := rfq.NewRepository()
	quoteRepo := quote.NewRepository()
	orderRepo := order.NewRepository()
	supplierRepo := supplier.NewRepository()
	customerRepo := customer.NewRepository()
	trackingRepo := tracking.NewRepository()
	disputeRepo := dispute.NewRepository()

	requestService := request.NewService(pool, requestRepo, customerRepo, outboxRepo, profiles)
	rfqService := rfq.NewService(pool, rfqRepo, requestRepo, supplierRepo, quoteRepo, outboxRepo, profiles).
		WithSubmittedRequests(cfg.Policy.AllowSubmittedRequests)
	quoteService := quote.NewService(pool, quoteRepo, rfqRepo, supplierRepo, outboxRepo, profiles).
		WithMetrics(m)

	scoringService := scoring.NewService(pool, rfqRepo, quoteRepo, requestRepo, supplierRepo, outboxRepo, profiles).
		WithMetrics(m)
	if cfg.Reasoning.URL != "" {
		advisor := reasoning.NewGuarded(reasoning.NewClient(cfg.Reasoning.URL, cfg.Reasoning.Timeout), reasoning.GuardConfig{
			Timeout:  cfg.Reasoning.Timeout,
			Failures: uint32(cfg.Reasoning.BreakerFailures),
			Cooldown: cfg.Reasoning.BreakerCooldown,
		})
		scoringService = scoringService.WithAdvisor(advisor, cfg.Reasoning.Concurrency)
		log.Info("advisory enrichment enabled", zap.String("url", cfg.Reasoning.URL))
	}

	awardService := award.NewService(pool, award.Deps{
		RFQs:      rfqRepo,
		Quotes:    quoteRepo,
		Requests:  requestRepo,
		Orders:    orderRepo,
		Suppliers: supplierRepo,
		Customers: customerRepo,
		Outbox:    outboxRepo,
		Profiles:  profiles,
	}).WithMetrics(m)

	trackingService := tracking.NewService(pool, trackingRepo, orderRepo, supplierRepo, outboxRepo, profiles).
		WithMetrics(m)
	closeCache := func() {}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, lane norms read from postgres", zap.Error(err))
			_ = rdb.Close()
		} else {
			trackingService = trackingService.WithCache(tracking.NewRedisNormCache(rdb, cfg.Redis.TTL))
			closeCache = func() {
				if err := rdb.Close(); err != nil {
					log.Warn("close redis client", zap.Error(err))
				}
			}
		}
	}

	srv := &Server{
		requests:  requestService,
		rfqs:      rfqService,
		quotes:    quoteService,
		scoring:   scoringService,
		awards:    awardService,
		orders:    order.NewService(pool, orderRepo, supplierRepo, outboxRepo),
		tracking:  trackingService,
		disputes:  dispute.NewService(pool, disputeRepo, orderRepo, supplierRepo, outboxRepo),
		suppliers: supplier.NewService(pool, supplierRepo),
		customers: customer.NewService(pool, customerRepo),
		auth:      auth.NewService(auth.NewRepository(pool), cfg.JWT.Secret).WithTTL(cfg.JWT.TTL),
		metrics:   m,
		ping:      pool.Ping,
		log:       log,
	}
	return srv, closeCache
}
