package settlementd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/MarkoPoloResearchLab/settlement/internal/dedupe"
	"github.com/MarkoPoloResearchLab/settlement/internal/gateway/phonepe"
	"github.com/MarkoPoloResearchLab/settlement/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/settlement/internal/httpapi"
	"github.com/MarkoPoloResearchLab/settlement/internal/jobs"
	"github.com/MarkoPoloResearchLab/settlement/internal/oplog"
	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
	"github.com/MarkoPoloResearchLab/settlement/pkg/settlement"
)

// Run boots the HTTP API, the gRPC facade and the reconciliation scheduler,
// and blocks until ctx is done or one of them fails.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("zap init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	opened, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer opened.cleanup()

	app, err := assemble(cfg, opened, logger)
	if err != nil {
		return err
	}

	cache, closeCache, err := openDedupe(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	router, err := httpapi.NewRouter(httpapi.Config{AllowedOrigins: cfg.AllowedOrigins}, httpapi.Dependencies{
		Coordinator: app.coordinator,
		Sweeper:     app.sweeper,
		Ledger:      app.ledger,
		Webhooks:    app.gateway,
		Dedupe:      cache,
		Health:      opened,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.GRPCListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	grpcServer := grpc.NewServer()
	healthServer := grpcserver.Register(grpcServer, grpcserver.NewSettlementServiceServer(app.coordinator, app.ledger))

	runContext, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	go func() {
		errCh <- httpapi.Serve(runContext, cfg.ListenAddr, router, logger)
	}()
	go func() {
		logger.Info("gRPC server starting", zap.String("listen_addr", cfg.GRPCListenAddr))
		serveErr := grpcServer.Serve(listener)
		if errors.Is(serveErr, grpc.ErrServerStopped) {
			serveErr = nil
		}
		errCh <- serveErr
	}()
	go grpcserver.WatchHealth(runContext, healthServer, opened, cfg.HealthInterval)
	go func() {
		errCh <- runScheduler(runContext, cfg, opened.pool, app.sweeper, logger)
	}()

	var firstErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case firstErr = <-errCh:
		if firstErr != nil {
			logger.Error("component stopped", zap.Error(firstErr))
		}
	}
	cancel()
	grpcServer.GracefulStop()
	return firstErr
}

type application struct {
	ledger      *ledger.Service
	coordinator *settlement.Coordinator
	sweeper     *settlement.Sweeper
	gateway     *phonepe.Client
}

func assemble(cfg Config, opened backend, logger *zap.Logger) (application, error) {
	clock := func() time.Time { return time.Now().UTC() }
	ledgerService, err := ledger.NewService(opened.ledger, clock, ledger.WithOperationLogger(oplog.New(logger)))
	if err != nil {
		return application{}, fmt.Errorf("ledger service init: %w", err)
	}
	tracker, err := settlement.NewTracker(opened.orders, clock, settlement.WithOrderCurrency(cfg.Currency))
	if err != nil {
		return application{}, fmt.Errorf("tracker init: %w", err)
	}
	gateway, err := phonepe.NewClient(cfg.PhonePe, phonepe.WithLogger(logger.Named("phonepe")))
	if err != nil {
		return application{}, fmt.Errorf("gateway init: %w", err)
	}
	coordinator, err := settlement.NewCoordinator(opened.orders, ledgerService, tracker, gateway, clock,
		settlement.WithLogger(logger.Named("settlement")),
		settlement.WithGatewayTimeout(cfg.Sweep.GatewayTimeout))
	if err != nil {
		return application{}, fmt.Errorf("coordinator init: %w", err)
	}
	sweeper, err := settlement.NewSweeper(coordinator, cfg.Sweep, logger.Named("reconcile"))
	if err != nil {
		return application{}, fmt.Errorf("sweeper init: %w", err)
	}
	return application{ledger: ledgerService, coordinator: coordinator, sweeper: sweeper, gateway: gateway}, nil
}

func openDedupe(ctx context.Context, cfg Config, logger *zap.Logger) (dedupe.Cache, func(), error) {
	if cfg.RedisURL == "" {
		return dedupe.Nop{}, func() {}, nil
	}
	client, err := dedupe.Open(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return dedupe.NewRedisCache(client, cfg.DedupeTTL, logger.Named("dedupe")), func() { _ = client.Close() }, nil
}

func runScheduler(ctx context.Context, cfg Config, pool *pgxpool.Pool, sweeper *settlement.Sweeper, logger *zap.Logger) error {
	switch cfg.Scheduler {
	case SchedulerNone:
		<-ctx.Done()
		return nil
	case SchedulerRiver:
		if pool == nil {
			var err error
			pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("river pool: %w", err)
			}
			defer pool.Close()
		}
		return jobs.Run(ctx, pool, sweeper, sweeper.Config(), logger.Named("jobs"))
	default:
		logger.Info("reconcile ticker started", zap.Duration("interval", sweeper.Config().Interval))
		return sweeper.Run(ctx)
	}
}
