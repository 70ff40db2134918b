package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-receipts/internal/app"
	jobmetrics "github.com/odyssey-erp/odyssey-receipts/internal/jobs"
	"github.com/odyssey-erp/odyssey-receipts/internal/observability"
	"github.com/odyssey-erp/odyssey-receipts/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-receipts/internal/platform/db"
	"github.com/odyssey-erp/odyssey-receipts/internal/receipts"
	"github.com/odyssey-erp/odyssey-receipts/internal/receipts/ledger"
	"github.com/odyssey-erp/odyssey-receipts/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if cfg.MigrateOnStart {
		if err := migrateUp(cfg.PGDSN, logger); err != nil {
			logger.Error("migrate", slog.Any("error", err))
			os.Exit(1)
		}
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisOpts := cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	redisClient, err := cache.New(ctx, redisOpts)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	engine, err := app.BuildReceipts(cfg, logger, dbpool, redisClient, jobMetrics)
	if err != nil {
		logger.Error("build receipts", slog.Any("error", err))
		os.Exit(1)
	}
	if missing, err := engine.Resolver.Check(ctx); err != nil {
		logger.Warn("chart of accounts check", slog.Any("error", err))
	} else {
		for _, m := range missing {
			logger.Warn("account not configured", slog.String("role", m.Role), slog.String("code", m.Code))
		}
	}

	jobClient, err := jobs.NewClient(redisOpts.Asynq())
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	inspector := asynq.NewInspector(redisOpts.Asynq())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		ReceiptsHandler: receipts.NewHandler(logger, engine.Service, engine.Orchestrator, jobClient),
		LedgerHandler:   ledger.NewHandler(logger, engine.Ledger),
		JobHandler:      jobs.NewHandler(inspector, logger),
		Metrics:         metrics,
		Checks:          healthChecks(dbpool, redisClient),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func migrateUp(dsn string, logger *slog.Logger) error {
	m, err := db.NewMigrator(dsn)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("migrator close", slog.Any("error", err))
		}
	}()
	if err := m.Up(); err != nil {
		return err
	}
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	logger.Info("schema migrated", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
	return nil
}

func healthChecks(pool *pgxpool.Pool, client *redis.Client) map[string]app.Pinger {
	return map[string]app.Pinger{
		"postgres": app.PingFunc(pool.Ping),
		"redis": app.PingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}),
	}
}
