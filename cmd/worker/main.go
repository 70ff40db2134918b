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

	"github.com/odyssey-erp/odyssey-receipts/internal/app"
	jobmetrics "github.com/odyssey-erp/odyssey-receipts/internal/jobs"
	"github.com/odyssey-erp/odyssey-receipts/internal/observability"
	"github.com/odyssey-erp/odyssey-receipts/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-receipts/internal/platform/db"
	"github.com/odyssey-erp/odyssey-receipts/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg).With(slog.String("component", "worker"))

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

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

	engine, err := app.BuildReceipts(cfg, logger, pool, redisClient, jobMetrics)
	if err != nil {
		logger.Error("build receipts", slog.Any("error", err))
		os.Exit(1)
	}

	types, err := cfg.AutoCreateVoucherTypes()
	if err != nil {
		logger.Error("autocreate types", slog.Any("error", err))
		os.Exit(1)
	}
	batchJob := jobs.NewReceiptBatchJob(engine.Orchestrator, logger, jobMetrics)
	autoCreateJob := jobs.NewAutoCreateJob(engine.Repository, engine.Orchestrator, jobs.AutoCreateConfig{
		Types:       types,
		Limit:       cfg.AutoCreateLimit,
		Concurrency: cfg.AutoCreateConcurrency,
	}, logger, jobMetrics)

	var cron []jobs.CronRegistration
	if cfg.AutoCreateEnabled {
		task, err := jobs.NewAutoCreateTask("", "cron")
		if err != nil {
			logger.Error("build autocreate task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.AutoCreateSpec, Task: task, Options: []asynq.Option{asynq.MaxRetry(1)}})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts.Asynq(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReceiptBatchRun, Handler: batchJob.Handle},
			{Type: jobs.TaskReceiptAutoCreate, Handler: autoCreateJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.AutoCreateEnabled && cfg.AutoCreateOnStartup {
		client, err := jobs.NewClient(redisOpts.Asynq())
		if err == nil {
			if info, err := client.EnqueueAutoCreate(ctx, "", "startup"); err != nil {
				logger.Warn("enqueue startup autocreate", slog.Any("error", err))
			} else {
				logger.Info("startup autocreate queued", slog.String("task_id", info.ID))
			}
			_ = client.Close()
		}
	}

	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metrics.Handler(), ReadTimeout: cfg.AppReadTimeout}
	go func() {
		logger.Info("serving worker metrics", slog.String("addr", cfg.WorkerMetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
	stats := autoCreateJob.Stats()
	logger.Info("worker stopped", slog.Int("autocreate_runs", stats.Runs), slog.Int("autocreate_created", stats.TotalCreated))
}
