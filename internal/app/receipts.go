package app

import (
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	jobmetrics "github.com/odyssey-erp/odyssey-receipts/internal/jobs"
	"github.com/odyssey-erp/odyssey-receipts/internal/receipts"
	"github.com/odyssey-erp/odyssey-receipts/internal/receipts/accounts"
	"github.com/odyssey-erp/odyssey-receipts/internal/receipts/events"
	"github.com/odyssey-erp/odyssey-receipts/internal/receipts/ledger"
	"github.com/odyssey-erp/odyssey-receipts/internal/receipts/numbering"
	"github.com/odyssey-erp/odyssey-receipts/internal/shared"
)

// Receipts bundles the posting engine shared by the API, the worker and the CLI.
type Receipts struct {
	Repository   *receipts.Repository
	Chart        *accounts.CachedChart
	Resolver     *accounts.Resolver
	Service      *receipts.Service
	Orchestrator *receipts.Orchestrator
	Ledger       *ledger.Service
	Publisher    *events.RedisPublisher
}

// BuildReceipts wires the receipt components from configuration.
func BuildReceipts(cfg *Config, logger *slog.Logger, pool *pgxpool.Pool, redisClient redis.UniversalClient, metrics *jobmetrics.Metrics) (*Receipts, error) {
	if cfg == nil || pool == nil || redisClient == nil {
		return nil, fmt.Errorf("app: config, database pool and redis client required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	table, err := accounts.LoadTableFile(cfg.AccountTablePath)
	if err != nil {
		return nil, err
	}
	chart := accounts.NewCachedChart(accounts.NewRepository(pool), cfg.ChartCacheTTL)
	resolver := accounts.NewResolver(table, chart)

	var allocator numbering.Allocator = numbering.NewPostgresAllocator(pool)
	if cfg.DocSequenceBackend == SequenceRedis {
		allocator = numbering.NewRedisAllocator(redisClient)
	}

	publisher := events.NewRedisPublisher(redisClient, cfg.EventsChannel, logger.With(slog.String("component", "events")))
	locker := shared.NewRedisLocker(redisClient)

	repo := receipts.NewRepository(pool)
	audit := shared.NewAuditLogger(pool)
	service := receipts.NewService(repo, resolver, allocator, audit, publisher, receipts.ServiceConfig{
		TaxPolicy:   cfg.TaxPolicy(),
		LegacyNotes: cfg.GuardLegacyNotes,
		Retry: shared.Backoff{
			Attempts: cfg.PostRetryAttempts,
			Base:     cfg.PostRetryBaseDelay,
			Max:      cfg.PostRetryMaxDelay,
		},
		Logger: logger.With(slog.String("component", "receipts")),
	})
	orchestrator := receipts.NewOrchestrator(repo, repo, service, locker, publisher, audit, receipts.BatchConfig{
		DefaultLimit: cfg.BatchDefaultLimit,
		MaxLimit:     cfg.BatchMaxLimit,
		PauseEvery:   cfg.BatchPauseEvery,
		Pause:        cfg.BatchPause,
		MaxErrors:    cfg.BatchMaxErrors,
		LockTTL:      cfg.BatchLockTTL,
		Logger:       logger.With(slog.String("component", "receipt_batch")),
		Metrics:      metrics,
	})

	return &Receipts{
		Repository:   repo,
		Chart:        chart,
		Resolver:     resolver,
		Service:      service,
		Orchestrator: orchestrator,
		Ledger:       ledger.NewService(ledger.NewRepository(pool), chart),
		Publisher:    publisher,
	}, nil
}
