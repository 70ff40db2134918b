package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/odyssey-erp/odyssey-receipts/cmd/rvctl/cli"
	"github.com/odyssey-erp/odyssey-receipts/internal/app"
	jobmetrics "github.com/odyssey-erp/odyssey-receipts/internal/jobs"
	"github.com/odyssey-erp/odyssey-receipts/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-receipts/internal/platform/db"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg).With(slog.String("component", "rvctl"))
	redisOpts := cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}

	root := cli.NewRootCommand(cli.Env{
		OpenMigrator: func() (cli.Migrator, error) {
			return db.NewMigrator(cfg.PGDSN)
		},
		OpenJobs: func() (*cli.JobsCLI, error) {
			return cli.NewJobsCLI(redisOpts.Asynq())
		},
		OpenRuntime: func(ctx context.Context) (*cli.Runtime, error) {
			pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
			if err != nil {
				return nil, err
			}
			client, err := cache.New(ctx, redisOpts)
			if err != nil {
				pool.Close()
				return nil, err
			}
			engine, err := app.BuildReceipts(cfg, logger, pool, client, jobmetrics.NewMetrics(nil))
			if err != nil {
				_ = client.Close()
				pool.Close()
				return nil, err
			}
			return &cli.Runtime{
				Batch:    engine.Orchestrator,
				Pending:  engine.Service,
				Ledger:   engine.Ledger,
				Accounts: engine.Resolver,
				Close: func() {
					_ = client.Close()
					pool.Close()
				},
			}, nil
		},
	})
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
