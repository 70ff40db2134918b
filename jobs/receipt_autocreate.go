package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/odyssey-erp/odyssey-receipts/internal/jobs"
	"github.com/odyssey-erp/odyssey-receipts/internal/receipts"
)

// BranchLister enumerates branches eligible for auto-creation.
type BranchLister interface {
	ListActiveBranches(ctx context.Context) ([]string, error)
}

// AutoCreateConfig scopes each per-branch run.
type AutoCreateConfig struct {
	Types       []receipts.VoucherType
	Limit       int
	Concurrency int
}

// BranchStats is the last known outcome for one branch.
type BranchStats struct {
	LastRunAt time.Time `json:"lastRunAt"`
	JobID     string    `json:"jobId,omitempty"`
	Created   int       `json:"created"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	LastError string    `json:"lastError,omitempty"`
}

// AutoCreateStats accumulates across sweeps for the life of the worker.
type AutoCreateStats struct {
	Runs         int                    `json:"runs"`
	LastRunAt    time.Time              `json:"lastRunAt"`
	LastDuration time.Duration          `json:"lastDuration"`
	TotalCreated int                    `json:"totalCreated"`
	TotalSkipped int                    `json:"totalSkipped"`
	TotalFailed  int                    `json:"totalFailed"`
	Branches     map[string]BranchStats `json:"branches"`
}

// AutoCreateJob sweeps pending sources of every active branch.
type AutoCreateJob struct {
	Branches BranchLister
	Runner   BatchRunner
	Config   AutoCreateConfig
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time

	mu    sync.Mutex
	stats AutoCreateStats
}

// NewAutoCreateJob constructs the job handler.
func NewAutoCreateJob(branches BranchLister, runner BatchRunner, cfg AutoCreateConfig, logger *slog.Logger, metrics *jobmetrics.Metrics) *AutoCreateJob {
	return &AutoCreateJob{
		Branches: branches,
		Runner:   runner,
		Config:   cfg,
		Logger:   logger,
		Metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
		stats: AutoCreateStats{Branches: map[string]BranchStats{}},
	}
}

// Handle runs one sweep. Failures are logged and recorded in the stats; the
// task itself always succeeds so the scheduler never piles up retries.
func (j *AutoCreateJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Branches == nil || j.Runner == nil {
		return errors.New("receipt autocreate: dependencies not configured")
	}
	var payload AutoCreatePayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.metrics().Track(TaskReceiptAutoCreate)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.log().With(slog.String("trigger", payload.Trigger))
	branches := []string{payload.Branch}
	if payload.Branch == "" {
		listed, err := j.Branches.ListActiveBranches(ctx)
		if err != nil {
			resultErr = err
			logger.Error("list active branches", slog.Any("error", err))
			return nil
		}
		branches = listed
	}
	if len(branches) == 0 {
		logger.Info("no active branches")
		return nil
	}

	start := j.now()
	results := make([]BranchStats, len(branches))
	var g errgroup.Group
	g.SetLimit(j.concurrency())
	for i, branch := range branches {
		g.Go(func() error {
			results[i] = j.runBranch(ctx, branch, logger)
			return nil
		})
	}
	_ = g.Wait()

	j.record(branches, results, start, j.now().Sub(start))
	stats := j.Stats()
	logger.Info("receipt autocreate finished",
		slog.Int("branches", len(branches)),
		slog.Int("total_created", stats.TotalCreated),
		slog.Int("total_failed", stats.TotalFailed),
		slog.Duration("duration", stats.LastDuration))
	return nil
}

func (j *AutoCreateJob) runBranch(ctx context.Context, branch string, logger *slog.Logger) BranchStats {
	out := BranchStats{LastRunAt: j.now()}
	run, err := j.Runner.Run(ctx, receipts.BatchFilter{
		Branch: branch,
		Types:  j.Config.Types,
		Limit:  j.Config.Limit,
	}, 0, nil)
	out.JobID = run.JobID
	out.Created = run.Success
	out.Skipped = run.Skipped
	out.Failed = run.Failed
	switch {
	case errors.Is(err, receipts.ErrBatchInProgress):
		logger.Info("branch busy, skipped", slog.String("branch", branch))
		out.LastError = err.Error()
	case err != nil:
		logger.Error("branch autocreate failed", slog.String("branch", branch), slog.Any("error", err))
		out.LastError = err.Error()
	}
	return out
}

func (j *AutoCreateJob) record(branches []string, results []BranchStats, at time.Time, took time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.stats.Branches == nil {
		j.stats.Branches = map[string]BranchStats{}
	}
	j.stats.Runs++
	j.stats.LastRunAt = at
	j.stats.LastDuration = took
	for i, branch := range branches {
		res := results[i]
		j.stats.TotalCreated += res.Created
		j.stats.TotalSkipped += res.Skipped
		j.stats.TotalFailed += res.Failed
		j.stats.Branches[branch] = res
	}
}

// Stats returns a snapshot of the accumulated statistics.
func (j *AutoCreateJob) Stats() AutoCreateStats {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := j.stats
	out.Branches = make(map[string]BranchStats, len(j.stats.Branches))
	for k, v := range j.stats.Branches {
		out.Branches[k] = v
	}
	return out
}

// WithClock overrides the internal clock for deterministic tests.
func (j *AutoCreateJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}

func (j *AutoCreateJob) concurrency() int {
	if j.Config.Concurrency > 0 {
		return j.Config.Concurrency
	}
	return 1
}

func (j *AutoCreateJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *AutoCreateJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReceiptAutoCreate))
	}
	return slog.Default().With(slog.String("job", TaskReceiptAutoCreate))
}

func (j *AutoCreateJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
