package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-receipts/internal/jobs"
	"github.com/odyssey-erp/odyssey-receipts/internal/receipts"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// BatchRunner runs one receipt batch. *receipts.Orchestrator satisfies it.
type BatchRunner interface {
	Run(ctx context.Context, filter receipts.BatchFilter, actorID int64, onProgress func(receipts.Progress)) (receipts.BatchRun, error)
}

// ReceiptBatchJob executes queued batch runs.
type ReceiptBatchJob struct {
	Runner  BatchRunner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewReceiptBatchJob constructs the job handler.
func NewReceiptBatchJob(runner BatchRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReceiptBatchJob {
	return &ReceiptBatchJob{Runner: runner, Logger: logger, Metrics: metrics}
}

// Handle runs the batch described by the task payload. Invalid payloads and
// runs blocked by another holder of the branch lock are not retried.
func (j *ReceiptBatchJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Runner == nil {
		return errors.New("receipt batch: runner not configured")
	}
	var payload ReceiptBatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskReceiptBatchRun)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.log().With(slog.String("branch", payload.Branch))
	run, err := j.Runner.Run(ctx, payload.Filter(), payload.ActorID, nil)
	switch {
	case errors.Is(err, receipts.ErrBatchInProgress):
		logger.Info("receipt batch skipped, branch busy")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	case errors.Is(err, receipts.ErrInvalidFilter), errors.Is(err, receipts.ErrInvalidType):
		logger.Warn("receipt batch rejected", slog.Any("error", err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	case err != nil:
		resultErr = err
		logger.Error("receipt batch failed", slog.String("job_id", run.JobID), slog.Any("error", err))
		return resultErr
	}
	logger.Info("receipt batch finished",
		slog.String("job_id", run.JobID),
		slog.Int("success", run.Success),
		slog.Int("skipped", run.Skipped),
		slog.Int("failed", run.Failed))
	return nil
}

func (j *ReceiptBatchJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ReceiptBatchJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReceiptBatchRun))
	}
	return slog.Default().With(slog.String("job", TaskReceiptBatchRun))
}
