package receipts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	jobmetrics "github.com/odyssey-erp/odyssey-receipts/internal/jobs"
	"github.com/odyssey-erp/odyssey-receipts/internal/shared"
)

// Poster posts one source. *Service implements it.
type Poster interface {
	Create(ctx context.Context, input CreateInput) (PostResult, error)
}

// PendingSource lists unposted sources.
type PendingSource interface {
	ListPending(ctx context.Context, filter PendingFilter) ([]SourceTransaction, error)
	CountPending(ctx context.Context, filter PendingFilter) (int, error)
}

// BatchRunStore persists batch run logs.
type BatchRunStore interface {
	InsertRun(ctx context.Context, run BatchRun) (BatchRun, error)
	FinishRun(ctx context.Context, run BatchRun) error
	ListRuns(ctx context.Context, limit int) ([]BatchRun, error)
	GetRun(ctx context.Context, jobID string) (BatchRun, error)
}

// Locker hands out exclusive run locks.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (shared.ReleaseFunc, error)
	Held(ctx context.Context, pattern string) ([]string, error)
}

// BatchConfig tunes the orchestrator.
type BatchConfig struct {
	DefaultLimit int
	MaxLimit     int
	PauseEvery   int
	Pause        time.Duration
	MaxErrors    int
	LockTTL      time.Duration
	Logger       *slog.Logger
	Metrics      *jobmetrics.Metrics
}

func (c BatchConfig) withDefaults() BatchConfig {
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 100
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = 1000
	}
	if c.DefaultLimit > c.MaxLimit {
		c.DefaultLimit = c.MaxLimit
	}
	if c.MaxErrors <= 0 {
		c.MaxErrors = 50
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 15 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Orchestrator posts pending sources in bulk, one transaction per item.
type Orchestrator struct {
	sources   PendingSource
	runs      BatchRunStore
	poster    Poster
	locker    Locker
	publisher Publisher
	audit     AuditPort
	cfg       BatchConfig
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator builds Orchestrator. A nil publisher drops events.
func NewOrchestrator(sources PendingSource, runs BatchRunStore, poster Poster, locker Locker, publisher Publisher, audit AuditPort, cfg BatchConfig) *Orchestrator {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Orchestrator{
		sources:   sources,
		runs:      runs,
		poster:    poster,
		locker:    locker,
		publisher: publisher,
		audit:     audit,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		sleep:     shared.SleepWithContext,
	}
}

// WithNow overrides the clock.
func (o *Orchestrator) WithNow(now func() time.Time) {
	if now != nil {
		o.now = now
	}
}

// WithSleep overrides the pause between item groups.
func (o *Orchestrator) WithSleep(sleep func(ctx context.Context, d time.Duration) error) {
	if sleep != nil {
		o.sleep = sleep
	}
}

// NormalizeFilter validates the filter and applies limit defaults and caps.
// To becomes inclusive through the end of its day.
func (o *Orchestrator) NormalizeFilter(filter BatchFilter) (BatchFilter, error) {
	for _, t := range filter.Types {
		if !t.Valid() {
			return BatchFilter{}, fmt.Errorf("%w: %q", ErrInvalidType, t)
		}
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return BatchFilter{}, fmt.Errorf("%w: to before from", ErrInvalidFilter)
	}
	if filter.Limit < 0 {
		return BatchFilter{}, fmt.Errorf("%w: negative limit", ErrInvalidFilter)
	}
	if filter.Limit == 0 {
		filter.Limit = o.cfg.DefaultLimit
	}
	if filter.Limit > o.cfg.MaxLimit {
		filter.Limit = o.cfg.MaxLimit
	}
	filter.To = endOfDayPtr(filter.To)
	return filter, nil
}

// acquire takes the branch lock. A branch run also excludes the all-branch
// run and the other way round. Each side locks its own key before looking
// for the other, so two overlapping runs cannot both proceed.
func (o *Orchestrator) acquire(ctx context.Context, branch string) (shared.ReleaseFunc, error) {
	key := shared.BatchLockKey(branch)
	release, err := o.locker.TryLock(ctx, key, o.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, shared.ErrLockHeld) {
			return nil, fmt.Errorf("%w: %s", ErrBatchInProgress, branchName(branch))
		}
		return nil, err
	}
	pattern := shared.BatchLockKey("")
	if branch == "" {
		pattern = shared.BatchLockPattern
	}
	held, err := o.locker.Held(ctx, pattern)
	if err == nil {
		for _, other := range held {
			if other != key {
				err = fmt.Errorf("%w: %s overlaps %s", ErrBatchInProgress, branchName(branch), other)
				break
			}
		}
	}
	if err != nil {
		if relErr := release(context.WithoutCancel(ctx)); relErr != nil {
			o.cfg.Logger.Warn("release batch lock failed", slog.String("branch", branchName(branch)), slog.Any("error", relErr))
		}
		return nil, err
	}
	return release, nil
}

// Run posts pending sources matching filter. It returns ErrBatchInProgress when
// another run holds the branch. Item failures never fail the run; they are
// counted and listed (capped) in the returned log.
func (o *Orchestrator) Run(ctx context.Context, filter BatchFilter, actorID int64, onProgress func(Progress)) (BatchRun, error) {
	filter, err := o.NormalizeFilter(filter)
	if err != nil {
		return BatchRun{}, err
	}
	release, err := o.acquire(ctx, filter.Branch)
	if err != nil {
		return BatchRun{}, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			o.cfg.Logger.Warn("release batch lock failed", slog.String("branch", branchName(filter.Branch)), slog.Any("error", err))
		}
	}()

	tracker := o.cfg.Metrics.Track("receipt_batch")
	started := o.now()
	run, err := o.runs.InsertRun(ctx, BatchRun{
		JobID:     NewJobID(started, filter.Branch),
		Status:    BatchRunning,
		Filter:    filter,
		StartedAt: started,
		CreatedBy: actorID,
	})
	if err != nil {
		return BatchRun{}, tracker.End(fmt.Errorf("receipts: start batch log: %w", err))
	}
	logger := o.cfg.Logger.With(slog.String("job_id", run.JobID), slog.String("branch", branchName(filter.Branch)))

	sources, err := o.sources.ListPending(ctx, PendingFilter{
		Branch:  filter.Branch,
		Reasons: ReasonsFor(filter.Types),
		From:    filter.From,
		To:      filter.To,
		Limit:   filter.Limit,
	})
	if err != nil {
		run = o.finish(ctx, run, BatchFailed, "pending query failed: "+err.Error())
		return run, tracker.End(fmt.Errorf("receipts: list pending: %w", err))
	}
	var items []SourceTransaction
	for _, src := range sources {
		if containsType(filter.Types, DetectType(src)) {
			items = append(items, src)
		}
	}
	run.Total = len(items)
	o.cfg.Metrics.SetPending(filter.Branch, run.Total)
	logger.Info("receipt batch started", slog.Int("total", run.Total))

	cancelled := false
	for i, src := range items {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		res, postErr := o.poster.Create(ctx, CreateInput{SourceID: src.ID, ActorID: actorID})
		outcome := Classify(res, postErr)
		run.Processed++
		switch outcome {
		case OutcomeSuccess:
			run.Success++
		case OutcomeSkipped:
			run.Skipped++
		default:
			run.Failed++
			if len(run.Errors) < o.cfg.MaxErrors {
				run.Errors = append(run.Errors, ItemError{SourceID: src.ID, InvoiceNumber: src.InvoiceNumber, Message: postErr.Error()})
			}
			logger.Warn("receipt batch item failed", slog.Int64("source_id", src.ID), slog.Any("error", postErr))
		}
		o.cfg.Metrics.ObserveItem(string(outcome), filter.Branch)

		progress := Progress{
			JobID:     run.JobID,
			Processed: run.Processed,
			Total:     run.Total,
			Success:   run.Success,
			Failed:    run.Failed,
			Skipped:   run.Skipped,
			Current:   src.ID,
			Outcome:   outcome,
		}
		if onProgress != nil {
			onProgress(progress)
		}
		o.publish(ctx, EventBatchProgress, filter.Branch,
			fmt.Sprintf("Processed %d of %d", run.Processed, run.Total), progress)

		if o.cfg.PauseEvery > 0 && o.cfg.Pause > 0 && (i+1)%o.cfg.PauseEvery == 0 && i+1 < len(items) {
			if err := o.sleep(ctx, o.cfg.Pause); err != nil {
				cancelled = true
				break
			}
		}
	}

	if ctx.Err() != nil {
		cancelled = true
	}
	if cancelled {
		run = o.finish(ctx, run, BatchFailed, "cancelled")
		logger.Warn("receipt batch cancelled", slog.Int("processed", run.Processed), slog.Int("total", run.Total))
		return run, tracker.End(ctx.Err())
	}
	message := fmt.Sprintf("Created %d, skipped %d, failed %d of %d", run.Success, run.Skipped, run.Failed, run.Total)
	run = o.finish(ctx, run, BatchCompleted, message)
	logger.Info("receipt batch completed",
		slog.Int("success", run.Success),
		slog.Int("skipped", run.Skipped),
		slog.Int("failed", run.Failed),
		slog.Int64("duration_ms", run.DurationMS))
	o.publish(ctx, EventBatchCompleted, filter.Branch, message, run)
	if o.audit != nil {
		if err := o.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "receipt_batch.run",
			Entity:   "batch_run",
			EntityID: run.JobID,
			At:       o.now(),
			Meta: map[string]any{
				"total":   run.Total,
				"success": run.Success,
				"skipped": run.Skipped,
				"failed":  run.Failed,
			},
		}); err != nil {
			logger.Warn("audit record failed", slog.Any("error", err))
		}
	}
	return run, tracker.End(nil)
}

// finish stamps the run and persists it. The log write survives cancellation
// of ctx.
func (o *Orchestrator) finish(ctx context.Context, run BatchRun, status BatchStatus, message string) BatchRun {
	completed := o.now()
	run.Status = status
	run.Message = message
	run.CompletedAt = &completed
	run.DurationMS = completed.Sub(run.StartedAt).Milliseconds()
	if err := o.runs.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		o.cfg.Logger.Error("finish batch log failed", slog.String("job_id", run.JobID), slog.Any("error", err))
	}
	return run
}

func (o *Orchestrator) publish(ctx context.Context, eventType, branch, message string, payload any) {
	if err := o.publisher.Publish(ctx, NewEvent(eventType, branch, message, payload, o.now())); err != nil {
		o.cfg.Logger.Debug("publish event failed", slog.String("event", eventType), slog.Any("error", err))
	}
}

// ListRuns returns recent batch runs, newest first.
func (o *Orchestrator) ListRuns(ctx context.Context, limit int) ([]BatchRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return o.runs.ListRuns(ctx, limit)
}

// GetRun loads one batch run.
func (o *Orchestrator) GetRun(ctx context.Context, jobID string) (BatchRun, error) {
	if jobID == "" {
		return BatchRun{}, ErrRunNotFound
	}
	return o.runs.GetRun(ctx, jobID)
}

// NewJobID formats a batch job id from its start time. Branch runs carry the
// branch code so concurrent runs for different branches never collide.
func NewJobID(at time.Time, branch string) string {
	id := "BATCH_" + strconv.FormatInt(at.UnixMilli(), 10)
	if branch != "" {
		id += "_" + branch
	}
	return id
}

func branchName(branch string) string {
	if branch == "" {
		return "all"
	}
	return branch
}
