package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/odyssey-receipts/internal/jobs"
	"github.com/odyssey-erp/odyssey-receipts/internal/receipts"
)

type stubRunner struct {
	mu      sync.Mutex
	filters []receipts.BatchFilter
	actors  []int64
	errs    map[string]error
}

func (s *stubRunner) Run(_ context.Context, filter receipts.BatchFilter, actorID int64, _ func(receipts.Progress)) (receipts.BatchRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = append(s.filters, filter)
	s.actors = append(s.actors, actorID)
	if err := s.errs[filter.Branch]; err != nil {
		return receipts.BatchRun{}, err
	}
	return receipts.BatchRun{JobID: "BATCH_1_" + filter.Branch, Status: receipts.BatchCompleted, Success: 2, Skipped: 1}, nil
}

func (s *stubRunner) branches() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.filters))
	for _, f := range s.filters {
		out = append(out, f.Branch)
	}
	sort.Strings(out)
	return out
}

type stubBranches struct {
	codes []string
	err   error
}

func (s stubBranches) ListActiveBranches(context.Context) ([]string, error) {
	return s.codes, s.err
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMetrics() *jobmetrics.Metrics {
	return jobmetrics.NewMetrics(prometheus.NewRegistry())
}

func TestReceiptBatchTaskRoundTrip(t *testing.T) {
	to := time.Date(2026, 3, 31, 23, 59, 59, 0, time.UTC)
	task, err := NewReceiptBatchTask(receipts.BatchFilter{Branch: "HQ", Types: []receipts.VoucherType{receipts.TypeDebtPayment}, To: &to, Limit: 50}, 9)
	require.NoError(t, err)
	require.Equal(t, TaskReceiptBatchRun, task.Type())

	var payload ReceiptBatchPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, int64(9), payload.ActorID)
	filter := payload.Filter()
	require.Equal(t, "HQ", filter.Branch)
	require.Equal(t, []receipts.VoucherType{receipts.TypeDebtPayment}, filter.Types)
	require.True(t, to.Equal(*filter.To))
	require.Equal(t, 50, filter.Limit)
}

func TestReceiptBatchJobRunsFilter(t *testing.T) {
	runner := &stubRunner{}
	job := NewReceiptBatchJob(runner, discard(), testMetrics())
	task, err := NewReceiptBatchTask(receipts.BatchFilter{Branch: "BKK"}, 4)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []string{"BKK"}, runner.branches())
	require.Equal(t, []int64{4}, runner.actors)
}

func TestReceiptBatchJobSkipsRetry(t *testing.T) {
	runner := &stubRunner{errs: map[string]error{
		"HQ":  fmt.Errorf("%w: HQ", receipts.ErrBatchInProgress),
		"BAD": receipts.ErrInvalidFilter,
	}}
	job := NewReceiptBatchJob(runner, discard(), testMetrics())

	err := job.Handle(context.Background(), asynq.NewTask(TaskReceiptBatchRun, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	for _, branch := range []string{"HQ", "BAD"} {
		task, err := NewReceiptBatchTask(receipts.BatchFilter{Branch: branch}, 0)
		require.NoError(t, err)
		err = job.Handle(context.Background(), task)
		require.ErrorIs(t, err, asynq.SkipRetry, branch)
	}
}

func TestReceiptBatchJobRetriesOtherFailures(t *testing.T) {
	boom := errors.New("database down")
	job := NewReceiptBatchJob(&stubRunner{errs: map[string]error{"HQ": boom}}, discard(), testMetrics())
	task, err := NewReceiptBatchTask(receipts.BatchFilter{Branch: "HQ"}, 0)
	require.NoError(t, err)

	err = job.Handle(context.Background(), task)
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestAutoCreateSweepsBranches(t *testing.T) {
	runner := &stubRunner{errs: map[string]error{
		"CNX": fmt.Errorf("%w: CNX", receipts.ErrBatchInProgress),
		"PKT": errors.New("boom"),
	}}
	cfg := AutoCreateConfig{Types: []receipts.VoucherType{receipts.TypeCashSale}, Limit: 25, Concurrency: 2}
	job := NewAutoCreateJob(stubBranches{codes: []string{"BKK", "CNX", "HQ", "PKT"}}, runner, cfg, discard(), testMetrics())
	now := time.Date(2026, 3, 31, 9, 0, 0, 0, time.UTC)
	job.WithClock(func() time.Time { return now })

	task, err := NewAutoCreateTask("", "startup")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Equal(t, []string{"BKK", "CNX", "HQ", "PKT"}, runner.branches())
	for _, f := range runner.filters {
		require.Equal(t, 25, f.Limit)
		require.Equal(t, cfg.Types, f.Types)
	}
	require.Equal(t, []int64{0, 0, 0, 0}, runner.actors)

	stats := job.Stats()
	require.Equal(t, 1, stats.Runs)
	require.Equal(t, 4, stats.TotalCreated)
	require.Equal(t, 2, stats.TotalSkipped)
	require.True(t, now.Equal(stats.LastRunAt))
	require.Len(t, stats.Branches, 4)
	require.Equal(t, "boom", stats.Branches["PKT"].LastError)
	require.Contains(t, stats.Branches["CNX"].LastError, "already running")
	require.Equal(t, "BATCH_1_HQ", stats.Branches["HQ"].JobID)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 2, job.Stats().Runs)
	require.Equal(t, 8, job.Stats().TotalCreated)
}

func TestAutoCreateSingleBranchAndListFailure(t *testing.T) {
	runner := &stubRunner{}
	job := NewAutoCreateJob(stubBranches{err: errors.New("db down")}, runner, AutoCreateConfig{}, discard(), testMetrics())

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskReceiptAutoCreate, nil)))
	require.Empty(t, runner.branches())
	require.Zero(t, job.Stats().Runs)

	task, err := NewAutoCreateTask("HQ", "manual")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []string{"HQ"}, runner.branches())

	err = job.Handle(context.Background(), asynq.NewTask(TaskReceiptAutoCreate, []byte("nope")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestClientEnqueuesOnDefaultQueue(t *testing.T) {
	srv := miniredis.RunT(t)
	client, err := NewClient(asynq.RedisClientOpt{Addr: srv.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	id, err := client.EnqueueReceiptBatch(context.Background(), receipts.BatchFilter{Branch: "HQ"}, 1)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	info, err := client.EnqueueAutoCreate(context.Background(), "", "manual")
	require.NoError(t, err)
	require.Equal(t, QueueDefault, info.Queue)
	require.Equal(t, TaskReceiptAutoCreate, info.Type)

	pending, err := srv.List("asynq:{default}:pending")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{id, info.ID}, pending)
}

func TestJobsHealth(t *testing.T) {
	cases := []struct {
		name      string
		inspector QueueInspector
		status    int
		pending   float64
	}{
		{"no inspector", nil, http.StatusOK, 0},
		{"queue info", stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3}}, http.StatusOK, 3},
		{"redis down", stubInspector{err: errors.New("dial tcp")}, http.StatusServiceUnavailable, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := chi.NewRouter()
			NewHandler(tc.inspector, discard()).MountRoutes(r)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, tc.status, rec.Code)
			if tc.status != http.StatusOK {
				return
			}
			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, QueueDefault, body["queue"])
			require.Equal(t, tc.pending, body["pending"])
		})
	}
}
