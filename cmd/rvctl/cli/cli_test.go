package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-receipts/internal/receipts"
	"github.com/odyssey-erp/odyssey-receipts/internal/receipts/accounts"
	"github.com/odyssey-erp/odyssey-receipts/internal/receipts/ledger"
	"github.com/odyssey-erp/odyssey-receipts/jobs"
)

type stubEngine struct {
	filter  receipts.BatchFilter
	actor   int64
	run     receipts.BatchRun
	runErr  error
	pending receipts.PendingInput
	missing []accounts.MissingAccountError
	tbFrom  time.Time
	tbTo    time.Time
	closed  bool
}

func (s *stubEngine) Run(_ context.Context, filter receipts.BatchFilter, actorID int64, onProgress func(receipts.Progress)) (receipts.BatchRun, error) {
	s.filter, s.actor = filter, actorID
	if onProgress != nil {
		onProgress(receipts.Progress{Processed: s.run.Processed, Total: s.run.Total})
	}
	return s.run, s.runErr
}

func (s *stubEngine) CheckPending(_ context.Context, input receipts.PendingInput) (receipts.PendingReport, error) {
	s.pending = input
	return receipts.PendingReport{TotalPending: 1, Samples: []receipts.PendingSample{
		{SourceID: 9, BranchCode: "HQ", Reason: receipts.ReasonPOSSale, InvoiceNumber: "INV-9", Amount: decimal.RequireFromString("12.5")},
	}}, nil
}

func (s *stubEngine) AccountLedger(_ context.Context, q ledger.Query) (ledger.Ledger, error) {
	if q.AccountCode != "11101" {
		return ledger.Ledger{}, ledger.ErrUnknownAccount
	}
	return ledger.Ledger{Account: accounts.Account{Code: "11101", Name: "Cash"}, Closing: decimal.NewFromInt(100)}, nil
}

func (s *stubEngine) TrialBalance(_ context.Context, from, to time.Time, _ string) (ledger.TrialBalance, error) {
	s.tbFrom, s.tbTo = from, to
	return ledger.TrialBalance{From: from, To: to, Balanced: true}, nil
}

func (s *stubEngine) Check(context.Context) ([]accounts.MissingAccountError, error) {
	return s.missing, nil
}

type stubMigrator struct {
	ups   int
	downs int
}

func (m *stubMigrator) Up() error                    { m.ups++; return nil }
func (m *stubMigrator) Down(steps int) error         { m.downs += steps; return nil }
func (m *stubMigrator) Version() (uint, bool, error) { return 2, false, nil }
func (m *stubMigrator) Close() error                 { return nil }

func execute(t *testing.T, env Env, args ...string) (string, error) {
	t.Helper()
	out := new(bytes.Buffer)
	env.Stdout = out
	env.Stderr = new(bytes.Buffer)
	root := NewRootCommand(env)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func engineEnv(engine *stubEngine) Env {
	return Env{OpenRuntime: func(context.Context) (*Runtime, error) {
		return &Runtime{
			Batch:    engine,
			Pending:  engine,
			Ledger:   engine,
			Accounts: engine,
			Close:    func() { engine.closed = true },
		}, nil
	}}
}

func TestMigrateCommands(t *testing.T) {
	m := &stubMigrator{}
	env := Env{OpenMigrator: func() (Migrator, error) { return m, nil }}

	out, err := execute(t, env, "migrate", "up")
	require.NoError(t, err)
	require.Contains(t, out, "migrations applied")

	_, err = execute(t, env, "migrate", "down", "--steps", "2")
	require.NoError(t, err)

	out, err = execute(t, env, "migrate", "version")
	require.NoError(t, err)
	require.Equal(t, "version 2 dirty=false\n", out)
	require.Equal(t, 1, m.ups)
	require.Equal(t, 2, m.downs)
}

func TestBatchRunCommand(t *testing.T) {
	engine := &stubEngine{run: receipts.BatchRun{
		JobID:   "BATCH_1_HQ",
		Status:  receipts.BatchCompleted,
		Total:   2,
		Message: "Created 1, skipped 0, failed 1 of 2",
		Errors:  []receipts.ItemError{{SourceID: 4, InvoiceNumber: "INV-4", Message: "branch not found"}},
	}}
	out, err := execute(t, engineEnv(engine), "batch", "run", "--branch", "HQ", "--types", "cash_sale,deposit", "--to", "2026-03-31", "--limit", "20", "--actor", "7")
	require.NoError(t, err)
	require.Contains(t, out, "BATCH_1_HQ completed: Created 1")
	require.Contains(t, out, "source 4 INV-4: branch not found")
	require.Equal(t, "HQ", engine.filter.Branch)
	require.Equal(t, []receipts.VoucherType{receipts.TypeCashSale, receipts.TypeDeposit}, engine.filter.Types)
	require.Equal(t, 20, engine.filter.Limit)
	require.Equal(t, int64(7), engine.actor)
	require.True(t, engine.closed)

	_, err = execute(t, engineEnv(engine), "batch", "run", "--types", "gift")
	require.ErrorIs(t, err, receipts.ErrInvalidType)

	_, err = execute(t, engineEnv(engine), "batch", "run", "--from", "03/01/2026")
	require.Error(t, err)
}

func TestBatchRunCommandJSONAndFailure(t *testing.T) {
	engine := &stubEngine{runErr: receipts.ErrBatchInProgress}
	_, err := execute(t, engineEnv(engine), "batch", "run", "--json")
	require.ErrorIs(t, err, receipts.ErrBatchInProgress)

	engine = &stubEngine{run: receipts.BatchRun{JobID: "BATCH_2", Status: receipts.BatchCompleted}}
	out, err := execute(t, engineEnv(engine), "batch", "run", "--json")
	require.NoError(t, err)
	require.Contains(t, out, `"jobId": "BATCH_2"`)
}

func TestPendingCommand(t *testing.T) {
	engine := &stubEngine{}
	out, err := execute(t, engineEnv(engine), "pending", "--branch", "HQ", "--from", "2026-03-01")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "1 pending\n"))
	require.Contains(t, out, "INV-9")
	require.Contains(t, out, "12.50")
	require.Equal(t, "HQ", engine.pending.Branch)
	require.Equal(t, 2026, engine.pending.From.Year())
	require.Nil(t, engine.pending.To)
}

func TestExportCommands(t *testing.T) {
	engine := &stubEngine{}
	dir := t.TempDir()

	ledgerPath := filepath.Join(dir, "cash.xlsx")
	out, err := execute(t, engineEnv(engine), "ledger", "export", "--account", "11101", "-o", ledgerPath)
	require.NoError(t, err)
	require.Contains(t, out, "closing 100.00")
	info, err := os.Stat(ledgerPath)
	require.NoError(t, err)
	require.NotZero(t, info.Size())

	_, err = execute(t, engineEnv(engine), "ledger", "export", "--account", "99999", "-o", filepath.Join(dir, "x.xlsx"))
	require.ErrorIs(t, err, ledger.ErrUnknownAccount)

	_, err = execute(t, engineEnv(engine), "trial-balance", "export", "--from", "2026-03-01")
	require.Error(t, err)

	tbPath := filepath.Join(dir, "tb.xlsx")
	out, err = execute(t, engineEnv(engine), "trial-balance", "export", "--from", "2026-03-01", "--to", "2026-03-31", "-o", tbPath)
	require.NoError(t, err)
	require.Contains(t, out, "balanced=true")
	require.Equal(t, 31, engine.tbTo.Day())
	_, err = os.Stat(tbPath)
	require.NoError(t, err)
}

func TestAccountsCheckCommand(t *testing.T) {
	out, err := execute(t, engineEnv(&stubEngine{}), "accounts", "check")
	require.NoError(t, err)
	require.Contains(t, out, "all accounts configured")

	engine := &stubEngine{missing: []accounts.MissingAccountError{{Role: "vat_output", Code: "21601", Leg: "credit"}}}
	out, err = execute(t, engineEnv(engine), "accounts", "check")
	require.True(t, errors.Is(err, ErrMissingAccounts))
	require.Contains(t, out, "missing 21601 (vat_output) for credit")
}

func TestJobsCommands(t *testing.T) {
	srv := miniredis.RunT(t)
	opts := asynq.RedisClientOpt{Addr: srv.Addr()}
	env := Env{OpenJobs: func() (*JobsCLI, error) { return NewJobsCLI(opts) }}

	out, err := execute(t, env, "jobs", "trigger", jobs.TaskReceiptAutoCreate, "--branch", "HQ")
	require.NoError(t, err)
	require.Contains(t, out, "enqueued "+jobs.TaskReceiptAutoCreate)

	_, err = execute(t, env, "jobs", "trigger", jobs.TaskReceiptBatchRun)
	require.NoError(t, err)

	members, err := srv.List("asynq:{" + jobs.QueueDefault + "}:pending")
	require.NoError(t, err)
	require.Len(t, members, 2)

	_, err = execute(t, env, "jobs", "trigger", "reports:nightly")
	require.ErrorContains(t, err, "unsupported job")

	_, err = execute(t, env, "jobs")
	require.NoError(t, err)
}

func TestCommandsWithoutDependencies(t *testing.T) {
	_, err := execute(t, Env{}, "pending")
	require.ErrorContains(t, err, "runtime not configured")

	_, err = execute(t, Env{}, "migrate", "up")
	require.ErrorContains(t, err, "migrator not configured")

	_, err = execute(t, Env{}, "jobs", "inspect")
	require.ErrorContains(t, err, "queue not configured")
}
