package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-receipts/internal/receipts"
	"github.com/odyssey-erp/odyssey-receipts/internal/receipts/accounts"
	"github.com/odyssey-erp/odyssey-receipts/internal/receipts/ledger"
)

const dateLayout = "2006-01-02"

// ErrMissingAccounts is returned by "accounts check" when the chart is incomplete.
var ErrMissingAccounts = errors.New("rvctl: accounts missing from chart")

// BatchRunner runs a batch in the foreground.
type BatchRunner interface {
	Run(ctx context.Context, filter receipts.BatchFilter, actorID int64, onProgress func(receipts.Progress)) (receipts.BatchRun, error)
}

// PendingChecker reports unposted sources.
type PendingChecker interface {
	CheckPending(ctx context.Context, input receipts.PendingInput) (receipts.PendingReport, error)
}

// LedgerReader builds ledgers and trial balances.
type LedgerReader interface {
	AccountLedger(ctx context.Context, q ledger.Query) (ledger.Ledger, error)
	TrialBalance(ctx context.Context, from, to time.Time, branch string) (ledger.TrialBalance, error)
}

// AccountChecker verifies the configured roles against the chart.
type AccountChecker interface {
	Check(ctx context.Context) ([]accounts.MissingAccountError, error)
}

// Migrator applies embedded schema migrations.
type Migrator interface {
	Up() error
	Down(steps int) error
	Version() (uint, bool, error)
	Close() error
}

// Runtime is the engine a command talks to.
type Runtime struct {
	Batch    BatchRunner
	Pending  PendingChecker
	Ledger   LedgerReader
	Accounts AccountChecker
	Close    func()
}

// Env supplies lazily opened dependencies so that commands which only touch
// the queue never dial Postgres.
type Env struct {
	Stdout       io.Writer
	Stderr       io.Writer
	OpenRuntime  func(ctx context.Context) (*Runtime, error)
	OpenMigrator func() (Migrator, error)
	OpenJobs     func() (*JobsCLI, error)
}

// NewRootCommand builds the rvctl command tree.
func NewRootCommand(env Env) *cobra.Command {
	if env.Stdout == nil {
		env.Stdout = os.Stdout
	}
	if env.Stderr == nil {
		env.Stderr = os.Stderr
	}
	root := &cobra.Command{
		Use:           "rvctl",
		Short:         "Operate the receipt voucher posting engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(env.Stdout)
	root.SetErr(env.Stderr)
	root.AddCommand(
		migrateCommand(env),
		batchCommand(env),
		pendingCommand(env),
		ledgerCommand(env),
		trialBalanceCommand(env),
		jobsCommand(env),
		accountsCommand(env),
	)
	return root
}

func withRuntime(cmd *cobra.Command, env Env, fn func(*Runtime) error) error {
	if env.OpenRuntime == nil {
		return errors.New("rvctl: runtime not configured")
	}
	rt, err := env.OpenRuntime(cmd.Context())
	if err != nil {
		return err
	}
	if rt.Close != nil {
		defer rt.Close()
	}
	return fn(rt)
}

func migrateCommand(env Env) *cobra.Command {
	cmd := &cobra.Command{Use: "migrate", Short: "Manage the database schema"}
	open := func(fn func(Migrator) error) error {
		if env.OpenMigrator == nil {
			return errors.New("rvctl: migrator not configured")
		}
		m, err := env.OpenMigrator()
		if err != nil {
			return err
		}
		defer m.Close()
		return fn(m)
	}
	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return open(func(m Migrator) error {
				if err := m.Down(steps); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
				return nil
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return open(func(m Migrator) error {
					if err := m.Up(); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
					return nil
				})
			},
		},
		down,
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return open(func(m Migrator) error {
					version, dirty, err := m.Version()
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "version %d dirty=%t\n", version, dirty)
					return nil
				})
			},
		},
	)
	return cmd
}

type rangeFlags struct {
	branch string
	types  string
	from   string
	to     string
}

func (f *rangeFlags) bind(cmd *cobra.Command, withTypes bool) {
	cmd.Flags().StringVar(&f.branch, "branch", "", "branch code; empty means all")
	if withTypes {
		cmd.Flags().StringVar(&f.types, "types", "", "comma separated voucher types")
	}
	cmd.Flags().StringVar(&f.from, "from", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.to, "to", "", "end date, inclusive (YYYY-MM-DD)")
}

func (f *rangeFlags) dates() (*time.Time, *time.Time, error) {
	from, err := parseDate(f.from)
	if err != nil {
		return nil, nil, err
	}
	to, err := parseDate(f.to)
	if err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

func parseDate(raw string) (*time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(dateLayout, raw, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("rvctl: invalid date %q", raw)
	}
	return &t, nil
}

func batchCommand(env Env) *cobra.Command {
	cmd := &cobra.Command{Use: "batch", Short: "Post pending sources in bulk"}
	var (
		flags   rangeFlags
		limit   int
		actorID int64
		asJSON  bool
	)
	run := &cobra.Command{
		Use:   "run",
		Short: "Run a batch in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			types, err := receipts.ParseTypes(flags.types)
			if err != nil {
				return err
			}
			from, to, err := flags.dates()
			if err != nil {
				return err
			}
			filter := receipts.BatchFilter{Branch: flags.branch, Types: types, From: from, To: to, Limit: limit}
			return withRuntime(cmd, env, func(rt *Runtime) error {
				out := cmd.OutOrStdout()
				progress := func(p receipts.Progress) {
					if !asJSON {
						fmt.Fprintf(cmd.ErrOrStderr(), "\r%d/%d processed", p.Processed, p.Total)
					}
				}
				result, err := rt.Batch.Run(cmd.Context(), filter, actorID, progress)
				if !asJSON && result.Total > 0 {
					fmt.Fprintln(cmd.ErrOrStderr())
				}
				if err != nil && result.JobID == "" {
					return err
				}
				if asJSON {
					if encErr := writeJSON(out, result); encErr != nil {
						return encErr
					}
				} else {
					fmt.Fprintf(out, "%s %s: %s\n", result.JobID, result.Status, result.Message)
					for _, item := range result.Errors {
						fmt.Fprintf(out, "  source %d %s: %s\n", item.SourceID, item.InvoiceNumber, item.Message)
					}
				}
				return err
			})
		},
	}
	flags.bind(run, true)
	run.Flags().IntVar(&limit, "limit", 0, "maximum sources to process")
	run.Flags().Int64Var(&actorID, "actor", 0, "user id recorded on created vouchers")
	run.Flags().BoolVar(&asJSON, "json", false, "print the run as JSON")
	cmd.AddCommand(run)
	return cmd
}

func pendingCommand(env Env) *cobra.Command {
	var (
		flags  rangeFlags
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Report sources without a voucher",
		RunE: func(cmd *cobra.Command, _ []string) error {
			types, err := receipts.ParseTypes(flags.types)
			if err != nil {
				return err
			}
			from, to, err := flags.dates()
			if err != nil {
				return err
			}
			return withRuntime(cmd, env, func(rt *Runtime) error {
				report, err := rt.Pending.CheckPending(cmd.Context(), receipts.PendingInput{Branch: flags.branch, Types: types, From: from, To: to})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return writeJSON(out, report)
				}
				fmt.Fprintf(out, "%d pending\n", report.TotalPending)
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SOURCE\tBRANCH\tREASON\tINVOICE\tAMOUNT")
				for _, s := range report.Samples {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", s.SourceID, s.BranchCode, s.Reason, s.InvoiceNumber, s.Amount.StringFixed(2))
				}
				return tw.Flush()
			})
		},
	}
	flags.bind(cmd, true)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func ledgerCommand(env Env) *cobra.Command {
	cmd := &cobra.Command{Use: "ledger", Short: "Account ledger reports"}
	var (
		flags   rangeFlags
		account string
		output  string
	)
	export := &cobra.Command{
		Use:   "export",
		Short: "Export an account ledger to xlsx",
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, to, err := flags.dates()
			if err != nil {
				return err
			}
			q := ledger.Query{AccountCode: account, Branch: flags.branch}
			if from != nil {
				q.From = *from
			}
			if to != nil {
				q.To = *to
			}
			return withRuntime(cmd, env, func(rt *Runtime) error {
				l, err := rt.Ledger.AccountLedger(cmd.Context(), q)
				if err != nil {
					return err
				}
				if output == "" {
					output = fmt.Sprintf("ledger-%s.xlsx", l.Account.Code)
				}
				if err := writeFile(output, func(w io.Writer) error { return ledger.ExportLedgerXLSX(w, l) }); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d entries, closing %s\n", output, len(l.Entries), l.Closing.StringFixed(2))
				return nil
			})
		},
	}
	flags.bind(export, false)
	export.Flags().StringVar(&account, "account", "", "account code")
	export.Flags().StringVarP(&output, "out", "o", "", "output file")
	_ = export.MarkFlagRequired("account")
	cmd.AddCommand(export)
	return cmd
}

func trialBalanceCommand(env Env) *cobra.Command {
	cmd := &cobra.Command{Use: "trial-balance", Short: "Trial balance reports"}
	var (
		flags  rangeFlags
		output string
	)
	export := &cobra.Command{
		Use:   "export",
		Short: "Export a trial balance to xlsx",
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, to, err := flags.dates()
			if err != nil {
				return err
			}
			if from == nil || to == nil {
				return errors.New("rvctl: --from and --to are required")
			}
			return withRuntime(cmd, env, func(rt *Runtime) error {
				tb, err := rt.Ledger.TrialBalance(cmd.Context(), *from, *to, flags.branch)
				if err != nil {
					return err
				}
				if output == "" {
					output = fmt.Sprintf("trial-balance-%s-%s.xlsx", from.Format(dateLayout), to.Format(dateLayout))
				}
				if err := writeFile(output, func(w io.Writer) error { return ledger.ExportTrialBalanceXLSX(w, tb) }); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d groups, balanced=%t\n", output, len(tb.Groups), tb.Balanced)
				return nil
			})
		},
	}
	flags.bind(export, false)
	export.Flags().StringVarP(&output, "out", "o", "", "output file")
	cmd.AddCommand(export)
	return cmd
}

func jobsCommand(env Env) *cobra.Command {
	cmd := &cobra.Command{Use: "jobs", Short: "Queue management"}
	open := func(fn func(*JobsCLI) error) error {
		if env.OpenJobs == nil {
			return errors.New("rvctl: queue not configured")
		}
		c, err := env.OpenJobs()
		if err != nil {
			return err
		}
		defer c.Close()
		return fn(c)
	}
	var branch string
	trigger := &cobra.Command{
		Use:   "trigger <task>",
		Short: "Enqueue a task (receipts:autocreate or receipts:batch:run)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return open(func(c *JobsCLI) error {
				id, err := c.Trigger(cmd.Context(), args[0], branch)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s as %s\n", args[0], id)
				return nil
			})
		},
	}
	trigger.Flags().StringVar(&branch, "branch", "", "branch code; empty means all")

	var scheduled int
	inspect := &cobra.Command{
		Use:   "inspect",
		Short: "Show queue counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return open(func(c *JobsCLI) error {
				stats, err := c.InspectQueue(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
					stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
				if scheduled <= 0 {
					return nil
				}
				tasks, err := c.ListScheduled(cmd.Context(), scheduled)
				if err != nil {
					return err
				}
				for _, t := range tasks {
					fmt.Fprintf(out, "  %s %s at %s\n", t.ID, t.Type, t.NextProcessAt.Format(time.RFC3339))
				}
				return nil
			})
		},
	}
	inspect.Flags().IntVar(&scheduled, "scheduled", 0, "also list up to n scheduled tasks")
	cmd.AddCommand(trigger, inspect)
	return cmd
}

func accountsCommand(env Env) *cobra.Command {
	cmd := &cobra.Command{Use: "accounts", Short: "Chart of accounts checks"}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Verify every configured account exists and is active",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, env, func(rt *Runtime) error {
				missing, err := rt.Accounts.Check(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(missing) == 0 {
					fmt.Fprintln(out, "all accounts configured")
					return nil
				}
				for _, m := range missing {
					fmt.Fprintf(out, "missing %s (%s) for %s\n", m.Code, m.Role, m.Leg)
				}
				return fmt.Errorf("%w: %d", ErrMissingAccounts, len(missing))
			})
		},
	})
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeFile(path string, fn func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()
	return fn(f)
}
