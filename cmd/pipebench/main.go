// Command pipebench measures sustained PostgreSQL query throughput over one
// pipelined connection.
//
//	pipebench --total 50000000 --batch 10000
//	pipebench --mode wire --flush-every 1000 --results ~/.pipebench/runs.jsonl
//	pipebench results ~/.pipebench/runs.jsonl
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/qail-lang/pipebench/internal/bench"
	"github.com/qail-lang/pipebench/internal/config"
	"github.com/qail-lang/pipebench/internal/logging"
	"github.com/qail-lang/pipebench/pkg/qail"
)

// version is set at link time with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfg = config.FromEnv()

	qailExpr  string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "pipebench",
	Short: "Pipelined PostgreSQL throughput benchmark",
	Long: `Run a single-connection pipelined benchmark: a prepared statement is
executed total times in batches, each batch sent without waiting, closed by one
sync and then drained in order.

Connection defaults come from PG_HOST, PG_PORT, PG_USER, PG_DATABASE and
PG_PASSWORD.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runBench,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the harness and QAIL library versions",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "pipebench %s (qail %s)\n", version, qail.Version())
	},
}

var resultsCmd = &cobra.Command{
	Use:   "results [path]",
	Short: "List the runs recorded in a results log",
	Args:  cobra.MaximumNArgs(1),
	RunE:  listResults,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&cfg.Host, "host", cfg.Host, "PostgreSQL host (env: PG_HOST)")
	f.StringVar(&cfg.Port, "port", cfg.Port, "PostgreSQL port (env: PG_PORT)")
	f.StringVar(&cfg.User, "user", cfg.User, "PostgreSQL user (env: PG_USER)")
	f.StringVar(&cfg.Database, "database", cfg.Database, "PostgreSQL database (env: PG_DATABASE)")
	f.StringVar(&cfg.Password, "password", cfg.Password, "PostgreSQL password (env: PG_PASSWORD)")
	f.StringVar(&cfg.SSLMode, "sslmode", cfg.SSLMode, "sslmode connection parameter (env: PG_SSLMODE)")

	f.IntVar(&cfg.TotalQueries, "total", cfg.TotalQueries, "Total queries to execute")
	f.IntVar(&cfg.BatchSize, "batch", cfg.BatchSize, "Queries per pipelined batch; must divide --total")
	f.StringVar(&cfg.StatementName, "stmt", cfg.StatementName, "Prepared statement name")
	f.StringVar(&cfg.SQL, "sql", cfg.SQL, "Statement SQL taking one parameter")
	f.StringVar(&qailExpr, "qail", "", "QAIL expression transpiled into the statement SQL (needs -tags qail_ffi)")

	f.StringVar(&cfg.Mode, "mode", cfg.Mode, "Transport: pipeline (pgconn), wire (raw protocol) or batch (pgx.Batch)")
	f.IntVar(&cfg.FlushEvery, "flush-every", cfg.FlushEvery, "Flush after this many sends (0: only at sync)")
	f.IntVar(&cfg.ReportEvery, "report-every", cfg.ReportEvery, "Report progress when the successful count is a multiple of this")
	f.DurationVar(&cfg.ReportInterval, "report-interval", cfg.ReportInterval, "Report progress at least this often")
	f.StringVar(&cfg.ResultsPath, "results", "", "JSONL log file to append the run to")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")

	rootCmd.AddCommand(versionCmd, resultsCmd)
}

// logged wraps an error that was already written to the log.
type logged struct{ error }

func (e logged) Unwrap() error { return e.error }

func runBench(cmd *cobra.Command, args []string) error {
	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	log := logging.New(logging.Config{Level: level, Format: logFormat, Output: cmd.ErrOrStderr()})

	if err := execute(cmd, log); err != nil {
		log.Error("benchmark failed", "error", err)
		return logged{err}
	}
	return nil
}

func execute(cmd *cobra.Command, log *slog.Logger) error {
	if qailExpr != "" {
		if cmd.Flags().Changed("sql") {
			return errors.New("--sql and --qail are mutually exclusive")
		}
		sql, err := transpile(qailExpr)
		if err != nil {
			return err
		}
		log.Info("statement transpiled", "qail", qailExpr, "sql", sql)
		cfg.SQL = sql
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := &bench.Runner{
		Config: cfg,
		Out:    cmd.OutOrStdout(),
		Log:    log,
	}
	_, err := runner.Run(ctx)
	return err
}

func transpile(expr string) (string, error) {
	if !qail.Validate(expr) {
		return "", fmt.Errorf("invalid QAIL expression %q: %s", expr, qail.LastError())
	}
	sql, err := qail.TranspileWithDialect(expr, qail.Postgres)
	if err != nil {
		return "", fmt.Errorf("transpile %q: %w", expr, err)
	}
	return sql, nil
}

func listResults(cmd *cobra.Command, args []string) error {
	path := cfg.ResultsPath
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		return errors.New("no results log given")
	}

	records, err := bench.ReadRecordsFile(path)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tMODE\tTOTAL\tBATCH\tSUCCESSFUL\tELAPSED\tQ/S\tRUN")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%.0f\t%s\n",
			r.Started.Local().Format(time.DateTime),
			r.Mode,
			r.Total,
			r.BatchSize,
			r.Successful,
			time.Duration(r.ElapsedNs).Round(time.Millisecond),
			r.QPS,
			r.RunID)
	}
	return w.Flush()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.As(err, new(logged)) {
			fmt.Fprintf(os.Stderr, "pipebench: %v\n", err)
		}
		os.Exit(bench.ExitCode(err))
	}
}
