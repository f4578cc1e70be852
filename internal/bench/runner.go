// Package bench runs one pipelined throughput benchmark end to end: connect,
// prepare, drive every batch through the pipeline with progress reporting,
// then print the summary and append the run to the results log.
package bench

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/qail-lang/pipebench/internal/config"
	"github.com/qail-lang/pipebench/internal/logging"
	"github.com/qail-lang/pipebench/internal/params"
	"github.com/qail-lang/pipebench/internal/pipeline"
	"github.com/qail-lang/pipebench/internal/report"
	"github.com/qail-lang/pipebench/internal/session"
	"github.com/qail-lang/pipebench/internal/stats"
)

// Session is the connection lifecycle the runner drives.
type Session interface {
	Prepare(ctx context.Context, name, sql string, paramCount int) (*session.Statement, error)
	EnterPipeline(ctx context.Context) (pipeline.Conn, error)
	ExitPipeline(ctx context.Context) error
	Close(ctx context.Context) error
}

// Dialer opens a Session for cfg.
type Dialer func(ctx context.Context, cfg config.Config, log *slog.Logger) (Session, error)

// DialPostgres opens a session.Manager.
func DialPostgres(ctx context.Context, cfg config.Config, log *slog.Logger) (Session, error) {
	m, err := session.Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Runner holds everything one run needs. Zero fields fall back to stdout,
// a discarding logger, time.Now and DialPostgres.
type Runner struct {
	Config config.Config
	// Title heads the summary box; derived from the config when empty.
	Title string
	Out   io.Writer
	Log   *slog.Logger
	Clock stats.Clock
	Dial  Dialer
}

// Result is the outcome of a completed run.
type Result struct {
	RunID      string
	Started    time.Time
	Elapsed    time.Duration
	Total      int
	Batches    int
	Successful int
	Failed     int
	SendErrors int
}

// Run executes the benchmark. Any returned error is fatal to the run; send
// failures are logged and counted in the result instead.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	cfg := r.Config
	if err := cfg.Validate(); err != nil {
		return Result{}, fmt.Errorf("invalid configuration: %w", err)
	}

	res := Result{
		RunID:   uuid.NewString(),
		Total:   cfg.TotalQueries,
		Batches: cfg.NumBatches(),
	}
	log := logging.WithRun(r.logger(), res.RunID)
	out := report.New(r.output())
	title := r.title()

	out.Header(report.Header{
		Title:     title,
		Addr:      cfg.Addr(),
		User:      cfg.User,
		Mode:      cfg.Mode,
		Total:     cfg.TotalQueries,
		BatchSize: cfg.BatchSize,
		Batches:   res.Batches,
	})

	out.Connecting(cfg.Addr(), cfg.User)
	sess, err := r.dialer()(ctx, cfg, log)
	if err != nil {
		return res, err
	}
	defer func() {
		if err := sess.Close(context.WithoutCancel(ctx)); err != nil {
			log.Warn("close failed", "error", err)
		}
	}()
	out.Step("Connected to PostgreSQL")

	if _, err := sess.Prepare(ctx, cfg.StatementName, cfg.SQL, 1); err != nil {
		return res, err
	}
	out.Step("Statement prepared")

	conn, err := sess.EnterPipeline(ctx)
	if err != nil {
		return res, err
	}
	out.Step("Pipeline mode entered")

	buf, err := params.New(cfg.BatchSize)
	if err != nil {
		return res, err
	}
	out.Step("Params pre-built")
	out.Executing(cfg.TotalQueries)

	acc := stats.NewAccumulator(cfg.TotalQueries, cfg.ReportEvery, cfg.ReportInterval, r.Clock)
	driver := pipeline.New(conn, buf, log)

	res.Started = time.Now()
	acc.Start()
	runErr := driver.Run(ctx, res.Batches, func(b pipeline.BatchResult) {
		acc.Add(b.Tuples)
		res.Failed += b.Sent - b.Tuples
		if b.SendErr != nil {
			res.SendErrors++
		}
		if snap, ok := acc.Tick(); ok {
			out.Progress(snap, b.Batch+1, res.Batches)
		}
	})
	res.Elapsed = acc.Elapsed()
	res.Successful = acc.Successful()

	if runErr != nil {
		log.Error("run aborted",
			"state", driver.State(),
			"successful", res.Successful,
			"elapsed", res.Elapsed,
			"error", runErr)
		return res, runErr
	}

	if err := sess.ExitPipeline(ctx); err != nil {
		log.Warn("exit pipeline mode failed", "error", err)
	}

	out.Summary(report.Summary{
		Title:      title,
		Elapsed:    res.Elapsed,
		Total:      res.Total,
		Successful: res.Successful,
	})

	if res.Successful != res.Total {
		log.Warn("successful count differs from configured total; queries/second is computed from the configured total",
			"successful", res.Successful,
			"total", res.Total,
			"failed", res.Failed,
			"send_errors", res.SendErrors)
	}
	log.Info("run complete",
		"successful", res.Successful,
		"elapsed", res.Elapsed,
		"qps", stats.Throughput(res.Total, res.Elapsed))

	if cfg.ResultsPath != "" {
		if err := AppendRecord(cfg.ResultsPath, NewRecord(cfg, res)); err != nil {
			log.Warn("cannot append to results log", "path", cfg.ResultsPath, "error", err)
		}
	}
	return res, nil
}

// Title names a run in the summary box, for example
// "50 MILLION QUERIES - Go pipeline".
func Title(cfg config.Config) string {
	if cfg.TotalQueries >= 1_000_000 && cfg.TotalQueries%1_000_000 == 0 {
		return fmt.Sprintf("%d MILLION QUERIES - Go %s", cfg.TotalQueries/1_000_000, cfg.Mode)
	}
	return fmt.Sprintf("%d QUERIES - Go %s", cfg.TotalQueries, cfg.Mode)
}

// ExitCode maps a run error to the process exit status: 0 on completion,
// 1 on any fatal error.
func ExitCode(err error) int {
	if pipeline.IsFatal(err) {
		return 1
	}
	return 0
}

func (r *Runner) title() string {
	if r.Title != "" {
		return r.Title
	}
	return Title(r.Config)
}

func (r *Runner) output() io.Writer {
	if r.Out != nil {
		return r.Out
	}
	return os.Stdout
}

func (r *Runner) logger() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return logging.Discard()
}

func (r *Runner) dialer() Dialer {
	if r.Dial != nil {
		return r.Dial
	}
	return DialPostgres
}
