package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/qail-lang/pipebench/internal/bench"
	"github.com/qail-lang/pipebench/internal/config"
	"github.com/qail-lang/pipebench/internal/pgtest"
)

// runCLI runs the root command with args after restoring every flag to its
// default.
func runCLI(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()

	reset := func(fs *pflag.FlagSet) {
		fs.VisitAll(func(f *pflag.Flag) {
			if err := f.Value.Set(f.DefValue); err != nil {
				t.Fatalf("reset --%s: %v", f.Name, err)
			}
			f.Changed = false
		})
	}
	reset(rootCmd.Flags())
	reset(rootCmd.PersistentFlags())
	cfg = config.FromEnv()
	qailExpr = ""

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err = rootCmd.Execute()
	return out.String(), errOut.String(), err
}

func TestSQLAndQAILExclusive(t *testing.T) {
	_, stderr, err := runCLI(t, "--sql", "SELECT 1", "--qail", "get::harbors:'_")
	if err == nil || !strings.Contains(err.Error(), "mutually exclusive") {
		t.Fatalf("expected mutual exclusion error, got %v", err)
	}
	if bench.ExitCode(err) != 1 {
		t.Error("expected exit code 1")
	}
	if !strings.Contains(stderr, "level=ERROR") {
		t.Errorf("fatal error not logged at ERROR:\n%s", stderr)
	}
}

func TestInvalidQAILIsFatal(t *testing.T) {
	_, stderr, err := runCLI(t, "--qail", "!!! not qail")
	if err == nil || !strings.Contains(err.Error(), "invalid QAIL expression") {
		t.Fatalf("expected transpile failure, got %v", err)
	}
	if bench.ExitCode(err) != 1 {
		t.Error("expected exit code 1")
	}
	if !errors.As(err, new(logged)) {
		t.Error("error should be marked as logged")
	}
	if !strings.Contains(stderr, "benchmark failed") {
		t.Errorf("missing error log line:\n%s", stderr)
	}
}

func TestConnectionFailureLogged(t *testing.T) {
	_, stderr, err := runCLI(t, "--host", "127.0.0.1", "--port", "1", "--total", "10", "--batch", "10")
	if err == nil {
		t.Fatal("expected a connection error")
	}
	if bench.ExitCode(err) != 1 {
		t.Error("expected exit code 1")
	}
	if !strings.Contains(stderr, "level=ERROR") || !strings.Contains(stderr, "connect to 127.0.0.1:1") {
		t.Errorf("connection failure not logged:\n%s", stderr)
	}
}

func TestRunAndListResults(t *testing.T) {
	srv := pgtest.NewServer(t)
	path := filepath.Join(t.TempDir(), "runs.jsonl")

	stdout, stderr, err := runCLI(t,
		"--host", srv.Host(),
		"--port", srv.Port(),
		"--sslmode", "disable",
		"--password", "",
		"--total", "20",
		"--batch", "10",
		"--mode", config.ModeWire,
		"--results", path)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, stderr)
	}
	if !strings.Contains(stdout, "FINAL RESULTS") || !strings.Contains(stdout, "20 QUERIES - Go wire") {
		t.Errorf("unexpected report:\n%s", stdout)
	}

	stdout, _, err = runCLI(t, "results", path)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one run, got:\n%s", stdout)
	}
	if !strings.HasPrefix(lines[0], "STARTED") {
		t.Errorf("missing header: %q", lines[0])
	}
	if !strings.Contains(lines[1], "wire") || !strings.Contains(lines[1], "20") {
		t.Errorf("unexpected row: %q", lines[1])
	}
}

func TestListResults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	for _, rec := range []bench.RunRecord{
		{RunID: "run-a", Mode: config.ModePipeline, Total: 100, BatchSize: 10, Successful: 100, ElapsedNs: int64(time.Second)},
		{RunID: "run-b", Mode: config.ModeBatch, Total: 200, BatchSize: 20, Successful: 150, ElapsedNs: int64(2 * time.Second)},
	} {
		if err := bench.AppendRecord(path, rec); err != nil {
			t.Fatal(err)
		}
	}

	stdout, _, err := runCLI(t, "results", path)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	for _, want := range []string{"STARTED", "run-a", "run-b", "batch", "150", "2s"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("output missing %q:\n%s", want, stdout)
		}
	}
}

func TestListResultsNeedsPath(t *testing.T) {
	if _, _, err := runCLI(t, "results"); err == nil || !strings.Contains(err.Error(), "no results log") {
		t.Fatalf("expected missing path error, got %v", err)
	}
}

func TestVersion(t *testing.T) {
	stdout, _, err := runCLI(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(stdout, "pipebench "+version+" (qail ") {
		t.Errorf("unexpected version output %q", stdout)
	}
}
