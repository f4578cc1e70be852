package bench

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/qail-lang/pipebench/internal/config"
	"github.com/qail-lang/pipebench/internal/stats"
)

var json = jsoniter.ConfigFastest

// RunRecord is one line of the results log.
type RunRecord struct {
	RunID      string    `json:"run_id"`
	Started    time.Time `json:"started"`
	Mode       string    `json:"mode"`
	Addr       string    `json:"addr"`
	Database   string    `json:"database"`
	Statement  string    `json:"statement"`
	SQL        string    `json:"sql"`
	Total      int       `json:"total_queries"`
	BatchSize  int       `json:"batch_size"`
	Batches    int       `json:"batches"`
	FlushEvery int       `json:"flush_every,omitempty"`
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	SendErrors int       `json:"send_errors"`
	ElapsedNs  int64     `json:"elapsed_ns"`
	QPS        float64   `json:"queries_per_second"`
	PerQueryNs int64     `json:"per_query_ns"`
}

// NewRecord describes a completed run. QPS and PerQueryNs are computed from
// the configured total, matching the printed summary.
func NewRecord(cfg config.Config, res Result) RunRecord {
	return RunRecord{
		RunID:      res.RunID,
		Started:    res.Started.UTC(),
		Mode:       cfg.Mode,
		Addr:       cfg.Addr(),
		Database:   cfg.Database,
		Statement:  cfg.StatementName,
		SQL:        cfg.SQL,
		Total:      res.Total,
		BatchSize:  cfg.BatchSize,
		Batches:    res.Batches,
		FlushEvery: cfg.FlushEvery,
		Successful: res.Successful,
		Failed:     res.Failed,
		SendErrors: res.SendErrors,
		ElapsedNs:  res.Elapsed.Nanoseconds(),
		QPS:        stats.Throughput(res.Total, res.Elapsed),
		PerQueryNs: stats.PerQuery(res.Elapsed, res.Total).Nanoseconds(),
	}
}

// AppendRecord appends rec as one JSON line to the log at path, creating
// the file and its directory if needed.
func AppendRecord(path string, rec RunRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open results log: %w", err)
	}

	line, err := json.Marshal(rec)
	if err != nil {
		f.Close()
		return fmt.Errorf("encode run record: %w", err)
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("write results log: %w", err)
	}
	return f.Close()
}

// ReadRecords decodes every line of a results log. Blank lines are skipped.
func ReadRecords(r io.Reader) ([]RunRecord, error) {
	var records []RunRecord

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for n := 1; sc.Scan(); n++ {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec RunRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return records, fmt.Errorf("results log line %d: %w", n, err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) {
		return records, err
	}
	return records, nil
}

// ReadRecordsFile is ReadRecords on the file at path.
func ReadRecordsFile(path string) ([]RunRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadRecords(f)
}
