// Package config holds the run configuration for the pipelined throughput
// benchmark.
//
// Connection settings come from the environment with the same variable names
// the other benchmark drivers use:
//
//	export PG_HOST=127.0.0.1
//	export PG_PORT=5432
//	export PG_USER=postgres
//	export PG_DATABASE=postgres
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"
)

const (
	DefaultHost     = "127.0.0.1"
	DefaultPort     = "5432"
	DefaultUser     = "postgres"
	DefaultDatabase = "postgres"

	DefaultTotalQueries = 50_000_000
	DefaultBatchSize    = 10_000

	DefaultStatementName = "stmt1"
	DefaultSQL           = "SELECT id, name FROM harbors LIMIT $1"

	DefaultReportEvery    = 1_000_000
	DefaultReportInterval = 5 * time.Second
)

// Transport modes.
const (
	ModePipeline = "pipeline"
	ModeWire     = "wire"
	ModeBatch    = "batch"
)

// Config describes one benchmark run.
type Config struct {
	Host     string
	Port     string
	User     string
	Database string
	Password string
	SSLMode  string

	TotalQueries int
	BatchSize    int

	StatementName string
	SQL           string

	// Mode selects the pipeline transport: ModePipeline, ModeWire or
	// ModeBatch.
	Mode string
	// FlushEvery flushes the send buffer after this many requests.
	// Zero flushes only at the sync marker.
	FlushEvery int

	ReportEvery    int
	ReportInterval time.Duration

	// ResultsPath, when set, receives one JSON line per completed run.
	ResultsPath string
}

func getEnvOr(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// FromEnv returns the default configuration with connection settings taken
// from PG_HOST, PG_PORT, PG_USER, PG_DATABASE and PG_PASSWORD.
func FromEnv() Config {
	return Config{
		Host:     getEnvOr("PG_HOST", DefaultHost),
		Port:     getEnvOr("PG_PORT", DefaultPort),
		User:     getEnvOr("PG_USER", DefaultUser),
		Database: getEnvOr("PG_DATABASE", DefaultDatabase),
		Password: os.Getenv("PG_PASSWORD"),
		SSLMode:  getEnvOr("PG_SSLMODE", "disable"),

		TotalQueries: DefaultTotalQueries,
		BatchSize:    DefaultBatchSize,

		StatementName: DefaultStatementName,
		SQL:           DefaultSQL,
		Mode:          ModePipeline,

		ReportEvery:    DefaultReportEvery,
		ReportInterval: DefaultReportInterval,
	}
}

// Validate checks the invariants a run depends on. Batch divisibility is
// checked here so the driver never has to handle a partial final batch.
func (c Config) Validate() error {
	if c.TotalQueries <= 0 {
		return fmt.Errorf("total queries must be positive, got %d", c.TotalQueries)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.TotalQueries%c.BatchSize != 0 {
		return fmt.Errorf("total queries %d is not divisible by batch size %d", c.TotalQueries, c.BatchSize)
	}
	if c.FlushEvery < 0 {
		return fmt.Errorf("flush-every must not be negative, got %d", c.FlushEvery)
	}
	switch c.Mode {
	case ModePipeline, ModeWire, ModeBatch:
	default:
		return fmt.Errorf("unknown mode %q (expected %s, %s or %s)", c.Mode, ModePipeline, ModeWire, ModeBatch)
	}
	if c.StatementName == "" {
		return errors.New("statement name is empty")
	}
	if c.SQL == "" {
		return errors.New("statement SQL is empty")
	}
	if c.ReportEvery <= 0 {
		return fmt.Errorf("report-every must be positive, got %d", c.ReportEvery)
	}
	return nil
}

// NumBatches is TotalQueries / BatchSize. Only meaningful after Validate.
func (c Config) NumBatches() int {
	if c.BatchSize <= 0 {
		return 0
	}
	return c.TotalQueries / c.BatchSize
}

// ConnString renders a postgres:// URL for pgconn.
func (c Config) ConnString() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else {
		u.User = url.User(c.User)
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
	}
	return u.String()
}

// Addr is host:port, used in log lines and connection errors.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}
