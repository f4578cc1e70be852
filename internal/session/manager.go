// Package session owns the single benchmark connection: it opens the
// session, prepares the statement and switches the connection in and out of
// pipeline mode.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/qail-lang/pipebench/internal/config"
	"github.com/qail-lang/pipebench/internal/pipeline"
)

// ApplicationName tags benchmark sessions in pg_stat_activity.
const ApplicationName = "pipebench"

// Statement is a prepared statement bound on the session.
type Statement struct {
	Name       string
	SQL        string
	ParamCount int
}

// transport is a pipeline.Conn that can be taken out of pipeline mode.
type transport interface {
	pipeline.Conn
	exit() error
}

// Manager is the connection lifecycle: Open → Prepare → EnterPipeline →
// ExitPipeline → Close. It is owned by one goroutine.
type Manager struct {
	cfg config.Config
	log *slog.Logger

	conn     *pgx.Conn
	pg       *pgconn.PgConn
	hijacked *pgconn.HijackedConn
	stmt     *Statement
	active   transport
}

// Open connects to the backend described by cfg.
func Open(ctx context.Context, cfg config.Config, log *slog.Logger) (*Manager, error) {
	connCfg, err := pgx.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, &pipeline.ConnectionError{Addr: cfg.Addr(), Cause: err}
	}
	connCfg.RuntimeParams["application_name"] = ApplicationName

	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return nil, &pipeline.ConnectionError{Addr: cfg.Addr(), Cause: err}
	}
	pg := conn.PgConn()

	log.Info("connected",
		"addr", cfg.Addr(),
		"user", cfg.User,
		"database", cfg.Database,
		"pid", pg.PID(),
		"server_version", pg.ParameterStatus("server_version"))

	return &Manager{cfg: cfg, log: log, conn: conn, pg: pg}, nil
}

// Prepare binds sql under name. The server-described parameter count must
// equal paramCount.
func (m *Manager) Prepare(ctx context.Context, name, sql string, paramCount int) (*Statement, error) {
	if m.hijacked != nil || m.active != nil {
		return nil, &pipeline.PrepareError{Name: name, SQL: sql, Cause: errors.New("connection is in pipeline mode")}
	}

	// Prepared through pgx.Conn so the batch transport can queue by name.
	sd, err := m.conn.Prepare(ctx, name, sql)
	if err != nil {
		return nil, &pipeline.PrepareError{Name: name, SQL: sql, Cause: err}
	}
	if len(sd.ParamOIDs) != paramCount {
		return nil, &pipeline.PrepareError{Name: name, SQL: sql,
			Cause: fmt.Errorf("statement takes %d parameters, expected %d", len(sd.ParamOIDs), paramCount)}
	}

	m.stmt = &Statement{Name: name, SQL: sql, ParamCount: paramCount}
	m.log.Debug("statement prepared", "name", name, "fields", len(sd.Fields))
	return m.stmt, nil
}

// EnterPipeline switches the connection to pipeline mode bound to the
// prepared statement, using the transport named by the config's mode.
func (m *Manager) EnterPipeline(ctx context.Context) (pipeline.Conn, error) {
	switch {
	case m.active != nil:
		return nil, &pipeline.PipelineModeError{Op: "enter", Cause: errors.New("already in pipeline mode")}
	case m.stmt == nil:
		return nil, &pipeline.PipelineModeError{Op: "enter", Cause: errors.New("no prepared statement")}
	case m.hijacked != nil:
		return nil, &pipeline.PipelineModeError{Op: "enter", Cause: errors.New("connection was handed to the wire transport")}
	case m.pg.IsClosed():
		return nil, &pipeline.PipelineModeError{Op: "enter", Cause: errors.New("connection is closed")}
	case m.pg.IsBusy():
		return nil, &pipeline.PipelineModeError{Op: "enter", Cause: errors.New("connection is busy")}
	case m.pg.TxStatus() == 'E':
		return nil, &pipeline.PipelineModeError{Op: "enter", Cause: errors.New("connection is in a failed transaction")}
	}

	switch m.cfg.Mode {
	case config.ModeWire:
		hj, err := m.pg.Hijack()
		if err != nil {
			return nil, &pipeline.PipelineModeError{Op: "enter", Cause: err}
		}
		m.hijacked = hj
		m.active = NewWireConn(hj.Conn, m.stmt.Name, m.cfg.FlushEvery)
	case config.ModeBatch:
		m.active = newBatchConn(ctx, m.conn, m.stmt.Name)
	default:
		m.active = newPgconnPipeline(m.pg.StartPipeline(ctx), m.stmt.Name, m.cfg.FlushEvery)
	}

	m.log.Debug("entered pipeline mode", "mode", m.cfg.Mode, "flush_every", m.cfg.FlushEvery)
	return m.active, nil
}

// ExitPipeline leaves pipeline mode. It fails if replies are still
// outstanding.
func (m *Manager) ExitPipeline(ctx context.Context) error {
	if m.active == nil {
		return &pipeline.PipelineModeError{Op: "exit", Cause: errors.New("not in pipeline mode")}
	}
	err := m.active.exit()
	m.active = nil
	if err != nil {
		return &pipeline.PipelineModeError{Op: "exit", Cause: err}
	}
	return nil
}

// Close ends the session. A hijacked connection is terminated directly.
func (m *Manager) Close(ctx context.Context) error {
	if m.hijacked != nil {
		fe := pgproto3.NewFrontend(m.hijacked.Conn, m.hijacked.Conn)
		fe.Send(&pgproto3.Terminate{})
		flushErr := fe.Flush()
		closeErr := m.hijacked.Conn.Close()
		m.hijacked = nil
		return errors.Join(flushErr, closeErr)
	}
	return m.conn.Close(ctx)
}

