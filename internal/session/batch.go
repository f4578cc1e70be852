package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/qail-lang/pipebench/internal/params"
	"github.com/qail-lang/pipebench/internal/pipeline"
)

// batchConn queues requests in a pgx.Batch and sends the whole batch at the
// sync point with Conn.SendBatch. Arguments go through pgx's type encoding,
// so this mode measures the high-level client against the raw transports.
type batchConn struct {
	ctx  context.Context
	conn *pgx.Conn
	stmt string

	batch   *pgx.Batch
	results pgx.BatchResults

	// args maps an encoded parameter to its decoded argument. It is filled
	// for every generated value up front so Send does no parsing.
	args map[string]any

	outstanding int
	pendingEnd  bool
	failed      bool
}

func newBatchConn(ctx context.Context, conn *pgx.Conn, stmt string) *batchConn {
	c := &batchConn{
		ctx:   ctx,
		conn:  conn,
		stmt:  stmt,
		batch: &pgx.Batch{},
		args:  make(map[string]any, params.Distinct),
	}
	for i := 0; i < params.Distinct; i++ {
		v := params.Value(i)
		c.args[strconv.Itoa(v)] = v
	}
	return c
}

func (c *batchConn) Send(param []byte) error {
	arg, ok := c.args[string(param)]
	if !ok {
		v, err := strconv.Atoi(string(param))
		if err != nil {
			return fmt.Errorf("batch: parameter %q: %w", param, err)
		}
		arg = v
		c.args[string(param)] = arg
	}
	c.batch.Queue(c.stmt, arg)
	c.outstanding++
	return nil
}

func (c *batchConn) Sync() error {
	if c.results != nil {
		return errors.New("batch: previous batch not drained")
	}
	// Errors surface when the results are read.
	c.results = c.conn.SendBatch(c.ctx, c.batch)
	c.batch = &pgx.Batch{}
	return nil
}

func (c *batchConn) Read() (pipeline.Reply, error) {
	if c.pendingEnd {
		c.pendingEnd = false
		return pipeline.Reply{Kind: pipeline.KindEnd}, nil
	}
	if c.results == nil {
		return pipeline.Reply{Kind: pipeline.KindEnd}, nil
	}

	if c.outstanding == 0 {
		err := c.results.Close()
		c.results = nil
		failed := c.failed
		c.failed = false
		if err != nil && !failed {
			return pipeline.Reply{}, err
		}
		return pipeline.Reply{Kind: pipeline.KindSync}, nil
	}

	c.outstanding--
	c.pendingEnd = true
	tag, err := c.results.Exec()
	if err != nil {
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) {
			return pipeline.Reply{}, err
		}
		c.failed = true
		return pipeline.Reply{Kind: pipeline.KindError, Err: err}, nil
	}
	if tag.Select() {
		return pipeline.Reply{Kind: pipeline.KindTuples}, nil
	}
	return pipeline.Reply{Kind: pipeline.KindCommand}, nil
}

func (c *batchConn) exit() error {
	if c.outstanding > 0 || c.pendingEnd || c.results != nil {
		return fmt.Errorf("%d requests not drained", c.outstanding)
	}
	return nil
}
