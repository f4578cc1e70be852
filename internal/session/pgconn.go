package session

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/qail-lang/pipebench/internal/pipeline"
)

// pgconnPipeline drives the statement through pgconn's pipeline API.
//
// pgconn yields a single result per request and stops yielding results after
// an error until the sync point. The terminator read and the aborted results
// are supplied here so every request drains as result + terminator.
type pgconnPipeline struct {
	p          *pgconn.Pipeline
	stmt       string
	flushEvery int
	unflushed  int

	// args is reused for every send; SendQueryPrepared encodes it immediately.
	args [][]byte

	outstanding int
	pendingEnd  bool
	aborted     bool
}

func newPgconnPipeline(p *pgconn.Pipeline, stmt string, flushEvery int) *pgconnPipeline {
	return &pgconnPipeline{p: p, stmt: stmt, flushEvery: flushEvery, args: make([][]byte, 1)}
}

func (c *pgconnPipeline) Send(param []byte) error {
	c.args[0] = param
	c.p.SendQueryPrepared(c.stmt, c.args, nil, nil)
	c.args[0] = nil
	c.outstanding++

	if c.flushEvery > 0 {
		c.unflushed++
		if c.unflushed >= c.flushEvery {
			c.unflushed = 0
			if err := c.p.Flush(); err != nil {
				c.outstanding--
				return err
			}
		}
	}
	return nil
}

func (c *pgconnPipeline) Sync() error {
	c.unflushed = 0
	return c.p.Sync()
}

func (c *pgconnPipeline) Read() (pipeline.Reply, error) {
	if c.pendingEnd {
		c.pendingEnd = false
		return pipeline.Reply{Kind: pipeline.KindEnd}, nil
	}

	if c.outstanding == 0 {
		res, err := c.p.GetResults()
		if err != nil {
			return pipeline.Reply{}, err
		}
		return c.classify(res)
	}

	c.outstanding--
	c.pendingEnd = true
	if c.aborted {
		return pipeline.Reply{Kind: pipeline.KindError, Err: pipeline.ErrAborted}, nil
	}

	res, err := c.p.GetResults()
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			c.aborted = true
			return pipeline.Reply{Kind: pipeline.KindError, Err: pgErr}, nil
		}
		return pipeline.Reply{}, err
	}
	return c.classify(res)
}

func (c *pgconnPipeline) classify(res any) (pipeline.Reply, error) {
	switch res := res.(type) {
	case *pgconn.ResultReader:
		if _, err := res.Close(); err != nil {
			c.aborted = true
			return pipeline.Reply{Kind: pipeline.KindError, Err: err}, nil
		}
		if res.FieldDescriptions() != nil {
			return pipeline.Reply{Kind: pipeline.KindTuples}, nil
		}
		return pipeline.Reply{Kind: pipeline.KindCommand}, nil
	case *pgconn.PipelineSync:
		c.aborted = false
		return pipeline.Reply{Kind: pipeline.KindSync}, nil
	case nil:
		// Nothing left to read: the null result.
		return pipeline.Reply{Kind: pipeline.KindEnd}, nil
	}
	return pipeline.Reply{}, fmt.Errorf("unexpected pipeline result %T", res)
}

func (c *pgconnPipeline) exit() error {
	if c.outstanding > 0 || c.pendingEnd {
		return fmt.Errorf("%d requests not drained", c.outstanding)
	}
	return c.p.Close()
}
