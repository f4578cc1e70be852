package session

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/qail-lang/pipebench/internal/pipeline"
)

// WireConn drives the extended query protocol directly on a raw connection:
// Bind/Describe/Execute per request and one Sync per batch, with buffered
// writes flushed at the sync (or every flushEvery requests).
//
// After an ErrorResponse the backend discards everything up to the Sync, so
// the remaining requests of that batch are answered locally with ErrAborted.
type WireConn struct {
	fe         *pgproto3.Frontend
	flushEvery int
	unflushed  int

	// Messages are encoded into the frontend's buffer on Send, so one set is
	// reused for every request.
	bind     pgproto3.Bind
	describe pgproto3.Describe
	execute  pgproto3.Execute

	outstanding int // requests sent and not yet drained
	syncs       int // sync markers sent and not yet drained
	pendingEnd  bool
	aborted     bool
}

// NewWireConn starts reading rw ahead in the background and returns a
// transport for the named prepared statement.
func NewWireConn(rw io.ReadWriter, stmt string, flushEvery int) *WireConn {
	c := &WireConn{
		fe:         pgproto3.NewFrontend(newReadAhead(rw), rw),
		flushEvery: flushEvery,
		describe:   pgproto3.Describe{ObjectType: 'P'},
	}
	c.bind.PreparedStatement = stmt
	c.bind.Parameters = make([][]byte, 1)
	return c
}

func (c *WireConn) Send(param []byte) error {
	c.bind.Parameters[0] = param
	c.fe.Send(&c.bind)
	c.fe.Send(&c.describe)
	c.fe.Send(&c.execute)
	c.bind.Parameters[0] = nil
	c.outstanding++

	if c.flushEvery > 0 {
		c.unflushed++
		if c.unflushed >= c.flushEvery {
			c.unflushed = 0
			if err := c.fe.Flush(); err != nil {
				c.outstanding--
				return err
			}
		}
	}
	return nil
}

func (c *WireConn) Sync() error {
	c.fe.Send(&pgproto3.Sync{})
	c.unflushed = 0
	if err := c.fe.Flush(); err != nil {
		return err
	}
	c.syncs++
	return nil
}

func (c *WireConn) Read() (pipeline.Reply, error) {
	if c.pendingEnd {
		c.pendingEnd = false
		return pipeline.Reply{Kind: pipeline.KindEnd}, nil
	}
	if c.outstanding == 0 {
		return c.readSync()
	}

	c.outstanding--
	c.pendingEnd = true
	if c.aborted {
		return pipeline.Reply{Kind: pipeline.KindError, Err: pipeline.ErrAborted}, nil
	}
	return c.readResult()
}

// readResult consumes the messages of one request up to its completion.
func (c *WireConn) readResult() (pipeline.Reply, error) {
	tuples := false
	for {
		msg, err := c.fe.Receive()
		if err != nil {
			return pipeline.Reply{}, err
		}

		switch msg := msg.(type) {
		case *pgproto3.BindComplete, *pgproto3.NoData, *pgproto3.DataRow,
			*pgproto3.NoticeResponse, *pgproto3.ParameterStatus:
		case *pgproto3.RowDescription:
			tuples = true
		case *pgproto3.CommandComplete, *pgproto3.PortalSuspended:
			if tuples {
				return pipeline.Reply{Kind: pipeline.KindTuples}, nil
			}
			return pipeline.Reply{Kind: pipeline.KindCommand}, nil
		case *pgproto3.EmptyQueryResponse:
			return pipeline.Reply{Kind: pipeline.KindCommand}, nil
		case *pgproto3.ErrorResponse:
			c.aborted = true
			return pipeline.Reply{Kind: pipeline.KindError, Err: pgconn.ErrorResponseToPgError(msg)}, nil
		case *pgproto3.ReadyForQuery:
			// The sync arrived while a result was expected.
			c.syncs--
			c.aborted = false
			return pipeline.Reply{Kind: pipeline.KindSync}, nil
		default:
			return pipeline.Reply{}, fmt.Errorf("wire: unexpected %T while reading result", msg)
		}
	}
}

func (c *WireConn) readSync() (pipeline.Reply, error) {
	if c.syncs == 0 {
		// Nothing left to read: the null result.
		return pipeline.Reply{Kind: pipeline.KindEnd}, nil
	}
	for {
		msg, err := c.fe.Receive()
		if err != nil {
			return pipeline.Reply{}, err
		}

		switch msg := msg.(type) {
		case *pgproto3.ReadyForQuery:
			c.syncs--
			c.aborted = false
			return pipeline.Reply{Kind: pipeline.KindSync}, nil
		case *pgproto3.NoticeResponse, *pgproto3.ParameterStatus:
		case *pgproto3.ErrorResponse:
			return pipeline.Reply{}, pgconn.ErrorResponseToPgError(msg)
		default:
			return pipeline.Reply{}, fmt.Errorf("wire: unexpected %T while waiting for sync", msg)
		}
	}
}

// Outstanding is the number of requests sent but not drained.
func (c *WireConn) Outstanding() int {
	return c.outstanding
}

func (c *WireConn) exit() error {
	if c.outstanding > 0 || c.syncs > 0 || c.pendingEnd {
		return fmt.Errorf("%d requests and %d syncs not drained", c.outstanding, c.syncs)
	}
	return nil
}

// readAhead drains r into memory on its own goroutine. Without it the
// backend would block writing replies to a full socket while a large batch
// is still being written, and both ends would stall.
type readAhead struct {
	mu   sync.Mutex
	cond *sync.Cond
	buf  bytes.Buffer
	err  error
}

func newReadAhead(r io.Reader) *readAhead {
	ra := &readAhead{}
	ra.cond = sync.NewCond(&ra.mu)
	go ra.fill(r)
	return ra
}

func (ra *readAhead) fill(r io.Reader) {
	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)

		ra.mu.Lock()
		ra.buf.Write(chunk[:n])
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			ra.err = err
		}
		ra.cond.Broadcast()
		ra.mu.Unlock()

		if err != nil {
			return
		}
	}
}

func (ra *readAhead) Read(p []byte) (int, error) {
	ra.mu.Lock()
	defer ra.mu.Unlock()

	for ra.buf.Len() == 0 && ra.err == nil {
		ra.cond.Wait()
	}
	if ra.buf.Len() > 0 {
		return ra.buf.Read(p)
	}
	return 0, ra.err
}
