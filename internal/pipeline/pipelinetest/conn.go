// Package pipelinetest provides an in-memory pipeline.Conn for tests.
package pipelinetest

import (
	"errors"

	"github.com/qail-lang/pipebench/internal/pipeline"
)

// ErrNoReply is returned by Read when nothing is queued.
var ErrNoReply = errors.New("pipelinetest: no reply queued")

// Conn queues replies at each Sync: one result plus terminator per request
// sent since the previous sync, then the sync result.
type Conn struct {
	// FailSend is consulted before each send with the batch number (syncs so
	// far) and the index within the batch. A non-nil error fails the send.
	FailSend func(batch, index int) error
	// Result classifies the reply for a parameter. Defaults to KindTuples.
	Result func(param []byte) pipeline.Reply
	// Truncate drops this many replies from the end of every batch.
	Truncate int
	// SyncErr is returned by every Sync.
	SyncErr error

	// Batches holds the parameters sent in each synced batch.
	Batches [][]string
	Sends   int
	Syncs   int
	Reads   int

	current []string
	queue   []pipeline.Reply
}

// New returns a Conn answering every request with tuple data.
func New() *Conn {
	return &Conn{}
}

func (c *Conn) Send(param []byte) error {
	if c.FailSend != nil {
		if err := c.FailSend(c.Syncs, len(c.current)); err != nil {
			return err
		}
	}
	c.current = append(c.current, string(param))
	c.Sends++
	return nil
}

func (c *Conn) Sync() error {
	if c.SyncErr != nil {
		return c.SyncErr
	}

	replies := make([]pipeline.Reply, 0, 2*len(c.current)+1)
	for _, p := range c.current {
		replies = append(replies, c.result([]byte(p)), pipeline.Reply{Kind: pipeline.KindEnd})
	}
	replies = append(replies, pipeline.Reply{Kind: pipeline.KindSync})
	if c.Truncate > 0 {
		n := len(replies) - c.Truncate
		if n < 0 {
			n = 0
		}
		replies = replies[:n]
	}

	c.queue = append(c.queue, replies...)
	c.Batches = append(c.Batches, c.current)
	c.current = nil
	c.Syncs++
	return nil
}

func (c *Conn) Read() (pipeline.Reply, error) {
	if len(c.queue) == 0 {
		return pipeline.Reply{}, ErrNoReply
	}
	r := c.queue[0]
	c.queue = c.queue[1:]
	c.Reads++
	return r, nil
}

// Pending is the number of queued replies not yet read.
func (c *Conn) Pending() int {
	return len(c.queue)
}

func (c *Conn) result(param []byte) pipeline.Reply {
	if c.Result != nil {
		return c.Result(param)
	}
	return pipeline.Reply{Kind: pipeline.KindTuples}
}
