// Package pipeline drives batches of prepared-statement executions through a
// connection in pipeline mode.
//
// Each batch goes Sending → Syncing → Draining: every request is queued
// without waiting, one sync marker closes the batch, and the replies are then
// read back in send order. A batch that sent n requests performs exactly
// 2n+1 reads.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/qail-lang/pipebench/internal/params"
)

// State of the driver's batch state machine.
type State uint8

const (
	StateIdle State = iota
	StateSending
	StateSyncing
	StateDraining
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateSyncing:
		return "syncing"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	}
	return "unknown"
}

// BatchResult is the tally of one drained batch.
type BatchResult struct {
	Batch    int
	Sent     int
	Tuples   int
	Commands int
	Errors   int
	Reads    int
	// SendErr is set when the batch was cut short by a send failure.
	SendErr *SendError
}

// Driver runs batches over a Conn. It is not safe for concurrent use; the
// benchmark drives one connection from one goroutine.
type Driver struct {
	conn   Conn
	params *params.Buffer
	log    *slog.Logger
	state  State
}

// New returns a driver sending params.Len() requests per batch.
func New(conn Conn, buf *params.Buffer, log *slog.Logger) *Driver {
	return &Driver{conn: conn, params: buf, log: log, state: StateIdle}
}

// State returns the current state.
func (d *Driver) State() State {
	return d.state
}

// Run executes numBatches batches, calling onBatch after each one is drained.
// Send failures are logged and the run continues; any other error stops it.
// ctx is checked between batches.
func (d *Driver) Run(ctx context.Context, numBatches int, onBatch func(BatchResult)) error {
	for batch := 0; batch < numBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := d.RunBatch(batch)
		if err != nil {
			return err
		}
		if onBatch != nil {
			onBatch(res)
		}
	}
	d.state = StateDone
	return nil
}

// RunBatch sends, syncs and drains one batch.
func (d *Driver) RunBatch(batch int) (BatchResult, error) {
	res := BatchResult{Batch: batch}

	d.state = StateSending
	for i := 0; i < d.params.Len(); i++ {
		if err := d.conn.Send(d.params.At(i)); err != nil {
			res.SendErr = &SendError{Batch: batch, Index: i, Cause: err}
			d.log.Warn("send failed, truncating batch",
				"batch", batch, "index", i, "sent", res.Sent, "error", err)
			break
		}
		res.Sent++
	}

	d.state = StateSyncing
	if err := d.conn.Sync(); err != nil {
		return res, &SyncError{Batch: batch, Cause: err}
	}

	d.state = StateDraining
	dr := drain{conn: d.conn, batch: batch, expected: 2*res.Sent + 1}
	for i := 0; i < res.Sent; i++ {
		reply, err := dr.expect(kindResult)
		if err != nil {
			res.Reads = dr.reads
			return res, err
		}
		switch reply.Kind {
		case KindTuples:
			res.Tuples++
		case KindCommand:
			res.Commands++
		case KindError:
			res.Errors++
			d.log.Debug("request failed", "batch", batch, "index", i, "error", reply.Err)
		}

		if _, err := dr.expect(KindEnd); err != nil {
			res.Reads = dr.reads
			return res, err
		}
	}
	if _, err := dr.expect(KindSync); err != nil {
		res.Reads = dr.reads
		return res, err
	}
	res.Reads = dr.reads

	d.state = StateIdle
	return res, nil
}

// drain consumes replies in strict order and counts reads.
type drain struct {
	conn     Conn
	batch    int
	expected int
	reads    int
}

// expect reads one reply and fails unless it is of kind want. kindResult
// accepts any per-request result.
func (dr *drain) expect(want Kind) (Reply, error) {
	reply, err := dr.conn.Read()
	if err != nil {
		return reply, dr.mismatch(want, kindNone, err)
	}

	ok := reply.Kind == want || (want == kindResult && reply.Kind.isResult())
	if !ok {
		return reply, dr.mismatch(want, reply.Kind, nil)
	}
	dr.reads++
	return reply, nil
}

func (dr *drain) mismatch(want, saw Kind, cause error) *DrainMismatchError {
	return &DrainMismatchError{
		Batch:    dr.batch,
		Expected: dr.expected,
		Got:      dr.reads,
		Want:     want,
		Saw:      saw,
		Cause:    cause,
	}
}
