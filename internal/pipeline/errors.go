package pipeline

import (
	"errors"
	"fmt"
)

// ErrAborted is the cause carried by replies for requests the backend skipped
// after an earlier request in the same batch failed.
var ErrAborted = errors.New("pipeline aborted by earlier error")

// ConnectionError means the backend could not be reached or rejected the
// session. Fatal.
type ConnectionError struct {
	Addr  string
	Cause error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Addr, e.Cause)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// PrepareError means the statement could not be prepared. Fatal.
type PrepareError struct {
	Name  string
	SQL   string
	Cause error
}

func (e *PrepareError) Error() string {
	return fmt.Sprintf("prepare %s (%q): %v", e.Name, e.SQL, e.Cause)
}

func (e *PrepareError) Unwrap() error { return e.Cause }

// PipelineModeError means pipeline mode could not be entered or left.
// Fatal on enter, logged and ignored on exit.
type PipelineModeError struct {
	Op    string // "enter" or "exit"
	Cause error
}

func (e *PipelineModeError) Error() string {
	return fmt.Sprintf("%s pipeline mode: %v", e.Op, e.Cause)
}

func (e *PipelineModeError) Unwrap() error { return e.Cause }

// SendError records a request that could not be queued. It truncates the
// current batch but does not stop the run.
type SendError struct {
	Batch int
	Index int
	Cause error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send request %d of batch %d: %v", e.Index, e.Batch, e.Cause)
}

func (e *SendError) Unwrap() error { return e.Cause }

// SyncError means the sync marker could not be sent, so no reply for the
// batch is guaranteed. Fatal.
type SyncError struct {
	Batch int
	Cause error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync batch %d: %v", e.Batch, e.Cause)
}

func (e *SyncError) Unwrap() error { return e.Cause }

// DrainMismatchError means the replies read for a batch did not match what was
// sent. Sends and drains are symmetric, so this is a protocol
// desynchronization and always fatal.
type DrainMismatchError struct {
	Batch    int
	Expected int // reads expected for the batch: 2*sent + 1
	Got      int // reads completed before the mismatch
	Want     Kind
	Saw      Kind
	Cause    error
}

func (e *DrainMismatchError) Error() string {
	msg := fmt.Sprintf("drain batch %d: %d of %d reads completed, expected %s reply, got %s",
		e.Batch, e.Got, e.Expected, e.Want, e.Saw)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *DrainMismatchError) Unwrap() error { return e.Cause }

// IsFatal reports whether err must end the run.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var sendErr *SendError
	return !errors.As(err, &sendErr)
}
