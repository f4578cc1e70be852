package pipeline

// Kind classifies one protocol-level read.
type Kind uint8

const (
	// KindEnd is the end-of-command terminator that follows every result.
	KindEnd Kind = iota
	// KindTuples is a result that carried a row description (tuple data).
	KindTuples
	// KindCommand is a command acknowledgement without tuple data.
	KindCommand
	// KindError is a failed or aborted request.
	KindError
	// KindSync is the terminal result of the sync marker.
	KindSync
	// kindResult is used only in mismatch errors: any of Tuples, Command, Error.
	kindResult
	// kindNone is used only in mismatch errors when the read itself failed.
	kindNone
)

func (k Kind) String() string {
	switch k {
	case KindEnd:
		return "end"
	case KindTuples:
		return "tuples"
	case KindCommand:
		return "command"
	case KindError:
		return "error"
	case KindSync:
		return "sync"
	case kindResult:
		return "result"
	case kindNone:
		return "none"
	}
	return "unknown"
}

func (k Kind) isResult() bool {
	return k == KindTuples || k == KindCommand || k == KindError
}

// Reply is the outcome of a single read from the pipeline.
type Reply struct {
	Kind Kind
	// Err is set for KindError.
	Err error
}

// Conn is a connection already in pipeline mode, bound to one prepared
// statement.
//
// Send queues one execution without waiting for its reply. Sync queues the
// sync marker and flushes. Read returns replies strictly in send order: for
// each request its result then a KindEnd terminator, then KindSync for the
// marker.
type Conn interface {
	Send(param []byte) error
	Sync() error
	Read() (Reply, error)
}
