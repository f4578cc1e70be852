// Package qail provides Go bindings for QAIL (Query Abstraction Interface Language).
//
// The cgo binding links libqail_ffi and is built with the qail_ffi tag:
//
//	go build -tags qail_ffi ./...
//
// Without the tag every call reports ErrUnavailable, so the rest of the
// module builds on machines without the library.
//
// Example:
//
//	sql, err := qail.TranspileWithDialect("get::harbors:'id'name[lim=$1]", qail.Postgres)
//	if err != nil {
//	    log.Fatal(err)
//	}
package qail

import "errors"

// Dialects understood by TranspileWithDialect.
const (
	Postgres  = "postgres"
	MySQL     = "mysql"
	SQLite    = "sqlite"
	SQLServer = "sqlserver"
)

// ErrUnavailable is returned when the module was built without the
// qail_ffi tag.
var ErrUnavailable = errors.New("qail: library not linked (build with -tags qail_ffi)")

// Error is a transpiler failure carrying the library's last error message.
type Error struct {
	Op  string
	Msg string
}

func (e *Error) Error() string {
	return "qail: " + e.Op + ": " + e.Msg
}

// ToSQL is an alias for TranspileWithDialect with the postgres dialect.
func ToSQL(qail string) (string, error) {
	return TranspileWithDialect(qail, Postgres)
}

func lastErr(op string) error {
	msg := LastError()
	if msg == "" {
		msg = "unknown QAIL error"
	}
	return &Error{Op: op, Msg: msg}
}
