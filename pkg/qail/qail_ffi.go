//go:build qail_ffi

package qail

/*
#cgo LDFLAGS: -L${SRCDIR} -lqail_ffi
#cgo darwin LDFLAGS: -Wl,-rpath,${SRCDIR}
#cgo linux LDFLAGS: -Wl,-rpath,${SRCDIR}

#include <stdlib.h>

extern char* qail_transpile(const char* qail);
extern char* qail_transpile_with_dialect(const char* qail, const char* dialect);
extern char* qail_parse_json(const char* qail);
extern int qail_validate(const char* qail);
extern const char* qail_last_error();
extern void qail_free(char* ptr);
extern char* qail_version();
*/
import "C"
import "unsafe"

// Available reports whether the library is linked.
const Available = true

// owned copies a library-owned string into Go memory and releases it.
func owned(p *C.char) string {
	defer C.qail_free(p)
	return C.GoString(p)
}

// Transpile converts QAIL to SQL in the library's default dialect.
func Transpile(qail string) (string, error) {
	cQail := C.CString(qail)
	defer C.free(unsafe.Pointer(cQail))

	result := C.qail_transpile(cQail)
	if result == nil {
		return "", lastErr("transpile")
	}
	return owned(result), nil
}

// TranspileWithDialect converts QAIL to SQL for the specified dialect.
func TranspileWithDialect(qail, dialect string) (string, error) {
	cQail := C.CString(qail)
	cDialect := C.CString(dialect)
	defer C.free(unsafe.Pointer(cQail))
	defer C.free(unsafe.Pointer(cDialect))

	result := C.qail_transpile_with_dialect(cQail, cDialect)
	if result == nil {
		return "", lastErr("transpile " + dialect)
	}
	return owned(result), nil
}

// ParseJSON parses QAIL and returns the AST as JSON.
func ParseJSON(qail string) (string, error) {
	cQail := C.CString(qail)
	defer C.free(unsafe.Pointer(cQail))

	result := C.qail_parse_json(cQail)
	if result == nil {
		return "", lastErr("parse")
	}
	return owned(result), nil
}

// Validate checks if QAIL syntax is valid.
func Validate(qail string) bool {
	cQail := C.CString(qail)
	defer C.free(unsafe.Pointer(cQail))
	return C.qail_validate(cQail) == 1
}

// LastError returns the library's most recent error message. The string is
// borrowed from the library and copied, never freed.
func LastError() string {
	msg := C.qail_last_error()
	if msg == nil {
		return ""
	}
	return C.GoString(msg)
}

// Version returns the QAIL library version.
func Version() string {
	result := C.qail_version()
	if result == nil {
		return "unknown"
	}
	return owned(result)
}
