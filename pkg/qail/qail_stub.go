//go:build !qail_ffi

package qail

const Available = false

func Transpile(string) (string, error) { return "", ErrUnavailable }

func TranspileWithDialect(string, string) (string, error) { return "", ErrUnavailable }

func ParseJSON(string) (string, error) { return "", ErrUnavailable }

func Validate(string) bool { return false }

func LastError() string { return ErrUnavailable.Error() }

func Version() string { return "unavailable" }
