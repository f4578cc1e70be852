//go:build !qail_ffi

package qail

import (
	"errors"
	"testing"
)

func TestUnavailableWithoutLibrary(t *testing.T) {
	if Available {
		t.Fatal("stub build reports the library as available")
	}
	if _, err := ToSQL("get::harbors:'_"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if _, err := ParseJSON("get::harbors:'_"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if Validate("get::harbors:'_") {
		t.Error("Validate should be false without the library")
	}
	if Version() != "unavailable" {
		t.Errorf("unexpected version %q", Version())
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Op: "transpile postgres", Msg: "unexpected token"}
	if got := err.Error(); got != "qail: transpile postgres: unexpected token" {
		t.Errorf("got %q", got)
	}
}
