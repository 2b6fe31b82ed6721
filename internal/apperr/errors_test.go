package apperr

import (
	"errors"
	"io/fs"
	"testing"
)

func TestErrorMatchesKindAndCause(t *testing.T) {
	err := EID(ErrIO, "save note", "n1", fs.ErrPermission)
	if !errors.Is(err, ErrIO) {
		t.Error("expected ErrIO")
	}
	if !errors.Is(err, fs.ErrPermission) {
		t.Error("expected cause to be reachable")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("unexpected ErrNotFound")
	}
	if got := err.Error(); got != "save note n1: permission denied" {
		t.Errorf("Error() = %q", got)
	}
}

func TestNotFoundMessage(t *testing.T) {
	err := NotFound("get note", "abc")
	if got := err.Error(); got != "get note abc: not found" {
		t.Errorf("Error() = %q", got)
	}
	if KindOf(err) != ErrNotFound {
		t.Errorf("KindOf = %v", KindOf(err))
	}
}

func TestKindOfUnknown(t *testing.T) {
	if KindOf(errors.New("boom")) != nil {
		t.Error("expected nil kind for plain error")
	}
}
