// Package apperr defines the error kinds shared across blink packages.
package apperr

import (
	"errors"
	"fmt"
)

// Kinds. Match with errors.Is.
var (
	ErrIO            = errors.New("io")
	ErrSerialization = errors.New("serialization")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrHostRuntime   = errors.New("host runtime")
	ErrStorage       = errors.New("storage")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalid       = errors.New("invalid argument")
)

// Error carries a kind, the failing operation and the id it concerned.
type Error struct {
	Kind error
	Op   string
	ID   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.ID != "" {
		msg += " " + e.ID
	}
	if msg != "" {
		msg += ": "
	}
	if e.Err != nil {
		return msg + e.Err.Error()
	}
	return msg + e.Kind.Error()
}

// Unwrap exposes both the kind and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// E builds an *Error. A nil cause is allowed.
func E(kind error, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// EID is E with the id of the note or window involved.
func EID(kind error, op, id string, err error) error {
	return &Error{Kind: kind, Op: op, ID: id, Err: err}
}

// NotFound reports a missing note or window.
func NotFound(op, id string) error {
	return &Error{Kind: ErrNotFound, Op: op, ID: id}
}

// Conflictf reports a conflict with a formatted reason.
func Conflictf(op, id, format string, args ...any) error {
	return &Error{Kind: ErrConflict, Op: op, ID: id, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the first known kind in err's chain, or nil.
func KindOf(err error) error {
	for _, k := range []error{
		ErrNotFound, ErrConflict, ErrAlreadyExists, ErrInvalid,
		ErrSerialization, ErrHostRuntime, ErrStorage, ErrIO,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
