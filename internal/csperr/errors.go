// Package csperr defines the error kinds shared by every layer that talks to
// a cloud storage provider. Each kind is a sentinel; *Error wraps a kind
// together with the operation, the affected path and the underlying cause,
// so callers can match on either with errors.Is.
package csperr

import (
	"errors"
	"fmt"
)

// Error kinds. Use errors.Is(err, csperr.ErrOperation) to check.
var (
	ErrAccess        = errors.New("access failed")
	ErrAuthorisation = errors.New("authorisation failed")
	ErrOperation     = errors.New("operation failed")
	ErrTransfer      = errors.New("transfer failed")
	ErrCreation      = errors.New("creation failed")
	ErrBuild         = errors.New("provider build failed")
)

// Causes that adapters and the core report inside a kind.
var (
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("unavailable")
	ErrExists      = errors.New("file already exists")
	ErrCancelled   = errors.New("cancelled")
)

// Error carries a kind, the operation that failed, the path it concerned,
// and the cause. The cause's message is preserved verbatim.
type Error struct {
	Kind error  // one of the Err* kinds above
	Op   string // e.g. "copy", "fetch metadata", "exchange code"
	Path string // may be empty
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}

	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Err}
}

func wrap(kind error, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// Access wraps err as an existence/metadata failure.
func Access(op, path string, err error) error { return wrap(ErrAccess, op, path, err) }

// Authorisation wraps err as a token or consent failure.
func Authorisation(op string, err error) error { return wrap(ErrAuthorisation, op, "", err) }

// Operation wraps err as a failed CRUD action.
func Operation(op, path string, err error) error { return wrap(ErrOperation, op, path, err) }

// Transfer wraps err as a failed or aborted upload/download.
func Transfer(op, path string, err error) error { return wrap(ErrTransfer, op, path, err) }

// Creation wraps err as a factory-level construction failure.
func Creation(op, path string, err error) error { return wrap(ErrCreation, op, path, err) }

// Build wraps err as an adapter/session construction failure.
func Build(op string, err error) error { return wrap(ErrBuild, op, "", err) }

// Kind returns the kind sentinel carried by err, or nil if err carries none.
func Kind(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return nil
}

// Errorf is a shorthand for wrapping a formatted cause into a kind.
func Errorf(kind error, op, path, format string, args ...any) error {
	return wrap(kind, op, path, fmt.Errorf(format, args...))
}
