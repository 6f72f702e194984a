// Package errors provides the error taxonomy shared across the driver core:
// a code-carrying Error interface extending the standard error, with a
// parent chain for wrapping and compatibility with errors.Is/errors.As.
//
// This is a trimmed reimplementation of the pattern nabbar-golib/errors
// applies across the rest of that module: numeric codes instead of sentinel
// values, so callers can classify failures (retryable vs not, forget-address
// vs not) without string matching.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// CodeError classifies an Error by kind. Unlike HTTP-style numeric codes,
// these map 1:1 onto the taxonomy in the protocol specification: connection
// loss, stale routing, protocol violations, and the server's own transient/
// client error families.
type CodeError uint16

const (
	// CodeUnknown is the zero value; never returned by New without an
	// explicit code.
	CodeUnknown CodeError = iota

	// CodeServiceUnavailable: connection, network or router failure. Retryable;
	// triggers Forget(addr) in a routing-aware session.
	CodeServiceUnavailable

	// CodeSessionExpired: the picked writer is no longer a leader, or the
	// reader/writer list was empty after a refresh. Retryable; triggers
	// ForgetWriter(addr) or Forget(addr).
	CodeSessionExpired

	// CodeProtocolError: framing, value, handshake, or invariant violation.
	// Never retryable.
	CodeProtocolError

	// CodeDatabaseNotFound: caller supplied an unknown database name. Never
	// retryable; surfaced to the caller as-is.
	CodeDatabaseNotFound

	// CodeTransientError: server-classified transient error. Retryable unless
	// the TransientSubclass is Terminated or LockClientStopped.
	CodeTransientError

	// CodeClientError: user/request error other than DatabaseNotFound. Never
	// retryable.
	CodeClientError

	// CodeFatalConnection: broken channel or an unrecognized message was
	// received. Never retryable; the connection is discarded, not pooled.
	CodeFatalConnection
)

func (c CodeError) String() string {
	switch c {
	case CodeServiceUnavailable:
		return "ServiceUnavailable"
	case CodeSessionExpired:
		return "SessionExpired"
	case CodeProtocolError:
		return "ProtocolError"
	case CodeDatabaseNotFound:
		return "DatabaseNotFound"
	case CodeTransientError:
		return "TransientError"
	case CodeClientError:
		return "ClientError"
	case CodeFatalConnection:
		return "FatalConnection"
	default:
		return "Unknown"
	}
}

// TransientSubclass distinguishes server-classified transient errors that
// must NOT be retried: the server told us the transaction was terminated by
// the user (or the lock client was stopped), which is a deliberate action,
// not a blip.
type TransientSubclass string

const (
	TransientNone              TransientSubclass = ""
	TransientTerminated        TransientSubclass = "Terminated"
	TransientLockClientStopped TransientSubclass = "LockClientStopped"
)

// Error extends the standard error with a code, an optional parent chain,
// and the call-site frame captured at construction.
type Error interface {
	error

	// Code returns this error's classification.
	Code() CodeError

	// Transient returns the server-reported transient subclass, if Code is
	// CodeTransientError. Empty string otherwise.
	Transient() TransientSubclass

	// IsCode reports whether this error (not its parents) has the given code.
	IsCode(code CodeError) bool

	// HasCode reports whether this error or any parent has the given code.
	HasCode(code CodeError) bool

	// Retryable reports whether a managed-transaction retry loop should
	// retry after seeing this error, per the taxonomy in the protocol spec.
	Retryable() bool

	// Add appends parents to this error's chain.
	Add(parent ...error)

	// Parents returns the direct parent chain (no transitive walk).
	Parents() []error

	// Unwrap supports errors.Is / errors.As over the parent chain.
	Unwrap() []error

	// Frame returns "file:line" of the call site that constructed this error.
	Frame() string
}

type boltError struct {
	code      CodeError
	msg       string
	transient TransientSubclass
	parents   []error
	frame     string
}

func (e *boltError) Error() string {
	if e.transient != TransientNone {
		return fmt.Sprintf("%s(%s): %s", e.code, e.transient, e.msg)
	}
	return fmt.Sprintf("%s: %s", e.code, e.msg)
}

func (e *boltError) Code() CodeError                 { return e.code }
func (e *boltError) Transient() TransientSubclass    { return e.transient }
func (e *boltError) IsCode(code CodeError) bool      { return e.code == code }
func (e *boltError) Parents() []error                { return e.parents }
func (e *boltError) Frame() string                   { return e.frame }
func (e *boltError) Add(parent ...error) {
	for _, p := range parent {
		if p != nil {
			e.parents = append(e.parents, p)
		}
	}
}

func (e *boltError) Unwrap() []error { return e.parents }

func (e *boltError) HasCode(code CodeError) bool {
	if e.code == code {
		return true
	}
	for _, p := range e.parents {
		if Has(p, code) {
			return true
		}
	}
	return false
}

// Retryable implements the classification table from the protocol spec's
// error handling design: ServiceUnavailable and SessionExpired always retry;
// TransientError retries except for the Terminated/LockClientStopped
// subclasses; everything else does not.
func (e *boltError) Retryable() bool {
	switch e.code {
	case CodeServiceUnavailable, CodeSessionExpired:
		return true
	case CodeTransientError:
		return e.transient != TransientTerminated && e.transient != TransientLockClientStopped
	default:
		return false
	}
}

func frame() string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "unknown:0"
	}
	return fmt.Sprintf("%s:%d", file, line)
}

// New constructs an Error with the given code and message.
func New(code CodeError, message string, parents ...error) Error {
	return &boltError{code: code, msg: message, parents: parents, frame: frame()}
}

// Newf constructs an Error with a formatted message.
func Newf(code CodeError, format string, args ...any) Error {
	return &boltError{code: code, msg: fmt.Sprintf(format, args...), frame: frame()}
}

// NewTransient constructs a CodeTransientError with the given server-reported
// subclass (empty string for a generic transient error).
func NewTransient(subclass TransientSubclass, message string, parents ...error) Error {
	return &boltError{code: CodeTransientError, msg: message, transient: subclass, parents: parents, frame: frame()}
}

// Is reports whether err is (or wraps) an Error.
func Is(err error) bool {
	var e Error
	return errors.As(err, &e)
}

// Get returns err as an Error if it is one (directly or via Unwrap), nil
// otherwise.
func Get(err error) Error {
	var e Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// Has reports whether err is, or wraps (directly or transitively), an Error
// with the given code.
func Has(err error, code CodeError) bool {
	e := Get(err)
	if e == nil {
		return false
	}
	return e.HasCode(code)
}

// Retryable reports whether err is an Error whose taxonomy kind should be
// retried by a managed-transaction retry loop.
func Retryable(err error) bool {
	e := Get(err)
	if e == nil {
		return false
	}
	return e.Retryable()
}
