package errors_test

import (
	stderrors "errors"
	"testing"

	boltErr "github.com/cypherbolt/bolt-go/errors"
)

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		name string
		err  boltErr.Error
		want bool
	}{
		{"service-unavailable", boltErr.New(boltErr.CodeServiceUnavailable, "down"), true},
		{"session-expired", boltErr.New(boltErr.CodeSessionExpired, "stale"), true},
		{"protocol-error", boltErr.New(boltErr.CodeProtocolError, "bad frame"), false},
		{"database-not-found", boltErr.New(boltErr.CodeDatabaseNotFound, "nope"), false},
		{"transient-generic", boltErr.NewTransient(boltErr.TransientNone, "lock timeout"), true},
		{"transient-terminated", boltErr.NewTransient(boltErr.TransientTerminated, "killed"), false},
		{"transient-lock-stopped", boltErr.NewTransient(boltErr.TransientLockClientStopped, "stopped"), false},
		{"client-error", boltErr.New(boltErr.CodeClientError, "bad query"), false},
		{"fatal-connection", boltErr.New(boltErr.CodeFatalConnection, "broken"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.err.Retryable(); got != c.want {
				t.Fatalf("Retryable() = %v, want %v", got, c.want)
			}
			if got := boltErr.Retryable(c.err); got != c.want {
				t.Fatalf("package Retryable() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestHasCodeWalksParents(t *testing.T) {
	root := boltErr.New(boltErr.CodeServiceUnavailable, "router down")
	wrapped := boltErr.New(boltErr.CodeSessionExpired, "no writer", root)

	if !wrapped.HasCode(boltErr.CodeServiceUnavailable) {
		t.Fatal("expected HasCode to find the parent's code")
	}
	if wrapped.IsCode(boltErr.CodeServiceUnavailable) {
		t.Fatal("IsCode must only check the direct code")
	}
}

func TestErrorsAsCompat(t *testing.T) {
	err := fmt_wrap(boltErr.New(boltErr.CodeProtocolError, "bad handshake"))

	var be boltErr.Error
	if !stderrors.As(err, &be) {
		t.Fatal("expected errors.As to unwrap to boltErr.Error")
	}
	if be.Code() != boltErr.CodeProtocolError {
		t.Fatalf("got code %v", be.Code())
	}
}

func fmt_wrap(err error) error {
	return &wrapper{err}
}

type wrapper struct{ err error }

func (w *wrapper) Error() string { return "wrapped: " + w.err.Error() }
func (w *wrapper) Unwrap() error { return w.err }
