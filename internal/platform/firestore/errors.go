package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type errorKind uint8

const (
	kindOther errorKind = iota
	kindNotFound
	kindConflict
	kindUnavailable
)

// Error classifies Firestore failures for the repository layer. It satisfies repositories.RepositoryError.
type Error struct {
	op   string
	kind errorKind
	err  error
}

func (e *Error) Error() string {
	if e.op == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *Error) Unwrap() error { return e.err }

func (e *Error) IsNotFound() bool    { return e != nil && e.kind == kindNotFound }
func (e *Error) IsConflict() bool    { return e != nil && e.kind == kindConflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.kind == kindUnavailable }

// NotFound reports a lookup that matched no document, such as an empty query result.
func NotFound(op, message string) error {
	return &Error{op: op, kind: kindNotFound, err: errors.New(message)}
}

// Conflict reports a write that collided with existing data.
func Conflict(op, message string) error {
	return &Error{op: op, kind: kindConflict, err: errors.New(message)}
}

// kindOf maps gRPC codes. Aborted counts as a conflict because Firestore aborts contended transactions.
func kindOf(err error) errorKind {
	switch status.Code(err) {
	case codes.NotFound:
		return kindNotFound
	case codes.AlreadyExists, codes.Aborted, codes.FailedPrecondition, codes.OutOfRange:
		return kindConflict
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Internal:
		return kindUnavailable
	default:
		return kindOther
	}
}

// WrapError tags err with op and its repository kind. Cancellation is returned as the plain context
// error so callers can test it with errors.Is.
func WrapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), status.Code(err) == codes.Canceled:
		return context.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return context.DeadlineExceeded
	}

	var existing *Error
	if errors.As(err, &existing) {
		if existing.op == "" {
			existing.op = op
		}
		return existing
	}
	return &Error{op: op, kind: kindOf(err), err: err}
}
