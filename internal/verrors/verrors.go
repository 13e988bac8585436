// Package verrors wraps github.com/pkg/errors with the error kinds this
// system distinguishes (transport, protocol, DNS) so stages can classify
// a failure without string matching.
package verrors

import "github.com/pkg/errors"

// Kind tags an error with the concept-level category a caller needs to
// decide how to react, independent of the wrapped error's exact text.
type Kind string

const (
	KindTransport Kind = "TRANSPORT_ERROR"
	KindProtocol  Kind = "PROTOCOL_PARSE_ERROR"
	KindDNS       Kind = "DNS_NO_HOSTS"
	KindSyntax    Kind = "SYNTAX_ERROR"
)

// Error is a stack-traced, kinded error. Wrap unknown errors crossing a
// package boundary in one of these so the pipeline can log a single line
// without re-deriving context from the message string.
type Error struct {
	kind  Kind
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.msg
	}
	return e.msg + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

// Classify reports the concept-level category, or "" if err was not
// built by this package.
func Classify(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return ""
}

// New constructs a kinded error with a stack trace attached.
func New(kind Kind, msg string) error {
	return errors.WithStack(&Error{kind: kind, msg: msg})
}

// Wrap attaches a kind and message to an underlying cause, preserving the
// cause's stack trace if it already has one.
func Wrap(kind Kind, cause error, msg string) error {
	if cause == nil {
		return nil
	}
	return &Error{kind: kind, msg: msg, cause: errors.WithStack(cause)}
}

// Is wraps the standard errors.Is for callers that only import this
// package.
func Is(err, target error) bool { return errors.Is(err, target) }
