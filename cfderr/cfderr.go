// Package cfderr defines the error kinds shared across the CFD trading
// core, matching the taxonomy used to decide propagation policy: a
// protocol task abort, a contract-preserving log-and-continue, or a
// fatal-for-this-transition repository failure.
package cfderr

import (
	"errors"
	"fmt"

	goerrors "github.com/go-errors/errors"
)

// Kind classifies an error for the purpose of propagation policy.
type Kind uint8

const (
	// KindProtocolViolation covers an unexpected message kind or a
	// reordered step within an interactive protocol.
	KindProtocolViolation Kind = iota

	// KindVerificationFailure covers a rejected signature, adaptor
	// signature, or attestation proof.
	KindVerificationFailure

	// KindStateViolation covers an event that is not legal from the
	// contract's current state.
	KindStateViolation

	// KindIO covers failures talking to the peer, repository, wallet,
	// or oracle.
	KindIO

	// KindChain covers a rejected broadcast.
	KindChain

	// KindConfiguration covers a bad seed file or unreadable config.
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindProtocolViolation:
		return "protocol-violation"
	case KindVerificationFailure:
		return "verification-failure"
	case KindStateViolation:
		return "state-violation"
	case KindIO:
		return "io-failure"
	case KindChain:
		return "chain-failure"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a Kind so that callers further up
// the stack can branch on what kind of failure occurred without string
// matching, while still retaining a stack trace for logging.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err (capturing a stack trace via go-errors) with the given
// kind. A nil err returns nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: goerrors.Wrap(err, 1)}
}

// Newf constructs a Kind error from a format string.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: goerrors.Errorf(format, args...)}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
