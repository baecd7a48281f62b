// Package lberr defines the stable error taxonomy shared by the chain,
// storage, and network layers.
//
// Every exported constructor keeps its underlying cause reachable through
// Unwrap so callers can still use errors.Is/errors.As, while exposing a
// stable Code() used by the P2P dispatch boundary to pick a wire error
// code without leaking internal detail.
package lberr

import (
	"errors"
	"fmt"
)

// Kind classifies an error per the error handling taxonomy.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindStateMachine  Kind = "state_machine"
	KindProtocol      Kind = "protocol"
	KindIO            Kind = "io"
	KindRate          Kind = "rate"
	KindIntegrity     Kind = "integrity"
)

// Error is a taxonomy-tagged error.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the error's taxonomy classification.
func (e *Error) Kind() Kind { return e.kind }

// Code maps the error kind to the stable P2P wire code.
func (e *Error) Code() string {
	switch e.kind {
	case KindValidation:
		return "bad_request"
	case KindAuthorization:
		return "forbidden"
	case KindRate:
		return "rate_limited"
	case KindStateMachine, KindIO, KindIntegrity:
		return "node_error"
	default:
		return "internal"
	}
}

func newErr(kind Kind, msg string, cause error) *Error {
	return &Error{kind: kind, msg: msg, err: cause}
}

// Validation wraps a malformed-input error.
func Validation(msg string, cause error) error { return newErr(KindValidation, msg, cause) }

// Validationf formats a malformed-input error.
func Validationf(format string, args ...any) error {
	return newErr(KindValidation, fmt.Sprintf(format, args...), nil)
}

// Authorization wraps a membership/admin/visibility failure.
func Authorization(msg string, cause error) error { return newErr(KindAuthorization, msg, cause) }

// Authorizationf formats an authorization failure.
func Authorizationf(format string, args ...any) error {
	return newErr(KindAuthorization, fmt.Sprintf(format, args...), nil)
}

// StateMachine wraps a block/transaction invariant violation.
func StateMachine(msg string, cause error) error { return newErr(KindStateMachine, msg, cause) }

// StateMachinef formats a state-machine failure.
func StateMachinef(format string, args ...any) error {
	return newErr(KindStateMachine, fmt.Sprintf(format, args...), nil)
}

// Protocol wraps a handshake/framing/counter failure; the caller must
// terminate the connection.
func Protocol(msg string, cause error) error { return newErr(KindProtocol, msg, cause) }

// Protocolf formats a protocol failure.
func Protocolf(format string, args ...any) error {
	return newErr(KindProtocol, fmt.Sprintf(format, args...), nil)
}

// IO wraps a disk or CAS read/write failure.
func IO(msg string, cause error) error { return newErr(KindIO, msg, cause) }

// RateError is a connection/request rate-limit rejection. WaitSeconds is
// advisory and surfaced to the caller.
type RateError struct {
	err         *Error
	WaitSeconds float64
}

func (e *RateError) Error() string { return e.err.Error() }

// Unwrap exposes the underlying taxonomy error, so CodeOf reports
// "rate_limited" for a *RateError.
func (e *RateError) Unwrap() error { return e.err }

// RateLimited constructs a rate-limit error with an advisory wait.
func RateLimited(msg string, waitSeconds float64) error {
	return &RateError{err: newErr(KindRate, msg, nil), WaitSeconds: waitSeconds}
}

// Integrity wraps a CAS content/hash mismatch.
func Integrity(msg string, cause error) error { return newErr(KindIntegrity, msg, cause) }

// ErrNotFound is a sentinel used across CAS/chain lookups; it maps to the
// "not_found" wire code independent of the general Kind taxonomy.
var ErrNotFound = errors.New("not found")

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// CodeOf returns the stable wire code for any error, defaulting to
// "internal" for errors outside the taxonomy and "not_found" for ErrNotFound.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if IsNotFound(err) {
		return "not_found"
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code()
	}
	return "internal"
}
