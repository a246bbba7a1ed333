// Package coap implements the CoAP session layer (spec §4.4, component
// C5): message encode/decode, token allocation, and the mapping between
// this module's Request/Response types and the wire messages built on
// github.com/plgd-dev/go-coap/v2. Confirmable retransmission, message-id
// allocation and piggy-backed/separate response matching are delegated to
// go-coap's UDP/DTLS client conn, the same engine the teacher dials with
// in mobile/client.go; this package is the seam that adapts it to the
// golioth resource model.
package coap

import (
	"errors"
	"fmt"
)

// Kind is the error taxonomy shared by every service on top of the
// session (spec §7). Service callbacks map decoder failures onto their own
// status codes rather than this Kind, but every transport/session/
// scheduler failure is one of these.
type Kind int

const (
	// KindOK is not actually used as an error (errors are never KindOK);
	// it exists only to keep the Kind enum aligned with spec §7's table,
	// whose first row is the success case.
	KindOK Kind = iota
	KindFail
	KindNotAllowed
	KindNull
	KindInvalidFormat
	KindIOError
	KindTimeout
	KindQueueFull
	KindInvalidState
	KindMemAlloc
	KindNoMoreData
	KindNotImplemented
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindFail:
		return "fail"
	case KindNotAllowed:
		return "not_allowed"
	case KindNull:
		return "null"
	case KindInvalidFormat:
		return "invalid_format"
	case KindIOError:
		return "io_error"
	case KindTimeout:
		return "timeout"
	case KindQueueFull:
		return "queue_full"
	case KindInvalidState:
		return "invalid_state"
	case KindMemAlloc:
		return "mem_alloc"
	case KindNoMoreData:
		return "no_more_data"
	case KindNotImplemented:
		return "not_implemented"
	default:
		return "unknown"
	}
}

// Error wraps a Kind with an optional underlying cause, so callers can use
// errors.Is against the Kind sentinels below and errors.As to recover the
// wrapped cause, matching the %w style the teacher uses throughout
// cbor_codec.go and coap_http.go.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, KindTimeout) work by comparing Kind values,
// matching how sentinel errors are normally compared but without forcing
// every call site to carry a fully-specified *Error.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// NewError builds an *Error of the given kind, wrapping cause if non-nil.
func NewError(kind Kind, msg string, cause error) error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// Sentinel marks one per Kind, for errors.Is(err, coap.ErrTimeout) style
// comparisons at call sites that don't care about the message/cause.
var (
	ErrFail           = &Error{Kind: KindFail}
	ErrNotAllowed     = &Error{Kind: KindNotAllowed}
	ErrNull           = &Error{Kind: KindNull}
	ErrInvalidFormat  = &Error{Kind: KindInvalidFormat}
	ErrIOError        = &Error{Kind: KindIOError}
	ErrTimeout        = &Error{Kind: KindTimeout}
	ErrQueueFull      = &Error{Kind: KindQueueFull}
	ErrInvalidState   = &Error{Kind: KindInvalidState}
	ErrMemAlloc       = &Error{Kind: KindMemAlloc}
	ErrNoMoreData     = &Error{Kind: KindNoMoreData}
	ErrNotImplemented = &Error{Kind: KindNotImplemented}
)

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *Error, defaulting to KindFail otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFail
}
