// Package booking holds the failure taxonomy shared by the slot allocator,
// the meeting provisioner and the appointment lifecycle.
package booking

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// Kind classifies a booking failure. Every failure path surfaces exactly one kind.
type Kind string

const (
	KindMalformedInput         Kind = "malformed_input"
	KindInvalidSlot            Kind = "invalid_slot"
	KindNotFound               Kind = "not_found"
	KindImmutableField         Kind = "immutable_field"
	KindInvalidStatus          Kind = "invalid_status"
	KindInvalidTransition      Kind = "invalid_transition"
	KindSlotConflict           Kind = "slot_conflict"
	KindProviderUnavailable    Kind = "provider_unavailable"
	KindProvisioningRolledBack Kind = "provisioning_rolled_back"
	KindBookingFailed          Kind = "booking_failed"
	KindInternal               Kind = "internal"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrMalformedInput         = &Error{Kind: KindMalformedInput}
	ErrInvalidSlot            = &Error{Kind: KindInvalidSlot}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrImmutableField         = &Error{Kind: KindImmutableField}
	ErrInvalidStatus          = &Error{Kind: KindInvalidStatus}
	ErrInvalidTransition      = &Error{Kind: KindInvalidTransition}
	ErrSlotConflict           = &Error{Kind: KindSlotConflict}
	ErrProviderUnavailable    = &Error{Kind: KindProviderUnavailable}
	ErrProvisioningRolledBack = &Error{Kind: KindProvisioningRolledBack}
	ErrBookingFailed          = &Error{Kind: KindBookingFailed}
)

// Error is a classified failure. Op names the operation ("appointments.create"),
// Msg is safe to show to API callers, Err is the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// E builds a classified error.
func E(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so callers can compare against the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Message returns the caller-facing text for the error.
func (e *Error) Message() string {
	if e.Msg != "" {
		return e.Msg
	}
	return strings.ReplaceAll(string(e.Kind), "_", " ")
}

// KindOf returns the kind of the outermost classified error, or KindInternal.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error to the status code returned by the REST surface.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindMalformedInput, KindInvalidSlot, KindImmutableField, KindInvalidStatus:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindSlotConflict, KindInvalidTransition:
		return http.StatusConflict
	case KindProviderUnavailable:
		if IsTimeout(err) {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsTimeout reports whether err was caused by a deadline or a network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
