package gateway

import (
	"errors"
	"fmt"
)

// Kind classifies a gateway failure.
type Kind int

// Gateway failure kinds.
const (
	// KindDeclined is a business decline with the gateway's message and code.
	KindDeclined Kind = iota + 1
	// KindAlreadyActive means activate found the card already active. Callers reconcile instead of failing.
	KindAlreadyActive
	// KindTimeout means no response arrived within the call timeout.
	KindTimeout
	// KindUnavailable means the transport failed or the gateway answered with a server error.
	KindUnavailable
	// KindMalformed means the response did not match the expected schema.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindDeclined:
		return "declined"
	case KindAlreadyActive:
		return "already_active"
	case KindTimeout:
		return "timeout"
	case KindUnavailable:
		return "unavailable"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error is returned by every Client operation that does not succeed.
type Error struct {
	Kind    Kind
	Command Command
	Code    string // xErrorCode, when the gateway sent one.
	Message string // xError, or a local description for transport failures.
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("gateway %s %s: %s (code %s)", e.Command, e.Kind, msg, e.Code)
	}
	return fmt.Sprintf("gateway %s %s: %s", e.Command, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of a gateway error anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind, true
	}
	return 0, false
}

// IsTimeout reports whether err is a gateway timeout.
func IsTimeout(err error) bool { return isKind(err, KindTimeout) }

// IsUnavailable reports whether err is a gateway transport failure.
func IsUnavailable(err error) bool { return isKind(err, KindUnavailable) }

// IsAlreadyActive reports whether err is the recoverable "already active" condition.
func IsAlreadyActive(err error) bool { return isKind(err, KindAlreadyActive) }

// IsDeclined reports whether err is a business decline.
func IsDeclined(err error) bool { return isKind(err, KindDeclined) }

// IsTransport reports whether err is a timeout or transport failure.
func IsTransport(err error) bool { return IsTimeout(err) || IsUnavailable(err) }

func isKind(err error, kind Kind) bool {
	got, ok := KindOf(err)
	return ok && got == kind
}
