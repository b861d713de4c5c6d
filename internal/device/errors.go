package device

import (
	"errors"
	"fmt"
)

// Kind classifies a device failure so callers can decide between retrying,
// reporting and rejecting.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConnection means the instrument is unreachable or the port is busy.
	KindConnection
	// KindTransient is an I/O failure on an established link.
	KindTransient
	// KindProtocol covers malformed responses and out-of-range arguments.
	KindProtocol
	// KindProgramming is a caller bug, rejected synchronously.
	KindProgramming
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindTransient:
		return "transient"
	case KindProtocol:
		return "protocol"
	case KindProgramming:
		return "programming"
	default:
		return "unknown"
	}
}

var (
	ErrNotConnected = errors.New("device not connected")
	ErrNoDriver     = errors.New("no driver available")
	ErrOutOfRange   = errors.New("value out of range")
)

// Error is a classified device failure.
type Error struct {
	Kind   Kind
	Device string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("device %s: %s: %v", e.Device, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind. A nil err yields nil.
func NewError(kind Kind, device, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Device: device, Op: op, Err: err}
}

func ConnectionError(device, op string, err error) error {
	return NewError(KindConnection, device, op, err)
}

func TransientError(device, op string, err error) error {
	return NewError(KindTransient, device, op, err)
}

func ProtocolError(device, op string, err error) error {
	return NewError(KindProtocol, device, op, err)
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err may succeed after a reconnect.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindConnection, KindTransient:
		return true
	default:
		return false
	}
}
