package call

import (
	"errors"
	"fmt"
)

// Kind classifies every failure the orchestrator reports.
type Kind string

const (
	KindPermissionDenied  Kind = "permission_denied"
	KindDeviceUnavailable Kind = "device_unavailable"
	KindAdapter           Kind = "adapter_error"
	KindNegotiation       Kind = "negotiation_error"
	KindStaleSignal       Kind = "stale_signal"
	KindTransportFailure  Kind = "transport_failure"
	KindNotReady          Kind = "not_ready"
)

// UserVisible reports whether failures of this kind are shown to the user.
// Stale signals are only logged.
func (k Kind) UserVisible() bool {
	return k != KindStaleSignal && k != ""
}

var (
	ErrNotReady = errors.New("call not ready")
	ErrClosed   = errors.New("call closed")
)

// Error is a classified orchestrator failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
