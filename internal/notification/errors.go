package notification

import (
	"errors"
	"fmt"
)

// Kind classifies a failure crossing the public boundary.
type Kind string

const (
	KindUnknown                Kind = "unknown"
	KindPermissionDenied       Kind = "permission_denied"
	KindUnsupportedEnvironment Kind = "unsupported_environment"
	KindUnauthorized           Kind = "unauthorized"
	KindNetworkFailure         Kind = "network_failure"
	KindServerRejected         Kind = "server_rejected"
	KindStorageFailure         Kind = "storage_failure"
)

// Sentinel errors, one per kind. A *Error matches the sentinel of its kind with errors.Is.
var (
	ErrPermissionDenied       = errors.New("push permission denied")
	ErrUnsupportedEnvironment = errors.New("push notifications require a physical device")
	ErrUnauthorized           = errors.New("credentials rejected")
	ErrNetworkFailure         = errors.New("network failure")
	ErrServerRejected         = errors.New("request rejected by server")
	ErrStorageFailure         = errors.New("persistence store failure")
)

var sentinels = map[Kind]error{
	KindPermissionDenied:       ErrPermissionDenied,
	KindUnsupportedEnvironment: ErrUnsupportedEnvironment,
	KindUnauthorized:           ErrUnauthorized,
	KindNetworkFailure:         ErrNetworkFailure,
	KindServerRejected:         ErrServerRejected,
	KindStorageFailure:         ErrStorageFailure,
}

// Error is a classified failure.
type Error struct {
	Kind Kind
	// Op is the operation that failed, e.g. "register_device".
	Op string
	// Message is surfaced verbatim to the caller for ServerRejected errors.
	Message string
	// StatusCode is the HTTP status, when the failure came from a response.
	StatusCode int
	Err        error
}

// NewError creates a classified error.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		if s, ok := sentinels[e.Kind]; ok {
			msg = s.Error()
		} else {
			msg = string(e.Kind)
		}
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Op, msg, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// KindOf classifies err. Errors that are not *Error map to their sentinel's kind,
// or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for kind, s := range sentinels {
		if errors.Is(err, s) {
			return kind
		}
	}
	return KindUnknown
}

// Retryable reports whether the failure is transient.
func Retryable(err error) bool {
	return KindOf(err) == KindNetworkFailure
}
