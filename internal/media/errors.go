package media

import (
	"context"
	"errors"
)

// Device acquisition failures reported by providers. Providers wrap these so
// the service can classify them.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrDeviceNotFound   = errors.New("device not found")
	ErrDeviceBusy       = errors.New("device busy")
	ErrConstraints      = errors.New("constraints unsatisfiable")
	ErrTimeout          = errors.New("device acquisition timed out")

	ErrNoDevice = errors.New("media stream not initialized")
)

// ErrorKind classifies a device acquisition failure.
type ErrorKind string

const (
	KindDenied      ErrorKind = "denied"
	KindNotFound    ErrorKind = "not_found"
	KindBusy        ErrorKind = "busy"
	KindConstraints ErrorKind = "constraints"
	KindTimeout     ErrorKind = "timeout"
	KindUnknown     ErrorKind = "unknown"
)

// SetupError is a terminal, user-actionable device acquisition failure.
type SetupError struct {
	Kind ErrorKind
	Err  error
}

func (e *SetupError) Error() string {
	if e.Err == nil {
		return e.Message()
	}
	return e.Message() + ": " + e.Err.Error()
}

func (e *SetupError) Unwrap() error { return e.Err }

// Message is the user-facing explanation for the failure.
func (e *SetupError) Message() string {
	switch e.Kind {
	case KindDenied:
		return "Camera and microphone access denied. Please allow permissions and try again."
	case KindNotFound:
		return "No camera or microphone found. Please connect devices and try again."
	case KindBusy:
		return "Camera or microphone is already in use by another application."
	case KindConstraints:
		return "Camera or microphone does not meet requirements."
	case KindTimeout:
		return "Timed out waiting for camera or microphone."
	default:
		return "Could not access camera or microphone. Please try again."
	}
}

// Transient reports whether acquisition may succeed on retry.
func (e *SetupError) Transient() bool {
	switch e.Kind {
	case KindBusy, KindConstraints, KindTimeout:
		return true
	default:
		return false
	}
}

// Classify maps a provider error to an ErrorKind.
func Classify(err error) ErrorKind {
	var setupErr *SetupError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &setupErr):
		return setupErr.Kind
	case errors.Is(err, ErrPermissionDenied):
		return KindDenied
	case errors.Is(err, ErrDeviceNotFound):
		return KindNotFound
	case errors.Is(err, ErrDeviceBusy):
		return KindBusy
	case errors.Is(err, ErrConstraints):
		return KindConstraints
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindUnknown
	}
}

func newSetupError(err error) *SetupError {
	var setupErr *SetupError
	if errors.As(err, &setupErr) {
		return setupErr
	}
	return &SetupError{Kind: Classify(err), Err: err}
}
