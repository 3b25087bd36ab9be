package resource

import "errors"

// Sentinel errors. Callers match with errors.Is.
var (
	// ErrNotFound is returned when no resource has the requested id.
	ErrNotFound = errors.New("resource: not found")

	// ErrAccessDenied is returned when the caller is neither admin nor owner.
	ErrAccessDenied = errors.New("resource: access denied")

	// ErrConflict is returned for an explicit id that is already in use by a
	// running resource, or when removing a resource that is still running.
	ErrConflict = errors.New("resource: conflict")

	// ErrValidation marks malformed input. Request types wrap it.
	ErrValidation = errors.New("resource: validation failed")

	// ErrInternal marks failures raised by work, including panics.
	ErrInternal = errors.New("resource: internal error")

	// ErrTerminal is returned by mutators called after the resource finished.
	ErrTerminal = errors.New("resource: already terminal")

	// ErrLimitReached is returned by Create when the registry is full.
	ErrLimitReached = errors.New("resource: registry limit reached")

	// ErrUnavailable is returned by Create when the executor refuses the
	// work, for example because its queue is full or it is shutting down.
	ErrUnavailable = errors.New("resource: executor unavailable")
)

// Error payload codes.
const (
	CodeInternal   = "internal_error"
	CodeValidation = "validation_error"
	CodeTimeout    = "timeout"
)

// ErrorPayload is the structured error attached to a resource in ERROR.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// payloadFor maps an error to its payload code.
func payloadFor(err error) *ErrorPayload {
	code := CodeInternal
	if errors.Is(err, ErrValidation) {
		code = CodeValidation
	}
	return &ErrorPayload{Code: code, Message: err.Error()}
}
