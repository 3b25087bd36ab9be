package mbus

import (
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-mbus/internal/resource"
)

// Domain errors for the M-Bus bridge package.
var (
	// ErrInvalidRequest is returned by scan request validation. It wraps
	// resource.ErrValidation so the API reports it as a validation error.
	ErrInvalidRequest = fmt.Errorf("mbus: invalid scan request: %w", resource.ErrValidation)

	// ErrUnknownRequestType is returned when a request's type discriminator
	// names no known scan request.
	ErrUnknownRequestType = fmt.Errorf("mbus: unknown scan request type: %w", resource.ErrValidation)

	// ErrUnsupportedTransport is returned for serial scan requests; only
	// TCP gateways are reachable from this service.
	ErrUnsupportedTransport = fmt.Errorf("mbus: unsupported transport: %w", resource.ErrValidation)

	// ErrConnectionFailed is returned when the gateway cannot be reached.
	ErrConnectionFailed = errors.New("mbus: connection to gateway failed")

	// ErrNotConnected is returned when the master has been closed.
	ErrNotConnected = errors.New("mbus: not connected")

	// ErrNoResponse is returned when no slave answered within the response timeout.
	ErrNoResponse = errors.New("mbus: no response")

	// ErrInvalidFrame is returned for bytes that do not form a valid frame.
	ErrInvalidFrame = errors.New("mbus: invalid frame")

	// ErrChecksum is returned when a frame's checksum does not match.
	ErrChecksum = fmt.Errorf("%w: checksum mismatch", ErrInvalidFrame)

	// ErrUnexpectedFrame is returned when a valid frame is not the expected answer.
	ErrUnexpectedFrame = errors.New("mbus: unexpected frame")
)
