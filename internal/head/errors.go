package head

import "errors"

// Domain errors for the head package.
var (
	// ErrTimeout is returned when the controller does not reply within
	// the command timeout.
	ErrTimeout = errors.New("head: no reply within timeout")

	// ErrHardware is returned when the controller replies ERROR.
	ErrHardware = errors.New("head: controller reported error")

	// ErrTransport is returned when the serial link fails or closes.
	ErrTransport = errors.New("head: transport failure")
)
