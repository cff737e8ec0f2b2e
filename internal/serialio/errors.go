package serialio

import "errors"

// Domain errors for the serialio package.
var (
	// ErrClosed is returned when an operation is attempted on a closed session.
	ErrClosed = errors.New("serialio: session closed")

	// ErrOpenFailed is returned when the serial port cannot be opened.
	ErrOpenFailed = errors.New("serialio: port open failed")

	// ErrWriteFailed is returned when writing to the port fails.
	ErrWriteFailed = errors.New("serialio: write failed")
)
