package programmer

import "errors"

// Domain errors for the programmer package.
var (
	// ErrInvalidConfig is returned when the programmer configuration
	// cannot drive a programming sequence.
	ErrInvalidConfig = errors.New("programmer: invalid configuration")

	// ErrIdentifyFailed is returned when the device-info command fails.
	ErrIdentifyFailed = errors.New("programmer: identify failed")

	// ErrStepFailed is returned when a programming step fails. The
	// message carries the step name and the tool's last output line.
	ErrStepFailed = errors.New("programmer: step failed")
)
