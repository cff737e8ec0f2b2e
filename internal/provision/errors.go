package provision

import "errors"

// Domain errors for the provision package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(result.Err, provision.ErrStepTimeout) {
//	    // board never answered
//	}
var (
	// ErrScriptInvalid is returned when script validation or compilation fails.
	ErrScriptInvalid = errors.New("provision: invalid script")

	// ErrUnknownVariable is returned when a send template references a
	// variable that no layer of the context can supply.
	ErrUnknownVariable = errors.New("provision: unknown variable")

	// ErrStepTimeout marks a step that exhausted its attempts without
	// receiving a single line in the final attempt window.
	ErrStepTimeout = errors.New("provision: step timed out with no response")

	// ErrStepNoMatch marks a step that received lines but none matched
	// any expect pattern.
	ErrStepNoMatch = errors.New("provision: no pattern matched response")

	// ErrTransport is returned when the serial session dies mid-script.
	// Always fatal for the whole script regardless of on-fail settings.
	ErrTransport = errors.New("provision: transport failure")
)
