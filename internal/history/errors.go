package history

import "errors"

// Domain errors for the history package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, history.ErrCycleNotFound) {
//	    // respond 404
//	}
var (
	// ErrCycleNotFound is returned when no cycle exists with the given id.
	ErrCycleNotFound = errors.New("history: cycle not found")
)
