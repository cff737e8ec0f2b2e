package panel

import "errors"

// Domain errors for the panel package.
var (
	// ErrInvalidDefinition is returned when a panel definition fails
	// validation. The wrapped message lists every problem found.
	ErrInvalidDefinition = errors.New("panel: invalid definition")
)
