package board

import "errors"

// Domain errors for the board package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, board.ErrPhaseTerminal) {
//	    // the phase already finished; nothing to do
//	}
var (
	// ErrInvalidTransition is returned when a phase move is not in the
	// transition table.
	ErrInvalidTransition = errors.New("board: invalid phase transition")

	// ErrPhaseTerminal is returned when mutating a phase that already
	// reached a terminal state.
	ErrPhaseTerminal = errors.New("board: phase already terminal")

	// ErrOutOfRange is returned for a position outside the grid.
	ErrOutOfRange = errors.New("board: position out of range")

	// ErrInvalidDimensions is returned when a grid is created with
	// non-positive dimensions.
	ErrInvalidDimensions = errors.New("board: grid dimensions must be positive")
)
