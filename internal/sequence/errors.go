package sequence

import "errors"

// Sentinel errors for cycle control. Check with errors.Is:
//
//	if errors.Is(err, sequence.ErrCycleInProgress) {
//	    // reject with 409
//	}
var (
	// ErrCycleInProgress is returned when a cycle or board retry is
	// requested while another one is still running. The station has one
	// head; all sequencing is mutually exclusive.
	ErrCycleInProgress = errors.New("sequence: cycle already in progress")

	// ErrNoCycleActive is returned by CancelCycle when there is nothing
	// to cancel.
	ErrNoCycleActive = errors.New("sequence: no cycle active")

	// ErrBoardDisabled is returned by RetryBoard for a board the
	// operator has excluded.
	ErrBoardDisabled = errors.New("sequence: board is disabled")
)

// Board failure classes. These never escape the orchestrator as return
// values; a collaborator error is wrapped with the failing phase's
// class and flattened into the board's failure reason, so the recorded
// text names the category ahead of the detail.
var (
	// ErrScanFailed classifies vision-phase failures.
	ErrScanFailed = errors.New("sequence: scan failed")

	// ErrContactFailed classifies probe-phase failures, camera moves
	// and head landing included.
	ErrContactFailed = errors.New("sequence: contact failed")

	// ErrProgramFailed classifies identify and flash failures.
	ErrProgramFailed = errors.New("sequence: programming failed")
)
