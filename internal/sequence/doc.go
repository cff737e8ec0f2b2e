// Package sequence orchestrates panel cycles: the choreography that
// takes every board on the panel through scan, probe, program,
// provision and test.
//
// # Cycle Shape
//
// A cycle has two sweeps. The scan batch first visits every enabled
// board and decodes its identifier label while nothing is powered; a
// board whose scan fails is marked and the batch moves on. The
// execution sweep then revisits each scanned board: land the head,
// verify pin contact, power the board, flash it, run the provisioning
// script, and optionally the test script. Boards are worked strictly
// one at a time, in the head's column-major travel order.
//
// # Concurrency Model
//
// All sequencing and all grid mutation happen on one cycle goroutine.
// Calls that genuinely block the OS thread (camera captures,
// flashing-tool subprocesses) are handed to a small worker pool, but
// the cycle goroutine always waits for the result, so transitions stay
// ordered. Serial conversations suspend on the context like any other
// call.
//
// # Cancellation
//
// Cancellation is cooperative. CancelCycle cancels the run context;
// the cycle notices at its next collaborator call, stops cleanly,
// reconciles the grid (active phases become Interrupted, pending ones
// Skipped), emits a final cancelled event, and parks the rig on a
// fresh context. Cancellation is never an error and never marks a
// board failed.
//
// # Observers
//
// Registered Notifiers receive every phase transition and the cycle
// start and end, in order, from the cycle goroutine. A terminal cycle
// event is the cue to refresh the full grid snapshot; bulk
// reconciliation is not announced per board.
package sequence
