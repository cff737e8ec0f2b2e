// Package board models the live state of a panel under test: a grid of
// boards, each advancing through the five-phase pipeline (vision,
// probe, program, provision, test).
//
// # State Machine
//
// One parametrized machine serves all phases. Each phase walks its own
// path through a shared state set:
//
//	vision:    pending → scanning → scanned | failed
//	probe:     pending → probing → completed | failed
//	program:   pending → identifying → identified → programming → completed | failed
//	provision: pending → provisioning → completed | failed
//	test:      pending → testing → completed | failed
//
// Every phase may additionally reach skipped (from pending) and
// interrupted (from an active state, applied only by the grid's
// cancellation reconciliation). Terminal states (scanned, completed,
// failed, skipped, interrupted) are never mutated again.
//
// A failed phase records the board's first failure reason and skips
// every later phase still pending. Later failures never overwrite the
// recorded reason.
//
// # Key Types
//
//   - Phase / PhaseState: the machine's coordinates
//   - BoardStatus: one position's enabled flag, phase states, failure
//     record, and collected BoardInfo
//   - Grid: rows × cols of BoardStatus with thread-safe snapshots
//   - DisplayText: pure mapping from phase+state to operator-facing
//     labels ("QR OK", "Contact Failed", "Programmed", ...)
//
// # Thread Safety
//
// Grid methods are safe for concurrent use; reads return deep copies.
// BoardStatus alone is not synchronised and is only touched through
// the Grid once sequencing runs.
package board
