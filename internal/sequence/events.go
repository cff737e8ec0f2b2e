package sequence

import (
	"github.com/nerrad567/benchline/internal/board"
)

// CycleState labels a cycle-level event.
type CycleState string

// Cycle lifecycle states carried by CycleEvent.
const (
	CycleStarted   CycleState = "started"
	CycleCompleted CycleState = "completed"
	CycleCancelled CycleState = "cancelled"
)

// BoardEvent announces one phase transition of one board. Display is
// ready for direct rendering; Reason is set only for failures, and
// Captures only when a script phase completed with harvested values.
// Events are self-contained (panel name included) so observers that
// drain them asynchronously never have to read back mutable state.
type BoardEvent struct {
	CycleID  string            `json:"cycle_id"`
	Panel    string            `json:"panel"`
	Row      int               `json:"row"`
	Col      int               `json:"col"`
	CellID   string            `json:"cell_id"`
	Phase    board.Phase       `json:"phase"`
	State    board.PhaseState  `json:"state"`
	Display  string            `json:"display"`
	Reason   string            `json:"reason,omitempty"`
	Captures map[string]string `json:"captures,omitempty"`
}

// CycleEvent announces the start or end of a cycle. The tally covers
// the boards this run worked on: the whole panel for a batch cycle, a
// single board for a retry. A terminal event (completed or cancelled)
// is a cue for observers to refresh the full grid snapshot; bulk
// transitions such as the interruption pass are not announced per
// board.
type CycleEvent struct {
	CycleID   string      `json:"cycle_id"`
	State     CycleState  `json:"state"`
	Panel     string      `json:"panel"`
	Tally     board.Tally `json:"tally"`
	ElapsedMS int64       `json:"elapsed_ms"`
}

// Notifier receives orchestrator events. Calls are made from the
// sequencing goroutine in transition order; implementations must
// return quickly and buffer internally if their sink is slow.
type Notifier interface {
	NotifyBoard(event BoardEvent)
	NotifyCycle(event CycleEvent)
}
