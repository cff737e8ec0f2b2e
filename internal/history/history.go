// Package history persists finished cycles and their per-board results
// to SQLite, and serves the list and detail queries behind the API.
package history

import (
	"context"
	"maps"
	"time"

	"github.com/nerrad567/benchline/internal/board"
)

// CycleRecord summarises one finished or cancelled run of a panel.
type CycleRecord struct {
	ID           string    `json:"id"`
	Panel        string    `json:"panel"`
	Station      string    `json:"station"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Cancelled    bool      `json:"cancelled"`
	BoardsTotal  int       `json:"boards_total"`
	BoardsPassed int       `json:"boards_passed"`
	BoardsFailed int       `json:"boards_failed"`
}

// CaptureSet groups the values harvested from one board, keyed by the
// script that produced them.
type CaptureSet struct {
	Provision map[string]string `json:"provision,omitempty"`
	Test      map[string]string `json:"test,omitempty"`
}

// BoardRecord is the persisted outcome of one board within a cycle.
type BoardRecord struct {
	ID            int64                            `json:"id"`
	CycleID       string                           `json:"cycle_id"`
	Row           int                              `json:"row"`
	Col           int                              `json:"col"`
	CellID        string                           `json:"cell_id"`
	SerialNumber  string                           `json:"serial_number,omitempty"`
	DeviceID      string                           `json:"device_id,omitempty"`
	Firmware      string                           `json:"firmware,omitempty"`
	Enabled       bool                             `json:"enabled"`
	Passed        bool                             `json:"passed"`
	FailurePhase  string                           `json:"failure_phase,omitempty"`
	FailureReason string                           `json:"failure_reason,omitempty"`
	Captures      CaptureSet                       `json:"captures"`
	Phases        map[board.Phase]board.PhaseState `json:"phases"`
	ElapsedMS     int64                            `json:"elapsed_ms"`
}

// BoardRecordFrom flattens a board's end-of-cycle status into a record
// ready for persistence. The cycle id is stamped when the record is
// inserted.
func BoardRecordFrom(st *board.BoardStatus) BoardRecord {
	rec := BoardRecord{
		Row:           st.Row,
		Col:           st.Col,
		CellID:        st.CellID(),
		Enabled:       st.Enabled,
		Passed:        st.Passed(),
		FailurePhase:  string(st.FailurePhase),
		FailureReason: st.FailureReason,
		Phases:        maps.Clone(st.States),
	}
	if info := st.Info; info != nil {
		rec.SerialNumber = info.Identifier
		rec.DeviceID = info.DeviceID
		rec.Firmware = info.Firmware
		if len(info.Captures) > 0 {
			rec.Captures.Provision = maps.Clone(info.Captures)
		}
		if len(info.TestCaptures) > 0 {
			rec.Captures.Test = maps.Clone(info.TestCaptures)
		}
		rec.ElapsedMS = elapsedMS(info)
	}
	return rec
}

// elapsedMS returns the wall time from the first phase start to the
// last phase end, in milliseconds. Zero when the board never started.
func elapsedMS(info *board.BoardInfo) int64 {
	var first, last time.Time
	for _, t := range info.PhaseStarted {
		if first.IsZero() || t.Before(first) {
			first = t
		}
	}
	for _, t := range info.PhaseEnded {
		if t.After(last) {
			last = t
		}
	}
	if first.IsZero() || last.Before(first) {
		return 0
	}
	return last.Sub(first).Milliseconds()
}

// Repository stores and retrieves cycle history.
//
// Implementations must be thread-safe and use UTC timestamps.
type Repository interface {
	// RecordCycle persists a finished cycle and its board results in a
	// single transaction.
	RecordCycle(ctx context.Context, cycle CycleRecord, boards []BoardRecord) error

	// ListCycles returns recent cycles, newest first.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - limit: Maximum entries to return (implementation may clamp bounds)
	ListCycles(ctx context.Context, limit int) ([]CycleRecord, error)

	// GetCycle returns one cycle by id.
	// Returns ErrCycleNotFound if the cycle does not exist.
	GetCycle(ctx context.Context, id string) (*CycleRecord, error)

	// ListBoards returns the board results of one cycle in the order the
	// head visited them.
	ListBoards(ctx context.Context, cycleID string) ([]BoardRecord, error)
}
