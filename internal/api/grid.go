package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/benchline/internal/audit"
	"github.com/nerrad567/benchline/internal/board"
	"github.com/nerrad567/benchline/internal/sequence"
)

// cellView decorates a board snapshot with derived display fields so
// UI clients don't reimplement the phase precedence rules.
type cellView struct {
	*board.BoardStatus
	CellID  string           `json:"cell_id"`
	Phase   board.Phase      `json:"phase"`
	State   board.PhaseState `json:"state"`
	Display string           `json:"display"`
	Passed  bool             `json:"passed"`
}

func viewOf(st *board.BoardStatus) cellView {
	phase := st.CurrentPhase()
	return cellView{
		BoardStatus: st,
		CellID:      st.CellID(),
		Phase:       phase,
		State:       st.State(phase),
		Display:     st.Display(phase),
		Passed:      st.Passed(),
	}
}

// handleGrid returns the live grid snapshot: panel geometry, cycle
// state, running tally and one view per board position.
func (s *Server) handleGrid(w http.ResponseWriter, _ *http.Request) {
	def := s.panels.Current()

	snapshot := s.grid.Snapshot()
	boards := make([]cellView, 0, len(snapshot))
	for _, st := range snapshot {
		boards = append(boards, viewOf(st))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"panel": map[string]any{
			"name": def.Name,
			"rows": s.grid.Rows(),
			"cols": s.grid.Cols(),
		},
		"cycle": map[string]any{
			"active":   s.control.Active(),
			"cycle_id": s.control.CurrentCycleID(),
		},
		"tally":  s.grid.Tally(),
		"boards": boards,
	})
}

// updateBoardRequest is the PATCH body for a board position.
type updateBoardRequest struct {
	Enabled *bool `json:"enabled"`
}

// handleUpdateBoard toggles a board's enabled flag. Allowed while a
// cycle runs: the sequencer re-checks the flag as it reaches each
// board, so disabling a visibly dead board mid-cycle skips it.
func (s *Server) handleUpdateBoard(w http.ResponseWriter, r *http.Request) {
	row, col, ok := parsePosition(w, r)
	if !ok {
		return
	}

	var req updateBoardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Enabled == nil {
		writeBadRequest(w, "enabled field is required")
		return
	}

	if err := s.grid.SetEnabled(row, col, *req.Enabled); err != nil {
		writeNotFound(w, "no such board position")
		return
	}

	action := audit.ActionBoardDisable
	if *req.Enabled {
		action = audit.ActionBoardEnable
	}
	cellID := board.Position{Row: row, Col: col}.CellID()
	s.auditLog(action, audit.EntityBoard, cellID, map[string]any{
		"row": row,
		"col": col,
	})

	st, err := s.grid.Board(row, col)
	if err != nil {
		writeInternalError(w, "failed to read board")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(st))
}

// handleRetryBoard re-runs the full pipeline for one board.
func (s *Server) handleRetryBoard(w http.ResponseWriter, r *http.Request) {
	row, col, ok := parsePosition(w, r)
	if !ok {
		return
	}

	cycleID, err := s.control.RetryBoard(row, col)
	if err != nil {
		switch {
		case errors.Is(err, board.ErrOutOfRange):
			writeNotFound(w, "no such board position")
		case errors.Is(err, sequence.ErrBoardDisabled):
			writeConflict(w, "board is disabled")
		case errors.Is(err, sequence.ErrCycleInProgress):
			writeConflict(w, "a cycle is already running")
		default:
			s.logger.Error("board retry failed", "row", row, "col", col, "error", err)
			writeInternalError(w, "failed to start retry")
		}
		return
	}

	cellID := board.Position{Row: row, Col: col}.CellID()
	s.auditLog(audit.ActionBoardRetry, audit.EntityBoard, cellID, map[string]any{
		"row":      row,
		"col":      col,
		"cycle_id": cycleID,
	})

	writeJSON(w, http.StatusAccepted, map[string]any{
		"cycle_id": cycleID,
		"status":   "started",
	})
}

// parsePosition reads the {row}/{col} URL params. On failure it writes
// a 400 response and returns ok=false.
func parsePosition(w http.ResponseWriter, r *http.Request) (row, col int, ok bool) {
	row, err := strconv.Atoi(chi.URLParam(r, "row"))
	if err != nil {
		writeBadRequest(w, "row must be an integer")
		return 0, 0, false
	}
	col, err = strconv.Atoi(chi.URLParam(r, "col"))
	if err != nil {
		writeBadRequest(w, "col must be an integer")
		return 0, 0, false
	}
	return row, col, true
}
