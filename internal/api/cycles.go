package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/benchline/internal/audit"
	"github.com/nerrad567/benchline/internal/history"
	"github.com/nerrad567/benchline/internal/sequence"
)

// handleStartCycle launches a full panel cycle. The cycle runs in the
// background; progress is observable on the WebSocket and MQTT topics.
func (s *Server) handleStartCycle(w http.ResponseWriter, _ *http.Request) {
	cycleID, err := s.control.StartCycle()
	if err != nil {
		if errors.Is(err, sequence.ErrCycleInProgress) {
			writeConflict(w, "a cycle is already running")
			return
		}
		s.logger.Error("cycle start failed", "error", err)
		writeInternalError(w, "failed to start cycle")
		return
	}

	s.auditLog(audit.ActionCycleStart, audit.EntityCycle, cycleID, nil)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"cycle_id": cycleID,
		"status":   "started",
	})
}

// handleCancelCycle requests cooperative cancellation of the running
// cycle. Returns 202 immediately; the cancelled event arrives on the
// event channels once the cycle has wound down.
func (s *Server) handleCancelCycle(w http.ResponseWriter, _ *http.Request) {
	cycleID := s.control.CurrentCycleID()

	if err := s.control.CancelCycle(); err != nil {
		if errors.Is(err, sequence.ErrNoCycleActive) {
			writeConflict(w, "no cycle is running")
			return
		}
		s.logger.Error("cycle cancel failed", "error", err)
		writeInternalError(w, "failed to cancel cycle")
		return
	}

	s.auditLog(audit.ActionCycleCancel, audit.EntityCycle, cycleID, nil)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"cycle_id": cycleID,
		"status":   "cancelling",
	})
}

// handleListCycles returns recent cycle records, newest first.
//
// Query parameters:
//   - limit: max results (repository clamps the bounds)
func (s *Server) handleListCycles(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
		limit = n
	}

	cycles, err := s.history.ListCycles(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list cycles", "error", err)
		writeInternalError(w, "failed to list cycles")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"cycles": cycles,
		"count":  len(cycles),
	})
}

// handleGetCycle returns one finished cycle by id.
func (s *Server) handleGetCycle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cycle, err := s.history.GetCycle(r.Context(), id)
	if err != nil {
		if errors.Is(err, history.ErrCycleNotFound) {
			writeNotFound(w, "cycle not found")
			return
		}
		s.logger.Error("failed to get cycle", "cycle_id", id, "error", err)
		writeInternalError(w, "failed to get cycle")
		return
	}

	writeJSON(w, http.StatusOK, cycle)
}

// handleCycleBoards returns the per-board results of a finished cycle.
func (s *Server) handleCycleBoards(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cycle, err := s.history.GetCycle(r.Context(), id)
	if err != nil {
		if errors.Is(err, history.ErrCycleNotFound) {
			writeNotFound(w, "cycle not found")
			return
		}
		s.logger.Error("failed to get cycle", "cycle_id", id, "error", err)
		writeInternalError(w, "failed to get cycle")
		return
	}

	boards, err := s.history.ListBoards(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to list cycle boards", "cycle_id", id, "error", err)
		writeInternalError(w, "failed to list cycle boards")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"cycle":  cycle,
		"boards": boards,
		"count":  len(boards),
	})
}
