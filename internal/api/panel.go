package api

import (
	"net/http"

	"github.com/nerrad567/benchline/internal/audit"
	"github.com/nerrad567/benchline/internal/panel"
)

// handleGetPanel returns the active panel definition.
func (s *Server) handleGetPanel(w http.ResponseWriter, _ *http.Request) {
	def := s.panels.Current()

	writeJSON(w, http.StatusOK, map[string]any{
		"panel":    def,
		"source":   s.panels.Path(),
		"has_test": def.Test != nil,
	})
}

// handleReloadPanel re-reads the panel definition from disk and resets
// the grid for the fresh panel.
//
// The definition is validated before the store swaps it in, so a bad
// file on disk never displaces the running definition. A reload that
// changes the grid dimensions is rejected: the board grid is sized
// once at startup.
func (s *Server) handleReloadPanel(w http.ResponseWriter, _ *http.Request) {
	if s.control.Active() {
		writeConflict(w, "cannot reload the panel while a cycle is running")
		return
	}

	candidate, err := panel.Load(s.panels.Path())
	if err != nil {
		writeBadRequest(w, "panel definition invalid: "+err.Error())
		return
	}
	if candidate.Rows != s.grid.Rows() || candidate.Cols != s.grid.Cols() {
		writeConflict(w, "panel dimensions changed; restart the station to apply")
		return
	}

	def, err := s.panels.Reload()
	if err != nil {
		s.logger.Error("panel reload failed", "path", s.panels.Path(), "error", err)
		writeInternalError(w, "panel reload failed")
		return
	}

	s.grid.Reset()

	if s.onPanelReload != nil {
		s.onPanelReload()
	}
	s.hub.Broadcast(ChannelPanelReloaded, map[string]any{
		"name": def.Name,
		"rows": def.Rows,
		"cols": def.Cols,
	})

	s.auditLog(audit.ActionPanelReload, audit.EntityPanel, def.Name, map[string]any{
		"source": s.panels.Path(),
	})

	s.logger.Info("panel definition reloaded", "panel", def.Name)

	writeJSON(w, http.StatusOK, map[string]any{
		"panel":  def,
		"status": "reloaded",
	})
}
