package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// Live grid snapshot
		r.Get("/grid", s.handleGrid)

		// Cycle control and history
		r.Route("/cycles", func(r chi.Router) {
			r.Get("/", s.handleListCycles)
			r.Post("/", s.handleStartCycle)
			r.Post("/current/cancel", s.handleCancelCycle)
			r.Get("/{id}", s.handleGetCycle)
			r.Get("/{id}/boards", s.handleCycleBoards)
		})

		// Per-board operations
		r.Route("/boards/{row}/{col}", func(r chi.Router) {
			r.Patch("/", s.handleUpdateBoard)
			r.Post("/retry", s.handleRetryBoard)
		})

		// Panel definition
		r.Route("/panel", func(r chi.Router) {
			r.Get("/", s.handleGetPanel)
			r.Post("/reload", s.handleReloadPanel)
		})

		// Audit trail
		r.Get("/audit", s.handleListAudit)

		// WebSocket for real-time board and cycle events
		r.Get(s.wsPath(), s.handleWebSocket)
	})

	return r
}

// wsPath returns the WebSocket mount point under /api/v1.
func (s *Server) wsPath() string {
	p := s.wsCfg.Path
	if p == "" {
		return "/ws"
	}
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
