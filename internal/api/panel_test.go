package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/nerrad567/benchline/internal/audit"
	"github.com/nerrad567/benchline/internal/board"
)

// reloadedPanelYAML keeps the 2x2 geometry but tweaks the script, as
// an operator would between batches.
const reloadedPanelYAML = `
name: mux16-v2b
rows: 2
cols: 2
col_pitch: 30.0
row_pitch: 25.0
provision:
  name: mux16-provision
  steps:
    - send: "id --fast"
      expect: "OK"
`

// resizedPanelYAML changes the grid dimensions, which a running
// station cannot absorb.
const resizedPanelYAML = `
name: mux24-v1
rows: 3
cols: 2
col_pitch: 30.0
row_pitch: 25.0
provision:
  name: mux24-provision
  steps:
    - send: "id"
      expect: "OK"
`

func rewritePanel(t *testing.T, srv *Server, content string) {
	t.Helper()
	if err := os.WriteFile(srv.panels.Path(), []byte(content), 0o600); err != nil {
		t.Fatalf("rewriting panel file: %v", err)
	}
}

// ─── Panel Endpoint Tests ──────────────────────────────────────────

func TestGetPanel(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/panel", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Panel struct {
			Name string `json:"name"`
			Rows int    `json:"rows"`
			Cols int    `json:"cols"`
		} `json:"panel"`
		Source  string `json:"source"`
		HasTest bool   `json:"has_test"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if resp.Panel.Name != "mux16-v2" {
		t.Errorf("name = %q, want mux16-v2", resp.Panel.Name)
	}
	if resp.Panel.Rows != 2 || resp.Panel.Cols != 2 {
		t.Errorf("dims = %dx%d, want 2x2", resp.Panel.Rows, resp.Panel.Cols)
	}
	if resp.Source == "" {
		t.Error("expected source path")
	}
	if resp.HasTest {
		t.Error("fixture has no test script")
	}
}

func TestReloadPanel(t *testing.T) {
	srv, deps := testServer(t)
	router := srv.buildRouter()

	// Leave some state behind so the reset is observable.
	mustAdvanceGrid(t, deps.grid, 1, 1, board.PhaseVision, board.StateScanning)

	hookCalled := false
	srv.onPanelReload = func() { hookCalled = true }

	rewritePanel(t, srv, reloadedPanelYAML)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/panel/reload", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	if got := deps.panels.Current().Name; got != "mux16-v2b" {
		t.Errorf("current panel = %q, want mux16-v2b", got)
	}

	st, err := deps.grid.Board(1, 1)
	if err != nil {
		t.Fatalf("Board: %v", err)
	}
	if st.States[board.PhaseVision] != board.StatePending {
		t.Errorf("grid not reset: vision = %s", st.States[board.PhaseVision])
	}

	if !hookCalled {
		t.Error("reload hook was not called")
	}

	entry := nextAudit(t, srv)
	if entry.Action != audit.ActionPanelReload {
		t.Errorf("audit action = %q, want %q", entry.Action, audit.ActionPanelReload)
	}
	if entry.EntityID != "mux16-v2b" {
		t.Errorf("audit entity = %q, want mux16-v2b", entry.EntityID)
	}
}

func TestReloadPanel_BroadcastsEvent(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	client := &WSClient{
		hub:           srv.hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{ChannelPanelReloaded: {}},
	}
	srv.hub.Register(client)

	rewritePanel(t, srv, reloadedPanelYAML)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/panel/reload", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	select {
	case msg := <-client.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.EventType != ChannelPanelReloaded {
			t.Errorf("event_type = %q, want %q", wsMsg.EventType, ChannelPanelReloaded)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for reload broadcast")
	}
}

func TestReloadPanel_DuringCycle(t *testing.T) {
	srv, deps := testServer(t)
	deps.control.active = true
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/panel/reload", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestReloadPanel_InvalidFile(t *testing.T) {
	srv, deps := testServer(t)
	router := srv.buildRouter()

	rewritePanel(t, srv, "rows: 0\ncols: 0\n")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/panel/reload", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	// The running definition must be untouched.
	if got := deps.panels.Current().Name; got != "mux16-v2" {
		t.Errorf("current panel = %q, want mux16-v2", got)
	}
}

func TestReloadPanel_DimensionChange(t *testing.T) {
	srv, deps := testServer(t)
	router := srv.buildRouter()

	rewritePanel(t, srv, resizedPanelYAML)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/panel/reload", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}

	if got := deps.panels.Current().Name; got != "mux16-v2" {
		t.Errorf("current panel = %q, want mux16-v2", got)
	}
}

// ─── Audit Endpoint Tests ──────────────────────────────────────────

func seedAudit(t *testing.T, repo *fakeAudit, action, entityType, entityID string) {
	t.Helper()
	err := repo.Create(context.Background(), &audit.Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Source:     audit.SourceAPI,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestListAudit(t *testing.T) {
	srv, deps := testServer(t)
	seedAudit(t, deps.audit, audit.ActionCycleStart, audit.EntityCycle, "cyc-1")
	seedAudit(t, deps.audit, audit.ActionBoardRetry, audit.EntityBoard, "R1C2")
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var result audit.ListResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.Total != 2 {
		t.Errorf("total = %d, want 2", result.Total)
	}
}

func TestListAudit_FilterByAction(t *testing.T) {
	srv, deps := testServer(t)
	seedAudit(t, deps.audit, audit.ActionCycleStart, audit.EntityCycle, "cyc-1")
	seedAudit(t, deps.audit, audit.ActionBoardRetry, audit.EntityBoard, "R1C2")
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit?action=board.retry", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var result audit.ListResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.Total != 1 {
		t.Fatalf("total = %d, want 1", result.Total)
	}
	if result.Entries[0].EntityID != "R1C2" {
		t.Errorf("entity = %q, want R1C2", result.Entries[0].EntityID)
	}
}

func TestListAudit_NotConfigured(t *testing.T) {
	srv, _ := testServer(t)
	srv.auditRepo = nil
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
