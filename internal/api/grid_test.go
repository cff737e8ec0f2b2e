package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nerrad567/benchline/internal/audit"
	"github.com/nerrad567/benchline/internal/board"
	"github.com/nerrad567/benchline/internal/sequence"
)

// gridResponse mirrors the /grid payload for assertions.
type gridResponse struct {
	Panel struct {
		Name string `json:"name"`
		Rows int    `json:"rows"`
		Cols int    `json:"cols"`
	} `json:"panel"`
	Cycle struct {
		Active  bool   `json:"active"`
		CycleID string `json:"cycle_id"`
	} `json:"cycle"`
	Tally  board.Tally      `json:"tally"`
	Boards []map[string]any `json:"boards"`
}

func getGrid(t *testing.T, router http.Handler) gridResponse {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/grid", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("grid status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp gridResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return resp
}

// cellByID finds one board view in the grid response.
func cellByID(t *testing.T, resp gridResponse, cellID string) map[string]any {
	t.Helper()
	for _, b := range resp.Boards {
		if b["cell_id"] == cellID {
			return b
		}
	}
	t.Fatalf("cell %s not in grid response", cellID)
	return nil
}

// ─── Grid Snapshot Tests ───────────────────────────────────────────

func TestGrid_FreshSnapshot(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	resp := getGrid(t, router)

	if resp.Panel.Name != "mux16-v2" {
		t.Errorf("panel name = %q, want mux16-v2", resp.Panel.Name)
	}
	if resp.Panel.Rows != 2 || resp.Panel.Cols != 2 {
		t.Errorf("panel dims = %dx%d, want 2x2", resp.Panel.Rows, resp.Panel.Cols)
	}
	if resp.Cycle.Active {
		t.Error("cycle should not be active")
	}
	if resp.Tally.Total != 4 || resp.Tally.Enabled != 4 {
		t.Errorf("tally = %+v, want 4 total, 4 enabled", resp.Tally)
	}
	if len(resp.Boards) != 4 {
		t.Fatalf("boards = %d, want 4", len(resp.Boards))
	}

	cell := cellByID(t, resp, "R1C1")
	if cell["display"] != "Pending" {
		t.Errorf("fresh cell display = %v, want Pending", cell["display"])
	}
	if cell["phase"] != string(board.PhaseVision) {
		t.Errorf("fresh cell phase = %v, want vision", cell["phase"])
	}
	if cell["passed"] != false {
		t.Errorf("fresh cell passed = %v, want false", cell["passed"])
	}
}

func TestGrid_ReflectsProgress(t *testing.T) {
	srv, deps := testServer(t)
	router := srv.buildRouter()

	mustAdvanceGrid(t, deps.grid, 1, 1, board.PhaseVision, board.StateScanning)
	mustAdvanceGrid(t, deps.grid, 1, 1, board.PhaseVision, board.StateScanned)

	resp := getGrid(t, router)
	cell := cellByID(t, resp, "R1C1")

	if cell["display"] != "QR OK" {
		t.Errorf("display = %v, want QR OK", cell["display"])
	}
	if cell["phase"] != string(board.PhaseVision) {
		t.Errorf("phase = %v, want vision", cell["phase"])
	}
	if cell["state"] != string(board.StateScanned) {
		t.Errorf("state = %v, want scanned", cell["state"])
	}
}

func TestGrid_ReportsActiveCycle(t *testing.T) {
	srv, deps := testServer(t)
	deps.control.active = true
	deps.control.currentID = "cyc-live"
	router := srv.buildRouter()

	resp := getGrid(t, router)

	if !resp.Cycle.Active {
		t.Error("cycle should be active")
	}
	if resp.Cycle.CycleID != "cyc-live" {
		t.Errorf("cycle_id = %q, want cyc-live", resp.Cycle.CycleID)
	}
}

func mustAdvanceGrid(t *testing.T, g *board.Grid, row, col int, phase board.Phase, state board.PhaseState) {
	t.Helper()
	if err := g.Advance(row, col, phase, state, ""); err != nil {
		t.Fatalf("Advance(%d,%d,%s,%s): %v", row, col, phase, state, err)
	}
}

// ─── Board Toggle Tests ────────────────────────────────────────────

func TestUpdateBoard_Disable(t *testing.T) {
	srv, deps := testServer(t)
	router := srv.buildRouter()

	body := `{"enabled": false}`
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/boards/2/2", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var cell map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &cell); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cell["enabled"] != false {
		t.Errorf("enabled = %v, want false", cell["enabled"])
	}

	st, err := deps.grid.Board(2, 2)
	if err != nil {
		t.Fatalf("Board: %v", err)
	}
	if st.Enabled {
		t.Error("grid should show the board disabled")
	}

	entry := nextAudit(t, srv)
	if entry.Action != audit.ActionBoardDisable {
		t.Errorf("audit action = %q, want %q", entry.Action, audit.ActionBoardDisable)
	}
	if entry.EntityID != "R2C2" {
		t.Errorf("audit entity = %q, want R2C2", entry.EntityID)
	}
}

func TestUpdateBoard_Enable(t *testing.T) {
	srv, deps := testServer(t)
	if err := deps.grid.SetEnabled(1, 2, false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	router := srv.buildRouter()

	body := `{"enabled": true}`
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/boards/1/2", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	st, err := deps.grid.Board(1, 2)
	if err != nil {
		t.Fatalf("Board: %v", err)
	}
	if !st.Enabled {
		t.Error("grid should show the board enabled")
	}

	entry := nextAudit(t, srv)
	if entry.Action != audit.ActionBoardEnable {
		t.Errorf("audit action = %q, want %q", entry.Action, audit.ActionBoardEnable)
	}
}

func TestUpdateBoard_MissingField(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/boards/1/1", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestUpdateBoard_InvalidJSON(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/boards/1/1", strings.NewReader(`{not json`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestUpdateBoard_OutOfRange(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/boards/9/9", strings.NewReader(`{"enabled": false}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestUpdateBoard_NonNumericPosition(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/boards/one/1", strings.NewReader(`{"enabled": false}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// ─── Board Retry Tests ─────────────────────────────────────────────

func TestRetryBoard(t *testing.T) {
	srv, deps := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/boards/1/2/retry", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusAccepted, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["cycle_id"] != "cyc-5e6f7a8b" {
		t.Errorf("cycle_id = %v, want cyc-5e6f7a8b", resp["cycle_id"])
	}

	if len(deps.control.retries) != 1 || deps.control.retries[0] != (board.Position{Row: 1, Col: 2}) {
		t.Errorf("retries = %v, want [R1C2]", deps.control.retries)
	}

	entry := nextAudit(t, srv)
	if entry.Action != audit.ActionBoardRetry {
		t.Errorf("audit action = %q, want %q", entry.Action, audit.ActionBoardRetry)
	}
	if entry.EntityID != "R1C2" {
		t.Errorf("audit entity = %q, want R1C2", entry.EntityID)
	}
	if entry.Details["cycle_id"] != "cyc-5e6f7a8b" {
		t.Errorf("audit details cycle_id = %v", entry.Details["cycle_id"])
	}
}

func TestRetryBoard_Disabled(t *testing.T) {
	srv, deps := testServer(t)
	deps.control.retryErr = sequence.ErrBoardDisabled
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/boards/1/1/retry", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestRetryBoard_CycleRunning(t *testing.T) {
	srv, deps := testServer(t)
	deps.control.retryErr = sequence.ErrCycleInProgress
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/boards/1/1/retry", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestRetryBoard_OutOfRange(t *testing.T) {
	srv, deps := testServer(t)
	deps.control.retryErr = fmt.Errorf("looking up board: %w", board.ErrOutOfRange)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/boards/9/9/retry", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
