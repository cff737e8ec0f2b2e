package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nerrad567/benchline/internal/audit"
	"github.com/nerrad567/benchline/internal/history"
	"github.com/nerrad567/benchline/internal/sequence"
)

// seedCycle stores one finished cycle with a single board result.
func seedCycle(t *testing.T, repo *fakeHistory, id string, started time.Time) {
	t.Helper()

	cycle := history.CycleRecord{
		ID:           id,
		Panel:        "mux16-v2",
		Station:      "bench-01",
		StartedAt:    started,
		FinishedAt:   started.Add(3 * time.Minute),
		BoardsTotal:  4,
		BoardsPassed: 3,
		BoardsFailed: 1,
	}
	boards := []history.BoardRecord{
		{CycleID: id, Row: 1, Col: 1, CellID: "R1C1", Enabled: true, Passed: true},
	}
	if err := repo.RecordCycle(context.Background(), cycle, boards); err != nil {
		t.Fatalf("RecordCycle: %v", err)
	}
}

// ─── Cycle Control Tests ───────────────────────────────────────────

func TestStartCycle(t *testing.T) {
	srv, deps := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cycles", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusAccepted, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["cycle_id"] != "cyc-1a2b3c4d" {
		t.Errorf("cycle_id = %v, want cyc-1a2b3c4d", resp["cycle_id"])
	}
	if resp["status"] != "started" {
		t.Errorf("status = %v, want started", resp["status"])
	}
	if deps.control.starts != 1 {
		t.Errorf("starts = %d, want 1", deps.control.starts)
	}

	entry := nextAudit(t, srv)
	if entry.Action != audit.ActionCycleStart {
		t.Errorf("audit action = %q, want %q", entry.Action, audit.ActionCycleStart)
	}
	if entry.EntityID != "cyc-1a2b3c4d" {
		t.Errorf("audit entity = %q, want cyc-1a2b3c4d", entry.EntityID)
	}
}

func TestStartCycle_AlreadyRunning(t *testing.T) {
	srv, deps := testServer(t)
	deps.control.startErr = sequence.ErrCycleInProgress
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cycles", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusConflict)
	}

	var apiErr Error
	if err := json.Unmarshal(w.Body.Bytes(), &apiErr); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if apiErr.Code != ErrCodeConflict {
		t.Errorf("error code = %q, want %q", apiErr.Code, ErrCodeConflict)
	}
}

func TestCancelCycle(t *testing.T) {
	srv, deps := testServer(t)
	deps.control.active = true
	deps.control.currentID = "cyc-running"
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cycles/current/cancel", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusAccepted, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "cancelling" {
		t.Errorf("status = %v, want cancelling", resp["status"])
	}
	if deps.control.cancels != 1 {
		t.Errorf("cancels = %d, want 1", deps.control.cancels)
	}

	entry := nextAudit(t, srv)
	if entry.Action != audit.ActionCycleCancel {
		t.Errorf("audit action = %q, want %q", entry.Action, audit.ActionCycleCancel)
	}
	if entry.EntityID != "cyc-running" {
		t.Errorf("audit entity = %q, want cyc-running", entry.EntityID)
	}
}

func TestCancelCycle_NoneActive(t *testing.T) {
	srv, deps := testServer(t)
	deps.control.cancelErr = sequence.ErrNoCycleActive
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cycles/current/cancel", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

// ─── Cycle History Tests ───────────────────────────────────────────

func TestListCycles(t *testing.T) {
	srv, deps := testServer(t)
	base := time.Date(2026, 5, 11, 8, 0, 0, 0, time.UTC)
	seedCycle(t, deps.history, "cyc-old", base)
	seedCycle(t, deps.history, "cyc-new", base.Add(time.Hour))
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cycles", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Cycles []history.CycleRecord `json:"cycles"`
		Count  int                   `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if resp.Count != 2 {
		t.Fatalf("count = %d, want 2", resp.Count)
	}
	if resp.Cycles[0].ID != "cyc-new" {
		t.Errorf("first cycle = %q, want cyc-new (newest first)", resp.Cycles[0].ID)
	}
}

func TestListCycles_Limit(t *testing.T) {
	srv, deps := testServer(t)
	base := time.Date(2026, 5, 11, 8, 0, 0, 0, time.UTC)
	seedCycle(t, deps.history, "cyc-1", base)
	seedCycle(t, deps.history, "cyc-2", base.Add(time.Hour))
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cycles?limit=1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if int(resp["count"].(float64)) != 1 {
		t.Errorf("count = %v, want 1", resp["count"])
	}
}

func TestListCycles_BadLimit(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cycles?limit=soon", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestGetCycle(t *testing.T) {
	srv, deps := testServer(t)
	seedCycle(t, deps.history, "cyc-abc", time.Date(2026, 5, 11, 8, 0, 0, 0, time.UTC))
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cycles/cyc-abc", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var cycle history.CycleRecord
	if err := json.Unmarshal(w.Body.Bytes(), &cycle); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cycle.ID != "cyc-abc" {
		t.Errorf("id = %q, want cyc-abc", cycle.ID)
	}
	if cycle.BoardsPassed != 3 {
		t.Errorf("boards passed = %d, want 3", cycle.BoardsPassed)
	}
}

func TestGetCycle_NotFound(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cycles/cyc-unknown", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestCycleBoards(t *testing.T) {
	srv, deps := testServer(t)
	seedCycle(t, deps.history, "cyc-abc", time.Date(2026, 5, 11, 8, 0, 0, 0, time.UTC))
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cycles/cyc-abc/boards", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Cycle  history.CycleRecord   `json:"cycle"`
		Boards []history.BoardRecord `json:"boards"`
		Count  int                   `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if resp.Cycle.ID != "cyc-abc" {
		t.Errorf("cycle id = %q, want cyc-abc", resp.Cycle.ID)
	}
	if resp.Count != 1 || len(resp.Boards) != 1 {
		t.Fatalf("boards count = %d, want 1", resp.Count)
	}
	if resp.Boards[0].CellID != "R1C1" {
		t.Errorf("board cell = %q, want R1C1", resp.Boards[0].CellID)
	}
}

func TestCycleBoards_NotFound(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cycles/cyc-unknown/boards", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
