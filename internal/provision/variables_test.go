package provision

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func testVars() *Variables {
	return NewVariables(SystemVars{
		Row:       2,
		Col:       5,
		PanelName: "demo-panel",
		Now:       time.Date(2025, 3, 14, 9, 30, 45, 0, time.UTC),
	}, map[string]string{
		"fw_version": "2.4.1",
		"region":     "EU",
	})
}

func TestVariablesSystemLayer(t *testing.T) {
	v := testVars()

	tests := []struct {
		name string
		want string
	}{
		{"row", "2"},
		{"col", "5"},
		{"cell_id", "R2C5"},
		{"panel_name", "demo-panel"},
		{"timestamp", "2025-03-14T09:30:45Z"},
		{"date", "2025-03-14"},
		{"time", "09:30:45"},
	}

	for _, tt := range tests {
		got, ok := v.Lookup(tt.name)
		if !ok {
			t.Errorf("Lookup(%q) not found", tt.name)
			continue
		}
		if got != tt.want {
			t.Errorf("Lookup(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestVariablesPrecedence(t *testing.T) {
	v := testVars()

	// custom beats system
	v.custom["row"] = "custom-row"
	if got, _ := v.Lookup("row"); got != "custom-row" {
		t.Errorf("custom should shadow system, got %q", got)
	}

	// scan beats custom
	v.scan["row"] = "scan-row"
	if got, _ := v.Lookup("row"); got != "scan-row" {
		t.Errorf("scan should shadow custom, got %q", got)
	}

	// captured beats everything
	v.Record("row", "captured-row")
	if got, _ := v.Lookup("row"); got != "captured-row" {
		t.Errorf("captured should shadow scan, got %q", got)
	}
}

func TestVariablesSetScan(t *testing.T) {
	v := testVars()
	v.SetScan("SN-00042", "SN-00042|rev3|lot77")

	if got, _ := v.Lookup("serial_number"); got != "SN-00042" {
		t.Errorf("serial_number = %q", got)
	}
	if got, _ := v.Lookup("qr_raw"); got != "SN-00042|rev3|lot77" {
		t.Errorf("qr_raw = %q", got)
	}
}

func TestVariablesRecordLaterWins(t *testing.T) {
	v := testVars()
	v.Record("mac", "aa:bb")
	v.Record("mac", "cc:dd")

	if got, _ := v.Lookup("mac"); got != "cc:dd" {
		t.Errorf("later capture should win, got %q", got)
	}
}

func TestVariablesResolve(t *testing.T) {
	v := testVars()
	v.SetScan("SN-1", "SN-1")

	got, err := v.Resolve("label {serial_number} at {cell_id} fw {fw_version}")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := "label SN-1 at R2C5 fw 2.4.1"
	if got != want {
		t.Errorf("Resolve() = %q, want %q", got, want)
	}
}

func TestVariablesResolveUnknown(t *testing.T) {
	v := testVars()

	_, err := v.Resolve("need {zeta} and {alpha}")
	if !errors.Is(err, ErrUnknownVariable) {
		t.Fatalf("Resolve() = %v, want ErrUnknownVariable", err)
	}
	// Both missing names are reported, sorted
	if !strings.Contains(err.Error(), "alpha, zeta") {
		t.Errorf("error %q should list missing names", err)
	}
}

func TestVariablesResolveKnown(t *testing.T) {
	v := testVars()
	v.SetScan("SN-9", "SN-9")

	// Known names substituted, regex quantifiers untouched
	got := v.ResolveKnown(`^serial {serial_number} code \d{4} lot {lot}$`)
	want := `^serial SN-9 code \d{4} lot {lot}$`
	if got != want {
		t.Errorf("ResolveKnown() = %q, want %q", got, want)
	}
}

func TestDecodeEscapes(t *testing.T) {
	got := DecodeEscapes(`line1\nline2\tend\r`)
	want := "line1\nline2\tend\r"
	if got != want {
		t.Errorf("DecodeEscapes() = %q, want %q", got, want)
	}
}

func TestVariablesSnapshotMergesLayers(t *testing.T) {
	v := testVars()
	v.SetScan("SN-7", "raw")
	v.Record("mac", "aa:bb")

	snap := v.Snapshot()
	if snap["serial_number"] != "SN-7" {
		t.Errorf("snapshot serial_number = %q", snap["serial_number"])
	}
	if snap["mac"] != "aa:bb" {
		t.Errorf("snapshot mac = %q", snap["mac"])
	}
	if snap["region"] != "EU" {
		t.Errorf("snapshot region = %q", snap["region"])
	}

	// Mutating the snapshot must not touch the context
	snap["region"] = "US"
	if got, _ := v.Lookup("region"); got != "EU" {
		t.Error("snapshot should be a copy")
	}
}

func TestVariablesEnvNumericPosition(t *testing.T) {
	v := testVars()
	env := v.Env()

	if row, ok := env["row"].(int); !ok || row != 2 {
		t.Errorf("env row = %v, want int 2", env["row"])
	}
	if col, ok := env["col"].(int); !ok || col != 5 {
		t.Errorf("env col = %v, want int 5", env["col"])
	}
	if name, ok := env["panel_name"].(string); !ok || name != "demo-panel" {
		t.Errorf("env panel_name = %v", env["panel_name"])
	}
}
