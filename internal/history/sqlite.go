package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// SQLiteRepository implements Repository using SQLite.
//
// Captures and phase states are stored as JSON columns so the schema
// survives panel layout changes.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new cycle history repository.
//
// Parameters:
//   - db: Open SQLite connection used for queries
//
// Returns:
//   - *SQLiteRepository: Repository instance ready for use
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RecordCycle persists a finished cycle and its board results.
//
// The cycle row and every board row are written in one transaction, so
// a crash mid-write never leaves a cycle without its boards.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - cycle: Cycle summary to persist
//   - boards: Per-board results, stamped with the cycle id on insert
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteRepository) RecordCycle(ctx context.Context, cycle CycleRecord, boards []BoardRecord) error {
	if cycle.ID == "" {
		return fmt.Errorf("cycle id is required")
	}
	if cycle.StartedAt.IsZero() {
		return fmt.Errorf("cycle start time is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx,
		`INSERT INTO cycles (id, panel, station, started_at, finished_at, cancelled, boards_total, boards_passed, boards_failed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cycle.ID, cycle.Panel, cycle.Station,
		cycle.StartedAt.UTC().Format(time.RFC3339),
		nullableTime(cycle.FinishedAt),
		cycle.Cancelled,
		cycle.BoardsTotal, cycle.BoardsPassed, cycle.BoardsFailed,
	)
	if err != nil {
		return fmt.Errorf("inserting cycle: %w", err)
	}

	for i := range boards {
		b := &boards[i]

		var capturesJSON any
		if b.Captures.Provision != nil || b.Captures.Test != nil {
			raw, err := json.Marshal(b.Captures)
			if err != nil {
				return fmt.Errorf("marshalling captures for %s: %w", b.CellID, err)
			}
			capturesJSON = string(raw)
		}

		var phasesJSON any
		if len(b.Phases) > 0 {
			raw, err := json.Marshal(b.Phases)
			if err != nil {
				return fmt.Errorf("marshalling phase states for %s: %w", b.CellID, err)
			}
			phasesJSON = string(raw)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO cycle_boards (cycle_id, board_row, board_col, cell_id, serial_number, device_id, firmware,
			 enabled, passed, failure_phase, failure_reason, captures, phases, elapsed_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			cycle.ID, b.Row, b.Col, b.CellID,
			nullableString(b.SerialNumber), nullableString(b.DeviceID), nullableString(b.Firmware),
			b.Enabled, b.Passed,
			nullableString(b.FailurePhase), nullableString(b.FailureReason),
			capturesJSON, phasesJSON, b.ElapsedMS,
		)
		if err != nil {
			return fmt.Errorf("inserting board %s: %w", b.CellID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing cycle: %w", err)
	}

	return nil
}

// ListCycles returns recent cycles, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - limit: Maximum entries to return (default 50, max 200)
//
// Returns:
//   - []CycleRecord: Cycles ordered by started_at DESC
//   - error: nil on success, otherwise the underlying query error
func (r *SQLiteRepository) ListCycles(ctx context.Context, limit int) ([]CycleRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, panel, station, started_at, finished_at, cancelled, boards_total, boards_passed, boards_failed
		 FROM cycles
		 ORDER BY started_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying cycles: %w", err)
	}
	defer rows.Close()

	cycles := make([]CycleRecord, 0, limit)
	for rows.Next() {
		rec, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning cycle: %w", err)
		}
		cycles = append(cycles, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cycles: %w", err)
	}

	return cycles, nil
}

// GetCycle returns one cycle by id.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - id: Cycle identifier
//
// Returns:
//   - *CycleRecord: The cycle, or nil with ErrCycleNotFound
//   - error: nil on success, otherwise the underlying query error
func (r *SQLiteRepository) GetCycle(ctx context.Context, id string) (*CycleRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("cycle id is required")
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT id, panel, station, started_at, finished_at, cancelled, boards_total, boards_passed, boards_failed
		 FROM cycles
		 WHERE id = ?`,
		id,
	)

	rec, err := scanCycle(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCycleNotFound
		}
		return nil, fmt.Errorf("querying cycle: %w", err)
	}

	return rec, nil
}

// ListBoards returns the board results of one cycle, ordered as the
// head visited them.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - cycleID: Cycle identifier
//
// Returns:
//   - []BoardRecord: Board results in insert order (may be empty)
//   - error: nil on success, otherwise the underlying query error
func (r *SQLiteRepository) ListBoards(ctx context.Context, cycleID string) ([]BoardRecord, error) {
	if cycleID == "" {
		return nil, fmt.Errorf("cycle id is required")
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, cycle_id, board_row, board_col, cell_id, serial_number, device_id, firmware,
		        enabled, passed, failure_phase, failure_reason, captures, phases, elapsed_ms
		 FROM cycle_boards
		 WHERE cycle_id = ?
		 ORDER BY id`,
		cycleID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying cycle boards: %w", err)
	}
	defer rows.Close()

	boards := []BoardRecord{}
	for rows.Next() {
		var b BoardRecord
		var serial, deviceID, firmware sql.NullString
		var failurePhase, failureReason sql.NullString
		var capturesJSON, phasesJSON sql.NullString

		if err := rows.Scan(&b.ID, &b.CycleID, &b.Row, &b.Col, &b.CellID,
			&serial, &deviceID, &firmware, &b.Enabled, &b.Passed,
			&failurePhase, &failureReason, &capturesJSON, &phasesJSON, &b.ElapsedMS); err != nil {
			return nil, fmt.Errorf("scanning cycle board: %w", err)
		}

		if serial.Valid {
			b.SerialNumber = serial.String
		}
		if deviceID.Valid {
			b.DeviceID = deviceID.String
		}
		if firmware.Valid {
			b.Firmware = firmware.String
		}
		if failurePhase.Valid {
			b.FailurePhase = failurePhase.String
		}
		if failureReason.Valid {
			b.FailureReason = failureReason.String
		}

		if capturesJSON.Valid && capturesJSON.String != "" {
			if err := json.Unmarshal([]byte(capturesJSON.String), &b.Captures); err != nil {
				return nil, fmt.Errorf("unmarshalling captures: %w", err)
			}
		}
		if phasesJSON.Valid && phasesJSON.String != "" {
			if err := json.Unmarshal([]byte(phasesJSON.String), &b.Phases); err != nil {
				return nil, fmt.Errorf("unmarshalling phase states: %w", err)
			}
		}

		boards = append(boards, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cycle boards: %w", err)
	}

	return boards, nil
}

// PruneCycles deletes cycles that started before now minus the given
// duration. Board rows go with them through the foreign key cascade.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - olderThan: Duration to retain (older cycles are deleted)
//
// Returns:
//   - int64: Number of cycle rows deleted
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteRepository) PruneCycles(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM cycles WHERE started_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting cycles: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanCycle scans a single cycles row.
func scanCycle(scanner rowScanner) (*CycleRecord, error) {
	var rec CycleRecord
	var startedAt string
	var finishedAt sql.NullString

	if err := scanner.Scan(&rec.ID, &rec.Panel, &rec.Station, &startedAt, &finishedAt,
		&rec.Cancelled, &rec.BoardsTotal, &rec.BoardsPassed, &rec.BoardsFailed); err != nil {
		return nil, err
	}

	started, err := parseTimestamp(startedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	rec.StartedAt = started

	if finishedAt.Valid && finishedAt.String != "" {
		finished, err := parseTimestamp(finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing finished_at: %w", err)
		}
		rec.FinishedAt = finished
	}

	return &rec, nil
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullableTime returns nil for zero times, or the RFC3339 string.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// parseTimestamp parses a timestamp stored in SQLite. The fallback
// layout covers rows written through SQLite's CURRENT_TIMESTAMP.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("timestamp is empty")
	}

	timestamp, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return timestamp, nil
	}

	fallback, fallbackErr := time.Parse("2006-01-02 15:04:05", value)
	if fallbackErr == nil {
		return fallback.UTC(), nil
	}

	return time.Time{}, fmt.Errorf("parsing timestamp: %w", err)
}
