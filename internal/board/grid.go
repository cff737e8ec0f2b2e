package board

import (
	"fmt"
	"sync"
)

// Position is one grid coordinate, 1-based.
type Position struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// CellID returns the operator-facing label for the position, e.g. "R2C5".
func (p Position) CellID() string {
	return fmt.Sprintf("R%dC%d", p.Row, p.Col)
}

// Grid holds the BoardStatus for every position of the active panel.
//
// All methods are thread-safe. Reads hand out deep copies. Mutation is
// expected from the single sequencing goroutine; the lock exists so
// observer snapshots are always consistent with it.
type Grid struct {
	mu     sync.RWMutex
	rows   int
	cols   int
	boards [][]*BoardStatus // indexed [row-1][col-1]
}

// NewGrid creates a grid with every board enabled and Pending.
func NewGrid(rows, cols int) (*Grid, error) {
	if rows < 1 || cols < 1 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, rows, cols)
	}
	g := &Grid{rows: rows, cols: cols}
	g.boards = make([][]*BoardStatus, rows)
	for r := 0; r < rows; r++ {
		g.boards[r] = make([]*BoardStatus, cols)
		for c := 0; c < cols; c++ {
			g.boards[r][c] = NewBoardStatus(r+1, c+1)
		}
	}
	return g, nil
}

// Rows returns the number of rows.
func (g *Grid) Rows() int { return g.rows }

// Cols returns the number of columns.
func (g *Grid) Cols() int { return g.cols }

// Positions returns every coordinate in column-major order, matching
// the head's physical travel: all rows of column 1, then column 2.
func (g *Grid) Positions() []Position {
	out := make([]Position, 0, g.rows*g.cols)
	for c := 1; c <= g.cols; c++ {
		for r := 1; r <= g.rows; r++ {
			out = append(out, Position{Row: r, Col: c})
		}
	}
	return out
}

// at returns the live board for a position. Callers hold the lock.
func (g *Grid) at(row, col int) (*BoardStatus, error) {
	if row < 1 || row > g.rows || col < 1 || col > g.cols {
		return nil, fmt.Errorf("%w: R%dC%d on %dx%d grid", ErrOutOfRange, row, col, g.rows, g.cols)
	}
	return g.boards[row-1][col-1], nil
}

// Board returns a deep copy of the board at the position.
func (g *Grid) Board(row, col int) (*BoardStatus, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	b, err := g.at(row, col)
	if err != nil {
		return nil, err
	}
	return b.DeepCopy(), nil
}

// Snapshot returns deep copies of every board in column-major order.
func (g *Grid) Snapshot() []*BoardStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*BoardStatus, 0, g.rows*g.cols)
	for c := 0; c < g.cols; c++ {
		for r := 0; r < g.rows; r++ {
			out = append(out, g.boards[r][c].DeepCopy())
		}
	}
	return out
}

// Advance moves one phase of one board through the state machine,
// applying its validation and downstream-skip rules.
func (g *Grid) Advance(row, col int, phase Phase, state PhaseState, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, err := g.at(row, col)
	if err != nil {
		return err
	}
	return b.Advance(phase, state, reason)
}

// SetEnabled flips the operator-owned enabled flag.
func (g *Grid) SetEnabled(row, col int, enabled bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, err := g.at(row, col)
	if err != nil {
		return err
	}
	b.Enabled = enabled
	return nil
}

// SetScanResult stores the scanned identifier and raw payload.
func (g *Grid) SetScanResult(row, col int, identifier, raw string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, err := g.at(row, col)
	if err != nil {
		return err
	}
	b.Info.Identifier = identifier
	b.Info.RawPayload = raw
	return nil
}

// SetDeviceInfo stores the identity reported by the programmer.
func (g *Grid) SetDeviceInfo(row, col int, deviceID, model, firmware string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, err := g.at(row, col)
	if err != nil {
		return err
	}
	b.Info.DeviceID = deviceID
	b.Info.Model = model
	b.Info.Firmware = firmware
	return nil
}

// RecordCaptures merges provisioning-script captures into the board.
func (g *Grid) RecordCaptures(row, col int, captures map[string]string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, err := g.at(row, col)
	if err != nil {
		return err
	}
	for name, val := range captures {
		b.Info.Captures[name] = val
	}
	return nil
}

// RecordTestCaptures merges test-script captures into the board.
func (g *Grid) RecordTestCaptures(row, col int, captures map[string]string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, err := g.at(row, col)
	if err != nil {
		return err
	}
	for name, val := range captures {
		b.Info.TestCaptures[name] = val
	}
	return nil
}

// AppendLog adds a line to one phase's board log.
func (g *Grid) AppendLog(row, col int, phase Phase, line string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, err := g.at(row, col)
	if err != nil {
		return err
	}
	b.Info.AppendLog(phase, line)
	return nil
}

// Reset returns every board to Pending for a new cycle, keeping the
// operator's enabled flags.
func (g *Grid) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for r := range g.boards {
		for c := range g.boards[r] {
			g.boards[r][c].Reset()
		}
	}
}

// ResetBoard resets a single position, for a targeted retry.
func (g *Grid) ResetBoard(row, col int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, err := g.at(row, col)
	if err != nil {
		return err
	}
	b.Reset()
	return nil
}

// Interrupt reconciles every board after a cancelled cycle: on enabled
// boards without a failure, active phases become Interrupted and
// Pending phases Skipped. Failed and disabled boards are untouched.
// Calling it again changes nothing. Returns the number of boards
// touched.
func (g *Grid) Interrupt() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	touched := 0
	for r := range g.boards {
		for c := range g.boards[r] {
			if g.boards[r][c].reconcile() {
				touched++
			}
		}
	}
	return touched
}

// Tally summarises board outcomes for cycle reporting.
type Tally struct {
	Total       int `json:"total"`
	Enabled     int `json:"enabled"`
	Disabled    int `json:"disabled"`
	Passed      int `json:"passed"`
	Failed      int `json:"failed"`
	Interrupted int `json:"interrupted"`
}

// Tally counts board outcomes across the grid.
func (g *Grid) Tally() Tally {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var t Tally
	for r := range g.boards {
		for c := range g.boards[r] {
			b := g.boards[r][c]
			t.Total++
			if !b.Enabled {
				t.Disabled++
				continue
			}
			t.Enabled++
			switch {
			case b.Failed():
				t.Failed++
			case b.Interrupted():
				t.Interrupted++
			case b.Passed():
				t.Passed++
			}
		}
	}
	return t
}
