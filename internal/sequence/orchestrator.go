package sequence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/benchline/internal/board"
	"github.com/nerrad567/benchline/internal/history"
	"github.com/nerrad567/benchline/internal/panel"
	"github.com/nerrad567/benchline/internal/provision"
)

// Logger interface for dependency injection.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Motion drives the gantry. Z is absolute: 0 is the raised home
// position, negative is down towards the bench.
type Motion interface {
	// MoveTo positions the head over a board at travel height.
	MoveTo(ctx context.Context, point panel.Point) error

	// Probe measures how far below home the touch probe triggers, in
	// millimetres, and returns with the head raised again.
	Probe(ctx context.Context) (float64, error)

	// MoveZ moves the head to an absolute Z height.
	MoveZ(ctx context.Context, z float64) error

	// Park raises the head and returns the gantry to its rest position.
	Park(ctx context.Context) error
}

// Vision captures and decodes one board's identifier label. The head
// has already been positioned; the point is supplied for
// implementations that correct for optics offsets. A decode miss
// returns empty strings and no error.
type Vision interface {
	Scan(ctx context.Context, point panel.Point) (identifier, raw string, err error)
}

// Head switches the bed-of-nails head and reports pin contact.
// *head.Controller satisfies it.
type Head interface {
	ContactPresent(ctx context.Context) (bool, error)
	SetPower(ctx context.Context, on bool) error
	SetLogic(ctx context.Context, on bool) error
	AllOff(ctx context.Context) error
}

// DeviceInfo is the identity the flashing tool read back from a board.
type DeviceInfo struct {
	DeviceID string
	Model    string
	Firmware string
}

// Programmer flashes firmware onto the board under the head.
type Programmer interface {
	// Identify reads the connected device's identity.
	Identify(ctx context.Context) (DeviceInfo, error)

	// Program flashes the configured image set, reporting step
	// descriptions through progress as the tool works through them.
	Program(ctx context.Context, progress func(step string)) error
}

// ScriptRunner executes a provisioning or test script against the
// target serial line. *provision.Engine satisfies it.
type ScriptRunner interface {
	Execute(ctx context.Context, script *provision.Script, vars *provision.Variables) (*provision.Result, error)
}

// PanelSource yields the active panel definition. *panel.Store
// satisfies it.
type PanelSource interface {
	Current() *panel.Definition
}

// HistoryRecorder persists finished cycles.
// *history.SQLiteRepository satisfies it.
type HistoryRecorder interface {
	RecordCycle(ctx context.Context, cycle history.CycleRecord, boards []history.BoardRecord) error
}

// PhaseToggles selects which pipeline phases run. A disabled phase is
// left Pending and the pipeline continues past it.
type PhaseToggles struct {
	Vision    bool
	Probe     bool
	Program   bool
	Provision bool
	Test      bool
}

// Config holds orchestrator settings.
type Config struct {
	// Station names this bench in events and history records.
	Station string

	// Phases selects the pipeline phases to run.
	Phases PhaseToggles

	// ScanTimeout bounds one camera scan. Zero means no per-scan
	// deadline.
	ScanTimeout time.Duration

	// Workers sizes the pool for blocking collaborator calls. Zero
	// selects the default of two.
	Workers int
}

const (
	defaultWorkers = 2

	// parkTimeout bounds the post-cycle park moves, which run on their
	// own context so a cancelled cycle can still park.
	parkTimeout = 30 * time.Second

	// releaseTimeout bounds the head power-down between boards.
	releaseTimeout = 10 * time.Second

	// historyWriteTimeout bounds the end-of-cycle database write.
	historyWriteTimeout = 5 * time.Second
)

// Options wires an Orchestrator's collaborators.
type Options struct {
	Config Config

	Grid       *board.Grid
	Panels     PanelSource
	Motion     Motion
	Vision     Vision
	Head       Head
	Programmer Programmer
	Runner     ScriptRunner

	// History is optional; nil disables cycle persistence.
	History HistoryRecorder

	// Logger is optional.
	Logger Logger
}

// Orchestrator runs panel cycles: scan every board, then probe, flash,
// provision and test each one in turn. One cycle runs at a time; the
// station has a single head.
//
// All grid mutation happens on the cycle goroutine. Collaborator calls
// that genuinely block (camera captures, flashing-tool subprocesses)
// run on a small worker pool, but the orchestrator always waits for
// them, so state transitions keep their order.
type Orchestrator struct {
	cfg        Config
	grid       *board.Grid
	panels     PanelSource
	motion     Motion
	vision     Vision
	head       Head
	programmer Programmer
	runner     ScriptRunner
	history    HistoryRecorder
	logger     Logger

	pool *workerPool

	// base outlives any caller context: a cycle keeps running after
	// the HTTP request that started it is gone. Close cancels it.
	base       context.Context
	baseCancel context.CancelFunc

	notifierMu sync.RWMutex
	notifiers  []Notifier

	// mu guards single-cycle ownership.
	mu          sync.Mutex
	cycleActive bool
	cycleID     string
	cancelRun   context.CancelFunc

	wg        sync.WaitGroup
	closeOnce sync.Once

	cyclesStarted   atomic.Uint64
	cyclesCompleted atomic.Uint64
	cyclesCancelled atomic.Uint64
	boardsPassed    atomic.Uint64
	boardsFailed    atomic.Uint64
}

// New creates an orchestrator. All collaborators except History and
// Logger are required.
func New(opts Options) (*Orchestrator, error) {
	if opts.Grid == nil {
		return nil, fmt.Errorf("grid is required")
	}
	if opts.Panels == nil {
		return nil, fmt.Errorf("panel source is required")
	}
	if opts.Motion == nil {
		return nil, fmt.Errorf("motion is required")
	}
	if opts.Vision == nil {
		return nil, fmt.Errorf("vision is required")
	}
	if opts.Head == nil {
		return nil, fmt.Errorf("head is required")
	}
	if opts.Programmer == nil {
		return nil, fmt.Errorf("programmer is required")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("script runner is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	workers := opts.Config.Workers
	if workers < 1 {
		workers = defaultWorkers
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:        opts.Config,
		grid:       opts.Grid,
		panels:     opts.Panels,
		motion:     opts.Motion,
		vision:     opts.Vision,
		head:       opts.Head,
		programmer: opts.Programmer,
		runner:     opts.Runner,
		history:    opts.History,
		logger:     logger,
		pool:       newWorkerPool(workers),
		base:       ctx,
		baseCancel: cancel,
	}, nil
}

// AddNotifier registers an event sink. Register sinks before the first
// cycle starts.
func (o *Orchestrator) AddNotifier(n Notifier) {
	if n == nil {
		return
	}
	o.notifierMu.Lock()
	o.notifiers = append(o.notifiers, n)
	o.notifierMu.Unlock()
}

// Active reports whether a cycle or retry is currently running.
func (o *Orchestrator) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cycleActive
}

// CurrentCycleID returns the running cycle's id, or "" when idle.
func (o *Orchestrator) CurrentCycleID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cycleID
}

// Stats are cumulative counters since construction.
type Stats struct {
	CyclesStarted   uint64 `json:"cycles_started"`
	CyclesCompleted uint64 `json:"cycles_completed"`
	CyclesCancelled uint64 `json:"cycles_cancelled"`
	BoardsPassed    uint64 `json:"boards_passed"`
	BoardsFailed    uint64 `json:"boards_failed"`
}

// Stats returns a snapshot of the orchestrator's counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		CyclesStarted:   o.cyclesStarted.Load(),
		CyclesCompleted: o.cyclesCompleted.Load(),
		CyclesCancelled: o.cyclesCancelled.Load(),
		BoardsPassed:    o.boardsPassed.Load(),
		BoardsFailed:    o.boardsFailed.Load(),
	}
}

// cycleRun carries one run's identity and panel through the phases.
type cycleRun struct {
	id  string
	def *panel.Definition
}

// beginRun claims cycle ownership and derives the run context. Callers
// must hand the context to runCycle, which releases ownership when it
// returns.
func (o *Orchestrator) beginRun(def *panel.Definition) (context.Context, cycleRun, error) {
	if def == nil {
		return nil, cycleRun{}, fmt.Errorf("no panel definition loaded")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cycleActive {
		return nil, cycleRun{}, ErrCycleInProgress
	}
	ctx, cancel := context.WithCancel(o.base)
	run := cycleRun{id: uuid.New().String(), def: def}
	o.cycleActive = true
	o.cycleID = run.id
	o.cancelRun = cancel
	o.wg.Add(1)
	return ctx, run, nil
}

// endRun releases cycle ownership.
func (o *Orchestrator) endRun() {
	o.mu.Lock()
	if o.cancelRun != nil {
		o.cancelRun()
	}
	o.cycleActive = false
	o.cycleID = ""
	o.cancelRun = nil
	o.mu.Unlock()
}

// StartCycle launches a full panel cycle and returns its id. The cycle
// runs on its own goroutine; progress flows through the notifiers.
// Returns ErrCycleInProgress while another run is active.
func (o *Orchestrator) StartCycle() (string, error) {
	ctx, run, err := o.beginRun(o.panels.Current())
	if err != nil {
		return "", err
	}
	go o.runCycle(ctx, run, o.grid.Positions(), false)
	return run.id, nil
}

// RetryBoard re-runs the full pipeline for a single board. The board
// is reset first; the rest of the grid keeps its results. Subject to
// the same single-run guard as StartCycle.
func (o *Orchestrator) RetryBoard(row, col int) (string, error) {
	b, err := o.grid.Board(row, col)
	if err != nil {
		return "", err
	}
	if !b.Enabled {
		return "", ErrBoardDisabled
	}
	ctx, run, err := o.beginRun(o.panels.Current())
	if err != nil {
		return "", err
	}
	go o.runCycle(ctx, run, []board.Position{{Row: row, Col: col}}, true)
	return run.id, nil
}

// CancelCycle requests cooperative cancellation of the running cycle.
// The cycle winds down at its next suspension point, reconciles the
// grid, emits a final cancelled event and parks the rig.
func (o *Orchestrator) CancelCycle() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.cycleActive || o.cancelRun == nil {
		return ErrNoCycleActive
	}
	o.cancelRun()
	return nil
}

// Close cancels any running cycle, waits for it to wind down, and
// stops the worker pool. The orchestrator cannot be reused afterwards.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.baseCancel()
		o.wg.Wait()
		o.pool.close()
	})
}

// runCycle is the cycle goroutine: scan batch, per-board pipeline,
// reconciliation, park, persistence. Exactly one instance runs at a
// time.
func (o *Orchestrator) runCycle(ctx context.Context, run cycleRun, positions []board.Position, retry bool) {
	defer o.wg.Done()
	defer o.endRun()

	start := time.Now().UTC()
	o.cyclesStarted.Add(1)

	if retry {
		pos := positions[0]
		if err := o.grid.ResetBoard(pos.Row, pos.Col); err != nil {
			o.logger.Error("board reset failed", "cell", pos.CellID(), "error", err)
			return
		}
	} else {
		o.grid.Reset()
	}

	o.logger.Info("cycle started",
		"cycle_id", run.id,
		"panel", run.def.Name,
		"boards", len(positions),
		"retry", retry)
	o.emitCycle(run, CycleStarted, o.tallyPositions(positions), start)

	o.scanBatch(ctx, run, positions)
	for _, pos := range positions {
		if ctx.Err() != nil {
			break
		}
		o.runBoard(ctx, run, pos)
	}

	cancelled := ctx.Err() != nil
	if cancelled {
		touched := o.grid.Interrupt()
		o.cyclesCancelled.Add(1)
		o.logger.Info("cycle cancelled",
			"cycle_id", run.id, "boards_reconciled", touched)
	} else {
		o.cyclesCompleted.Add(1)
	}

	tally := o.tallyPositions(positions)
	o.boardsPassed.Add(uint64(tally.Passed))
	o.boardsFailed.Add(uint64(tally.Failed))

	state := CycleCompleted
	if cancelled {
		state = CycleCancelled
	}
	o.emitCycle(run, state, tally, start)
	o.logger.Info("cycle finished",
		"cycle_id", run.id,
		"state", string(state),
		"passed", tally.Passed,
		"failed", tally.Failed,
		"elapsed", time.Since(start).Round(time.Millisecond).String())

	o.parkRig()
	o.recordHistory(run, positions, tally, start, cancelled)
}

// scanBatch runs the vision phase over every enabled board before any
// head comes down. A failed scan marks its own board and never stops
// the batch.
func (o *Orchestrator) scanBatch(ctx context.Context, run cycleRun, positions []board.Position) {
	if !o.cfg.Phases.Vision {
		return
	}
	for _, pos := range positions {
		if ctx.Err() != nil {
			return
		}
		b, err := o.grid.Board(pos.Row, pos.Col)
		if err != nil || !b.Enabled {
			continue
		}
		o.scanBoard(ctx, run, pos)
	}
}

func (o *Orchestrator) scanBoard(ctx context.Context, run cycleRun, pos board.Position) {
	point := run.def.PositionOf(pos.Row, pos.Col)
	o.advance(run, pos, board.PhaseVision, board.StateScanning, "")

	if err := o.motion.MoveTo(ctx, point); err != nil {
		o.phaseError(ctx, run, pos, board.PhaseVision, fmt.Errorf("positioning camera: %w", err))
		return
	}

	scanCtx := ctx
	if o.cfg.ScanTimeout > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, o.cfg.ScanTimeout)
		defer cancel()
	}

	var identifier, raw string
	err := o.pool.run(scanCtx, func() error {
		var scanErr error
		identifier, raw, scanErr = o.vision.Scan(scanCtx, point)
		return scanErr
	})
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			o.fail(run, pos, board.PhaseVision, "scan timed out")
			return
		}
		o.phaseError(ctx, run, pos, board.PhaseVision, err)
		return
	}
	if identifier == "" {
		o.fail(run, pos, board.PhaseVision, "no identifier decoded")
		return
	}

	if err := o.grid.SetScanResult(pos.Row, pos.Col, identifier, raw); err != nil {
		o.logger.Error("recording scan result", "cell", pos.CellID(), "error", err)
	}
	o.advance(run, pos, board.PhaseVision, board.StateScanned, "")
	o.logger.Debug("board scanned", "cell", pos.CellID(), "identifier", identifier)
}

// runBoard takes one board through probe, program, provision and test.
// A phase failure skips the rest of this board and never touches its
// neighbours.
func (o *Orchestrator) runBoard(ctx context.Context, run cycleRun, pos board.Position) {
	b, err := o.grid.Board(pos.Row, pos.Col)
	if err != nil || !b.Enabled {
		return
	}
	// A board that failed its scan is already settled.
	if o.cfg.Phases.Vision && b.State(board.PhaseVision) != board.StateScanned {
		return
	}

	point := run.def.PositionOf(pos.Row, pos.Col)

	if o.cfg.Phases.Probe {
		defer o.releaseBoard(pos)
		if !o.probeBoard(ctx, run, pos, point) {
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	if o.cfg.Phases.Program {
		if !o.programBoard(ctx, run, pos) {
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	if o.cfg.Phases.Provision {
		if !o.provisionBoard(ctx, run, pos) {
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	if o.cfg.Phases.Test && run.def.Test != nil {
		o.testBoard(ctx, run, pos)
	}
}

// probeBoard lands the head on the board and powers it. The sequence
// mirrors the bench geometry: probe the surface height, hover just
// above the contact plane where the pins must still be clear, then
// descend the panel's probe-plane offset and demand contact.
func (o *Orchestrator) probeBoard(ctx context.Context, run cycleRun, pos board.Position, point panel.Point) bool {
	o.advance(run, pos, board.PhaseProbe, board.StateProbing, "")

	if err := o.motion.MoveTo(ctx, point); err != nil {
		return o.phaseError(ctx, run, pos, board.PhaseProbe, fmt.Errorf("positioning head: %w", err))
	}
	height, err := o.motion.Probe(ctx)
	if err != nil {
		return o.phaseError(ctx, run, pos, board.PhaseProbe, fmt.Errorf("probing surface: %w", err))
	}

	if err := o.motion.MoveZ(ctx, -height); err != nil {
		return o.phaseError(ctx, run, pos, board.PhaseProbe, fmt.Errorf("lowering head: %w", err))
	}
	contact, err := o.head.ContactPresent(ctx)
	if err != nil {
		return o.phaseError(ctx, run, pos, board.PhaseProbe, fmt.Errorf("reading contact: %w", err))
	}
	if contact {
		o.fail(run, pos, board.PhaseProbe, "unexpected contact above board")
		return false
	}

	depth := height + point.Z
	if err := o.motion.MoveZ(ctx, -depth); err != nil {
		return o.phaseError(ctx, run, pos, board.PhaseProbe, fmt.Errorf("seating pins: %w", err))
	}
	contact, err = o.head.ContactPresent(ctx)
	if err != nil {
		return o.phaseError(ctx, run, pos, board.PhaseProbe, fmt.Errorf("reading contact: %w", err))
	}
	if !contact {
		o.fail(run, pos, board.PhaseProbe, fmt.Sprintf("no contact at %.1fmm", depth))
		return false
	}

	if err := o.head.SetPower(ctx, true); err != nil {
		return o.phaseError(ctx, run, pos, board.PhaseProbe, fmt.Errorf("powering board: %w", err))
	}
	if err := o.head.SetLogic(ctx, true); err != nil {
		return o.phaseError(ctx, run, pos, board.PhaseProbe, fmt.Errorf("enabling logic rail: %w", err))
	}

	o.advance(run, pos, board.PhaseProbe, board.StateCompleted, "")
	return true
}

func (o *Orchestrator) programBoard(ctx context.Context, run cycleRun, pos board.Position) bool {
	o.advance(run, pos, board.PhaseProgram, board.StateIdentifying, "")

	var info DeviceInfo
	err := o.pool.run(ctx, func() error {
		var identErr error
		info, identErr = o.programmer.Identify(ctx)
		return identErr
	})
	if err != nil {
		return o.phaseError(ctx, run, pos, board.PhaseProgram, err)
	}
	if err := o.grid.SetDeviceInfo(pos.Row, pos.Col, info.DeviceID, info.Model, info.Firmware); err != nil {
		o.logger.Error("recording device info", "cell", pos.CellID(), "error", err)
	}
	o.advance(run, pos, board.PhaseProgram, board.StateIdentified, "")

	o.advance(run, pos, board.PhaseProgram, board.StateProgramming, "")
	var steps []string
	err = o.pool.run(ctx, func() error {
		return o.programmer.Program(ctx, func(step string) {
			steps = append(steps, step)
		})
	})
	for _, line := range steps {
		if logErr := o.grid.AppendLog(pos.Row, pos.Col, board.PhaseProgram, line); logErr != nil {
			o.logger.Error("recording program log", "cell", pos.CellID(), "error", logErr)
			break
		}
	}
	if err != nil {
		return o.phaseError(ctx, run, pos, board.PhaseProgram, err)
	}

	o.advance(run, pos, board.PhaseProgram, board.StateCompleted, "")
	return true
}

func (o *Orchestrator) provisionBoard(ctx context.Context, run cycleRun, pos board.Position) bool {
	o.advance(run, pos, board.PhaseProvision, board.StateProvisioning, "")

	res, err := o.runner.Execute(ctx, run.def.Provision, o.boardVariables(run, pos))
	if err != nil {
		return o.phaseError(ctx, run, pos, board.PhaseProvision, err)
	}

	if len(res.Captures) > 0 {
		if err := o.grid.RecordCaptures(pos.Row, pos.Col, res.Captures); err != nil {
			o.logger.Error("recording captures", "cell", pos.CellID(), "error", err)
		}
	}
	if !res.Success {
		o.fail(run, pos, board.PhaseProvision, scriptFailure(res))
		return false
	}

	o.advanceCompleted(run, pos, board.PhaseProvision, res.Captures)
	return true
}

func (o *Orchestrator) testBoard(ctx context.Context, run cycleRun, pos board.Position) {
	o.advance(run, pos, board.PhaseTest, board.StateTesting, "")

	res, err := o.runner.Execute(ctx, run.def.Test, o.boardVariables(run, pos))
	if err != nil {
		o.phaseError(ctx, run, pos, board.PhaseTest, err)
		return
	}

	if len(res.Captures) > 0 {
		if err := o.grid.RecordTestCaptures(pos.Row, pos.Col, res.Captures); err != nil {
			o.logger.Error("recording test captures", "cell", pos.CellID(), "error", err)
		}
	}
	if !res.Success {
		o.fail(run, pos, board.PhaseTest, scriptFailure(res))
		return
	}

	o.advanceCompleted(run, pos, board.PhaseTest, res.Captures)
}

// scriptFailure extracts the operator-facing reason from a failed
// script result.
func scriptFailure(res *provision.Result) string {
	if res.Err != nil {
		return res.Err.Error()
	}
	return "script failed"
}

// boardVariables builds the script variable set for one board: system
// values, panel-wide customs, and the scanned identity when the board
// has one.
func (o *Orchestrator) boardVariables(run cycleRun, pos board.Position) *provision.Variables {
	vars := provision.NewVariables(provision.SystemVars{
		Row:       pos.Row,
		Col:       pos.Col,
		PanelName: run.def.Name,
	}, run.def.CustomVariables)
	if b, err := o.grid.Board(pos.Row, pos.Col); err == nil && b.Info != nil {
		if b.Info.Identifier != "" || b.Info.RawPayload != "" {
			vars.SetScan(b.Info.Identifier, b.Info.RawPayload)
		}
	}
	return vars
}

// releaseBoard powers the head down and raises it clear after one
// board, before the gantry travels to the next position. Runs on its
// own deadline so a cancelled cycle still releases.
func (o *Orchestrator) releaseBoard(pos board.Position) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := o.head.AllOff(ctx); err != nil {
		o.logger.Warn("head power-down failed", "cell", pos.CellID(), "error", err)
	}
	if err := o.motion.MoveZ(ctx, 0); err != nil {
		o.logger.Warn("head raise failed", "cell", pos.CellID(), "error", err)
	}
}

// parkRig returns the station to a safe idle state: head dark, raised,
// gantry at rest. Every step is best effort.
func (o *Orchestrator) parkRig() {
	ctx, cancel := context.WithTimeout(context.Background(), parkTimeout)
	defer cancel()
	if err := o.head.AllOff(ctx); err != nil {
		o.logger.Warn("head all-off failed during park", "error", err)
	}
	if err := o.motion.MoveZ(ctx, 0); err != nil {
		o.logger.Warn("head raise failed during park", "error", err)
	}
	if err := o.motion.Park(ctx); err != nil {
		o.logger.Warn("gantry park failed", "error", err)
	}
}

// phaseError resolves a collaborator error against the cancellation
// contract: a cancelled run leaves the phase active for the
// reconciliation pass, anything else fails the board. Always returns
// false.
func (o *Orchestrator) phaseError(ctx context.Context, run cycleRun, pos board.Position, phase board.Phase, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if class := failureClass(phase); class != nil {
		err = fmt.Errorf("%w: %v", class, err)
	}
	o.fail(run, pos, phase, err.Error())
	return false
}

// failureClass names the failure category for hardware-facing phases.
// Script phases return nil: the provision engine already classifies its
// own errors.
func failureClass(phase board.Phase) error {
	switch phase {
	case board.PhaseVision:
		return ErrScanFailed
	case board.PhaseProbe:
		return ErrContactFailed
	case board.PhaseProgram:
		return ErrProgramFailed
	}
	return nil
}

// advance applies one transition and announces it. A rejected
// transition is a sequencing bug; it is logged and not announced.
func (o *Orchestrator) advance(run cycleRun, pos board.Position, phase board.Phase, state board.PhaseState, reason string) {
	if err := o.grid.Advance(pos.Row, pos.Col, phase, state, reason); err != nil {
		o.logger.Error("phase transition rejected",
			"cell", pos.CellID(),
			"phase", string(phase),
			"state", string(state),
			"error", err)
		return
	}
	o.emitBoard(run, pos, phase, state, reason, nil)
}

// advanceCompleted finishes a script phase, attaching its captures to
// the completion event.
func (o *Orchestrator) advanceCompleted(run cycleRun, pos board.Position, phase board.Phase, captures map[string]string) {
	if err := o.grid.Advance(pos.Row, pos.Col, phase, board.StateCompleted, ""); err != nil {
		o.logger.Error("phase transition rejected",
			"cell", pos.CellID(),
			"phase", string(phase),
			"state", string(board.StateCompleted),
			"error", err)
		return
	}
	o.emitBoard(run, pos, phase, board.StateCompleted, "", captures)
}

// fail marks a phase failed and announces it together with the
// downstream phases the failure skipped.
func (o *Orchestrator) fail(run cycleRun, pos board.Position, phase board.Phase, reason string) {
	o.logger.Warn("board phase failed",
		"cell", pos.CellID(), "phase", string(phase), "reason", reason)
	o.advance(run, pos, phase, board.StateFailed, reason)

	b, err := o.grid.Board(pos.Row, pos.Col)
	if err != nil {
		return
	}
	past := false
	for _, ph := range board.Phases() {
		if ph == phase {
			past = true
			continue
		}
		if past && b.State(ph) == board.StateSkipped {
			o.emitBoard(run, pos, ph, board.StateSkipped, "", nil)
		}
	}
}

// tallyPositions computes the outcome tally over one run's boards: the
// whole panel for a batch cycle, a single board for a retry.
func (o *Orchestrator) tallyPositions(positions []board.Position) board.Tally {
	var t board.Tally
	for _, pos := range positions {
		b, err := o.grid.Board(pos.Row, pos.Col)
		if err != nil {
			continue
		}
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
	return t
}

// emitBoard fans a board event out to the notifiers. Events are
// suppressed once the run is no longer active.
func (o *Orchestrator) emitBoard(run cycleRun, pos board.Position, phase board.Phase, state board.PhaseState, reason string, captures map[string]string) {
	if !o.Active() {
		return
	}
	ev := BoardEvent{
		CycleID:  run.id,
		Panel:    run.def.Name,
		Row:      pos.Row,
		Col:      pos.Col,
		CellID:   pos.CellID(),
		Phase:    phase,
		State:    state,
		Display:  board.DisplayText(phase, state),
		Reason:   reason,
		Captures: captures,
	}
	o.notifierMu.RLock()
	defer o.notifierMu.RUnlock()
	for _, n := range o.notifiers {
		n.NotifyBoard(ev)
	}
}

func (o *Orchestrator) emitCycle(run cycleRun, state CycleState, tally board.Tally, start time.Time) {
	if !o.Active() {
		return
	}
	ev := CycleEvent{
		CycleID:   run.id,
		State:     state,
		Panel:     run.def.Name,
		Tally:     tally,
		ElapsedMS: time.Since(start).Milliseconds(),
	}
	o.notifierMu.RLock()
	defer o.notifierMu.RUnlock()
	for _, n := range o.notifiers {
		n.NotifyCycle(ev)
	}
}

// recordHistory persists the finished run. The write runs on its own
// context; the cycle context may already be cancelled.
func (o *Orchestrator) recordHistory(run cycleRun, positions []board.Position, tally board.Tally, started time.Time, cancelled bool) {
	if o.history == nil {
		return
	}

	rec := history.CycleRecord{
		ID:           run.id,
		Panel:        run.def.Name,
		Station:      o.cfg.Station,
		StartedAt:    started,
		FinishedAt:   time.Now().UTC(),
		Cancelled:    cancelled,
		BoardsTotal:  tally.Enabled,
		BoardsPassed: tally.Passed,
		BoardsFailed: tally.Failed,
	}
	boards := make([]history.BoardRecord, 0, len(positions))
	for _, pos := range positions {
		b, err := o.grid.Board(pos.Row, pos.Col)
		if err != nil {
			continue
		}
		boards = append(boards, history.BoardRecordFrom(b))
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()
	if err := o.history.RecordCycle(ctx, rec, boards); err != nil {
		o.logger.Error("cycle history write failed", "cycle_id", run.id, "error", err)
	}
}
