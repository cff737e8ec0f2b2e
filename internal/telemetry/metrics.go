package telemetry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/benchline/internal/board"
	"github.com/nerrad567/benchline/internal/sequence"
)

// MetricWriter is the metrics sink the recorder feeds.
// *influxdb.Client satisfies it; implementations are expected to
// batch internally and never block.
type MetricWriter interface {
	WritePhaseDuration(panel, phase, result string, row, col int, seconds float64)
	WriteCycleSummary(panel, result string, passed, failed int, seconds float64)
}

// phaseKey identifies one in-flight phase of one cell.
type phaseKey struct {
	row, col int
	phase    board.Phase
}

// Recorder derives phase and cycle durations from sequence events and
// feeds them to the metrics backend. It implements sequence.Notifier.
//
// A phase's clock starts at its first active state and stops at its
// terminal state. Skips never start a clock, so they produce no
// points. Phases cut short by a cancel lose their pending clock when
// the terminal cycle event arrives; the cancelled cycle summary is
// the record of the cut.
//
// Notifier calls arrive from the sequencing goroutine in transition
// order, so event arrival time is the transition time.
type Recorder struct {
	writer MetricWriter
	now    func() time.Time

	mu     sync.Mutex
	starts map[phaseKey]time.Time

	phasePoints atomic.Uint64
	cyclePoints atomic.Uint64
}

// NewRecorder returns a recorder writing to w.
func NewRecorder(w MetricWriter) *Recorder {
	return &Recorder{
		writer: w,
		now:    time.Now,
		starts: make(map[phaseKey]time.Time),
	}
}

// NotifyBoard tracks phase starts and writes a duration point on each
// terminal transition.
func (r *Recorder) NotifyBoard(event sequence.BoardEvent) {
	key := phaseKey{row: event.Row, col: event.Col, phase: event.Phase}

	switch {
	case event.State.Active():
		// A phase can step through several active states
		// (identifying, identified, programming); the first one
		// pins the start.
		r.mu.Lock()
		if _, ok := r.starts[key]; !ok {
			r.starts[key] = r.now()
		}
		r.mu.Unlock()

	case event.State.Terminal():
		r.mu.Lock()
		start, ok := r.starts[key]
		if ok {
			delete(r.starts, key)
		}
		r.mu.Unlock()
		if !ok {
			return
		}

		seconds := r.now().Sub(start).Seconds()
		r.writer.WritePhaseDuration(event.Panel, string(event.Phase), phaseResult(event.State), event.Row, event.Col, seconds)
		r.phasePoints.Add(1)
	}
}

// NotifyCycle clears in-flight phase clocks and writes the cycle
// summary on terminal events.
func (r *Recorder) NotifyCycle(event sequence.CycleEvent) {
	r.mu.Lock()
	clear(r.starts)
	r.mu.Unlock()

	if event.State == sequence.CycleStarted {
		return
	}

	r.writer.WriteCycleSummary(event.Panel, string(event.State), event.Tally.Passed, event.Tally.Failed, float64(event.ElapsedMS)/1000)
	r.cyclePoints.Add(1)
}

// phaseResult maps a terminal phase state to the result tag. A clean
// scan counts as completed so the tag stays uniform across phases.
func phaseResult(state board.PhaseState) string {
	switch state {
	case board.StateScanned, board.StateCompleted:
		return "completed"
	default:
		return string(state)
	}
}

// RecorderStats are cumulative counters since construction.
type RecorderStats struct {
	PhasePoints uint64 `json:"phase_points"`
	CyclePoints uint64 `json:"cycle_points"`
}

// Stats returns a snapshot of the recorder's counters.
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		PhasePoints: r.phasePoints.Load(),
		CyclePoints: r.cyclePoints.Load(),
	}
}
