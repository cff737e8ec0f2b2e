package telemetry

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/nerrad567/benchline/internal/board"
	"github.com/nerrad567/benchline/internal/infrastructure/mqtt"
	"github.com/nerrad567/benchline/internal/panel"
	"github.com/nerrad567/benchline/internal/sequence"
)

// fakeBroker records publishes and keeps the last retained payload
// per topic, mimicking broker retention.
type fakeBroker struct {
	mu       sync.Mutex
	messages []brokerMessage
	retained map[string][]byte
	failWith error
}

type brokerMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{retained: make(map[string][]byte)}
}

func (f *fakeBroker) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.messages = append(f.messages, brokerMessage{topic: topic, payload: payload, qos: qos, retained: retained})
	if retained {
		f.retained[topic] = payload
	}
	return nil
}

func (f *fakeBroker) PublishRetained(topic string, payload []byte) error {
	return f.Publish(topic, payload, 1, true)
}

func (f *fakeBroker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func (f *fakeBroker) message(i int) brokerMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[i]
}

func (f *fakeBroker) retainedPayload(topic string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.retained[topic]
	return p, ok
}

// fakePanels serves a fixed definition.
type fakePanels struct {
	name string
}

func (f fakePanels) Current() *panel.Definition {
	return &panel.Definition{Name: f.name}
}

func newTestPublisher(t *testing.T, rows, cols int) (*Publisher, *fakeBroker, *board.Grid) {
	t.Helper()
	grid, err := board.NewGrid(rows, cols)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	broker := newFakeBroker()
	pub, err := NewPublisher(PublisherOptions{
		Client: broker,
		Topics: mqtt.Topics{},
		Grid:   grid,
		Panels: fakePanels{name: "relay8-v3"},
		QoS:    1,
	})
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	return pub, broker, grid
}

// flush runs the drain goroutine and waits for every queued job. The
// shutdown path empties the queue before returning, so Close after
// Start processes everything enqueued beforehand.
func flush(pub *Publisher) {
	pub.Start()
	pub.Close()
}

func decodeCell(t *testing.T, payload []byte) CellStatus {
	t.Helper()
	var cell CellStatus
	if err := json.Unmarshal(payload, &cell); err != nil {
		t.Fatalf("unmarshal cell status: %v", err)
	}
	return cell
}

func TestNewPublisherValidation(t *testing.T) {
	grid, err := board.NewGrid(1, 1)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}

	cases := []struct {
		name string
		opts PublisherOptions
	}{
		{"missing client", PublisherOptions{Grid: grid, Panels: fakePanels{name: "p"}}},
		{"missing grid", PublisherOptions{Client: newFakeBroker(), Panels: fakePanels{name: "p"}}},
		{"missing panels", PublisherOptions{Client: newFakeBroker(), Grid: grid}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewPublisher(tc.opts); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestPublisherCellRefresh(t *testing.T) {
	pub, broker, grid := newTestPublisher(t, 2, 2)

	if err := grid.Advance(1, 1, board.PhaseVision, board.StateScanning, ""); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if err := grid.Advance(1, 1, board.PhaseVision, board.StateScanned, ""); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	pub.NotifyBoard(sequence.BoardEvent{
		Panel: "relay8-v3", Row: 1, Col: 1,
		Phase: board.PhaseVision, State: board.StateScanned,
	})
	flush(pub)

	payload, ok := broker.retainedPayload("benchline/status/relay8-v3/1/1")
	if !ok {
		t.Fatal("no retained payload on the cell topic")
	}

	cell := decodeCell(t, payload)
	if cell.Panel != "relay8-v3" {
		t.Errorf("panel = %q, want relay8-v3", cell.Panel)
	}
	if cell.CellID != "R1C1" {
		t.Errorf("cell_id = %q, want R1C1", cell.CellID)
	}
	if cell.Phase != board.PhaseVision {
		t.Errorf("phase = %q, want vision", cell.Phase)
	}
	if cell.State != board.StateScanned {
		t.Errorf("state = %q, want scanned", cell.State)
	}
	if cell.Display != "QR OK" {
		t.Errorf("display = %q, want QR OK", cell.Display)
	}
	if !cell.Enabled {
		t.Error("enabled = false, want true")
	}
	if cell.Passed {
		t.Error("passed = true for a board with pending phases")
	}
	if cell.States[board.PhaseProbe] != board.StatePending {
		t.Errorf("probe state = %q, want pending", cell.States[board.PhaseProbe])
	}
	if cell.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}

	if got := pub.Stats().Published; got != 1 {
		t.Errorf("published = %d, want 1", got)
	}
}

// A failed board keeps its failure in the retained payload even though
// the skip transitions for the downstream phases arrive after the
// failure event.
func TestPublisherFailedCellKeepsFailure(t *testing.T) {
	pub, broker, grid := newTestPublisher(t, 2, 2)

	mustAdvance(t, grid, 1, 1, board.PhaseVision, board.StateScanning, "")
	mustAdvance(t, grid, 1, 1, board.PhaseVision, board.StateScanned, "")
	mustAdvance(t, grid, 1, 1, board.PhaseProbe, board.StateProbing, "")
	mustAdvance(t, grid, 1, 1, board.PhaseProbe, board.StateFailed, "no contact on pad 3")

	// The orchestrator announces the failure, then the skips.
	pub.NotifyBoard(sequence.BoardEvent{Panel: "relay8-v3", Row: 1, Col: 1, Phase: board.PhaseProbe, State: board.StateFailed})
	pub.NotifyBoard(sequence.BoardEvent{Panel: "relay8-v3", Row: 1, Col: 1, Phase: board.PhaseProgram, State: board.StateSkipped})
	pub.NotifyBoard(sequence.BoardEvent{Panel: "relay8-v3", Row: 1, Col: 1, Phase: board.PhaseTest, State: board.StateSkipped})
	flush(pub)

	payload, ok := broker.retainedPayload("benchline/status/relay8-v3/1/1")
	if !ok {
		t.Fatal("no retained payload on the cell topic")
	}

	cell := decodeCell(t, payload)
	if cell.Phase != board.PhaseProbe {
		t.Errorf("phase = %q, want probe", cell.Phase)
	}
	if cell.State != board.StateFailed {
		t.Errorf("state = %q, want failed", cell.State)
	}
	if cell.Display != "Contact Failed" {
		t.Errorf("display = %q, want Contact Failed", cell.Display)
	}
	if cell.FailurePhase != board.PhaseProbe {
		t.Errorf("failure_phase = %q, want probe", cell.FailurePhase)
	}
	if cell.FailureReason != "no contact on pad 3" {
		t.Errorf("failure_reason = %q", cell.FailureReason)
	}
	if cell.States[board.PhaseProgram] != board.StateSkipped {
		t.Errorf("program state = %q, want skipped", cell.States[board.PhaseProgram])
	}
}

func TestPublisherCycleStarted(t *testing.T) {
	pub, broker, _ := newTestPublisher(t, 2, 2)

	pub.NotifyCycle(sequence.CycleEvent{
		CycleID: "cyc-1", State: sequence.CycleStarted, Panel: "relay8-v3",
	})
	flush(pub)

	// A start announces the cycle but does not refresh the grid.
	if got := broker.count(); got != 1 {
		t.Fatalf("published %d messages, want 1", got)
	}

	msg := broker.message(0)
	if msg.topic != "benchline/cycle/started" {
		t.Errorf("topic = %q, want benchline/cycle/started", msg.topic)
	}
	if msg.retained {
		t.Error("cycle event published retained")
	}
	if msg.qos != 1 {
		t.Errorf("qos = %d, want 1", msg.qos)
	}

	var status CycleStatus
	if err := json.Unmarshal(msg.payload, &status); err != nil {
		t.Fatalf("unmarshal cycle status: %v", err)
	}
	if status.CycleID != "cyc-1" {
		t.Errorf("cycle_id = %q, want cyc-1", status.CycleID)
	}
	if status.State != sequence.CycleStarted {
		t.Errorf("state = %q, want started", status.State)
	}
	if status.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestPublisherTerminalCycleRefreshesGrid(t *testing.T) {
	pub, broker, _ := newTestPublisher(t, 2, 2)

	pub.NotifyCycle(sequence.CycleEvent{
		CycleID: "cyc-1", State: sequence.CycleCompleted, Panel: "relay8-v3",
		Tally: board.Tally{Total: 4, Enabled: 4, Passed: 4}, ElapsedMS: 90000,
	})
	flush(pub)

	// One cycle message plus one retained refresh per cell.
	if got := broker.count(); got != 5 {
		t.Fatalf("published %d messages, want 5", got)
	}
	for r := 1; r <= 2; r++ {
		for c := 1; c <= 2; c++ {
			topic := fmt.Sprintf("benchline/status/relay8-v3/%d/%d", r, c)
			if _, ok := broker.retainedPayload(topic); !ok {
				t.Errorf("no retained payload on %s", topic)
			}
		}
	}
}

func TestPublisherRepublishGrid(t *testing.T) {
	pub, broker, _ := newTestPublisher(t, 3, 2)

	pub.RepublishGrid()
	flush(pub)

	if got := broker.count(); got != 6 {
		t.Fatalf("published %d messages, want 6", got)
	}
	// The panel name comes from the panel store, not an event.
	if _, ok := broker.retainedPayload("benchline/status/relay8-v3/3/2"); !ok {
		t.Error("no retained payload for R3C2")
	}
}

func TestPublisherDropsWhenSaturated(t *testing.T) {
	pub, _, _ := newTestPublisher(t, 1, 1)

	// Without the drain goroutine running, the queue fills and the
	// overflow is dropped.
	for i := 0; i < queueSize+10; i++ {
		pub.NotifyBoard(sequence.BoardEvent{Panel: "relay8-v3", Row: 1, Col: 1})
	}

	if got := pub.Stats().Dropped; got != 10 {
		t.Errorf("dropped = %d, want 10", got)
	}
}

func TestPublisherDisconnectedBrokerCounted(t *testing.T) {
	pub, broker, _ := newTestPublisher(t, 1, 1)
	broker.failWith = mqtt.ErrNotConnected

	pub.NotifyBoard(sequence.BoardEvent{Panel: "relay8-v3", Row: 1, Col: 1})
	flush(pub)

	stats := pub.Stats()
	if stats.Errors != 1 {
		t.Errorf("errors = %d, want 1", stats.Errors)
	}
	if stats.Published != 0 {
		t.Errorf("published = %d, want 0", stats.Published)
	}
}

// Events for positions outside the current grid are quietly ignored;
// they arise when a queued refresh outlives a panel change.
func TestPublisherStaleEventIgnored(t *testing.T) {
	pub, broker, _ := newTestPublisher(t, 1, 1)

	pub.NotifyBoard(sequence.BoardEvent{Panel: "old-panel", Row: 5, Col: 5})
	flush(pub)

	if got := broker.count(); got != 0 {
		t.Errorf("published %d messages, want 0", got)
	}
	if got := pub.Stats().Errors; got != 0 {
		t.Errorf("errors = %d, want 0", got)
	}
}

func TestPublisherCloseIdempotent(t *testing.T) {
	pub, _, _ := newTestPublisher(t, 1, 1)
	pub.Start()
	pub.Close()
	pub.Close()
}

func mustAdvance(t *testing.T, grid *board.Grid, row, col int, phase board.Phase, state board.PhaseState, reason string) {
	t.Helper()
	if err := grid.Advance(row, col, phase, state, reason); err != nil {
		t.Fatalf("Advance %s/%s: %v", phase, state, err)
	}
}
