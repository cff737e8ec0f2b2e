package telemetry

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/benchline/internal/board"
	"github.com/nerrad567/benchline/internal/infrastructure/mqtt"
	"github.com/nerrad567/benchline/internal/panel"
	"github.com/nerrad567/benchline/internal/sequence"
)

// queueSize buffers pending publish jobs. Jobs beyond this are dropped
// best-effort; the full-grid refresh at cycle end heals any gaps.
const queueSize = 256

// Logger is the logging surface the telemetry observers use.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// PublishClient is the broker surface the publisher needs.
// *mqtt.Client satisfies it.
type PublishClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishRetained(topic string, payload []byte) error
}

// GridSource yields board snapshots. *board.Grid satisfies it.
type GridSource interface {
	Board(row, col int) (*board.BoardStatus, error)
	Positions() []board.Position
}

// PanelSource yields the active panel definition. *panel.Store
// satisfies it.
type PanelSource interface {
	Current() *panel.Definition
}

// CellStatus is the payload retained on each board status topic. It is
// a full summary rather than a delta so a subscriber that attaches mid
// cycle can render the cell from the retained message alone.
//
// Phase, State and Display describe the cell's foreground phase: the
// failed phase for a failed board, otherwise the furthest phase that
// has left Pending.
type CellStatus struct {
	Panel         string                           `json:"panel"`
	Row           int                              `json:"row"`
	Col           int                              `json:"col"`
	CellID        string                           `json:"cell_id"`
	Enabled       bool                             `json:"enabled"`
	Phase         board.Phase                      `json:"phase"`
	State         board.PhaseState                 `json:"state"`
	Display       string                           `json:"display"`
	States        map[board.Phase]board.PhaseState `json:"states"`
	FailurePhase  board.Phase                      `json:"failure_phase,omitempty"`
	FailureReason string                           `json:"failure_reason,omitempty"`
	Passed        bool                             `json:"passed"`
	Timestamp     time.Time                        `json:"timestamp"`
}

// CycleStatus is the payload published on the cycle event topics.
type CycleStatus struct {
	sequence.CycleEvent
	Timestamp time.Time `json:"timestamp"`
}

// job is one unit of publish work: a cell refresh, a cycle
// announcement, or a full grid refresh.
type job struct {
	panel string
	pos   board.Position
	cycle *sequence.CycleEvent
	all   bool
}

// PublisherOptions wires a Publisher's collaborators.
type PublisherOptions struct {
	Client PublishClient
	Topics mqtt.Topics
	Grid   GridSource
	Panels PanelSource

	// QoS applies to cycle event publishes. Retained cell status goes
	// through PublishRetained, which carries the client's configured
	// QoS.
	QoS byte

	// Logger is optional.
	Logger Logger
}

// Publisher mirrors grid state onto retained MQTT topics and announces
// cycle transitions. It implements sequence.Notifier.
//
// Rather than forwarding events verbatim, the publisher re-reads the
// affected cell and publishes a fresh summary. A failure followed by
// downstream skip events therefore keeps the failure in the retained
// payload instead of whichever transition happened to arrive last.
//
// Thread Safety: all methods are safe for concurrent use. Notify calls
// enqueue and return; a single drain goroutine does the publishing.
type Publisher struct {
	client PublishClient
	topics mqtt.Topics
	grid   GridSource
	panels PanelSource
	qos    byte
	logger Logger

	jobs     chan job
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	published atomic.Uint64
	dropped   atomic.Uint64
	errored   atomic.Uint64
}

// NewPublisher validates opts and returns a stopped publisher. Call
// Start to launch the drain goroutine.
func NewPublisher(opts PublisherOptions) (*Publisher, error) {
	if opts.Client == nil {
		return nil, errors.New("telemetry: publish client is required")
	}
	if opts.Grid == nil {
		return nil, errors.New("telemetry: grid source is required")
	}
	if opts.Panels == nil {
		return nil, errors.New("telemetry: panel source is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Publisher{
		client: opts.Client,
		topics: opts.Topics,
		grid:   opts.Grid,
		panels: opts.Panels,
		qos:    opts.QoS,
		logger: logger,
		jobs:   make(chan job, queueSize),
		done:   make(chan struct{}),
	}, nil
}

// Start launches the drain goroutine.
func (p *Publisher) Start() {
	p.wg.Add(1)
	go p.drain()
}

// Close stops the drain goroutine after flushing queued jobs. The
// publisher must not be reused afterwards.
func (p *Publisher) Close() {
	p.stopOnce.Do(func() { close(p.done) })
	p.wg.Wait()
}

// NotifyBoard queues a refresh of the affected cell's retained status.
func (p *Publisher) NotifyBoard(event sequence.BoardEvent) {
	p.enqueue(job{panel: event.Panel, pos: board.Position{Row: event.Row, Col: event.Col}})
}

// NotifyCycle queues the cycle announcement. A terminal event also
// refreshes the whole grid: bulk transitions such as the interruption
// pass after a cancel are not announced per board.
func (p *Publisher) NotifyCycle(event sequence.CycleEvent) {
	p.enqueue(job{cycle: &event})
}

// RepublishGrid queues a refresh of every cell for the active panel.
// Wire it to the MQTT client's connect callback so dashboards see
// current state on the initial connect and after every broker
// reconnect.
func (p *Publisher) RepublishGrid() {
	p.enqueue(job{all: true})
}

func (p *Publisher) enqueue(j job) {
	select {
	case p.jobs <- j:
	default:
		p.dropped.Add(1)
	}
}

// drain processes jobs until Close, then flushes whatever is queued.
func (p *Publisher) drain() {
	defer p.wg.Done()
	for {
		select {
		case j := <-p.jobs:
			p.process(j)
		case <-p.done:
			for {
				select {
				case j := <-p.jobs:
					p.process(j)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) process(j job) {
	switch {
	case j.cycle != nil:
		p.publishCycle(*j.cycle)
		if j.cycle.State != sequence.CycleStarted {
			p.refreshAll(j.cycle.Panel)
		}
	case j.all:
		p.refreshAll(p.panels.Current().Name)
	default:
		p.refreshCell(j.panel, j.pos)
	}
}

func (p *Publisher) refreshAll(panelName string) {
	for _, pos := range p.grid.Positions() {
		p.refreshCell(panelName, pos)
	}
}

func (p *Publisher) refreshCell(panelName string, pos board.Position) {
	st, err := p.grid.Board(pos.Row, pos.Col)
	if err != nil {
		// Stale event for a position the current grid does not have.
		return
	}

	payload, err := json.Marshal(summarize(panelName, st))
	if err != nil {
		p.errored.Add(1)
		return
	}

	topic := p.topics.BoardStatus(panelName, pos.Row, pos.Col)
	if err := p.client.PublishRetained(topic, payload); err != nil {
		p.noteError("board status publish failed", topic, err)
		return
	}
	p.published.Add(1)
}

func (p *Publisher) publishCycle(event sequence.CycleEvent) {
	payload, err := json.Marshal(CycleStatus{CycleEvent: event, Timestamp: time.Now().UTC()})
	if err != nil {
		p.errored.Add(1)
		return
	}

	topic := p.topics.CycleEvent(string(event.State))
	if err := p.client.Publish(topic, payload, p.qos, false); err != nil {
		p.noteError("cycle event publish failed", topic, err)
		return
	}
	p.published.Add(1)
}

func (p *Publisher) noteError(msg, topic string, err error) {
	p.errored.Add(1)
	if errors.Is(err, mqtt.ErrNotConnected) {
		// The connect callback republishes the grid, so broker
		// outages heal without log spam.
		return
	}
	p.logger.Warn(msg, "topic", topic, "error", err)
}

// summarize builds the retained payload from one board snapshot.
func summarize(panelName string, st *board.BoardStatus) CellStatus {
	phase := st.CurrentPhase()
	return CellStatus{
		Panel:         panelName,
		Row:           st.Row,
		Col:           st.Col,
		CellID:        st.CellID(),
		Enabled:       st.Enabled,
		Phase:         phase,
		State:         st.State(phase),
		Display:       st.Display(phase),
		States:        st.States,
		FailurePhase:  st.FailurePhase,
		FailureReason: st.FailureReason,
		Passed:        st.Passed(),
		Timestamp:     time.Now().UTC(),
	}
}

// PublisherStats are cumulative counters since construction.
type PublisherStats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Errors    uint64 `json:"errors"`
}

// Stats returns a snapshot of the publisher's counters.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		Errors:    p.errored.Load(),
	}
}
