package rig

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/benchline/internal/infrastructure/config"
	"github.com/nerrad567/benchline/internal/panel"
	"github.com/nerrad567/benchline/internal/programmer"
	"github.com/nerrad567/benchline/internal/sequence"
)

// Simulation pacing and geometry. Dwells are sized so a full panel
// cycle finishes in a few seconds while the grid visibly steps through
// its phases.
const (
	// simTravelRate paces XY travel, in mm per second.
	simTravelRate = 400.0

	// simZRate paces Z moves, in mm per second.
	simZRate = 120.0

	// simSurfaceHeight is where the touch probe triggers, in mm below
	// home. The simulated panel is flat: every position probes the same.
	simSurfaceHeight = 36.0

	// simContactTolerance is how far past the trigger height the pins
	// must be compressed before contact reads PRESENT.
	simContactTolerance = 0.05

	// simParkY is the gantry rest position.
	simParkY = 300.0

	simMinDwell   = 5 * time.Millisecond
	simMaxDwell   = 150 * time.Millisecond
	simProbeDwell = 120 * time.Millisecond
	simSettle     = 10 * time.Millisecond
	simScanDwell  = 80 * time.Millisecond
	simIdentDwell = 60 * time.Millisecond
	simStepDwell  = 150 * time.Millisecond
)

// simState is the kinematic state the simulated gantry and head share.
// Z is absolute: 0 is the raised home position, negative is down.
type simState struct {
	mu      sync.Mutex
	x, y, z float64
	power   bool
	logic   bool
}

// contact is purely geometric: the pins read PRESENT once the head
// sits below the probe trigger height by more than the tolerance.
func (s *simState) contact() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.z < -(simSurfaceHeight + simContactTolerance)
}

// simMotion is a software gantry: moves take time proportional to
// distance and update the state the simulated head reads.
type simMotion struct {
	st     *simState
	logger Logger
}

func (m *simMotion) MoveTo(ctx context.Context, point panel.Point) error {
	m.st.mu.Lock()
	if m.st.z < 0 {
		m.logger.Warn("simulated gantry traveling with head lowered", "z", m.st.z)
	}
	dist := math.Hypot(point.X-m.st.x, point.Y-m.st.y)
	m.st.mu.Unlock()

	if err := sleepCtx(ctx, travelTime(dist, simTravelRate)); err != nil {
		return err
	}
	m.st.mu.Lock()
	m.st.x, m.st.y = point.X, point.Y
	m.st.mu.Unlock()
	m.logger.Debug("simulated gantry in position", "x", point.X, "y", point.Y)
	return nil
}

// Probe descends until the virtual touch probe triggers and raises the
// head again, reporting the trigger height.
func (m *simMotion) Probe(ctx context.Context) (float64, error) {
	if err := sleepCtx(ctx, simProbeDwell); err != nil {
		return 0, err
	}
	m.st.mu.Lock()
	m.st.z = 0
	m.st.mu.Unlock()
	return simSurfaceHeight, nil
}

func (m *simMotion) MoveZ(ctx context.Context, z float64) error {
	m.st.mu.Lock()
	dist := math.Abs(z - m.st.z)
	m.st.mu.Unlock()

	if err := sleepCtx(ctx, travelTime(dist, simZRate)); err != nil {
		return err
	}
	m.st.mu.Lock()
	m.st.z = z
	m.st.mu.Unlock()
	return nil
}

func (m *simMotion) Park(ctx context.Context) error {
	if err := m.MoveZ(ctx, 0); err != nil {
		return err
	}
	return m.MoveTo(ctx, panel.Point{X: 0, Y: simParkY})
}

// simHead is the software probe head. Contact tracks the simulated
// gantry height; the rails are plain booleans.
type simHead struct {
	st     *simState
	logger Logger
}

func (h *simHead) ContactPresent(ctx context.Context) (bool, error) {
	if err := sleepCtx(ctx, simSettle); err != nil {
		return false, err
	}
	return h.st.contact(), nil
}

func (h *simHead) SetPower(ctx context.Context, on bool) error {
	if err := sleepCtx(ctx, simSettle); err != nil {
		return err
	}
	h.st.mu.Lock()
	h.st.power = on
	h.st.mu.Unlock()
	h.logger.Debug("simulated power rail", "on", on)
	return nil
}

func (h *simHead) SetLogic(ctx context.Context, on bool) error {
	if err := sleepCtx(ctx, simSettle); err != nil {
		return err
	}
	h.st.mu.Lock()
	h.st.logic = on
	h.st.mu.Unlock()
	h.logger.Debug("simulated logic rail", "on", on)
	return nil
}

func (h *simHead) AllOff(ctx context.Context) error {
	if err := sleepCtx(ctx, simSettle); err != nil {
		return err
	}
	h.st.mu.Lock()
	h.st.power = false
	h.st.logic = false
	h.st.mu.Unlock()
	h.logger.Debug("simulated head dark")
	return nil
}

// simVision issues sequential serial numbers in place of label decodes.
// MissEvery forces periodic decode misses to exercise the no-identifier
// path; zero means every scan decodes.
type simVision struct {
	mu        sync.Mutex
	seq       int
	missEvery int
	logger    Logger
}

func (v *simVision) Scan(ctx context.Context, point panel.Point) (string, string, error) {
	if err := sleepCtx(ctx, simScanDwell); err != nil {
		return "", "", err
	}
	v.mu.Lock()
	v.seq++
	n := v.seq
	miss := v.missEvery > 0 && n%v.missEvery == 0
	v.mu.Unlock()

	if miss {
		v.logger.Debug("simulated scan decoded nothing", "x", point.X, "y", point.Y)
		return "", "", nil
	}
	id := fmt.Sprintf("SIM-%05d", n)
	v.logger.Debug("simulated scan decoded", "identifier", id)
	return id, "v1;sn=" + id, nil
}

// simProgrammer walks the configured step sequence without invoking a
// tool, reporting the same progress lines the real driver emits.
type simProgrammer struct {
	steps  []string
	slots  []string
	logger Logger

	mu  sync.Mutex
	seq int
}

func newSimProgrammer(cfg config.ProgrammerConfig, logger Logger) *simProgrammer {
	slots := make([]string, 0, len(cfg.Slots))
	for name := range cfg.Slots {
		slots = append(slots, name)
	}
	sort.Strings(slots)
	return &simProgrammer{
		steps:  append([]string(nil), cfg.Steps...),
		slots:  slots,
		logger: logger,
	}
}

func (p *simProgrammer) Identify(ctx context.Context) (sequence.DeviceInfo, error) {
	if err := sleepCtx(ctx, simIdentDwell); err != nil {
		return sequence.DeviceInfo{}, err
	}
	p.mu.Lock()
	p.seq++
	n := p.seq
	p.mu.Unlock()
	return sequence.DeviceInfo{
		DeviceID: fmt.Sprintf("%d", 960000000+n),
		Model:    "SIM-NRF5340",
		Firmware: "0.0.0+sim",
	}, nil
}

func (p *simProgrammer) Program(ctx context.Context, progress func(step string)) error {
	if progress == nil {
		progress = func(string) {}
	}
	emit := func(msg string) error {
		progress(msg)
		return sleepCtx(ctx, simStepDwell)
	}
	for _, step := range p.steps {
		var err error
		switch step {
		case programmer.StepRecover:
			err = emit("Recovering device")
		case programmer.StepErase:
			err = emit("Erasing flash")
		case programmer.StepProgram:
			for _, slot := range p.slots {
				if err = emit("Programming " + slot); err != nil {
					break
				}
			}
			if err == nil {
				err = emit("Resetting device")
			}
		case programmer.StepVerify:
			for _, slot := range p.slots {
				if err = emit("Verifying " + slot); err != nil {
					break
				}
			}
		case programmer.StepLock:
			err = emit("Enabling readback protection")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// travelTime converts a distance at a rate to a bounded dwell.
func travelTime(mm, rate float64) time.Duration {
	d := time.Duration(mm / rate * float64(time.Second))
	if d < simMinDwell {
		return simMinDwell
	}
	if d > simMaxDwell {
		return simMaxDwell
	}
	return d
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
