// Package programmer drives the external flashing tool (nrfutil-style)
// as run-to-completion subprocesses: identify reads and parses device
// information, Program executes the configured step sequence.
package programmer

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/nerrad567/benchline/internal/toolrunner"
)

// Recognised programming steps.
const (
	StepRecover = "recover"
	StepErase   = "erase"
	StepProgram = "program"
	StepVerify  = "verify"
	StepLock    = "lock"
)

// networkCoreSlot is the slot name that marks a dual-core part. When
// present, recover and erase run once per core and the slot's image is
// flashed with the network-core selector.
const networkCoreSlot = "network_core"

// Device-info output patterns. Parsing is best effort: identify
// succeeds on tool exit 0 even when a field is missing.
var (
	serialPattern   = regexp.MustCompile(`(?mi)^\s*serial number:?\s+(\S+)`)
	modelPattern    = regexp.MustCompile(`(?mi)^\s*device(?: type| version)?:?\s+(\S+)`)
	firmwarePattern = regexp.MustCompile(`(?mi)^\s*firmware(?: version)?:?\s+(.+?)\s*$`)
)

// Config describes the tool invocation.
type Config struct {
	// Binary is the flashing tool executable.
	Binary string

	// Device optionally pins the debug probe serial number when more
	// than one is attached.
	Device string

	// Timeout bounds one tool invocation. Zero means no per-invocation
	// bound beyond the caller's context.
	Timeout time.Duration

	// Steps is the ordered programming sequence.
	Steps []string

	// Slots maps firmware slot names to hex image paths. Slots are
	// flashed in sorted name order.
	Slots map[string]string
}

// Validate checks the configuration against the recognised vocabulary.
func (c Config) Validate() error {
	if c.Binary == "" {
		return fmt.Errorf("%w: binary is required", ErrInvalidConfig)
	}
	for _, step := range c.Steps {
		switch step {
		case StepRecover, StepErase, StepProgram, StepVerify, StepLock:
		default:
			return fmt.Errorf("%w: unknown step %q", ErrInvalidConfig, step)
		}
		if (step == StepProgram || step == StepVerify) && len(c.Slots) == 0 {
			return fmt.Errorf("%w: step %q needs at least one firmware slot", ErrInvalidConfig, step)
		}
	}
	return nil
}

// DeviceInfo is what identify parses from the tool's output.
type DeviceInfo struct {
	DeviceID string `json:"device_id,omitempty"`
	Model    string `json:"model,omitempty"`
	Firmware string `json:"firmware,omitempty"`
}

// Runner executes one external command. toolrunner.Runner satisfies
// it; tests substitute a scripted fake.
type Runner interface {
	Run(ctx context.Context, binary string, args ...string) (*toolrunner.Result, error)
}

// Logger defines the logging interface used by the Programmer.
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

// Programmer sequences flashing-tool invocations for one board.
type Programmer struct {
	cfg    Config
	tools  Runner
	logger Logger
}

// New creates a programmer.
//
// Parameters:
//   - cfg: Tool invocation settings (validated here)
//   - tools: Subprocess executor
//   - logger: Logger instance (nil for no logging)
func New(cfg Config, tools Runner, logger Logger) (*Programmer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Programmer{cfg: cfg, tools: tools, logger: logger}, nil
}

// Identify runs the tool's device-info command and parses the device
// identity from its output.
func (p *Programmer) Identify(ctx context.Context) (*DeviceInfo, error) {
	res, err := p.run(ctx, "device", "device-info")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrIdentifyFailed, failureDetail(res, err))
	}

	info := &DeviceInfo{}
	if m := serialPattern.FindStringSubmatch(res.Output); m != nil {
		info.DeviceID = m[1]
	}
	if m := modelPattern.FindStringSubmatch(res.Output); m != nil {
		info.Model = m[1]
	}
	if m := firmwarePattern.FindStringSubmatch(res.Output); m != nil {
		info.Firmware = m[1]
	}

	p.logger.Debug("device identified",
		"device_id", info.DeviceID, "model", info.Model, "firmware", info.Firmware)
	return info, nil
}

// Program executes the configured step sequence, stopping at the first
// failure. progress, when non-nil, receives a short description as
// each operation starts.
func (p *Programmer) Program(ctx context.Context, progress func(string)) error {
	if progress == nil {
		progress = func(string) {}
	}
	for _, step := range p.cfg.Steps {
		p.logger.Info("programming step", "step", step)
		if err := p.runStep(ctx, step, progress); err != nil {
			return err
		}
	}
	return nil
}

func (p *Programmer) runStep(ctx context.Context, step string, progress func(string)) error {
	switch step {
	case StepRecover:
		progress("Recovering device")
		if err := p.step(ctx, step, "device", "recover"); err != nil {
			return err
		}
		if p.dualCore() {
			progress("Recovering network core")
			return p.step(ctx, step, "device", "recover", "--core", "Network")
		}
		return nil

	case StepErase:
		progress("Erasing flash")
		if err := p.step(ctx, step, "device", "erase"); err != nil {
			return err
		}
		if p.dualCore() {
			progress("Erasing network core")
			return p.step(ctx, step, "device", "erase", "--core", "Network")
		}
		return nil

	case StepProgram:
		for _, slot := range p.slotNames() {
			progress(fmt.Sprintf("Programming %s", slot))
			args := []string{"device", "program", "--firmware", p.cfg.Slots[slot]}
			if slot == networkCoreSlot {
				args = append(args, "--core", "Network")
			}
			if err := p.step(ctx, step, args...); err != nil {
				return err
			}
		}
		progress("Resetting device")
		return p.step(ctx, step, "device", "reset")

	case StepVerify:
		for _, slot := range p.slotNames() {
			progress(fmt.Sprintf("Verifying %s", slot))
			args := []string{"device", "fw-verify", "--firmware", p.cfg.Slots[slot]}
			if slot == networkCoreSlot {
				args = append(args, "--core", "Network")
			}
			if err := p.step(ctx, step, args...); err != nil {
				return err
			}
		}
		return nil

	case StepLock:
		progress("Enabling readback protection")
		return p.step(ctx, step, "device", "protection-set", "All")
	}
	return fmt.Errorf("%w: unknown step %q", ErrInvalidConfig, step)
}

// step runs one tool invocation for a named step, mapping failure to
// ErrStepFailed with the tool's last output line.
func (p *Programmer) step(ctx context.Context, step string, args ...string) error {
	res, err := p.run(ctx, args...)
	if err != nil {
		return fmt.Errorf("%w: %s: %s", ErrStepFailed, step, failureDetail(res, err))
	}
	return nil
}

// run invokes the tool with the probe selector and per-invocation
// timeout applied.
func (p *Programmer) run(ctx context.Context, args ...string) (*toolrunner.Result, error) {
	if p.cfg.Device != "" {
		args = append(args, "--serial-number", p.cfg.Device)
	}
	runCtx := ctx
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}
	return p.tools.Run(runCtx, p.cfg.Binary, args...)
}

// slotNames returns the firmware slots in sorted order.
func (p *Programmer) slotNames() []string {
	names := make([]string, 0, len(p.cfg.Slots))
	for name := range p.cfg.Slots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// dualCore reports whether the configuration targets a dual-core part.
func (p *Programmer) dualCore() bool {
	_, ok := p.cfg.Slots[networkCoreSlot]
	return ok
}

// failureDetail condenses a failed invocation into one line for error
// messages and board failure reasons.
func failureDetail(res *toolrunner.Result, err error) string {
	if res != nil {
		if line := lastLine(res.Output); line != "" {
			return line
		}
	}
	return err.Error()
}

// lastLine returns the last non-empty trimmed line of output.
func lastLine(output string) string {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
