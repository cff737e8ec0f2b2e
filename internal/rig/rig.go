package rig

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/benchline/internal/head"
	"github.com/nerrad567/benchline/internal/infrastructure/config"
	"github.com/nerrad567/benchline/internal/programmer"
	"github.com/nerrad567/benchline/internal/provision"
	"github.com/nerrad567/benchline/internal/sequence"
	"github.com/nerrad567/benchline/internal/serialio"
	"github.com/nerrad567/benchline/internal/toolrunner"
)

// Logger defines the logging interface used by the rig.
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

// Options carries collaborator overrides into Build. A nil field
// selects the built-in implementation for the configured mode.
type Options struct {
	// Motion replaces the gantry driver.
	Motion sequence.Motion

	// Vision replaces the label scanner.
	Vision sequence.Vision
}

// Rig is the assembled collaborator set for one bench station. The
// fields hand straight to sequence.Options.
type Rig struct {
	Motion     sequence.Motion
	Vision     sequence.Vision
	Head       sequence.Head
	Programmer sequence.Programmer
	Runner     sequence.ScriptRunner

	target  *serialio.Session
	headSes *serialio.Session
	logger  Logger
}

// Build assembles the rig for the configured mode.
//
// Parameters:
//   - cfg: Station configuration (mode, ports, programmer tool)
//   - opts: Collaborator overrides (zero value for the defaults)
//   - logger: Logger instance (nil for no logging)
//
// Returns:
//   - *Rig: Assembled collaborators, ready for the orchestrator
//   - error: If a serial port cannot be opened or the programmer
//     configuration is invalid
func Build(cfg *config.Config, opts Options, logger Logger) (*Rig, error) {
	if cfg == nil {
		return nil, errors.New("rig: config is required")
	}
	if logger == nil {
		logger = noopLogger{}
	}
	if cfg.Station.Simulation {
		return buildSimulated(cfg, opts, logger), nil
	}
	return buildHardware(cfg, opts, logger)
}

// buildSimulated wires the in-memory stand-ins. The provisioning engine
// and its serial session are the real ones, running against a loopback
// target device, so scripts behave exactly as they do on hardware.
func buildSimulated(cfg *config.Config, opts Options, logger Logger) *Rig {
	st := &simState{}
	target := serialio.New("target", newSimDevice(), serialio.Options{
		QueueSize: cfg.Serial.Target.QueueSize,
	})
	target.SetLogger(logger)
	target.Start()

	r := &Rig{
		Motion:     opts.Motion,
		Vision:     opts.Vision,
		Head:       &simHead{st: st, logger: logger},
		Programmer: newSimProgrammer(cfg.Programmer, logger),
		Runner:     provision.NewEngine(target, logger),
		target:     target,
		logger:     logger,
	}
	if r.Motion == nil {
		r.Motion = &simMotion{st: st, logger: logger}
	}
	if r.Vision == nil {
		r.Vision = &simVision{logger: logger}
	}

	logger.Info("simulated rig assembled", "station", cfg.Station.Name)
	return r
}

// buildHardware opens the configured serial ports and wires the real
// head controller, flashing tool and provisioning engine. Motion and
// vision fall back to the simulated implementations until a gantry or
// camera integration is attached through Options.
func buildHardware(cfg *config.Config, opts Options, logger Logger) (*Rig, error) {
	target, err := serialio.Open("target", portConfig(cfg.Serial.Target))
	if err != nil {
		return nil, fmt.Errorf("opening target port: %w", err)
	}
	target.SetLogger(logger)

	headSes, err := serialio.Open("head", portConfig(cfg.Serial.Head))
	if err != nil {
		target.Close() //nolint:errcheck // Close never fails
		return nil, fmt.Errorf("opening head port: %w", err)
	}
	headSes.SetLogger(logger)

	tools := toolrunner.New(toolrunner.Config{}, logger)
	prog, err := programmer.New(programmer.Config{
		Binary:  cfg.Programmer.Binary,
		Device:  cfg.Programmer.Device,
		Timeout: cfg.GetProgrammerTimeout(),
		Steps:   cfg.Programmer.Steps,
		Slots:   cfg.Programmer.Slots,
	}, tools, logger)
	if err != nil {
		target.Close()  //nolint:errcheck // Close never fails
		headSes.Close() //nolint:errcheck // Close never fails
		return nil, fmt.Errorf("configuring programmer: %w", err)
	}

	r := &Rig{
		Motion:     opts.Motion,
		Vision:     opts.Vision,
		Head:       head.NewController(headSes, head.Config{CommandTimeout: cfg.GetCommandTimeout()}, logger),
		Programmer: &toolProgrammer{tool: prog},
		Runner:     provision.NewEngine(target, logger),
		target:     target,
		headSes:    headSes,
		logger:     logger,
	}
	if r.Motion == nil {
		r.Motion = &simMotion{st: &simState{}, logger: logger}
		logger.Warn("no gantry driver attached, motion is simulated")
	}
	if r.Vision == nil {
		r.Vision = &simVision{logger: logger}
		logger.Warn("no scanner attached, vision is simulated")
	}

	logger.Info("hardware rig assembled",
		"station", cfg.Station.Name,
		"target", cfg.Serial.Target.Device,
		"head", cfg.Serial.Head.Device,
		"programmer", cfg.Programmer.Binary)
	return r, nil
}

// Close releases the serial links. Safe on a simulated rig and safe to
// call more than once.
func (r *Rig) Close() error {
	var errs []error
	if r.target != nil {
		errs = append(errs, r.target.Close())
	}
	if r.headSes != nil {
		errs = append(errs, r.headSes.Close())
	}
	return errors.Join(errs...)
}

// portConfig maps one configured port to the serial transport settings.
func portConfig(p config.SerialPortConfig) serialio.Config {
	return serialio.Config{
		Device:    p.Device,
		Baud:      p.Baud,
		QueueSize: p.QueueSize,
	}
}

// toolProgrammer adapts the flashing tool driver to the orchestrator's
// programmer contract, flattening the pointer device info.
type toolProgrammer struct {
	tool *programmer.Programmer
}

func (t *toolProgrammer) Identify(ctx context.Context) (sequence.DeviceInfo, error) {
	info, err := t.tool.Identify(ctx)
	if err != nil {
		return sequence.DeviceInfo{}, err
	}
	return sequence.DeviceInfo{
		DeviceID: info.DeviceID,
		Model:    info.Model,
		Firmware: info.Firmware,
	}, nil
}

func (t *toolProgrammer) Program(ctx context.Context, progress func(step string)) error {
	return t.tool.Program(ctx, progress)
}
