package serialio

import (
	"fmt"

	"go.bug.st/serial"
)

// Config describes a physical serial port.
// These map to the serial section of config.yaml.
type Config struct {
	// Device is the port path, e.g. /dev/ttyUSB0.
	Device string

	// Baud is the line speed. 8N1 framing is assumed; every device on
	// the bench speaks it.
	Baud int

	// QueueSize is the line channel buffer size. Default: 256.
	QueueSize int
}

// Open opens the physical device and returns a started session.
//
// Whatever the device emitted before we attached (boot banners, prompt
// noise) is flushed from the OS buffer so the first exchange starts
// clean.
//
// Parameters:
//   - name: Device name used in logs (e.g. "target", "head")
//   - cfg: Port configuration
//
// Returns:
//   - *Session: Started session
//   - error: ErrOpenFailed if the port cannot be opened
func Open(name string, cfg Config) (*Session, error) {
	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailed, cfg.Device, err)
	}

	port.ResetInputBuffer() //nolint:errcheck // Best effort, not all platforms support it

	s := New(name, port, Options{QueueSize: cfg.QueueSize})
	s.Start()
	return s, nil
}
