// Package head drives the probe-head controller: the microcontroller
// that reports probe contact and switches board power and logic rails.
// The protocol is one command line, one reply line.
package head

import (
	"context"
	"fmt"
	"time"
)

// Protocol vocabulary.
const (
	cmdStat     = "Stat"
	cmdPowerOn  = "PowerOn"
	cmdPowerOff = "PowerOff"
	cmdLogicOn  = "LogicOn"
	cmdLogicOff = "LogicOff"
	cmdAllOff   = "AllOff"

	replyPresent = "PRESENT"
	replyClear   = "CLEAR"
	replyOK      = "OK"
	replyError   = "ERROR"
)

const defaultCommandTimeout = 2 * time.Second

// Session is the line transport to the controller. serialio.Session
// implements it.
type Session interface {
	Send(ctx context.Context, data []byte) error
	Lines() <-chan string
	Drain() int
}

// Logger defines the logging interface used by the Controller.
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

// Config holds controller settings.
type Config struct {
	// CommandTimeout bounds one command round trip. Zero selects the
	// default of two seconds.
	CommandTimeout time.Duration
}

// Controller sequences commands to the probe-head over its session.
//
// Commands are strictly one at a time; the orchestrator is the only
// caller, so no internal locking is needed.
type Controller struct {
	session Session
	timeout time.Duration
	logger  Logger
}

// NewController creates a controller over an open session.
//
// Parameters:
//   - session: Line transport to the head controller
//   - cfg: Controller settings
//   - logger: Logger instance (nil for no logging)
func NewController(session Session, cfg Config, logger Logger) *Controller {
	timeout := cfg.CommandTimeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Controller{
		session: session,
		timeout: timeout,
		logger:  logger,
	}
}

// ContactPresent asks the controller whether the probes are touching a
// board. Returns true for PRESENT, false for CLEAR.
func (c *Controller) ContactPresent(ctx context.Context) (bool, error) {
	reply, err := c.command(ctx, cmdStat, replyPresent, replyClear)
	if err != nil {
		return false, err
	}
	return reply == replyPresent, nil
}

// SetPower switches the board power rail.
func (c *Controller) SetPower(ctx context.Context, on bool) error {
	cmd := cmdPowerOff
	if on {
		cmd = cmdPowerOn
	}
	_, err := c.command(ctx, cmd, replyOK)
	return err
}

// SetLogic switches the board logic rail.
func (c *Controller) SetLogic(ctx context.Context, on bool) error {
	cmd := cmdLogicOff
	if on {
		cmd = cmdLogicOn
	}
	_, err := c.command(ctx, cmd, replyOK)
	return err
}

// AllOff drops every rail. Used between boards and on shutdown.
func (c *Controller) AllOff(ctx context.Context) error {
	_, err := c.command(ctx, cmdAllOff, replyOK)
	return err
}

// command drains stale replies, sends one command, and waits for one of
// the wanted replies. An ERROR reply fails immediately; other
// unexpected lines are logged and skipped until the timeout.
func (c *Controller) command(ctx context.Context, cmd string, want ...string) (string, error) {
	if n := c.session.Drain(); n > 0 {
		c.logger.Debug("drained stale replies", "command", cmd, "count", n)
	}

	if err := c.session.Send(ctx, []byte(cmd+"\n")); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %w", ErrTransport, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
			return "", fmt.Errorf("%w: %s", ErrTimeout, cmd)
		case line, ok := <-c.session.Lines():
			if !ok {
				return "", fmt.Errorf("%w: line channel closed", ErrTransport)
			}
			if line == replyError {
				return "", fmt.Errorf("%w: %s", ErrHardware, cmd)
			}
			for _, w := range want {
				if line == w {
					return line, nil
				}
			}
			c.logger.Debug("ignoring unexpected reply", "command", cmd, "reply", line)
		}
	}
}
