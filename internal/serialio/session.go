package serialio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Session tuning constants.
const (
	// defaultQueueSize is the line channel buffer when Options.QueueSize is zero.
	defaultQueueSize = 256

	// readChunkSize is the size of the read buffer for incoming bytes.
	readChunkSize = 256

	// maxLineBytes caps the pending buffer when a device never sends a
	// newline. The partial content is flushed as a line rather than
	// growing without bound.
	maxLineBytes = 4096
)

// Options configures a Session.
type Options struct {
	// QueueSize is the line channel buffer size. Default: 256.
	QueueSize int
}

// Stats holds operational statistics for a session.
type Stats struct {
	LinesRx      uint64
	LinesDropped uint64 // Lines dropped due to full channel
	BytesTx      uint64
	ErrorsTotal  uint64
	LastActivity time.Time
	Open         bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Session is a line-oriented conversation with one serial device.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Lines are delivered in arrival order on a single channel.
type Session struct {
	name string
	rwc  io.ReadWriteCloser

	lines chan string

	// Shutdown coordination (closeOnce prevents double-close panics)
	done *closeOnce
	wg   sync.WaitGroup

	// Serialises writes so interleaved commands stay intact
	writeMu sync.Mutex

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	linesRx      atomic.Uint64
	linesDropped atomic.Uint64
	bytesTx      atomic.Uint64
	errorsTotal  atomic.Uint64
	lastActivity atomic.Int64 // Unix timestamp
	open         atomic.Bool
}

// New creates a session over the given transport.
//
// The session does not read until Start is called. Tests and the
// simulated rig pass an in-memory pipe; hardware callers should use
// Open instead.
//
// Parameters:
//   - name: Device name used in logs (e.g. "target", "head")
//   - rwc: Underlying byte transport
//   - opts: Session options
//
// Returns:
//   - *Session: Session ready to Start
func New(name string, rwc io.ReadWriteCloser, opts Options) *Session {
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	return &Session{
		name:  name,
		rwc:   rwc,
		lines: make(chan string, queueSize),
		done:  newCloseOnce(),
	}
}

// Start launches the background reader goroutine.
// Must be called exactly once before consuming Lines.
func (s *Session) Start() {
	s.open.Store(true)
	s.wg.Add(1)
	go s.readLoop()
}

// Lines returns the channel of decoded lines.
//
// Each line is whitespace-trimmed; empty lines are dropped. The channel
// is closed when the transport dies or the session is closed, so a
// consumer blocked on it always observes shutdown.
func (s *Session) Lines() <-chan string {
	return s.lines
}

// Send writes raw bytes to the device.
//
// Parameters:
//   - ctx: Checked before the write; an in-flight write is not interrupted
//   - data: Bytes to transmit
//
// Returns:
//   - error: ErrClosed if the session is closed, ErrWriteFailed on I/O error
func (s *Session) Send(ctx context.Context, data []byte) error {
	if s.isClosed() {
		return ErrClosed
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrWriteFailed, ctx.Err())
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.rwc.Write(data); err != nil {
		s.errorsTotal.Add(1)
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	s.bytesTx.Add(uint64(len(data)))
	s.lastActivity.Store(time.Now().Unix())
	return nil
}

// SendLine sends a command string, appending a newline unless the
// string already ends with one.
func (s *Session) SendLine(ctx context.Context, line string) error {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	return s.Send(ctx, []byte(line))
}

// Drain discards all lines currently queued and returns how many were
// discarded. Used before sending a command so stale output from a
// previous exchange cannot satisfy the next expectation.
func (s *Session) Drain() int {
	n := 0
	for {
		select {
		case _, ok := <-s.lines:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}

// Close shuts the session down.
//
// It signals the reader to stop and closes the underlying transport,
// which unblocks any pending read. Safe to call multiple times.
//
// Returns:
//   - error: nil (closing is best-effort)
func (s *Session) Close() error {
	s.done.Close()
	s.open.Store(false)

	// Unblocks the reader; its exit closes the line channel
	s.rwc.Close() //nolint:errcheck // Best effort, reader observes the close

	s.wg.Wait()
	s.logDebug("session closed")
	return nil
}

// IsOpen returns true while the reader is running.
func (s *Session) IsOpen() bool {
	return s.open.Load()
}

// Name returns the device name given at construction.
func (s *Session) Name() string {
	return s.name
}

// Stats returns current operational statistics.
func (s *Session) Stats() Stats {
	return Stats{
		LinesRx:      s.linesRx.Load(),
		LinesDropped: s.linesDropped.Load(),
		BytesTx:      s.bytesTx.Load(),
		ErrorsTotal:  s.errorsTotal.Load(),
		LastActivity: time.Unix(s.lastActivity.Load(), 0),
		Open:         s.open.Load(),
	}
}

// SetLogger sets the logger for this session.
func (s *Session) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// readLoop continuously decodes lines from the transport.
// It owns the line channel: the deferred close is the only close, so
// both transport death and Close() surface as a closed channel.
func (s *Session) readLoop() {
	defer s.wg.Done()
	defer close(s.lines)
	defer s.open.Store(false)

	buf := make([]byte, readChunkSize)
	var pending []byte

	for {
		n, err := s.rwc.Read(buf)
		if n > 0 {
			pending = s.consume(pending, buf[:n])
		}
		if err != nil {
			if !s.isClosed() {
				s.errorsTotal.Add(1)
				s.logWarn("reader stopped", "error", err)
			}
			return
		}
	}
}

// consume appends raw bytes to the pending buffer and delivers every
// complete line found in it. Returns the remaining partial line.
func (s *Session) consume(pending, data []byte) []byte {
	pending = append(pending, data...)

	for {
		i := bytes.IndexByte(pending, '\n')
		if i < 0 {
			break
		}
		s.deliver(string(pending[:i]))
		pending = pending[i+1:]
	}

	// Devices that stop sending newlines must not grow the buffer forever
	if len(pending) > maxLineBytes {
		s.deliver(string(pending))
		pending = pending[:0]
	}

	return pending
}

// deliver trims a decoded line and pushes it into the channel.
// A full channel drops the line rather than blocking the reader.
// LinesRx is incremented last so anyone polling stats sees the line
// already queued (or dropped) once the count moves.
func (s *Session) deliver(raw string) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return
	}

	s.lastActivity.Store(time.Now().Unix())

	select {
	case s.lines <- line:
	default:
		s.linesDropped.Add(1)
		s.logWarn("line channel full, dropping line", "device", s.name)
	}

	s.linesRx.Add(1)
}

// isClosed returns true if the session has been closed.
func (s *Session) isClosed() bool {
	select {
	case <-s.done.Done():
		return true
	default:
		return false
	}
}

// logDebug logs a debug message if logger is set.
func (s *Session) logDebug(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logWarn logs a warning message if logger is set.
func (s *Session) logWarn(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}
