package rig

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// simDevice is the loopback board the simulated rig provisions. Every
// command line written to it is answered with the command echoed back
// plus an OK suffix, so a script can expect a literal OK or the echo of
// a resolved variable it sent.
type simDevice struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []byte // reply bytes waiting to be read
	partial []byte // written bytes awaiting a line terminator
	closed  bool
}

func newSimDevice() *simDevice {
	d := &simDevice{}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Read blocks until reply bytes are queued or the device is closed.
func (d *simDevice) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.pending) == 0 && !d.closed {
		d.cond.Wait()
	}
	if len(d.pending) == 0 {
		return 0, io.EOF
	}
	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

// Write queues one reply per complete command line. A partial line is
// held until its terminator arrives.
func (d *simDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, io.ErrClosedPipe
	}
	d.partial = append(d.partial, p...)
	for {
		i := bytes.IndexByte(d.partial, '\n')
		if i < 0 {
			break
		}
		cmd := strings.TrimSpace(string(d.partial[:i]))
		d.partial = d.partial[i+1:]
		d.pending = append(d.pending, simReply(cmd)...)
	}
	d.cond.Broadcast()
	return len(p), nil
}

// Close wakes any blocked reader with EOF. Safe to call more than once.
func (d *simDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.cond.Broadcast()
	return nil
}

// simReply builds the response for one command line.
func simReply(cmd string) []byte {
	if cmd == "" {
		return []byte("OK\r\n")
	}
	return []byte(cmd + " OK\r\n")
}
