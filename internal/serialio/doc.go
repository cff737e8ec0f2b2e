// Package serialio provides line-oriented sessions over serial devices.
//
// A Session owns one physical device (the target board's console or the
// test head's control port) and runs a background reader that decodes
// the byte stream into trimmed lines. Lines are delivered through a
// bounded channel; consumers select on Lines() alongside their own
// timers and contexts. When the channel buffer is full the incoming
// line is dropped and counted rather than blocking the reader.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Exactly one goroutine should consume Lines() at a time; the
//     provisioning engine is that consumer during a cycle.
//
// Transport death (device unplugged, port error) closes the line
// channel. Consumers observe the close and treat it as a fatal
// transport failure rather than a timeout.
//
// Hardware ports are opened with Open (go.bug.st/serial underneath).
// Tests and the simulated rig inject any io.ReadWriteCloser via New.
package serialio
