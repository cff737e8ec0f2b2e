// Package provision executes scripted command/response exchanges
// against a target board's serial console.
//
// A provisioning script is an ordered list of steps. Each step may send
// a command (with {variable} substitution and escape decoding) and may
// await a response matching one of its expect patterns. Named capture
// groups feed a layered variable context, so values read from the board
// in one step can be written back in a later one.
//
// # Execution Pipeline
//
//  1. Evaluate the step's when-condition; false skips the step
//  2. Resolve and decode the send template, append the newline
//  3. Per attempt: reset the accumulator, drain stale lines, transmit
//  4. Feed response lines to the accumulator until a pattern matches
//     or the attempt deadline passes
//  5. Retry with a delay while attempts remain; classify the failure
//     (timeout vs no-match) when they run out
//  6. Apply the step's on-fail disposition: abort, skip or continue
//
// # Key Types
//
//   - Script / Step: YAML-defined exchange sequence with defaults
//   - Accumulator: prompt-stripping, noise-filtering match buffer
//   - Variables: layered variable context (captured > scan > custom > system)
//   - Engine: drives a Session through a Script, producing a Result
//   - Result / StepResult: full machine-readable outcome
//
// # Error Contract
//
// Execute returns a non-nil error only for context cancellation (the
// partial Result is returned alongside) or a script that fails to
// compile. Step failures, exhausted retries and transport death are
// expressed in the Result so the orchestrator can translate them into
// board state without unwrapping errors.
//
// # Thread Safety
//
// An Engine, its Session consumption, and a Variables context belong to
// one script run at a time. Nothing here is safe for concurrent use;
// the sequence orchestrator provides the single-task discipline.
package provision
