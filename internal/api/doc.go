// Package api implements the HTTP REST API and WebSocket server for
// the benchline station.
//
// This package provides:
//   - REST endpoints for cycle control, grid inspection, board
//     enable/disable/retry, panel reload, cycle history and the audit
//     trail
//   - WebSocket hub for real-time board and cycle event broadcasts
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The API server sits between the operator UI (bench touchscreen,
// browser dashboards) and the sequencing core. Commands flow from the
// API into the orchestrator; board and cycle progress flows back
// through the orchestrator's notifier fan-out, which the WebSocket hub
// implements so connected clients see every state change as it
// happens.
//
// # Graceful Degradation
//
// The server operates without the optional dependencies. Without an
// audit repository, actions simply are not recorded; without a
// database handle, the metrics endpoint omits pool statistics. Cycle
// control and the live grid always work.
package api
