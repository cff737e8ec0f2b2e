// Package panel loads panel definitions: the YAML documents describing
// a panel variant's board grid, physical layout, script variables, and
// the provisioning and test scripts run against each board.
//
// A definition is validated and its scripts compiled at load time, so
// a bad regex or condition is caught before a cycle ever starts. Store
// wraps a definition with atomic reload for operator-triggered panel
// changes between cycles.
package panel
