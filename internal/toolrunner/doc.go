// Package toolrunner executes external command-line tools to
// completion with combined output capture.
//
// Unlike a long-lived process supervisor there is no restart logic:
// a flashing-tool invocation is finite by nature, and the interesting
// lifecycle concern is the other direction - ending a tool that
// outlives its welcome. Each invocation runs in its own process group;
// cancellation sends SIGTERM to the group and escalates to SIGKILL
// after a graceful timeout, so a wedged tool (and any children) cannot
// hold the station hostage.
package toolrunner
