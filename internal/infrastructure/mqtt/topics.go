package mqtt

import "fmt"

// DefaultTopicPrefix is the root of the benchline topic tree when the
// config does not override it.
const DefaultTopicPrefix = "benchline"

// Topics builds benchline MQTT topic strings. Using these helpers keeps
// topic naming consistent between the station, dashboards, and any line
// controller that drives the bench remotely.
//
// The topic tree:
//
//	benchline/status/{panel}/{row}/{col}   retained per-board status
//	benchline/cycle/{event}                cycle lifecycle events
//	benchline/command/{station}/{verb}     remote control (start/cancel/retry)
//	benchline/command/{station}/ack        command acknowledgements
//	benchline/system/status                station online/offline (LWT)
//
// A zero Topics value uses DefaultTopicPrefix:
//
//	topics := mqtt.Topics{}
//	statusTopic := topics.BoardStatus("relay8-v3", 2, 5)
//	// Returns: "benchline/status/relay8-v3/2/5"
type Topics struct {
	// Prefix overrides the topic root, normally from mqtt.topic_prefix.
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// =============================================================================
// Status Topics
// =============================================================================

// BoardStatus returns the retained status topic for one board position.
//
// Example: benchline/status/relay8-v3/2/5
func (t Topics) BoardStatus(panel string, row, col int) string {
	return fmt.Sprintf("%s/status/%s/%d/%d", t.prefix(), panel, row, col)
}

// CycleEvent returns the topic for one cycle lifecycle event.
//
// Example: benchline/cycle/completed
func (t Topics) CycleEvent(event string) string {
	return fmt.Sprintf("%s/cycle/%s", t.prefix(), event)
}

// =============================================================================
// Command Topics
// =============================================================================

// CommandStart returns the topic a line controller publishes to start a
// full-panel cycle on the named station.
//
// Example: benchline/command/bench-01/start
func (t Topics) CommandStart(station string) string {
	return fmt.Sprintf("%s/command/%s/start", t.prefix(), station)
}

// CommandCancel returns the topic for cancelling the running cycle.
//
// Example: benchline/command/bench-01/cancel
func (t Topics) CommandCancel(station string) string {
	return fmt.Sprintf("%s/command/%s/cancel", t.prefix(), station)
}

// CommandRetry returns the topic for retrying a single board.
//
// Example: benchline/command/bench-01/retry
func (t Topics) CommandRetry(station string) string {
	return fmt.Sprintf("%s/command/%s/retry", t.prefix(), station)
}

// CommandAck returns the topic the station answers commands on.
//
// Example: benchline/command/bench-01/ack
func (t Topics) CommandAck(station string) string {
	return fmt.Sprintf("%s/command/%s/ack", t.prefix(), station)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the station status topic. The LWT and the graceful
// shutdown message both land here, retained.
//
// Example: benchline/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.prefix())
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllBoardStatus returns a pattern matching every board position of one
// panel type. Dashboards subscribe here to render the whole grid.
//
// Pattern: benchline/status/relay8-v3/+/+
func (t Topics) AllBoardStatus(panel string) string {
	return fmt.Sprintf("%s/status/%s/+/+", t.prefix(), panel)
}

// AllStatus returns a pattern matching board status for every panel type.
//
// Pattern: benchline/status/#
func (t Topics) AllStatus() string {
	return fmt.Sprintf("%s/status/#", t.prefix())
}

// AllCycleEvents returns a pattern matching all cycle lifecycle events.
//
// Pattern: benchline/cycle/+
func (t Topics) AllCycleEvents() string {
	return fmt.Sprintf("%s/cycle/+", t.prefix())
}

// AllCommands returns a pattern matching every command verb for one
// station, including the ack topic. The command listener filters the ack
// topic out itself.
//
// Pattern: benchline/command/bench-01/+
func (t Topics) AllCommands(station string) string {
	return fmt.Sprintf("%s/command/%s/+", t.prefix(), station)
}

// AllTopics returns a pattern matching the entire benchline tree.
// Use with caution, this receives ALL traffic.
//
// Pattern: benchline/#
func (t Topics) AllTopics() string {
	return fmt.Sprintf("%s/#", t.prefix())
}
