package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePhaseDuration records how long one pipeline phase took for one board.
//
// The write is non-blocking; data is batched and sent asynchronously.
// Result is the terminal state of the phase ("completed", "failed",
// "skipped", "interrupted"). Row and col are recorded as fields rather
// than tags to keep series cardinality down on large panels.
//
// Example:
//
//	client.WritePhaseDuration("relay8-v3", "provision", "completed", 2, 5, 12.4)
func (c *Client) WritePhaseDuration(panel, phase, result string, row, col int, seconds float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"phase_duration",
		map[string]string{
			"panel":  panel,
			"phase":  phase,
			"result": result,
		},
		map[string]interface{}{
			"seconds": seconds,
			"row":     row,
			"col":     col,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteCycleSummary records the outcome of one full cycle or retry run.
//
// Result is "completed" or "cancelled". Passed and failed count boards;
// duration covers the whole run including head parking.
//
// Example:
//
//	client.WriteCycleSummary("relay8-v3", "completed", 7, 1, 312.8)
func (c *Client) WriteCycleSummary(panel, result string, passed, failed int, seconds float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"cycle_summary",
		map[string]string{
			"panel":  panel,
			"result": result,
		},
		map[string]interface{}{
			"passed":  passed,
			"failed":  failed,
			"seconds": seconds,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("station_stats",
//	    map[string]string{"station": "bench-01"},
//	    map[string]interface{}{"cycles_started": 42, "boards_failed": 3})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., backfilled data).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
