// Package influxdb provides InfluxDB connectivity for the benchline station.
//
// It wraps the official influxdb-client-go v2 library with the station's
// patterns for connection management, metric writing, and health monitoring.
//
// # Purpose
//
// This package handles time-series data storage for:
//   - Per-board phase durations (scan, probe, program, provision, test)
//   - Cycle summaries (boards passed/failed, total run time)
//
// Trend dashboards over these measurements surface slow drift in the
// bench hardware that individual pass/fail results hide.
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    Enabled: true,
//	    URL:     "http://localhost:8086",
//	    Token:   "your-token",
//	    Org:     "factory",
//	    Bucket:  "benchline",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WritePhaseDuration("relay8-v3", "program", "completed", 2, 5, 41.7)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered via a
// callback. Connection and health check errors are returned directly.
//
// # Performance
//
// Writes are batched according to config.yaml settings (batch_size,
// flush_interval). A full panel cycle produces a few dozen points, so the
// defaults are generous.
package influxdb
