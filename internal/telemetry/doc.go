// Package telemetry bridges sequence events onto the station's
// external sinks: retained MQTT status topics, cycle event topics and
// the InfluxDB metrics backend. It also hosts the command listener
// that lets a line controller start, cancel and retry cycles over
// MQTT instead of HTTP.
//
// Every observer implements sequence.Notifier and decouples itself
// from the sequencing goroutine. The Publisher hands work to a
// buffered queue drained by its own goroutine; the Recorder writes
// through the influx client's async batcher. A slow broker or metrics
// backend never stalls a cycle.
//
// The retained status topics carry full cell summaries, not deltas.
// The Publisher re-reads the grid for every refresh, so the retained
// message is always the cell's canonical current state and a
// dashboard that subscribes mid-cycle needs no catch-up protocol.
package telemetry
