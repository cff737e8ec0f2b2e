package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/benchline/internal/board"
	"github.com/nerrad567/benchline/internal/sequence"
	"github.com/nerrad567/benchline/internal/telemetry"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string                    `json:"timestamp"`
	Version       string                    `json:"version"`
	UptimeSeconds int64                     `json:"uptime_seconds"`
	Runtime       RuntimeMetrics            `json:"runtime"`
	WebSocket     WSMetrics                 `json:"websocket"`
	Cycle         CycleMetrics              `json:"cycle"`
	Grid          board.Tally               `json:"grid"`
	MQTT          *MQTTMetrics              `json:"mqtt,omitempty"`
	Telemetry     *telemetry.PublisherStats `json:"telemetry,omitempty"`
	Database      *DatabaseMetrics          `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// CycleMetrics contains sequencing statistics and the live cycle state.
type CycleMetrics struct {
	Active         bool   `json:"active"`
	CurrentCycleID string `json:"current_cycle_id,omitempty"`
	sequence.Stats
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Cycle: CycleMetrics{
			Active:         s.control.Active(),
			CurrentCycleID: s.control.CurrentCycleID(),
			Stats:          s.control.Stats(),
		},
		Grid: s.grid.Tally(),
	}

	// MQTT connectivity (if the broker is configured)
	if s.broker != nil {
		metrics.MQTT = &MQTTMetrics{
			Connected: s.broker.IsConnected(),
		}
	}

	// Retained-status publisher counters (if telemetry is running)
	if s.telemetry != nil {
		stats := s.telemetry.Stats()
		metrics.Telemetry = &stats
	}

	// Database pool stats (if available)
	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
