package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-mbus/internal/workpool"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	WebSocket     WSMetrics        `json:"websocket"`
	MQTT          MQTTMetrics      `json:"mqtt"`
	Resources     ResourceMetrics  `json:"resources"`
	WorkerPool    *workpool.Stats  `json:"worker_pool,omitempty"`
	Database      *DatabaseMetrics `json:"database,omitempty"`
	Audit         AuditMetrics     `json:"audit"`
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

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Configured bool `json:"configured"`
	Connected  bool `json:"connected"`
}

// ResourceMetrics counts temporary resources held in the registry.
type ResourceMetrics struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// AuditMetrics reports audit entries dropped because the queue was full.
type AuditMetrics struct {
	Dropped uint64 `json:"dropped"`
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
		Resources: ResourceMetrics{
			Total:    s.scans.Count(),
			ByStatus: make(map[string]int),
		},
	}

	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{
			Configured: true,
			Connected:  s.mqtt.IsConnected(),
		}
	}

	for status, n := range s.scans.CountByStatus() {
		metrics.Resources.ByStatus[string(status)] = n
	}

	if s.pool != nil {
		stats := s.pool.Stats()
		metrics.WorkerPool = &stats
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	if s.audit != nil {
		metrics.Audit.Dropped = s.audit.Dropped()
	}

	writeJSON(w, http.StatusOK, metrics)
}
