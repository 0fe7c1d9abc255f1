package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/devicelink/internal/manager"
	"github.com/nerrad567/devicelink/internal/task"
)

// SystemStatus is the response of GET /status.
type SystemStatus struct {
	Timestamp     string             `json:"timestamp"`
	Version       string             `json:"version"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Connection    ConnectionResponse `json:"connection"`
	ReceiveLoop   *task.Stats        `json:"receive_loop,omitempty"`
	Messages      manager.Stats      `json:"messages"`
	Devices       int                `json:"devices"`
	Runtime       RuntimeMetrics     `json:"runtime"`
	WebSocket     WSMetrics          `json:"websocket"`
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
	ConnectedClients int    `json:"connected_clients"`
	EventsDelivered  uint64 `json:"events_delivered"`
	EventsDropped    uint64 `json:"events_dropped"`
}

// handleStatus returns the connection, receive loop and message counters.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	status := SystemStatus{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Connection:    s.connectionResponse(),
		Messages:      s.manager.Stats(),
		Devices:       len(s.manager.Devices()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
			EventsDelivered:  s.hub.Delivered(),
			EventsDropped:    s.hub.Dropped(),
		},
	}
	if loop, ok := s.manager.ReceiveLoop(); ok {
		status.ReceiveLoop = &loop
	}

	writeJSON(w, http.StatusOK, status)
}
